package server

import (
	_ "embed"
	"net/http"

	"go.uber.org/zap"

	"copycat/internal/lan"
	"copycat/internal/logging"
)

//go:embed web/index.html
var indexPage []byte

// indexHandler handles GET /.
func (s *Server) indexHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", noStore)
		_, _ = w.Write(indexPage)
	})
}

// qrHandler handles GET /qr.png: a QR code of the address other devices on
// the network should open.
func (s *Server) qrHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := s.cfg.LANURL
		if target == "" {
			target = s.externalBase(r)
		}

		png, err := lan.QRPNG(target)
		if err != nil {
			logging.WithContext(r.Context()).Error("qr_encode_failed", zap.String("url", target), zap.Error(err))
			http.Error(w, "Unable to render QR code", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write(png)
	})
}
