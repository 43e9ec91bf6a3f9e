// compression.go - gzip for text responses.
//
// File bytes, archives, the websocket endpoint and the metrics scrape (which
// negotiates its own encoding) are passed through untouched.
package server

import (
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

type compressionResponseWriter struct {
	http.ResponseWriter
	gz          *gzip.Writer
	decided     bool
	compressing bool
}

func (crw *compressionResponseWriter) decide() {
	if crw.decided {
		return
	}
	crw.decided = true

	h := crw.Header()
	if h.Get("Content-Encoding") != "" || !compressibleType(h.Get("Content-Type")) {
		return
	}
	crw.compressing = true
	h.Set("Content-Encoding", "gzip")
	h.Add("Vary", "Accept-Encoding")
	h.Del("Content-Length")
	crw.gz = gzip.NewWriter(crw.ResponseWriter)
}

func (crw *compressionResponseWriter) WriteHeader(code int) {
	if code != http.StatusNoContent && code != http.StatusNotModified {
		crw.decide()
	} else {
		crw.decided = true
	}
	crw.ResponseWriter.WriteHeader(code)
}

func (crw *compressionResponseWriter) Write(b []byte) (int, error) {
	if !crw.decided {
		if crw.Header().Get("Content-Type") == "" {
			crw.Header().Set("Content-Type", http.DetectContentType(b))
		}
		crw.decide()
	}
	if crw.compressing {
		return crw.gz.Write(b)
	}
	return crw.ResponseWriter.Write(b)
}

func (crw *compressionResponseWriter) Flush() {
	if crw.compressing {
		_ = crw.gz.Flush()
	}
	if f, ok := crw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (crw *compressionResponseWriter) close() {
	if crw.compressing {
		_ = crw.gz.Close()
	}
}

// compressionMiddleware compresses text responses for clients that accept gzip.
func compressionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !acceptsCompression(r) || shouldSkipCompression(r) {
			next.ServeHTTP(w, r)
			return
		}

		crw := &compressionResponseWriter{ResponseWriter: w}
		defer crw.close()
		next.ServeHTTP(crw, r)
	})
}

// acceptsCompression checks if the client accepts gzip encoding.
func acceptsCompression(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept-Encoding"), "gzip")
}

// shouldSkipCompression determines if compression should be skipped for this request.
func shouldSkipCompression(r *http.Request) bool {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/uploads/"), strings.HasPrefix(path, "/inline/"):
		return true
	case path == "/archive", path == "/ws", path == "/metrics", path == "/qr.png":
		return true
	}
	return r.Method == http.MethodHead
}

func compressibleType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "text/") ||
		strings.HasPrefix(ct, "application/json") ||
		strings.HasPrefix(ct, "application/javascript") ||
		strings.HasPrefix(ct, "image/svg+xml")
}
