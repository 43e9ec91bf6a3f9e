package server

import (
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"os"

	"go.uber.org/zap"

	"copycat/internal/logging"
)

type disposition string

const (
	dispositionAttachment disposition = "attachment"
	dispositionInline     disposition = "inline"
)

// openStored opens a stored regular file by name. fs.ErrNotExist covers
// every name that does not resolve to one.
func (s *Server) openStored(name string) (*os.File, os.FileInfo, error) {
	path, err := s.store.Path(name)
	if err != nil {
		return nil, nil, fs.ErrNotExist
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, nil, fs.ErrNotExist
	}
	return f, info, nil
}

// downloadHandler serves GET /uploads/{name} and GET /inline/{name}. Range
// and conditional requests are handled by http.ServeContent.
func (s *Server) downloadHandler(d disposition) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")

		f, info, err := s.openStored(name)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logging.WithContext(r.Context()).Error("open_stored_failed",
					zap.String("file", name),
					zap.Error(err),
				)
				http.Error(w, "Unable to read file", http.StatusInternalServerError)
				return
			}
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		defer func() { _ = f.Close() }()

		w.Header().Set("Content-Disposition", mime.FormatMediaType(string(d), map[string]string{"filename": name}))
		http.ServeContent(w, r, name, info.ModTime(), f)
	})
}
