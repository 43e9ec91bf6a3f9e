package server

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"copycat/internal/db"
	"copycat/internal/logging"
	"copycat/internal/metrics"
)

// uploadHandler handles POST / multipart uploads. Every part named "file"
// with a filename is streamed to disk under a unique name; the store lock is
// held only to reserve and to publish each file.
func (s *Server) uploadHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.WithContext(r.Context())
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

		mr, err := r.MultipartReader()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"status": statusError,
				"error":  "Expected multipart form data",
			})
			return
		}

		saved := make([]string, 0, 1)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				s.uploadFailed(w, r, err, http.StatusBadRequest)
				return
			}

			filename := rawFilename(part.Header.Get("Content-Disposition"))
			if part.FormName() != "file" || filename == "" {
				_ = part.Close()
				continue
			}

			up, err := s.store.Begin(filename)
			if err != nil {
				_ = part.Close()
				log.Error("upload_reserve_failed", zap.Error(err))
				s.uploadFailed(w, r, err, http.StatusInternalServerError)
				return
			}

			n, err := up.ReadFrom(part)
			_ = part.Close()
			if err != nil {
				up.Abort()
				metrics.RecordUpload("form", n, false)
				s.uploadFailed(w, r, err, http.StatusBadRequest)
				return
			}
			if err := up.Commit(); err != nil {
				metrics.RecordUpload("form", n, false)
				log.Error("upload_commit_failed", zap.String("file", up.Name()), zap.Error(err))
				s.uploadFailed(w, r, err, http.StatusInternalServerError)
				return
			}

			metrics.RecordUpload("form", n, true)
			log.Info("uploaded_file_saved",
				zap.String("file", up.Name()),
				zap.Int64("bytes", n),
				zap.String("ip", getClientIP(r)),
			)
			s.record(r, db.ActionFileUpload, up.Name(), true, "")
			saved = append(saved, up.Name())
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"status": statusSuccess,
			"files":  saved,
		})
	})
}

// rawFilename returns the filename parameter as the client sent it;
// multipart.Part.FileName drops any directories before SecureFilename sees them.
func rawFilename(contentDisposition string) string {
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

// uploadFailed maps a transfer error to a response. Files committed before
// the failure are kept.
func (s *Server) uploadFailed(w http.ResponseWriter, r *http.Request, err error, status int) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"status": statusError,
			"error":  "File too large",
		})
		return
	}

	logging.WithContext(r.Context()).Warn("upload_failed", zap.Error(err))
	s.record(r, db.ActionFileUpload, "", false, err.Error())
	writeJSON(w, status, map[string]string{
		"status": statusError,
		"error":  "Upload failed",
	})
}
