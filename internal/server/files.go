package server

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"copycat/internal/db"
	"copycat/internal/logging"
	"copycat/internal/store"
)

// listFilesHandler handles GET /files. Listing reconciles the stored list
// with the upload directory first.
func (s *Server) listFilesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		files, err := s.store.ListFiles()
		if err != nil {
			logging.WithContext(r.Context()).Error("list_files_failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status": statusError,
				"error":  "Unable to list files",
			})
			return
		}

		w.Header().Set("Cache-Control", noStore)
		writeJSON(w, http.StatusOK, map[string]any{"files": files})
	})
}

// deleteFileHandler handles POST /delete/{name}.
func (s *Server) deleteFileHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		log := logging.WithContext(r.Context())

		err := s.store.RemoveFile(name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			s.record(r, db.ActionFileDelete, name, false, "not found")
			writeJSON(w, http.StatusNotFound, map[string]string{
				"status": statusError,
				"error":  "File not found",
			})
			return
		case err != nil:
			log.Error("delete_file_failed", zap.String("file", name), zap.Error(err))
			s.record(r, db.ActionFileDelete, name, false, err.Error())
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status": statusError,
				"error":  "Unable to delete file",
			})
			return
		}

		log.Info("file_deleted", zap.String("file", name), zap.String("ip", getClientIP(r)))
		s.record(r, db.ActionFileDelete, name, true, "")
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   statusSuccess,
			"filename": name,
		})
	})
}

// resetFilesHandler handles POST /reset-files.
func (s *Server) resetFilesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		removed := s.store.ResetFiles()

		logging.WithContext(r.Context()).Info("files_reset",
			zap.Int("removed", removed),
			zap.String("ip", getClientIP(r)),
		)
		s.record(r, db.ActionFilesReset, "", true, "")
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        statusSuccess,
			"removed_count": removed,
		})
	})
}
