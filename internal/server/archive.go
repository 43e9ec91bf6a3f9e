package server

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/mholt/archiver/v3"
	"go.uber.org/zap"

	"copycat/internal/logging"
)

const archiveName = "copycat-files.zip"

// archiveHandler handles GET /archive: every stored file in one zip, in list
// order. Files that vanish while the archive is written are skipped.
func (s *Server) archiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.WithContext(r.Context())

		files, err := s.store.ListFiles()
		if err != nil {
			log.Error("list_files_failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status": statusError,
				"error":  "Unable to list files",
			})
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="`+archiveName+`"`)
		w.Header().Set("Cache-Control", noStore)

		z := archiver.NewZip()
		if err := z.Create(w); err != nil {
			log.Error("archive_create_failed", zap.Error(err))
			return
		}
		defer func() {
			if err := z.Close(); err != nil {
				log.Warn("archive_close_failed", zap.Error(err))
			}
		}()

		written := 0
		for _, name := range files {
			if r.Context().Err() != nil {
				return
			}
			f, info, err := s.openStored(name)
			if err != nil {
				if !errors.Is(err, fs.ErrNotExist) {
					log.Warn("archive_open_failed", zap.String("file", name), zap.Error(err))
				}
				continue
			}
			err = z.Write(archiver.File{
				FileInfo:   archiver.FileInfo{FileInfo: info, CustomName: name},
				ReadCloser: f,
			})
			_ = f.Close()
			if err != nil {
				log.Warn("archive_write_failed", zap.String("file", name), zap.Error(err))
				return
			}
			written++
		}

		log.Info("archive_sent", zap.Int("files", written), zap.String("ip", getClientIP(r)))
	})
}
