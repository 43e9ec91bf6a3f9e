package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"copycat/internal/db"
	"copycat/internal/logging"
	"copycat/internal/store"
)

// getClipboardHandler handles GET /clipboard.
func (s *Server) getClipboardHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", noStore)
		writeJSON(w, http.StatusOK, map[string]any{
			"accumulated_text": s.store.Clipboard(),
		})
	})
}

// addClipboardHandler handles POST /clipboard with body {"text": "..."}.
func (s *Server) addClipboardHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readJSONObject(w, r)

		var text string
		if raw, ok := body["text"]; ok {
			_ = json.Unmarshal(raw, &text)
		}

		if _, err := s.store.AddClipboardEntry(text); err != nil {
			if errors.Is(err, store.ErrEmptyText) {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"status":  statusError,
					"message": "No text provided",
				})
				return
			}
			logging.WithContext(r.Context()).Error("clipboard_add_failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status": statusError,
				"error":  "An unexpected error occurred.",
			})
			return
		}

		s.record(r, db.ActionClipboardAdd, "", true, "")
		writeJSON(w, http.StatusOK, map[string]string{"status": statusSuccess})
	})
}

// deleteClipboardHandler handles POST /clipboard/delete with body {"index": n}.
func (s *Server) deleteClipboardHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readJSONObject(w, r)

		raw, ok := body["index"]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"status": statusError,
				"error":  "Missing index",
			})
			return
		}
		idx, err := parseIndex(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"status": statusError,
				"error":  "Invalid index",
			})
			return
		}

		if _, err := s.store.DeleteClipboardEntry(idx); err != nil {
			s.record(r, db.ActionClipboardDelete, strconv.Itoa(idx), false, err.Error())
			writeJSON(w, http.StatusNotFound, map[string]string{
				"status": statusError,
				"error":  "Index out of range",
			})
			return
		}

		logging.WithContext(r.Context()).Info("clipboard_entry_deleted",
			zap.Int("index", idx),
			zap.String("ip", getClientIP(r)),
		)
		s.record(r, db.ActionClipboardDelete, strconv.Itoa(idx), true, "")
		writeJSON(w, http.StatusOK, map[string]string{"status": statusSuccess})
	})
}

// resetClipboardHandler handles POST /reset-clipboard.
func (s *Server) resetClipboardHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.store.ResetClipboard()
		logging.WithContext(r.Context()).Info("clipboard_reset", zap.String("ip", getClientIP(r)))
		s.record(r, db.ActionClipboardReset, "", true, "")
		writeJSON(w, http.StatusOK, map[string]string{"status": statusSuccess})
	})
}
