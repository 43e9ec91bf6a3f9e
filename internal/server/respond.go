package server

import (
	"encoding/json"
	"io"
	"net/http"
)

const (
	statusSuccess = "success"
	statusError   = "error"

	noStore = "no-store, no-cache, must-revalidate, max-age=0"

	// maxJSONBytes caps JSON request bodies; file content never travels as JSON.
	maxJSONBytes = 32 << 20
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readJSONObject decodes the body as a JSON object. Anything else, including
// an empty or malformed body, yields an empty map, so handlers report the
// missing field rather than a parse error.
func readJSONObject(w http.ResponseWriter, r *http.Request) map[string]json.RawMessage {
	body := http.MaxBytesReader(w, r.Body, maxJSONBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		return map[string]json.RawMessage{}
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return map[string]json.RawMessage{}
	}
	return obj
}
