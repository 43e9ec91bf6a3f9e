// validation.go - Request input validation.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"strconv"
	"strings"
)

var (
	errInvalidIndex = errors.New("invalid index")
	errInvalidURL   = errors.New("invalid url")
)

// parseIndex accepts a JSON number (truncated toward zero), a numeric
// string, or a boolean, matching how loosely typed clients send indices.
func parseIndex(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errInvalidIndex
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if math.Abs(f) > math.MaxInt32 {
			return -1, nil
		}
		return int(f), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, errInvalidIndex
		}
		return n, nil
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return 1, nil
		}
		return 0, nil
	}

	return 0, errInvalidIndex
}

// parseFetchURL validates a client supplied download URL.
func parseFetchURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, errInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errInvalidURL
	}
	if u.Host == "" {
		return nil, errInvalidURL
	}
	return u, nil
}
