package server

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"testing"
)

var entryPattern = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] `)

func TestClipboardAddAndGet(t *testing.T) {
	s, _ := newTestServer(t, Config{})

	for _, text := range []string{"first", "second"} {
		rr := doJSON(t, s, http.MethodPost, "/clipboard", `{"text":"`+text+`"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("add %q: expected 200, got %d", text, rr.Code)
		}
		if resp := decodeJSON(t, rr); resp["status"] != "success" {
			t.Fatalf("add %q: response %v", text, resp)
		}
	}

	rr := doJSON(t, s, http.MethodGet, "/clipboard", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != noStore {
		t.Errorf("Cache-Control = %q", cc)
	}
	got := stringList(decodeJSON(t, rr)["accumulated_text"])
	if len(got) != 2 {
		t.Fatalf("entries = %v", got)
	}
	for i, want := range []string{"first", "second"} {
		if !entryPattern.MatchString(got[i]) || !strings.HasSuffix(got[i], "] "+want) {
			t.Errorf("entry %d = %q", i, got[i])
		}
	}
}

func TestClipboardAdd_Rejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty text", `{"text":""}`},
		{"whitespace", `{"text":"  \n\t "}`},
		{"missing field", `{}`},
		{"wrong type", `{"text":42}`},
		{"not json", `hello`},
		{"empty body", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, st := newTestServer(t, Config{})
			rr := doJSON(t, s, http.MethodPost, "/clipboard", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			resp := decodeJSON(t, rr)
			if resp["status"] != "error" || resp["message"] != "No text provided" {
				t.Errorf("response = %v", resp)
			}
			if n := len(st.Clipboard()); n != 0 {
				t.Errorf("clipboard has %d entries", n)
			}
		})
	}
}

func TestClipboardDelete(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
		wantLeft   []string
	}{
		{"number", `{"index":1}`, http.StatusOK, "", []string{"a", "c"}},
		{"numeric string", `{"index":"0"}`, http.StatusOK, "", []string{"b", "c"}},
		{"float truncates", `{"index":2.9}`, http.StatusOK, "", []string{"a", "b"}},
		{"true is one", `{"index":true}`, http.StatusOK, "", []string{"a", "c"}},
		{"out of range", `{"index":3}`, http.StatusNotFound, "Index out of range", []string{"a", "b", "c"}},
		{"negative", `{"index":-1}`, http.StatusNotFound, "Index out of range", []string{"a", "b", "c"}},
		{"huge", `{"index":1e300}`, http.StatusNotFound, "Index out of range", []string{"a", "b", "c"}},
		{"missing", `{}`, http.StatusBadRequest, "Missing index", []string{"a", "b", "c"}},
		{"null", `{"index":null}`, http.StatusBadRequest, "Invalid index", []string{"a", "b", "c"}},
		{"word", `{"index":"two"}`, http.StatusBadRequest, "Invalid index", []string{"a", "b", "c"}},
		{"object", `{"index":{}}`, http.StatusBadRequest, "Invalid index", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, st := newTestServer(t, Config{})
			for _, text := range []string{"a", "b", "c"} {
				if _, err := st.AddClipboardEntry(text); err != nil {
					t.Fatal(err)
				}
			}

			rr := doJSON(t, s, http.MethodPost, "/clipboard/delete", tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			resp := decodeJSON(t, rr)
			if tt.wantError != "" && resp["error"] != tt.wantError {
				t.Errorf("error = %v, want %q", resp["error"], tt.wantError)
			}

			left := st.Clipboard()
			if len(left) != len(tt.wantLeft) {
				t.Fatalf("left = %v, want %v", left, tt.wantLeft)
			}
			for i, want := range tt.wantLeft {
				if !strings.HasSuffix(left[i], "] "+want) {
					t.Errorf("entry %d = %q, want text %q", i, left[i], want)
				}
			}
		})
	}
}

func TestClipboardReset(t *testing.T) {
	s, st := newTestServer(t, Config{})
	for _, text := range []string{"a", "b"} {
		if _, err := st.AddClipboardEntry(text); err != nil {
			t.Fatal(err)
		}
	}

	rr := doJSON(t, s, http.MethodPost, "/reset-clipboard", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if n := len(st.Clipboard()); n != 0 {
		t.Errorf("clipboard has %d entries after reset", n)
	}

	rr = doJSON(t, s, http.MethodGet, "/clipboard", "")
	var body struct {
		AccumulatedText []string `json:"accumulated_text"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.AccumulatedText == nil || len(body.AccumulatedText) != 0 {
		t.Errorf("expected empty array, got %s", rr.Body.String())
	}
}

func TestParseIndex(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{`0`, 0, false},
		{`5`, 5, false},
		{`-2`, -2, false},
		{`1.99`, 1, false},
		{`-1.5`, -1, false},
		{`"7"`, 7, false},
		{`" 3 "`, 3, false},
		{`true`, 1, false},
		{`false`, 0, false},
		{`1e20`, -1, false},
		{`null`, 0, true},
		{``, 0, true},
		{`"x"`, 0, true},
		{`"1.5"`, 0, true},
		{`[1]`, 0, true},
	}
	for _, tt := range tests {
		got, err := parseIndex(json.RawMessage(tt.raw))
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseIndex(%s): expected error, got %d", tt.raw, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseIndex(%s): unexpected error %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseIndex(%s) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
