package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"copycat/internal/db"
	"copycat/internal/logging"
	"copycat/internal/metrics"
)

const (
	defaultFetchName = "downloaded_file"
	fetchUserAgent   = "Mozilla/5.0 (compatible; CopyCat/1.0)"
)

// errUpstreamFetch marks failures talking to the remote server.
var errUpstreamFetch = errors.New("upstream fetch failed")

var (
	extendedFilename = regexp.MustCompile(`(?i)filename\*=UTF-8''([^;\s]+)`)
	plainFilename    = regexp.MustCompile(`(?i)filename=([^;\n]+)`)
	driveFileID      = regexp.MustCompile(`(?:/d/|[?&]id=)([\w-]+)`)
)

// fetcher downloads remote files. timeout bounds connecting, waiting for
// response headers, and every gap between body reads; a slow but steady
// transfer may take longer in total.
type fetcher struct {
	client  *http.Client
	timeout time.Duration
}

func newFetcher(timeout time.Duration) *fetcher {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
	return &fetcher{
		client:  &http.Client{Transport: transport},
		timeout: timeout,
	}
}

// get starts a GET for rawURL. The caller must close the body. Non-2xx
// statuses are errUpstreamFetch.
func (f *fetcher) get(ctx context.Context, rawURL string) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("%w: %v", errUpstreamFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("%w: status %d", errUpstreamFetch, resp.StatusCode)
	}

	resp.Body = &idleTimeoutBody{
		ReadCloser: resp.Body,
		timer:      time.AfterFunc(f.timeout, cancel),
		timeout:    f.timeout,
	}
	return resp, cancel, nil
}

// idleTimeoutBody cancels the request when no bytes arrive for timeout.
type idleTimeoutBody struct {
	io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.timer.Reset(b.timeout)
	if err != nil && err != io.EOF {
		err = fmt.Errorf("%w: %v", errUpstreamFetch, err)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	return b.ReadCloser.Close()
}

// uploadFromURLHandler handles POST /upload-from-url with body {"url": "..."}.
func (s *Server) uploadFromURLHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := logging.WithContext(r.Context())
		body := readJSONObject(w, r)

		var rawURL string
		if raw, ok := body["url"]; ok {
			_ = json.Unmarshal(raw, &rawURL)
		}
		if strings.TrimSpace(rawURL) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "URL is missing."})
			return
		}
		u, err := parseFetchURL(rawURL)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "URL must be an http or https address."})
			return
		}
		target := rewriteDriveURL(u).String()

		name, n, err := s.fetchToStore(r.Context(), target)
		if err != nil {
			metrics.RecordUpload("url", n, false)
			s.record(r, db.ActionFileFetch, target, false, err.Error())
			if errors.Is(err, errUpstreamFetch) {
				log.Warn("url_download_failed", zap.String("url", target), zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to download from URL."})
				return
			}
			log.Error("url_upload_failed", zap.String("url", target), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "An unexpected error occurred."})
			return
		}

		metrics.RecordUpload("url", n, true)
		log.Info("url_download_saved",
			zap.String("file", name),
			zap.String("url", target),
			zap.Int64("bytes", n),
		)
		s.record(r, db.ActionFileFetch, name, true, target)
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   statusSuccess,
			"filename": name,
		})
	})
}

// fetchToStore streams target into a new stored file and returns its name.
func (s *Server) fetchToStore(ctx context.Context, target string) (string, int64, error) {
	resp, cancel, err := s.fetch.get(ctx, target)
	if err != nil {
		return "", 0, err
	}
	defer cancel()
	defer func() { _ = resp.Body.Close() }()

	up, err := s.store.Begin(filenameFromResponse(resp.Request.URL, resp.Header))
	if err != nil {
		return "", 0, err
	}
	n, err := up.ReadFrom(resp.Body)
	if err != nil {
		up.Abort()
		return "", n, err
	}
	if err := up.Commit(); err != nil {
		return "", n, err
	}
	return up.Name(), n, nil
}

// filenameFromResponse picks the name for a fetched file: the RFC 5987
// filename* parameter, then filename, then the last URL path segment.
func filenameFromResponse(u *url.URL, h http.Header) string {
	if cd := h.Get("Content-Disposition"); cd != "" {
		if m := extendedFilename.FindStringSubmatch(cd); m != nil {
			name := strings.Trim(m[1], `"'`)
			if decoded, err := url.PathUnescape(name); err == nil {
				name = decoded
			}
			if name != "" {
				return name
			}
		} else if m := plainFilename.FindStringSubmatch(cd); m != nil {
			if name := strings.Trim(m[1], ` "'`); name != "" {
				return name
			}
		}
	}

	if u != nil && !strings.HasSuffix(u.Path, "/") {
		if base := u.Path[strings.LastIndex(u.Path, "/")+1:]; base != "" {
			return base
		}
	}
	return defaultFetchName
}

// rewriteDriveURL turns a Google Drive share link into its direct download
// form. Other URLs are returned unchanged.
func rewriteDriveURL(u *url.URL) *url.URL {
	host := strings.ToLower(u.Hostname())
	if host != "drive.google.com" && host != "docs.google.com" {
		return u
	}
	if u.Path == "/uc" && u.Query().Get("export") == "download" {
		return u
	}

	m := driveFileID.FindStringSubmatch(u.Path + "?" + u.RawQuery)
	if m == nil {
		return u
	}
	return &url.URL{
		Scheme:   "https",
		Host:     "drive.google.com",
		Path:     "/uc",
		RawQuery: url.Values{"export": {"download"}, "id": {m[1]}}.Encode(),
	}
}
