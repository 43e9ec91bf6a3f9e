// Package metrics provides Prometheus metrics for the CopyCat server.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copycat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "copycat_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	bytesUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copycat_bytes_uploaded_total",
			Help: "Bytes written to the upload directory",
		},
		[]string{"source"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copycat_uploads_total",
			Help: "Files received, by source and result",
		},
		[]string{"source", "status"},
	)

	clipboardEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "copycat_clipboard_entries",
			Help: "Current number of clipboard entries",
		},
	)

	storedFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "copycat_stored_files",
			Help: "Current number of listed files",
		},
	)

	liveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "copycat_live_clients",
			Help: "Connected websocket clients",
		},
	)

	backupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copycat_backups_total",
			Help: "State backups, by target and result",
		},
		[]string{"target", "status"},
	)

	rateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "copycat_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"class"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records one completed request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	route := Route(path)
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordUpload records a finished upload from source ("form" or "url").
func RecordUpload(source string, bytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	uploadsTotal.WithLabelValues(source, status).Inc()
	if success {
		bytesUploaded.WithLabelValues(source).Add(float64(bytes))
	}
}

func SetClipboardEntries(n int) { clipboardEntries.Set(float64(n)) }

func SetStoredFiles(n int) { storedFiles.Set(float64(n)) }

func IncLiveClients() { liveClients.Inc() }

func DecLiveClients() { liveClients.Dec() }

// RecordBackup records a backup attempt against target ("local" or "s3").
func RecordBackup(target string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	backupsTotal.WithLabelValues(target, status).Inc()
}

func RecordRateLimited(class string) { rateLimited.WithLabelValues(class).Inc() }

// Route collapses per-file paths so label cardinality stays bounded.
func Route(path string) string {
	for _, prefix := range []string{"/uploads/", "/inline/", "/view/", "/delete/"} {
		if strings.HasPrefix(path, prefix) {
			return prefix + "{name}"
		}
	}
	switch path {
	case "/", "/upload-from-url", "/clipboard", "/clipboard/delete",
		"/reset-clipboard", "/reset-files", "/files", "/archive",
		"/qr.png", "/ws", "/metrics", "/health", "/ready", "/live":
		return path
	}
	return "other"
}
