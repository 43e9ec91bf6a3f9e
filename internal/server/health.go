package server

import (
	"context"
	"net/http"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"copycat/internal/logging"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// HealthCheck probes one optional component, such as the audit database.
type HealthCheck func(ctx context.Context) error

// Health represents the complete health check response
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single system component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
	Details   any             `json:"details,omitempty"`
}

// StorageDetails provides additional storage health information
type StorageDetails struct {
	AvailableBytes uint64  `json:"available_bytes"`
	TotalBytes     uint64  `json:"total_bytes"`
	PercentageUsed float64 `json:"percentage_used"`
	StoredFiles    int     `json:"stored_files"`
	ClipboardItems int     `json:"clipboard_entries"`
}

// HandleHealth provides a detailed health check endpoint
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	statusCode := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", noStore)
	writeJSON(w, statusCode, health)
}

// HandleReady reports whether uploads can be accepted: the upload directory
// must exist and be writable.
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	if c := s.checkUploadDir(); c.Status == ComponentStatusDown {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not_ready",
			"message": c.Message,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleLive provides a liveness probe (is the process running?)
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp:  time.Now(),
		Version:    s.cfg.Version,
		Components: make(map[string]ComponentHealth),
	}

	health.Components["uploads"] = s.checkUploadDir()
	health.Components["state"] = s.checkStateFile()
	health.Components["storage"] = s.checkStorageHealth()

	s.checksMu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]HealthCheck, len(names))
	for i, name := range names {
		checks[i] = s.checks[name]
	}
	s.checksMu.RUnlock()

	for i, name := range names {
		health.Components[name] = runHealthCheck(ctx, name, checks[i])
	}

	health.Status = determineOverallHealth(health.Components)
	return health
}

func runHealthCheck(ctx context.Context, name string, check HealthCheck) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := check(ctx); err != nil {
		logging.Warn("health_check_failed", zap.String("component", name), zap.Error(err))
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: name + " check failed: " + err.Error(),
		}
	}
	latency := time.Since(start).Milliseconds()

	status := ComponentStatusUp
	message := name + " healthy"
	if latency > 1000 {
		status = ComponentStatusDegraded
		message = name + " latency high"
	}
	return ComponentHealth{
		Status:    status,
		Message:   message,
		LatencyMs: float64(latency),
	}
}

func (s *Server) checkUploadDir() ComponentHealth {
	dir := s.store.UploadDir()
	info, err := os.Stat(dir)
	if err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "upload directory unavailable: " + err.Error()}
	}
	if !info.IsDir() {
		return ComponentHealth{Status: ComponentStatusDown, Message: "upload path is not a directory"}
	}

	probe, err := os.CreateTemp(dir, ".copycat-probe-*")
	if err != nil {
		return ComponentHealth{Status: ComponentStatusDown, Message: "upload directory not writable: " + err.Error()}
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	return ComponentHealth{Status: ComponentStatusUp, Message: "upload directory writable"}
}

// checkStateFile treats a missing state file as up; the first mutation
// creates it.
func (s *Server) checkStateFile() ComponentHealth {
	if _, err := os.Stat(s.store.DataFile()); err != nil {
		if os.IsNotExist(err) {
			return ComponentHealth{Status: ComponentStatusUp, Message: "state file not yet written"}
		}
		return ComponentHealth{Status: ComponentStatusDegraded, Message: "state file unreadable: " + err.Error()}
	}
	return ComponentHealth{Status: ComponentStatusUp, Message: "state file present"}
}

func (s *Server) checkStorageHealth() ComponentHealth {
	snap := s.store.Snapshot()
	details := StorageDetails{
		StoredFiles:    len(snap.Files),
		ClipboardItems: len(snap.Clipboard),
	}

	total, avail, err := diskUsage(s.store.UploadDir())
	if err != nil {
		return ComponentHealth{
			Status:  ComponentStatusUp,
			Message: "disk usage unavailable",
			Details: details,
		}
	}
	details.TotalBytes = total
	details.AvailableBytes = avail
	if total > 0 {
		details.PercentageUsed = float64(total-avail) / float64(total) * 100
	}

	status := ComponentStatusUp
	message := "storage healthy"
	if details.PercentageUsed > 90 {
		status = ComponentStatusDegraded
		message = "storage critically low"
	} else if details.PercentageUsed > 80 {
		status = ComponentStatusDegraded
		message = "storage running low"
	}

	return ComponentHealth{
		Status:  status,
		Message: message,
		Details: details,
	}
}

// determineOverallHealth calculates overall health from component statuses
func determineOverallHealth(components map[string]ComponentHealth) HealthStatus {
	var downCount, degradedCount int
	for _, component := range components {
		switch component.Status {
		case ComponentStatusDown:
			downCount++
		case ComponentStatusDegraded:
			degradedCount++
		}
	}

	if downCount > 0 {
		return HealthStatusUnhealthy
	}
	if degradedCount > 0 {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}
