package api

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/bart-task-go/internal/trials"
)

// HealthStatus is healthy, degraded or unhealthy
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResponse is the body of GET /health
type HealthCheckResponse struct {
	Status        HealthStatus           `json:"status"`
	Timestamp     string                 `json:"timestamp"`
	EngineVersion string                 `json:"engine_version"`
	GitCommit     string                 `json:"git_commit,omitempty"`
	BuildTime     string                 `json:"build_time,omitempty"`
	Uptime        string                 `json:"uptime"`
	Checks        map[string]HealthCheck `json:"checks"`
	System        SystemInfo             `json:"system"`
	RequestID     string                 `json:"request_id,omitempty"`
}

// HealthCheck is the result of one named check
type HealthCheck struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked string       `json:"last_checked"`
}

// SystemInfo is a runtime snapshot of the process
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	NumCPU        int    `json:"num_cpu"`
	GOMAXPROCS    int    `json:"gomaxprocs"`
	MemoryAlloc   uint64 `json:"memory_alloc_bytes"`
	MemorySys     uint64 `json:"memory_sys_bytes"`
	GCCycles      uint32 `json:"gc_cycles"`
}

// handleHealthCheck reports the sequence generator, the active session
// and the stream hub.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]HealthCheck{
		"sequence": s.checkSequenceHealth(),
		"session":  s.checkSessionHealth(),
		"stream":   s.checkStreamHealth(),
	}

	overall := HealthStatusHealthy
	for _, c := range checks {
		switch c.Status {
		case HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case HealthStatusDegraded:
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
	}

	statusCode := http.StatusOK
	if overall == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	s.writeJSON(w, statusCode, HealthCheckResponse{
		Status:        overall,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		EngineVersion: EngineVersion,
		GitCommit:     GitCommit,
		BuildTime:     BuildTime,
		Uptime:        time.Since(s.startTime).String(),
		Checks:        checks,
		System:        getSystemInfo(),
		RequestID:     middleware.GetReqID(r.Context()),
	})
}

// GET /health/live
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"alive":          true,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"engine_version": EngineVersion,
		"uptime":         time.Since(s.startTime).String(),
		"request_id":     middleware.GetReqID(r.Context()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GetVersionInfo())
}

// checkSequenceHealth builds the configured sequence once
func (s *Server) checkSequenceHealth() HealthCheck {
	status := HealthStatusHealthy
	seq, err := trials.Build(s.opts.Sequence)
	message := fmt.Sprintf("%d trials", len(seq))
	if err != nil {
		status = HealthStatusUnhealthy
		message = err.Error()
	}
	return HealthCheck{Status: status, Message: message, LastChecked: now()}
}

func (s *Server) checkSessionHealth() HealthCheck {
	active := s.session()
	if active == nil {
		return HealthCheck{Status: HealthStatusHealthy, Message: "no session", LastChecked: now()}
	}
	snap := active.engine.Snapshot()
	msg := fmt.Sprintf("session %s state=%s trial=%d/%d", active.id, snap.State, snap.TrialIndex, snap.TotalTrials)
	return HealthCheck{Status: HealthStatusHealthy, Message: msg, LastChecked: now()}
}

func (s *Server) checkStreamHealth() HealthCheck {
	return HealthCheck{
		Status:      HealthStatusHealthy,
		Message:     fmt.Sprintf("%d subscribers", s.hub.Subscribers()),
		LastChecked: now(),
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		MemoryAlloc:   m.Alloc,
		MemorySys:     m.Sys,
		GCCycles:      m.NumGC,
	}
}
