package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/me/taskd/pkg/model"
)

// Version is reported by /health.
const Version = "0.1.0"

type healthResponse struct {
	Status    string                `json:"status"`
	Version   string                `json:"version"`
	GoVersion string                `json:"go_version"`
	Uptime    string                `json:"uptime"`
	Scheduler *model.SchedulerStats `json:"scheduler"`
	Executors []model.TaskType      `json:"executors,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	resp := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.scheduler != nil {
		stats := s.scheduler.Stats()
		resp.Scheduler = &stats
	}
	if s.registry != nil {
		resp.Executors = s.registry.Types()
	}
	respondOK(w, reqID, resp)
}
