package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/hybpiper/pkg/model"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Started   string `json:"started"`
	HistoryDB string `json:"history_db"`
	Store     string `json:"store"`
}

// handleHealth reports "degraded" when the history store cannot be queried.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Started:   humanize.Time(s.startTime),
		HistoryDB: s.config.HistoryDB,
		Store:     "ok",
	}
	if _, _, err := s.store.ListRuns(r.Context(), model.RunQuery{Limit: 1}); err != nil {
		s.logger.Warn("history store unreachable", "error", err)
		h.Status, h.Store = "degraded", "unavailable"
	}
	respondOK(w, RequestIDFromContext(r.Context()), h)
}
