package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), discoveryResponse{
		Name:        "HybPiper run history",
		Version:     "v1",
		Description: "Recorded assemble runs, their stage decisions and per-gene outcomes",
		Endpoints: []endpointInfo{
			{"/api/v1/runs", []string{"GET"}, "List runs; filters: state, sample, limit, offset"},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single run"},
			{"/api/v1/runs/{id}/stages", []string{"GET"}, "Stage decisions of a run"},
			{"/api/v1/runs/{id}/units", []string{"GET"}, "Per-gene outcomes of a run"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
