package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/me/hybpiper/pkg/model"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts, problem := listOptions(r)
	if problem != nil {
		respondError(w, reqID, http.StatusBadRequest, problem)
		return
	}

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondStoreError(w, reqID, "run", "", err)
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	respondList(w, reqID, runs, &model.Page{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(runs) < total,
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondStoreError(w, reqID, "run", id, err)
		return
	}
	respondOK(w, reqID, run)
}

func (s *Server) handleListStages(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		respondStoreError(w, reqID, "run", id, err)
		return
	}
	events, err := s.store.ListStageEvents(r.Context(), id)
	if err != nil {
		respondStoreError(w, reqID, "run", id, err)
		return
	}
	if events == nil {
		events = []model.StageEvent{}
	}
	respondOK(w, reqID, events)
}

// handleListUnits returns the outcomes of a run; ?state= narrows them to one
// unit state.
func (s *Server) handleListUnits(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		respondStoreError(w, reqID, "run", id, err)
		return
	}
	outcomes, err := s.store.ListUnitOutcomes(r.Context(), id)
	if err != nil {
		respondStoreError(w, reqID, "run", id, err)
		return
	}

	want := model.UnitState(strings.ToUpper(r.URL.Query().Get("state")))
	out := make([]model.UnitOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		if want == "" || o.State == want {
			out = append(out, o)
		}
	}
	respondList(w, reqID, out, &model.Page{Total: len(out), Limit: len(out)})
}
