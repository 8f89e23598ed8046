package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/me/hybpiper/internal/store"
	"github.com/me/hybpiper/pkg/model"
)

func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil, nil)
}

func respondList(w http.ResponseWriter, reqID string, data any, pg *model.Page) {
	respondJSON(w, http.StatusOK, reqID, data, pg, nil)
}

func respondError(w http.ResponseWriter, reqID string, status int, problem *model.Problem) {
	respondJSON(w, status, reqID, nil, nil, problem)
}

// respondStoreError maps a store failure onto 404 or 500.
func respondStoreError(w http.ResponseWriter, reqID, resource, id string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, reqID, http.StatusNotFound, model.NotFound(resource, id))
		return
	}
	respondError(w, reqID, http.StatusInternalServerError,
		&model.Problem{Code: model.CodeInternal, Message: err.Error()})
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, pg *model.Page, problem *model.Problem) {
	env := model.Envelope{Status: "ok", RequestID: reqID, Timestamp: time.Now().UTC(), Data: data, Page: pg}
	if problem != nil {
		env.Status, env.Error = "error", problem
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// listOptions reads limit, offset, state and sample from the query string.
func listOptions(r *http.Request) (model.RunQuery, *model.Problem) {
	q := r.URL.Query()
	opts := model.NewRunQuery()
	var params []model.ParamError
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			params = append(params, model.ParamError{Param: "limit", Message: "must be an integer"})
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			params = append(params, model.ParamError{Param: "offset", Message: "must be an integer"})
		}
		opts.Offset = n
	}
	if len(params) > 0 {
		return opts, model.InvalidQuery("invalid query parameters", params...)
	}
	opts.State = q.Get("state")
	opts.Sample = q.Get("sample")
	opts.Normalize()
	return opts, nil
}
