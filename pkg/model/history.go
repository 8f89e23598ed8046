package model

import (
	"fmt"
	"time"
)

// Page sizes for run history queries.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Envelope wraps every history API payload.
type Envelope struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Page      *Page     `json:"page,omitempty"`
	Error     *Problem  `json:"error"`
}

// Page describes one window of a run listing.
type Page struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// RunQuery selects runs from the history. State and Sample are exact
// matches when set; State is compared case-insensitively.
type RunQuery struct {
	Limit  int
	Offset int
	State  string
	Sample string
}

func NewRunQuery() RunQuery {
	return RunQuery{Limit: DefaultPageSize}
}

// Normalize pulls Limit into [1, MaxPageSize] and Offset to >= 0.
func (q *RunQuery) Normalize() {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultPageSize
	case q.Limit > MaxPageSize:
		q.Limit = MaxPageSize
	}
	q.Offset = max(q.Offset, 0)
}

// ProblemCode classifies a failed history API request.
type ProblemCode string

const (
	CodeInvalidQuery ProblemCode = "INVALID_QUERY"
	CodeNotFound     ProblemCode = "NOT_FOUND"
	CodeInternal     ProblemCode = "INTERNAL"
)

// Problem is the error body of a failed history API request.
type Problem struct {
	Code    ProblemCode  `json:"code"`
	Message string       `json:"message"`
	Params  []ParamError `json:"params,omitempty"`
}

func (p *Problem) Error() string {
	return string(p.Code) + ": " + p.Message
}

// ParamError names a rejected query parameter.
type ParamError struct {
	Param   string `json:"param"`
	Message string `json:"message"`
}

func InvalidQuery(msg string, params ...ParamError) *Problem {
	return &Problem{Code: CodeInvalidQuery, Message: msg, Params: params}
}

func NotFound(kind, id string) *Problem {
	return &Problem{Code: CodeNotFound, Message: fmt.Sprintf("no %s with id %q", kind, id)}
}
