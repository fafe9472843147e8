package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/eteran/granary/internal/store"
)

type errorBody struct {
	Error string `json:"error"`
	Step  string `json:"step,omitempty"`
	Item  string `json:"item,omitempty"`
	Index int    `json:"index,omitempty"`
	Total int    `json:"total,omitempty"`
}

// statusFor maps a core error onto an HTTP status. The cause decides first;
// anything unrecognised is a failure of the remote store.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists), errors.Is(err, store.ErrBucketNotEmpty):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidArgument), errors.Is(err, store.ErrReadPosition):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrQuotaExceeded), errors.Is(err, store.ErrUnboundedQuota):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error()}
	var stepErr *store.StepError
	if errors.As(err, &stepErr) {
		body.Step = stepErr.Step
		body.Item = stepErr.Item
		body.Index = stepErr.Index
		body.Total = stepErr.Total
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "url", r.URL.String(), "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func decodeJSON[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("%w: decode request body: %v", store.ErrInvalidArgument, err)
	}
	return v, nil
}
