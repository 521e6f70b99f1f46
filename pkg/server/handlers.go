package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/lfariabr/excel-pilot-sub000/pkg/analytics"
	"github.com/lfariabr/excel-pilot-sub000/pkg/limits"
	"github.com/lfariabr/excel-pilot-sub000/pkg/limits/budget"
	"github.com/lfariabr/excel-pilot-sub000/pkg/telemetry/logging"
)

const (
	maxBodyBytes = 64 << 10

	defaultHours = 24
	maxHours     = 24 * 365
	defaultTop   = 10
	maxTop       = 1000
)

// CheckRequest is the body of POST /v1/limits/check.
type CheckRequest struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`

	// Tier, when set, records a violation on denial.
	Tier string `json:"tier,omitempty"`
}

// ChargeRequest is the body of POST /v1/budget/charge.
type ChargeRequest struct {
	UserID string `json:"user_id"`
	Tokens int64  `json:"tokens"`
	Tier   string `json:"tier,omitempty"`
}

// AdjustRequest is the body of POST /v1/budget/adjust.
type AdjustRequest struct {
	UserID    string `json:"user_id"`
	Estimated int64  `json:"estimated"`
	Actual    int64  `json:"actual"`
}

// ViolationRequest is the body of POST /v1/violations.
type ViolationRequest struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
	Tier   string `json:"tier"`
}

// UserViolationsResponse is returned by GET /v1/violations/users/{id}.
type UserViolationsResponse struct {
	UserID string `json:"user_id"`
	Hours  int    `json:"hours"`
	Count  int64  `json:"count"`
}

// TopViolatorsResponse is returned by GET /v1/violations/top.
type TopViolatorsResponse struct {
	Hours     int                  `json:"hours"`
	Violators []analytics.Violator `json:"violators"`
}

// ErrorResponse is the body of every 4xx and 5xx.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Handlers serves the limits API on top of a Manager.
type Handlers struct {
	manager *limits.Manager
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandlers creates the API handlers.
func NewHandlers(manager *limits.Manager, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		manager: manager,
		logger:  logger.With("component", "server"),
		now:     time.Now,
	}
}

// Check handles POST /v1/limits/check.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Kind == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id and kind are required")
		return
	}

	ctx := logging.WithLimitKind(logging.WithUser(r.Context(), req.UserID), req.Kind)
	res, err := h.manager.CheckLimit(ctx, req.UserID, req.Kind)
	if err != nil {
		h.limitError(w, err)
		return
	}

	if !res.Allowed && req.Tier != "" {
		h.manager.ReportViolation(ctx, req.UserID, req.Kind, req.Tier)
	}
	h.writeResult(w, res)
}

// Charge handles POST /v1/budget/charge.
func (h *Handlers) Charge(w http.ResponseWriter, r *http.Request) {
	var req ChargeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	ctx := logging.WithLimitKind(logging.WithUser(r.Context(), req.UserID), budget.Kind)
	res, err := h.manager.CheckAndCharge(ctx, req.UserID, req.Tokens)
	if err != nil {
		h.limitError(w, err)
		return
	}

	if !res.Allowed && req.Tier != "" {
		h.manager.ReportViolation(ctx, req.UserID, budget.Kind, req.Tier)
	}
	h.writeResult(w, res)
}

// Adjust handles POST /v1/budget/adjust. A denied adjustment is still a
// 200: the tokens were already spent and there is nothing to retry.
func (h *Handlers) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	ctx := logging.WithLimitKind(logging.WithUser(r.Context(), req.UserID), budget.Kind)
	res, err := h.manager.AdjustCharge(ctx, req.UserID, req.Estimated, req.Actual)
	if err != nil {
		h.limitError(w, err)
		return
	}

	setLimitHeaders(w, res)
	writeJSON(w, http.StatusOK, res)
}

// ReportViolation handles POST /v1/violations. The write is detached, so
// the response is always 202.
func (h *Handlers) ReportViolation(w http.ResponseWriter, r *http.Request) {
	var req ViolationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.Kind == "" || req.Tier == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id, kind and tier are required")
		return
	}

	ctx := logging.WithLimitKind(logging.WithUser(r.Context(), req.UserID), req.Kind)
	h.manager.ReportViolation(ctx, req.UserID, req.Kind, req.Tier)
	w.WriteHeader(http.StatusAccepted)
}

// UserViolations handles GET /v1/violations/users/{id}?hours=24.
func (h *Handlers) UserViolations(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user id is required")
		return
	}

	hours, err := intParam(r, "hours", defaultHours, maxHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx := logging.WithUser(r.Context(), userID)
	writeJSON(w, http.StatusOK, UserViolationsResponse{
		UserID: userID,
		Hours:  hours,
		Count:  h.manager.UserViolationCount(ctx, userID, hours),
	})
}

// TopViolators handles GET /v1/violations/top?hours=24&limit=10.
func (h *Handlers) TopViolators(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", defaultHours, maxHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	limit, err := intParam(r, "limit", defaultTop, maxTop)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, TopViolatorsResponse{
		Hours:     hours,
		Violators: h.manager.TopViolators(r.Context(), hours, limit),
	})
}

func (h *Handlers) writeResult(w http.ResponseWriter, res limits.Result) {
	now := h.now()
	setLimitHeaders(w, res)

	code := http.StatusOK
	if !res.Allowed {
		code = http.StatusTooManyRequests
		if retry := res.RetryAfter(now); retry > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
		}
	}
	writeJSON(w, code, res)
}

// limitError maps the caller-side errors of the Manager to 400.
func (h *Handlers) limitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, limits.ErrUnknownKind):
		writeError(w, http.StatusBadRequest, "unknown_kind", err.Error())
	case errors.Is(err, limits.ErrInvalidTokenCount):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		h.logger.Error("unexpected limit error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "limit check failed")
	}
}

func setLimitHeaders(w http.ResponseWriter, res limits.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	if !res.ResetTime.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
	}
	if res.Source != "" {
		w.Header().Set("X-RateLimit-Source", res.Source)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("malformed request body: %v", err))
		return false
	}
	return true
}

func intParam(r *http.Request, name string, def, upper int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > upper {
		return 0, fmt.Errorf("%s must be an integer between 1 and %d", name, upper)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errType, message string) {
	writeJSON(w, code, ErrorResponse{Error: ErrorDetail{Type: errType, Message: message}})
}
