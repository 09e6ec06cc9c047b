package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/events"
	"github.com/p-n-ai/pai-planner/internal/export"
	"github.com/p-n-ai/pai-planner/internal/gamification"
	"github.com/p-n-ai/pai-planner/internal/learner"
	"github.com/p-n-ai/pai-planner/internal/planner"
	"github.com/p-n-ai/pai-planner/internal/platform/cache"
)

const maxBodyBytes = 1 << 20

// standings is the read side of the XP leaderboard.
type standings interface {
	Top(ctx context.Context, n int) ([]cache.Standing, error)
}

// api holds what the HTTP handlers need.
type api struct {
	svc         *planner.Service
	queue       *planner.Queue
	bus         *events.Bus
	leaderboard standings
	// checks run on /readyz; the key names the dependency.
	checks map[string]func(context.Context) error
}

// newMux creates the HTTP router.
func newMux(a *api) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", a.handleReadyz)

	mux.HandleFunc("PUT /v1/learners/{id}/profile", a.handlePutProfile)
	mux.HandleFunc("GET /v1/learners/{id}/profile", a.handleGetProfile)

	mux.HandleFunc("POST /v1/learners/{id}/plan", a.handleGeneratePlan)
	mux.HandleFunc("GET /v1/learners/{id}/plan", a.handleGetPlan)
	mux.HandleFunc("GET /v1/learners/{id}/plan.xlsx", a.handleExportPlan)
	mux.HandleFunc("POST /v1/learners/{id}/plan-requests", a.handleEnqueuePlan)
	mux.HandleFunc("GET /v1/learners/{id}/plan-requests", a.handlePlanRequestStatus)

	mux.HandleFunc("POST /v1/learners/{id}/tasks/{taskID}/place", a.handlePlaceTask)
	mux.HandleFunc("POST /v1/learners/{id}/tasks/{taskID}/complete", a.handleCompleteTask)
	mux.HandleFunc("POST /v1/learners/{id}/days/{date}/skip", a.handleSkipDay)

	mux.HandleFunc("POST /v1/learners/{id}/sessions", a.handleRecordSession)
	mux.HandleFunc("GET /v1/learners/{id}/sessions", a.handleListSessions)
	mux.HandleFunc("GET /v1/learners/{id}/progress", a.handleProgress)
	mux.HandleFunc("GET /v1/learners/{id}/next-topics", a.handleNextTopics)
	mux.HandleFunc("GET /v1/learners/{id}/gamification", a.handleGamification)
	mux.HandleFunc("GET /v1/leaderboard", a.handleLeaderboard)

	if a.bus != nil {
		mux.Handle("GET /v1/learners/{id}/events", events.StreamHandler(a.bus))
	}
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		slog.Warn("readiness check failed", "failed", failed)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *api) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	var p learner.Profile
	if !decodeBody(w, r, &p) {
		return
	}
	p.LearnerID = r.PathValue("id")
	if err := a.svc.SaveProfile(r.Context(), &p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.Profile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type startRequest struct {
	Start *civil.Date `json:"start,omitempty"`
}

func (a *api) handleGeneratePlan(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	res, err := a.svc.GeneratePlan(r.Context(), r.PathValue("id"), req.Start)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *api) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := a.svc.Plan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) handleExportPlan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := a.svc.Plan(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WritePlan(&buf, p); err != nil {
		writeError(w, r, fmt.Errorf("exporting plan: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="plan-%s.xlsx"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (a *api) handleEnqueuePlan(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	item, err := a.queue.Enqueue(r.Context(), r.PathValue("id"), req.Start)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, item)
}

func (a *api) handlePlanRequestStatus(w http.ResponseWriter, r *http.Request) {
	item, err := a.queue.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type placeRequest struct {
	Date     civil.Date `json:"date"`
	Override bool       `json:"override"`
}

func (a *api) handlePlaceTask(w http.ResponseWriter, r *http.Request) {
	var req placeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.Date.IsValid() {
		writeError(w, r, apperr.Invalid("api.PlaceTask", "date is required"))
		return
	}
	task, err := a.svc.PlaceTask(r.Context(), r.PathValue("id"), r.PathValue("taskID"), req.Date, req.Override)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type completeRequest struct {
	Minutes int  `json:"minutes,omitempty"`
	Manual  bool `json:"manual,omitempty"`
}

func (a *api) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	res, err := a.svc.CompleteTask(r.Context(), r.PathValue("id"), r.PathValue("taskID"), planner.CompleteInput{
		Minutes: req.Minutes,
		Manual:  req.Manual,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleSkipDay(w http.ResponseWriter, r *http.Request) {
	date, err := civil.ParseDate(r.PathValue("date"))
	if err != nil {
		writeError(w, r, apperr.Invalid("api.SkipDay", "date must be YYYY-MM-DD, got %q", r.PathValue("date")))
		return
	}
	res, err := a.svc.SkipDay(r.Context(), r.PathValue("id"), date)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) handleRecordSession(w http.ResponseWriter, r *http.Request) {
	var in gamification.SessionInput
	if !decodeBody(w, r, &in) {
		return
	}
	in.LearnerID = r.PathValue("id")
	res, err := a.svc.RecordSession(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *api) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50)
	if !ok {
		return
	}
	logs, err := a.svc.Sessions(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (a *api) handleProgress(w http.ResponseWriter, r *http.Request) {
	rec, err := a.svc.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *api) handleNextTopics(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		writeError(w, r, apperr.Invalid("api.NextTopics", "subject is required"))
		return
	}
	count, ok := queryInt(w, r, "count", 3)
	if !ok {
		return
	}
	refs, err := a.svc.NextTopics(r.Context(), r.PathValue("id"), subject, count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

func (a *api) handleGamification(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Gamification(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *api) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if a.leaderboard == nil {
		writeError(w, r, apperr.New("api.Leaderboard", apperr.ErrStorage, "leaderboard needs LEARN_CACHE_ENABLED"))
		return
	}
	limit, ok := queryInt(w, r, "limit", 10)
	if !ok {
		return
	}
	top, err := a.leaderboard.Top(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, top)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, apperr.Invalid("api", "invalid request body: %v", err))
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body as the zero request.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, v)
}

func queryInt(w http.ResponseWriter, r *http.Request, key string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeError(w, r, apperr.Invalid("api", "%s must be a positive integer, got %q", key, raw))
		return 0, false
	}
	return n, true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps an error kind to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperr.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, apperr.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded"
	case errors.Is(err, apperr.ErrStateTransition):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, apperr.ErrUnscheduled):
		return http.StatusConflict, "unscheduled"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperr.ErrGenerationFailure), errors.Is(err, apperr.ErrGenerationFormat):
		return http.StatusBadGateway, "generation_failed"
	case errors.Is(err, apperr.ErrStorage):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
