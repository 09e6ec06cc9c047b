package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/curriculum"
	"github.com/p-n-ai/pai-planner/internal/docstore"
	"github.com/p-n-ai/pai-planner/internal/events"
	"github.com/p-n-ai/pai-planner/internal/gamification"
	"github.com/p-n-ai/pai-planner/internal/plan"
	"github.com/p-n-ai/pai-planner/internal/planner"
	"github.com/p-n-ai/pai-planner/internal/platform/cache"
	"github.com/p-n-ai/pai-planner/internal/platform/config"
)

var clock = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func testGrade() curriculum.Grade {
	mat := make([]curriculum.Topic, 6)
	for i := range mat {
		mat[i] = curriculum.Topic{Name: fmt.Sprintf("Mat %02d", i+1), EstimatedMinutes: 90}
	}
	return curriculum.Grade{
		Grade: "9",
		Subjects: []curriculum.Subject{
			{Name: "Matematik", Units: []curriculum.Unit{{Name: "Sayılar", Topics: mat}}},
			{Name: "Tarih", Units: []curriculum.Unit{{Name: "İlk Çağ", Topics: []curriculum.Topic{{Name: "Tar 01", EstimatedMinutes: 40}}}}},
		},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *api) {
	t.Helper()
	store := docstore.NewMemoryStore()
	now := func() time.Time { return clock }
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := planner.NewService(planner.Deps{
		Store:      store,
		Curriculum: curriculum.NewStaticLoader(nil, testGrade()),
		Assembler:  plan.NewAssembler(nil, plan.WithLogger(quiet), plan.WithClock(now)),
		Engine:     gamification.NewEngine(store, gamification.WithClock(now)),
		Clock:      now,
	}, planner.Settings{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	a := &api{
		svc:    svc,
		queue:  planner.NewQueue(store, svc, planner.QueueConfig{}),
		bus:    events.NewBus(),
		checks: map[string]func(context.Context) error{},
	}
	srv := httptest.NewServer(newMux(a))
	t.Cleanup(srv.Close)
	return srv, a
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, b
}

const profileJSON = `{
	"grade": "9",
	"track": "Sayısal",
	"confidence": {"Matematik": "low", "Tarih": "high"},
	"daily_minutes": 120,
	"study_days": ["monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"],
	"session_minutes": 40
}`

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		checks     map[string]func(context.Context) error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "readyz returns 200",
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
		{
			name: "readyz reports a failed dependency",
			path: "/readyz",
			checks: map[string]func(context.Context) error{
				"database": func(context.Context) error { return errors.New("connection refused") },
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"failed":{"database":"connection refused"},"status":"unavailable"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newMux(&api{checks: tt.checks})
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestPlanFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/v1/learners/l1"

	resp, body := do(t, http.MethodPut, base+"/profile", profileJSON)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT profile = %d: %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, base+"/plan", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET plan before generation = %d, want 404", resp.StatusCode)
	}

	resp, body = do(t, http.MethodPost, base+"/plan", `{"start":"2024-05-02"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST plan = %d: %s", resp.StatusCode, body)
	}
	var cycle planner.CycleResult
	if err := json.Unmarshal(body, &cycle); err != nil {
		t.Fatal(err)
	}
	if len(cycle.Pool.Units) == 0 || len(cycle.Unplaced) != 0 {
		t.Fatalf("cycle = %d units, %d unplaced", len(cycle.Pool.Units), len(cycle.Unplaced))
	}

	resp, body = do(t, http.MethodGet, base+"/plan", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET plan = %d: %s", resp.StatusCode, body)
	}
	var p plan.Plan
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatal(err)
	}
	task := p.Tasks[p.Order[0]]

	resp, body = do(t, http.MethodPost, base+"/tasks/"+task.ID+"/complete", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete = %d: %s", resp.StatusCode, body)
	}
	var done planner.CompleteResult
	if err := json.Unmarshal(body, &done); err != nil {
		t.Fatal(err)
	}
	if want := gamification.XPGained(task.DurationMinutes, false); done.Session.XPGained != want {
		t.Errorf("xp gained = %d, want %d", done.Session.XPGained, want)
	}

	resp, _ = do(t, http.MethodPost, base+"/tasks/"+task.ID+"/complete", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second complete = %d, want 409", resp.StatusCode)
	}

	resp, body = do(t, http.MethodGet, base+"/gamification", "")
	var st gamification.State
	if err := json.Unmarshal(body, &st); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("GET gamification = %d, %v", resp.StatusCode, err)
	}
	if st.XP != done.Session.XPGained || !st.HasBadge("first_steps") {
		t.Errorf("state = %+v", st)
	}

	resp, body = do(t, http.MethodGet, base+"/sessions?limit=5", "")
	var logs []gamification.SessionLog
	if err := json.Unmarshal(body, &logs); err != nil || len(logs) != 1 {
		t.Errorf("sessions = %s (status %d)", body, resp.StatusCode)
	}
}

func TestPlaceAndSkip(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/v1/learners/l1"
	do(t, http.MethodPut, base+"/profile", profileJSON)
	do(t, http.MethodPost, base+"/plan", `{"start":"2024-05-02"}`)

	_, body := do(t, http.MethodGet, base+"/plan", "")
	var p plan.Plan
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatal(err)
	}
	id := p.Order[0]

	resp, body := do(t, http.MethodPost, base+"/tasks/"+id+"/place", `{"date":"2024-05-10"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("place = %d: %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, base+"/days/2024-05-10/skip", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("skip = %d: %s", resp.StatusCode, body)
	}
	var res plan.SkipResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Moved) != 1 || res.Moved[0].TaskID != id {
		t.Errorf("moved = %+v, want %s", res.Moved, id)
	}

	resp, _ = do(t, http.MethodPost, base+"/days/20-05-2024/skip", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad date = %d, want 400", resp.StatusCode)
	}
}

func TestExportPlan(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/v1/learners/l1"
	do(t, http.MethodPut, base+"/profile", profileJSON)
	do(t, http.MethodPost, base+"/plan", `{"start":"2024-05-02"}`)

	resp, body := do(t, http.MethodGet, base+"/plan.xlsx", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("Content-Type = %q", ct)
	}
	// The workbook is built before anything is sent.
	if resp.ContentLength != int64(len(body)) || len(body) == 0 {
		t.Errorf("ContentLength = %d, body = %d bytes", resp.ContentLength, len(body))
	}
	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Schedule")
	if err != nil || len(rows) < 2 {
		t.Errorf("Schedule rows = %d, %v", len(rows), err)
	}
}

func TestPlanRequests(t *testing.T) {
	srv, a := newTestServer(t)
	base := srv.URL + "/v1/learners/l1"
	do(t, http.MethodPut, base+"/profile", profileJSON)

	resp, _ := do(t, http.MethodGet, base+"/plan-requests", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status before enqueue = %d, want 404", resp.StatusCode)
	}

	resp, body := do(t, http.MethodPost, base+"/plan-requests", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("enqueue = %d: %s", resp.StatusCode, body)
	}
	if n, err := a.queue.RunOnce(context.Background()); err != nil || n != 1 {
		t.Fatalf("RunOnce() = %d, %v", n, err)
	}

	_, body = do(t, http.MethodGet, base+"/plan-requests", "")
	var item planner.QueueItem
	if err := json.Unmarshal(body, &item); err != nil {
		t.Fatal(err)
	}
	if item.Status != planner.QueueCompleted {
		t.Errorf("request = %+v, want completed", item)
	}
	if resp, _ := do(t, http.MethodGet, base+"/plan", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("GET plan after queue = %d", resp.StatusCode)
	}
}

func TestRequestErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/v1/learners/l1"

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed profile", http.MethodPut, "/profile", `{"grade":`, http.StatusBadRequest, "invalid_argument"},
		{"unknown grade", http.MethodPut, "/profile", strings.Replace(profileJSON, `"9"`, `"12"`, 1), http.StatusBadRequest, "invalid_argument"},
		{"missing profile", http.MethodGet, "/profile", "", http.StatusNotFound, "not_found"},
		{"plan without profile", http.MethodPost, "/plan", "", http.StatusNotFound, "not_found"},
		{"session too long", http.MethodPost, "/sessions", `{"subject":"Matematik","duration_minutes":721}`, http.StatusBadRequest, "invalid_argument"},
		{"bad limit", http.MethodGet, "/sessions?limit=abc", "", http.StatusBadRequest, "invalid_argument"},
		{"next topics without subject", http.MethodGet, "/next-topics", "", http.StatusBadRequest, "invalid_argument"},
		{"place without date", http.MethodPost, "/tasks/x/place", `{}`, http.StatusBadRequest, "invalid_argument"},
		{"future session", http.MethodPost, "/sessions", `{"subject":"Tarih","duration_minutes":20,"at":"2030-01-01T10:00:00Z"}`, http.StatusBadRequest, "invalid_argument"},
		{"negative minutes", http.MethodPost, "/tasks/x/complete", `{"minutes":-30}`, http.StatusBadRequest, "invalid_argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, base+tt.path, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, body)
			}
			var got map[string]errorBody
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatalf("body %q: %v", body, err)
			}
			if got["error"].Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got["error"].Code, tt.wantCode)
			}
		})
	}
}

func TestRecordSessionAndNextTopics(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/v1/learners/l1"
	do(t, http.MethodPut, base+"/profile", profileJSON)

	resp, body := do(t, http.MethodPost, base+"/sessions", `{"subject":"Tarih","duration_minutes":20,"manual":true}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("record = %d: %s", resp.StatusCode, body)
	}
	var res gamification.SessionResult
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatal(err)
	}
	if res.XPGained != 15 {
		t.Errorf("xp = %d, want 15", res.XPGained)
	}

	resp, body = do(t, http.MethodGet, base+"/next-topics?subject=Matematik&count=2", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("next-topics = %d: %s", resp.StatusCode, body)
	}
	var refs []curriculum.TopicRef
	if err := json.Unmarshal(body, &refs); err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 || refs[0].Topic.Name != "Mat 01" {
		t.Errorf("next topics = %+v", refs)
	}
}

func TestLeaderboardDisabled(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, _ := do(t, http.MethodGet, srv.URL+"/v1/leaderboard", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

type fakeStandings []cache.Standing

func (f fakeStandings) Top(_ context.Context, n int) ([]cache.Standing, error) {
	if n < len(f) {
		return f[:n], nil
	}
	return f, nil
}

func TestLeaderboard(t *testing.T) {
	mux := newMux(&api{leaderboard: fakeStandings{
		{LearnerID: "a", XP: 900, Rank: 1},
		{LearnerID: "b", XP: 300, Rank: 2},
	}})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/leaderboard?limit=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []cache.Standing
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].LearnerID != "a" {
		t.Errorf("top = %+v", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.NotFound("op", "x"), http.StatusNotFound},
		{apperr.Invalid("op", "x"), http.StatusBadRequest},
		{apperr.New("op", apperr.ErrCapacityExceeded, "x"), http.StatusConflict},
		{apperr.New("op", apperr.ErrStateTransition, "x"), http.StatusConflict},
		{apperr.New("op", apperr.ErrConflict, "x"), http.StatusConflict},
		{apperr.New("op", apperr.ErrGenerationFormat, "x"), http.StatusBadGateway},
		{apperr.Wrap("op", apperr.ErrStorage, errors.New("down")), http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	if l := newLogger(config.LogConfig{Level: "debug", Format: "text"}); !l.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug level not enabled")
	}
	if l := newLogger(config.LogConfig{Level: "nonsense"}); l.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("invalid level should fall back to info")
	}
}
