package planner_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/curriculum"
	"github.com/p-n-ai/pai-planner/internal/docstore"
	"github.com/p-n-ai/pai-planner/internal/events"
	"github.com/p-n-ai/pai-planner/internal/gamification"
	"github.com/p-n-ai/pai-planner/internal/learner"
	"github.com/p-n-ai/pai-planner/internal/plan"
	"github.com/p-n-ai/pai-planner/internal/planner"
)

var (
	clock = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	start = civil.Date{Year: 2024, Month: 5, Day: 2}
)

func topics(prefix string, n, minutes int) []curriculum.Topic {
	out := make([]curriculum.Topic, n)
	for i := range out {
		out[i] = curriculum.Topic{Name: fmt.Sprintf("%s %02d", prefix, i+1), EstimatedMinutes: minutes}
	}
	return out
}

func grade9() curriculum.Grade {
	return curriculum.Grade{
		Grade: "9",
		Subjects: []curriculum.Subject{
			{Name: "Matematik", Units: []curriculum.Unit{{Name: "Sayılar", Topics: topics("Mat", 10, 90)}}},
			{Name: "Tarih", Units: []curriculum.Unit{{Name: "İlk Çağ", Topics: topics("Tar", 4, 40)}}},
		},
	}
}

func profile() *learner.Profile {
	all := make([]learner.Weekday, 7)
	for i := range all {
		all[i] = learner.Weekday(i)
	}
	return &learner.Profile{
		LearnerID:      "l1",
		Grade:          "9",
		Track:          "Sayısal",
		Confidence:     map[string]learner.Confidence{"Matematik": learner.ConfidenceLow, "Tarih": learner.ConfidenceHigh},
		DailyMinutes:   120,
		StudyDays:      all,
		SessionMinutes: 40,
	}
}

type fixture struct {
	svc    *planner.Service
	store  *docstore.MemoryStore
	events *events.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := docstore.NewMemoryStore()
	pub := events.NewMemory()
	quiet := plan.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc, err := planner.NewService(planner.Deps{
		Store:      store,
		Curriculum: curriculum.NewStaticLoader(nil, grade9()),
		Assembler:  plan.NewAssembler(nil, quiet, plan.WithClock(func() time.Time { return clock })),
		Engine:     gamification.NewEngine(store, gamification.WithPublisher(pub), gamification.WithClock(func() time.Time { return clock })),
		Publisher:  pub,
		Clock:      func() time.Time { return clock },
	}, planner.Settings{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if err := svc.SaveProfile(context.Background(), profile()); err != nil {
		t.Fatalf("SaveProfile() error = %v", err)
	}
	return &fixture{svc: svc, store: store, events: pub}
}

func TestGeneratePlan_FirstCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.GeneratePlan(ctx, "l1", &start)
	if err != nil {
		t.Fatalf("GeneratePlan() error = %v", err)
	}
	if len(res.Pool.Units) != 9 {
		t.Fatalf("units = %d, want 3 topics x 3 parts", len(res.Pool.Units))
	}
	for _, u := range res.Pool.Units {
		if u.Subject != "Matematik" {
			t.Errorf("first cycle unit in %s, want only Matematik", u.Subject)
		}
		if u.DurationMinutes > 60 {
			t.Errorf("unit lasts %d minutes", u.DurationMinutes)
		}
	}
	if len(res.Unplaced) != 0 {
		t.Errorf("Unplaced = %v, want all placed", res.Unplaced)
	}

	p, err := f.svc.Plan(ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Cycle != 1 || len(p.ByState(plan.StatePlaced)) != 9 {
		t.Errorf("cycle %d, placed %d", p.Cycle, len(p.ByState(plan.StatePlaced)))
	}
	for _, d := range p.Dates() {
		if d.Before(start) {
			t.Errorf("task placed on %s before start", d)
		}
		if p.Used(d) > 120 {
			t.Errorf("%s booked %d > 120", d, p.Used(d))
		}
	}
	if len(f.events.OfType(events.PlanReady)) != 1 {
		t.Error("PlanReady not published")
	}
}

func TestGeneratePlan_LaterCycleAddsOtherSubjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GeneratePlan(ctx, "l1", &start); err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.GeneratePlan(ctx, "l1", &start)
	if err != nil {
		t.Fatal(err)
	}

	subjects := map[string]int{}
	for _, u := range res.Pool.Units {
		subjects[u.Subject]++
	}
	if subjects["Tarih"] == 0 {
		t.Errorf("second cycle subjects = %v, want Tarih included", subjects)
	}
	for _, c := range res.Pool.Selected {
		if c.Topic == "Mat 01" || c.Topic == "Mat 02" || c.Topic == "Mat 03" {
			t.Errorf("topic %s planned twice", c.Topic)
		}
	}
	if res.Plan.Cycle != 2 {
		t.Errorf("Cycle = %d, want 2", res.Plan.Cycle)
	}
}

func TestGeneratePlan_Errors(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.GeneratePlan(context.Background(), "nobody", nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing profile error = %v, want ErrNotFound", err)
	}
}

func TestSaveProfile_UnknownGrade(t *testing.T) {
	f := newFixture(t)
	p := profile()
	p.Grade = "13"
	if err := f.svc.SaveProfile(context.Background(), p); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
	p = profile()
	p.Subjects = []string{"Astroloji"}
	if err := f.svc.SaveProfile(context.Background(), p); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("unknown subject error = %v, want ErrInvalidArgument", err)
	}
}

func TestCompleteTask_RecordsTopicAndScores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.GeneratePlan(ctx, "l1", &start)
	if err != nil {
		t.Fatal(err)
	}
	var parts []*plan.TaskUnit
	for _, u := range res.Pool.Units {
		if u.Topic == "Mat 01" {
			parts = append(parts, u)
		}
	}
	if len(parts) != 3 {
		t.Fatalf("Mat 01 parts = %d, want 3", len(parts))
	}

	for i, u := range parts {
		done, err := f.svc.CompleteTask(ctx, "l1", u.ID, planner.CompleteInput{At: clock})
		if err != nil {
			t.Fatalf("CompleteTask(%s) error = %v", u.ID, err)
		}
		last := i == len(parts)-1
		if done.TopicCompleted != last {
			t.Errorf("part %d TopicCompleted = %v, want %v", i+1, done.TopicCompleted, last)
		}
		if done.Session.XPGained != u.DurationMinutes*3/2 {
			t.Errorf("XPGained = %d", done.Session.XPGained)
		}
	}

	rec, err := f.svc.Progress(ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Has("Matematik", "Mat 01") || rec.Count("Matematik") != 1 {
		t.Errorf("progress = %+v", rec.Completed)
	}

	state, err := f.svc.Gamification(ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if state.XP != 135 || state.Sessions != 3 || state.Streak != 1 {
		t.Errorf("state = %+v, want 135 XP over 3 sessions", state)
	}
	if got := f.events.OfType(events.TaskCompleted); len(got) != 3 {
		t.Errorf("TaskCompleted events = %d, want 3", len(got))
	}

	if _, err := f.svc.CompleteTask(ctx, "l1", parts[0].ID, planner.CompleteInput{}); !errors.Is(err, apperr.ErrStateTransition) {
		t.Errorf("second completion error = %v, want ErrStateTransition", err)
	}
	after, _ := f.svc.Gamification(ctx, "l1")
	if after.XP != state.XP {
		t.Error("rejected completion changed XP")
	}
}

func TestCompleteTask_NegativeMinutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.GeneratePlan(ctx, "l1", &start)
	if err != nil {
		t.Fatal(err)
	}
	id := res.Pool.Units[0].ID
	if _, err := f.svc.CompleteTask(ctx, "l1", id, planner.CompleteInput{Minutes: -30, At: clock}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("CompleteTask(-30) error = %v, want ErrInvalidArgument", err)
	}

	p, err := f.svc.Plan(ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Tasks[id].Completed() {
		t.Error("rejected completion marked the task done")
	}
	state, err := f.svc.Gamification(ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if state.XP != 0 {
		t.Errorf("rejected completion scored %d XP", state.XP)
	}
}

func TestPlaceTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.GeneratePlan(ctx, "l1", &start)
	if err != nil {
		t.Fatal(err)
	}
	id := res.Pool.Units[0].ID
	full := *res.Plan.Tasks[id].ScheduledDate

	// Move one unit onto another full day.
	var other civil.Date
	for _, d := range res.Plan.Dates() {
		if d != full && res.Plan.Used(d) == 120 {
			other = d
			break
		}
	}
	if !other.IsValid() {
		t.Skip("no second full day in generated plan")
	}
	if _, err := f.svc.PlaceTask(ctx, "l1", id, other, false); !errors.Is(err, apperr.ErrCapacityExceeded) {
		t.Fatalf("PlaceTask(full day) error = %v, want ErrCapacityExceeded", err)
	}
	task, err := f.svc.PlaceTask(ctx, "l1", id, other, true)
	if err != nil {
		t.Fatalf("PlaceTask(override) error = %v", err)
	}
	if *task.ScheduledDate != other || len(task.History) != 1 {
		t.Errorf("task = %+v", task)
	}

	if _, err := f.svc.PlaceTask(ctx, "l1", "missing", other, false); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown task error = %v, want ErrNotFound", err)
	}
}

func TestSkipDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GeneratePlan(ctx, "l1", &start); err != nil {
		t.Fatal(err)
	}
	before, _ := f.svc.Plan(ctx, "l1")
	onStart := len(before.TasksOn(start))
	if onStart == 0 {
		t.Fatal("nothing placed on start day")
	}

	res, err := f.svc.SkipDay(ctx, "l1", start)
	if err != nil {
		t.Fatalf("SkipDay() error = %v", err)
	}
	if len(res.Moved)+len(res.Unscheduled) != onStart {
		t.Errorf("moved %d + unscheduled %d, want %d", len(res.Moved), len(res.Unscheduled), onStart)
	}

	after, _ := f.svc.Plan(ctx, "l1")
	if len(after.TasksOn(start)) != 0 || !after.Day(start).RestDay {
		t.Error("skipped day still holds tasks or is not a rest day")
	}
	for _, d := range after.Dates() {
		if after.Used(d) > 120 {
			t.Errorf("%s booked %d after rebalancing", d, after.Used(d))
		}
	}

	// Skipping the same day again changes nothing.
	again, err := f.svc.SkipDay(ctx, "l1", start)
	if err != nil || len(again.Moved) != 0 {
		t.Errorf("second SkipDay() = %+v, %v", again, err)
	}
}

func TestRecordSession_WithoutPlan(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.RecordSession(context.Background(), gamification.SessionInput{
		LearnerID: "l1", Subject: "Tarih", DurationMinutes: 30, Manual: true, At: clock,
	})
	if err != nil {
		t.Fatalf("RecordSession() error = %v", err)
	}
	if res.XPGained != 22 {
		t.Errorf("XPGained = %d, want 22", res.XPGained)
	}
	logs, err := f.svc.Sessions(context.Background(), "l1", 5)
	if err != nil || len(logs) != 1 {
		t.Errorf("Sessions() = %v, %v", logs, err)
	}
}

func TestNextTopics(t *testing.T) {
	f := newFixture(t)
	got, err := f.svc.NextTopics(context.Background(), "l1", "Tarih", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Topic.Name != "Tar 01" {
		t.Errorf("NextTopics() = %+v", got)
	}
}
