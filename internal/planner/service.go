// Package planner runs the planning cycle and the learner-facing mutations
// on top of the curriculum, progress, plan and gamification packages.
//
// Every mutation of one learner's state runs under a per-learner lock and
// inside one document-store transaction. Content generation runs before
// the lock is taken.
package planner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/content"
	"github.com/p-n-ai/pai-planner/internal/curriculum"
	"github.com/p-n-ai/pai-planner/internal/docstore"
	"github.com/p-n-ai/pai-planner/internal/events"
	"github.com/p-n-ai/pai-planner/internal/gamification"
	"github.com/p-n-ai/pai-planner/internal/learner"
	"github.com/p-n-ai/pai-planner/internal/plan"
	"github.com/p-n-ai/pai-planner/internal/platform/cache"
	"github.com/p-n-ai/pai-planner/internal/progress"
)

// Curriculum is the reference data the service plans from.
type Curriculum interface {
	Grade(grade string) (*curriculum.Grade, error)
	CoreSubjects(track string) []string
	Calendar() *curriculum.Calendar
}

// Settings are the planning policy knobs.
type Settings struct {
	HorizonDays       int
	TopicsPerSubject  int
	MaxShortlist      int
	GenerationTimeout time.Duration
	LockTTL           time.Duration
	Location          *time.Location
}

func (s *Settings) applyDefaults() {
	if s.HorizonDays <= 0 {
		s.HorizonDays = plan.DefaultHorizonDays
	}
	if s.TopicsPerSubject <= 0 {
		s.TopicsPerSubject = 3
	}
	if s.MaxShortlist <= 0 {
		s.MaxShortlist = 15
	}
	if s.GenerationTimeout <= 0 {
		s.GenerationTimeout = plan.DefaultGenerationTimeout
	}
	if s.LockTTL <= 0 {
		s.LockTTL = 10 * time.Second
	}
	if s.Location == nil {
		s.Location = time.UTC
	}
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store      docstore.Gateway
	Curriculum Curriculum
	Assembler  *plan.Assembler
	Engine     *gamification.Engine
	Locker     cache.Locker
	Publisher  events.Publisher
	// Clock overrides time.Now.
	Clock func() time.Time
}

// Service is the planner's application layer.
type Service struct {
	store      docstore.Gateway
	curriculum Curriculum
	tracker    *progress.Tracker
	assembler  *plan.Assembler
	engine     *gamification.Engine
	locker     cache.Locker
	publisher  events.Publisher
	settings   Settings
	now        func() time.Time
}

// NewService wires a service. Missing optional collaborators get
// in-process defaults.
func NewService(deps Deps, settings Settings) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("planner: store is required")
	}
	if deps.Curriculum == nil {
		return nil, errors.New("planner: curriculum is required")
	}
	settings.applyDefaults()

	s := &Service{
		store:      deps.Store,
		curriculum: deps.Curriculum,
		tracker:    progress.NewTracker(deps.Store),
		assembler:  deps.Assembler,
		engine:     deps.Engine,
		locker:     deps.Locker,
		publisher:  deps.Publisher,
		settings:   settings,
		now:        time.Now,
	}
	if s.assembler == nil {
		s.assembler = plan.NewAssembler(nil)
	}
	if s.engine == nil {
		s.engine = gamification.NewEngine(deps.Store, gamification.WithLocation(settings.Location))
	}
	if s.locker == nil {
		s.locker = cache.NewLocalLocker()
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if deps.Clock != nil {
		s.now = deps.Clock
	}
	return s, nil
}

// Today returns the current calendar date in the planner's time zone.
func (s *Service) Today() civil.Date {
	return plan.Today(s.now(), s.settings.Location)
}

// mutate runs fn under the learner's lock in one transaction.
func (s *Service) mutate(ctx context.Context, learnerID string, fn func(ctx context.Context, tx docstore.Tx) error) error {
	if strings.TrimSpace(learnerID) == "" {
		return apperr.Invalid("planner", "learner id is required")
	}
	unlock, err := s.locker.Lock(ctx, "learner:"+learnerID, s.settings.LockTTL)
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.RunInTx(ctx, fn)
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		slog.Warn("event not published", "learner_id", e.LearnerID, "type", e.Type, "error", err)
	}
}

// SaveProfile validates and stores a learner profile. The grade must exist
// in the curriculum.
func (s *Service) SaveProfile(ctx context.Context, p *learner.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	g, err := s.curriculum.Grade(p.Grade)
	if err != nil {
		return apperr.Invalid("planner.SaveProfile", "unknown grade %q", p.Grade)
	}
	for _, subject := range p.Subjects {
		if _, ok := g.Subject(subject); !ok {
			return apperr.Invalid("planner.SaveProfile", "unknown subject %q for grade %s", subject, p.Grade)
		}
	}
	return s.mutate(ctx, p.LearnerID, func(ctx context.Context, tx docstore.Tx) error {
		return learner.Save(ctx, tx, p, s.now())
	})
}

// Profile returns a stored profile.
func (s *Service) Profile(ctx context.Context, learnerID string) (*learner.Profile, error) {
	return learner.Load(ctx, s.store, learnerID)
}

// Plan returns the learner's current plan.
func (s *Service) Plan(ctx context.Context, learnerID string) (*plan.Plan, error) {
	p, ok, err := plan.Load(ctx, s.store, learnerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("planner.Plan", "no plan for learner %s", learnerID)
	}
	return p, nil
}

// Progress returns the learner's progression record; absent means empty.
func (s *Service) Progress(ctx context.Context, learnerID string) (*progress.Record, error) {
	return s.tracker.Record(ctx, learnerID)
}

// Gamification returns the learner's current gamification state.
func (s *Service) Gamification(ctx context.Context, learnerID string) (*gamification.State, error) {
	return s.engine.State(ctx, learnerID)
}

// Sessions returns the learner's most recent sessions.
func (s *Service) Sessions(ctx context.Context, learnerID string, limit int) ([]gamification.SessionLog, error) {
	return s.engine.Sessions(ctx, learnerID, limit)
}

// NextTopics returns the next unseen topics of subject for the learner's
// grade, in curriculum order.
func (s *Service) NextTopics(ctx context.Context, learnerID, subject string, count int) ([]curriculum.TopicRef, error) {
	p, err := s.Profile(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	g, err := s.curriculum.Grade(p.Grade)
	if err != nil {
		return nil, err
	}
	return s.tracker.NextTopics(ctx, learnerID, g, subject, count)
}

func (s *Service) calendarFor(p *learner.Profile) plan.Calendar {
	var holidays plan.HolidayChecker
	if cal := s.curriculum.Calendar(); cal != nil {
		holidays = cal
	}
	return plan.NewCalendar(p.StudyDays, holidays)
}

// loadPlan reads the plan inside tx with the learner's calendar applied.
func (s *Service) loadPlan(ctx context.Context, tx docstore.Tx, learnerID string) (*plan.Plan, *learner.Profile, error) {
	prof, err := learner.Load(ctx, tx, learnerID)
	if err != nil {
		return nil, nil, err
	}
	p, ok, err := plan.Load(ctx, tx, learnerID)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, apperr.NotFound("planner", "no plan for learner %s", learnerID)
	}
	p.DailyBudget = prof.DailyMinutes
	p.UseCalendar(s.calendarFor(prof))
	return p, prof, nil
}

// PlaceTask puts a task on date. Without override a full day or a rest day
// is apperr.ErrCapacityExceeded.
func (s *Service) PlaceTask(ctx context.Context, learnerID, taskID string, date civil.Date, override bool) (*plan.TaskUnit, error) {
	var placed plan.TaskUnit
	err := s.mutate(ctx, learnerID, func(ctx context.Context, tx docstore.Tx) error {
		p, _, err := s.loadPlan(ctx, tx, learnerID)
		if err != nil {
			return err
		}
		if err := p.Place(taskID, date, override, s.now()); err != nil {
			return err
		}
		placed = *p.Tasks[taskID]
		return plan.Save(ctx, tx, p, s.now())
	})
	if err != nil {
		return nil, err
	}
	slog.Info("task placed", "learner_id", learnerID, "task_id", taskID, "date", date.String(), "override", override)
	return &placed, nil
}

// SkipDay moves the day's open tasks forward. Tasks that found no slot are
// listed in the result; the call still succeeds.
func (s *Service) SkipDay(ctx context.Context, learnerID string, date civil.Date) (*plan.SkipResult, error) {
	var res *plan.SkipResult
	err := s.mutate(ctx, learnerID, func(ctx context.Context, tx docstore.Tx) error {
		p, _, err := s.loadPlan(ctx, tx, learnerID)
		if err != nil {
			return err
		}
		res, err = p.SkipDay(date, s.now())
		if err != nil {
			return err
		}
		if len(res.Moved) == 0 && len(res.Unscheduled) == 0 {
			return nil
		}
		return plan.Save(ctx, tx, p, s.now())
	})
	if err != nil {
		return nil, err
	}
	if len(res.Unscheduled) > 0 {
		slog.Warn("tasks left unscheduled", "learner_id", learnerID, "date", date.String(), "task_ids", res.Unscheduled)
	}
	slog.Info("day skipped", "learner_id", learnerID, "date", date.String(), "moved", len(res.Moved))
	return res, nil
}

// CompleteInput describes how a task was finished.
type CompleteInput struct {
	// Minutes actually studied; zero means the task's planned duration.
	Minutes int
	Manual  bool
	At      time.Time
}

// CompleteResult reports the effects of completing a task.
type CompleteResult struct {
	Task           plan.TaskUnit               `json:"task"`
	TopicCompleted bool                        `json:"topic_completed"`
	Session        *gamification.SessionResult `json:"session"`
}

// CompleteTask marks a task done, records the topic as learned once all of
// its units are done, and scores the session, all in one transaction.
func (s *Service) CompleteTask(ctx context.Context, learnerID, taskID string, in CompleteInput) (*CompleteResult, error) {
	if in.Minutes < 0 {
		return nil, apperr.Invalid("planner.CompleteTask", "minutes must not be negative, got %d", in.Minutes)
	}
	if in.At.IsZero() {
		in.At = s.now()
	}
	var res CompleteResult
	err := s.mutate(ctx, learnerID, func(ctx context.Context, tx docstore.Tx) error {
		res = CompleteResult{}
		p, _, err := s.loadPlan(ctx, tx, learnerID)
		if err != nil {
			return err
		}
		task, err := p.Complete(taskID, in.At)
		if err != nil {
			return err
		}
		res.Task = *task

		if topicDone(p, task) {
			if _, err := progress.RecordCompletionTx(ctx, tx, learnerID, task.Subject, task.Topic, s.now()); err != nil {
				return err
			}
			res.TopicCompleted = true
		}

		minutes := in.Minutes
		if minutes == 0 {
			minutes = task.DurationMinutes
		}
		res.Session, err = s.engine.RecordSessionTx(ctx, tx, gamification.SessionInput{
			LearnerID:       learnerID,
			Subject:         task.Subject,
			Topic:           task.Topic,
			TaskID:          task.ID,
			DurationMinutes: minutes,
			Manual:          in.Manual,
			At:              in.At,
		}, p)
		if err != nil {
			return err
		}
		return plan.Save(ctx, tx, p, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.New(learnerID, events.TaskCompleted, map[string]any{
		"task_id":         res.Task.ID,
		"subject":         res.Task.Subject,
		"topic":           res.Task.Topic,
		"topic_completed": res.TopicCompleted,
	}))
	s.engine.Announce(ctx, learnerID, res.Session)
	return &res, nil
}

func topicDone(p *plan.Plan, done *plan.TaskUnit) bool {
	for _, t := range p.Tasks {
		if t.Subject == done.Subject && t.Topic == done.Topic && !t.Completed() {
			return false
		}
	}
	return true
}

// RecordSession scores a free study session that is not tied to a task.
func (s *Service) RecordSession(ctx context.Context, in gamification.SessionInput) (*gamification.SessionResult, error) {
	var res *gamification.SessionResult
	err := s.mutate(ctx, in.LearnerID, func(ctx context.Context, tx docstore.Tx) error {
		p, _, err := plan.Load(ctx, tx, in.LearnerID)
		if err != nil {
			return err
		}
		res, err = s.engine.RecordSessionTx(ctx, tx, in, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.engine.Announce(ctx, in.LearnerID, res)
	return res, nil
}

// learnerContext is what the content generator may know about a learner.
func learnerContext(p *learner.Profile) content.LearnerContext {
	return content.LearnerContext{
		Grade:          p.Grade,
		LearningStyle:  string(p.LearningStyle),
		SessionMinutes: p.SessionMinutes,
		WeakSubjects:   p.LowConfidenceSubjects(),
	}
}
