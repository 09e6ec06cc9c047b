package gamification

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/curriculum"
	"github.com/p-n-ai/pai-planner/internal/docstore"
	"github.com/p-n-ai/pai-planner/internal/events"
	"github.com/p-n-ai/pai-planner/internal/learner"
	"github.com/p-n-ai/pai-planner/internal/plan"
)

// MaxClockSkew is how far past the engine's clock a session may be dated.
const MaxClockSkew = 5 * time.Minute

// Leaderboard receives a learner's total XP after each committed session.
type Leaderboard interface {
	SetXP(ctx context.Context, learnerID string, xp int64) error
}

// SessionInput is one completed study session.
type SessionInput struct {
	LearnerID       string    `json:"learner_id"`
	Subject         string    `json:"subject"`
	Topic           string    `json:"topic,omitempty"`
	TaskID          string    `json:"task_id,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	Manual          bool      `json:"manual"`
	At              time.Time `json:"at"`
}

// SessionLog is the stored record of a session.
type SessionLog struct {
	ID              string     `json:"id"`
	LearnerID       string     `json:"learner_id"`
	Subject         string     `json:"subject"`
	Topic           string     `json:"topic,omitempty"`
	TaskID          string     `json:"task_id,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	Manual          bool       `json:"manual"`
	XPGained        int        `json:"xp_gained"`
	Date            civil.Date `json:"date"`
	At              time.Time  `json:"at"`
	// AtMillis orders the log; At's text form does not sort reliably.
	AtMillis int64 `json:"at_ms"`
}

// SessionResult reports the effects of one session.
type SessionResult struct {
	SessionID     string   `json:"session_id"`
	XPGained      int      `json:"xp_gained"`
	PreviousLevel int      `json:"previous_level"`
	NewBadges     []string `json:"new_badges"`
	State         State    `json:"state"`
}

// LeveledUp reports whether the session raised the level.
func (r *SessionResult) LeveledUp() bool {
	return r.State.Level > r.PreviousLevel
}

// Engine applies sessions to gamification state.
type Engine struct {
	store       docstore.Gateway
	xpPerLevel  int
	loc         *time.Location
	publisher   events.Publisher
	leaderboard Leaderboard
	now         func() time.Time
	newID       func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithXPPerLevel sets the experience needed per level.
func WithXPPerLevel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.xpPerLevel = n
		}
	}
}

// WithLocation sets the time zone that defines calendar days.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithPublisher sets where level-up and badge events go.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithLeaderboard sets the leaderboard updated after each session.
func WithLeaderboard(l Leaderboard) Option {
	return func(e *Engine) { e.leaderboard = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over store.
func NewEngine(store docstore.Gateway, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		xpPerLevel: DefaultXPPerLevel,
		loc:        time.UTC,
		publisher:  events.Nop{},
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// XPPerLevel returns the configured experience per level.
func (e *Engine) XPPerLevel() int {
	return e.xpPerLevel
}

// State returns a learner's state as of now, with a broken streak shown
// as zero. A learner with no sessions has the zero state at level 1.
func (e *Engine) State(ctx context.Context, learnerID string) (*State, error) {
	s, err := LoadState(ctx, e.store, learnerID)
	if err != nil {
		return nil, err
	}
	s.Level = LevelFor(s.XP, e.xpPerLevel)
	s.Decay(civil.DateOf(e.now().In(e.loc)))
	return s, nil
}

// LoadState reads the stored state through tx. Absent means zero.
func LoadState(ctx context.Context, tx docstore.Tx, learnerID string) (*State, error) {
	s := &State{LearnerID: learnerID}
	if _, err := docstore.GetInto(ctx, tx, StatePath(learnerID), s); err != nil {
		return nil, err
	}
	if s.Badges == nil {
		s.Badges = []string{}
	}
	if s.SubjectMinutes == nil {
		s.SubjectMinutes = make(map[string]int)
	}
	if s.Level == 0 {
		s.Level = 1
	}
	return s, nil
}

// RecordSession applies one session in a single transaction, then
// announces level-ups and badges.
func (e *Engine) RecordSession(ctx context.Context, in SessionInput) (*SessionResult, error) {
	var res *SessionResult
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx docstore.Tx) error {
		p, _, err := plan.Load(ctx, tx, in.LearnerID)
		if err != nil {
			return err
		}
		res, err = e.RecordSessionTx(ctx, tx, in, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.Announce(ctx, in.LearnerID, res)
	return res, nil
}

// RecordSessionTx applies a session inside the caller's transaction. p is
// the learner's plan as it will be committed, used by badge predicates; it
// may be nil. The caller must call Announce after the commit.
func (e *Engine) RecordSessionTx(ctx context.Context, tx docstore.Tx, in SessionInput, p *plan.Plan) (*SessionResult, error) {
	const op = "gamification.RecordSession"
	if strings.TrimSpace(in.LearnerID) == "" {
		return nil, apperr.Invalid(op, "learner_id is required")
	}
	if in.DurationMinutes < 1 || in.DurationMinutes > MaxSessionMinutes {
		return nil, apperr.Invalid(op, "duration must be in [1, %d] minutes, got %d", MaxSessionMinutes, in.DurationMinutes)
	}
	now := e.now()
	if in.At.IsZero() {
		in.At = now
	}
	if in.At.After(now.Add(MaxClockSkew)) {
		return nil, apperr.Invalid(op, "session time %s is in the future", in.At.UTC().Format(time.RFC3339))
	}

	state, err := LoadState(ctx, tx, in.LearnerID)
	if err != nil {
		return nil, err
	}
	profile, err := learner.Load(ctx, tx, in.LearnerID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	today := civil.DateOf(in.At.In(e.loc))
	prevLevel := LevelFor(state.XP, e.xpPerLevel)
	gained := XPGained(in.DurationMinutes, in.Manual)

	state.XP += gained
	state.Level = LevelFor(state.XP, e.xpPerLevel)
	state.Streak = NextStreak(state.LastActivityDate, today, state.Streak)
	if state.LastActivityDate == nil || today.After(*state.LastActivityDate) {
		state.LastActivityDate = &today
	}
	state.Sessions++
	state.TotalMinutes += in.DurationMinutes
	if subject := curriculum.CanonicalSubject(in.Subject); subject != "" {
		state.SubjectMinutes[subject] += in.DurationMinutes
	}
	state.UpdatedAt = now.UTC()

	awarded := Evaluate(BadgeInput{Profile: profile, State: state, Plan: p, Location: e.loc})

	log := SessionLog{
		ID:              e.newID(),
		LearnerID:       in.LearnerID,
		Subject:         in.Subject,
		Topic:           in.Topic,
		TaskID:          in.TaskID,
		DurationMinutes: in.DurationMinutes,
		Manual:          in.Manual,
		XPGained:        gained,
		Date:            today,
		At:              in.At.UTC(),
		AtMillis:        in.At.UnixMilli(),
	}
	if err := tx.Set(ctx, SessionPath(in.LearnerID, log.ID), log, false); err != nil {
		return nil, err
	}
	if err := tx.Set(ctx, StatePath(in.LearnerID), state, false); err != nil {
		return nil, err
	}

	return &SessionResult{
		SessionID:     log.ID,
		XPGained:      gained,
		PreviousLevel: prevLevel,
		NewBadges:     awarded,
		State:         *state,
	}, nil
}

// Announce publishes the events of a committed session and updates the
// leaderboard. Failures are logged; the session itself is already stored.
func (e *Engine) Announce(ctx context.Context, learnerID string, res *SessionResult) {
	if res == nil {
		return
	}
	if res.LeveledUp() {
		ev := events.New(learnerID, events.LevelUp, map[string]any{
			"level":          res.State.Level,
			"previous_level": res.PreviousLevel,
			"xp":             res.State.XP,
		})
		if err := e.publisher.Publish(ctx, ev); err != nil {
			slog.Warn("level up event not published", "learner_id", learnerID, "error", err)
		}
	}
	for _, id := range res.NewBadges {
		data := map[string]any{"badge": id}
		if b, ok := Lookup(id); ok {
			data["name"] = b.Name
		}
		ev := events.New(learnerID, events.BadgeAwarded, data)
		if err := e.publisher.Publish(ctx, ev); err != nil {
			slog.Warn("badge event not published", "learner_id", learnerID, "badge", id, "error", err)
		}
	}
	if e.leaderboard != nil {
		if err := e.leaderboard.SetXP(ctx, learnerID, int64(res.State.XP)); err != nil {
			slog.Warn("leaderboard update failed", "learner_id", learnerID, "error", err)
		}
	}

	slog.Info("session recorded",
		"learner_id", learnerID,
		"session_id", res.SessionID,
		"xp_gained", res.XPGained,
		"level", res.State.Level,
		"streak", res.State.Streak,
		"new_badges", len(res.NewBadges),
	)
}

// Sessions returns a learner's session log, newest first.
func (e *Engine) Sessions(ctx context.Context, learnerID string, limit int) ([]SessionLog, error) {
	docs, err := e.store.Query(ctx, docstore.Query{
		Collection: SessionCollection(learnerID),
		OrderBy:    "at_ms",
		Desc:       true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]SessionLog, 0, len(docs))
	for _, d := range docs {
		var s SessionLog
		if err := d.Decode(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
