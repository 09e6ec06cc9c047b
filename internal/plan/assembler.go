package plan

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/content"
	"github.com/p-n-ai/pai-planner/internal/curriculum"
	"github.com/p-n-ai/pai-planner/internal/learner"
)

// MaxUnitsPerTopic bounds how many units one topic is split into.
const MaxUnitsPerTopic = 3

// DefaultGenerationTimeout applies when AssembleRequest.Timeout is zero.
const DefaultGenerationTimeout = 30 * time.Second

// AssembleRequest is the input of one assembly.
type AssembleRequest struct {
	LearnerID      string
	Shortlist      []curriculum.Candidate
	SessionMinutes int
	// LowConfidence lists the subjects the learner reported low confidence in.
	LowConfidence []string
	// FirstCycle restricts the pool to LowConfidence subjects.
	FirstCycle bool
	Learner    content.LearnerContext
	Timeout    time.Duration
}

// Pool is the set of unplaced units produced by one assembly.
type Pool struct {
	ID                    string             `json:"id"`
	Units                 []*TaskUnit        `json:"units"`
	Topics                []content.TopicRef `json:"topics"`
	TotalEstimatedMinutes int                `json:"total_estimated_minutes"`
	Fallback              bool               `json:"fallback"`
	CreatedAt             time.Time          `json:"created_at"`

	// Selected are the candidates the units were built from.
	Selected []curriculum.Candidate `json:"-"`
}

// Assembler turns a topic shortlist into time-boxed task units.
type Assembler struct {
	gen      content.Generator
	fallback content.Generator
	newID    func() string
	now      func() time.Time
	logger   *slog.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithLogger sets the logger used for generation warnings.
func WithLogger(l *slog.Logger) AssemblerOption {
	return func(a *Assembler) { a.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) AssemblerOption {
	return func(a *Assembler) { a.now = now }
}

// WithIDs overrides unit id generation.
func WithIDs(newID func() string) AssemblerOption {
	return func(a *Assembler) { a.newID = newID }
}

// NewAssembler creates an assembler. A nil gen uses the deterministic
// template for every payload.
func NewAssembler(gen content.Generator, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		gen:      gen,
		fallback: content.Template{},
		newID:    uuid.NewString,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.gen == nil {
		a.gen = a.fallback
	}
	return a
}

// Assemble builds the unplaced units for req. Generator failures never fail
// the assembly: after one retry the template payload is used instead. Only a
// cancelled caller context or invalid input is returned as an error.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) (*Pool, error) {
	const op = "plan.Assemble"
	if req.SessionMinutes < learner.MinSessionMinutes || req.SessionMinutes > learner.MaxSessionMinutes {
		return nil, apperr.Invalid(op, "session length must be in [%d, %d], got %d",
			learner.MinSessionMinutes, learner.MaxSessionMinutes, req.SessionMinutes)
	}

	selected := SelectTopics(req.Shortlist, req.LowConfidence, req.FirstCycle)
	pool := &Pool{
		ID:        a.newID(),
		Units:     []*TaskUnit{},
		Topics:    make([]content.TopicRef, 0, len(selected)),
		CreatedAt: a.now().UTC(),
		Selected:  selected,
	}
	if len(selected) == 0 {
		return pool, nil
	}
	for _, c := range selected {
		pool.Topics = append(pool.Topics, content.TopicRef{Subject: c.Subject, Topic: c.Topic})
	}

	lc := req.Learner
	lc.SessionMinutes = req.SessionMinutes
	resp, fellBack, err := a.generate(ctx, content.Request{Topics: pool.Topics, Learner: lc}, req.Timeout)
	if err != nil {
		return nil, err
	}
	pool.Fallback = fellBack

	for _, c := range selected {
		ref := content.TopicRef{Subject: c.Subject, Topic: c.Topic}
		payload, ok := resp.Find(c.Subject, c.Topic)
		if !ok {
			payload = content.TemplatePayload(ref, lc)
			pool.Fallback = true
		}
		for i, part := range Split(c.EstimatedMinutes, req.SessionMinutes, req.Learner.LearningStyle) {
			unit := &TaskUnit{
				ID:              a.newID(),
				PoolID:          pool.ID,
				Subject:         c.Subject,
				Unit:            c.Unit,
				Topic:           c.Topic,
				SessionType:     part.Type,
				Sequence:        i + 1,
				DurationMinutes: part.Minutes,
				State:           StateUnplaced,
				Payload:         payload,
				CreatedAt:       pool.CreatedAt,
			}
			unit.Payload.Title = payload.Title + " - " + part.Type.Label()
			pool.Units = append(pool.Units, unit)
			pool.TotalEstimatedMinutes += part.Minutes
		}
	}

	a.logger.Info("task pool assembled",
		"learner_id", req.LearnerID,
		"pool_id", pool.ID,
		"topics", len(selected),
		"units", len(pool.Units),
		"total_minutes", pool.TotalEstimatedMinutes,
		"fallback", pool.Fallback,
	)
	return pool, nil
}

// generate calls the generator with one bounded retry. It reports whether
// the template was used.
func (a *Assembler) generate(ctx context.Context, req content.Request, timeout time.Duration) (*content.Response, bool, error) {
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := a.gen.Generate(attemptCtx, req)
		cancel()
		if err == nil {
			return resp, false, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		lastErr = err
		a.logger.Warn("content generation failed",
			"attempt", attempt,
			"format_error", errors.Is(err, apperr.ErrGenerationFormat),
			"error", err,
		)
	}

	a.logger.Warn("using template content", "topics", len(req.Topics), "error", lastErr)
	resp, err := a.fallback.Generate(ctx, req)
	if err != nil {
		return nil, false, err
	}
	return resp, true, nil
}

// SelectTopics narrows the shortlist for the first planning cycle to
// low-confidence subjects. When none of them appear, the whole shortlist is
// kept so the learner still gets a plan.
func SelectTopics(shortlist []curriculum.Candidate, lowConfidence []string, firstCycle bool) []curriculum.Candidate {
	if !firstCycle || len(lowConfidence) == 0 {
		return shortlist
	}
	weak := make(map[string]bool, len(lowConfidence))
	for _, s := range lowConfidence {
		weak[curriculum.CanonicalSubject(s)] = true
	}
	var out []curriculum.Candidate
	for _, c := range shortlist {
		if weak[curriculum.CanonicalSubject(c.Subject)] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return shortlist
	}
	return out
}

// Part is one slice of a topic's effort.
type Part struct {
	Type    SessionType
	Minutes int
}

var sequences = [MaxUnitsPerTopic][]SessionType{
	{SessionIntroduction},
	{SessionIntroduction, SessionPractice},
	{SessionIntroduction, SessionWorkedExamples, SessionPractice},
}

// Split divides estimated minutes into one to three parts. Practice and
// worked examples never exceed the session length; introductions and videos
// may run to one and a half sessions.
func Split(estimated, session int, style string) []Part {
	if estimated <= 0 {
		estimated = curriculum.DefaultTopicMinutes
	}
	if session <= 0 {
		session = estimated
	}

	n := (estimated + session - 1) / session
	n = max(1, min(n, MaxUnitsPerTopic))
	base := max(1, (estimated+n-1)/n)

	parts := make([]Part, 0, n)
	for _, st := range sequences[n-1] {
		if st == SessionIntroduction && style == string(learner.StyleVisual) {
			st = SessionVideo
		}
		parts = append(parts, Part{Type: st, Minutes: min(base, sessionCap(st, session))})
	}
	return parts
}

func sessionCap(st SessionType, session int) int {
	switch st {
	case SessionIntroduction, SessionVideo:
		return int(math.Floor(1.5 * float64(session)))
	}
	return session
}
