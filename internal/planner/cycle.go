package planner

import (
	"context"
	"log/slog"

	"cloud.google.com/go/civil"

	"github.com/p-n-ai/pai-planner/internal/curriculum"
	"github.com/p-n-ai/pai-planner/internal/docstore"
	"github.com/p-n-ai/pai-planner/internal/events"
	"github.com/p-n-ai/pai-planner/internal/learner"
	"github.com/p-n-ai/pai-planner/internal/plan"
	"github.com/p-n-ai/pai-planner/internal/progress"
)

// CycleResult reports one planning cycle.
type CycleResult struct {
	Plan     *plan.Plan `json:"plan"`
	Pool     *plan.Pool `json:"pool"`
	Unplaced []string   `json:"unplaced"`
}

// GeneratePlan runs one planning cycle: it selects the next topics, builds
// task units for them and places the units from start (tomorrow when nil).
// The shortlist and content are prepared without holding the learner's
// lock; only the final write is locked. A failed cycle leaves the stored
// plan untouched and can be rerun as a whole.
func (s *Service) GeneratePlan(ctx context.Context, learnerID string, start *civil.Date) (*CycleResult, error) {
	prof, err := learner.Load(ctx, s.store, learnerID)
	if err != nil {
		return nil, err
	}
	g, err := s.curriculum.Grade(prof.Grade)
	if err != nil {
		return nil, err
	}
	rec, err := progress.Load(ctx, s.store, learnerID)
	if err != nil {
		return nil, err
	}
	current, _, err := plan.Load(ctx, s.store, learnerID)
	if err != nil {
		return nil, err
	}

	shortlist, err := s.Shortlist(prof, g, rec, current)
	if err != nil {
		return nil, err
	}

	pool, err := s.assembler.Assemble(ctx, plan.AssembleRequest{
		LearnerID:      learnerID,
		Shortlist:      shortlist,
		SessionMinutes: prof.SessionMinutes,
		LowConfidence:  prof.LowConfidenceSubjects(),
		FirstCycle:     current == nil || current.Cycle == 0,
		Learner:        learnerContext(prof),
		Timeout:        s.settings.GenerationTimeout,
	})
	if err != nil {
		return nil, err
	}

	from := s.Today().AddDays(1)
	if start != nil {
		from = *start
	}

	var res CycleResult
	err = s.mutate(ctx, learnerID, func(ctx context.Context, tx docstore.Tx) error {
		p, ok, err := plan.Load(ctx, tx, learnerID)
		if err != nil {
			return err
		}
		if !ok {
			p = plan.New(learnerID, prof.DailyMinutes, s.settings.HorizonDays)
		}
		p.DailyBudget = prof.DailyMinutes
		p.HorizonDays = s.settings.HorizonDays
		p.UseCalendar(s.calendarFor(prof))
		p.Cycle++

		units := make([]*plan.TaskUnit, len(pool.Units))
		for i, u := range pool.Units {
			copied := *u
			units[i] = &copied
		}
		if err := p.Add(units...); err != nil {
			return err
		}
		res = CycleResult{Plan: p, Pool: pool, Unplaced: p.AutoPlace(from)}
		return plan.Save(ctx, tx, p, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.New(learnerID, events.PlanReady, map[string]any{
		"cycle":         res.Plan.Cycle,
		"pool_id":       pool.ID,
		"units":         len(pool.Units),
		"unplaced":      len(res.Unplaced),
		"total_minutes": pool.TotalEstimatedMinutes,
		"fallback":      pool.Fallback,
	}))
	slog.Info("plan generated",
		"learner_id", learnerID,
		"cycle", res.Plan.Cycle,
		"units", len(pool.Units),
		"unplaced", len(res.Unplaced),
		"start", from.String(),
	)
	return &res, nil
}

// Shortlist picks the next unseen topics of every allowed subject, drops
// topics that already have units in the current plan, and orders the rest
// by combined weight, capped at the configured maximum.
func (s *Service) Shortlist(prof *learner.Profile, g *curriculum.Grade, rec *progress.Record, current *plan.Plan) ([]curriculum.Candidate, error) {
	pool, err := curriculum.BuildPool(g, curriculum.PoolRequest{
		Subjects:     prof.Subjects,
		Track:        prof.Track,
		CoreSubjects: s.curriculum.CoreSubjects(prof.Track),
		TargetExam:   prof.TargetExam,
	})
	if err != nil {
		return nil, err
	}

	if current != nil {
		planned := make(map[string]bool)
		for _, t := range current.Tasks {
			planned[curriculum.CanonicalSubject(t.Subject)+"\x00"+t.Topic] = true
		}
		kept := pool[:0:0]
		for _, c := range pool {
			if !planned[curriculum.CanonicalSubject(c.Subject)+"\x00"+c.Topic] {
				kept = append(kept, c)
			}
		}
		pool = kept
	}

	next := progress.Shortlist(rec, pool, s.settings.TopicsPerSubject)
	ranked := curriculum.ApplyConfidence(next, prof.Confidence)
	curriculum.Rank(ranked)
	if len(ranked) > s.settings.MaxShortlist {
		ranked = ranked[:s.settings.MaxShortlist]
	}
	return ranked, nil
}
