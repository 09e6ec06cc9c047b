package plan

import (
	"context"
	"time"

	"github.com/p-n-ai/pai-planner/internal/docstore"
)

// Path returns the document path of a learner's current plan.
func Path(learnerID string) string {
	return docstore.Join("learners", learnerID, "plan", "current")
}

// Load reads the learner's plan through tx. It reports false when the
// learner has no plan yet.
func Load(ctx context.Context, tx docstore.Tx, learnerID string) (*Plan, bool, error) {
	p := &Plan{}
	ok, err := docstore.GetInto(ctx, tx, Path(learnerID), p)
	if err != nil || !ok {
		return nil, false, err
	}
	p.ensureMaps()
	if p.LearnerID == "" {
		p.LearnerID = learnerID
	}
	return p, true, nil
}

// Save writes the whole plan through tx.
func Save(ctx context.Context, tx docstore.Tx, p *Plan, now time.Time) error {
	p.UpdatedAt = now.UTC()
	return tx.Set(ctx, Path(p.LearnerID), p, false)
}
