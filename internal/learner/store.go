package learner

import (
	"context"
	"time"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/docstore"
)

// Path returns the document path of a learner's profile.
func Path(learnerID string) string {
	return docstore.Join("learners", learnerID, "profile", "current")
}

// Load reads a profile through tx. A missing profile is apperr.ErrNotFound.
func Load(ctx context.Context, tx docstore.Tx, learnerID string) (*Profile, error) {
	p := &Profile{}
	ok, err := docstore.GetInto(ctx, tx, Path(learnerID), p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("learner.Load", "no profile for learner %s", learnerID)
	}
	return p, nil
}

// Save validates and writes a profile through tx.
func Save(ctx context.Context, tx docstore.Tx, p *Profile, now time.Time) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = now.UTC()
	return tx.Set(ctx, Path(p.LearnerID), p, false)
}
