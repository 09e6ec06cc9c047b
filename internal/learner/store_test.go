package learner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/docstore"
	"github.com/p-n-ai/pai-planner/internal/learner"
)

func TestStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()

	if _, err := learner.Load(ctx, store, "l1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Load(missing) error = %v, want ErrNotFound", err)
	}

	p := validProfile()
	if err := learner.Save(ctx, store, &p, time.Now()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := learner.Load(ctx, store, p.LearnerID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Grade != p.Grade || got.DailyMinutes != p.DailyMinutes || len(got.StudyDays) != len(p.StudyDays) {
		t.Errorf("Load() = %+v, want %+v", got, p)
	}

	bad := validProfile()
	bad.DailyMinutes = 0
	if err := learner.Save(ctx, store, &bad, time.Now()); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("Save(invalid) error = %v, want ErrInvalidArgument", err)
	}
}
