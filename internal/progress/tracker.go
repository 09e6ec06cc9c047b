// Package progress tracks which curriculum topics each learner has completed.
package progress

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/curriculum"
	"github.com/p-n-ai/pai-planner/internal/docstore"
)

// Record is the set of completed topics per subject. Sets only grow.
type Record struct {
	LearnerID string `json:"learner_id"`
	// Completed maps a canonical subject name to topic names in completion order.
	Completed map[string][]string `json:"completed"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Has reports whether topic is completed for subject.
func (r *Record) Has(subject, topic string) bool {
	if r == nil {
		return false
	}
	return slices.Contains(r.Completed[curriculum.CanonicalSubject(subject)], strings.TrimSpace(topic))
}

// Count returns the number of completed topics in subject.
func (r *Record) Count(subject string) int {
	if r == nil {
		return 0
	}
	return len(r.Completed[curriculum.CanonicalSubject(subject)])
}

func (r *Record) add(subject, topic string) bool {
	if r.Has(subject, topic) {
		return false
	}
	if r.Completed == nil {
		r.Completed = make(map[string][]string)
	}
	key := curriculum.CanonicalSubject(subject)
	r.Completed[key] = append(r.Completed[key], strings.TrimSpace(topic))
	return true
}

// Path returns the document path of a learner's progression record.
func Path(learnerID string) string {
	return docstore.Join("learners", learnerID, "progress", "curriculum")
}

// Tracker reads and appends progression records.
type Tracker struct {
	store docstore.Gateway
	now   func() time.Time
}

// NewTracker creates a tracker over store.
func NewTracker(store docstore.Gateway) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Record loads a learner's record. A learner with no record yet has an
// empty one.
func (t *Tracker) Record(ctx context.Context, learnerID string) (*Record, error) {
	return Load(ctx, t.store, learnerID)
}

// Load reads the record through tx. Absent means empty.
func Load(ctx context.Context, tx docstore.Tx, learnerID string) (*Record, error) {
	rec := &Record{LearnerID: learnerID}
	if _, err := docstore.GetInto(ctx, tx, Path(learnerID), rec); err != nil {
		return nil, err
	}
	if rec.Completed == nil {
		rec.Completed = make(map[string][]string)
	}
	return rec, nil
}

// NextTopics returns up to count topics of subject not yet completed, in
// curriculum order. An exhausted subject yields an empty slice.
func (t *Tracker) NextTopics(ctx context.Context, learnerID string, g *curriculum.Grade, subject string, count int) ([]curriculum.TopicRef, error) {
	if count < 0 {
		return nil, apperr.Invalid("progress.NextTopics", "count must not be negative, got %d", count)
	}
	if _, ok := g.Subject(subject); !ok {
		return nil, apperr.Invalid("progress.NextTopics", "unknown subject %q for grade %s", subject, g.Grade)
	}
	rec, err := t.Record(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	return NextFrom(rec, g, subject, count), nil
}

// NextFrom is the pure form of NextTopics.
func NextFrom(rec *Record, g *curriculum.Grade, subject string, count int) []curriculum.TopicRef {
	out := []curriculum.TopicRef{}
	for _, ref := range g.Topics(subject) {
		if len(out) >= count {
			break
		}
		if !rec.Has(subject, ref.Topic.Name) {
			out = append(out, ref)
		}
	}
	return out
}

// RecordCompletion marks topic completed. It reports whether the topic
// was newly added; repeating the call is a no-op.
func (t *Tracker) RecordCompletion(ctx context.Context, learnerID, subject, topic string) (bool, error) {
	var added bool
	err := t.store.RunInTx(ctx, func(ctx context.Context, tx docstore.Tx) error {
		var err error
		added, err = RecordCompletionTx(ctx, tx, learnerID, subject, topic, t.now())
		return err
	})
	return added, err
}

// RecordCompletionTx is RecordCompletion inside a caller's transaction.
func RecordCompletionTx(ctx context.Context, tx docstore.Tx, learnerID, subject, topic string, now time.Time) (bool, error) {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(topic) == "" {
		return false, apperr.Invalid("progress.RecordCompletion", "subject and topic are required")
	}
	rec, err := Load(ctx, tx, learnerID)
	if err != nil {
		return false, err
	}
	if !rec.add(subject, topic) {
		return false, nil
	}
	rec.UpdatedAt = now.UTC()
	if err := tx.Set(ctx, Path(learnerID), rec, false); err != nil {
		return false, err
	}
	return true, nil
}

// Shortlist keeps, for every subject in pool, the first perSubject
// candidates rec has not completed, in curriculum order. Subjects appear in
// the order they first occur in the curriculum.
func Shortlist(rec *Record, pool []curriculum.Candidate, perSubject int) []curriculum.Candidate {
	ordered := slices.Clone(pool)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	taken := make(map[string]int)
	out := []curriculum.Candidate{}
	for _, c := range ordered {
		key := curriculum.CanonicalSubject(c.Subject)
		if taken[key] >= perSubject || rec.Has(c.Subject, c.Topic) {
			continue
		}
		taken[key]++
		out = append(out, c)
	}
	return out
}
