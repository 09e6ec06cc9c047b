package curriculum

import (
	"slices"
	"sort"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/learner"
)

// CoreTrackMultiplier boosts subjects that are core to the learner's track.
const CoreTrackMultiplier = 1.5

// PoolRequest selects candidates from one grade.
type PoolRequest struct {
	// Subjects is the allow-list. Empty means every subject of the grade.
	Subjects []string
	Track    string
	// CoreSubjects are the subjects boosted for Track.
	CoreSubjects []string
	// TargetExam picks the exam-relevance entry; empty means medium relevance.
	TargetExam string
}

// Candidate is a weighted topic considered for a planning cycle.
type Candidate struct {
	Subject          string  `json:"subject"`
	Unit             string  `json:"unit"`
	Topic            string  `json:"topic"`
	Order            int     `json:"order"`
	Importance       Level   `json:"importance"`
	Difficulty       Level   `json:"difficulty"`
	ExamRelevance    Level   `json:"exam_relevance"`
	EstimatedMinutes int     `json:"estimated_minutes"`
	TrackWeight      float64 `json:"track_weight"`
	// Weight combines track, exam relevance and importance.
	Weight           float64 `json:"weight"`
	ConfidenceWeight float64 `json:"confidence_weight"`
	CombinedWeight   float64 `json:"combined_weight"`
}

func levelFactor(l Level) float64 {
	switch l.OrMedium() {
	case LevelHigh:
		return 1.25
	case LevelLow:
		return 0.75
	}
	return 1.0
}

// BuildPool flattens the grade's allowed subjects into weighted candidates
// in curriculum order. An allow-list entry that names no subject of the
// grade is ErrInvalidArgument.
func BuildPool(g *Grade, req PoolRequest) ([]Candidate, error) {
	if g == nil {
		return nil, apperr.NotFound("curriculum.BuildPool", "no curriculum for grade")
	}

	allowed := make(map[string]bool, len(req.Subjects))
	for _, s := range req.Subjects {
		if _, ok := g.Subject(s); !ok {
			return nil, apperr.Invalid("curriculum.BuildPool", "unknown subject %q for grade %s", s, g.Grade)
		}
		allowed[CanonicalSubject(s)] = true
	}
	core := make(map[string]bool, len(req.CoreSubjects))
	for _, s := range req.CoreSubjects {
		core[CanonicalSubject(s)] = true
	}

	var pool []Candidate
	order := 0
	for _, s := range g.Subjects {
		key := CanonicalSubject(s.Name)
		include := len(allowed) == 0 || allowed[key]
		for _, u := range s.Units {
			for _, t := range u.Topics {
				if include {
					pool = append(pool, candidateFor(s.Name, u.Name, t, order, req, core[key]))
				}
				order++
			}
		}
	}
	return pool, nil
}

func candidateFor(subject, unit string, t Topic, order int, req PoolRequest, isCore bool) Candidate {
	trackWeight := 1.0
	if w, ok := t.TrackWeight[req.Track]; ok && w > 0 {
		trackWeight = w
	}
	if isCore {
		trackWeight *= CoreTrackMultiplier
	}

	exam := LevelMedium
	if req.TargetExam != "" {
		exam = t.ExamRelevance[req.TargetExam].OrMedium()
	}
	importance := t.Importance.OrMedium()

	return Candidate{
		Subject:          subject,
		Unit:             unit,
		Topic:            t.Name,
		Order:            order,
		Importance:       importance,
		Difficulty:       t.Difficulty.OrMedium(),
		ExamRelevance:    exam,
		EstimatedMinutes: t.Minutes(),
		TrackWeight:      trackWeight,
		Weight:           trackWeight * levelFactor(exam) * levelFactor(importance),
		ConfidenceWeight: 1.0,
		CombinedWeight:   trackWeight * levelFactor(exam) * levelFactor(importance),
	}
}

// ConfidenceWeight maps reported confidence to a priority multiplier.
// Lower confidence means more repetition is needed.
func ConfidenceWeight(c learner.Confidence) float64 {
	switch c {
	case learner.ConfidenceLow:
		return 2.0
	case learner.ConfidenceHigh:
		return 0.7
	}
	return 1.0
}

// ApplyConfidence returns a copy of pool with CombinedWeight rescaled by the
// learner's confidence in each subject. Unreported subjects count as medium.
// Durations are never touched.
func ApplyConfidence(pool []Candidate, confidence map[string]learner.Confidence) []Candidate {
	byKey := make(map[string]learner.Confidence, len(confidence))
	for s, c := range confidence {
		byKey[CanonicalSubject(s)] = c
	}

	out := slices.Clone(pool)
	for i := range out {
		c, ok := byKey[CanonicalSubject(out[i].Subject)]
		if !ok {
			c = learner.ConfidenceMedium
		}
		out[i].ConfidenceWeight = ConfidenceWeight(c)
		out[i].CombinedWeight = out[i].ConfidenceWeight * out[i].Weight
	}
	return out
}

// Rank sorts candidates by CombinedWeight, highest first. Ties keep
// curriculum order.
func Rank(pool []Candidate) {
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].CombinedWeight != pool[j].CombinedWeight {
			return pool[i].CombinedWeight > pool[j].CombinedWeight
		}
		return pool[i].Order < pool[j].Order
	})
}
