package gamification

import (
	"slices"
	"time"

	"cloud.google.com/go/civil"

	"github.com/p-n-ai/pai-planner/internal/docstore"
)

// State is a learner's gamification record. Level is cached from XP and
// rewritten on every update; badges are never removed.
type State struct {
	LearnerID        string         `json:"learner_id"`
	XP               int            `json:"xp"`
	Level            int            `json:"level"`
	Streak           int            `json:"streak"`
	LastActivityDate *civil.Date    `json:"last_activity_date,omitempty"`
	Badges           []string       `json:"badges"`
	Sessions         int            `json:"sessions"`
	TotalMinutes     int            `json:"total_minutes"`
	SubjectMinutes   map[string]int `json:"subject_minutes"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// HasBadge reports whether id was awarded.
func (s *State) HasBadge(id string) bool {
	return slices.Contains(s.Badges, id)
}

func (s *State) award(id string) bool {
	if s.HasBadge(id) {
		return false
	}
	s.Badges = append(s.Badges, id)
	return true
}

// Decay zeroes a streak that was broken before today. Stored state keeps
// the last value until the next session; Decay is for reads.
func (s *State) Decay(today civil.Date) {
	if s.LastActivityDate == nil {
		s.Streak = 0
		return
	}
	if today.After(s.LastActivityDate.AddDays(1)) {
		s.Streak = 0
	}
}

// StatePath returns the document path of a learner's gamification state.
func StatePath(learnerID string) string {
	return docstore.Join("learners", learnerID, "gamification", "state")
}

// SessionPath returns the document path of one session log entry.
func SessionPath(learnerID, sessionID string) string {
	return docstore.Join(SessionCollection(learnerID), sessionID)
}

// SessionCollection returns the collection holding a learner's sessions.
func SessionCollection(learnerID string) string {
	return docstore.Join("learners", learnerID, "sessions")
}
