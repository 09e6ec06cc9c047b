// Package plan packages topics into time-boxed task units and schedules
// them onto calendar days under a daily time budget.
package plan

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/content"
)

// SessionType is the kind of work a unit asks for.
type SessionType string

const (
	SessionIntroduction   SessionType = "introduction"
	SessionVideo          SessionType = "video"
	SessionWorkedExamples SessionType = "worked_examples"
	SessionPractice       SessionType = "practice"
)

// Label is the human-readable session name.
func (s SessionType) Label() string {
	switch s {
	case SessionIntroduction:
		return "Introduction"
	case SessionVideo:
		return "Video lesson"
	case SessionWorkedExamples:
		return "Worked examples"
	case SessionPractice:
		return "Practice"
	}
	return string(s)
}

// State is a TaskUnit's placement state.
type State string

const (
	StateUnplaced    State = "unplaced"
	StatePlaced      State = "placed"
	StateRescheduled State = "rescheduled"
	StateCompleted   State = "completed"
	StateUnscheduled State = "unscheduled"
)

var transitions = map[State][]State{
	StateUnplaced:    {StatePlaced},
	StatePlaced:      {StatePlaced, StateRescheduled, StateCompleted},
	StateRescheduled: {StatePlaced, StateUnscheduled},
	StateUnscheduled: {StatePlaced},
}

func (s State) canMoveTo(to State) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Reschedule reasons recorded in task history.
const (
	ReasonDaySkipped = "day_skipped"
	ReasonNoSlot     = "no_slot_within_horizon"
	ReasonManualMove = "manual_move"
)

// Reschedule is one entry in a task's append-only move history.
// To is nil when no slot was found.
type Reschedule struct {
	From   civil.Date  `json:"from"`
	To     *civil.Date `json:"to,omitempty"`
	Reason string      `json:"reason"`
	At     time.Time   `json:"at"`
}

// TaskUnit is a time-boxed unit of work derived from one topic.
type TaskUnit struct {
	ID              string          `json:"id"`
	PoolID          string          `json:"pool_id"`
	Subject         string          `json:"subject"`
	Unit            string          `json:"unit,omitempty"`
	Topic           string          `json:"topic"`
	SessionType     SessionType     `json:"session_type"`
	Sequence        int             `json:"sequence"` // 1-based within the topic
	DurationMinutes int             `json:"duration_minutes"`
	State           State           `json:"state"`
	ScheduledDate   *civil.Date     `json:"scheduled_date,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	History         []Reschedule    `json:"history,omitempty"`
	Payload         content.Payload `json:"payload"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Completed reports whether the unit is done.
func (t *TaskUnit) Completed() bool {
	return t.State == StateCompleted
}

func (t *TaskUnit) moveTo(op string, to State) error {
	if !t.State.canMoveTo(to) {
		return apperr.New(op, apperr.ErrStateTransition, "task %s cannot go from %s to %s", t.ID, t.State, to)
	}
	t.State = to
	return nil
}
