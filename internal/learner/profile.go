// Package learner defines the learner profile consumed by the planner.
// Profiles are written by onboarding and are read-only to planning.
package learner

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/p-n-ai/pai-planner/internal/apperr"
)

// Confidence is a learner's self-reported mastery of a subject.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Valid reports whether c is a known confidence level.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// LearningStyle shapes which session types a learner gets.
type LearningStyle string

const (
	StyleVisual      LearningStyle = "visual"
	StyleAuditory    LearningStyle = "auditory"
	StyleReading     LearningStyle = "reading"
	StyleKinesthetic LearningStyle = "kinesthetic"
)

// Weekday is a time.Weekday that encodes as a lowercase English name.
type Weekday time.Weekday

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday parses a weekday name such as "monday" or "Mon".
func ParseWeekday(s string) (Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if d, ok := weekdayNames[s]; ok {
		return Weekday(d), nil
	}
	if len(s) >= 3 {
		for name, d := range weekdayNames {
			if strings.HasPrefix(name, s) {
				return Weekday(d), nil
			}
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func (d Weekday) String() string {
	return strings.ToLower(time.Weekday(d).String())
}

func (d Weekday) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Weekday) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	w, err := ParseWeekday(s)
	if err != nil {
		return err
	}
	*d = w
	return nil
}

// Limits accepted at the boundary.
const (
	MinDailyMinutes   = 15
	MaxDailyMinutes   = 720
	MinSessionMinutes = 10
	MaxSessionMinutes = 180
)

// Profile is the planning input for one learner.
type Profile struct {
	LearnerID      string                `json:"learner_id"`
	Grade          string                `json:"grade"`
	Track          string                `json:"track"`
	TargetExam     string                `json:"target_exam,omitempty"`
	LearningStyle  LearningStyle         `json:"learning_style,omitempty"`
	Subjects       []string              `json:"subjects,omitempty"`
	Confidence     map[string]Confidence `json:"confidence"`
	DailyMinutes   int                   `json:"daily_minutes"`
	StudyDays      []Weekday             `json:"study_days"`
	SessionMinutes int                   `json:"session_minutes"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Validate checks every field and normalizes study days. It returns an
// apperr.ErrInvalidArgument error naming all problems found.
func (p *Profile) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(p.LearnerID) == "" {
		add("learner_id is required")
	}
	if strings.TrimSpace(p.Grade) == "" {
		add("grade is required")
	}
	if p.DailyMinutes < MinDailyMinutes || p.DailyMinutes > MaxDailyMinutes {
		add("daily_minutes must be in [%d, %d], got %d", MinDailyMinutes, MaxDailyMinutes, p.DailyMinutes)
	}
	if p.SessionMinutes < MinSessionMinutes || p.SessionMinutes > MaxSessionMinutes {
		add("session_minutes must be in [%d, %d], got %d", MinSessionMinutes, MaxSessionMinutes, p.SessionMinutes)
	} else if p.DailyMinutes > 0 && p.SessionMinutes > p.DailyMinutes {
		add("session_minutes %d exceeds daily_minutes %d", p.SessionMinutes, p.DailyMinutes)
	}
	if len(p.StudyDays) == 0 {
		add("at least one study day is required")
	}
	for _, d := range p.StudyDays {
		if d < Weekday(time.Sunday) || d > Weekday(time.Saturday) {
			add("invalid study day %d", int(d))
		}
	}
	for subject, c := range p.Confidence {
		if strings.TrimSpace(subject) == "" {
			add("confidence has an empty subject name")
		}
		if !c.Valid() {
			add("confidence for %q must be low, medium or high, got %q", subject, c)
		}
	}
	switch p.LearningStyle {
	case "", StyleVisual, StyleAuditory, StyleReading, StyleKinesthetic:
	default:
		add("unknown learning_style %q", p.LearningStyle)
	}
	for _, s := range p.Subjects {
		if strings.TrimSpace(s) == "" {
			add("subjects contains an empty name")
		}
	}

	if len(problems) > 0 {
		return apperr.Invalid("learner.Validate", "%s", strings.Join(problems, "; "))
	}

	slices.Sort(p.StudyDays)
	p.StudyDays = slices.Compact(p.StudyDays)
	return nil
}

// StudiesOn reports whether the learner studies on the given weekday.
func (p *Profile) StudiesOn(d time.Weekday) bool {
	return slices.Contains(p.StudyDays, Weekday(d))
}

// ConfidenceFor returns the confidence for subject, medium if unreported.
func (p *Profile) ConfidenceFor(subject string) Confidence {
	if c, ok := p.Confidence[subject]; ok {
		return c
	}
	return ConfidenceMedium
}

// LowConfidenceSubjects returns the subjects reported as low, sorted.
func (p *Profile) LowConfidenceSubjects() []string {
	var out []string
	for s, c := range p.Confidence {
		if c == ConfidenceLow {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out
}
