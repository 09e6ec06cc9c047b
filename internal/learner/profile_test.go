package learner_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/p-n-ai/pai-planner/internal/apperr"
	"github.com/p-n-ai/pai-planner/internal/learner"
)

func validProfile() learner.Profile {
	return learner.Profile{
		LearnerID:      "l1",
		Grade:          "9",
		Track:          "Sayısal",
		Confidence:     map[string]learner.Confidence{"Matematik": learner.ConfidenceLow, "Fizik": learner.ConfidenceHigh},
		DailyMinutes:   120,
		StudyDays:      []learner.Weekday{learner.Weekday(time.Friday), learner.Weekday(time.Monday), learner.Weekday(time.Monday)},
		SessionMinutes: 40,
	}
}

func TestValidate_OK(t *testing.T) {
	p := validProfile()
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	want := []learner.Weekday{learner.Weekday(time.Monday), learner.Weekday(time.Friday)}
	if len(p.StudyDays) != 2 || p.StudyDays[0] != want[0] || p.StudyDays[1] != want[1] {
		t.Errorf("StudyDays = %v, want sorted and deduplicated %v", p.StudyDays, want)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*learner.Profile)
		want   string
	}{
		{"missing grade", func(p *learner.Profile) { p.Grade = "" }, "grade"},
		{"daily too small", func(p *learner.Profile) { p.DailyMinutes = 5 }, "daily_minutes"},
		{"session too long", func(p *learner.Profile) { p.SessionMinutes = 500 }, "session_minutes"},
		{"session over daily", func(p *learner.Profile) { p.DailyMinutes = 30; p.SessionMinutes = 40 }, "exceeds"},
		{"no study days", func(p *learner.Profile) { p.StudyDays = nil }, "study day"},
		{"bad weekday", func(p *learner.Profile) { p.StudyDays = []learner.Weekday{9} }, "invalid study day"},
		{"bad confidence", func(p *learner.Profile) { p.Confidence["Kimya"] = "meh" }, "Kimya"},
		{"bad style", func(p *learner.Profile) { p.LearningStyle = "telepathic" }, "learning_style"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile()
			tt.mutate(&p)
			err := p.Validate()
			if !errors.Is(err, apperr.ErrInvalidArgument) {
				t.Fatalf("Validate() error = %v, want ErrInvalidArgument", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	p := validProfile()
	p.Grade = ""
	p.StudyDays = nil
	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "grade") || !strings.Contains(err.Error(), "study day") {
		t.Errorf("Validate() error = %v, want both problems listed", err)
	}
}

func TestLowConfidenceSubjects(t *testing.T) {
	p := validProfile()
	p.Confidence["Biyoloji"] = learner.ConfidenceLow
	got := p.LowConfidenceSubjects()
	if len(got) != 2 || got[0] != "Biyoloji" || got[1] != "Matematik" {
		t.Errorf("LowConfidenceSubjects() = %v, want [Biyoloji Matematik]", got)
	}
	if c := p.ConfidenceFor("Tarih"); c != learner.ConfidenceMedium {
		t.Errorf("ConfidenceFor(unreported) = %q, want medium", c)
	}
}

func TestWeekdayJSON(t *testing.T) {
	var p learner.Profile
	if err := json.Unmarshal([]byte(`{"study_days":["monday","Wed","SUNDAY"]}`), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	want := []time.Weekday{time.Monday, time.Wednesday, time.Sunday}
	for i, d := range p.StudyDays {
		if time.Weekday(d) != want[i] {
			t.Errorf("StudyDays[%d] = %v, want %v", i, d, want[i])
		}
	}
	if !p.StudiesOn(time.Wednesday) || p.StudiesOn(time.Friday) {
		t.Error("StudiesOn() mismatch")
	}

	out, _ := json.Marshal(learner.Weekday(time.Tuesday))
	if string(out) != `"tuesday"` {
		t.Errorf("Marshal = %s, want \"tuesday\"", out)
	}

	if err := json.Unmarshal([]byte(`{"study_days":["funday"]}`), &p); err == nil {
		t.Error("Unmarshal(funday) should fail")
	}
}
