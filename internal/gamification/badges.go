package gamification

import (
	"time"

	"github.com/p-n-ai/pai-planner/internal/curriculum"
	"github.com/p-n-ai/pai-planner/internal/learner"
	"github.com/p-n-ai/pai-planner/internal/plan"
)

// Badge ids.
const (
	BadgeFirstSteps       = "first_steps"
	BadgeWeekOneConqueror = "week_one_conqueror"
	BadgeMathMonster      = "math_monster"
	BadgeNightOwl         = "night_owl"
	BadgeWellRounded      = "well_rounded"
)

const (
	weekStreak      = 7
	mathTasksNeeded = 20
	nightTasks      = 10
	nightHour       = 22
)

// BadgeInput is everything a badge predicate may look at. Profile and Plan
// may be nil.
type BadgeInput struct {
	Profile  *learner.Profile
	State    *State
	Plan     *plan.Plan
	Location *time.Location
}

// Badge is a permanent achievement.
type Badge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	earned func(BadgeInput) bool
}

// Catalog lists every badge in award order.
var Catalog = []Badge{
	{
		ID:          BadgeFirstSteps,
		Name:        "First Steps",
		Description: "Recorded a first study session.",
		earned:      func(in BadgeInput) bool { return in.State.Sessions >= 1 },
	},
	{
		ID:          BadgeWeekOneConqueror,
		Name:        "Week One Conqueror",
		Description: "Studied seven days in a row.",
		earned:      func(in BadgeInput) bool { return in.State.Streak >= weekStreak },
	},
	{
		ID:          BadgeMathMonster,
		Name:        "Math Monster",
		Description: "Completed twenty math tasks.",
		earned: func(in BadgeInput) bool {
			if in.Plan == nil {
				return false
			}
			return in.Plan.CompletedCount(func(t *plan.TaskUnit) bool {
				return curriculum.IsMath(t.Subject)
			}) >= mathTasksNeeded
		},
	},
	{
		ID:          BadgeNightOwl,
		Name:        "Night Owl",
		Description: "Completed ten tasks after 22:00.",
		earned: func(in BadgeInput) bool {
			if in.Plan == nil {
				return false
			}
			loc := in.Location
			if loc == nil {
				loc = time.UTC
			}
			return in.Plan.CompletedCount(func(t *plan.TaskUnit) bool {
				return t.CompletedAt != nil && t.CompletedAt.In(loc).Hour() >= nightHour
			}) >= nightTasks
		},
	},
	{
		ID:          BadgeWellRounded,
		Name:        "Well Rounded",
		Description: "Studied every subject on your profile.",
		earned:      wellRounded,
	},
}

func wellRounded(in BadgeInput) bool {
	if in.Profile == nil {
		return false
	}
	subjects := make(map[string]bool)
	for _, s := range in.Profile.Subjects {
		subjects[curriculum.CanonicalSubject(s)] = true
	}
	for s := range in.Profile.Confidence {
		subjects[curriculum.CanonicalSubject(s)] = true
	}
	if len(subjects) < 2 {
		return false
	}
	for s := range subjects {
		if in.State.SubjectMinutes[s] == 0 {
			return false
		}
	}
	return true
}

// Lookup returns the catalog entry for id.
func Lookup(id string) (Badge, bool) {
	for _, b := range Catalog {
		if b.ID == id {
			return b, true
		}
	}
	return Badge{}, false
}

// Evaluate awards every badge whose predicate now holds and returns the
// newly awarded ids. Held badges are never re-checked.
func Evaluate(in BadgeInput) []string {
	awarded := []string{}
	for _, b := range Catalog {
		if in.State.HasBadge(b.ID) || !b.earned(in) {
			continue
		}
		if in.State.award(b.ID) {
			awarded = append(awarded, b.ID)
		}
	}
	return awarded
}
