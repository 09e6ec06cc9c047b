// Package gamification scores study sessions: experience, levels, daily
// streaks and permanent badges.
package gamification

import "cloud.google.com/go/civil"

// DefaultXPPerLevel is the experience needed for each level.
const DefaultXPPerLevel = 500

// MaxSessionMinutes is the longest session that can be recorded.
const MaxSessionMinutes = 720

// XPGained returns the experience for a session. Tracked focus sessions earn
// 1.5 XP per minute and manually logged ones 0.75, rounded down.
func XPGained(minutes int, manual bool) int {
	if minutes <= 0 {
		return 0
	}
	if manual {
		return minutes * 3 / 4
	}
	return minutes * 3 / 2
}

// LevelFor derives the level from total experience. Level 1 starts at 0 XP.
func LevelFor(xp, perLevel int) int {
	if perLevel <= 0 {
		perLevel = DefaultXPPerLevel
	}
	if xp < 0 {
		xp = 0
	}
	return xp/perLevel + 1
}

// NextStreak returns the streak after activity on today. Activity the day
// after last extends the streak, a repeat on the same day keeps it and any
// gap restarts it at 1. Activity dated before last keeps the streak.
func NextStreak(last *civil.Date, today civil.Date, streak int) int {
	if last == nil || streak <= 0 {
		return 1
	}
	switch {
	case today == *last:
		return streak
	case today.Before(*last):
		return streak
	case last.AddDays(1) == today:
		return streak + 1
	}
	return 1
}
