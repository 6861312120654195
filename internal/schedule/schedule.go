// Package schedule computes the next review state of a flashcard.
//
// The rule is a plain reinforcement rule, not a full spaced-repetition model:
// there is no ease factor and no forgetting curve. A good answer grows the
// interval by the new streak, an again answer resets everything and makes
// the card due immediately.
package schedule

import (
	"time"

	"github.com/conorfennell/knolmark/internal/domain"
)

// Day is the unit the interval is counted in.
const Day = 24 * time.Hour

// Next returns the progress that follows prev after a review graded g at now.
// A nil prev is a card that was never reviewed.
func Next(prev *domain.CardProgress, g domain.Grade, now time.Time) domain.CardProgress {
	var streak, interval int
	if prev != nil {
		streak, interval = prev.Streak, prev.IntervalDays
	}

	next := domain.CardProgress{}
	if g == domain.Good {
		next.Streak = streak + 1
		next.IntervalDays = max(1, interval+next.Streak)
		next.Done = true
	}

	reviewed := now
	due := NextDueDate(now, next.IntervalDays)
	next.LastReviewedAt = &reviewed
	next.NextDueAt = &due
	return next
}

// NextDueDate calculates the next review date from the interval in days.
func NextDueDate(now time.Time, intervalDays int) time.Time {
	return now.Add(time.Duration(intervalDays) * Day)
}

// IsDue reports whether a card should be surfaced at now. Cards without
// progress or without a due date are always due.
func IsDue(p *domain.CardProgress, now time.Time) bool {
	if p == nil || p.NextDueAt == nil {
		return true
	}
	return !p.NextDueAt.After(now)
}
