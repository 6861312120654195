package schedule

import (
	"testing"
	"time"

	"github.com/conorfennell/knolmark/internal/domain"
)

var now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestNext(t *testing.T) {
	testCases := []struct {
		name             string
		prev             *domain.CardProgress
		grade            domain.Grade
		expectedStreak   int
		expectedInterval int
		expectedDone     bool
	}{
		{
			name:             "First review good",
			grade:            domain.Good,
			expectedStreak:   1,
			expectedInterval: 1,
			expectedDone:     true,
		},
		{
			name:             "Second consecutive good",
			prev:             &domain.CardProgress{Streak: 1, IntervalDays: 1},
			grade:            domain.Good,
			expectedStreak:   2,
			expectedInterval: 3,
			expectedDone:     true,
		},
		{
			name:             "Third consecutive good",
			prev:             &domain.CardProgress{Streak: 2, IntervalDays: 3},
			grade:            domain.Good,
			expectedStreak:   3,
			expectedInterval: 6,
			expectedDone:     true,
		},
		{
			name:             "First review again",
			grade:            domain.Again,
			expectedStreak:   0,
			expectedInterval: 0,
			expectedDone:     false,
		},
		{
			name:             "Again resets a long streak",
			prev:             &domain.CardProgress{Streak: 7, IntervalDays: 28, Done: true},
			grade:            domain.Again,
			expectedStreak:   0,
			expectedInterval: 0,
			expectedDone:     false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next := Next(tc.prev, tc.grade, now)
			if next.Streak != tc.expectedStreak {
				t.Errorf("Expected streak %d, but got %d", tc.expectedStreak, next.Streak)
			}
			if next.IntervalDays != tc.expectedInterval {
				t.Errorf("Expected interval %d, but got %d", tc.expectedInterval, next.IntervalDays)
			}
			if next.Done != tc.expectedDone {
				t.Errorf("Expected done %v, but got %v", tc.expectedDone, next.Done)
			}
			if next.LastReviewedAt == nil || !next.LastReviewedAt.Equal(now) {
				t.Errorf("Expected last review at %v, but got %v", now, next.LastReviewedAt)
			}
			expectedDue := now.Add(time.Duration(tc.expectedInterval) * 24 * time.Hour)
			if next.NextDueAt == nil || !next.NextDueAt.Equal(expectedDue) {
				t.Errorf("Expected due at %v, but got %v", expectedDue, next.NextDueAt)
			}
		})
	}
}

func TestNextIntervalNeverShrinksOnGood(t *testing.T) {
	var p *domain.CardProgress
	last := 0
	for i := 0; i < 10; i++ {
		n := Next(p, domain.Good, now)
		if n.IntervalDays < last {
			t.Fatalf("Expected interval to be non-decreasing, went from %d to %d", last, n.IntervalDays)
		}
		last = n.IntervalDays
		p = &n
	}
}

func TestIsDue(t *testing.T) {
	if !IsDue(nil, now) {
		t.Error("Expected a card without progress to be due")
	}
	again := Next(nil, domain.Again, now)
	if !IsDue(&again, now) {
		t.Error("Expected a card graded again to be due immediately")
	}
	good := Next(nil, domain.Good, now)
	if IsDue(&good, now) {
		t.Error("Expected a card graded good not to be due the same instant")
	}
	if !IsDue(&good, now.Add(25*time.Hour)) {
		t.Error("Expected a card graded good to be due after a day")
	}
}
