// Package review drives a review session over the flashcards that are not
// done yet.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/conorfennell/knolmark/internal/domain"
	"github.com/conorfennell/knolmark/internal/schedule"
)

// ProgressStore is the part of the persistence layer a session needs.
type ProgressStore interface {
	ReadProgress(ctx context.Context) domain.ProgressFile
	UpsertProgress(ctx context.Context, cardID string, grade domain.Grade) (domain.CardProgress, error)
	ResetAllProgress(ctx context.Context) error
}

// State is what a session front end should display.
type State int

const (
	// NoCards means the session never had any cards.
	NoCards State = iota
	// Reviewing means there is a current card.
	Reviewing
	// Finished means every card is done.
	Finished
)

func (s State) String() string {
	switch s {
	case NoCards:
		return "no-cards"
	case Reviewing:
		return "reviewing"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stats summarises a session.
type Stats struct {
	Total     int
	Remaining int
	Due       int
}

// Session rotates through the cards whose progress is absent or not done.
type Session struct {
	cards    []domain.Flashcard
	progress map[string]domain.CardProgress
	store    ProgressStore
	index    int
	revealed bool
}

// NewSession starts a session over cards, loading their progress.
func NewSession(ctx context.Context, cards []domain.Flashcard, store ProgressStore) *Session {
	s := &Session{cards: cards, store: store}
	s.reload(ctx)
	return s
}

func (s *Session) reload(ctx context.Context) {
	s.progress = s.store.ReadProgress(ctx).Progress
}

// Remaining returns the cards that are not done, in original order.
func (s *Session) Remaining() []domain.Flashcard {
	var out []domain.Flashcard
	for _, c := range s.cards {
		if p, ok := s.progress[c.ID]; !ok || !p.Done {
			out = append(out, c)
		}
	}
	return out
}

// Current returns the card under review.
func (s *Session) Current() (domain.Flashcard, bool) {
	remaining := s.Remaining()
	if len(remaining) == 0 {
		return domain.Flashcard{}, false
	}
	return remaining[s.index%len(remaining)], true
}

// State reports which of the three display states the session is in.
func (s *Session) State() State {
	switch {
	case len(s.cards) == 0:
		return NoCards
	case len(s.Remaining()) == 0:
		return Finished
	}
	return Reviewing
}

// Revealed reports whether the answer is shown.
func (s *Session) Revealed() bool {
	return s.revealed
}

// ToggleReveal flips answer visibility. It never touches progress.
func (s *Session) ToggleReveal() {
	s.revealed = !s.revealed
}

// Grade schedules the current card, persists the result and moves on.
// A card graded good leaves the remaining set, so the card after it slides
// into the current position; a card graded again stays and the session
// steps past it.
func (s *Session) Grade(ctx context.Context, good bool) error {
	current, ok := s.Current()
	if !ok {
		return fmt.Errorf("no card to grade")
	}
	before := len(s.Remaining())
	position := s.index % before

	if _, err := s.store.UpsertProgress(ctx, current.ID, domain.GradeFromBool(good)); err != nil {
		return fmt.Errorf("failed to grade card %s: %w", current.ID, err)
	}
	s.reload(ctx)

	remaining := len(s.Remaining())
	switch {
	case remaining == 0:
		s.index = 0
	case remaining < before:
		s.index = position % remaining
	default:
		s.index = (position + 1) % remaining
	}
	s.revealed = false
	return nil
}

// Reset clears all progress and restarts from the first card. The session
// is left as it was when the progress cannot be cleared.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.store.ResetAllProgress(ctx); err != nil {
		return fmt.Errorf("failed to reset progress: %w", err)
	}
	s.reload(ctx)
	s.index = 0
	s.revealed = false
	return nil
}

// Stats counts cards, remaining cards and cards due at now.
func (s *Session) Stats(now time.Time) Stats {
	st := Stats{Total: len(s.cards)}
	for _, c := range s.cards {
		p, ok := s.progress[c.ID]
		if !ok || !p.Done {
			st.Remaining++
		}
		var pp *domain.CardProgress
		if ok {
			pp = &p
		}
		if schedule.IsDue(pp, now) {
			st.Due++
		}
	}
	return st
}
