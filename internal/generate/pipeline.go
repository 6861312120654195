// Package generate turns flashcard-colored highlights into flashcards with
// an external text-generation call.
package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/knolmark/internal/domain"
)

var (
	// ErrNothingToGenerate means the document has no flashcard highlights
	// waiting to be turned into cards.
	ErrNothingToGenerate = errors.New("no new flashcard highlights")
	// ErrGeneration wraps any failure of the generation call itself.
	ErrGeneration = errors.New("flashcard generation failed")
)

// Generator is the external text-generation collaborator.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Store is the part of the persistence layer the pipeline needs.
type Store interface {
	ReadHighlights(ctx context.Context, sourcePath string) domain.HighlightFile
	AppendFlashcards(ctx context.Context, cards ...domain.Flashcard) error
	MarkHighlightsGenerated(ctx context.Context, sourcePath string, ids []string) (int, error)
	LoadFlashcards(ctx context.Context) (domain.FlashcardFile, error)
	ReplaceAllFlashcards(ctx context.Context, cards []domain.Flashcard) error
}

// Result describes one run. Zero Cards with a nil error means the call
// worked but produced nothing usable.
type Result struct {
	Highlights int
	Cards      []domain.Flashcard
}

// Pipeline wires highlights, the generator and the store together.
type Pipeline struct {
	store     Store
	generator Generator
	logger    *slog.Logger
	now       func() time.Time
}

// NewPipeline returns a pipeline using the wall clock.
func NewPipeline(store Store, generator Generator, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: store, generator: generator, logger: logger, now: time.Now}
}

// Pending returns the flashcard highlights of a document not yet turned
// into cards.
func Pending(f domain.HighlightFile) []domain.Highlight {
	var out []domain.Highlight
	for _, h := range f.Highlights {
		if h.IsFlashcard && !h.FlashcardGenerated {
			out = append(out, h)
		}
	}
	return out
}

// Run generates flashcards for sourcePath. Nothing is stored unless the
// call succeeds and yields at least one card.
func (p *Pipeline) Run(ctx context.Context, sourcePath string) (Result, error) {
	pending := Pending(p.store.ReadHighlights(ctx, sourcePath))
	if len(pending) == 0 {
		return Result{}, ErrNothingToGenerate
	}
	res := Result{Highlights: len(pending)}

	p.logger.Info("Generating flashcards", "source", sourcePath, "highlights", len(pending))
	raw, err := p.generator.Generate(ctx, SystemPrompt, UserPrompt(sourcePath, pending))
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	pairs := ParseCards(raw)
	if len(pairs) == 0 {
		p.logger.Warn("Generation returned no usable flashcards", "source", sourcePath)
		return res, nil
	}

	ids := make([]string, len(pending))
	for i, h := range pending {
		ids[i] = h.ID
	}
	now := p.now()
	for _, qa := range pairs {
		res.Cards = append(res.Cards, domain.Flashcard{
			ID:           uuid.New().String(),
			SourcePath:   sourcePath,
			HighlightIDs: append([]string(nil), ids...),
			Question:     qa.Question,
			Answer:       qa.Answer,
			CreatedAt:    now,
		})
	}

	if err := p.store.AppendFlashcards(ctx, res.Cards...); err != nil {
		return Result{Highlights: len(pending)}, fmt.Errorf("failed to store generated flashcards: %w", err)
	}
	if _, err := p.store.MarkHighlightsGenerated(ctx, sourcePath, ids); err != nil {
		// Cards without marked highlights would be generated again next run.
		p.rollback(ctx, res.Cards)
		return Result{Highlights: len(pending)}, fmt.Errorf("failed to mark highlights generated: %w", err)
	}
	p.logger.Info("Flashcards generated", "source", sourcePath, "cards", len(res.Cards))
	return res, nil
}

// rollback removes cards that were appended by a run that did not finish.
func (p *Pipeline) rollback(ctx context.Context, cards []domain.Flashcard) {
	added := make(map[string]bool, len(cards))
	for _, c := range cards {
		added[c.ID] = true
	}
	current, err := p.store.LoadFlashcards(ctx)
	if err != nil {
		p.logger.Error("Failed to remove flashcards of an unfinished run", "cards", len(cards), "error", err)
		return
	}
	kept := make([]domain.Flashcard, 0, len(current.Cards))
	for _, c := range current.Cards {
		if !added[c.ID] {
			kept = append(kept, c)
		}
	}
	if err := p.store.ReplaceAllFlashcards(ctx, kept); err != nil {
		p.logger.Error("Failed to remove flashcards of an unfinished run", "cards", len(cards), "error", err)
	}
}
