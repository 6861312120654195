package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/knolmark/internal/domain"
	"github.com/conorfennell/knolmark/internal/knol"
)

// Document keys. Highlight files are keyed by a hash of the source path.
const (
	FlashcardsKey = "flashcards.json"
	ProgressKey   = "progress.json"
	HighlightsDir = "highlights"
)

// ErrCardNotFound is returned when an edit or delete names an unknown card.
var ErrCardNotFound = errors.New("flashcard not found")

// HighlightsKey returns the document key of a source document's highlights.
func HighlightsKey(sourcePath string) string {
	return HighlightsDir + "/" + knol.PathKey(sourcePath) + ".json"
}

// Store reads and writes the three document kinds. Highlight and flashcard
// documents are fetched on every read; progress goes through a cache.
type Store struct {
	backend  Backend
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
	progress *ProgressCache
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, used for review timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New wraps a backend. A Store should live for the whole process so the
// progress cache has a single owner.
func New(backend Backend, logger *slog.Logger, options ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend:  backend,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	s.progress = newProgressCache(s)
	return s
}

// Close flushes pending progress and closes the backend.
func (s *Store) Close(ctx context.Context) error {
	flushErr := s.progress.Flush(ctx)
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("failed to close backend: %w", err)
	}
	return flushErr
}

// readDocument loads key and decodes it over a fresh default. Missing or
// corrupt documents yield the default with a nil error. Any other load
// failure yields the default together with the error, so callers that write
// the document back can refuse to replace what they could not read.
func readDocument[T any](ctx context.Context, s *Store, key string, def func() T) (T, error) {
	doc := def()
	data, err := s.backend.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Debug("Document not found, using defaults", "key", key)
			return doc, nil
		}
		s.logger.Warn("Failed to load document, using defaults", "key", key, "error", err)
		return doc, fmt.Errorf("failed to load document %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("Corrupt document, using defaults", "key", key, "error", err)
		return def(), nil
	}
	return doc, nil
}

func writeDocument(ctx context.Context, s *Store, key string, doc any) error {
	if err := s.backend.Ensure(ctx); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", key, err)
	}
	if err := s.backend.Save(ctx, key, data); err != nil {
		return err
	}
	return nil
}

// ReadHighlights returns the highlights of a source document, or an empty
// file when it cannot be read.
func (s *Store) ReadHighlights(ctx context.Context, sourcePath string) domain.HighlightFile {
	f, _ := s.loadHighlights(ctx, sourcePath)
	return f
}

func (s *Store) loadHighlights(ctx context.Context, sourcePath string) (domain.HighlightFile, error) {
	f, err := readDocument(ctx, s, HighlightsKey(sourcePath), func() domain.HighlightFile {
		return domain.DefaultHighlightFile(sourcePath)
	})
	if f.Version == 0 {
		f.Version = domain.SchemaVersion
	}
	if f.SourcePath == "" {
		f.SourcePath = sourcePath
	}
	if f.Highlights == nil {
		f.Highlights = []domain.Highlight{}
	}
	for i := range f.Highlights {
		h := &f.Highlights[i]
		h.IsFlashcard = h.Color == domain.FlashcardColor
		if h.Pages == nil {
			h.Pages = []domain.PageRects{}
		}
	}
	return f, err
}

// WriteHighlights replaces a source document's highlight file.
func (s *Store) WriteHighlights(ctx context.Context, f domain.HighlightFile) error {
	if f.Version == 0 {
		f.Version = domain.SchemaVersion
	}
	return writeDocument(ctx, s, HighlightsKey(f.SourcePath), f)
}

// AppendHighlight adds h to the source document's highlights, or patches
// the existing highlight with the same id in place.
func (s *Store) AppendHighlight(ctx context.Context, sourcePath string, h domain.Highlight) error {
	h.IsFlashcard = h.Color == domain.FlashcardColor
	if err := s.validate.Struct(h); err != nil {
		return fmt.Errorf("invalid highlight: %w", err)
	}

	f, err := s.loadHighlights(ctx, sourcePath)
	if err != nil {
		return fmt.Errorf("failed to append highlight %s: %w", h.ID, err)
	}
	patched := false
	for i := range f.Highlights {
		if f.Highlights[i].ID == h.ID {
			f.Highlights[i] = h
			patched = true
			break
		}
	}
	if !patched {
		f.Highlights = append(f.Highlights, h)
	}

	if err := s.WriteHighlights(ctx, f); err != nil {
		return fmt.Errorf("failed to append highlight %s: %w", h.ID, err)
	}
	s.logger.Debug("Highlight stored", "id", h.ID, "source", sourcePath, "patched", patched)
	return nil
}

// MarkHighlightsGenerated flags the given highlights as turned into
// flashcards and returns how many changed. Nothing is written when none did.
func (s *Store) MarkHighlightsGenerated(ctx context.Context, sourcePath string, ids []string) (int, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	f, err := s.loadHighlights(ctx, sourcePath)
	if err != nil {
		return 0, fmt.Errorf("failed to mark highlights generated: %w", err)
	}
	changed := 0
	for i := range f.Highlights {
		h := &f.Highlights[i]
		if want[h.ID] && !h.FlashcardGenerated {
			h.FlashcardGenerated = true
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := s.WriteHighlights(ctx, f); err != nil {
		return 0, fmt.Errorf("failed to mark highlights generated: %w", err)
	}
	return changed, nil
}

// ReadFlashcards returns every flashcard, or none when the document cannot
// be read.
func (s *Store) ReadFlashcards(ctx context.Context) domain.FlashcardFile {
	f, _ := s.LoadFlashcards(ctx)
	return f
}

// LoadFlashcards is ReadFlashcards for callers that write the document
// back: it also reports a load failure other than a missing document.
func (s *Store) LoadFlashcards(ctx context.Context) (domain.FlashcardFile, error) {
	f, err := readDocument(ctx, s, FlashcardsKey, domain.DefaultFlashcardFile)
	if f.Version == 0 {
		f.Version = domain.SchemaVersion
	}
	if f.Cards == nil {
		f.Cards = []domain.Flashcard{}
	}
	for i := range f.Cards {
		if f.Cards[i].HighlightIDs == nil {
			f.Cards[i].HighlightIDs = []string{}
		}
	}
	return f, err
}

// WriteFlashcards replaces the flashcard document as is. Use
// ReplaceAllFlashcards when progress must follow.
func (s *Store) WriteFlashcards(ctx context.Context, f domain.FlashcardFile) error {
	if f.Version == 0 {
		f.Version = domain.SchemaVersion
	}
	return writeDocument(ctx, s, FlashcardsKey, f)
}

// AppendFlashcards adds cards to the end of the flashcard document.
func (s *Store) AppendFlashcards(ctx context.Context, cards ...domain.Flashcard) error {
	if len(cards) == 0 {
		return nil
	}
	f, err := s.LoadFlashcards(ctx)
	if err != nil {
		return fmt.Errorf("failed to append %d flashcards: %w", len(cards), err)
	}
	f.Cards = append(f.Cards, cards...)
	if err := s.WriteFlashcards(ctx, f); err != nil {
		return fmt.Errorf("failed to append %d flashcards: %w", len(cards), err)
	}
	return nil
}

// ReplaceAllFlashcards writes cards as the complete flashcard set and drops
// the progress of every card that is no longer in it.
func (s *Store) ReplaceAllFlashcards(ctx context.Context, cards []domain.Flashcard) error {
	if cards == nil {
		cards = []domain.Flashcard{}
	}
	if err := s.WriteFlashcards(ctx, domain.FlashcardFile{Version: domain.SchemaVersion, Cards: cards}); err != nil {
		return fmt.Errorf("failed to replace flashcards: %w", err)
	}

	keep := make(map[string]bool, len(cards))
	for _, c := range cards {
		keep[c.ID] = true
	}
	pruned, err := s.PruneProgress(ctx, keep)
	if err != nil {
		// Orphaned entries are harmless and go on the next replace.
		s.logger.Warn("Failed to prune progress", "error", err)
		return nil
	}
	if pruned > 0 {
		s.logger.Info("Pruned orphaned progress", "count", pruned)
	}
	return nil
}

// UpdateFlashcard edits the question and answer of one card.
func (s *Store) UpdateFlashcard(ctx context.Context, id, question, answer string) error {
	f, err := s.LoadFlashcards(ctx)
	if err != nil {
		return fmt.Errorf("failed to edit flashcard %s: %w", id, err)
	}
	for i := range f.Cards {
		if f.Cards[i].ID == id {
			f.Cards[i].Question = question
			f.Cards[i].Answer = answer
			return s.ReplaceAllFlashcards(ctx, f.Cards)
		}
	}
	return fmt.Errorf("%w: %s", ErrCardNotFound, id)
}

// DeleteFlashcard removes one card and its progress.
func (s *Store) DeleteFlashcard(ctx context.Context, id string) error {
	f, err := s.LoadFlashcards(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete flashcard %s: %w", id, err)
	}
	kept := make([]domain.Flashcard, 0, len(f.Cards))
	for _, c := range f.Cards {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(f.Cards) {
		return fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	return s.ReplaceAllFlashcards(ctx, kept)
}

// ReadProgress returns a copy of the cached progress document.
func (s *Store) ReadProgress(ctx context.Context) domain.ProgressFile {
	return s.progress.Read(ctx)
}

// UpsertProgress applies a review grade to a card and returns its new state.
func (s *Store) UpsertProgress(ctx context.Context, cardID string, grade domain.Grade) (domain.CardProgress, error) {
	return s.progress.Upsert(ctx, cardID, grade)
}

// DeleteProgress forgets one card's progress.
func (s *Store) DeleteProgress(ctx context.Context, cardID string) error {
	return s.progress.Delete(ctx, cardID)
}

// ResetAllProgress forgets all progress.
func (s *Store) ResetAllProgress(ctx context.Context) error {
	return s.progress.Reset(ctx)
}

// PruneProgress drops progress for every card id not in keep and returns
// how many entries were removed.
func (s *Store) PruneProgress(ctx context.Context, keep map[string]bool) (int, error) {
	return s.progress.Prune(ctx, keep)
}

// FlushProgress blocks until cached progress has reached the backend.
func (s *Store) FlushProgress(ctx context.Context) error {
	return s.progress.Flush(ctx)
}
