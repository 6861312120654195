// Package importer reconciles hand-written Markdown flashcards with the
// flashcard document.
package importer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/knolmark/internal/domain"
	"github.com/conorfennell/knolmark/internal/knol"
	"github.com/conorfennell/knolmark/internal/parser"
)

// Store is the part of the persistence layer the importer needs.
type Store interface {
	LoadFlashcards(ctx context.Context) (domain.FlashcardFile, error)
	ReplaceAllFlashcards(ctx context.Context, cards []domain.Flashcard) error
}

// Report summarises one import.
type Report struct {
	Files    int
	Parsed   int
	Added    int
	Orphaned int
	Errors   []error
}

// ImportDir walks dir for .md files and brings the flashcard document in
// line with them: new pairs are added, and manual cards that came from a file
// under dir but no longer appear there are removed together with their
// progress. Generated cards are never touched.
func ImportDir(ctx context.Context, store Store, dir string, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return Report{}, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	var report Report
	type found struct {
		path string
		qa   domain.QA
	}
	var pairs []found
	foundFingerprints := make(map[string]bool)

	walkErr := filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		report.Files++
		filePairs, parseErr := parser.ParseFile(path)
		if parseErr != nil {
			report.Errors = append(report.Errors, fmt.Errorf("parsing %s: %w", path, parseErr))
			return nil
		}
		for _, qa := range filePairs {
			pairs = append(pairs, found{path: path, qa: qa})
			foundFingerprints[sourceFingerprint(path, qa)] = true
		}
		return nil
	})
	if walkErr != nil {
		return report, fmt.Errorf("error walking directory %s: %w", absDir, walkErr)
	}
	report.Parsed = len(pairs)

	file, err := store.LoadFlashcards(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to read flashcards: %w", err)
	}
	current := file.Cards
	known := make(map[string]bool, len(current))
	kept := make([]domain.Flashcard, 0, len(current)+len(pairs))
	for _, c := range current {
		fp := sourceFingerprint(c.SourcePath, domain.QA{Question: c.Question, Answer: c.Answer})
		if isManual(c) && within(absDir, c.SourcePath) && !foundFingerprints[fp] {
			logger.Info("Orphaned card, deleting", "id", c.ID, "source", c.SourcePath)
			report.Orphaned++
			continue
		}
		known[fp] = true
		kept = append(kept, c)
	}

	now := time.Now()
	for _, p := range pairs {
		fp := sourceFingerprint(p.path, p.qa)
		if known[fp] {
			continue
		}
		known[fp] = true
		logger.Info("New card found, adding", "source", p.path)
		kept = append(kept, domain.Flashcard{
			ID:           uuid.New().String(),
			SourcePath:   p.path,
			HighlightIDs: []string{},
			Question:     p.qa.Question,
			Answer:       p.qa.Answer,
			CreatedAt:    now,
		})
		report.Added++
	}

	if report.Added == 0 && report.Orphaned == 0 {
		return report, nil
	}
	if err := store.ReplaceAllFlashcards(ctx, kept); err != nil {
		return report, err
	}

	logger.Info("Import complete",
		"path", absDir,
		"parsed_cards", report.Parsed,
		"added", report.Added,
		"orphaned_deleted", report.Orphaned,
		"errors", len(report.Errors),
	)
	return report, nil
}

func sourceFingerprint(path string, qa domain.QA) string {
	return path + "\x00" + knol.Fingerprint(qa)
}

func isManual(c domain.Flashcard) bool {
	return len(c.HighlightIDs) == 0
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
