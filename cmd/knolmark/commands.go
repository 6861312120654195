package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/conorfennell/knolmark/internal/domain"
	"github.com/conorfennell/knolmark/internal/export"
	"github.com/conorfennell/knolmark/internal/generate"
	"github.com/conorfennell/knolmark/internal/geometry"
	"github.com/conorfennell/knolmark/internal/gitsource"
	"github.com/conorfennell/knolmark/internal/importer"
	"github.com/conorfennell/knolmark/internal/review"
	"github.com/conorfennell/knolmark/internal/viewer"
	"github.com/conorfennell/knolmark/internal/watch"
	"github.com/conorfennell/knolmark/internal/web"
)

// captureFile is the JSON a viewer hands to the capture command.
type captureFile struct {
	SourcePath string             `json:"sourcePath"`
	Text       string             `json:"text"`
	Color      string             `json:"color"`
	Selection  []geometry.Rect    `json:"selection"`
	Pages      []geometry.PageBox `json:"pages"`
}

func (a *app) capture(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: capture <request.json|->")
	}
	var in io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open capture request: %w", err)
		}
		defer f.Close()
		in = f
	}

	var req captureFile
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("failed to decode capture request: %w", err)
	}
	if req.SourcePath == "" {
		return errors.New("no active document")
	}
	color, err := domain.ParseColor(req.Color)
	if err != nil {
		return err
	}

	registry := viewer.NewRegistry(a.store, a.logger, a.cfg.Reconciler())
	defer registry.CloseAll()
	h, err := registry.Open("cli", req.SourcePath).Capture(ctx, req.Text, req.Selection, req.Pages, color)
	if errors.Is(err, viewer.ErrNoSelection) || errors.Is(err, viewer.ErrNoCapture) {
		return fmt.Errorf("%w: %w", errNothingToDo, err)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Highlight %s saved on page(s) %v.\n", h.ID, h.PageNumbers())
	return nil
}

func (a *app) generate(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: generate <source>")
	}
	gemini, err := generate.NewGemini(ctx, a.cfg.APIKey, a.cfg.Model)
	if err != nil {
		return err
	}

	res, err := generate.NewPipeline(a.store, gemini, a.logger).Run(ctx, args[0])
	if errors.Is(err, generate.ErrNothingToGenerate) {
		return fmt.Errorf("%w: %w", errNothingToDo, err)
	}
	if err != nil {
		return err
	}
	if len(res.Cards) == 0 {
		fmt.Printf("The model returned no usable flashcards for %d highlight(s).\n", res.Highlights)
		return nil
	}
	fmt.Printf("Created %d flashcard(s) from %d highlight(s).\n", len(res.Cards), res.Highlights)
	return nil
}

// review runs an interactive session on stdin and stdout.
func (a *app) review(ctx context.Context, args []string) error {
	cards := a.store.ReadFlashcards(ctx).Cards
	session := review.NewSession(ctx, cards, a.store)
	if session.State() == review.NoCards {
		return fmt.Errorf("%w: no flashcards yet", errNothingToDo)
	}

	in := bufio.NewScanner(os.Stdin)
	prompt := func(msg string) (string, bool) {
		fmt.Print(msg)
		if !in.Scan() {
			return "", false
		}
		return strings.ToLower(strings.TrimSpace(in.Text())), true
	}

	for ctx.Err() == nil {
		st := session.Stats(time.Now())
		if session.State() == review.Finished {
			fmt.Printf("\nAll %d cards done.\n", st.Total)
			answer, ok := prompt("[r]eset or [q]uit? ")
			if !ok || answer != "r" {
				return nil
			}
			if err := session.Reset(ctx); err != nil {
				return err
			}
			continue
		}

		card, _ := session.Current()
		fmt.Printf("\n[%d of %d remaining]\nQ: %s\n", st.Remaining, st.Total, card.Question)
		if _, ok := prompt("(enter to reveal) "); !ok {
			return nil
		}
		session.ToggleReveal()
		fmt.Printf("A: %s\n", card.Answer)

		for {
			answer, ok := prompt("[g]ood, [a]gain, [q]uit? ")
			if !ok || answer == "q" {
				return nil
			}
			if answer == "g" || answer == "a" {
				if err := session.Grade(ctx, answer == "g"); err != nil {
					return err
				}
				break
			}
		}
	}
	return nil
}

func (a *app) cards(ctx context.Context, args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch {
	case args[0] == "list":
		cards := a.store.ReadFlashcards(ctx).Cards
		if len(cards) == 0 {
			return fmt.Errorf("%w: no flashcards yet", errNothingToDo)
		}
		progress := a.store.ReadProgress(ctx).Progress
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tQUESTION\tSTREAK\tDUE")
		for _, c := range cards {
			due := "now"
			p, ok := progress[c.ID]
			if ok && p.NextDueAt != nil {
				due = p.NextDueAt.Local().Format(time.DateOnly)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, c.Question, p.Streak, due)
		}
		return w.Flush()
	case args[0] == "edit" && len(args) == 4:
		if err := a.store.UpdateFlashcard(ctx, args[1], args[2], args[3]); err != nil {
			return err
		}
		fmt.Printf("Flashcard %s updated.\n", args[1])
		return nil
	case args[0] == "delete" && len(args) == 2:
		if err := a.store.DeleteFlashcard(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("Flashcard %s deleted.\n", args[1])
		return nil
	}
	return errors.New("usage: cards list | cards edit <id> <question> <answer> | cards delete <id>")
}

func (a *app) importDir(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: import <dir>")
	}
	report, err := importer.ImportDir(ctx, a.store, args[0], a.logger)
	if err != nil {
		return err
	}
	for _, e := range report.Errors {
		fmt.Fprintf(os.Stderr, "- %v\n", e)
	}
	if report.Added == 0 && report.Orphaned == 0 {
		return fmt.Errorf("%w: %d file(s) already up to date", errNothingToDo, report.Files)
	}
	fmt.Printf("Imported %d file(s): %d added, %d removed.\n", report.Files, report.Added, report.Orphaned)
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: export <source>")
	}
	source := args[0]
	text := export.Render(a.store.ReadHighlights(ctx, source).Highlights)
	path := filepath.Join(a.cfg.Root, "exports", export.FileName(source))

	written, err := export.WriteFile(path, text)
	if err != nil {
		return err
	}
	if !written {
		return fmt.Errorf("%w: %s is up to date", errNothingToDo, path)
	}
	fmt.Printf("Annotations exported to %s.\n", path)
	return nil
}

func (a *app) snapshot(ctx context.Context, args []string) error {
	message := "knolmark snapshot"
	if len(args) > 0 {
		message = strings.Join(args, " ")
	}
	if err := a.store.FlushProgress(ctx); err != nil {
		return err
	}
	hash, err := gitsource.Snapshot(a.cfg.Root, message, time.Now())
	if errors.Is(err, gitsource.ErrNothingToCommit) {
		return fmt.Errorf("%w: %w", errNothingToDo, err)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot %s committed.\n", hash[:min(len(hash), 12)])
	return nil
}

// serve runs the web interface and refreshes open views when highlight
// files change on disk.
func (a *app) serve(ctx context.Context, args []string) error {
	registry := viewer.NewRegistry(a.store, a.logger, a.cfg.Reconciler())
	defer registry.CloseAll()

	var pipeline *generate.Pipeline
	if gemini, err := generate.NewGemini(ctx, a.cfg.APIKey, a.cfg.Model); err != nil {
		a.logger.Warn("Flashcard generation disabled", "error", err)
	} else {
		pipeline = generate.NewPipeline(a.store, gemini, a.logger)
	}

	srv, err := web.NewServer(a.store, registry, pipeline, a.logger)
	if err != nil {
		return err
	}

	if a.cfg.Backend == "fs" {
		go func() {
			err := watch.Highlights(ctx, a.cfg.Root, a.logger, func(key string) {
				registry.Refresh(key)
			})
			if err != nil {
				a.logger.Error("Highlight watcher stopped", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		a.logger.Info("Starting server", "addr", a.cfg.Listen, "root", a.cfg.Root)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	a.logger.Info("Server stopped")
	return nil
}
