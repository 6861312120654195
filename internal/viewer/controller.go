package viewer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/conorfennell/knolmark/internal/domain"
	"github.com/conorfennell/knolmark/internal/geometry"
)

var (
	// ErrNoSelection is returned when a capture is requested without any
	// selected text.
	ErrNoSelection = errors.New("no text selected")
	// ErrNoCapture is returned when none of the selection lies on a mounted
	// page.
	ErrNoCapture = errors.New("selection is not on any mounted page")
)

// Store is the part of the persistence store a controller needs.
type Store interface {
	ReadHighlights(ctx context.Context, sourcePath string) domain.HighlightFile
	AppendHighlight(ctx context.Context, sourcePath string, h domain.Highlight) error
}

// Controller holds the state of one open document view.
type Controller struct {
	viewID     string
	sourcePath string
	store      Store
	logger     *slog.Logger
	now        func() time.Time
	reconciler *Reconciler

	mu       sync.Mutex
	pages    []geometry.PageBox
	overlays []Overlay
}

func newController(viewID, sourcePath string, store Store, logger *slog.Logger, cfg ReconcilerConfig) *Controller {
	c := &Controller{
		viewID:     viewID,
		sourcePath: sourcePath,
		store:      store,
		logger:     logger.With("view", viewID),
		now:        time.Now,
		overlays:   []Overlay{},
	}
	c.reconciler = NewReconciler(cfg, c.MountedPages, func(pages []geometry.PageBox) {
		c.Sync(context.Background(), pages)
	}, c.logger)
	return c
}

// ViewID returns the identifier the host gave the view.
func (c *Controller) ViewID() string { return c.viewID }

// SourcePath returns the document shown in the view.
func (c *Controller) SourcePath() string { return c.sourcePath }

// Capture stores the selection as a new highlight and redraws the view.
// Nothing is written when it fails.
func (c *Controller) Capture(ctx context.Context, text string, selection []geometry.Rect, pages []geometry.PageBox, color domain.Color) (domain.Highlight, error) {
	if len(selection) == 0 || strings.TrimSpace(text) == "" {
		return domain.Highlight{}, ErrNoSelection
	}
	groups, ok := geometry.Normalize(selection, pages)
	if !ok {
		return domain.Highlight{}, ErrNoCapture
	}

	id, err := gonanoid.New()
	if err != nil {
		return domain.Highlight{}, fmt.Errorf("failed to generate highlight id: %w", err)
	}
	h := domain.NewHighlight(id, color, text, groups, c.now().UTC())
	if err := c.store.AppendHighlight(ctx, c.sourcePath, h); err != nil {
		return domain.Highlight{}, err
	}
	c.logger.Info("Captured highlight", "id", id, "color", color, "pages", h.PageNumbers())

	c.Sync(ctx, pages)
	return h, nil
}

// Sync re-derives the overlays for the given mounted pages from the stored
// highlights and remembers both.
func (c *Controller) Sync(ctx context.Context, pages []geometry.PageBox) []Overlay {
	f := c.store.ReadHighlights(ctx, c.sourcePath)
	overlays := Overlays(f.Highlights, pages)

	c.mu.Lock()
	c.pages = slices.Clone(pages)
	c.overlays = overlays
	c.mu.Unlock()

	c.logger.Debug("Synced overlays", "pages", len(pages), "overlays", len(overlays))
	return slices.Clone(overlays)
}

// Mount records a change of the mounted page set and schedules a
// reconciliation.
func (c *Controller) Mount(pages []geometry.PageBox) {
	c.mu.Lock()
	c.pages = slices.Clone(pages)
	c.mu.Unlock()
	c.reconciler.Notify()
}

// MountedPages returns the last page set reported by the view.
func (c *Controller) MountedPages() []geometry.PageBox {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.pages)
}

// Overlays returns the overlays computed by the last sync.
func (c *Controller) Overlays() []Overlay {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.overlays)
}

func (c *Controller) close() {
	c.reconciler.Stop()
}
