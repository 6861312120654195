package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/conorfennell/knolmark/internal/domain"
	"github.com/conorfennell/knolmark/internal/schedule"
)

// ProgressCache is a read-through, write-behind cache of the progress
// document. Updates are visible to every later Read as soon as they return;
// persistence happens on a background goroutine. Call Flush for a
// durability point.
type ProgressCache struct {
	store *Store

	mu  sync.Mutex
	doc *domain.ProgressFile
	seq uint64 // bumped on every update

	writeMu sync.Mutex // serialises persistence
	saved   uint64     // seq of the last snapshot written, guarded by writeMu
	lastErr error      // guarded by writeMu
}

func newProgressCache(s *Store) *ProgressCache {
	return &ProgressCache{store: s}
}

// loadLocked reads the document on first access. c.mu must be held. A
// failed load leaves the cache empty so nothing is written over a document
// that could not be read; the next call tries again.
func (c *ProgressCache) loadLocked(ctx context.Context) error {
	if c.doc != nil {
		return nil
	}
	doc, err := readDocument(context.WithoutCancel(ctx), c.store, ProgressKey, domain.DefaultProgressFile)
	if err != nil {
		return err
	}
	if doc.Version == 0 {
		doc.Version = domain.SchemaVersion
	}
	if doc.Progress == nil {
		doc.Progress = map[string]domain.CardProgress{}
	}
	for id, p := range doc.Progress {
		p.Streak = max(0, p.Streak)
		p.IntervalDays = max(0, p.IntervalDays)
		doc.Progress[id] = p
	}
	c.doc = &doc
	return nil
}

// Read returns a copy of the cached document. When the document cannot be
// loaded it returns the empty default without caching it.
func (c *ProgressCache) Read(ctx context.Context) domain.ProgressFile {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadLocked(ctx); err != nil {
		return domain.DefaultProgressFile()
	}
	return c.doc.Clone()
}

// update applies fn to the cached document and schedules persistence when
// fn reports a change.
func (c *ProgressCache) update(ctx context.Context, fn func(*domain.ProgressFile) bool) error {
	c.mu.Lock()
	if err := c.loadLocked(ctx); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("progress is unavailable: %w", err)
	}
	changed := fn(c.doc)
	if changed {
		c.seq++
	}
	c.mu.Unlock()

	if !changed {
		return nil
	}
	go c.persist(context.WithoutCancel(ctx))
	return nil
}

// persist writes the newest snapshot unless it was already written.
// Snapshots are taken under writeMu so an older one never lands after a
// newer one.
func (c *ProgressCache) persist(ctx context.Context) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.doc == nil || c.seq <= c.saved {
		c.mu.Unlock()
		return
	}
	snapshot := c.doc.Clone()
	target := c.seq
	c.mu.Unlock()

	if err := writeDocument(ctx, c.store, ProgressKey, snapshot); err != nil {
		c.lastErr = err
		c.store.logger.Warn("Failed to persist progress", "error", err)
		return
	}
	c.saved = target
	c.lastErr = nil
}

// Upsert runs the scheduler for cardID and stores the result.
func (c *ProgressCache) Upsert(ctx context.Context, cardID string, grade domain.Grade) (domain.CardProgress, error) {
	if cardID == "" {
		return domain.CardProgress{}, errors.New("card id is required")
	}
	if grade != domain.Good && grade != domain.Again {
		return domain.CardProgress{}, errors.New("grade must be good or again")
	}

	var next domain.CardProgress
	err := c.update(ctx, func(doc *domain.ProgressFile) bool {
		var prev *domain.CardProgress
		if p, ok := doc.Progress[cardID]; ok {
			prev = &p
		}
		next = schedule.Next(prev, grade, c.store.now())
		doc.Progress[cardID] = next
		return true
	})
	if err != nil {
		return domain.CardProgress{}, err
	}
	return next, nil
}

// Delete removes one entry.
func (c *ProgressCache) Delete(ctx context.Context, cardID string) error {
	return c.update(ctx, func(doc *domain.ProgressFile) bool {
		if _, ok := doc.Progress[cardID]; !ok {
			return false
		}
		delete(doc.Progress, cardID)
		return true
	})
}

// Reset removes every entry.
func (c *ProgressCache) Reset(ctx context.Context) error {
	return c.update(ctx, func(doc *domain.ProgressFile) bool {
		doc.Progress = map[string]domain.CardProgress{}
		return true
	})
}

// Prune removes entries whose card id is not in keep.
func (c *ProgressCache) Prune(ctx context.Context, keep map[string]bool) (int, error) {
	removed := 0
	err := c.update(ctx, func(doc *domain.ProgressFile) bool {
		for id := range doc.Progress {
			if !keep[id] {
				delete(doc.Progress, id)
				removed++
			}
		}
		return removed > 0
	})
	return removed, err
}

// Flush writes the newest state if a background write has not already done
// so and returns the last persistence error. Queued background writes
// become no-ops afterwards.
func (c *ProgressCache) Flush(ctx context.Context) error {
	c.persist(ctx)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.lastErr
}
