package viewer

import (
	"log/slog"
	"sync"

	"github.com/conorfennell/knolmark/internal/knol"
)

// Registry maps view ids to their controllers. Views are added on Open and
// must be removed with Close when the host tears them down.
type Registry struct {
	store  Store
	logger *slog.Logger
	cfg    ReconcilerConfig

	mu    sync.Mutex
	views map[string]*Controller
}

// NewRegistry returns an empty registry.
func NewRegistry(store Store, logger *slog.Logger, cfg ReconcilerConfig) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		logger: logger,
		cfg:    cfg,
		views:  make(map[string]*Controller),
	}
}

// Open returns the controller for viewID, creating it on first use. A view
// that switched documents gets a fresh controller.
func (r *Registry) Open(viewID, sourcePath string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.views[viewID]; ok {
		if c.sourcePath == sourcePath {
			return c
		}
		c.close()
	}
	c := newController(viewID, sourcePath, r.store, r.logger, r.cfg)
	r.views[viewID] = c
	r.logger.Debug("Opened view", "view", viewID, "source", sourcePath)
	return c
}

// Get returns the controller for viewID.
func (r *Registry) Get(viewID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.views[viewID]
	return c, ok
}

// Close drops a view and stops its pending work. It reports whether the
// view was open.
func (r *Registry) Close(viewID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.views[viewID]
	if !ok {
		return false
	}
	c.close()
	delete(r.views, viewID)
	r.logger.Debug("Closed view", "view", viewID)
	return true
}

// CloseAll drops every view.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.views {
		c.close()
		delete(r.views, id)
	}
}

// Refresh schedules a reconciliation of every view showing the document
// whose highlight key is sourceKey, and returns how many there were.
func (r *Registry) Refresh(sourceKey string) int {
	r.mu.Lock()
	var matched []*Controller
	for _, c := range r.views {
		if knol.PathKey(c.sourcePath) == sourceKey {
			matched = append(matched, c)
		}
	}
	r.mu.Unlock()

	for _, c := range matched {
		c.reconciler.Notify()
	}
	return len(matched)
}

// Len returns the number of open views.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.views)
}
