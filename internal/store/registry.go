package store

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kotae-ai/kotae/internal/models"
)

// Registry is the process-wide collection handle cache. Reads are lock-cheap;
// first access of a not-yet-cached name takes a per-name creation lock so at
// most one physical collection is created even under concurrent creators.
type Registry struct {
	backend Backend
	logger  *zap.Logger // optional

	mu      sync.RWMutex
	handles map[string]Collection

	createMu sync.Mutex
	creating map[string]*sync.Mutex
}

// NewRegistry creates a registry over backend. logger may be nil.
func NewRegistry(backend Backend, logger *zap.Logger) *Registry {
	return &Registry{
		backend:  backend,
		logger:   logger,
		handles:  make(map[string]Collection),
		creating: make(map[string]*sync.Mutex),
	}
}

// LoadExisting eagerly populates the handle cache from the backing store's
// collection list. Called once at startup.
func (r *Registry) LoadExisting(ctx context.Context) error {
	existing, err := r.backend.List(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for name, schema := range existing {
		col, err := r.backend.GetOrCreate(ctx, name, schema)
		if err != nil {
			return fmt.Errorf("load collection %q: %w", name, err)
		}
		r.mu.Lock()
		r.handles[name] = col
		r.mu.Unlock()
		if r.logger != nil {
			r.logger.Debug("loaded collection", zap.String("name", name), zap.String("schema", string(schema)))
		}
	}
	return nil
}

// Get returns the cached handle for name or ErrCollectionNotFound.
func (r *Registry) Get(name string) (Collection, error) {
	r.mu.RLock()
	col, ok := r.handles[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrCollectionNotFound, name)
	}
	return col, nil
}

// GetOrCreate returns the handle for name, creating the collection (and its
// similarity index) on first access. Idempotent; subsequent calls return the
// same handle.
func (r *Registry) GetOrCreate(ctx context.Context, name string, schema Schema) (Collection, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	r.mu.RLock()
	col, ok := r.handles[name]
	r.mu.RUnlock()
	if ok {
		return col, nil
	}

	lock := r.creationLock(name)
	lock.Lock()
	defer lock.Unlock()

	// Another creator may have won while we waited.
	r.mu.RLock()
	col, ok = r.handles[name]
	r.mu.RUnlock()
	if ok {
		return col, nil
	}

	col, err := r.backend.GetOrCreate(ctx, name, schema)
	if err != nil {
		return nil, fmt.Errorf("create collection %q: %w", name, err)
	}
	r.mu.Lock()
	r.handles[name] = col
	r.mu.Unlock()
	if r.logger != nil {
		r.logger.Info("created collection", zap.String("name", name), zap.String("schema", string(schema)))
	}
	return col, nil
}

// Names returns the cached collection names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	return names
}

// Close closes the backend.
func (r *Registry) Close() error {
	return r.backend.Close()
}

func (r *Registry) creationLock(name string) *sync.Mutex {
	r.createMu.Lock()
	defer r.createMu.Unlock()
	lock, ok := r.creating[name]
	if !ok {
		lock = &sync.Mutex{}
		r.creating[name] = lock
	}
	return lock
}
