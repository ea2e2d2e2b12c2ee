// Package registry tracks model identity, version, and training-time
// metadata for the ensemble's scorers.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fraudwatch/kestrel/internal/domain"
)

// Registry is an in-memory model registry with optional persistence
// through the repository. Registration is fire-and-forget on
// persistence errors: a failed write never blocks scoring.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*domain.ModelInfo
	repo    domain.Repository
}

// New creates a registry. With a non-nil repository, previously
// persisted entries are loaded; load failures start empty.
func New(ctx context.Context, repo domain.Repository) *Registry {
	r := &Registry{
		entries: make(map[string]*domain.ModelInfo),
		repo:    repo,
	}

	if repo != nil {
		infos, err := repo.ListModelInfo(ctx)
		if err != nil {
			slog.Warn("failed to load model registry", "error", err)
			return r
		}
		for _, info := range infos {
			r.entries[info.Name] = info
		}
	}
	return r
}

// Register records a model name and version with the current time.
func (r *Registry) Register(ctx context.Context, name, version string) {
	info := &domain.ModelInfo{
		Name:      name,
		Version:   version,
		TrainedAt: time.Now().UTC(),
		Status:    "active",
	}

	r.mu.Lock()
	r.entries[name] = info
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.SaveModelInfo(ctx, info); err != nil {
			slog.Warn("failed to persist model registration",
				"model", name,
				"error", err,
			)
		}
	}

	slog.Info("model registered", "model", name, "version", version)
}

// Get returns the entry for a model name.
func (r *Registry) Get(name string) (*domain.ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.entries[name]
	return info, ok
}

// All returns every entry, sorted by model name.
func (r *Registry) All() []*domain.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.ModelInfo, 0, len(r.entries))
	for _, info := range r.entries {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
