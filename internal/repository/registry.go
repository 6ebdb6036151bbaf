package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/charlesng35/dentaldesk/internal/errorhandler"
)

// Registry indexes repositories by collection so queued writes can be
// routed back to the repository that produced them.
type Registry struct {
	mu    sync.RWMutex
	repos map[string]*Repository
}

func NewRegistry() *Registry {
	return &Registry{repos: make(map[string]*Repository)}
}

// Register adds repo. Collections must be unique.
func (r *Registry) Register(repo *Repository) error {
	if repo == nil {
		return fmt.Errorf("registry: repository is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.repos[repo.Collection()]; exists {
		return fmt.Errorf("registry: collection %q already registered", repo.Collection())
	}
	r.repos[repo.Collection()] = repo
	return nil
}

func (r *Registry) Get(collection string) (*Repository, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	repo, ok := r.repos[collection]
	return repo, ok
}

// All returns the registered repositories ordered by collection.
func (r *Registry) All() []*Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Repository, 0, len(r.repos))
	for _, repo := range r.repos {
		out = append(out, repo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Collection() < out[j].Collection() })
	return out
}

// Replay routes a queued write to its repository. It has the shape Drain
// expects.
func (r *Registry) Replay(ctx context.Context, w errorhandler.PendingWrite) error {
	repo, ok := r.Get(w.Collection)
	if !ok {
		return fmt.Errorf("registry: no repository for collection %q", w.Collection)
	}
	return repo.Replay(ctx, w)
}

// SweepCaches drops expired cache entries in every repository and returns
// how many were removed.
func (r *Registry) SweepCaches() int {
	removed := 0
	for _, repo := range r.All() {
		removed += repo.Cache().Cleanup()
	}
	return removed
}

// Stats reports every repository.
func (r *Registry) Stats() []Stats {
	repos := r.All()
	out := make([]Stats, 0, len(repos))
	for _, repo := range repos {
		out = append(out, repo.Stats())
	}
	return out
}

// Cleanup releases every repository's listeners and caches.
func (r *Registry) Cleanup() {
	for _, repo := range r.All() {
		repo.Cleanup()
	}
}
