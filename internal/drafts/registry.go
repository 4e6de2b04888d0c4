package drafts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joao-fontenele/orderdesk/internal/composer"
)

var ErrDraftNotFound = errors.New("draft not found")

type entry struct {
	composer *composer.Composer
	lastSeen time.Time
}

// Registry holds the open composers, keyed by draft id. Drafts left idle are
// dropped by Sweep; nothing survives a restart.
type Registry struct {
	mu     sync.Mutex
	drafts map[string]*entry
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{drafts: make(map[string]*entry), now: time.Now}
}

func (r *Registry) Add(c *composer.Composer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.drafts[c.ID()] = &entry{composer: c, lastSeen: r.now()}
}

// Get returns the composer for id and marks it as used.
func (r *Registry) Get(id string) (*composer.Composer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.drafts[id]
	if !ok {
		return nil, ErrDraftNotFound
	}
	e.lastSeen = r.now()
	return e.composer, nil
}

// Remove closes the composer and forgets it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.drafts[id]
	delete(r.drafts, id)
	r.mu.Unlock()

	if !ok {
		return ErrDraftNotFound
	}
	e.composer.Close()
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.drafts)
}

// Sweep closes and forgets every draft not used for maxIdle, except those
// with a submission in flight. It returns how many were dropped.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	var idle []*composer.Composer
	for id, e := range r.drafts {
		if e.lastSeen.After(cutoff) || e.composer.Submitting() {
			continue
		}
		delete(r.drafts, id)
		idle = append(idle, e.composer)
	}
	r.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
	return len(idle)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval, maxIdle time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(maxIdle); n > 0 {
				logger.Info("dropped idle drafts", "count", n, "max_idle", maxIdle, "open_drafts", r.Len())
			}
		}
	}
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	drafts := r.drafts
	r.drafts = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range drafts {
		e.composer.Close()
	}
}
