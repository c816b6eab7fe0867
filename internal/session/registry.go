package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arcanaday/arcana-session/internal/backend"
	"github.com/arcanaday/arcana-session/internal/prefs"
)

// Registry owns the live controllers, one per visitor. Controllers are
// created lazily on first contact and torn down after TTL of inactivity so
// that in-flight results for abandoned sessions are discarded centrally.
type Registry struct {
	client   *backend.Client
	prefs    prefs.Repository
	logger   *slog.Logger
	defaults Options
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	controller *Controller
	lastSeen   time.Time
}

// NewRegistry creates an empty controller registry.
func NewRegistry(client *backend.Client, repo prefs.Repository, defaults Options, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		client:   client,
		prefs:    repo,
		logger:   logger,
		defaults: defaults,
		ttl:      ttl,
		entries:  map[string]*registryEntry{},
	}
}

// Get returns the visitor's controller, creating one on first contact, and
// refreshes its activity timestamp.
func (r *Registry) Get(ctx context.Context, visitorID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[visitorID]
	if !ok {
		e = &registryEntry{
			controller: NewController(ctx, r.client, r.prefs, visitorID, r.defaults, r.logger),
		}
		r.entries[visitorID] = e
		r.logger.Info("session controller created", "visitor_id", visitorID, "active", len(r.entries))
	}
	e.lastSeen = time.Now()
	return e.controller
}

// Remove tears down and forgets the visitor's controller, if present.
func (r *Registry) Remove(visitorID string) {
	r.mu.Lock()
	e, ok := r.entries[visitorID]
	delete(r.entries, visitorID)
	r.mu.Unlock()
	if ok {
		e.controller.Teardown()
		r.logger.Info("session controller removed", "visitor_id", visitorID)
	}
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// StartSweeper launches the background TTL sweep. It stops when ctx is
// cancelled, tearing down every remaining controller.
func (r *Registry) StartSweeper(ctx context.Context) {
	interval := r.ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.teardownAll()
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*registryEntry
	for id, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e)
			delete(r.entries, id)
		}
	}
	remaining := len(r.entries)
	r.mu.Unlock()

	for _, e := range expired {
		e.controller.Teardown()
	}
	if len(expired) > 0 {
		r.logger.Info("expired idle sessions", "count", len(expired), "active", remaining)
	}
}

func (r *Registry) teardownAll() {
	r.mu.Lock()
	all := make([]*registryEntry, 0, len(r.entries))
	for id, e := range r.entries {
		all = append(all, e)
		delete(r.entries, id)
	}
	r.mu.Unlock()

	for _, e := range all {
		e.controller.Teardown()
	}
}
