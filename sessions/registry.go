package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ggoodman/topicbridge/transport"
	"github.com/ggoodman/topicbridge/transport/dialer"
)

var ErrEmptyGroup = errors.New("sessions: empty group name")

// OpenFunc opens a new transport session from a configuration file path.
// An empty path selects the default configuration.
type OpenFunc func(ctx context.Context, configPath string) (transport.Session, error)

// Source is what stream endpoints need from a registry.
type Source interface {
	GetOrCreate(ctx context.Context, group, configPath string) (transport.Session, error)
	OpenPrivate(ctx context.Context, configPath string) (transport.Session, error)
}

type Option func(*Registry)

// WithLogger sets the logger used for session creation events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// Registry caches sessions by group name. All access is serialized by a
// single lock which is held while a new session is opened, so concurrent
// first calls for one group create exactly one session.
type Registry struct {
	open OpenFunc
	log  *slog.Logger

	mu       sync.Mutex
	sessions map[string]entry
}

type entry struct {
	session    transport.Session
	configPath string
}

func NewRegistry(open OpenFunc, opts ...Option) *Registry {
	r := &Registry{
		open:     open,
		log:      slog.Default(),
		sessions: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	return NewRegistry(func(ctx context.Context, configPath string) (transport.Session, error) {
		return dialer.OpenPath(ctx, configPath, slog.Default())
	})
})

// Default returns the process-wide registry, which opens sessions through
// the transport dialer.
func Default() *Registry { return defaultRegistry() }

// GetOrCreate returns the session cached for group, opening it with
// configPath on first use. configPath is ignored once the group exists.
func (r *Registry) GetOrCreate(ctx context.Context, group, configPath string) (transport.Session, error) {
	if group == "" {
		return nil, ErrEmptyGroup
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[group]; ok {
		if configPath != "" && configPath != e.configPath {
			r.log.Warn("sessions.config_ignored",
				slog.String("group", group),
				slog.String("config_path", configPath),
				slog.String("pinned_config_path", e.configPath),
			)
		}
		return e.session, nil
	}

	s, err := r.open(ctx, configPath)
	if err != nil {
		return nil, fmt.Errorf("sessions: open group %q: %w", group, err)
	}
	r.sessions[group] = entry{session: s, configPath: configPath}
	r.log.Info("sessions.created",
		slog.String("group", group),
		slog.String("session_id", s.ID()),
		slog.String("config_path", configPath),
	)
	return s, nil
}

// OpenPrivate opens a session that is not cached. The caller owns it and
// must close it.
func (r *Registry) OpenPrivate(ctx context.Context, configPath string) (transport.Session, error) {
	s, err := r.open(ctx, configPath)
	if err != nil {
		return nil, fmt.Errorf("sessions: open private session: %w", err)
	}
	return s, nil
}

// Len reports the number of cached groups.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Groups lists cached group names in sorted order.
func (r *Registry) Groups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for g := range r.sessions {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

var _ Source = (*Registry)(nil)
