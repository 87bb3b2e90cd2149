package demux

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/topicbridge/internal/logctx"
	"github.com/ggoodman/topicbridge/pipeline"
	"github.com/ggoodman/topicbridge/sessions"
	"github.com/ggoodman/topicbridge/transport"
	"github.com/google/uuid"
)

type State int

const (
	StateStopped State = iota
	StateStarting
	StateStarted
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Option func(*Demuxer)

// WithLogger sets the logger. Records logged by the demuxer carry demux and
// stream groups (see internal/logctx).
func WithLogger(l *slog.Logger) Option {
	return func(d *Demuxer) { d.log = l }
}

// WithSessions sets where sessions come from. Defaults to sessions.Default().
func WithSessions(src sessions.Source) Option {
	return func(d *Demuxer) { d.sessions = src }
}

// WithSettings sets the initial settings.
func WithSettings(s Settings) Option {
	return func(d *Demuxer) { d.settings = s }
}

// Demuxer subscribes to a topic pattern and fans matching messages out
// into one output stream per routing key.
type Demuxer struct {
	id       string
	host     pipeline.Host
	sessions sessions.Source
	log      *slog.Logger

	// mu guards the state machine and the settings. It is never held by
	// the receiver goroutine.
	mu       sync.Mutex
	state    State
	gen      uint64
	settings Settings
	current  *run
	lastErr  error

	stats stats
}

func New(host pipeline.Host, opts ...Option) *Demuxer {
	d := &Demuxer{
		id:       uuid.NewString(),
		host:     host,
		log:      slog.Default(),
		settings: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sessions == nil {
		d.sessions = sessions.Default()
	}
	d.log = logctx.Wrap(d.log)
	return d
}

func (d *Demuxer) ID() string { return d.id }

// Start subscribes and spawns the receiver loop. Calling Start while
// starting or started does nothing. Settings errors wrap ErrConfiguration
// and session or subscription errors wrap ErrResource; in both cases the
// demuxer stays stopped. If Stop is called before Start completes, Start
// releases what it acquired and returns ErrAborted.
func (d *Demuxer) Start(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateStarting, StateStarted:
		state := d.state
		d.mu.Unlock()
		d.log.WarnContext(ctx, "demux.start.ignored", slog.String("state", state.String()))
		return nil
	case StateStopping:
		d.mu.Unlock()
		return fmt.Errorf("%w: stop in progress", ErrBusy)
	}
	settings := d.settings
	if err := settings.Validate(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.state = StateStarting
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	session, private, err := d.acquire(ctx, settings)
	if err != nil {
		d.abandonStart(gen)
		return fmt.Errorf("%w: %w", ErrResource, err)
	}
	sub, err := session.Subscribe(ctx, settings.Pattern)
	if err != nil {
		if private {
			_ = session.Close()
		}
		d.abandonStart(gen)
		return fmt.Errorf("%w: subscribe %s: %w", ErrResource, settings.Pattern, err)
	}

	dd := &logctx.DemuxData{
		Instance:  d.id,
		Pattern:   settings.Pattern,
		Naming:    settings.Naming.String(),
		SessionID: session.ID(),
	}
	lctx := logctx.WithDemuxData(context.WithoutCancel(ctx), dd)
	rctx, cancel := context.WithCancel(lctx)
	r := &run{
		settings: settings,
		session:  session,
		private:  private,
		sub:      sub,
		router:   newRouter(d.host, settings.Naming, d.id, &d.stats, d.log),
		logData:  dd,
		ctx:      rctx,
		cancel:   cancel,
		spawned:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateStarting || d.gen != gen {
		cancel()
		_ = sub.Close()
		if private {
			_ = session.Close()
		}
		d.log.InfoContext(lctx, "demux.start.aborted")
		return ErrAborted
	}
	d.stats.reset()
	d.lastErr = nil
	d.current = r
	go d.receive(r)
	<-r.spawned
	d.state = StateStarted
	d.log.InfoContext(lctx, "demux.started", slog.Bool("shared_session", !private))
	return nil
}

func (d *Demuxer) acquire(ctx context.Context, s Settings) (transport.Session, bool, error) {
	if s.Group != "" {
		session, err := d.sessions.GetOrCreate(ctx, s.Group, s.ConfigPath)
		return session, false, err
	}
	session, err := d.sessions.OpenPrivate(ctx, s.ConfigPath)
	return session, true, err
}

func (d *Demuxer) abandonStart(gen uint64) {
	d.mu.Lock()
	if d.state == StateStarting && d.gen == gen {
		d.state = StateStopped
	}
	d.mu.Unlock()
}

// Stop ends the receiver loop, waits for it, then sends EOS to and removes
// every output stream and closes the subscription. A shared session stays
// open; a private one is closed. Stop on a stopped demuxer does nothing.
//
// Stop returns at once, without waiting, when another Stop is in progress
// or when Start has not finished yet. In the latter case the pending Start
// releases its session and subscription before it returns ErrAborted.
// Callers that need those resources gone must wait for Start to return, or
// for State to report StateStopped and Done to be closed.
func (d *Demuxer) Stop(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateStopped, StateStopping:
		state := d.state
		d.mu.Unlock()
		d.log.WarnContext(ctx, "demux.stop.ignored", slog.String("state", state.String()))
		return nil
	case StateStarting:
		// The in-flight Start notices and cleans up.
		d.state = StateStopped
		d.mu.Unlock()
		return nil
	}
	r := d.current
	d.state = StateStopping
	d.mu.Unlock()

	r.stopping.Store(true)
	r.cancel()
	<-r.done

	r.router.destroyAll(logctx.WithDemuxData(ctx, r.logData))
	if err := r.sub.Close(); err != nil {
		d.log.WarnContext(r.ctx, "demux.subscriber.close_failed", slog.String("err", err.Error()))
	}
	if r.private {
		if err := r.session.Close(); err != nil {
			d.log.WarnContext(r.ctx, "demux.session.close_failed", slog.String("err", err.Error()))
		}
	}

	d.mu.Lock()
	d.lastErr = r.err
	d.current = nil
	d.state = StateStopped
	d.mu.Unlock()
	d.log.InfoContext(r.ctx, "demux.stopped")
	return nil
}

func (d *Demuxer) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns the counters of the current or most recent Started period.
func (d *Demuxer) Stats() Stats { return d.stats.snapshot() }

// Streams lists the names of the active output streams.
func (d *Demuxer) Streams() []string {
	d.mu.Lock()
	r := d.current
	d.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.router.names()
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done is closed when the receiver loop of the current Started period
// returns, whether through Stop or a transport failure. It is already
// closed when no period is active.
func (d *Demuxer) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return closedChan
	}
	return d.current.done
}

// Err reports why the receiver loop ended, wrapping ErrTransport, or nil
// while it runs or when it ended through Stop.
func (d *Demuxer) Err() error {
	d.mu.Lock()
	r := d.current
	last := d.lastErr
	d.mu.Unlock()
	if r == nil {
		return last
	}
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Settings returns the settings the next Start will use.
func (d *Demuxer) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// Setters fail with ErrBusy unless the demuxer is stopped.

func (d *Demuxer) SetSettings(s Settings) error {
	return d.update(func(cur *Settings) error { *cur = s; return nil })
}

func (d *Demuxer) SetPattern(pattern string) error {
	return d.update(func(s *Settings) error { s.Pattern = pattern; return nil })
}

func (d *Demuxer) SetGroup(group string) error {
	return d.update(func(s *Settings) error { s.Group = group; return nil })
}

func (d *Demuxer) SetConfigPath(path string) error {
	return d.update(func(s *Settings) error { s.ConfigPath = path; return nil })
}

func (d *Demuxer) SetNaming(n Naming) error {
	return d.update(func(s *Settings) error { s.Naming = n; return nil })
}

func (d *Demuxer) SetPollTimeout(t time.Duration) error {
	if err := validatePollTimeout(t); err != nil {
		return err
	}
	return d.update(func(s *Settings) error { s.PollTimeout = t; return nil })
}

func (d *Demuxer) update(fn func(*Settings) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateStopped {
		return fmt.Errorf("%w: settings cannot change while %s", ErrBusy, d.state)
	}
	return fn(&d.settings)
}
