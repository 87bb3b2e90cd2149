// Package memorypipeline provides a recording pipeline.Host. Every event and
// buffer pushed into its streams is kept for inspection, and stream refusal
// or push failures can be injected. It backs tests and embedders that want
// to consume demuxed data in-process.
package memorypipeline

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ggoodman/topicbridge/pipeline"
)

type Host struct {
	mu      sync.Mutex
	active  map[string]*Stream
	history []*Stream
	removed []string
	refuse  map[string]error
	failing map[string]error
	changed chan struct{}
}

func NewHost() *Host {
	return &Host{
		active:  make(map[string]*Stream),
		refuse:  make(map[string]error),
		failing: make(map[string]error),
		changed: make(chan struct{}),
	}
}

// Refuse makes AddStream fail for name. A nil err selects pipeline.ErrRefused.
func (h *Host) Refuse(name string, err error) {
	if err == nil {
		err = pipeline.ErrRefused
	}
	h.mu.Lock()
	h.refuse[name] = err
	h.mu.Unlock()
}

// FailPushes makes every Push on the stream called name fail with err,
// including streams created later. A nil err clears the failure.
func (h *Host) FailPushes(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.failing, name)
	} else {
		h.failing[name] = err
	}
	if s, ok := h.active[name]; ok {
		s.mu.Lock()
		s.pushErr = err
		s.mu.Unlock()
	}
}

func (h *Host) AddStream(ctx context.Context, name string) (pipeline.OutputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err, ok := h.refuse[name]; ok {
		return nil, fmt.Errorf("memorypipeline: add %s: %w", name, err)
	}
	if _, ok := h.active[name]; ok {
		return nil, fmt.Errorf("memorypipeline: add %s: %w: name in use", name, pipeline.ErrRefused)
	}
	s := &Stream{host: h, name: name, pushErr: h.failing[name]}
	h.active[name] = s
	h.history = append(h.history, s)
	h.notifyLocked()
	return s, nil
}

func (h *Host) RemoveStream(_ context.Context, out pipeline.OutputStream) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.active[out.Name()]
	if !ok || s != out {
		return fmt.Errorf("memorypipeline: remove %s: unknown stream", out.Name())
	}
	delete(h.active, s.name)
	h.removed = append(h.removed, s.name)
	h.notifyLocked()
	return nil
}

// Stream returns the most recently created stream called name, active or
// removed.
func (h *Host) Stream(name string) (*Stream, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.history) - 1; i >= 0; i-- {
		if h.history[i].name == name {
			return h.history[i], true
		}
	}
	return nil, false
}

// Created lists the names of every stream ever created, in creation order.
func (h *Host) Created() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.history))
	for i, s := range h.history {
		out[i] = s.name
	}
	return out
}

// Active lists the names of streams that have not been removed, sorted.
func (h *Host) Active() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.active))
	for name := range h.active {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Removed lists removed stream names in removal order.
func (h *Host) Removed() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.removed)
}

// Wait blocks until cond reports true or ctx ends. cond is evaluated after
// every change to the host or its streams.
func (h *Host) Wait(ctx context.Context, cond func(*Host) bool) error {
	for {
		h.mu.Lock()
		ch := h.changed
		h.mu.Unlock()
		if cond(h) {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitBuffers waits until the stream called name has received at least n
// buffers.
func (h *Host) WaitBuffers(ctx context.Context, name string, n int) error {
	return h.Wait(ctx, func(h *Host) bool {
		s, ok := h.Stream(name)
		return ok && len(s.Buffers()) >= n
	})
}

// WaitStreams waits until at least n streams have been created.
func (h *Host) WaitStreams(ctx context.Context, n int) error {
	return h.Wait(ctx, func(h *Host) bool { return len(h.Created()) >= n })
}

func (h *Host) notify() {
	h.mu.Lock()
	h.notifyLocked()
	h.mu.Unlock()
}

func (h *Host) notifyLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}

// Stream records what is pushed into it.
type Stream struct {
	host *Host
	name string

	mu      sync.Mutex
	events  []pipeline.Event
	buffers []*pipeline.Buffer
	pushErr error
	eos     bool
}

func (s *Stream) Name() string { return s.name }

func (s *Stream) PushEvent(_ context.Context, ev pipeline.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if ev.Kind == pipeline.EventEOS {
		s.eos = true
	}
	s.mu.Unlock()
	s.host.notify()
	return nil
}

func (s *Stream) Push(_ context.Context, buf *pipeline.Buffer) error {
	s.mu.Lock()
	switch {
	case s.eos:
		s.mu.Unlock()
		return pipeline.ErrEOS
	case s.pushErr != nil:
		err := s.pushErr
		s.mu.Unlock()
		return err
	}
	s.buffers = append(s.buffers, buf)
	s.mu.Unlock()
	s.host.notify()
	return nil
}

func (s *Stream) Events() []pipeline.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

func (s *Stream) Buffers() []*pipeline.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.buffers)
}

// Compile-time interface checks
var (
	_ pipeline.Host         = (*Host)(nil)
	_ pipeline.OutputStream = (*Stream)(nil)
)
