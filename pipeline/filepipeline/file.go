// Package filepipeline is a pipeline.Host that appends each stream's
// buffers to a file named after the stream inside one directory. The latest
// format description of a stream, when one is announced, is kept next to
// it in <name>.format.
package filepipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ggoodman/topicbridge/pipeline"
)

type Option func(*Host)

func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.log = l }
}

type Host struct {
	dir string
	log *slog.Logger

	mu      sync.Mutex
	streams map[string]*stream
}

// New creates dir if needed.
func New(dir string, opts ...Option) (*Host, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filepipeline: %w", err)
	}
	h := &Host{dir: dir, log: slog.Default(), streams: make(map[string]*stream)}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Host) AddStream(_ context.Context, name string) (pipeline.OutputStream, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("filepipeline: %w: unusable file name %q", pipeline.ErrRefused, name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[name]; ok {
		return nil, fmt.Errorf("filepipeline: %w: %q already open", pipeline.ErrRefused, name)
	}
	path := filepath.Join(h.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filepipeline: %w: %v", pipeline.ErrRefused, err)
	}
	s := &stream{name: name, path: path, f: f}
	h.streams[name] = s
	h.log.Debug("filepipeline.stream.opened", slog.String("path", path))
	return s, nil
}

func (h *Host) RemoveStream(_ context.Context, out pipeline.OutputStream) error {
	h.mu.Lock()
	s, ok := h.streams[out.Name()]
	if ok {
		delete(h.streams, out.Name())
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("filepipeline: remove %s: unknown stream", out.Name())
	}
	return s.close()
}

type stream struct {
	name string
	path string

	mu     sync.Mutex
	f      *os.File
	eos    bool
	closed bool
}

func (s *stream) Name() string { return s.name }

func (s *stream) PushEvent(_ context.Context, ev pipeline.Event) error {
	switch ev.Kind {
	case pipeline.EventFormat:
		if err := os.WriteFile(s.path+".format", []byte(ev.Format+"\n"), 0o644); err != nil {
			return fmt.Errorf("filepipeline: write format: %w", err)
		}
	case pipeline.EventEOS:
		s.mu.Lock()
		s.eos = true
		var err error
		if !s.closed {
			err = s.f.Sync()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *stream) Push(_ context.Context, buf *pipeline.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eos || s.closed {
		return pipeline.ErrEOS
	}
	if _, err := s.f.Write(buf.Data); err != nil {
		return fmt.Errorf("filepipeline: write %s: %w", s.name, err)
	}
	return nil
}

func (s *stream) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

// Compile-time interface checks
var (
	_ pipeline.Host         = (*Host)(nil)
	_ pipeline.OutputStream = (*stream)(nil)
)
