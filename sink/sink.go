// Package sink is the outward direction of the bridge: it publishes the
// buffers of one pipeline stream to one topic.
//
// A Publisher attaches a metadata envelope when there is anything to say
// about a buffer (format, timing, compression or tags) and sends the bare
// payload otherwise. Host turns every stream a pipeline creates into a
// Publisher on <prefix>/<stream name>, which lets a demuxer relay a
// wildcard subscription onto per-stream topics.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/ggoodman/topicbridge/compression"
	"github.com/ggoodman/topicbridge/internal/logctx"
	"github.com/ggoodman/topicbridge/metadata"
	"github.com/ggoodman/topicbridge/pipeline"
	"github.com/ggoodman/topicbridge/transport"
)

type Option func(*options)

type options struct {
	algo  compression.Algorithm
	level int
	tags  map[string]string
	log   *slog.Logger
}

func defaultOptions() options {
	return options{algo: compression.None, level: compression.DefaultLevel, log: slog.Default()}
}

// WithCompression compresses every payload with algo at level (1..9).
func WithCompression(algo compression.Algorithm, level int) Option {
	return func(o *options) { o.algo, o.level = algo, level }
}

// WithTags adds static user tags to every envelope. Buffer tags win on
// conflicts.
func WithTags(tags map[string]string) Option {
	return func(o *options) { o.tags = maps.Clone(tags) }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

func (o options) validate() error {
	if o.level < compression.MinLevel || o.level > compression.MaxLevel {
		return fmt.Errorf("%w: %d", compression.ErrInvalidLevel, o.level)
	}
	if !o.algo.Supported() {
		return fmt.Errorf("%w: %s", compression.ErrUnsupportedAlgorithm, o.algo)
	}
	return nil
}

// Stats are the counters of one Publisher.
type Stats struct {
	BytesSent    uint64
	MessagesSent uint64
	Errors       uint64
}

// Publisher is a pipeline.OutputStream that publishes to a single topic.
type Publisher struct {
	session transport.Session
	topic   string
	opts    options
	log     *slog.Logger
	logData *logctx.PublishData

	mu     sync.Mutex
	format string
	eos    bool
	stats  Stats
}

func NewPublisher(session transport.Session, topic string, opts ...Option) (*Publisher, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newPublisher(session, topic, o)
}

func newPublisher(session transport.Session, topic string, o options) (*Publisher, error) {
	if err := transport.ValidateTopic(topic); err != nil {
		return nil, err
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return &Publisher{
		session: session,
		topic:   topic,
		opts:    o,
		log:     logctx.Wrap(o.log),
		logData: &logctx.PublishData{Topic: topic, Compression: o.algo.String()},
	}, nil
}

// Name returns the topic.
func (p *Publisher) Name() string { return p.topic }

func (p *Publisher) PushEvent(ctx context.Context, ev pipeline.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Kind {
	case pipeline.EventFormat:
		p.format = ev.Format
	case pipeline.EventEOS:
		p.eos = true
	case pipeline.EventStreamStart:
		p.eos = false
	}
	return nil
}

func (p *Publisher) Push(ctx context.Context, buf *pipeline.Buffer) error {
	p.mu.Lock()
	if p.eos {
		p.mu.Unlock()
		return pipeline.ErrEOS
	}
	format := p.format
	p.mu.Unlock()

	payload, attachment, err := p.encode(buf, format)
	if err == nil {
		err = p.session.Publish(ctx, p.topic, payload, attachment)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.stats.Errors++
		p.log.WarnContext(logctx.WithPublishData(ctx, p.logData), "sink.publish_failed", slog.String("err", err.Error()))
		return fmt.Errorf("sink: publish %s: %w", p.topic, err)
	}
	p.stats.MessagesSent++
	p.stats.BytesSent += uint64(len(payload))
	return nil
}

func (p *Publisher) encode(buf *pipeline.Buffer, format string) (payload, attachment []byte, err error) {
	payload = buf.Data
	if p.opts.algo != compression.None {
		if payload, err = compression.Compress(buf.Data, p.opts.algo, p.opts.level); err != nil {
			return nil, nil, err
		}
	}

	env := metadata.New()
	env.Format = format
	if p.opts.algo != compression.None {
		env.Compression = p.opts.algo.String()
	}
	env.PTS, env.DTS, env.Duration = buf.PTS, buf.DTS, buf.Duration
	maps.Copy(env.Tags, p.opts.tags)
	maps.Copy(env.Tags, buf.Tags)

	if env.Format == "" && env.Compression == "" && !env.HasTiming() && len(env.Tags) == 0 {
		return payload, nil, nil
	}
	if attachment, err = metadata.Build(env); err != nil {
		return nil, nil, err
	}
	return payload, attachment, nil
}

func (p *Publisher) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Host creates a Publisher on <prefix>/<name> for every stream.
type Host struct {
	session transport.Session
	prefix  string
	opts    options

	mu         sync.Mutex
	publishers map[string]*Publisher
}

func NewHost(session transport.Session, prefix string, opts ...Option) (*Host, error) {
	if err := transport.ValidateTopic(prefix); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	return &Host{session: session, prefix: prefix, opts: o, publishers: make(map[string]*Publisher)}, nil
}

func (h *Host) AddStream(_ context.Context, name string) (pipeline.OutputStream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.publishers[name]; ok {
		return nil, fmt.Errorf("sink: %w: %q already published", pipeline.ErrRefused, name)
	}
	p, err := newPublisher(h.session, h.prefix+transport.Separator+name, h.opts)
	if err != nil {
		return nil, fmt.Errorf("sink: %w: %w", pipeline.ErrRefused, err)
	}
	h.publishers[name] = p
	return streamPublisher{Publisher: p, name: name}, nil
}

func (h *Host) RemoveStream(_ context.Context, out pipeline.OutputStream) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.publishers[out.Name()]; !ok {
		return fmt.Errorf("sink: remove %s: unknown stream", out.Name())
	}
	delete(h.publishers, out.Name())
	return nil
}

// Stats sums the counters of the open publishers.
func (h *Host) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	var total Stats
	for _, p := range h.publishers {
		s := p.Stats()
		total.BytesSent += s.BytesSent
		total.MessagesSent += s.MessagesSent
		total.Errors += s.Errors
	}
	return total
}

// streamPublisher reports the host-side stream name rather than the topic.
type streamPublisher struct {
	*Publisher
	name string
}

func (s streamPublisher) Name() string { return s.name }

// Compile-time interface checks
var (
	_ pipeline.OutputStream = (*Publisher)(nil)
	_ pipeline.Host         = (*Host)(nil)
)
