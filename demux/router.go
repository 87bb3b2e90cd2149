package demux

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ggoodman/topicbridge/internal/logctx"
	"github.com/ggoodman/topicbridge/pipeline"
)

// streamRoute is one output stream and what the router knows about it.
type streamRoute struct {
	out   pipeline.OutputStream
	key   string
	topic string
	// format is the last format announced on out. Only the receiver
	// goroutine touches it.
	format string
}

// router maps concrete topics to output streams, creating each stream the
// first time its key is seen. The map only grows until destroyAll.
type router struct {
	host     pipeline.Host
	naming   Naming
	instance string
	stats    *stats
	log      *slog.Logger

	mu     sync.Mutex
	routes map[string]*streamRoute
	order  []*streamRoute
}

func newRouter(host pipeline.Host, naming Naming, instance string, st *stats, log *slog.Logger) *router {
	return &router{
		host:     host,
		naming:   naming,
		instance: instance,
		stats:    st,
		log:      log,
		routes:   make(map[string]*streamRoute),
	}
}

// route returns the stream for topic. Creation and insertion happen under
// one hold of the lock, so a key never gets two streams. The lock is also
// held across host.AddStream and the StreamStart/Segment pushes, so a slow
// host delays names, and with it Streams and a metrics scrape, until
// creation finishes.
func (r *router) route(ctx context.Context, topic string) (*streamRoute, error) {
	key := r.naming.Key(topic)

	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.routes[key]; ok {
		return rt, nil
	}

	out, err := r.host.AddStream(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: create stream %q: %w", ErrDelivery, key, err)
	}
	start := pipeline.Event{Kind: pipeline.EventStreamStart, StreamID: r.instance + "/" + key, Topic: topic}
	for _, ev := range []pipeline.Event{start, {Kind: pipeline.EventSegment}} {
		if err := out.PushEvent(ctx, ev); err != nil {
			_ = r.host.RemoveStream(ctx, out)
			return nil, fmt.Errorf("%w: %s on new stream %q: %w", ErrDelivery, ev.Kind, key, err)
		}
	}

	rt := &streamRoute{out: out, key: key, topic: topic}
	r.routes[key] = rt
	r.order = append(r.order, rt)
	r.stats.streamCreated()
	r.log.InfoContext(logctx.WithStreamData(ctx, &logctx.StreamData{Topic: topic, Key: key}), "demux.stream.created")
	return rt, nil
}

// names lists the active stream names, sorted.
func (r *router) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.routes))
	for key := range r.routes {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// destroyAll sends EOS to every stream and removes it from the host, in
// creation order.
func (r *router) destroyAll(ctx context.Context) {
	r.mu.Lock()
	order := r.order
	r.order = nil
	r.routes = make(map[string]*streamRoute)
	r.mu.Unlock()

	for _, rt := range order {
		sctx := logctx.WithStreamData(ctx, &logctx.StreamData{Topic: rt.topic, Key: rt.key})
		if err := rt.out.PushEvent(ctx, pipeline.Event{Kind: pipeline.EventEOS}); err != nil && !pipeline.IsDraining(err) {
			r.log.WarnContext(sctx, "demux.stream.eos_failed", slog.String("err", err.Error()))
		}
		if err := r.host.RemoveStream(ctx, rt.out); err != nil {
			r.log.WarnContext(sctx, "demux.stream.remove_failed", slog.String("err", err.Error()))
		}
	}
}
