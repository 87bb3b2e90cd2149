package demux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ggoodman/topicbridge/compression"
	"github.com/ggoodman/topicbridge/internal/logctx"
	"github.com/ggoodman/topicbridge/metadata"
	"github.com/ggoodman/topicbridge/pipeline"
	"github.com/ggoodman/topicbridge/transport"
)

// run holds the resources of one Started period.
type run struct {
	settings Settings
	session  transport.Session
	private  bool
	sub      transport.Subscriber
	router   *router
	logData  *logctx.DemuxData

	ctx    context.Context
	cancel context.CancelFunc

	stopping atomic.Bool
	spawned  chan struct{}
	done     chan struct{}
	err      error // set before done is closed
}

// receive is the receiver loop. It checks the stop flag once per poll, so
// Stop waits at most one poll timeout for it to return.
func (d *Demuxer) receive(r *run) {
	defer close(r.done)
	close(r.spawned)

	for !r.stopping.Load() {
		sample, err := r.sub.Recv(r.settings.PollTimeout)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			if errors.Is(err, transport.ErrMalformedSample) {
				d.stats.failed()
				d.log.WarnContext(r.ctx, "demux.message.dropped",
					slog.String("topic", sample.Topic),
					slog.String("err", fmt.Errorf("%w: %w", ErrDecode, err).Error()),
				)
				continue
			}
			if r.stopping.Load() {
				return
			}
			d.stats.failed()
			r.err = fmt.Errorf("%w: %w", ErrTransport, err)
			d.log.ErrorContext(r.ctx, "demux.receiver.terminated", slog.String("err", err.Error()))
			return
		}
		d.handle(r, sample)
	}
}

// handle decodes one sample and delivers it. Failures are counted and
// logged; none of them stop the loop.
func (d *Demuxer) handle(r *run, sample transport.Sample) {
	ctx := r.ctx
	payload := sample.Payload

	var env *metadata.Envelope
	if sample.Attachment != nil {
		e, err := decodeEnvelope(sample.Attachment)
		if err == nil && e.Compression != "" {
			payload, err = decompress(payload, e.Compression)
		}
		if err != nil {
			d.stats.failed()
			d.log.WarnContext(ctx, "demux.message.dropped",
				slog.String("topic", sample.Topic),
				slog.String("err", err.Error()),
			)
			return
		}
		env = &e
	}

	rt, err := r.router.route(ctx, sample.Topic)
	if err != nil {
		d.stats.failed()
		d.log.WarnContext(ctx, "demux.message.dropped",
			slog.String("topic", sample.Topic),
			slog.String("err", err.Error()),
		)
		return
	}
	sctx := logctx.WithStreamData(ctx, &logctx.StreamData{Topic: sample.Topic, Key: rt.key})

	buf := pipeline.NewBuffer(payload)
	if env != nil {
		applyEnvelope(buf, env)
		if env.Format != "" && env.Format != rt.format {
			if err := rt.out.PushEvent(ctx, pipeline.Event{Kind: pipeline.EventFormat, Format: env.Format}); err != nil {
				d.deliveryFailed(sctx, err)
				return
			}
			rt.format = env.Format
		}
	}

	d.stats.message(len(sample.Payload))
	if err := rt.out.Push(ctx, buf); err != nil {
		d.deliveryFailed(sctx, err)
	}
}

func (d *Demuxer) deliveryFailed(ctx context.Context, err error) {
	if pipeline.IsDraining(err) {
		d.log.DebugContext(ctx, "demux.stream.draining", slog.String("err", err.Error()))
		return
	}
	d.stats.failed()
	d.log.WarnContext(ctx, "demux.stream.push_failed", slog.String("err", fmt.Errorf("%w: %w", ErrDelivery, err).Error()))
}

func decodeEnvelope(raw []byte) (metadata.Envelope, error) {
	e, err := metadata.Parse(raw)
	if err != nil {
		return metadata.Envelope{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return e, nil
}

func decompress(payload []byte, tag string) ([]byte, error) {
	algo, err := compression.ParseAlgorithm(tag)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	out, err := compression.Decompress(payload, algo)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return out, nil
}

func applyEnvelope(buf *pipeline.Buffer, env *metadata.Envelope) {
	if env.PTS >= 0 {
		buf.PTS = env.PTS
	}
	if env.DTS >= 0 {
		buf.DTS = env.DTS
	}
	if env.Duration >= 0 {
		buf.Duration = env.Duration
	}
	if len(env.Tags) > 0 {
		buf.Tags = env.Tags
	}
}
