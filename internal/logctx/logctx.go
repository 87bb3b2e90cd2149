package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the demux, stream and publish data found
// in the record's context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if dd, ok := ctx.Value(demuxDataKey{}).(*DemuxData); ok {
		r.AddAttrs(slog.Group("demux",
			slog.String("instance", dd.Instance),
			slog.String("pattern", dd.Pattern),
			slog.String("naming", dd.Naming),
			slog.String("session_id", dd.SessionID),
		))
	}

	if sd, ok := ctx.Value(streamDataKey{}).(*StreamData); ok {
		r.AddAttrs(slog.Group("stream",
			slog.String("topic", sd.Topic),
			slog.String("key", sd.Key),
		))
	}

	if pd, ok := ctx.Value(publishDataKey{}).(*PublishData); ok {
		r.AddAttrs(slog.Group("publish",
			slog.String("topic", pd.Topic),
			slog.String("compression", pd.Compression),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{h.Handler.WithGroup(name)}
}

// Wrap returns l with its handler decorated, or l itself when it already is.
func Wrap(l *slog.Logger) *slog.Logger {
	if _, ok := l.Handler().(Handler); ok {
		return l
	}
	return slog.New(Handler{l.Handler()})
}

type demuxDataKey struct{}

type DemuxData struct {
	Instance  string
	Pattern   string
	Naming    string
	SessionID string
}

func WithDemuxData(ctx context.Context, data *DemuxData) context.Context {
	return context.WithValue(ctx, demuxDataKey{}, data)
}

type streamDataKey struct{}

type StreamData struct {
	Topic string
	Key   string
}

func WithStreamData(ctx context.Context, data *StreamData) context.Context {
	return context.WithValue(ctx, streamDataKey{}, data)
}

type publishDataKey struct{}

type PublishData struct {
	Topic       string
	Compression string
}

func WithPublishData(ctx context.Context, data *PublishData) context.Context {
	return context.WithValue(ctx, publishDataKey{}, data)
}
