// Package pipeline is the host side of the bridge: the abstractions a
// demuxer pushes data into. A Host owns output streams; each stream receives
// control events and buffers in order.
//
// Every new stream receives StreamStart then Segment before its first
// buffer. A Format event precedes any buffer whose format differs from the
// stream's current one. EOS is the last event a stream sees before it is
// removed.
package pipeline

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFlushing is returned by Push while the destination is flushing.
	ErrFlushing = errors.New("pipeline: flushing")
	// ErrEOS is returned by Push after the destination saw end of stream.
	ErrEOS = errors.New("pipeline: end of stream")
	// ErrRefused is returned by AddStream when the host will not create a stream.
	ErrRefused = errors.New("pipeline: stream refused")
	// ErrNotLinked is returned by Push when nothing consumes the stream.
	ErrNotLinked = errors.New("pipeline: not linked")
)

// IsDraining reports whether err means the destination is going away. Such
// delivery failures are expected during shutdown.
func IsDraining(err error) bool {
	return errors.Is(err, ErrFlushing) || errors.Is(err, ErrEOS)
}

// None marks an unset timestamp or duration.
const None time.Duration = -1

// Buffer is one unit of data.
type Buffer struct {
	Data     []byte
	PTS      time.Duration
	DTS      time.Duration
	Duration time.Duration
	// Tags are user key/value pairs carried alongside the data.
	Tags map[string]string
}

// NewBuffer wraps data with all timing fields unset.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{Data: data, PTS: None, DTS: None, Duration: None}
}

type EventKind int

const (
	EventStreamStart EventKind = iota
	EventSegment
	EventFormat
	EventEOS
)

func (k EventKind) String() string {
	switch k {
	case EventStreamStart:
		return "stream-start"
	case EventSegment:
		return "segment"
	case EventFormat:
		return "format"
	case EventEOS:
		return "eos"
	default:
		return "unknown"
	}
}

// Event is a control signal on an output stream.
type Event struct {
	Kind EventKind
	// StreamID is set on StreamStart.
	StreamID string
	// Topic is the concrete topic that created the stream (StreamStart).
	Topic string
	// Format is the serialized format description (Format).
	Format string
}

// OutputStream receives events and buffers for one routing key.
type OutputStream interface {
	Name() string
	PushEvent(ctx context.Context, ev Event) error
	Push(ctx context.Context, buf *Buffer) error
}

// Host creates and removes output streams at runtime.
type Host interface {
	AddStream(ctx context.Context, name string) (OutputStream, error)
	RemoveStream(ctx context.Context, s OutputStream) error
}
