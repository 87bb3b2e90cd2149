// Package transport defines the contract between the bridge and the
// publish-subscribe layer underneath it. Drivers live in sub-packages:
//
//	memorytransport : in-process network for tests and single-binary setups
//	redistransport  : Redis PUBLISH / PSUBSCRIBE
//	natstransport   : NATS core subjects with headers
//
// Topics are '/'-separated paths. Subscription patterns may use '*' to match
// exactly one segment and '**' to match any number of segments, including
// none. Every driver delivers exactly the samples Match accepts, whatever
// the native wildcard dialect of the server it talks to.
//
// Reliability and congestion behaviour are properties of the driver and
// its configuration; this package does not add buffering of its own.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by Subscriber.Recv when no sample arrived
	// within the requested timeout. It is not a failure.
	ErrTimeout = errors.New("transport: receive timed out")
	// ErrClosed is returned by operations on a closed session or subscriber.
	ErrClosed = errors.New("transport: closed")
	// ErrInvalidTopic reports a topic or pattern the driver cannot express.
	ErrInvalidTopic = errors.New("transport: invalid topic")
	// ErrUnknownDriver reports a Config naming a driver that does not exist.
	ErrUnknownDriver = errors.New("transport: unknown driver")
	// ErrMalformedSample is returned by Subscriber.Recv for one message the
	// driver could not unpack. The subscription stays usable.
	ErrMalformedSample = errors.New("transport: malformed sample")
)

// Sample is one received message.
type Sample struct {
	// Topic is the concrete topic the sample was published on.
	Topic   string
	Payload []byte
	// Attachment is the optional opaque sidecar. nil means absent; an empty
	// non-nil slice is a present but empty attachment.
	Attachment []byte
}

// Subscriber is the receive queue of one subscription. A Subscriber is
// drained by a single goroutine.
type Subscriber interface {
	// Pattern returns the pattern the subscriber was declared with.
	Pattern() string
	// Recv waits at most timeout for the next sample. It returns ErrTimeout
	// when none arrived, and ErrClosed once the subscriber or its session
	// has been closed. An error wrapping ErrMalformedSample concerns that
	// one message only. Any other error means the subscription is broken.
	Recv(timeout time.Duration) (Sample, error)
	Close() error
}

// Session is an open connection to the messaging layer. Sessions are safe
// for concurrent use and may be shared by any number of subscribers and
// publishers.
type Session interface {
	// ID identifies the session for its whole lifetime. Two handles with
	// the same ID refer to the same underlying session.
	ID() string
	Subscribe(ctx context.Context, pattern string) (Subscriber, error)
	Publish(ctx context.Context, topic string, payload, attachment []byte) error
	Close() error
}
