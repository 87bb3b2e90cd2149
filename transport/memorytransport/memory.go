// Package memorytransport provides an in-process implementation of the
// transport contract. Sessions opened on the same Network see each other's
// publications; delivery is reliable and ordered per publisher, with each
// subscriber owning a bounded queue. A publisher blocks while a matching
// subscriber's queue is full, until the subscriber drains it, closes, or
// the publish context ends.
//
// It is the reference driver for tests and for single-process pipelines.
package memorytransport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/topicbridge/transport"
	"github.com/google/uuid"
)

// Network is an isolated in-memory message fabric.
type Network struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	queueSize   int
}

// NewNetwork creates an empty network. queueSize bounds each subscriber's
// queue; values below 1 select transport.DefaultQueueSize.
func NewNetwork(queueSize int) *Network {
	if queueSize < 1 {
		queueSize = transport.DefaultQueueSize
	}
	return &Network{
		subscribers: make(map[*subscriber]struct{}),
		queueSize:   queueSize,
	}
}

var defaultNetwork = sync.OnceValue(func() *Network { return NewNetwork(transport.DefaultQueueSize) })

// Default returns the process-wide network used by sessions opened through
// configuration with driver "memory".
func Default() *Network { return defaultNetwork() }

// Open creates a new session attached to the network.
func (n *Network) Open() *Session {
	return &Session{
		id:      uuid.NewString(),
		network: n,
		subs:    make(map[*subscriber]struct{}),
		done:    make(chan struct{}),
	}
}

func (n *Network) add(sub *subscriber) {
	n.mu.Lock()
	n.subscribers[sub] = struct{}{}
	n.mu.Unlock()
}

func (n *Network) remove(sub *subscriber) {
	n.mu.Lock()
	delete(n.subscribers, sub)
	n.mu.Unlock()
}

func (n *Network) matching(topic string) []*subscriber {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*subscriber, 0, len(n.subscribers))
	for sub := range n.subscribers {
		if transport.Match(sub.pattern, topic) {
			out = append(out, sub)
		}
	}
	return out
}

// Session implements transport.Session.
type Session struct {
	id      string
	network *Network

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	done   chan struct{}

	// publishMu keeps one session's publications in order when several
	// goroutines publish concurrently.
	publishMu sync.Mutex
}

func (s *Session) ID() string { return s.id }

func (s *Session) Subscribe(ctx context.Context, pattern string) (transport.Subscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := transport.ValidatePattern(pattern); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, transport.ErrClosed
	}
	sub := &subscriber{
		session: s,
		pattern: pattern,
		ch:      make(chan transport.Sample, s.network.queueSize),
		done:    make(chan struct{}),
	}
	s.subs[sub] = struct{}{}
	s.network.add(sub)
	return sub, nil
}

func (s *Session) Publish(ctx context.Context, topic string, payload, attachment []byte) error {
	if err := transport.ValidateTopic(topic); err != nil {
		return err
	}
	select {
	case <-s.done:
		return transport.ErrClosed
	default:
	}

	sample := transport.Sample{Topic: topic, Payload: clone(payload), Attachment: clone(attachment)}

	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	for _, sub := range s.network.matching(topic) {
		select {
		case sub.ch <- sample:
		case <-sub.done:
		case <-s.done:
			return transport.ErrClosed
		case <-ctx.Done():
			return fmt.Errorf("memorytransport: publish %s: %w", topic, ctx.Err())
		}
	}
	return nil
}

// Close ends the session and every subscriber declared on it.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

type subscriber struct {
	session *Session
	pattern string
	ch      chan transport.Sample
	done    chan struct{}
	closed  atomic.Bool
}

func (s *subscriber) Pattern() string { return s.pattern }

func (s *subscriber) Recv(timeout time.Duration) (transport.Sample, error) {
	if s.closed.Load() {
		return transport.Sample{}, transport.ErrClosed
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case sample := <-s.ch:
		return sample, nil
	case <-s.done:
		return transport.Sample{}, transport.ErrClosed
	case <-timer.C:
		return transport.Sample{}, transport.ErrTimeout
	}
}

func (s *subscriber) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.session.network.remove(s)
	s.session.mu.Lock()
	delete(s.session.subs, s)
	s.session.mu.Unlock()
	close(s.done)
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// Compile-time interface checks
var (
	_ transport.Session    = (*Session)(nil)
	_ transport.Subscriber = (*subscriber)(nil)
)
