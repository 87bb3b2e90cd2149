// Package transporttest is a conformance suite every transport driver runs
// from its own tests.
package transporttest

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/ggoodman/topicbridge/transport"
)

// SessionFactory opens a new session. Sessions returned by one factory must
// be able to see each other's publications.
type SessionFactory func(t *testing.T) transport.Session

// RunTransportTests runs the complete driver suite against factory.
func RunTransportTests(t *testing.T, factory SessionFactory) {
	t.Run("WildcardDelivery", func(t *testing.T) { testWildcardDelivery(t, factory) })
	t.Run("PatternFiltering", func(t *testing.T) { testPatternFiltering(t, factory) })
	t.Run("MultiSegmentWildcard", func(t *testing.T) { testMultiSegmentWildcard(t, factory) })
	t.Run("AttachmentPresence", func(t *testing.T) { testAttachmentPresence(t, factory) })
	t.Run("ArrivalOrderAcrossTopics", func(t *testing.T) { testArrivalOrder(t, factory) })
	t.Run("RecvTimeout", func(t *testing.T) { testRecvTimeout(t, factory) })
	t.Run("SubscriberClose", func(t *testing.T) { testSubscriberClose(t, factory) })
	t.Run("SessionClose", func(t *testing.T) { testSessionClose(t, factory) })
	t.Run("SessionIdentity", func(t *testing.T) { testSessionIdentity(t, factory) })
}

func root(t *testing.T) string {
	return "tt" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

func open(t *testing.T, factory SessionFactory) transport.Session {
	t.Helper()
	s := factory(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func subscribe(t *testing.T, s transport.Session, pattern string) transport.Subscriber {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := s.Subscribe(ctx, pattern)
	if err != nil {
		t.Fatalf("subscribe %s: %v", pattern, err)
	}
	t.Cleanup(func() { _ = sub.Close() })
	return sub
}

func publish(t *testing.T, s transport.Session, topic string, payload, attachment []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Publish(ctx, topic, payload, attachment); err != nil {
		t.Fatalf("publish %s: %v", topic, err)
	}
}

func recv(t *testing.T, sub transport.Subscriber) transport.Sample {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		s, err := sub.Recv(100 * time.Millisecond)
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		return s
	}
	t.Fatal("no sample within 3s")
	return transport.Sample{}
}

func expectNothing(t *testing.T, sub transport.Subscriber) {
	t.Helper()
	s, err := sub.Recv(150 * time.Millisecond)
	if !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("expected timeout, got sample %q (err %v)", s.Topic, err)
	}
}

func testWildcardDelivery(t *testing.T, factory SessionFactory) {
	pub, sub := open(t, factory), open(t, factory)
	r := root(t)
	s := subscribe(t, sub, r+"/sensors/*")
	if s.Pattern() != r+"/sensors/*" {
		t.Fatalf("unexpected pattern %q", s.Pattern())
	}

	publish(t, pub, r+"/sensors/temp", []byte("21.5"), nil)
	publish(t, pub, r+"/sensors/humidity", []byte("40"), nil)

	got := recv(t, s)
	if got.Topic != r+"/sensors/temp" || string(got.Payload) != "21.5" {
		t.Fatalf("unexpected first sample %q %q", got.Topic, got.Payload)
	}
	got = recv(t, s)
	if got.Topic != r+"/sensors/humidity" || string(got.Payload) != "40" {
		t.Fatalf("unexpected second sample %q %q", got.Topic, got.Payload)
	}
}

func testPatternFiltering(t *testing.T, factory SessionFactory) {
	pub, sub := open(t, factory), open(t, factory)
	r := root(t)
	s := subscribe(t, sub, r+"/a/*")

	publish(t, pub, r+"/a/b/c", []byte("too deep"), nil)
	publish(t, pub, r+"/other/b", []byte("other branch"), nil)
	publish(t, pub, r+"/a", []byte("too shallow"), nil)
	expectNothing(t, s)

	publish(t, pub, r+"/a/b", []byte("hit"), nil)
	if got := recv(t, s); got.Topic != r+"/a/b" {
		t.Fatalf("unexpected sample %q", got.Topic)
	}
}

func testMultiSegmentWildcard(t *testing.T, factory SessionFactory) {
	pub, sub := open(t, factory), open(t, factory)
	r := root(t)
	s := subscribe(t, sub, r+"/**")

	publish(t, pub, r+"/x", []byte("1"), nil)
	publish(t, pub, r+"/x/y/z", []byte("2"), nil)
	if got := recv(t, s); got.Topic != r+"/x" {
		t.Fatalf("unexpected sample %q", got.Topic)
	}
	if got := recv(t, s); got.Topic != r+"/x/y/z" {
		t.Fatalf("unexpected sample %q", got.Topic)
	}
}

func testAttachmentPresence(t *testing.T, factory SessionFactory) {
	pub, sub := open(t, factory), open(t, factory)
	r := root(t)
	s := subscribe(t, sub, r+"/*")

	att := []byte("version=1.0\nuser.k=line1\\nline2")
	publish(t, pub, r+"/with", []byte{0, 1, 2, 255}, att)
	publish(t, pub, r+"/without", []byte("plain"), nil)

	got := recv(t, s)
	if !bytes.Equal(got.Payload, []byte{0, 1, 2, 255}) {
		t.Fatalf("payload mismatch: %v", got.Payload)
	}
	if !bytes.Equal(got.Attachment, att) {
		t.Fatalf("attachment mismatch: %q", got.Attachment)
	}
	got = recv(t, s)
	if got.Attachment != nil {
		t.Fatalf("expected absent attachment, got %q", got.Attachment)
	}
}

func testArrivalOrder(t *testing.T, factory SessionFactory) {
	pub, sub := open(t, factory), open(t, factory)
	r := root(t)
	s := subscribe(t, sub, r+"/*")

	order := []string{"a", "b", "a", "c", "b", "a"}
	for i, topic := range order {
		publish(t, pub, r+"/"+topic, []byte(strconv.Itoa(i)), nil)
	}
	for i, topic := range order {
		got := recv(t, s)
		if got.Topic != r+"/"+topic || string(got.Payload) != strconv.Itoa(i) {
			t.Fatalf("position %d: expected %s/%d, got %s/%s", i, topic, i, got.Topic, got.Payload)
		}
	}
}

func testRecvTimeout(t *testing.T, factory SessionFactory) {
	sub := open(t, factory)
	s := subscribe(t, sub, root(t)+"/*")

	start := time.Now()
	_, err := s.Recv(50 * time.Millisecond)
	if !errors.Is(err, transport.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func testSubscriberClose(t *testing.T, factory SessionFactory) {
	sub := open(t, factory)
	ctx := context.Background()
	s, err := sub.Subscribe(ctx, root(t)+"/*")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.Recv(50 * time.Millisecond); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func testSessionClose(t *testing.T, factory SessionFactory) {
	sess := factory(t)
	s, err := sess.Subscribe(context.Background(), root(t)+"/*")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if _, err := s.Recv(50 * time.Millisecond); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed after session close, got %v", err)
	}
	if err := sess.Publish(context.Background(), root(t)+"/x", nil, nil); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed on publish, got %v", err)
	}
}

func testSessionIdentity(t *testing.T, factory SessionFactory) {
	a, b := open(t, factory), open(t, factory)
	if a.ID() == "" || b.ID() == "" {
		t.Fatal("expected non-empty session ids")
	}
	if a.ID() == b.ID() {
		t.Fatalf("distinct sessions share id %s", a.ID())
	}
}
