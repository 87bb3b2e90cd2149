package memorytransport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/topicbridge/transport"
	"github.com/ggoodman/topicbridge/transport/transporttest"
)

func TestMemoryTransport(t *testing.T) {
	network := NewNetwork(16)
	transporttest.RunTransportTests(t, func(t *testing.T) transport.Session {
		return network.Open()
	})
}

func TestPublishBlocksOnFullQueueUntilContextEnds(t *testing.T) {
	network := NewNetwork(1)
	pub, sub := network.Open(), network.Open()
	defer pub.Close()
	defer sub.Close()

	if _, err := sub.Subscribe(context.Background(), "q/*"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := pub.Publish(context.Background(), "q/a", []byte("1"), nil); err != nil {
		t.Fatalf("first publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pub.Publish(ctx, "q/a", []byte("2"), nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPublishRejectsPatterns(t *testing.T) {
	s := NewNetwork(1).Open()
	defer s.Close()
	if err := s.Publish(context.Background(), "a/*", nil, nil); !errors.Is(err, transport.ErrInvalidTopic) {
		t.Fatalf("expected ErrInvalidTopic, got %v", err)
	}
}
