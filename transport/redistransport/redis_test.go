package redistransport

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/topicbridge/transport"
	"github.com/ggoodman/topicbridge/transport/transporttest"
)

func TestRedisTransport(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	transporttest.RunTransportTests(t, func(t *testing.T) transport.Session {
		s, err := New(context.Background(), Config{Addr: mr.Addr(), ChannelPrefix: "tb:"})
		if err != nil {
			t.Fatalf("new session: %v", err)
		}
		return s
	})
}

func TestNewFailsWithoutServer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	addr := mr.Addr()
	mr.Close()

	if _, err := New(context.Background(), Config{Addr: addr}); err == nil {
		t.Fatal("expected ping failure")
	}
}

func TestGlobFor(t *testing.T) {
	tests := []struct {
		pattern string
		want    string
	}{
		{"sensors/temp", "sensors/temp"},
		{"sensors/*", "sensors/*"},
		{"*/temp", "*/temp"},
		{"sensors/**", "sensors*"},
		{"a/**/z", "a*"},
		{"**", "*"},
		{"odd[1]/q?", `odd\[1\]/q\?`},
	}
	for _, tt := range tests {
		if got := globFor(tt.pattern); got != tt.want {
			t.Errorf("globFor(%q) = %q, want %q", tt.pattern, got, tt.want)
		}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name       string
		payload    []byte
		attachment []byte
	}{
		{"absent attachment", []byte("hello"), nil},
		{"empty attachment", []byte("hello"), []byte{}},
		{"both", []byte{0, 1, 2}, []byte("version=1.0")},
		{"empty payload", nil, []byte("k=v")},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			payload, attachment, err := decodeFrame(encodeFrame(c.payload, c.attachment))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !bytes.Equal(payload, c.payload) {
				t.Fatalf("payload %q, want %q", payload, c.payload)
			}
			if (attachment == nil) != (c.attachment == nil) {
				t.Fatalf("attachment presence changed: got %v, want %v", attachment, c.attachment)
			}
			if !bytes.Equal(attachment, c.attachment) {
				t.Fatalf("attachment %q, want %q", attachment, c.attachment)
			}
		})
	}
}

func TestDecodeFrameRejectsTruncation(t *testing.T) {
	frame := encodeFrame([]byte("p"), []byte("attachment"))
	for _, bad := range [][]byte{nil, {1}, frame[:4]} {
		if _, _, err := decodeFrame(bad); !errors.Is(err, errShortFrame) {
			t.Errorf("decodeFrame(%v): expected errShortFrame, got %v", bad, err)
		}
	}
}

func TestRecvSkipsUnframedMessage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx := context.Background()
	s, err := New(ctx, Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Close()
	sub, err := s.Subscribe(ctx, "sensors/*")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	// A publisher that knows nothing about framing.
	mr.Publish("sensors/bad", "x")
	if err := s.Publish(ctx, "sensors/temp", []byte("21.5"), nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got, err := sub.Recv(2 * time.Second)
	if !errors.Is(err, transport.ErrMalformedSample) {
		t.Fatalf("expected ErrMalformedSample, got %v", err)
	}
	if got.Topic != "sensors/bad" {
		t.Fatalf("expected topic of the bad message, got %q", got.Topic)
	}

	got, err = sub.Recv(2 * time.Second)
	if err != nil {
		t.Fatalf("subscription unusable after malformed message: %v", err)
	}
	if got.Topic != "sensors/temp" || string(got.Payload) != "21.5" {
		t.Fatalf("unexpected sample %q %q", got.Topic, got.Payload)
	}
}
