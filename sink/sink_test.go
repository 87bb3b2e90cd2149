package sink

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/topicbridge/compression"
	"github.com/ggoodman/topicbridge/demux"
	"github.com/ggoodman/topicbridge/metadata"
	"github.com/ggoodman/topicbridge/pipeline"
	"github.com/ggoodman/topicbridge/sessions"
	"github.com/ggoodman/topicbridge/transport"
	"github.com/ggoodman/topicbridge/transport/memorytransport"
)

func recvOne(t *testing.T, sub transport.Subscriber) transport.Sample {
	t.Helper()
	s, err := sub.Recv(2 * time.Second)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	return s
}

func TestPublisherSendsBarePayloadWithoutMetadata(t *testing.T) {
	network := memorytransport.NewNetwork(8)
	pubSess, subSess := network.Open(), network.Open()
	defer pubSess.Close()
	defer subSess.Close()
	ctx := context.Background()

	sub, err := subSess.Subscribe(ctx, "out/raw")
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewPublisher(pubSess, "out/raw")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Push(ctx, pipeline.NewBuffer([]byte("hello"))); err != nil {
		t.Fatal(err)
	}

	got := recvOne(t, sub)
	if string(got.Payload) != "hello" || got.Attachment != nil {
		t.Fatalf("unexpected sample payload=%q attachment=%q", got.Payload, got.Attachment)
	}
	if s := p.Stats(); s.MessagesSent != 1 || s.BytesSent != 5 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestPublisherAttachesEnvelope(t *testing.T) {
	network := memorytransport.NewNetwork(8)
	pubSess, subSess := network.Open(), network.Open()
	defer pubSess.Close()
	defer subSess.Close()
	ctx := context.Background()

	sub, err := subSess.Subscribe(ctx, "out/*")
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewPublisher(pubSess, "out/cam",
		WithCompression(compression.Gzip, 6),
		WithTags(map[string]string{"site": "north", "camera": "default"}),
	)
	if err != nil {
		t.Fatal(err)
	}
	_ = p.PushEvent(ctx, pipeline.Event{Kind: pipeline.EventFormat, Format: "image/jpeg"})

	data := bytes.Repeat([]byte("jpeg"), 64)
	buf := pipeline.NewBuffer(data)
	buf.PTS = 2 * time.Second
	buf.Tags = map[string]string{"camera": "rear"}
	if err := p.Push(ctx, buf); err != nil {
		t.Fatal(err)
	}

	got := recvOne(t, sub)
	env, err := metadata.Parse(got.Attachment)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if env.Format != "image/jpeg" || env.Compression != "gzip" || env.PTS != 2*time.Second || env.DTS != metadata.NoTime {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Tags["site"] != "north" || env.Tags["camera"] != "rear" {
		t.Fatalf("unexpected tags %v", env.Tags)
	}
	plain, err := compression.Decompress(got.Payload, compression.Gzip)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, data) {
		t.Fatal("payload mismatch after decompression")
	}
}

func TestPublisherRejectsAfterEOS(t *testing.T) {
	s := memorytransport.NewNetwork(1).Open()
	defer s.Close()
	p, err := NewPublisher(s, "a/b")
	if err != nil {
		t.Fatal(err)
	}
	_ = p.PushEvent(context.Background(), pipeline.Event{Kind: pipeline.EventEOS})
	if err := p.Push(context.Background(), pipeline.NewBuffer(nil)); !errors.Is(err, pipeline.ErrEOS) {
		t.Fatalf("expected ErrEOS, got %v", err)
	}
}

func TestPublisherValidation(t *testing.T) {
	s := memorytransport.NewNetwork(1).Open()
	defer s.Close()
	if _, err := NewPublisher(s, "a/*"); !errors.Is(err, transport.ErrInvalidTopic) {
		t.Fatalf("expected ErrInvalidTopic, got %v", err)
	}
	if _, err := NewPublisher(s, "a/b", WithCompression(compression.Zstd, 0)); !errors.Is(err, compression.ErrInvalidLevel) {
		t.Fatalf("expected ErrInvalidLevel, got %v", err)
	}
	if _, err := NewPublisher(s, "a/b", WithCompression(compression.Algorithm(99), 3)); !errors.Is(err, compression.ErrUnsupportedAlgorithm) {
		t.Fatalf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestPublisherCountsErrors(t *testing.T) {
	s := memorytransport.NewNetwork(1).Open()
	p, err := NewPublisher(s, "a/b")
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()
	if err := p.Push(context.Background(), pipeline.NewBuffer([]byte("x"))); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if p.Stats().Errors != 1 {
		t.Fatalf("expected one error, got %+v", p.Stats())
	}
}

func TestHostRelaysDemuxedStreams(t *testing.T) {
	network := memorytransport.NewNetwork(32)
	ctx := context.Background()

	relaySess := network.Open()
	defer relaySess.Close()
	host, err := NewHost(relaySess, "relay", WithCompression(compression.Zstd, 3))
	if err != nil {
		t.Fatal(err)
	}

	reg := sessions.NewRegistry(func(context.Context, string) (transport.Session, error) { return network.Open(), nil })
	settings := demux.DefaultSettings()
	settings.Pattern = "in/*"
	settings.Naming = demux.NamingLastSegment
	settings.PollTimeout = 20 * time.Millisecond
	d := demux.New(host, demux.WithSessions(reg), demux.WithSettings(settings))

	observer := network.Open()
	defer observer.Close()
	out, err := observer.Subscribe(ctx, "relay/*")
	if err != nil {
		t.Fatal(err)
	}

	if err := d.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer d.Stop(ctx)

	producer := network.Open()
	defer producer.Close()
	env := metadata.New()
	env.Format = "text/plain"
	att, _ := metadata.Build(env)
	if err := producer.Publish(ctx, "in/temp", []byte("21.5"), att); err != nil {
		t.Fatal(err)
	}

	got := recvOne(t, out)
	if got.Topic != "relay/temp" {
		t.Fatalf("unexpected relay topic %q", got.Topic)
	}
	relayed, err := metadata.Parse(got.Attachment)
	if err != nil {
		t.Fatal(err)
	}
	if relayed.Format != "text/plain" || relayed.Compression != "zstd" {
		t.Fatalf("unexpected relayed envelope %+v", relayed)
	}
	plain, err := compression.Decompress(got.Payload, compression.Zstd)
	if err != nil || string(plain) != "21.5" {
		t.Fatalf("unexpected relayed payload %q (%v)", plain, err)
	}
	if s := host.Stats(); s.MessagesSent != 1 {
		t.Fatalf("unexpected host stats %+v", s)
	}
}
