package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ggoodman/topicbridge/demux"
	"github.com/ggoodman/topicbridge/pipeline/memorypipeline"
	"github.com/ggoodman/topicbridge/sessions"
	"github.com/ggoodman/topicbridge/transport"
	"github.com/ggoodman/topicbridge/transport/memorytransport"
)

func TestCommonOptionsFromEnv(t *testing.T) {
	t.Setenv("TOPICBRIDGE_NAMING", "hash")
	t.Setenv("TOPICBRIDGE_POLL_TIMEOUT", "250ms")
	t.Setenv("TOPICBRIDGE_GROUP", "edge")

	o, err := loadCommonOptions()
	if err != nil {
		t.Fatal(err)
	}
	s, err := o.settings("a/*")
	if err != nil {
		t.Fatal(err)
	}
	if s.Naming != demux.NamingHash || s.PollTimeout != 250*time.Millisecond || s.Group != "edge" {
		t.Fatalf("unexpected settings %+v", s)
	}

	o.Naming = "bogus"
	if _, err := o.settings("a/*"); !errors.Is(err, demux.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := commonOptions{LogLevel: "warn", LogFormat: "json"}.logger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hidden")
	log.Warn("shown")
	if bytes.Contains(buf.Bytes(), []byte("hidden")) || !bytes.Contains(buf.Bytes(), []byte("shown")) {
		t.Fatalf("unexpected output %q", buf.String())
	}
	if _, err := (commonOptions{LogLevel: "info", LogFormat: "xml"}).logger(&buf); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestTagFlag(t *testing.T) {
	tags := tagFlag{}
	for _, s := range []string{"site=north", "note=a=b"} {
		if err := tags.Set(s); err != nil {
			t.Fatal(err)
		}
	}
	if tags["site"] != "north" || tags["note"] != "a=b" {
		t.Fatalf("unexpected tags %v", tags)
	}
	if err := tags.Set("novalue"); err == nil {
		t.Fatal("expected error")
	}
}

func TestWatchFileSignalsReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transport.yaml")
	if err := os.WriteFile(path, []byte("driver: memory\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reload := make(chan struct{}, 1)
	errc := make(chan error, 1)
	go func() { errc <- watchFile(ctx, path, reload, slog.Default()) }()

	// Give the watcher time to register before touching the file.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "unrelated.yaml"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("driver: memory\nqueue_size: 8\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reload:
	case <-time.After(3 * time.Second):
		t.Fatal("no reload signal")
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("watch: %v", err)
	}
}

func TestServeEndsOnTransportFailure(t *testing.T) {
	network := memorytransport.NewNetwork(8)
	reg := sessions.NewRegistry(func(context.Context, string) (transport.Session, error) { return network.Open(), nil })
	settings := demux.DefaultSettings()
	settings.Pattern = "s/*"
	settings.Group = "serve"
	settings.PollTimeout = 20 * time.Millisecond
	d := demux.New(memorypipeline.NewHost(), demux.WithSessions(reg), demux.WithSettings(settings))

	errc := make(chan error, 1)
	go func() { errc <- serve(context.Background(), d, commonOptions{Group: "serve"}, slog.Default()) }()

	deadline := time.Now().Add(3 * time.Second)
	for d.State() != demux.StateStarted && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	shared, err := reg.GetOrCreate(context.Background(), "serve", "")
	if err != nil {
		t.Fatal(err)
	}
	_ = shared.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, demux.ErrTransport) {
			t.Fatalf("expected ErrTransport, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return")
	}
	if d.State() != demux.StateStopped {
		t.Fatalf("expected demuxer stopped on exit, got %s", d.State())
	}
}
