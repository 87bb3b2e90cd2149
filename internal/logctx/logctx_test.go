package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := Wrap(slog.New(slog.NewJSONHandler(&buf, nil))).With(slog.String("component", "test"))

	ctx := WithDemuxData(context.Background(), &DemuxData{Instance: "d1", Pattern: "sensors/*", Naming: "last-segment"})
	ctx = WithStreamData(ctx, &StreamData{Topic: "sensors/temp", Key: "temp"})
	log.InfoContext(ctx, "demux.stream.created")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["component"] != "test" {
		t.Fatalf("With attrs lost: %v", rec)
	}
	demux, ok := rec["demux"].(map[string]any)
	if !ok || demux["pattern"] != "sensors/*" || demux["instance"] != "d1" {
		t.Fatalf("missing demux group: %v", rec)
	}
	stream, ok := rec["stream"].(map[string]any)
	if !ok || stream["key"] != "temp" {
		t.Fatalf("missing stream group: %v", rec)
	}
	if _, ok := rec["publish"]; ok {
		t.Fatalf("unexpected publish group: %v", rec)
	}
}

func TestWrapIsIdempotent(t *testing.T) {
	l := Wrap(slog.Default())
	if Wrap(l) != l {
		t.Fatal("expected Wrap to return an already wrapped logger unchanged")
	}
}
