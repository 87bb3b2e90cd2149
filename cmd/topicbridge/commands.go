package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ggoodman/topicbridge/compression"
	"github.com/ggoodman/topicbridge/demux"
	"github.com/ggoodman/topicbridge/pipeline"
	"github.com/ggoodman/topicbridge/pipeline/filepipeline"
	"github.com/ggoodman/topicbridge/sessions"
	"github.com/ggoodman/topicbridge/sink"
	"github.com/ggoodman/topicbridge/transport"
	"github.com/invopop/jsonschema"
)

func runDemux(ctx context.Context, args []string) error {
	o, err := loadCommonOptions()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("demux", flag.ContinueOnError)
	o.register(fs, true)
	pattern := fs.String("pattern", "", "topic pattern to subscribe to (required)")
	out := fs.String("out", ".", "directory receiving one file per stream")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log, err := o.logger(os.Stderr)
	if err != nil {
		return err
	}
	settings, err := o.settings(*pattern)
	if err != nil {
		return err
	}
	host, err := filepipeline.New(*out, filepipeline.WithLogger(log))
	if err != nil {
		return err
	}
	reg := sessions.NewRegistry(dialerOpen(log), sessions.WithLogger(log))
	d := demux.New(host, demux.WithLogger(log), demux.WithSessions(reg), demux.WithSettings(settings))
	return serve(ctx, d, o, log)
}

func runRelay(ctx context.Context, args []string) error {
	o, err := loadCommonOptions()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	o.register(fs, true)
	pattern := fs.String("pattern", "", "topic pattern to subscribe to (required)")
	prefix := fs.String("prefix", "", "topic prefix of the republished streams (required)")
	algo := fs.String("compression", "none", "compress republished payloads: "+supportedAlgorithms())
	level := fs.Int("level", compression.DefaultLevel, "compression level 1..9")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *prefix == "" {
		return errors.New("-prefix is required")
	}

	log, err := o.logger(os.Stderr)
	if err != nil {
		return err
	}
	settings, err := o.settings(*pattern)
	if err != nil {
		return err
	}
	a, err := compression.ParseAlgorithm(*algo)
	if err != nil {
		return err
	}

	reg := sessions.NewRegistry(dialerOpen(log), sessions.WithLogger(log))
	out, err := openSession(ctx, reg, o)
	if err != nil {
		return err
	}
	if o.Group == "" {
		defer out.Close()
	}
	host, err := sink.NewHost(out, *prefix, sink.WithCompression(a, *level), sink.WithLogger(log))
	if err != nil {
		return err
	}
	d := demux.New(host, demux.WithLogger(log), demux.WithSessions(reg), demux.WithSettings(settings))
	return serve(ctx, d, o, log)
}

func runPublish(ctx context.Context, args []string) error {
	o, err := loadCommonOptions()
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	o.register(fs, false)
	topic := fs.String("topic", "", "topic to publish to (required)")
	format := fs.String("format", "", "format description carried in the envelope")
	algo := fs.String("compression", "none", "compress payloads: "+supportedAlgorithms())
	level := fs.Int("level", compression.DefaultLevel, "compression level 1..9")
	tags := tagFlag{}
	fs.Var(tags, "tag", "user tag key=value; repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log, err := o.logger(os.Stderr)
	if err != nil {
		return err
	}
	a, err := compression.ParseAlgorithm(*algo)
	if err != nil {
		return err
	}
	reg := sessions.NewRegistry(dialerOpen(log), sessions.WithLogger(log))
	session, err := openSession(ctx, reg, o)
	if err != nil {
		return err
	}
	defer session.Close()

	p, err := sink.NewPublisher(session, *topic,
		sink.WithCompression(a, *level),
		sink.WithTags(tags),
		sink.WithLogger(log),
	)
	if err != nil {
		return err
	}
	if *format != "" {
		_ = p.PushEvent(ctx, pipeline.Event{Kind: pipeline.EventFormat, Format: *format})
	}

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), compression.MaxDecompressedSize)
	for sc.Scan() {
		if err := p.Push(ctx, pipeline.NewBuffer([]byte(sc.Text()))); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	s := p.Stats()
	log.Info("topicbridge.publish.done",
		"messages", s.MessagesSent,
		"bytes", s.BytesSent,
	)
	return nil
}

func runSchema(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	r := &jsonschema.Reflector{FieldNameTag: "yaml", DoNotReference: true}
	schema := r.Reflect(&transport.Config{})
	schema.Title = "topicbridge transport configuration"
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(schema)
}

func openSession(ctx context.Context, reg *sessions.Registry, o commonOptions) (transport.Session, error) {
	if o.Group != "" {
		return reg.GetOrCreate(ctx, o.Group, o.Config)
	}
	return reg.OpenPrivate(ctx, o.Config)
}

func supportedAlgorithms() string {
	var names []string
	for _, a := range compression.Supported() {
		names = append(names, a.String())
	}
	return strings.Join(names, ", ")
}

// tagFlag collects repeated -tag key=value flags.
type tagFlag map[string]string

func (t tagFlag) String() string {
	parts := make([]string, 0, len(t))
	for k, v := range t {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (t tagFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("tag %q: want key=value", s)
	}
	t[k] = v
	return nil
}
