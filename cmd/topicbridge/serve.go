package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/topicbridge/demux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// reloadDebounce coalesces the bursts of events editors produce on save.
const reloadDebounce = 250 * time.Millisecond

// serve starts d and keeps it running until ctx ends or its receiver fails.
// A change to the transport config file restarts it.
func serve(ctx context.Context, d *demux.Demuxer, o commonOptions, log *slog.Logger) error {
	if err := d.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	reload := make(chan struct{}, 1)

	if o.Config != "" {
		g.Go(func() error { return watchFile(gctx, o.Config, reload, log) })
	}
	if o.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		c := demux.NewCollector()
		c.Add(d)
		reg.MustRegister(c, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		g.Go(func() error { return serveMetrics(gctx, o.MetricsAddr, reg, log) })
	}

	g.Go(func() error {
		defer func() { _ = d.Stop(context.Background()) }()
		done := d.Done()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-done:
				return d.Err()
			case <-reload:
				if o.Group != "" {
					log.Warn("topicbridge.reload.group_pinned",
						slog.String("group", o.Group),
						slog.String("config", o.Config),
					)
				}
				log.Info("topicbridge.reload", slog.String("config", o.Config))
				if err := d.Stop(gctx); err != nil {
					return err
				}
				if err := d.Start(gctx); err != nil {
					return fmt.Errorf("restart after config change: %w", err)
				}
				done = d.Done()
			}
		}
	})
	return g.Wait()
}

// watchFile signals reload after path is written, created or replaced. The
// parent directory is watched so that atomic renames are seen.
func watchFile(ctx context.Context, path string, reload chan<- struct{}, log *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	defer func() { _ = w.Close() }()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("topicbridge.watch_error", slog.String("err", err.Error()))
		case <-timer.C:
			select {
			case reload <- struct{}{}:
			default:
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info("topicbridge.metrics.listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
