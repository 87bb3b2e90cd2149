package main

import (
	"context"
	"log/slog"

	"github.com/ggoodman/topicbridge/sessions"
	"github.com/ggoodman/topicbridge/transport"
	"github.com/ggoodman/topicbridge/transport/dialer"
)

func dialerOpen(log *slog.Logger) sessions.OpenFunc {
	return func(ctx context.Context, configPath string) (transport.Session, error) {
		return dialer.OpenPath(ctx, configPath, log)
	}
}
