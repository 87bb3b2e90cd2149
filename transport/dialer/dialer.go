// Package dialer opens transport sessions from configuration.
package dialer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ggoodman/topicbridge/transport"
	"github.com/ggoodman/topicbridge/transport/memorytransport"
	"github.com/ggoodman/topicbridge/transport/natstransport"
	"github.com/ggoodman/topicbridge/transport/redistransport"
)

// Open creates a session for cfg.Driver. Memory sessions attach to the
// process-wide memorytransport network.
func Open(ctx context.Context, cfg transport.Config, log *slog.Logger) (transport.Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	var (
		s   transport.Session
		err error
	)
	switch cfg.Driver {
	case transport.DriverMemory:
		s = memorytransport.Default().Open()
	case transport.DriverRedis:
		s, err = redistransport.New(ctx, redistransport.FromTransportConfig(cfg))
	case transport.DriverNATS:
		nc := natstransport.FromTransportConfig(cfg)
		nc.Logger = log
		s, err = natstransport.New(ctx, nc)
	default:
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownDriver, cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	log.Debug("transport.session.opened",
		slog.String("driver", cfg.Driver),
		slog.String("session_id", s.ID()),
	)
	return s, nil
}

// OpenPath loads the configuration file at path (defaults when empty) and
// opens a session from it.
func OpenPath(ctx context.Context, path string, log *slog.Logger) (transport.Session, error) {
	cfg, err := transport.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return Open(ctx, cfg, log)
}
