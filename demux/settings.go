package demux

import (
	"fmt"
	"strings"
	"time"

	"github.com/ggoodman/topicbridge/transport"
)

const (
	MinPollTimeout     = 10 * time.Millisecond
	MaxPollTimeout     = 5 * time.Second
	DefaultPollTimeout = 100 * time.Millisecond
)

// Settings is captured once per Start. Changing it requires Stop first.
type Settings struct {
	// Pattern is the topic pattern to subscribe to.
	Pattern string `yaml:"pattern" json:"pattern"`
	// Group names a shared session. Empty means a private session.
	Group string `yaml:"group,omitempty" json:"group,omitempty"`
	// ConfigPath is the transport configuration file. Empty selects the
	// environment defaults.
	ConfigPath string `yaml:"config_path,omitempty" json:"config_path,omitempty"`
	Naming     Naming `yaml:"naming" json:"naming"`
	// PollTimeout bounds both a single receive and the latency of Stop.
	PollTimeout time.Duration `yaml:"poll_timeout" json:"poll_timeout"`
}

func DefaultSettings() Settings {
	return Settings{Naming: NamingFullPath, PollTimeout: DefaultPollTimeout}
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.Pattern) == "" {
		return fmt.Errorf("%w: topic pattern is empty", ErrConfiguration)
	}
	if err := transport.ValidatePattern(s.Pattern); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := validatePollTimeout(s.PollTimeout); err != nil {
		return err
	}
	if s.Naming < NamingFullPath || s.Naming > NamingHash {
		return fmt.Errorf("%w: unknown naming policy %d", ErrConfiguration, int(s.Naming))
	}
	return nil
}

func validatePollTimeout(d time.Duration) error {
	if d < MinPollTimeout || d > MaxPollTimeout {
		return fmt.Errorf("%w: poll timeout %v outside [%v, %v]", ErrConfiguration, d, MinPollTimeout, MaxPollTimeout)
	}
	return nil
}
