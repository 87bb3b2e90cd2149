// Package redistransport implements the transport contract on Redis
// PUBLISH / PSUBSCRIBE.
//
// Design Notes
//   - Channels: ChannelPrefix + topic. Patterns are translated to a Redis
//     glob that over-approximates them and every delivery is then checked
//     with transport.Match, so segment semantics are exact.
//   - Framing: Redis messages have no headers, so each payload is framed as
//     flags(1) | uvarint(len(attachment)) | attachment | payload, where flag
//     bit 0 marks an attachment as present.
//   - Polling: Subscriber.Recv maps onto PubSub.ReceiveTimeout, which keeps
//     the connection across read timeouts.
//
// Trade-offs
//
//	Pros: no extra infrastructure where Redis is already deployed
//	Cons: at-most-once delivery; subscribers that are slow or offline lose messages
package redistransport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ggoodman/topicbridge/transport"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Config for a Redis-backed session.
type Config struct {
	// Client is used when set; otherwise one is created from the other fields.
	Client   redis.UniversalClient
	Addr     string
	DB       int
	Username string
	Password string
	// ChannelPrefix is prepended to topics to form channel names.
	ChannelPrefix string
}

// FromTransportConfig maps the generic transport configuration.
func FromTransportConfig(c transport.Config) Config {
	return Config{
		Addr:          c.Addr,
		DB:            c.Redis.DB,
		Username:      c.Redis.Username,
		Password:      c.Redis.Password,
		ChannelPrefix: c.Redis.ChannelPrefix,
	}
}

type Session struct {
	id     string
	client redis.UniversalClient
	prefix string
	closed atomic.Bool
}

// New connects and pings the server.
func New(ctx context.Context, cfg Config) (*Session, error) {
	client := cfg.Client
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{
			Addr:     addr,
			DB:       cfg.DB,
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Session{
		id:     uuid.NewString(),
		client: client,
		prefix: cfg.ChannelPrefix,
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Subscribe(ctx context.Context, pattern string) (transport.Subscriber, error) {
	if s.closed.Load() {
		return nil, transport.ErrClosed
	}
	if err := transport.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	ps := s.client.PSubscribe(ctx, s.prefix+globFor(pattern))
	// Wait for the server to confirm so that publications made after
	// Subscribe returns are delivered.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis psubscribe %s: %w", pattern, err)
	}
	return &subscriber{session: s, pattern: pattern, ps: ps}, nil
}

func (s *Session) Publish(ctx context.Context, topic string, payload, attachment []byte) error {
	if s.closed.Load() {
		return transport.ErrClosed
	}
	if err := transport.ValidateTopic(topic); err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.prefix+topic, encodeFrame(payload, attachment)).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.Close()
}

type subscriber struct {
	session *Session
	pattern string
	ps      *redis.PubSub
	closed  atomic.Bool
}

func (s *subscriber) Pattern() string { return s.pattern }

func (s *subscriber) Recv(timeout time.Duration) (transport.Sample, error) {
	deadline := time.Now().Add(timeout)
	for {
		if s.closed.Load() || s.session.closed.Load() {
			return transport.Sample{}, transport.ErrClosed
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return transport.Sample{}, transport.ErrTimeout
		}
		msg, err := s.ps.ReceiveTimeout(context.Background(), remaining)
		if err != nil {
			if isTimeout(err) {
				return transport.Sample{}, transport.ErrTimeout
			}
			if s.closed.Load() || s.session.closed.Load() {
				return transport.Sample{}, transport.ErrClosed
			}
			return transport.Sample{}, fmt.Errorf("redis receive: %w", err)
		}
		m, ok := msg.(*redis.Message)
		if !ok {
			// Subscription confirmations and pongs.
			continue
		}
		topic := strings.TrimPrefix(m.Channel, s.session.prefix)
		if !transport.Match(s.pattern, topic) {
			continue
		}
		payload, attachment, err := decodeFrame([]byte(m.Payload))
		if err != nil {
			return transport.Sample{Topic: topic}, fmt.Errorf("%w: redis frame on %s: %w", transport.ErrMalformedSample, topic, err)
		}
		return transport.Sample{Topic: topic, Payload: payload, Attachment: attachment}, nil
	}
}

func (s *subscriber) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.ps.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// globFor translates a topic pattern into a Redis glob that selects a
// superset of the pattern's topics. Redis '*' also crosses '/', so
// everything from the first '**' on collapses into one '*'. Glob
// metacharacters in literal segments are escaped.
func globFor(pattern string) string {
	var b strings.Builder
	for i, seg := range strings.Split(pattern, transport.Separator) {
		if seg == transport.MultiWildcard {
			b.WriteByte('*')
			return b.String()
		}
		if i > 0 {
			b.WriteString(transport.Separator)
		}
		if seg == transport.SingleWildcard {
			b.WriteByte('*')
		} else {
			b.WriteString(globEscaper.Replace(seg))
		}
	}
	return b.String()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "?", `\?`, "[", `\[`, "]", `\]`)

const flagAttachment = 1 << 0

var errShortFrame = errors.New("short frame")

func encodeFrame(payload, attachment []byte) []byte {
	out := make([]byte, 0, 1+binary.MaxVarintLen64+len(attachment)+len(payload))
	var flags byte
	if attachment != nil {
		flags |= flagAttachment
	}
	out = append(out, flags)
	out = binary.AppendUvarint(out, uint64(len(attachment)))
	out = append(out, attachment...)
	return append(out, payload...)
}

func decodeFrame(frame []byte) (payload, attachment []byte, err error) {
	if len(frame) < 2 {
		return nil, nil, errShortFrame
	}
	flags := frame[0]
	n, read := binary.Uvarint(frame[1:])
	if read <= 0 {
		return nil, nil, errShortFrame
	}
	rest := frame[1+read:]
	if uint64(len(rest)) < n {
		return nil, nil, errShortFrame
	}
	if flags&flagAttachment != 0 {
		attachment = rest[:n:n]
	}
	return rest[n:], attachment, nil
}

// Compile-time interface checks
var (
	_ transport.Session    = (*Session)(nil)
	_ transport.Subscriber = (*subscriber)(nil)
)
