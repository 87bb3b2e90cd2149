// Package natstransport implements the transport contract on core NATS.
//
// Design Notes
//   - Subjects: topic segments map one to one onto subject tokens, so
//     "sensors/temp" travels as "sensors.temp". Topics whose segments
//     contain '.', '>' or whitespace cannot be expressed and are rejected.
//   - Patterns: '*' maps to '*'. A trailing '**' maps to the parent subject
//     plus "parent.>" because '>' needs at least one token. Anything after
//     a non-trailing '**' is dropped from the subject and enforced with
//     transport.Match instead.
//   - Attachments ride in a message header, base64 encoded, so an absent
//     header and an empty attachment stay distinguishable.
//   - All subjects of one subscriber feed a single channel from the
//     connection's read loop, which keeps arrival order intact.
//
// Trade-offs
//
//	Pros: native wildcard routing on the server; no framing of payloads
//	Cons: a subscriber whose queue fills is a slow consumer and loses messages
package natstransport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/topicbridge/transport"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// AttachmentHeader carries the base64 attachment of a message.
const AttachmentHeader = "Topicbridge-Attachment"

// attachmentTag keeps the header value non-empty for empty attachments.
const attachmentTag = "b64:"

// Config for a NATS-backed session.
type Config struct {
	// Conn is used when set and is not closed by the session.
	Conn          *nats.Conn
	URL           string
	Name          string
	Token         string
	MaxReconnects int
	QueueSize     int
	Logger        *slog.Logger
}

// FromTransportConfig maps the generic transport configuration.
func FromTransportConfig(c transport.Config) Config {
	return Config{
		URL:           c.Addr,
		Name:          c.NATS.Name,
		Token:         c.NATS.Token,
		MaxReconnects: c.NATS.MaxReconnects,
		QueueSize:     c.QueueSize,
	}
}

func (c Config) options(log *slog.Logger) []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("natstransport.disconnected", slog.String("err", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("natstransport.reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{slog.String("err", err.Error())}
			if sub != nil {
				attrs = append(attrs, slog.String("subject", sub.Subject))
			}
			log.Error("natstransport.async_error", attrs...)
		}),
	}
	if c.Name != "" {
		opts = append(opts, nats.Name(c.Name))
	}
	if c.Token != "" {
		opts = append(opts, nats.Token(c.Token))
	}
	return opts
}

type Session struct {
	id        string
	conn      *nats.Conn
	ownsConn  bool
	queueSize int

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
	done   chan struct{}
}

// New connects to the server, or wraps cfg.Conn when set.
func New(ctx context.Context, cfg Config) (*Session, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	queue := cfg.QueueSize
	if queue < 1 {
		queue = transport.DefaultQueueSize
	}

	conn, owns := cfg.Conn, false
	if conn == nil {
		url := cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		opts := cfg.options(log)
		if deadline, ok := ctx.Deadline(); ok {
			opts = append(opts, nats.Timeout(time.Until(deadline)))
		}
		c, err := nats.Connect(url, opts...)
		if err != nil {
			return nil, fmt.Errorf("nats connect %s: %w", url, err)
		}
		conn, owns = c, true
	}

	return &Session{
		id:        uuid.NewString(),
		conn:      conn,
		ownsConn:  owns,
		queueSize: queue,
		subs:      make(map[*subscriber]struct{}),
		done:      make(chan struct{}),
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Subscribe(ctx context.Context, pattern string) (transport.Subscriber, error) {
	if err := transport.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	subjects, err := subjectsFor(pattern)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, transport.ErrClosed
	}

	sub := &subscriber{
		session: s,
		pattern: pattern,
		ch:      make(chan *nats.Msg, s.queueSize),
		done:    make(chan struct{}),
	}
	for _, subject := range subjects {
		ns, err := s.conn.ChanSubscribe(subject, sub.ch)
		if err != nil {
			sub.unsubscribe()
			return nil, fmt.Errorf("nats subscribe %s: %w", subject, mapErr(err))
		}
		sub.nsubs = append(sub.nsubs, ns)
	}
	// Make sure the server has registered interest before returning.
	if err := s.conn.FlushWithContext(ctx); err != nil {
		sub.unsubscribe()
		return nil, fmt.Errorf("nats flush: %w", mapErr(err))
	}
	s.subs[sub] = struct{}{}
	return sub, nil
}

func (s *Session) Publish(ctx context.Context, topic string, payload, attachment []byte) error {
	if err := transport.ValidateTopic(topic); err != nil {
		return err
	}
	subject, err := subjectFor(topic)
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	msg := nats.NewMsg(subject)
	msg.Data = payload
	if attachment != nil {
		msg.Header[AttachmentHeader] = []string{attachmentTag + base64.StdEncoding.EncodeToString(attachment)}
	}
	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, mapErr(err))
	}
	return nil
}

// Close unsubscribes every subscriber and closes the connection when the
// session created it.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	subs := make([]*subscriber, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	if s.ownsConn {
		// Flush pending publications before the socket goes away.
		_ = s.conn.FlushTimeout(time.Second)
		s.conn.Close()
	}
	return nil
}

type subscriber struct {
	session *Session
	pattern string
	nsubs   []*nats.Subscription
	ch      chan *nats.Msg

	once sync.Once
	done chan struct{}
}

func (s *subscriber) Pattern() string { return s.pattern }

func (s *subscriber) Recv(timeout time.Duration) (transport.Sample, error) {
	select {
	case <-s.done:
		return transport.Sample{}, transport.ErrClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case m := <-s.ch:
			topic := topicFor(m.Subject)
			if !transport.Match(s.pattern, topic) {
				continue
			}
			attachment, err := decodeAttachment(m.Header)
			if err != nil {
				return transport.Sample{Topic: topic}, fmt.Errorf("%w: nats message on %s: %w", transport.ErrMalformedSample, topic, err)
			}
			return transport.Sample{Topic: topic, Payload: m.Data, Attachment: attachment}, nil
		case <-s.done:
			return transport.Sample{}, transport.ErrClosed
		case <-s.session.done:
			return transport.Sample{}, transport.ErrClosed
		case <-timer.C:
			return transport.Sample{}, transport.ErrTimeout
		}
	}
}

func (s *subscriber) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.unsubscribe()
		s.session.mu.Lock()
		delete(s.session.subs, s)
		s.session.mu.Unlock()
	})
	return nil
}

func (s *subscriber) unsubscribe() {
	for _, ns := range s.nsubs {
		_ = ns.Unsubscribe()
	}
}

var errBadAttachment = errors.New("malformed attachment header")

func decodeAttachment(h nats.Header) ([]byte, error) {
	vals, ok := h[AttachmentHeader]
	if !ok || len(vals) == 0 {
		return nil, nil
	}
	raw, ok := strings.CutPrefix(vals[0], attachmentTag)
	if !ok {
		return nil, errBadAttachment
	}
	out, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadAttachment, err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

func mapErr(err error) error {
	if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
		return transport.ErrClosed
	}
	return err
}

// subjectFor maps a concrete topic onto a subject.
func subjectFor(topic string) (string, error) {
	segs := strings.Split(topic, transport.Separator)
	for _, seg := range segs {
		if strings.ContainsAny(seg, ".> \t\r\n") {
			return "", fmt.Errorf("%w: segment %q cannot be carried over nats", transport.ErrInvalidTopic, seg)
		}
	}
	return strings.Join(segs, "."), nil
}

// subjectsFor maps a pattern onto the subjects whose union covers it.
func subjectsFor(pattern string) ([]string, error) {
	segs := strings.Split(pattern, transport.Separator)
	tokens := make([]string, 0, len(segs))
	for i, seg := range segs {
		if seg == transport.MultiWildcard {
			if i == 0 {
				return []string{">"}, nil
			}
			parent := strings.Join(tokens, ".")
			if i == len(segs)-1 {
				return []string{parent, parent + ".>"}, nil
			}
			return []string{parent + ".>"}, nil
		}
		if seg != transport.SingleWildcard && strings.ContainsAny(seg, ".> \t\r\n") {
			return nil, fmt.Errorf("%w: segment %q cannot be carried over nats", transport.ErrInvalidTopic, seg)
		}
		tokens = append(tokens, seg)
	}
	return []string{strings.Join(tokens, ".")}, nil
}

func topicFor(subject string) string {
	return strings.ReplaceAll(subject, ".", transport.Separator)
}

// Compile-time interface checks
var (
	_ transport.Session    = (*Session)(nil)
	_ transport.Subscriber = (*subscriber)(nil)
)
