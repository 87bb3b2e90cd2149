// Package metadata implements the sidecar envelope that may accompany a
// published payload. An envelope is a UTF-8 block of `key=value` lines
// joined by "\n":
//
//	version=1.0
//	format=audio/x-raw, rate=48000
//	compression=zstd
//	pts=1000000
//	user.camera=front
//
// Newlines and backslashes inside values are escaped as `\n` and `\\`.
// Keys other than the reserved ones are user tags; on the wire they carry
// the "user." prefix, which Parse strips. Unknown keys without the prefix
// are kept as user tags so that newer publishers can add fields without
// breaking older subscribers.
//
// "No metadata" is expressed by sending no envelope at all; an envelope
// built from an empty value still carries the version line.
package metadata

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// SchemaVersion is written into every envelope. It is informational only;
// readers do not reject other versions.
const SchemaVersion = "1.0"

const (
	KeyVersion     = "version"
	KeyFormat      = "format"
	KeyCompression = "compression"
	KeyPTS         = "pts"
	KeyDTS         = "dts"
	KeyDuration    = "duration"

	// UserPrefix namespaces user tags on the wire.
	UserPrefix = "user."
)

// NoTime marks an unset timing field.
const NoTime time.Duration = -1

var (
	ErrMalformed  = errors.New("metadata: malformed envelope")
	ErrInvalidKey = errors.New("metadata: invalid tag key")
)

// Envelope is the decoded sidecar. The zero value is not ready for use
// with timing fields; start from New.
type Envelope struct {
	Version string
	// Format is the serialized stream-format description, empty when absent.
	Format string
	// Compression is the raw algorithm tag, empty when the payload is not
	// compressed. It is kept as text so that unknown tags survive parsing
	// and are rejected by the consumer that actually needs to decode them.
	Compression string

	PTS      time.Duration
	DTS      time.Duration
	Duration time.Duration

	Tags map[string]string
}

// New returns an envelope with the current schema version and no timing.
func New() Envelope {
	return Envelope{
		Version:  SchemaVersion,
		PTS:      NoTime,
		DTS:      NoTime,
		Duration: NoTime,
		Tags:     map[string]string{},
	}
}

// Build encodes e. Reserved fields come first in a fixed order followed by
// user tags sorted by key, so equal envelopes encode identically.
func Build(e Envelope) ([]byte, error) {
	version := e.Version
	if version == "" {
		version = SchemaVersion
	}

	var b strings.Builder
	writeLine(&b, KeyVersion, version)
	if e.Format != "" {
		writeLine(&b, KeyFormat, e.Format)
	}
	if e.Compression != "" {
		writeLine(&b, KeyCompression, e.Compression)
	}
	writeTime(&b, KeyPTS, e.PTS)
	writeTime(&b, KeyDTS, e.DTS)
	writeTime(&b, KeyDuration, e.Duration)

	keys := make([]string, 0, len(e.Tags))
	for k := range e.Tags {
		if err := validateKey(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		wire := k
		if !strings.HasPrefix(wire, UserPrefix) {
			wire = UserPrefix + wire
		}
		writeLine(&b, wire, e.Tags[k])
	}
	return []byte(b.String()), nil
}

// Parse decodes an envelope. It fails only on invalid UTF-8 or on a line
// without a '=' separator. A single trailing newline is ignored.
func Parse(data []byte) (Envelope, error) {
	if !utf8.Valid(data) {
		return Envelope{}, fmt.Errorf("%w: not valid UTF-8", ErrMalformed)
	}
	e := New()
	e.Version = ""
	for i, line := range strings.Split(strings.TrimSuffix(string(data), "\n"), "\n") {
		key, raw, ok := strings.Cut(line, "=")
		if !ok {
			return Envelope{}, fmt.Errorf("%w: line %d has no '=' separator", ErrMalformed, i+1)
		}
		value := unescape(raw)
		switch key {
		case KeyVersion:
			e.Version = value
		case KeyFormat:
			e.Format = value
		case KeyCompression:
			e.Compression = value
		case KeyPTS, KeyDTS, KeyDuration:
			d, err := strconv.ParseInt(value, 10, 64)
			if err != nil || d < 0 {
				// Unreadable timing is kept rather than rejected.
				e.Tags[key] = value
				continue
			}
			switch key {
			case KeyPTS:
				e.PTS = time.Duration(d)
			case KeyDTS:
				e.DTS = time.Duration(d)
			default:
				e.Duration = time.Duration(d)
			}
		default:
			e.Tags[strings.TrimPrefix(key, UserPrefix)] = value
		}
	}
	return e, nil
}

// HasTiming reports whether any timing field is set.
func (e Envelope) HasTiming() bool {
	return e.PTS >= 0 || e.DTS >= 0 || e.Duration >= 0
}

func validateKey(k string) error {
	if k == "" || k == UserPrefix {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.ContainsAny(k, "=\n") {
		return fmt.Errorf("%w: %q contains '=' or a newline", ErrInvalidKey, k)
	}
	if !utf8.ValidString(k) {
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidKey, k)
	}
	return nil
}

func writeLine(b *strings.Builder, key, value string) {
	if b.Len() > 0 {
		b.WriteByte('\n')
	}
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(escape(value))
}

func writeTime(b *strings.Builder, key string, d time.Duration) {
	if d < 0 {
		return
	}
	writeLine(b, key, strconv.FormatInt(int64(d), 10))
}

var escaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`)

func escape(s string) string { return escaper.Replace(s) }

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
			i++
		case '\\':
			b.WriteByte('\\')
			i++
		default:
			// Unknown escapes pass through untouched.
			b.WriteByte(c)
		}
	}
	return b.String()
}
