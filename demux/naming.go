package demux

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/ggoodman/topicbridge/transport"
)

// Naming selects how a concrete topic becomes a stream name.
type Naming int

const (
	// NamingFullPath joins the sanitized topic segments with '_'.
	NamingFullPath Naming = iota
	// NamingLastSegment uses the final segment only. Topics that share a
	// last segment share a stream.
	NamingLastSegment
	// NamingHash uses a 64-bit hash of the topic. Distinct topics that
	// hash alike share a stream.
	NamingHash
)

var namingNames = [...]string{
	NamingFullPath:    "full-path",
	NamingLastSegment: "last-segment",
	NamingHash:        "hash",
}

func (n Naming) String() string {
	if n < 0 || int(n) >= len(namingNames) {
		return fmt.Sprintf("Naming(%d)", int(n))
	}
	return namingNames[n]
}

func ParseNaming(s string) (Naming, error) {
	for i, name := range namingNames {
		if strings.EqualFold(s, name) {
			return Naming(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown naming policy %q", ErrConfiguration, s)
}

func (n Naming) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

func (n *Naming) UnmarshalText(b []byte) error {
	v, err := ParseNaming(string(b))
	if err != nil {
		return err
	}
	*n = v
	return nil
}

// Literal tokens standing in for wildcard segments.
const (
	singleWildcardToken = "any"
	multiWildcardToken  = "all"
)

// fallbackKey names a stream whose topic sanitizes to nothing usable.
const fallbackKey = "topic"

// Key derives the stream name for topic. The result only contains
// [A-Za-z0-9_.-] and is never "", "." or "..".
func (n Naming) Key(topic string) string {
	switch n {
	case NamingLastSegment:
		i := strings.LastIndex(topic, transport.Separator)
		return finish(sanitizeSegment(topic[i+1:]))
	case NamingHash:
		return fmt.Sprintf("topic_%016x", xxhash.Sum64String(topic))
	default:
		segs := strings.Split(topic, transport.Separator)
		for i, seg := range segs {
			segs[i] = sanitizeSegment(seg)
		}
		return finish(strings.Join(segs, "_"))
	}
}

func sanitizeSegment(seg string) string {
	switch seg {
	case transport.SingleWildcard:
		return singleWildcardToken
	case transport.MultiWildcard:
		return multiWildcardToken
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, seg)
}

func finish(key string) string {
	switch key {
	case "":
		return fallbackKey
	case ".", "..":
		return strings.Repeat("_", len(key))
	}
	return key
}
