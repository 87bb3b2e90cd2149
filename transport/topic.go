package transport

import (
	"fmt"
	"strings"
)

const (
	Separator      = "/"
	SingleWildcard = "*"
	MultiWildcard  = "**"
)

// ValidatePattern checks that pattern is a non-empty topic expression.
// Wildcards must occupy a whole segment.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidTopic)
	}
	for _, seg := range strings.Split(pattern, Separator) {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidTopic, pattern)
		}
		if strings.Contains(seg, SingleWildcard) && seg != SingleWildcard && seg != MultiWildcard {
			return fmt.Errorf("%w: %q mixes a wildcard into segment %q", ErrInvalidTopic, pattern, seg)
		}
	}
	return nil
}

// ValidateTopic checks that topic is concrete: a valid pattern without
// wildcards.
func ValidateTopic(topic string) error {
	if err := ValidatePattern(topic); err != nil {
		return err
	}
	if strings.Contains(topic, SingleWildcard) {
		return fmt.Errorf("%w: %q is a pattern, not a concrete topic", ErrInvalidTopic, topic)
	}
	return nil
}

// Match reports whether the concrete topic is selected by pattern.
func Match(pattern, topic string) bool {
	return matchSegments(strings.Split(pattern, Separator), strings.Split(topic, Separator))
}

func matchSegments(pat, top []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case MultiWildcard:
			rest := pat[1:]
			for i := 0; i <= len(top); i++ {
				if matchSegments(rest, top[i:]) {
					return true
				}
			}
			return false
		case SingleWildcard:
			if len(top) == 0 {
				return false
			}
		default:
			if len(top) == 0 || pat[0] != top[0] {
				return false
			}
		}
		pat, top = pat[1:], top[1:]
	}
	return len(top) == 0
}
