// Package compression provides the pluggable payload codecs used by the
// bridge. Codecs are selected by Algorithm tag; each codec lives in its own
// file guarded by a build tag so a build can leave an algorithm out
// (for example `-tags topicbridge_nolz4`). A disabled algorithm reports
// ErrUnsupportedAlgorithm exactly like an unknown one.
//
// Compress and Decompress are pure functions and safe for concurrent use.
package compression

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// MaxDecompressedSize bounds the output of Decompress. Payloads that expand
// beyond it are rejected with ErrTooLarge.
const MaxDecompressedSize = 16 << 20

const (
	MinLevel     = 1
	MaxLevel     = 9
	DefaultLevel = 5
)

var (
	ErrInvalidLevel         = errors.New("compression: level must be within 1..9")
	ErrUnsupportedAlgorithm = errors.New("compression: unsupported algorithm")
	ErrTooLarge             = errors.New("compression: decompressed payload exceeds limit")
	ErrCorrupt              = errors.New("compression: corrupt input")
)

// Algorithm is a closed set of compression tags. The string form is what
// travels in a metadata envelope.
type Algorithm int

const (
	None Algorithm = iota
	Zstd
	LZ4
	Gzip
)

var names = map[Algorithm]string{
	None: "none",
	Zstd: "zstd",
	LZ4:  "lz4",
	Gzip: "gzip",
}

func (a Algorithm) String() string {
	if n, ok := names[a]; ok {
		return n
	}
	return fmt.Sprintf("algorithm(%d)", int(a))
}

// Supported reports whether a codec for a is compiled into this build.
func (a Algorithm) Supported() bool {
	if a == None {
		return true
	}
	_, ok := codecs[a]
	return ok
}

// ParseAlgorithm maps a tag to its Algorithm. The empty string is None.
// Tags that name no known algorithm, or one left out of this build, fail
// with ErrUnsupportedAlgorithm.
func ParseAlgorithm(tag string) (Algorithm, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return None, nil
	}
	for a, n := range names {
		if n != tag {
			continue
		}
		if !a.Supported() {
			return a, fmt.Errorf("%w: %s is not available in this build", ErrUnsupportedAlgorithm, tag)
		}
		return a, nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, tag)
}

// Supported lists the algorithms available in this build, None first.
func Supported() []Algorithm {
	out := []Algorithm{None}
	for a := range codecs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type codec interface {
	compress(data []byte, level int) ([]byte, error)
	newReader(data []byte) (io.ReadCloser, error)
}

var codecs = map[Algorithm]codec{}

func register(a Algorithm, c codec) { codecs[a] = c }

// Compress encodes data with algo at level. The level is validated before
// anything else, so an out-of-range level fails even for None.
func Compress(data []byte, algo Algorithm, level int) ([]byte, error) {
	if level < MinLevel || level > MaxLevel {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLevel, level)
	}
	if algo == None {
		return data, nil
	}
	c, ok := codecs[algo]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algo)
	}
	out, err := c.compress(data, level)
	if err != nil {
		return nil, fmt.Errorf("compression: %s encode: %w", algo, err)
	}
	return out, nil
}

// Decompress reverses Compress. None returns data unchanged.
func Decompress(data []byte, algo Algorithm) ([]byte, error) {
	if algo == None {
		return data, nil
	}
	c, ok := codecs[algo]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algo)
	}
	r, err := c.newReader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, algo, err)
	}
	defer r.Close()
	return readLimited(r, algo)
}

func readLimited(r io.Reader, algo Algorithm) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, MaxDecompressedSize+1))
	if errors.Is(err, ErrTooLarge) {
		return nil, fmt.Errorf("%w: %s", ErrTooLarge, algo)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, algo, err)
	}
	if len(out) > MaxDecompressedSize {
		return nil, fmt.Errorf("%w: %s output over %d bytes", ErrTooLarge, algo, MaxDecompressedSize)
	}
	return out, nil
}
