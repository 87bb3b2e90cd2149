//go:build !topicbridge_nolz4

package compression

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v4"
)

func init() { register(LZ4, lz4Codec{}) }

var lz4Levels = [MaxLevel + 1]lz4.CompressionLevel{
	1: lz4.Level1,
	2: lz4.Level2,
	3: lz4.Level3,
	4: lz4.Level4,
	5: lz4.Level5,
	6: lz4.Level6,
	7: lz4.Level7,
	8: lz4.Level8,
	9: lz4.Level9,
}

type lz4Codec struct{}

func (lz4Codec) compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lz4Levels[level])); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Codec) newReader(data []byte) (io.ReadCloser, error) {
	// A writer closed without any input may emit no frame at all.
	if len(data) == 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return io.NopCloser(lz4.NewReader(bytes.NewReader(data))), nil
}
