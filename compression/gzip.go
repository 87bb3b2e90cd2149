//go:build !topicbridge_nogzip

package compression

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

func init() { register(Gzip, gzipCodec{}) }

type gzipCodec struct{}

func (gzipCodec) compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
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

func (gzipCodec) newReader(data []byte) (io.ReadCloser, error) {
	return gzip.NewReader(bytes.NewReader(data))
}
