//go:build !topicbridge_nozstd

package compression

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

func init() { register(Zstd, &zstdCodec{}) }

// zstdCodec keeps one encoder per level; EncodeAll is safe for concurrent use.
type zstdCodec struct {
	mu       sync.Mutex
	encoders [MaxLevel + 1]*zstd.Encoder
}

func (c *zstdCodec) encoder(level int) (*zstd.Encoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc := c.encoders[level]; enc != nil {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, err
	}
	c.encoders[level] = enc
	return enc, nil
}

func (c *zstdCodec) compress(data []byte, level int) ([]byte, error) {
	enc, err := c.encoder(level)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, nil), nil
}

func (c *zstdCodec) newReader(data []byte) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data),
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(MaxDecompressedSize+1),
	)
	if err != nil {
		return nil, err
	}
	return zstdReader{dec}, nil
}

// zstdReader reports the decoder's own memory limits as ErrTooLarge.
type zstdReader struct{ *zstd.Decoder }

func (r zstdReader) Read(p []byte) (int, error) {
	n, err := r.Decoder.Read(p)
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
		err = ErrTooLarge
	}
	return n, err
}

func (r zstdReader) Close() error {
	r.Decoder.Close()
	return nil
}
