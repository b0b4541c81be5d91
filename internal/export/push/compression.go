package push

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression type constants.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// resettableWriter is implemented by the gzip and zlib stream writers.
type resettableWriter interface {
	io.WriteCloser
	Reset(w io.Writer)
}

// Compressor compresses push bodies into a buffer it owns. It keeps its
// stream writers between calls and is not safe for concurrent use.
type Compressor struct {
	algorithm string
	out       bytes.Buffer
	scratch   []byte
	stream    resettableWriter
	zstd      *zstd.Encoder
}

// NewCompressor creates a Compressor for the named algorithm.
func NewCompressor(algorithm string) (*Compressor, error) {
	c := &Compressor{algorithm: algorithm}

	switch algorithm {
	case CompressionNone, "":
	case CompressionGzip:
		c.stream = gzip.NewWriter(nil)
	case CompressionZlib:
		c.stream = zlib.NewWriter(nil)
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.zstd = enc
	case CompressionSnappy:
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	return c, nil
}

// Compress returns the compressed form of data. The result aliases the
// compressor's buffer and is only valid until the next call.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch {
	case c.stream != nil:
		c.out.Reset()
		c.stream.Reset(&c.out)

		if _, err := c.stream.Write(data); err != nil {
			return nil, fmt.Errorf("%s write: %w", c.algorithm, err)
		}

		if err := c.stream.Close(); err != nil {
			return nil, fmt.Errorf("%s close: %w", c.algorithm, err)
		}

		return c.out.Bytes(), nil
	case c.zstd != nil:
		c.scratch = c.zstd.EncodeAll(data, c.scratch[:0])

		return c.scratch, nil
	case c.algorithm == CompressionSnappy:
		c.scratch = snappy.Encode(c.scratch[:cap(c.scratch)], data)

		return c.scratch, nil
	default:
		return data, nil
	}
}

// ContentEncoding returns the Content-Encoding header value for the
// algorithm, or "" when bodies are sent as-is.
func (c *Compressor) ContentEncoding() string {
	switch c.algorithm {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionZlib:
		return "deflate"
	case CompressionSnappy:
		return "snappy"
	default:
		return ""
	}
}

// Close releases the zstd encoder, if any.
func (c *Compressor) Close() error {
	if c.zstd != nil {
		return c.zstd.Close()
	}

	return nil
}
