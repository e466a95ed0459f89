package compression

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"

	"github.com/paulschiretz/pgl-filebackup/pkg/pool"
	"github.com/paulschiretz/pgl-filebackup/pkg/resultcode"
)

// BufferSize is the block size used for streaming copies.
const BufferSize = 8 * 1024

var bufferPool = pool.NewFixedBuffer(BufferSize)

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewWriter returns an encoder for kind writing to w at the codec's maximum
// compression level. Closing it flushes the stream but does not close w.
func NewWriter(w io.Writer, kind Kind) (io.WriteCloser, error) {
	switch kind {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		gz, err := pgzip.NewWriterLevel(w, pgzip.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		return gz, nil
	case Zlib:
		zw, err := zlib.NewWriterLevel(w, zlib.BestCompression)
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib writer: %w", err)
		}
		return zw, nil
	case Lz4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, fmt.Errorf("failed to configure lz4 writer: %w", err)
		}
		return lw, nil
	case Zstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		return zw, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

// NewReader returns a decoder for kind reading from r. Closing it releases
// decoder resources but does not close r.
func NewReader(r io.Reader, kind Kind) (io.ReadCloser, error) {
	switch kind {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		gz, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gz, nil
	case Zlib:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zlib reader: %w", err)
		}
		return zr, nil
	case Lz4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

// trackedReader remembers the first error returned by the underlying reader so
// that I/O failures can be told apart from codec failures.
type trackedReader struct {
	r   io.Reader
	n   int64
	err error
}

func (tr *trackedReader) Read(p []byte) (n int, err error) {
	n, err = tr.r.Read(p)
	tr.n += int64(n)
	if err != nil && err != io.EOF && tr.err == nil {
		tr.err = err
	}
	return
}

// trackedWriter wraps an io.Writer, counts written bytes and remembers the
// first write error.
type trackedWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (tw *trackedWriter) Write(p []byte) (n int, err error) {
	n, err = tw.w.Write(p)
	tw.n += int64(n)
	if err != nil && tw.err == nil {
		tw.err = err
	}
	return
}

// classify maps a streaming failure to a result code based on which side of
// the codec failed first.
func classify(op string, src *trackedReader, dst *trackedWriter, err error) error {
	switch {
	case src.err != nil:
		return resultcode.New(resultcode.FileReadError, op, "", src.err)
	case dst.err != nil:
		return resultcode.New(resultcode.FileWriteError, op, "", dst.err)
	case errors.Is(err, io.ErrShortWrite):
		return resultcode.New(resultcode.FileWriteError, op, "", err)
	default:
		return resultcode.New(resultcode.CompressionError, op, "", err)
	}
}

// Encode streams src through the encoder for kind into dst. It returns the
// number of bytes read from src and the number of bytes written to dst.
func Encode(dst io.Writer, src io.Reader, kind Kind) (read, written int64, err error) {
	tr := &trackedReader{r: src}
	tw := &trackedWriter{w: dst}

	enc, err := NewWriter(tw, kind)
	if err != nil {
		return 0, 0, resultcode.New(resultcode.CompressionError, "encode", "", err)
	}

	bufPtr := bufferPool.Get()
	defer bufferPool.Put(bufPtr)

	// Hiding the encoder's ReadFrom keeps every block on the fixed buffer.
	if _, err := io.CopyBuffer(struct{ io.Writer }{enc}, tr, *bufPtr); err != nil {
		enc.Close()
		return tr.n, tw.n, classify("encode", tr, tw, err)
	}
	if err := enc.Close(); err != nil {
		return tr.n, tw.n, classify("encode", tr, tw, err)
	}
	return tr.n, tw.n, nil
}

// Decode streams src through the decoder for kind into dst. It returns the
// number of bytes read from src and the number of decoded bytes written to dst.
func Decode(dst io.Writer, src io.Reader, kind Kind) (read, written int64, err error) {
	tr := &trackedReader{r: src}
	tw := &trackedWriter{w: dst}

	dec, err := NewReader(tr, kind)
	if err != nil {
		return tr.n, 0, classify("decode", tr, tw, err)
	}
	defer dec.Close()

	bufPtr := bufferPool.Get()
	defer bufferPool.Put(bufPtr)

	if _, err := io.CopyBuffer(tw, struct{ io.Reader }{dec}, *bufPtr); err != nil {
		return tr.n, tw.n, classify("decode", tr, tw, err)
	}
	return tr.n, tw.n, nil
}
