package compress

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	TypeNone = "none"
	TypeGzip = "gzip"
	TypeZstd = "zstd"
	TypeLZ4  = "lz4"
)

var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicLZ4  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// ErrUnknownFormat is returned by Open when the stream carries no known magic.
var ErrUnknownFormat = errors.New("unrecognized compression header")

func WrapWriter(kind string, w io.Writer) (io.WriteCloser, error) {
	switch kind {
	case "", TypeNone:
		return nopWriteCloser{w}, nil
	case TypeGzip:
		return gzip.NewWriter(w), nil
	case TypeZstd:
		return zstd.NewWriter(w)
	case TypeLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

func WrapReader(kind string, r io.Reader) (io.ReadCloser, error) {
	switch kind {
	case "", TypeNone:
		return io.NopCloser(r), nil
	case TypeGzip:
		return gzip.NewReader(r)
	case TypeZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return zstdReadCloser{Decoder: dec}, nil
	case TypeLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %s", kind)
	}
}

// Detect peeks at the stream header and reports its compression kind.
// Streams without a known magic report TypeNone.
func Detect(r *bufio.Reader) (string, error) {
	head, err := r.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	switch {
	case bytes.HasPrefix(head, magicGzip):
		return TypeGzip, nil
	case bytes.HasPrefix(head, magicZstd):
		return TypeZstd, nil
	case bytes.HasPrefix(head, magicLZ4):
		return TypeLZ4, nil
	default:
		return TypeNone, nil
	}
}

// Open detects the compression of r and returns a decompressing reader.
func Open(r io.Reader) (io.ReadCloser, string, error) {
	br := bufio.NewReader(r)
	kind, err := Detect(br)
	if err != nil {
		return nil, "", err
	}
	if kind == TypeNone {
		return nil, kind, ErrUnknownFormat
	}
	rc, err := WrapReader(kind, br)
	if err != nil {
		return nil, kind, err
	}
	return rc, kind, nil
}

// Extension returns the file suffix used for a compression kind.
func Extension(kind string) string {
	switch kind {
	case TypeGzip:
		return ".gz"
	case TypeZstd:
		return ".zst"
	case TypeLZ4:
		return ".lz4"
	default:
		return ""
	}
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
