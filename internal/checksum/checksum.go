// Package checksum streams artifact files through the strong (SHA-256) and
// fast (XXH3-128) digests recorded in manifests.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/zeebo/xxh3"
)

const (
	// StrongAlgorithm never changes; old manifests must stay verifiable.
	StrongAlgorithm = "sha256"
	FastAlgorithm   = "xxh3-128"

	DefaultChunkSize = 4 << 20
)

// Digests is the pair of hex digests recorded for one artifact.
type Digests struct {
	Strong string
	Fast   *string
}

type fastHasher interface {
	io.Writer
	digest() string
}

type xxh3Hasher struct{ h *xxh3.Hasher }

func (x xxh3Hasher) Write(p []byte) (int, error) { return x.h.Write(p) }

func (x xxh3Hasher) digest() string {
	sum := x.h.Sum128().Bytes()
	return hex.EncodeToString(sum[:])
}

// Engine computes digests by reading files in bounded chunks.
// It keeps no state between calls.
type Engine struct {
	chunkSize int
	newFast   func() fastHasher
}

type Option func(*Engine)

// WithChunkSize overrides the read buffer size.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithoutFastHash builds an engine whose fast digest is unavailable.
func WithoutFastHash() Option {
	return func(e *Engine) { e.newFast = nil }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		chunkSize: DefaultChunkSize,
		newFast:   func() fastHasher { return xxh3Hasher{h: xxh3.New()} },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FastAvailable reports whether Fast can produce a digest.
func (e *Engine) FastAvailable() bool { return e.newFast != nil }

// Sum reads path once and returns both digests. Fast is nil when the fast
// hash is unavailable.
func (e *Engine) Sum(path string) (Digests, error) {
	strong := sha256.New()
	writers := []io.Writer{strong}
	var fast fastHasher
	if e.newFast != nil {
		fast = e.newFast()
		writers = append(writers, fast)
	}
	if err := e.stream(path, io.MultiWriter(writers...)); err != nil {
		return Digests{}, err
	}
	d := Digests{Strong: hex.EncodeToString(strong.Sum(nil))}
	if fast != nil {
		v := fast.digest()
		d.Fast = &v
	}
	return d, nil
}

// Strong returns the SHA-256 hex digest of path.
func (e *Engine) Strong(path string) (string, error) {
	var h hash.Hash = sha256.New()
	if err := e.stream(path, h); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fast returns the XXH3-128 hex digest of path. ok is false when the fast
// hash is unavailable; that is never an error.
func (e *Engine) Fast(path string) (digest string, ok bool, err error) {
	if e.newFast == nil {
		return "", false, nil
	}
	h := e.newFast()
	if err := e.stream(path, h); err != nil {
		return "", false, err
	}
	return h.digest(), true, nil
}

func (e *Engine) stream(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, e.chunkSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read %s: %w", path, rerr)
		}
	}
}
