// Package inspect performs type-specific structural checks on artifacts
// without extracting them.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MarchanoGG/Watchdog/internal/compress"
	"github.com/MarchanoGG/Watchdog/internal/manifest"
)

const chunkSize = 4 << 20

var (
	ErrStreamCorrupt = errors.New("compression stream corrupt")
	ErrHeaderCorrupt = errors.New("archive header corrupt")
	ErrDumpHeader    = errors.New("dump header marker missing")
	ErrDumpFooter    = errors.New("dump footer marker missing")
)

// Inspector validates the structure of one artifact file.
type Inspector interface {
	Inspect(ctx context.Context, path string) error
}

// Registry maps artifact types to their inspector.
type Registry map[manifest.Type]Inspector

// Default returns the inspectors for archives and MySQL dumps.
func Default() Registry {
	return Registry{
		manifest.TypeArchive:      Archive{},
		manifest.TypeDatabaseDump: Dump{},
	}
}

func (r Registry) For(t manifest.Type) (Inspector, bool) {
	in, ok := r[t]
	return in, ok
}

// openStream opens path and wraps it in a decompressing reader.
func openStream(ctx context.Context, path string) (io.ReadCloser, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := compress.Open(ctxReader{ctx: ctx, r: f})
	if err != nil {
		f.Close()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrStreamCorrupt, err)
	}
	return rc, func() {
		rc.Close()
		f.Close()
	}, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
