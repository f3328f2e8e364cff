package inspect

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
)

// Archive checks compressed tarballs: the whole compression stream must
// decode, then every tar header must parse.
type Archive struct{}

func (Archive) Inspect(ctx context.Context, path string) error {
	n, err := drain(ctx, path)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: empty archive", ErrHeaderCorrupt)
	}
	return enumerate(ctx, path)
}

func drain(ctx context.Context, path string) (int64, error) {
	rc, closeFn, err := openStream(ctx, path)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	n, err := io.CopyBuffer(io.Discard, rc, make([]byte, chunkSize))
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, fmt.Errorf("%w: %v", ErrStreamCorrupt, err)
	}
	return n, nil
}

func enumerate(ctx context.Context, path string) error {
	rc, closeFn, err := openStream(ctx, path)
	if err != nil {
		return err
	}
	defer closeFn()

	tr := tar.NewReader(rc)
	for {
		_, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", ErrHeaderCorrupt, err)
		}
	}
}
