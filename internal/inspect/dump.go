package inspect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
)

const (
	DumpHeaderToken = "-- MySQL dump"
	DumpFooterToken = "-- Dump completed"

	headWindow = 1 << 10
	tailWindow = 8 << 10
)

// Dump checks compressed mysqldump output by its boundary markers only.
type Dump struct{}

func (Dump) Inspect(ctx context.Context, path string) error {
	rc, closeFn, err := openStream(ctx, path)
	if err != nil {
		return err
	}
	defer closeFn()

	head := make([]byte, headWindow)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return streamErr(ctx, err)
	}
	head = head[:n]
	if !bytes.Contains(head, []byte(DumpHeaderToken)) {
		return ErrDumpHeader
	}

	t := newTail(tailWindow)
	_, _ = t.Write(head)
	if _, err := io.CopyBuffer(t, rc, make([]byte, 64<<10)); err != nil {
		return streamErr(ctx, err)
	}
	if !bytes.Contains(t.buf, []byte(DumpFooterToken)) {
		return ErrDumpFooter
	}
	return nil
}

func streamErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrStreamCorrupt, err)
}

// tail keeps the last size bytes written to it.
type tail struct {
	buf  []byte
	size int
}

func newTail(size int) *tail {
	return &tail{buf: make([]byte, 0, size), size: size}
}

func (t *tail) Write(p []byte) (int, error) {
	n := len(p)
	if n >= t.size {
		t.buf = append(t.buf[:0], p[n-t.size:]...)
		return n, nil
	}
	if over := len(t.buf) + n - t.size; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	t.buf = append(t.buf, p...)
	return n, nil
}
