package inspect

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarchanoGG/Watchdog/internal/compress"
	"github.com/MarchanoGG/Watchdog/internal/manifest"
)

func compressed(t *testing.T, kind string, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := compress.WrapWriter(kind, &buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestArchiveValid(t *testing.T) {
	tb := tarball(t, map[string]string{"var/www/index.html": "<h1>hi</h1>", "var/www/app.php": "<?php echo 1;"})
	for _, kind := range []string{compress.TypeGzip, compress.TypeZstd, compress.TypeLZ4} {
		path := writeFile(t, "www.tar"+compress.Extension(kind), compressed(t, kind, tb))
		require.NoError(t, Archive{}.Inspect(context.Background(), path), kind)
	}
}

func TestArchiveTruncatedStream(t *testing.T) {
	data := compressed(t, compress.TypeGzip, tarball(t, map[string]string{"a.txt": strings.Repeat("a", 4096)}))
	path := writeFile(t, "a.tar.gz", data[:len(data)-12])

	err := Archive{}.Inspect(context.Background(), path)
	require.ErrorIs(t, err, ErrStreamCorrupt)
}

func TestArchiveCorruptTrailer(t *testing.T) {
	data := compressed(t, compress.TypeGzip, tarball(t, map[string]string{"a.txt": "hello"}))
	// flip a byte in the CRC32 trailer
	data[len(data)-6] ^= 0xff
	path := writeFile(t, "a.tar.gz", data)

	err := Archive{}.Inspect(context.Background(), path)
	require.ErrorIs(t, err, ErrStreamCorrupt)
}

func TestArchiveBadHeader(t *testing.T) {
	path := writeFile(t, "junk.tar.gz", compressed(t, compress.TypeGzip, bytes.Repeat([]byte("x"), 1024)))

	err := Archive{}.Inspect(context.Background(), path)
	require.ErrorIs(t, err, ErrHeaderCorrupt)
	require.NotErrorIs(t, err, ErrStreamCorrupt)
}

func TestArchiveEmptyStream(t *testing.T) {
	path := writeFile(t, "empty.tar.gz", compressed(t, compress.TypeGzip, nil))
	require.ErrorIs(t, Archive{}.Inspect(context.Background(), path), ErrHeaderCorrupt)
}

func TestArchiveUncompressed(t *testing.T) {
	path := writeFile(t, "plain.tar", tarball(t, map[string]string{"a": "b"}))
	require.ErrorIs(t, Archive{}.Inspect(context.Background(), path), ErrStreamCorrupt)
}

func TestArchiveCancelled(t *testing.T) {
	path := writeFile(t, "a.tar.gz", compressed(t, compress.TypeGzip, tarball(t, map[string]string{"a": "b"})))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Archive{}.Inspect(ctx, path), context.Canceled)
}

func dump(body string) []byte {
	return []byte(DumpHeaderToken + " 10.13  Distrib 8.0.36, for Linux (x86_64)\n" + body + DumpFooterToken + " on 2025-07-27 22:30:05\n")
}

func TestDumpValid(t *testing.T) {
	body := strings.Repeat("INSERT INTO `t` VALUES (1,'abc');\n", 2000)
	path := writeFile(t, "mysql.sql.gz", compressed(t, compress.TypeGzip, dump(body)))
	require.NoError(t, Dump{}.Inspect(context.Background(), path))
}

func TestDumpSmall(t *testing.T) {
	path := writeFile(t, "mysql.sql.gz", compressed(t, compress.TypeGzip, dump("")))
	require.NoError(t, Dump{}.Inspect(context.Background(), path))
}

func TestDumpMissingFooter(t *testing.T) {
	payload := []byte(DumpHeaderToken + " 10.13\n" + strings.Repeat("INSERT INTO t VALUES (1);\n", 500))
	path := writeFile(t, "mysql.sql.gz", compressed(t, compress.TypeGzip, payload))

	err := Dump{}.Inspect(context.Background(), path)
	require.ErrorIs(t, err, ErrDumpFooter)
	assert.Contains(t, err.Error(), "footer")
}

func TestDumpFooterOutsideTail(t *testing.T) {
	payload := append(dump(""), bytes.Repeat([]byte("-- trailing noise\n"), 1000)...)
	path := writeFile(t, "mysql.sql.gz", compressed(t, compress.TypeGzip, payload))
	require.ErrorIs(t, Dump{}.Inspect(context.Background(), path), ErrDumpFooter)
}

func TestDumpMissingHeader(t *testing.T) {
	payload := []byte(strings.Repeat("x", 2048) + DumpHeaderToken + "\n" + DumpFooterToken + "\n")
	path := writeFile(t, "mysql.sql.gz", compressed(t, compress.TypeGzip, payload))
	require.ErrorIs(t, Dump{}.Inspect(context.Background(), path), ErrDumpHeader)
}

func TestDumpCorruptStream(t *testing.T) {
	data := compressed(t, compress.TypeGzip, dump(strings.Repeat("row\n", 100)))
	path := writeFile(t, "mysql.sql.gz", data[:len(data)-8])
	require.ErrorIs(t, Dump{}.Inspect(context.Background(), path), ErrStreamCorrupt)
}

func TestTailKeepsLastBytes(t *testing.T) {
	tl := newTail(4)
	_, _ = tl.Write([]byte("ab"))
	_, _ = tl.Write([]byte("cde"))
	assert.Equal(t, "bcde", string(tl.buf))
	_, _ = tl.Write([]byte("0123456789"))
	assert.Equal(t, "6789", string(tl.buf))
	_, _ = tl.Write([]byte("z"))
	assert.Equal(t, "789z", string(tl.buf))
}

func TestRegistry(t *testing.T) {
	reg := Default()
	_, ok := reg.For(manifest.TypeArchive)
	assert.True(t, ok)
	_, ok = reg.For(manifest.TypeDatabaseDump)
	assert.True(t, ok)
	_, ok = reg.For("zip")
	assert.False(t, ok)
}
