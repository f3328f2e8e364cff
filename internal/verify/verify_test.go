package verify

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarchanoGG/Watchdog/internal/checksum"
	"github.com/MarchanoGG/Watchdog/internal/compress"
	"github.com/MarchanoGG/Watchdog/internal/inspect"
	"github.com/MarchanoGG/Watchdog/internal/manifest"
)

const runID = "2025-07-27_22-30-00"

type fixture struct {
	name string
	typ  manifest.Type
	data []byte
}

func gz(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := compress.WrapWriter(compress.TypeGzip, &buf)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func archive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	body := strings.Repeat("<p>hello</p>\n", 200)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "var/www/index.html", Mode: 0o644, Size: int64(len(body))}))
	_, err := tw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return gz(t, buf.Bytes())
}

func dump(t *testing.T, complete bool) []byte {
	t.Helper()
	s := "-- MySQL dump 10.13  Distrib 8.0.36\n" + strings.Repeat("INSERT INTO t VALUES (1);\n", 500)
	if complete {
		s += "-- Dump completed on 2025-07-27 22:31:02\n"
	}
	return gz(t, []byte(s))
}

// writeServer stores files under the run and persists a manifest for them.
func writeServer(t *testing.T, runDir, server string, files ...fixture) {
	t.Helper()
	dir := manifest.ArtifactDir(runDir, server)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	m := manifest.New(server, runID)
	engine := checksum.New()
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		require.NoError(t, os.WriteFile(path, f.data, 0o600))
		sums, err := engine.Sum(path)
		require.NoError(t, err)
		require.NoError(t, m.Append(f.name, f.typ, int64(len(f.data)), sums.Strong, sums.Fast))
	}
	_, err := m.Persist(runDir)
	require.NoError(t, err)
}

func newService(h Hasher) *Service {
	if h == nil {
		h = checksum.New()
	}
	return New(h, inspect.Default(), 1, zerolog.Nop())
}

func TestVerifyRunPassed(t *testing.T) {
	runDir := t.TempDir()
	writeServer(t, runDir, "Web01", fixture{"backup_var_www.tar.gz", manifest.TypeArchive, archive(t)})

	res := newService(nil).VerifyRun(context.Background(), runDir)
	assert.Equal(t, Passed, res.Overall)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1, res.Metrics.Servers)
	assert.Equal(t, 1, res.Metrics.Artifacts)
	assert.Positive(t, res.Metrics.Bytes)
	assert.NoError(t, res.Err())
}

func TestVerifyRunSizeMismatch(t *testing.T) {
	runDir := t.TempDir()
	data := archive(t)
	writeServer(t, runDir, "Web01", fixture{"www.tar.gz", manifest.TypeArchive, data})
	path := filepath.Join(runDir, "web01", "www.tar.gz")
	require.NoError(t, os.Truncate(path, int64(len(data)-10)))

	res := newService(nil).VerifyRun(context.Background(), runDir)
	assert.Equal(t, Failed, res.Overall)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "size mismatch")
	assert.True(t, strings.HasPrefix(res.Errors[0], "Web01/www.tar.gz: "))
	assert.Equal(t, 1, res.Metrics.Artifacts)
}

func TestVerifyRunNoManifests(t *testing.T) {
	res := newService(nil).VerifyRun(context.Background(), t.TempDir())
	assert.Equal(t, Failed, res.Overall)
	assert.Equal(t, []string{NoManifestsMessage}, res.Errors)
	assert.Zero(t, res.Metrics.Servers)
	assert.ErrorIs(t, res.Err(), ErrNoManifests)
}

func TestVerifyRunMissingRunDir(t *testing.T) {
	res := newService(nil).VerifyRun(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, Failed, res.Overall)
	assert.Equal(t, []string{NoManifestsMessage}, res.Errors)
}

func TestVerifyRunDumpWithoutFooter(t *testing.T) {
	runDir := t.TempDir()
	writeServer(t, runDir, "db01", fixture{"mysql_20250727_223000.sql.gz", manifest.TypeDatabaseDump, dump(t, false)})

	res := newService(nil).VerifyRun(context.Background(), runDir)
	assert.Equal(t, Failed, res.Overall)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "mysql dump error")
	assert.Contains(t, res.Errors[0], "footer")
}

func TestVerifyRunMissingFileAndHashMismatch(t *testing.T) {
	runDir := t.TempDir()
	a, b := archive(t), dump(t, true)
	writeServer(t, runDir, "Web01",
		fixture{"a.tar.gz", manifest.TypeArchive, a},
		fixture{"b.sql.gz", manifest.TypeDatabaseDump, b},
	)
	require.NoError(t, os.Remove(filepath.Join(runDir, "web01", "a.tar.gz")))
	flipped := append([]byte{}, b...)
	flipped[len(flipped)/2] ^= 0xff
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "web01", "b.sql.gz"), flipped, 0o600))

	res := newService(nil).VerifyRun(context.Background(), runDir)
	assert.Equal(t, []string{
		"Web01/a.tar.gz: file missing on disk",
		"Web01/b.sql.gz: SHA-256 mismatch",
	}, res.Errors)
	assert.Equal(t, 2, res.Metrics.Artifacts)
}

func TestVerifyRunStructuralFailureWithMatchingHash(t *testing.T) {
	runDir := t.TempDir()
	data := archive(t)
	writeServer(t, runDir, "Web01", fixture{"cut.tar.gz", manifest.TypeArchive, data[:len(data)-20]})

	res := newService(nil).VerifyRun(context.Background(), runDir)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "archive stream invalid")
}

type cancellingInspector struct {
	cancel context.CancelFunc
}

func (c cancellingInspector) Inspect(ctx context.Context, _ string) error {
	c.cancel()
	return ctx.Err()
}

func TestVerifyRunInterruptedInspectIsNotCorruption(t *testing.T) {
	runDir := t.TempDir()
	writeServer(t, runDir, "Web01", fixture{"backup_var_www.tar.gz", manifest.TypeArchive, archive(t)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := New(checksum.New(), inspect.Registry{manifest.TypeArchive: cancellingInspector{cancel: cancel}}, 1, zerolog.Nop())
	res := svc.VerifyRun(ctx, runDir)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Web01/backup_var_www.tar.gz: verification interrupted: context canceled", res.Errors[0])
	assert.NotContains(t, res.Errors[0], "archive stream invalid")
}

func TestVerifyRunContinuesPastSchemaMismatch(t *testing.T) {
	runDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "Future.json"),
		[]byte(`{"schema": 9, "server": "Future", "pulse": "x", "artifacts": []}`), 0o600))
	writeServer(t, runDir, "Web01", fixture{"www.tar.gz", manifest.TypeArchive, archive(t)})

	res := newService(nil).VerifyRun(context.Background(), runDir)
	assert.Equal(t, Failed, res.Overall)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Future.json")
	assert.Contains(t, res.Errors[0], "schema")
	assert.Equal(t, 2, res.Metrics.Servers)
	assert.Equal(t, 1, res.Metrics.Artifacts)
}

func TestVerifyRunLegacyManifestWarns(t *testing.T) {
	runDir := t.TempDir()
	dir := filepath.Join(runDir, "web01")
	require.NoError(t, os.MkdirAll(dir, 0o750))
	data := archive(t)
	path := filepath.Join(dir, "www.tar.gz")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	sha, err := checksum.New().Strong(path)
	require.NoError(t, err)
	legacy := `{"server": "Web01", "pulse": "` + runID + `", "artifacts": [{"path": "www.tar.gz", "sha256": "` + sha + `", "size": ` + strconv.Itoa(len(data)) + `}]}`
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "Web01.json"), []byte(legacy), 0o600))

	res := newService(nil).VerifyRun(context.Background(), runDir)
	assert.Equal(t, Warn, res.Overall)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "legacy manifest")
	assert.NoError(t, res.Err())
}

func TestVerifyRunRejectsEscapingPath(t *testing.T) {
	runDir := t.TempDir()
	m := manifest.New("Web01", runID)
	require.NoError(t, m.Append("../../etc/passwd", manifest.TypeArchive, 1, "00", nil))
	_, err := m.Persist(runDir)
	require.NoError(t, err)

	res := newService(nil).VerifyRun(context.Background(), runDir)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "escapes")
}

type countingHasher struct {
	inner  Hasher
	fast   atomic.Int32
	strong atomic.Int32
	noFast bool
}

func (c *countingHasher) Fast(path string) (string, bool, error) {
	c.fast.Add(1)
	if c.noFast {
		return "", false, nil
	}
	return c.inner.Fast(path)
}

func (c *countingHasher) Strong(path string) (string, error) {
	c.strong.Add(1)
	return c.inner.Strong(path)
}

func TestSizeMismatchNeverHashes(t *testing.T) {
	runDir := t.TempDir()
	writeServer(t, runDir, "Web01", fixture{"www.tar.gz", manifest.TypeArchive, archive(t)})
	f, err := os.OpenFile(filepath.Join(runDir, "web01", "www.tar.gz"), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("junk"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	h := &countingHasher{inner: checksum.New()}
	res := newService(h).VerifyRun(context.Background(), runDir)
	assert.Equal(t, Failed, res.Overall)
	assert.Zero(t, h.fast.Load())
	assert.Zero(t, h.strong.Load())
}

func TestFastHashMatchSkipsStrongHash(t *testing.T) {
	runDir := t.TempDir()
	writeServer(t, runDir, "Web01", fixture{"www.tar.gz", manifest.TypeArchive, archive(t)})

	h := &countingHasher{inner: checksum.New()}
	res := newService(h).VerifyRun(context.Background(), runDir)
	assert.Equal(t, Passed, res.Overall)
	assert.EqualValues(t, 1, h.fast.Load())
	assert.Zero(t, h.strong.Load())
}

func TestUnavailableFastHashFallsBack(t *testing.T) {
	runDir := t.TempDir()
	writeServer(t, runDir, "Web01", fixture{"www.tar.gz", manifest.TypeArchive, archive(t)})

	h := &countingHasher{inner: checksum.New(), noFast: true}
	res := newService(h).VerifyRun(context.Background(), runDir)
	assert.Equal(t, Passed, res.Overall)
	assert.EqualValues(t, 1, h.strong.Load())
}

func TestWorkersPreserveManifestOrder(t *testing.T) {
	runDir := t.TempDir()
	for _, name := range []string{"alpha", "bravo", "charlie", "delta"} {
		writeServer(t, runDir, name, fixture{"x.tar.gz", manifest.TypeArchive, []byte("not gzip at all")})
	}

	res := New(checksum.New(), inspect.Default(), 3, zerolog.Nop()).VerifyRun(context.Background(), runDir)
	require.Len(t, res.Errors, 4)
	for i, name := range []string{"alpha", "bravo", "charlie", "delta"} {
		assert.True(t, strings.HasPrefix(res.Errors[i], name+"/x.tar.gz: "), res.Errors[i])
	}
	assert.Equal(t, 4, res.Metrics.Servers)
}

func TestAggregate(t *testing.T) {
	assert.Equal(t, Passed, Aggregate(nil, nil, Metrics{}).Overall)
	assert.Equal(t, Warn, Aggregate(nil, []string{"w"}, Metrics{}).Overall)
	assert.Equal(t, Failed, Aggregate([]string{"e"}, nil, Metrics{}).Overall)
	assert.Equal(t, Failed, Aggregate([]string{"e"}, []string{"w"}, Metrics{}).Overall)

	r := Aggregate([]string{"e"}, nil, Metrics{Servers: 2})
	assert.EqualError(t, r.Err(), "verification failed with 1 error(s)")
}
