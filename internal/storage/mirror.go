package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/MarchanoGG/Watchdog/internal/checksum"
	"github.com/MarchanoGG/Watchdog/internal/manifest"
)

type MirrorStats struct {
	Uploaded int
	Skipped  int
	Bytes    int64
}

// Mirror copies a verified run to store under <prefix>/<run id>/, keeping
// the on-disk layout. Manifests are uploaded after all artifacts so a
// mirrored manifest always refers to objects already present. Objects
// already stored with the same size and sha256 metadata are skipped.
func Mirror(ctx context.Context, store Storage, runDir, prefix string, log zerolog.Logger) (MirrorStats, error) {
	var stats MirrorStats
	runID := filepath.Base(runDir)
	manifests, err := manifest.Discover(runDir)
	if err != nil {
		return stats, err
	}
	if len(manifests) == 0 {
		return stats, errors.New("mirror: run has no manifests")
	}

	objects, err := store.List(ctx, path.Join(prefix, runID))
	if err != nil {
		return stats, fmt.Errorf("mirror: list %s: %w", path.Join(prefix, runID), err)
	}
	m := &mirror{store: store, existing: make(map[string]ObjectInfo, len(objects))}
	for _, obj := range objects {
		m.existing[obj.Key] = obj
	}

	for _, mp := range manifests {
		man, err := manifest.Load(mp)
		if err != nil {
			return m.stats, fmt.Errorf("mirror: %w", err)
		}
		dir := manifest.ArtifactDir(runDir, man.Server)
		for _, a := range man.Artifacts {
			if !filepath.IsLocal(a.Path) {
				return m.stats, fmt.Errorf("mirror: %s/%s: path escapes the server directory", man.Server, a.Path)
			}
			key := path.Join(prefix, runID, filepath.Base(dir), filepath.ToSlash(a.Path))
			meta := map[string]string{"server": man.Server, metaSHA256: a.SHA256}
			if err := m.upload(ctx, filepath.Join(dir, a.Path), key, meta); err != nil {
				return m.stats, err
			}
		}
	}
	strong := checksum.New(checksum.WithoutFastHash())
	for _, mp := range manifests {
		sum, err := strong.Strong(mp)
		if err != nil {
			return m.stats, fmt.Errorf("mirror: %w", err)
		}
		key := path.Join(prefix, runID, filepath.Base(mp))
		if err := m.upload(ctx, mp, key, map[string]string{metaSHA256: sum}); err != nil {
			return m.stats, err
		}
	}
	log.Info().
		Str("run", runID).
		Int("uploaded", m.stats.Uploaded).
		Int("skipped", m.stats.Skipped).
		Int64("bytes", m.stats.Bytes).
		Msg("run mirrored")
	return m.stats, nil
}

const metaSHA256 = "sha256"

type mirror struct {
	store    Storage
	existing map[string]ObjectInfo
	stats    MirrorStats
}

func (m *mirror) upload(ctx context.Context, src, key string, meta map[string]string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", key, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("mirror %s: %w", key, err)
	}
	if m.current(ctx, key, info.Size(), meta[metaSHA256]) {
		m.stats.Skipped++
		return nil
	}
	if err := m.store.Put(ctx, key, f, info.Size(), meta); err != nil {
		return fmt.Errorf("mirror %s: %w", key, err)
	}
	m.stats.Uploaded++
	m.stats.Bytes += info.Size()
	return nil
}

// current reports whether key is already stored with the given size and
// digest. Listings without metadata fall back to one Stat.
func (m *mirror) current(ctx context.Context, key string, size int64, sha string) bool {
	obj, ok := m.existing[key]
	if !ok || obj.Size != size || sha == "" {
		return false
	}
	got, found := metaValue(obj.Metadata, metaSHA256)
	if !found {
		stat, err := m.store.Stat(ctx, key)
		if err != nil || stat.Size != size {
			return false
		}
		got, found = metaValue(stat.Metadata, metaSHA256)
	}
	return found && strings.EqualFold(got, sha)
}

// metaValue looks name up case-insensitively, ignoring the x-amz-meta-
// prefix some S3 servers keep in listings.
func metaValue(meta map[string]string, name string) (string, bool) {
	for k, v := range meta {
		if strings.EqualFold(strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-"), name) {
			return v, true
		}
	}
	return "", false
}
