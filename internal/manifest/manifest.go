// Package manifest records, per server and per run, every artifact produced
// during a backup together with the size and digests needed to re-verify it.
//
// A manifest is built in memory by appending artifacts in creation order,
// persisted exactly once as <runDir>/<Server>.json and treated as read-only
// from then on. Artifact paths are relative to <runDir>/<lowercased server>/.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SchemaVersion is the newest manifest layout this build reads and writes.
//
// Version history:
//
//	0  no "schema" field; "xxh3" never present, "type" may be missing (tar).
//	1  "schema", optional "xxh3" (null when the fast hash was unavailable).
const SchemaVersion = 1

const fileExt = ".json"

var (
	ErrInvalidArtifact = errors.New("invalid artifact")
	ErrSchemaMismatch  = errors.New("manifest schema mismatch")
)

// Type selects the structural inspector that applies to an artifact.
type Type string

const (
	TypeArchive      Type = "tar"
	TypeDatabaseDump Type = "mysql"
)

type Artifact struct {
	Path   string  `json:"path"`
	SHA256 string  `json:"sha256"`
	XXH3   *string `json:"xxh3"`
	Size   int64   `json:"size"`
	Type   Type    `json:"type"`
}

type Manifest struct {
	Schema    int        `json:"schema"`
	Server    string     `json:"server"`
	Pulse     string     `json:"pulse"`
	Artifacts []Artifact `json:"artifacts"`
}

// New returns an empty manifest for one server in one run.
func New(server, pulse string) *Manifest {
	return &Manifest{
		Schema:    SchemaVersion,
		Server:    server,
		Pulse:     pulse,
		Artifacts: []Artifact{},
	}
}

// Append records one artifact. fastHash may be nil.
func (m *Manifest) Append(path string, typ Type, size int64, strongHash string, fastHash *string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidArtifact)
	}
	if size < 0 {
		return fmt.Errorf("%w: %s has negative size %d", ErrInvalidArtifact, path, size)
	}
	if m.Has(path) {
		return fmt.Errorf("%w: duplicate path %s", ErrInvalidArtifact, path)
	}
	var fast *string
	if fastHash != nil {
		v := *fastHash
		fast = &v
	}
	m.Artifacts = append(m.Artifacts, Artifact{
		Path:   path,
		SHA256: strongHash,
		XXH3:   fast,
		Size:   size,
		Type:   typ,
	})
	return nil
}

// Has reports whether an artifact with path is already recorded.
func (m *Manifest) Has(path string) bool {
	for _, a := range m.Artifacts {
		if a.Path == path {
			return true
		}
	}
	return false
}

// TotalSize sums the recorded artifact sizes.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, a := range m.Artifacts {
		total += a.Size
	}
	return total
}

// Persist writes the manifest to <dir>/<Server>.json, replacing any earlier
// copy, and returns the file path.
func (m *Manifest) Persist(dir string) (string, error) {
	if m.Server == "" {
		return "", errors.New("manifest has no server name")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create directories: %w", err)
	}
	payload, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}

	target := filepath.Join(dir, FileName(m.Server))
	tmp, err := os.CreateTemp(dir, "."+FileName(m.Server)+".*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", err
	}
	return target, nil
}

type onDisk struct {
	Schema    *int       `json:"schema"`
	Server    string     `json:"server"`
	Pulse     string     `json:"pulse"`
	Artifacts []Artifact `json:"artifacts"`
}

// Load reads a manifest from disk. Manifests newer than SchemaVersion fail
// with ErrSchemaMismatch; older known versions are upgraded in memory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw onDisk
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", filepath.Base(path), err)
	}

	schema := 0
	if raw.Schema != nil {
		schema = *raw.Schema
	}
	if schema > SchemaVersion {
		return nil, fmt.Errorf("%w: %s has schema %d, newest supported is %d", ErrSchemaMismatch, filepath.Base(path), schema, SchemaVersion)
	}
	if schema < 0 {
		return nil, fmt.Errorf("%w: %s has schema %d", ErrSchemaMismatch, filepath.Base(path), schema)
	}
	if raw.Server == "" {
		return nil, fmt.Errorf("decode manifest %s: missing server", filepath.Base(path))
	}

	m := &Manifest{
		Schema:    schema,
		Server:    raw.Server,
		Pulse:     raw.Pulse,
		Artifacts: raw.Artifacts,
	}
	if m.Artifacts == nil {
		m.Artifacts = []Artifact{}
	}
	if schema == 0 {
		for i := range m.Artifacts {
			m.Artifacts[i].XXH3 = nil
			if m.Artifacts[i].Type == "" {
				m.Artifacts[i].Type = TypeArchive
			}
		}
	}
	return m, nil
}

// Discover lists the manifest files directly inside runDir in name order.
func Discover(runDir string) ([]string, error) {
	entries, err := os.ReadDir(runDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(runDir, e.Name()))
	}
	return paths, nil
}

// FileName is the manifest file name for a server. Case is preserved.
func FileName(server string) string {
	return server + fileExt
}

// ArtifactDir is the directory holding a server's artifacts within a run.
// Unlike the manifest file name it is lowercased.
func ArtifactDir(runDir, server string) string {
	return filepath.Join(runDir, strings.ToLower(server))
}
