// Package verify re-checks every artifact of a run against its manifest:
// existence, exact size, digest and finally structure.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/MarchanoGG/Watchdog/internal/inspect"
	"github.com/MarchanoGG/Watchdog/internal/manifest"
)

// Hasher is the subset of the checksum engine verification needs.
type Hasher interface {
	Fast(path string) (string, bool, error)
	Strong(path string) (string, error)
}

type Service struct {
	hasher     Hasher
	inspectors inspect.Registry
	workers    int
	log        zerolog.Logger
}

// New returns a verifier checking up to workers manifests at a time.
func New(hasher Hasher, inspectors inspect.Registry, workers int, log zerolog.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{hasher: hasher, inspectors: inspectors, workers: workers, log: log}
}

type report struct {
	errors    []string
	warnings  []string
	artifacts int
	bytes     int64
}

// VerifyRun checks every manifest in runDir. Failures are reported in the
// result, never returned.
func (s *Service) VerifyRun(ctx context.Context, runDir string) Result {
	start := time.Now()
	paths, err := manifest.Discover(runDir)
	if err != nil {
		return Aggregate([]string{fmt.Sprintf("discover manifests: %v", err)}, nil, Metrics{})
	}
	if len(paths) == 0 {
		s.log.Error().Str("run_dir", runDir).Msg("no manifests to verify")
		return Aggregate([]string{NoManifestsMessage}, nil, Metrics{})
	}

	reports := make([]report, len(paths))
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i, p := range paths {
		g.Go(func() error {
			reports[i] = s.verifyManifest(ctx, runDir, p)
			return nil
		})
	}
	_ = g.Wait()

	var errs, warns []string
	m := Metrics{Servers: len(paths)}
	for _, r := range reports {
		errs = append(errs, r.errors...)
		warns = append(warns, r.warnings...)
		m.Artifacts += r.artifacts
		m.Bytes += r.bytes
	}
	res := Aggregate(errs, warns, m)
	s.log.Info().
		Str("overall", string(res.Overall)).
		Int("servers", m.Servers).
		Int("artifacts", m.Artifacts).
		Int("errors", len(res.Errors)).
		Int("warnings", len(res.Warnings)).
		Dur("duration", time.Since(start)).
		Msg("verification finished")
	return res
}

func (s *Service) verifyManifest(ctx context.Context, runDir, path string) report {
	var r report
	m, err := manifest.Load(path)
	if err != nil {
		s.log.Error().Err(err).Str("manifest", path).Msg("manifest unreadable")
		r.errors = append(r.errors, fmt.Sprintf("%s: %v", filepath.Base(path), err))
		return r
	}
	log := s.log.With().Str("server", m.Server).Logger()
	log.Info().Str("manifest", path).Int("artifacts", len(m.Artifacts)).Msg("verifying manifest")

	if m.Schema == 0 {
		r.warnings = append(r.warnings, fmt.Sprintf("%s: legacy manifest without schema, fast hash not recorded", m.Server))
	}
	if len(m.Artifacts) == 0 {
		r.warnings = append(r.warnings, fmt.Sprintf("%s: manifest lists no artifacts", m.Server))
	}

	dir := manifest.ArtifactDir(runDir, m.Server)
	for _, a := range m.Artifacts {
		if err := ctx.Err(); err != nil {
			r.errors = append(r.errors, fmt.Sprintf("%s: verification interrupted: %v", m.Server, err))
			break
		}
		r.artifacts++
		r.bytes += a.Size
		if reason := s.checkArtifact(ctx, dir, a); reason != "" {
			log.Warn().Str("artifact", a.Path).Str("reason", reason).Msg("artifact failed verification")
			r.errors = append(r.errors, fmt.Sprintf("%s/%s: %s", m.Server, a.Path, reason))
			continue
		}
		log.Debug().Str("artifact", a.Path).Msg("artifact ok")
	}
	return r
}

// checkArtifact returns the first reason a fails, or "".
func (s *Service) checkArtifact(ctx context.Context, dir string, a manifest.Artifact) string {
	if !filepath.IsLocal(a.Path) {
		return "path escapes the server directory"
	}
	path := filepath.Join(dir, a.Path)

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "file missing on disk"
	case err != nil:
		return fmt.Sprintf("stat failed: %v", err)
	case !info.Mode().IsRegular():
		return "not a regular file"
	}

	if info.Size() != a.Size {
		return fmt.Sprintf("size mismatch (expected %d, got %d)", a.Size, info.Size())
	}

	if reason := s.checkHash(path, a); reason != "" {
		return reason
	}

	in, ok := s.inspectors.For(a.Type)
	if !ok {
		return fmt.Sprintf("unknown artifact type %q", a.Type)
	}
	if err := in.Inspect(ctx, path); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Sprintf("verification interrupted: %v", cerr)
		}
		return structuralReason(a.Type, err)
	}
	return ""
}

// checkHash accepts a matching fast digest without computing the strong
// one. An absent or unavailable fast digest always falls back.
func (s *Service) checkHash(path string, a manifest.Artifact) string {
	if a.XXH3 != nil {
		fast, ok, err := s.hasher.Fast(path)
		if err != nil {
			return fmt.Sprintf("read failed: %v", err)
		}
		if ok && strings.EqualFold(fast, *a.XXH3) {
			return ""
		}
	}
	strong, err := s.hasher.Strong(path)
	if err != nil {
		return fmt.Sprintf("read failed: %v", err)
	}
	if !strings.EqualFold(strong, a.SHA256) {
		return "SHA-256 mismatch"
	}
	return ""
}

func structuralReason(t manifest.Type, err error) string {
	switch {
	case t == manifest.TypeDatabaseDump:
		return fmt.Sprintf("mysql dump error: %v", err)
	case errors.Is(err, inspect.ErrHeaderCorrupt):
		return fmt.Sprintf("tar header error: %v", err)
	default:
		return fmt.Sprintf("archive stream invalid: %v", err)
	}
}
