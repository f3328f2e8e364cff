// Package backup produces the artifacts of one run: for every server it
// archives each target and optionally dumps MySQL on the host, pulls the
// results into the run directory, digests them and persists the manifest.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/MarchanoGG/Watchdog/internal/checksum"
	"github.com/MarchanoGG/Watchdog/internal/config"
	"github.com/MarchanoGG/Watchdog/internal/manifest"
	"github.com/MarchanoGG/Watchdog/internal/transport"
	"github.com/MarchanoGG/Watchdog/internal/util"
)

const cleanupTimeout = 2 * time.Minute

// Hasher digests a transferred artifact.
type Hasher interface {
	Sum(path string) (checksum.Digests, error)
}

type Producer struct {
	Dialer  transport.Dialer
	Hasher  Hasher
	RunDir  string
	RunID   string
	Retries int
	Backoff time.Duration
	Log     zerolog.Logger
}

func New(dialer transport.Dialer, hasher Hasher, runDir, runID string, cfg config.BackupConfig, log zerolog.Logger) *Producer {
	return &Producer{
		Dialer:  dialer,
		Hasher:  hasher,
		RunDir:  runDir,
		RunID:   runID,
		Retries: cfg.TransferRetries,
		Backoff: cfg.RetryBackoff,
		Log:     log,
	}
}

// Run backs up servers in order and stops at the first failing server.
// It returns the manifests persisted before the failure.
func (p *Producer) Run(ctx context.Context, servers []config.ServerConfig) ([]string, error) {
	var paths []string
	for _, srv := range servers {
		m, err := p.ProduceServer(ctx, srv)
		if err != nil {
			return paths, err
		}
		paths = append(paths, filepath.Join(p.RunDir, manifest.FileName(m.Server)))
	}
	return paths, nil
}

// ProduceServer backs up every target of srv, then its database, and
// persists the manifest once all artifacts are in place. On failure no
// manifest is written.
func (p *Producer) ProduceServer(ctx context.Context, srv config.ServerConfig) (*manifest.Manifest, error) {
	log := p.Log.With().Str("server", srv.Name).Logger()
	start := time.Now()

	t, err := p.Dialer.Dial(ctx, srv)
	if err != nil {
		return nil, &ServerError{Server: srv.Name, Stage: StageConnect, Err: err}
	}
	defer func() {
		if cerr := t.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("close transport")
		}
	}()

	m := manifest.New(srv.Name, p.RunID)
	dir := manifest.ArtifactDir(p.RunDir, srv.Name)

	for _, target := range srv.Targets {
		if err := ctx.Err(); err != nil {
			return nil, &ServerError{Server: srv.Name, Stage: StageProduce, Target: target.Path, Err: err}
		}
		excludes := append(append([]string{}, srv.Excludes...), target.Excludes...)
		log.Info().Str("path", target.Path).Msg("archiving target")
		remote, err := t.ProduceArchive(ctx, target.Path, excludes)
		if err != nil {
			return nil, &ServerError{Server: srv.Name, Stage: StageProduce, Target: target.Path, Err: err}
		}
		if err := p.collect(ctx, t, m, remote, dir, manifest.TypeArchive, log); err != nil {
			err.Server, err.Target = srv.Name, target.Path
			return nil, err
		}
	}

	if srv.MySQL.DumpEnabled() {
		log.Info().Msg("dumping mysql")
		remote, err := t.ProduceDatabaseDump(ctx, transport.DumpOptions{
			Host:     srv.MySQL.Host,
			Port:     srv.MySQL.Port,
			User:     srv.MySQL.User,
			Password: srv.MySQL.Password,
			Extra:    srv.MySQL.DumpOptions,
		})
		if err != nil {
			return nil, &ServerError{Server: srv.Name, Stage: StageProduce, Target: "mysql", Err: err}
		}
		if err := p.collect(ctx, t, m, remote, dir, manifest.TypeDatabaseDump, log); err != nil {
			err.Server, err.Target = srv.Name, "mysql"
			return nil, err
		}
	}

	path, err := m.Persist(p.RunDir)
	if err != nil {
		return nil, &ServerError{Server: srv.Name, Stage: StageManifest, Err: err}
	}
	log.Info().
		Int("artifacts", len(m.Artifacts)).
		Int64("bytes", m.TotalSize()).
		Dur("duration", time.Since(start)).
		Str("manifest", path).
		Msg("server backup complete")
	return m, nil
}

// collect pulls one remote artifact into dir and records it. The remote
// copy is removed afterwards whatever the outcome.
func (p *Producer) collect(ctx context.Context, t transport.Transport, m *manifest.Manifest, remote, dir string, typ manifest.Type, log zerolog.Logger) *ServerError {
	defer p.cleanup(ctx, t, remote, log)

	if name := filepath.Base(remote); m.Has(name) {
		return &ServerError{Stage: StageManifest, Err: fmt.Errorf("%w: %s collides with an earlier artifact", manifest.ErrInvalidArtifact, name)}
	}

	var local string
	err := util.Retry(ctx, p.Retries, p.Backoff, func() error {
		var terr error
		local, terr = t.Transfer(ctx, remote, dir)
		if terr != nil {
			log.Warn().Err(terr).Str("remote", remote).Msg("transfer failed")
		}
		return terr
	})
	if err != nil {
		return &ServerError{Stage: StageTransfer, Err: err}
	}

	info, err := os.Stat(local)
	if err != nil {
		return &ServerError{Stage: StageTransfer, Err: err}
	}
	sums, err := p.Hasher.Sum(local)
	if err != nil {
		return &ServerError{Stage: StageChecksum, Err: err}
	}
	if err := m.Append(filepath.Base(local), typ, info.Size(), sums.Strong, sums.Fast); err != nil {
		return &ServerError{Stage: StageManifest, Err: err}
	}
	log.Debug().Str("artifact", local).Int64("size", info.Size()).Msg("artifact recorded")
	return nil
}

func (p *Producer) cleanup(ctx context.Context, t transport.Transport, remote string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := t.Delete(ctx, remote); err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("remote cleanup failed")
	}
}
