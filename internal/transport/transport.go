// Package transport runs the remote side of a backup: producing archives
// and dumps on a host, pulling them into local storage and removing the
// remote temporary copies.
package transport

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MarchanoGG/Watchdog/internal/config"
)

// Transport is one connection to one server. Implementations are not safe
// for concurrent use.
type Transport interface {
	ProduceArchive(ctx context.Context, path string, excludes []string) (string, error)
	ProduceDatabaseDump(ctx context.Context, opts DumpOptions) (string, error)
	Transfer(ctx context.Context, remotePath, localDir string) (string, error)
	Delete(ctx context.Context, remotePath string) error
	Close() error
}

type DumpOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	Extra    string // appended verbatim to the mysqldump command line
}

// Error wraps any failure of a transport operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// Dialer opens a transport for a configured server.
type Dialer interface {
	Dial(ctx context.Context, srv config.ServerConfig) (Transport, error)
}

// ConfigDialer picks SSH or local transports from server config.
type ConfigDialer struct {
	Backup config.BackupConfig
	Log    zerolog.Logger
}

func (d ConfigDialer) Dial(ctx context.Context, srv config.ServerConfig) (Transport, error) {
	log := d.Log.With().Str("server", srv.Name).Logger()
	if srv.Local {
		return NewLocal(d.Backup.Compression, log)
	}
	return DialSSH(ctx, SSHOptions{
		Host:       srv.Host,
		Port:       srv.SSH.Port,
		User:       srv.SSH.User,
		Password:   srv.SSH.Password,
		KeyFile:    srv.SSH.KeyFile,
		KnownHosts: srv.SSH.KnownHosts,
		Sudo:       !srv.SSH.NoSudo,
		Timeout:    srv.SSH.Timeout,
		TmpDir:     d.Backup.RemoteTmpDir,
	}, log)
}
