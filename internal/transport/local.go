package transport

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MarchanoGG/Watchdog/internal/compress"
	"github.com/MarchanoGG/Watchdog/internal/util"
)

// Local backs up the machine WatchDog runs on. "Remote" temp files live in a
// private staging directory removed by Close.
type Local struct {
	kind    string
	staging string
	log     zerolog.Logger
	now     func() time.Time
	command func(ctx context.Context, args []string, env map[string]string) *exec.Cmd
}

func NewLocal(compression string, log zerolog.Logger) (*Local, error) {
	kind := compression
	if kind == "" || kind == compress.TypeNone {
		kind = compress.TypeGzip
	}
	if _, err := compress.WrapWriter(kind, io.Discard); err != nil {
		return nil, wrap("connect", err)
	}
	staging, err := os.MkdirTemp("", "watchdog-staging-")
	if err != nil {
		return nil, wrap("connect", err)
	}
	return &Local{
		kind:    kind,
		staging: staging,
		log:     log,
		now:     time.Now,
		command: func(ctx context.Context, args []string, env map[string]string) *exec.Cmd {
			return util.Command(ctx, "mysqldump", args, env)
		},
	}, nil
}

func (l *Local) ProduceArchive(ctx context.Context, p string, excludes []string) (string, error) {
	out := filepath.Join(l.staging, util.ArchiveBase(p)+".tar"+compress.Extension(l.kind))
	if err := l.writeArchive(ctx, out, p, excludes); err != nil {
		_ = os.Remove(out)
		return "", wrap("archive "+p, err)
	}
	return out, nil
}

func (l *Local) writeArchive(ctx context.Context, out, root string, excludes []string) error {
	f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	cw, err := compress.WrapWriter(l.kind, f)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)

	root = filepath.Clean(root)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := strings.TrimPrefix(filepath.ToSlash(path), "/")
		if path != root && excluded(name, d.Name(), excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return addEntry(tw, path, name, d)
	})
	if walkErr != nil {
		return walkErr
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func addEntry(tw *tar.Writer, path, name string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	var link string
	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	case info.Mode().IsRegular(), info.IsDir():
	default:
		// sockets, devices and fifos are not archived
		return nil
	}
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = name
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(tw, src)
	return err
}

// excluded mimics tar --exclude: a pattern matches the base name or the
// whole archive path.
func excluded(name, base string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
		if ok, _ := filepath.Match(strings.TrimPrefix(p, "/"), name); ok {
			return true
		}
	}
	return false
}

func (l *Local) ProduceDatabaseDump(ctx context.Context, opts DumpOptions) (string, error) {
	out := filepath.Join(l.staging, "mysql_"+l.now().Format("20060102_150405")+".sql"+compress.Extension(l.kind))
	if err := l.writeDump(ctx, out, opts); err != nil {
		_ = os.Remove(out)
		return "", wrap("mysqldump", err)
	}
	return out, nil
}

func (l *Local) writeDump(ctx context.Context, out string, opts DumpOptions) error {
	args := []string{"-h", opts.Host, "-P", strconv.Itoa(opts.Port), "-u", opts.User, "--all-databases"}
	args = append(args, strings.Fields(opts.Extra)...)
	env := map[string]string{}
	if opts.Password != "" {
		env["MYSQL_PWD"] = opts.Password
	}

	f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	cw, err := compress.WrapWriter(l.kind, f)
	if err != nil {
		return err
	}

	cmd := l.command(ctx, args, env)
	var stderr bytes.Buffer
	cmd.Stdout = cw
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	leftover := cleanDumpStderr(stderr.String())
	if runErr != nil {
		if leftover != "" {
			return fmt.Errorf("%w: %s", runErr, leftover)
		}
		return runErr
	}
	if leftover != "" {
		l.log.Warn().Str("stderr", leftover).Msg("mysqldump wrote to stderr")
	}
	if err := cw.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// Transfer copies the staged file into localDir.
func (l *Local) Transfer(ctx context.Context, remotePath, localDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", wrap("transfer "+remotePath, err)
	}
	if err := os.MkdirAll(localDir, 0o750); err != nil {
		return "", wrap("transfer", err)
	}
	target := filepath.Join(localDir, filepath.Base(remotePath))
	if err := copyFile(remotePath, target); err != nil {
		return "", wrap("transfer "+remotePath, err)
	}
	return target, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (l *Local) Delete(_ context.Context, remotePath string) error {
	return wrap("delete "+remotePath, os.Remove(remotePath))
}

func (l *Local) Close() error {
	return os.RemoveAll(l.staging)
}
