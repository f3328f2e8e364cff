package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/MarchanoGG/Watchdog/internal/util"
)

// mysqldump prints this whenever a password is supplied on the command line.
const insecurePasswordWarning = "mysqldump: [Warning] Using a password on the command line interface can be insecure."

// tarExitChanged is GNU tar's status for "some files changed while being read".
const tarExitChanged = 1

type SSHOptions struct {
	Host       string
	Port       int
	User       string
	Password   string
	KeyFile    string
	KnownHosts string
	Sudo       bool
	Timeout    time.Duration
	TmpDir     string
}

// SSH executes commands over one SSH connection and pulls files with rsync.
type SSH struct {
	opts   SSHOptions
	client *ssh.Client
	log    zerolog.Logger
	now    func() time.Time
	rsync  func(ctx context.Context, args []string) ([]byte, error)
}

// DialSSH connects and authenticates to opts.Host.
func DialSSH(ctx context.Context, opts SSHOptions, log zerolog.Logger) (*SSH, error) {
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.TmpDir == "" {
		opts.TmpDir = "/tmp"
	}
	clientCfg, err := clientConfig(opts, log)
	if err != nil {
		return nil, wrap("connect", err)
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	dialer := net.Dialer{Timeout: opts.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, wrap("connect", err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, wrap("connect", err)
	}
	log.Info().Str("addr", addr).Msg("connected via ssh")
	return &SSH{
		opts:   opts,
		client: ssh.NewClient(c, chans, reqs),
		log:    log,
		now:    time.Now,
		rsync:  runRsync,
	}, nil
}

func clientConfig(opts SSHOptions, log zerolog.Logger) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if opts.KeyFile != "" {
		pem, err := os.ReadFile(opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("parse key file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if opts.Password != "" {
		pw := opts.Password
		auth = append(auth,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}
	if len(auth) == 0 {
		return nil, errors.New("no ssh credentials configured")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if opts.KnownHosts != "" {
		cb, err := knownhosts.New(opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKey = cb
	} else {
		log.Warn().Str("host", opts.Host).Msg("ssh host key not verified; set ssh.known_hosts")
	}

	return &ssh.ClientConfig{
		User:            opts.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         opts.Timeout,
	}, nil
}

// ProduceArchive tars and gzips path into the remote temp dir.
func (s *SSH) ProduceArchive(ctx context.Context, p string, excludes []string) (string, error) {
	remote := path.Join(s.opts.TmpDir, util.ArchiveBase(p)+".tar.gz")
	_, stderr, err := s.exec(ctx, archiveCommand(remote, p, excludes), s.opts.Sudo)
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitStatus() == tarExitChanged {
		s.log.Warn().Str("path", p).Str("stderr", strings.TrimSpace(stderr)).Msg("tar reported files changed during read")
		err = nil
	}
	if err != nil {
		return "", wrap("archive "+p, err)
	}
	return remote, nil
}

// ProduceDatabaseDump runs mysqldump --all-databases piped through gzip.
func (s *SSH) ProduceDatabaseDump(ctx context.Context, opts DumpOptions) (string, error) {
	remote := path.Join(s.opts.TmpDir, "mysql_"+s.now().Format("20060102_150405")+".sql.gz")
	_, stderr, err := s.exec(ctx, dumpCommand(remote, opts), false)
	if leftover := cleanDumpStderr(stderr); leftover != "" {
		if err != nil {
			return "", wrap("mysqldump", fmt.Errorf("%w: %s", err, leftover))
		}
		s.log.Warn().Str("stderr", leftover).Msg("mysqldump wrote to stderr")
	}
	if err != nil {
		return "", wrap("mysqldump", err)
	}
	return remote, nil
}

// Transfer pulls remotePath into localDir with rsync over ssh.
func (s *SSH) Transfer(ctx context.Context, remotePath, localDir string) (string, error) {
	if err := os.MkdirAll(localDir, 0o750); err != nil {
		return "", wrap("transfer", err)
	}
	out, err := s.rsync(ctx, rsyncArgs(s.opts, remotePath, localDir))
	if err != nil {
		return "", wrap("transfer "+remotePath, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))))
	}
	local := filepath.Join(localDir, path.Base(remotePath))
	if _, err := os.Stat(local); err != nil {
		return "", wrap("transfer "+remotePath, err)
	}
	return local, nil
}

func (s *SSH) Delete(ctx context.Context, remotePath string) error {
	_, _, err := s.exec(ctx, "rm -f -- "+util.ShellQuote(remotePath), s.opts.Sudo)
	return wrap("delete "+remotePath, err)
}

func (s *SSH) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// exec runs one command in a fresh session, optionally under sudo.
func (s *SSH) exec(ctx context.Context, command string, sudo bool) (string, string, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return "", "", err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	if sudo {
		command = sudoCommand(command, s.opts.Password != "")
		if s.opts.Password != "" {
			session.Stdin = strings.NewReader(s.opts.Password + "\n")
		}
	}

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()
	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return stdout.String(), stderr.String(), ctx.Err()
	}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			s.log.Debug().Int("status", exitErr.ExitStatus()).Str("stderr", strings.TrimSpace(stderr.String())).Msg("remote command failed")
		}
	}
	return stdout.String(), stderr.String(), err
}

func archiveCommand(remote, target string, excludes []string) string {
	parts := []string{"tar", "-czf", util.ShellQuote(remote)}
	for _, pattern := range excludes {
		parts = append(parts, "--exclude="+util.ShellQuote(pattern))
	}
	parts = append(parts, util.ShellQuote(target))
	return strings.Join(parts, " ")
}

func dumpCommand(remote string, opts DumpOptions) string {
	var b strings.Builder
	b.WriteString("(set -o pipefail) 2>/dev/null && set -o pipefail; ")
	if opts.Password != "" {
		b.WriteString("MYSQL_PWD=" + util.ShellQuote(opts.Password) + " ")
	}
	fmt.Fprintf(&b, "mysqldump -h%s -P%d -u%s --all-databases", util.ShellQuote(opts.Host), opts.Port, util.ShellQuote(opts.User))
	if extra := strings.TrimSpace(opts.Extra); extra != "" {
		b.WriteString(" " + extra)
	}
	b.WriteString(" | gzip > " + util.ShellQuote(remote))
	return b.String()
}

func sudoCommand(command string, withPassword bool) string {
	if withPassword {
		return "sudo -S -p '' sh -c " + util.ShellQuote(command)
	}
	return "sudo -n sh -c " + util.ShellQuote(command)
}

func rsyncArgs(opts SSHOptions, remote, localDir string) []string {
	sshCmd := []string{"ssh", "-p", strconv.Itoa(opts.Port), "-o", "BatchMode=yes"}
	if opts.KeyFile != "" {
		sshCmd = append(sshCmd, "-i", opts.KeyFile)
	}
	if opts.KnownHosts != "" {
		sshCmd = append(sshCmd, "-o", "UserKnownHostsFile="+opts.KnownHosts, "-o", "StrictHostKeyChecking=yes")
	} else {
		sshCmd = append(sshCmd, "-o", "StrictHostKeyChecking=accept-new")
	}
	return []string{
		"-az",
		"-e", strings.Join(sshCmd, " "),
		fmt.Sprintf("%s@%s:%s", opts.User, opts.Host, remote),
		strings.TrimSuffix(localDir, string(filepath.Separator)) + string(filepath.Separator),
	}
}

func runRsync(ctx context.Context, args []string) ([]byte, error) {
	if err := util.RequireBinary("rsync"); err != nil {
		return nil, err
	}
	return util.Command(ctx, "rsync", args, nil).CombinedOutput()
}

// cleanDumpStderr drops the insecure-password notice and surrounding space.
func cleanDumpStderr(stderr string) string {
	return strings.TrimSpace(strings.ReplaceAll(stderr, insecurePasswordWarning, ""))
}
