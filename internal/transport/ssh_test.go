package transport

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveCommand(t *testing.T) {
	cmd := archiveCommand("/tmp/backup_var_www.tar.gz", "/var/www", []string{"*.log", "cache dir"})
	assert.Equal(t, `tar -czf '/tmp/backup_var_www.tar.gz' --exclude='*.log' --exclude='cache dir' '/var/www'`, cmd)
}

func TestDumpCommand(t *testing.T) {
	cmd := dumpCommand("/tmp/mysql_1.sql.gz", DumpOptions{Host: "127.0.0.1", Port: 3306, User: "root", Password: "p'w", Extra: "--single-transaction"})
	assert.Contains(t, cmd, `MYSQL_PWD='p'"'"'w' mysqldump -h'127.0.0.1' -P3306 -u'root' --all-databases --single-transaction | gzip > '/tmp/mysql_1.sql.gz'`)
	assert.Contains(t, cmd, "pipefail")
	assert.NotContains(t, dumpCommand("/tmp/x", DumpOptions{User: "u"}), "MYSQL_PWD")
}

func TestSudoCommand(t *testing.T) {
	assert.Equal(t, `sudo -S -p '' sh -c 'rm -f /tmp/x'`, sudoCommand("rm -f /tmp/x", true))
	assert.Equal(t, `sudo -n sh -c 'rm -f /tmp/x'`, sudoCommand("rm -f /tmp/x", false))
}

func TestRsyncArgs(t *testing.T) {
	args := rsyncArgs(SSHOptions{Host: "10.0.0.5", Port: 2222, User: "deploy", KeyFile: "/k"}, "/tmp/a.tar.gz", "/b/run/web01")
	require.Len(t, args, 5)
	assert.Equal(t, "-az", args[0])
	assert.Equal(t, "ssh -p 2222 -o BatchMode=yes -i /k -o StrictHostKeyChecking=accept-new", args[2])
	assert.Equal(t, "deploy@10.0.0.5:/tmp/a.tar.gz", args[3])
	assert.Equal(t, "/b/run/web01/", args[4])
}

func TestCleanDumpStderr(t *testing.T) {
	assert.Empty(t, cleanDumpStderr(insecurePasswordWarning+"\n"))
	assert.Equal(t, "mysqldump: Got error: 1045", cleanDumpStderr(insecurePasswordWarning+"\nmysqldump: Got error: 1045\n"))
}

func TestClientConfigNeedsCredentials(t *testing.T) {
	_, err := clientConfig(SSHOptions{Host: "h", User: "u"}, zerolog.Nop())
	require.Error(t, err)

	cfg, err := clientConfig(SSHOptions{Host: "h", User: "u", Password: "pw"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, cfg.Auth, 2)
}

func TestErrorUnwraps(t *testing.T) {
	base := errors.New("connection reset")
	err := wrap("transfer", base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "transport transfer: connection reset", err.Error())
	assert.NoError(t, wrap("noop", nil))
}
