package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textfile", "watchdog.prom")
	err := WriteTextfile(path, Run{
		Finished:  time.Unix(1753655400, 0),
		Duration:  90 * time.Second,
		BackupOK:  true,
		Status:    "WARN",
		Warnings:  1,
		Servers:   2,
		Artifacts: 5,
		Bytes:     4096,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "watchdog_backup_success 1\n")
	assert.Contains(t, out, "watchdog_pulse_duration_seconds 90\n")
	assert.Contains(t, out, "watchdog_verify_artifacts 5\n")
	assert.Contains(t, out, `watchdog_verify_status{status="WARN"} 1`)
	assert.Contains(t, out, `watchdog_verify_status{status="FAILED"} 0`)
	assert.Contains(t, out, "# HELP watchdog_verify_errors")
}
