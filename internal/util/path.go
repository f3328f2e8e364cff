package util

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// RunIDLayout formats run (pulse) identifiers; lexical order is time order.
const RunIDLayout = "2006-01-02_15-04-05"

// RunID derives the identifier of a run started at when.
func RunID(when time.Time) string {
	return when.Format(RunIDLayout)
}

// RunDir is the directory holding every manifest and artifact of one run.
func RunDir(root, runID string) string {
	return filepath.Join(root, runID)
}

// LatestRun returns the newest run directory under root.
func LatestRun(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	latest := ""
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(RunIDLayout, e.Name()); err != nil {
			continue
		}
		if e.Name() > latest {
			latest = e.Name()
		}
	}
	if latest == "" {
		return "", errors.New("no runs found in " + root)
	}
	return RunDir(root, latest), nil
}

// SafeName flattens a remote path into a single file-name component,
// e.g. "/var/www/html" becomes "var_www_html".
func SafeName(p string) string {
	trimmed := strings.Trim(filepath.ToSlash(p), "/")
	if trimmed == "" {
		return "root"
	}
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ArchiveBase names the archive of target p without extension. Distinct
// targets that flatten to the same SafeName still get distinct names.
func ArchiveBase(p string) string {
	sum := sha256.Sum256([]byte(path.Clean(filepath.ToSlash(p))))
	return "backup_" + SafeName(p) + "_" + hex.EncodeToString(sum[:4])
}

// ShellQuote wraps s in single quotes for a POSIX shell.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
