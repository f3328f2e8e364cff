// Package metrics exports the outcome of the last pulse as a node_exporter
// textfile.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "watchdog"

// Run summarises one pulse.
type Run struct {
	Finished  time.Time
	Duration  time.Duration
	BackupOK  bool
	Status    string // PASSED, WARN or FAILED
	Errors    int
	Warnings  int
	Servers   int
	Artifacts int
	Bytes     int64
}

var statuses = []string{"PASSED", "WARN", "FAILED"}

// Registry returns a fresh registry holding r.
func Registry(r Run) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	gauge := func(name, help string, v float64) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
		g.Set(v)
		reg.MustRegister(g)
	}
	gauge("pulse_last_run_timestamp_seconds", "Unix time the last pulse finished.", float64(r.Finished.Unix()))
	gauge("pulse_duration_seconds", "Wall time of the last pulse.", r.Duration.Seconds())
	gauge("backup_success", "1 if every server was backed up in the last pulse.", boolFloat(r.BackupOK))
	gauge("backup_bytes", "Bytes of artifacts checked in the last pulse.", float64(r.Bytes))
	gauge("verify_errors", "Verification errors in the last pulse.", float64(r.Errors))
	gauge("verify_warnings", "Verification warnings in the last pulse.", float64(r.Warnings))
	gauge("verify_servers", "Manifests checked in the last pulse.", float64(r.Servers))
	gauge("verify_artifacts", "Artifacts checked in the last pulse.", float64(r.Artifacts))

	status := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "verify_status",
		Help:      "Overall verification status of the last pulse.",
	}, []string{"status"})
	for _, s := range statuses {
		status.WithLabelValues(s).Set(boolFloat(s == r.Status))
	}
	reg.MustRegister(status)
	return reg
}

// WriteTextfile atomically replaces path with the metrics for r.
func WriteTextfile(path string, r Run) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, Registry(r))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
