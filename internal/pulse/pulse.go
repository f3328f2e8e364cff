// Package pulse runs one complete cycle: back up every server, verify the
// run, mirror it, and report the outcome exactly once.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/MarchanoGG/Watchdog/internal/backup"
	"github.com/MarchanoGG/Watchdog/internal/config"
	"github.com/MarchanoGG/Watchdog/internal/lock"
	"github.com/MarchanoGG/Watchdog/internal/metrics"
	"github.com/MarchanoGG/Watchdog/internal/notify"
	"github.com/MarchanoGG/Watchdog/internal/verify"
)

const sendTimeout = 30 * time.Second

type State string

const (
	Started         State = "started"
	BackupRunning   State = "backup_running"
	BackupSucceeded State = "backup_succeeded"
	BackupFailed    State = "backup_failed"
	VerifyRunning   State = "verify_running"
	VerifyComplete  State = "verify_complete"
	ReportComposed  State = "report_composed"
	ReportSent      State = "report_sent"
	Done            State = "done"
)

type Backuper interface {
	Run(ctx context.Context, servers []config.ServerConfig) ([]string, error)
}

type Verifier interface {
	VerifyRun(ctx context.Context, runDir string) verify.Result
}

// Outcome is what one run did.
type Outcome struct {
	RunID     string
	States    []State
	BackupOK  bool
	BackupErr error
	Verified  bool
	Result    verify.Result
	Crash     error // unexpected failure, if any
	Report    notify.Message
	SendErr   error
	Finished  time.Time
	Duration  time.Duration
}

// Failed reports whether the run needs attention.
func (o Outcome) Failed() bool {
	return o.Crash != nil || !o.BackupOK || o.Result.Overall == verify.Failed
}

type Orchestrator struct {
	Backup   Backuper
	Verify   Verifier
	Sink     notify.Sink
	Servers  []config.ServerConfig
	RunID    string
	RunDir   string
	LockPath string // empty: no lock
	// Mirror, when set, copies a run that did not fail verification.
	Mirror      func(ctx context.Context, runDir string) error
	MetricsPath string
	Log         zerolog.Logger

	now func() time.Time
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

// Run never returns an error: every failure ends up in the outcome and in
// the single report sent to the sink.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	start := o.clock()
	out := Outcome{RunID: o.RunID}
	o.enter(&out, Started)

	if err := o.guarded(ctx, &out); err != nil {
		o.Log.Error().Err(err).Str("run", o.RunID).Msg("pulse crashed")
		out.Crash = err
		out.Result = verify.Aggregate([]string{"pulse aborted: " + err.Error()}, nil, out.Result.Metrics)
	}

	out.Finished = o.clock()
	out.Duration = out.Finished.Sub(start)
	o.writeMetrics(out)

	if out.Crash != nil {
		out.Report = FailureReport(o.RunID, out.Crash)
	} else {
		out.Report = Compose(out)
	}
	o.enter(&out, ReportComposed)
	out.SendErr = o.send(ctx, out.Report)
	o.enter(&out, ReportSent)
	o.enter(&out, Done)

	o.Log.Info().
		Str("run", o.RunID).
		Bool("backup_ok", out.BackupOK).
		Str("overall", string(out.Result.Overall)).
		Dur("duration", out.Duration).
		Msg("pulse finished")
	return out
}

// guarded runs the pipeline, turning a panic into an error.
func (o *Orchestrator) guarded(ctx context.Context, out *Outcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.Log.Error().Str("stack", string(debug.Stack())).Msg("panic during pulse")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return o.pipeline(ctx, out)
}

func (o *Orchestrator) pipeline(ctx context.Context, out *Outcome) error {
	if o.LockPath != "" {
		guard, err := lock.Acquire(o.LockPath)
		if err != nil {
			return err
		}
		defer guard.Release()
	}

	o.enter(out, BackupRunning)
	if _, err := o.Backup.Run(ctx, o.Servers); err != nil {
		var serr *backup.ServerError
		if !errors.As(err, &serr) {
			return fmt.Errorf("backup: %w", err)
		}
		o.Log.Error().Err(err).Str("server", serr.Server).Msg("backup failed, verification skipped")
		out.BackupErr = err
		out.Result = verify.Aggregate([]string{"verification skipped: backup failed"}, nil, verify.Metrics{})
		o.enter(out, BackupFailed)
		return nil
	}
	out.BackupOK = true
	o.enter(out, BackupSucceeded)

	o.enter(out, VerifyRunning)
	out.Result = o.Verify.VerifyRun(ctx, o.RunDir)
	out.Verified = true
	o.enter(out, VerifyComplete)

	if o.Mirror != nil && out.Result.Overall != verify.Failed {
		if err := o.Mirror(ctx, o.RunDir); err != nil {
			o.Log.Warn().Err(err).Msg("mirror failed")
			r := out.Result
			out.Result = verify.Aggregate(r.Errors, append(r.Warnings, "mirror failed: "+err.Error()), r.Metrics)
		}
	}
	return nil
}

func (o *Orchestrator) send(ctx context.Context, msg notify.Message) error {
	if o.Sink == nil {
		o.Log.Warn().Msg("no notification sink configured, report dropped")
		return notify.ErrNoSinks
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()
	err := o.Sink.Send(ctx, msg)
	if errors.Is(err, notify.ErrNoSinks) {
		o.Log.Warn().Msg("no notification sink configured, report dropped")
		return err
	}
	if err != nil {
		o.Log.Error().Err(err).Msg("report not delivered")
		return err
	}
	o.Log.Info().Msg("report sent")
	return nil
}

func (o *Orchestrator) writeMetrics(out Outcome) {
	if o.MetricsPath == "" {
		return
	}
	err := metrics.WriteTextfile(o.MetricsPath, metrics.Run{
		Finished:  out.Finished,
		Duration:  out.Duration,
		BackupOK:  out.BackupOK,
		Status:    string(out.Result.Overall),
		Errors:    len(out.Result.Errors),
		Warnings:  len(out.Result.Warnings),
		Servers:   out.Result.Metrics.Servers,
		Artifacts: out.Result.Metrics.Artifacts,
		Bytes:     out.Result.Metrics.Bytes,
	})
	if err != nil {
		o.Log.Warn().Err(err).Str("path", o.MetricsPath).Msg("metrics not written")
	}
}

func (o *Orchestrator) enter(out *Outcome, s State) {
	out.States = append(out.States, s)
	o.Log.Debug().Str("run", o.RunID).Str("state", string(s)).Msg("pulse state")
}
