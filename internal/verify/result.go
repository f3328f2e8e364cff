package verify

import (
	"errors"
	"fmt"
)

// NoManifestsMessage is reported when a run directory holds no manifests.
const NoManifestsMessage = "No manifest files found!"

var ErrNoManifests = errors.New("no manifest files found")

type Status string

const (
	Passed Status = "PASSED"
	Warn   Status = "WARN"
	Failed Status = "FAILED"
)

type Metrics struct {
	Servers   int   `json:"servers"`
	Artifacts int   `json:"files_checked"`
	Bytes     int64 `json:"bytes"`
}

// Result is the outcome of verifying one run. Errors and Warnings keep the
// order in which artifacts were checked.
type Result struct {
	Overall  Status   `json:"overall"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Metrics  Metrics  `json:"metrics"`
}

// Aggregate derives the overall status from errs and warns alone.
func Aggregate(errs, warns []string, m Metrics) Result {
	r := Result{
		Overall:  Passed,
		Errors:   append([]string{}, errs...),
		Warnings: append([]string{}, warns...),
		Metrics:  m,
	}
	switch {
	case len(r.Errors) > 0:
		r.Overall = Failed
	case len(r.Warnings) > 0:
		r.Overall = Warn
	}
	return r
}

// Err is nil unless the run failed.
func (r Result) Err() error {
	if r.Overall != Failed {
		return nil
	}
	if r.Metrics.Servers == 0 {
		return ErrNoManifests
	}
	return fmt.Errorf("verification failed with %d error(s)", len(r.Errors))
}
