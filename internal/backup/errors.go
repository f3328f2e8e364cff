package backup

import "fmt"

// Stage names the step of a server backup that failed.
type Stage string

const (
	StageConnect  Stage = "connect"
	StageProduce  Stage = "produce"
	StageTransfer Stage = "transfer"
	StageChecksum Stage = "checksum"
	StageManifest Stage = "manifest"
)

// ServerError aborts the backup of one server.
type ServerError struct {
	Server string
	Stage  Stage
	Target string
	Err    error
}

func (e *ServerError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("backup %s: %s %s: %v", e.Server, e.Stage, e.Target, e.Err)
	}
	return fmt.Sprintf("backup %s: %s: %v", e.Server, e.Stage, e.Err)
}

func (e *ServerError) Unwrap() error { return e.Err }
