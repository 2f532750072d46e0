package constants

// Training run status constants
type RunStatus string

const (
	RunStatusPending      RunStatus = "PENDING"       // Created, waiting for actors
	RunStatusRunning      RunStatus = "RUNNING"       // Episode loop in progress
	RunStatusEarlyStopped RunStatus = "EARLY_STOPPED" // Stopped by the patience window
	RunStatusDone         RunStatus = "DONE"          // Reached the episode horizon
	RunStatusFailed       RunStatus = "FAILED"        // Aborted on error
)

func (s RunStatus) String() string {
	return string(s)
}

// Terminal reports whether the run can no longer make progress.
func (s RunStatus) Terminal() bool {
	return s == RunStatusEarlyStopped || s == RunStatusDone || s == RunStatusFailed
}
