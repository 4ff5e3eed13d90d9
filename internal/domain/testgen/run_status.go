package testgen

// RunStatus mirrors the assistant run lifecycle.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

func (s RunStatus) Succeeded() bool {
	return s == RunCompleted
}

// Failed reports terminal statuses that will never produce a message.
// requires_action counts as failed: no tools are registered, so nobody would answer it.
func (s RunStatus) Failed() bool {
	switch s {
	case RunCancelled, RunFailed, RunIncomplete, RunExpired, RunRequiresAction:
		return true
	default:
		return false
	}
}

func (s RunStatus) Terminal() bool {
	return s.Succeeded() || s.Failed()
}
