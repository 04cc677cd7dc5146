package domain

// JobState enumerates the lifecycle of one in-flight generation.
// Terminal states are never re-entered.
type JobState string

const (
	JobAdmitted  JobState = "admitted"
	JobSubmitted JobState = "submitted"
	JobPolling   JobState = "polling"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobTimedOut  JobState = "timed_out"
)

// Terminal reports whether no further transition can occur.
func (s JobState) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobTimedOut:
		return true
	}
	return false
}

// TaskStatus is one observation of a provider task's state.
type TaskStatus struct {
	State      string
	ResultJSON string
	FailReason string
}

// Job is one admitted submission. It lives only for the duration of a
// single worker invocation and is never persisted.
type Job struct {
	ID        string
	TgID      int64
	ChatID    int64
	Model     Model
	Settings  Settings
	Prompt    string
	InputRefs []string
	Cost      int64
	TaskID    string
	State     JobState
}
