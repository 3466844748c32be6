package domain

import "time"

// RequestStatus represents the lifecycle state of a prompt request
type RequestStatus string

const (
	StatusIdle          RequestStatus = "idle"
	StatusWaiting       RequestStatus = "waiting"
	StatusWaitingOnUser RequestStatus = "waiting_on_user"
	StatusCommitted     RequestStatus = "committed"
	StatusFailed        RequestStatus = "failed"
	StatusTimedOut      RequestStatus = "timed_out"
)

// Terminal reports whether the status is final for a request.
// Terminal requests return to idle on the next dispatch.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusCommitted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal
// state-machine transition.
func (s RequestStatus) CanTransition(next RequestStatus) bool {
	switch s {
	case StatusIdle:
		return next == StatusWaiting
	case StatusWaiting:
		switch next {
		case StatusWaitingOnUser, StatusCommitted, StatusFailed, StatusTimedOut:
			return true
		}
	case StatusWaitingOnUser:
		// A follow-up prompt continues the same request.
		return next == StatusWaiting
	case StatusCommitted, StatusFailed, StatusTimedOut:
		return next == StatusIdle
	}
	return false
}

// RequestRecord captures the metadata of a single prompt request for the
// history table. Created on dispatch, mutated while the assistant streams
// output, immutable once the status is terminal.
type RequestRecord struct {
	ID            string
	Prompt        string
	Model         string
	Status        RequestStatus
	CommitID      string
	Description   string // commit title
	FilesChanged  int
	LinesChanged  int
	CostUSD       float64
	FailureReason string
	ExitCode      *int
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// ShortID returns the first 8 characters of the request id for compact display.
func (r *RequestRecord) ShortID() string {
	return Abbreviate(r.ID, 8)
}

// ShortCommit returns the abbreviated commit hash, or "" when no commit was made.
func (r *RequestRecord) ShortCommit() string {
	return Abbreviate(r.CommitID, 8)
}

// Abbreviate returns the first n characters of s.
func Abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// CommitStats describes the changes introduced by a single commit.
type CommitStats struct {
	LinesAdded    int
	LinesRemoved  int
	FilesAdded    int
	FilesRemoved  int
	FilesModified int
	Description   string // commit title
}

// LinesChanged returns the total number of changed lines.
func (c CommitStats) LinesChanged() int {
	return c.LinesAdded + c.LinesRemoved
}

// FilesTouched returns the total number of files affected by the commit.
func (c CommitStats) FilesTouched() int {
	return c.FilesAdded + c.FilesRemoved + c.FilesModified
}
