// Package model defines the data structures shared across layers.
package model

import "time"

// Execution statuses.
const (
	StatusSuccess     = "success"
	StatusFailure     = "failure"
	StatusTimeout     = "timeout"
	StatusInterrupted = "interrupted"
)

// Execution is the record kept for one finished python_execute call.
//
// We store a hash of the code rather than the code itself: the history is
// for spotting patterns (which requirements, how long, how often it times
// out), not for replaying someone's script.
type Execution struct {
	ID           string        `json:"id"`
	CodeSHA256   string        `json:"codeSha256"`
	Requirements []string      `json:"requirements"`
	Status       string        `json:"status"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"durationNs"`
	CreatedAt    time.Time     `json:"createdAt"`
}
