package models

import "time"

// JobEvent records an applied state transition for a job
type JobEvent struct {
	ID     string
	JobID  int64 `badgerhold:"index"`
	At     time.Time
	From   *State
	To     State
	Reason string
	Meta   map[string]interface{}
}

// Installation links the GitHub App installation to an account, which is the
// ownership context for telemetry
type Installation struct {
	ID           int64
	AccountLogin string
	AccountType  string
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

// Active reports whether the installation has not been removed
func (i *Installation) Active() bool {
	return i.DeletedAt == nil
}
