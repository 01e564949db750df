// Package supervisor implements the per-service actor that owns a
// service's lifecycle state and arbitrates its lifecycle tasks (spec
// §4.3), and the Manager registry that owns the fleet of supervisors
// (spec §4.7).
package supervisor

import (
	"github.com/airup-sh/airupd/internal/apierror"
	"github.com/airup-sh/airupd/internal/manifest"
	"github.com/airup-sh/airupd/internal/task"
)

// Status is a service's observable lifecycle state (spec §3).
type Status int

const (
	StatusStopped Status = iota
	StatusActive
)

func (s Status) String() string {
	if s == StatusActive {
		return "active"
	}
	return "stopped"
}

// Query is the Supervisor's state snapshot (spec §4.3 "Query").
type Query struct {
	Status      Status
	StatusSince int64 // milliseconds, Unix epoch
	Pid         int
	TaskClass   *task.Class
	LastError   *apierror.Error
	Manifest    *manifest.Service
}
