package model

import "fmt"

// Status is the lifecycle state of a single task record.
type Status string

const (
	StatusIdle    Status = "Idle"
	StatusPending Status = "Pending"
	StatusRunning Status = "Running"
	StatusSuccess Status = "Success"
	StatusFailed  Status = "Failed"
	StatusStopped Status = "Stopped"
	StatusUnused  Status = "Unused"
)

var knownStatuses = map[Status]bool{
	StatusIdle:    true,
	StatusPending: true,
	StatusRunning: true,
	StatusSuccess: true,
	StatusFailed:  true,
	StatusStopped: true,
	StatusUnused:  true,
}

func (s Status) Valid() bool { return knownStatuses[s] }

// ProjectStatus is the lifecycle state of a campaign.
type ProjectStatus string

const (
	ProjectIdle      ProjectStatus = "Idle"
	ProjectRunning   ProjectStatus = "Running"
	ProjectBlocked   ProjectStatus = "Blocked"
	ProjectStopped   ProjectStatus = "Stopped"
	ProjectCompleted ProjectStatus = "Completed"
)

var knownProjectStatuses = map[ProjectStatus]bool{
	ProjectIdle:      true,
	ProjectRunning:   true,
	ProjectBlocked:   true,
	ProjectStopped:   true,
	ProjectCompleted: true,
}

func (s ProjectStatus) Valid() bool { return knownProjectStatuses[s] }

func checkRecords(rs []*Record) error {
	for i, r := range rs {
		if r != nil && !r.Status.Valid() {
			return fmt.Errorf("record %d (%s): unknown status %q", i, r.ID, r.Status)
		}
	}
	return nil
}

// Role tells whether a campaign record counts toward the target or is held in reserve.
type Role string

const (
	RolePrimary Role = "primary"
	RoleExtra   Role = "extra"
	RoleBackup  Role = "backup"
)

// Mode tags a tool run with the executor capability it needs.
type Mode string

const (
	ModeEdit   Mode = "edit"
	ModeRemove Mode = "remove"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEdit, ModeRemove:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown run mode %q", s)
	}
}

// Message constants shared by the engine and the crash-recovery path.
const (
	MsgDone        = "Done"
	MsgExecuting   = "Executing"
	MsgPaused      = "Paused"
	MsgStoppedUser = "Stopped by user"
	MsgAppClosed   = "Stopped (app closed)"
	MsgInterrupted = "Interrupted"
	MsgNotEnough   = "Not enough domains to reach target"
)
