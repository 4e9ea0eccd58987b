package engine

import (
	"errors"

	"linkrunner/internal/model"
)

// Command types accepted by Engine.Do. The JSON form is {type, ...payload}.
const (
	CmdStartCampaigns = "startCampaigns"
	CmdSubmitRun      = "submitRun"
	CmdStop           = "stop"
	CmdResume         = "resume"
	CmdRetryFailed    = "retryFailed"
	CmdRemoveRows     = "removeRows"
	CmdClearRun       = "clearRun"
	CmdSaveProject    = "saveProject"
	CmdStartProject   = "startProject"
	CmdStopProject    = "stopProject"
	CmdDeleteProject  = "deleteProject"
)

var (
	ErrUnknownCommand = errors.New("engine: unknown command")
	ErrNotStarted     = errors.New("engine: not started")
	ErrClosed         = errors.New("engine: closed")
)

type Command struct {
	Type string `json:"type"`

	Mode      model.Mode      `json:"mode,omitempty"`
	Rows      []*model.Record `json:"rows,omitempty"`
	DomainSet string          `json:"domainSet,omitempty"`
	IDs       []string        `json:"ids,omitempty"`
	ProjectID string          `json:"projectId,omitempty"`
	Project   *model.Project  `json:"project,omitempty"`
	Force     bool            `json:"force,omitempty"`
}

// Result is the reply to one command.
type Result struct {
	OK      bool           `json:"ok"`
	Message string         `json:"message,omitempty"`
	Changed int            `json:"changed,omitempty"`
	Project *model.Project `json:"project,omitempty"`
}

// Snapshot is the observer view published on the bus and served over HTTP.
type Snapshot struct {
	Type          string           `json:"type"`
	Run           *model.Run       `json:"run"`
	RemoveRun     *model.Run       `json:"removeRun"`
	Projects      []*model.Project `json:"projects"`
	EngineRunning bool             `json:"engineRunning"`
}

// ProjectEvent is the payload of project.completed and project.blocked.
type ProjectEvent struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Success   int    `json:"success"`
	Target    int    `json:"target"`
	Message   string `json:"message,omitempty"`
}

// RunEvent is the payload of run.finished.
type RunEvent struct {
	Mode    model.Mode `json:"mode"`
	Total   int        `json:"total"`
	Success int        `json:"success"`
	Failed  int        `json:"failed"`
}
