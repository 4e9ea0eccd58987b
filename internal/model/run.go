package model

// Run is a persisted batch of ad-hoc edit or remove records.
type Run struct {
	Rows      []*Record `json:"rows"`
	Running   bool      `json:"running"`
	Mode      Mode      `json:"mode"`
	DomainSet string    `json:"domainSet,omitempty"`
	Index     int       `json:"index"`
}

func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Rows = cloneRecords(r.Rows)
	return &cp
}

// CheckStatuses rejects rows whose status is not one the engine knows.
func (r *Run) CheckStatuses() error {
	if r == nil {
		return nil
	}
	return checkRecords(r.Rows)
}

func (r *Run) HasStatus(st Status) bool {
	if r == nil {
		return false
	}
	for _, row := range r.Rows {
		if row != nil && row.Status == st {
			return true
		}
	}
	return false
}

// RecoverAfterCrash corrects a run loaded from disk after an ungraceful
// shutdown: in-flight rows become Stopped, Success rows keep their status and
// only get an empty message filled in. It reports whether anything changed.
func (r *Run) RecoverAfterCrash() bool {
	if r == nil {
		return false
	}
	changed := r.Running
	r.Running = false
	for _, row := range r.Rows {
		if row == nil {
			continue
		}
		switch row.Status {
		case StatusSuccess:
			if row.Message == "" {
				row.Message = MsgDone
				changed = true
			}
		case StatusRunning:
			row.Status = StatusStopped
			row.Message = MsgAppClosed
			changed = true
		case StatusStopped:
			if row.Message == "" {
				row.Message = "Stopped"
				changed = true
			}
		}
	}
	return changed
}
