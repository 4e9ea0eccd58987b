package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"linkrunner/internal/faults"
)

// Settings is the operator-editable execution policy, reloaded every loop iteration.
type Settings struct {
	Execution Execution `json:"execution"`
	Proxies   []Proxy   `json:"proxies"`
}

// Execution holds the concurrency, pacing and retry knobs.
type Execution struct {
	ProjectConcurrency int     `json:"projectConcurrency"`
	TaskConcurrency    int     `json:"taskConcurrency"`
	DelaySeconds       float64 `json:"delaySeconds"`
	MaxRetries         int     `json:"maxRetries"`
}

func DefaultSettings() Settings {
	return Settings{
		Execution: Execution{ProjectConcurrency: 1, TaskConcurrency: 1},
		Proxies:   []Proxy{},
	}
}

// UnmarshalJSON accepts the current key names and the legacy
// projectThreads/domainThreads names. Numbers may arrive as strings.
func (e *Execution) UnmarshalJSON(b []byte) error {
	var raw struct {
		ProjectConcurrency *flexFloat `json:"projectConcurrency"`
		TaskConcurrency    *flexFloat `json:"taskConcurrency"`
		ProjectThreads     *flexFloat `json:"projectThreads"`
		DomainThreads      *flexFloat `json:"domainThreads"`
		DelaySeconds       *flexFloat `json:"delaySeconds"`
		MaxRetries         *flexFloat `json:"maxRetries"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	pick := func(a, b *flexFloat) *flexFloat {
		if a != nil {
			return a
		}
		return b
	}
	var err error
	if e.ProjectConcurrency, err = pick(raw.ProjectConcurrency, raw.ProjectThreads).integer("projectConcurrency"); err != nil {
		return err
	}
	if e.TaskConcurrency, err = pick(raw.TaskConcurrency, raw.DomainThreads).integer("taskConcurrency"); err != nil {
		return err
	}
	if e.MaxRetries, err = raw.MaxRetries.integer("maxRetries"); err != nil {
		return err
	}
	e.DelaySeconds = raw.DelaySeconds.float()
	return nil
}

// Validate rejects settings the loop cannot run with.
func (s Settings) Validate() error {
	x := s.Execution
	if x.ProjectConcurrency < 1 {
		return faults.Configf("invalid projectConcurrency %d: must be >= 1", x.ProjectConcurrency)
	}
	if x.TaskConcurrency < 1 {
		return faults.Configf("invalid taskConcurrency %d: must be >= 1", x.TaskConcurrency)
	}
	if x.DelaySeconds < 0 || math.IsNaN(x.DelaySeconds) || math.IsInf(x.DelaySeconds, 0) {
		return faults.Configf("invalid delaySeconds %v: must be >= 0", x.DelaySeconds)
	}
	if x.MaxRetries < 0 {
		return faults.Configf("invalid maxRetries %d: must be >= 0", x.MaxRetries)
	}
	return nil
}

// Delay is the pause between batches.
func (s Settings) Delay() time.Duration {
	return time.Duration(s.Execution.DelaySeconds * float64(time.Second))
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", s)
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

func (f *flexFloat) float() float64 {
	if f == nil {
		return 0
	}
	return float64(*f)
}

func (f *flexFloat) integer(field string) (int, error) {
	v := f.float()
	if v != math.Trunc(v) {
		return 0, faults.Configf("invalid %s %v: must be an integer", field, v)
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, faults.Configf("invalid %s %v: out of range", field, v)
	}
	return int(v), nil
}
