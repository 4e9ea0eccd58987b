package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"linkrunner/internal/faults"
	"linkrunner/internal/model"
	logx "linkrunner/pkg/logx"
)

// Store is the typed document layer over a driver.
type Store struct {
	b   backend
	log logx.Logger
}

func (s *Store) Close() error { return s.b.close() }

// decode parses one JSON document. Strict documents reject unknown fields;
// every document rejects trailing data.
func decode(body []byte, strict bool, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after document")
	}
	return nil
}

// decodeChecked decodes a document and runs check on the result.
func decodeChecked[T any](body []byte, strict bool, check func(T) error) (T, error) {
	var v T
	if err := decode(body, strict, &v); err != nil {
		return v, err
	}
	if check != nil {
		if err := check(v); err != nil {
			var zero T
			return zero, err
		}
	}
	return v, nil
}

// loadDoc reads and decodes a document. A broken body, or one check
// rejects, is quarantined and the backup is decoded and restored in its
// place; with no usable backup the load fails with a config error.
func loadDoc[T any](ctx context.Context, s *Store, name string, strict bool, check func(T) error) (T, bool, error) {
	var v T
	body, ok, err := s.b.get(ctx, name)
	if err != nil || !ok {
		return v, false, err
	}
	v, derr := decodeChecked(body, strict, check)
	if derr == nil {
		return v, true, nil
	}

	where, qerr := s.b.quarantine(ctx, name)
	if qerr != nil {
		s.log.Error("quarantine failed", logx.String("doc", name), logx.Err(qerr))
	} else {
		s.log.Warn("document quarantined", logx.String("doc", name), logx.String("to", where), logx.Err(derr))
	}

	bak, ok, err := s.b.getBackup(ctx, name)
	if err == nil && ok {
		if restored, err := decodeChecked(bak, strict, check); err == nil {
			if err := s.b.put(ctx, name, bak); err != nil {
				s.log.Error("restore from backup failed", logx.String("doc", name), logx.Err(err))
			} else {
				s.log.Warn("document restored from backup", logx.String("doc", name))
			}
			return restored, true, nil
		}
	}
	var zero T
	return zero, false, faults.Config("load "+name, derr)
}

func (s *Store) save(ctx context.Context, name string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return s.b.put(ctx, name, body)
}

// LoadSettings returns the stored settings, or the defaults when none exist.
func (s *Store) LoadSettings(ctx context.Context) (model.Settings, error) {
	st, ok, err := loadDoc[model.Settings](ctx, s, DocSettings, false, nil)
	if err != nil {
		return model.Settings{}, err
	}
	if !ok {
		return model.DefaultSettings(), nil
	}
	if st.Proxies == nil {
		st.Proxies = []model.Proxy{}
	}
	return st, nil
}

func (s *Store) SaveSettings(ctx context.Context, st model.Settings) error {
	if st.Proxies == nil {
		st.Proxies = []model.Proxy{}
	}
	return s.save(ctx, DocSettings, st)
}

func (s *Store) LoadPools(ctx context.Context) (model.DomainPools, error) {
	p, ok, err := loadDoc[model.DomainPools](ctx, s, DocDomains, false, nil)
	if err != nil {
		return nil, err
	}
	if !ok || p == nil {
		return model.DomainPools{}, nil
	}
	return p, nil
}

func (s *Store) SavePools(ctx context.Context, p model.DomainPools) error {
	if p == nil {
		p = model.DomainPools{}
	}
	return s.save(ctx, DocDomains, p)
}

func (s *Store) LoadProjects(ctx context.Context) ([]*model.Project, error) {
	ps, _, err := loadDoc(ctx, s, DocProjects, true, checkProjects)
	if err != nil {
		return nil, err
	}
	out := ps[:0]
	for _, p := range ps {
		if p != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func checkProjects(ps []*model.Project) error {
	for _, p := range ps {
		if err := p.CheckStatuses(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SaveProjects(ctx context.Context, ps []*model.Project) error {
	if ps == nil {
		ps = []*model.Project{}
	}
	return s.save(ctx, DocProjects, ps)
}

func runDoc(mode model.Mode) (string, error) {
	switch mode {
	case model.ModeEdit:
		return DocEditRun, nil
	case model.ModeRemove:
		return DocRemoveRun, nil
	default:
		return "", faults.Configf("unknown run mode %q", mode)
	}
}

// LoadRun returns (nil, nil) when no run of that mode is stored.
func (s *Store) LoadRun(ctx context.Context, mode model.Mode) (*model.Run, error) {
	name, err := runDoc(mode)
	if err != nil {
		return nil, err
	}
	run, ok, err := loadDoc(ctx, s, name, true, (*model.Run).CheckStatuses)
	if err != nil || !ok || run == nil {
		return nil, err
	}
	if run.Mode == "" {
		run.Mode = mode
	}
	return run, nil
}

func (s *Store) SaveRun(ctx context.Context, run *model.Run) error {
	if run == nil {
		return errors.New("save run: nil run")
	}
	name, err := runDoc(run.Mode)
	if err != nil {
		return err
	}
	return s.save(ctx, name, run)
}

func (s *Store) ClearRun(ctx context.Context, mode model.Mode) error {
	name, err := runDoc(mode)
	if err != nil {
		return err
	}
	return s.b.remove(ctx, name)
}

// RecoveryReport lists what Recover corrected.
type RecoveryReport struct {
	Runs     []model.Mode `json:"runs"`
	Projects int          `json:"projects"`
}

// Recover applies crash recovery to the stored runs and projects and
// re-saves whatever changed.
func (s *Store) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	for _, mode := range []model.Mode{model.ModeEdit, model.ModeRemove} {
		run, err := s.LoadRun(ctx, mode)
		if err != nil {
			return rep, err
		}
		if run == nil || !run.RecoverAfterCrash() {
			continue
		}
		if err := s.SaveRun(ctx, run); err != nil {
			return rep, err
		}
		rep.Runs = append(rep.Runs, mode)
	}

	ps, err := s.LoadProjects(ctx)
	if err != nil {
		return rep, err
	}
	for _, p := range ps {
		if p.RecoverAfterCrash() {
			rep.Projects++
		}
	}
	if rep.Projects > 0 {
		if err := s.SaveProjects(ctx, ps); err != nil {
			return rep, err
		}
	}
	return rep, nil
}
