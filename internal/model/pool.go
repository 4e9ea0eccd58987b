package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"linkrunner/internal/faults"
)

// DomainPools maps a pool name to its "site|username|secret" lines.
type DomainPools map[string][]string

func (p DomainPools) Names() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (p DomainPools) Clone() DomainPools {
	if p == nil {
		return nil
	}
	out := make(DomainPools, len(p))
	for k, v := range p {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Credentials authenticate against one target site.
type Credentials struct {
	SiteURL  string
	Username string
	Password string
}

// Resolver maps a target reference to credentials.
type Resolver interface {
	Resolve(target string) (Credentials, error)
}

var errIncompleteLine = errors.New("expected site|username|secret")

// ParseTargetLine splits a "site|username|secret" line.
func ParseTargetLine(line string) (Credentials, error) {
	parts := strings.Split(strings.TrimSpace(line), "|")
	if len(parts) < 3 {
		return Credentials{}, errIncompleteLine
	}
	c := Credentials{
		SiteURL:  strings.TrimSpace(parts[0]),
		Username: strings.TrimSpace(parts[1]),
		Password: strings.TrimSpace(strings.Join(parts[2:], "|")),
	}
	if c.SiteURL == "" || c.Username == "" || c.Password == "" {
		return Credentials{}, errIncompleteLine
	}
	return c, nil
}

// PoolResolver looks targets up by normalized host. Targets that already carry
// embedded credentials resolve without touching the pool.
type PoolResolver struct {
	name  string
	hosts map[string]Credentials
}

func NewPoolResolver(name string, lines []string) *PoolResolver {
	r := &PoolResolver{name: name, hosts: make(map[string]Credentials, len(lines))}
	for _, line := range lines {
		c, err := ParseTargetLine(line)
		if err != nil {
			continue
		}
		key := NormalizeHost(c.SiteURL)
		if key == "" {
			continue
		}
		if _, dup := r.hosts[key]; !dup {
			r.hosts[key] = c
		}
	}
	return r
}

func (r *PoolResolver) Resolve(target string) (Credentials, error) {
	if strings.Contains(target, "|") {
		c, err := ParseTargetLine(target)
		if err != nil {
			return Credentials{}, faults.Credential("resolve credentials", fmt.Errorf("%s: %w", NormalizeHost(target), err))
		}
		return c, nil
	}
	key := NormalizeHost(target)
	if r != nil {
		if c, ok := r.hosts[key]; ok {
			return c, nil
		}
	}
	pool := ""
	if r != nil {
		pool = r.name
	}
	if pool == "" {
		return Credentials{}, faults.Credential("resolve credentials", fmt.Errorf("no credentials for %s", key))
	}
	return Credentials{}, faults.Credential("resolve credentials", fmt.Errorf("no credentials for %s in pool %q", key, pool))
}

func (r *PoolResolver) Len() int {
	if r == nil {
		return 0
	}
	return len(r.hosts)
}
