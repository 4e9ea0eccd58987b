package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
)

const ProxyUntested = "untested"

// Proxy is one HTTP egress. It decodes from a string
// ("host:port", "user:pass@host:port", "host:port:user:pass", optionally
// "http://"-prefixed) or from an {ip, port, user, pass, status} object.
// It always encodes as the object.
type Proxy struct {
	IP     string `json:"ip"`
	Port   string `json:"port"`
	User   string `json:"user,omitempty"`
	Pass   string `json:"pass,omitempty"`
	Status string `json:"status,omitempty"`
}

func (p *Proxy) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := ParseProxy(s)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
	var raw struct {
		IP     string          `json:"ip"`
		Host   string          `json:"host"`
		Port   json.RawMessage `json:"port"`
		User   string          `json:"user"`
		Pass   string          `json:"pass"`
		Status string          `json:"status"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.IP = strings.TrimSpace(raw.IP)
	if p.IP == "" {
		p.IP = strings.TrimSpace(raw.Host)
	}
	p.Port = strings.Trim(strings.TrimSpace(string(raw.Port)), `"`)
	p.User = raw.User
	p.Pass = raw.Pass
	p.Status = raw.Status
	return nil
}

// ParseProxy parses the textual proxy forms.
func ParseProxy(s string) (Proxy, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimSuffix(s, "/")
	if s == "" {
		return Proxy{}, fmt.Errorf("empty proxy")
	}

	if at := strings.LastIndexByte(s, '@'); at >= 0 {
		cred, addr := s[:at], s[at+1:]
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return Proxy{}, fmt.Errorf("invalid proxy %q: %w", s, err)
		}
		user, pass, _ := strings.Cut(cred, ":")
		return Proxy{IP: host, Port: port, User: user, Pass: pass, Status: ProxyUntested}, nil
	}

	parts := strings.Split(s, ":")
	switch len(parts) {
	case 2:
		if parts[0] == "" || parts[1] == "" {
			break
		}
		return Proxy{IP: parts[0], Port: parts[1], Status: ProxyUntested}, nil
	case 4:
		if parts[0] == "" || parts[1] == "" {
			break
		}
		return Proxy{IP: parts[0], Port: parts[1], User: parts[2], Pass: parts[3], Status: ProxyUntested}, nil
	}
	return Proxy{}, fmt.Errorf("invalid proxy %q", s)
}

// ParseProxyLines parses one proxy per non-empty line and reports the lines it skipped.
func ParseProxyLines(text string) (out []Proxy, bad []string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p, err := ParseProxy(line)
		if err != nil {
			bad = append(bad, line)
			continue
		}
		out = append(out, p)
	}
	return out, bad
}

func (p Proxy) Addr() string { return net.JoinHostPort(p.IP, p.Port) }

// URL returns the proxy as an http:// URL usable with http.ProxyURL.
func (p Proxy) URL() *url.URL {
	u := &url.URL{Scheme: "http", Host: p.Addr()}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Pass)
	}
	return u
}

// String hides the password.
func (p Proxy) String() string {
	if p.User == "" {
		return p.Addr()
	}
	return p.User + ":***@" + p.Addr()
}

func (p Proxy) IsZero() bool { return p.IP == "" }
