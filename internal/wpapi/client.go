// Package wpapi is a minimal WordPress REST client for the widget and
// sidebar endpoints. Every failure comes back as a *faults.Error.
package wpapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"linkrunner/internal/faults"
	"linkrunner/internal/model"
	logx "linkrunner/pkg/logx"
)

const maxBody = 4 << 20

var (
	reAdminSuffix = regexp.MustCompile(`(?i)/(wp-admin|admin).*$`)

	errMalformed = errors.New("malformed response body")
)

// Factory builds per-target clients. Transports are shared per egress so
// connections are reused across records that go through the same proxy.
type Factory struct {
	log logx.Logger

	mu         sync.Mutex
	opts       Options
	transports map[string]*http.Transport
	limiters   map[string]*rate.Limiter
}

func NewFactory(opts Options, log logx.Logger) *Factory {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Factory{
		log:        log.With(logx.String("comp", "wpapi")),
		transports: map[string]*http.Transport{},
		limiters:   map[string]*rate.Limiter{},
	}
	f.Apply(opts)
	return f
}

// Apply replaces the options. Existing transports are closed and rebuilt lazily.
func (f *Factory) Apply(opts Options) {
	opts = opts.withDefaults()
	f.mu.Lock()
	defer f.mu.Unlock()
	if opts.InsecureTLS && !f.opts.InsecureTLS {
		f.log.Warn("TLS certificate verification is disabled for target sites")
	}
	f.opts = opts
	for k, tr := range f.transports {
		tr.CloseIdleConnections()
		delete(f.transports, k)
	}
	f.limiters = map[string]*rate.Limiter{}
}

func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, tr := range f.transports {
		tr.CloseIdleConnections()
		delete(f.transports, k)
	}
}

// Client returns a client bound to one site, its credentials and an egress.
// A zero proxy means a direct connection.
func (f *Factory) Client(creds model.Credentials, proxy model.Proxy) (*Client, error) {
	base, err := BaseURL(creds.SiteURL)
	if err != nil {
		return nil, faults.Credential("build client", err)
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, faults.Credential("build client", fmt.Errorf("missing username or secret for %s", base.Host))
	}

	f.mu.Lock()
	opts := f.opts
	tr := f.transportLocked(proxy)
	lim := f.limiterLocked(model.NormalizeHost(base.Host))
	f.mu.Unlock()

	return &Client{
		base:    base,
		user:    creds.Username,
		pass:    creds.Password,
		ua:      opts.UserAgent,
		limiter: lim,
		http:    &http.Client{Timeout: opts.Timeout, Transport: tr},
	}, nil
}

func (f *Factory) transportLocked(proxy model.Proxy) *http.Transport {
	key := ""
	if !proxy.IsZero() {
		key = proxy.URL().String()
	}
	if tr, ok := f.transports[key]; ok {
		return tr
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if f.opts.InsecureTLS {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator-accepted
	}
	if proxy.IsZero() {
		tr.Proxy = nil
	} else {
		tr.Proxy = http.ProxyURL(proxy.URL())
	}
	f.transports[key] = tr
	return tr
}

func (f *Factory) limiterLocked(host string) *rate.Limiter {
	if f.opts.RequestsPerSecond <= 0 {
		return nil
	}
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(f.opts.RequestsPerSecond), f.opts.Burst)
	f.limiters[host] = lim
	return lim
}

// BaseURL turns a site reference into the REST root: admin paths and trailing
// slashes are dropped and https is assumed when no scheme is given.
func BaseURL(site string) (*url.URL, error) {
	s := strings.TrimSpace(site)
	if i := strings.IndexByte(s, '|'); i >= 0 {
		s = s[:i]
	}
	scheme := "https://"
	if l := strings.ToLower(s); strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") {
		i := strings.Index(s, "://") + 3
		scheme, s = s[:i], s[i:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i] + reAdminSuffix.ReplaceAllString(s[i:], "")
	}
	s = strings.TrimRight(s, "/")
	if s == "" {
		return nil, errors.New("empty site url")
	}
	u, err := url.Parse(scheme + s)
	if err != nil {
		return nil, fmt.Errorf("invalid site url %q: %w", site, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid site url %q", site)
	}
	return u, nil
}

// Client talks to a single site.
type Client struct {
	base    *url.URL
	user    string
	pass    string
	ua      string
	limiter *rate.Limiter
	http    *http.Client
}

func (c *Client) Host() string { return c.base.Host }

func (c *Client) ListSidebars(ctx context.Context) ([]Sidebar, error) {
	var out []Sidebar
	if err := c.do(ctx, "list sidebars", http.MethodGet, "/wp-json/wp/v2/sidebars", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetWidget(ctx context.Context, id string) (Widget, error) {
	var w Widget
	q := url.Values{"context": {"edit"}}
	err := c.do(ctx, "get widget", http.MethodGet, "/wp-json/wp/v2/widgets/"+url.PathEscape(id), q, nil, &w)
	return w, err
}

// CreateWidget creates a custom_html widget and returns its id.
func (c *Client) CreateWidget(ctx context.Context, html string) (string, error) {
	req := createWidgetRequest{IDBase: "custom_html", Instance: widgetInstance{Raw: rawContent{Content: html}}}
	var w Widget
	if err := c.do(ctx, "create widget", http.MethodPost, "/wp-json/wp/v2/widgets", nil, req, &w); err != nil {
		return "", err
	}
	if w.ID == "" {
		return "", faults.Remote("create widget", http.StatusOK, errors.New("response has no widget id"))
	}
	return w.ID, nil
}

// UpdateWidget rewrites a widget's markup in place.
func (c *Client) UpdateWidget(ctx context.Context, id, html string) error {
	req := updateWidgetRequest{Instance: widgetInstance{Raw: rawContent{Content: html, Text: html}}}
	return c.do(ctx, "update widget", http.MethodPost, "/wp-json/wp/v2/widgets/"+url.PathEscape(id), nil, req, nil)
}

// SetSidebarWidgets replaces a sidebar's ordered widget list.
func (c *Client) SetSidebarWidgets(ctx context.Context, sidebarID string, widgets []string) error {
	if widgets == nil {
		widgets = []string{}
	}
	return c.do(ctx, "assign sidebar", http.MethodPost, "/wp-json/wp/v2/sidebars/"+url.PathEscape(sidebarID), nil,
		sidebarWidgetsRequest{Widgets: widgets}, nil)
}

// DeleteWidget removes a widget permanently.
func (c *Client) DeleteWidget(ctx context.Context, id string) error {
	q := url.Values{"force": {"true"}}
	return c.do(ctx, "delete widget", http.MethodDelete, "/wp-json/wp/v2/widgets/"+url.PathEscape(id), q, nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, q url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return faults.Transport(op, err)
		}
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return faults.NoRetry(fmt.Errorf("%s: encode request: %w", op, err))
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return faults.Transport(op, err)
	}
	req.SetBasicAuth(c.user, c.pass)
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return faults.Transport(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return faults.Transport(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return faults.Remote(op, resp.StatusCode, remoteMessage(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return faults.Remote(op, resp.StatusCode, errMalformed)
	}
	return nil
}

func remoteMessage(data []byte) error {
	var re remoteError
	if err := json.Unmarshal(data, &re); err == nil && (re.Message != "" || re.Code != "") {
		if re.Code == "" {
			return errors.New(re.Message)
		}
		return fmt.Errorf("%s: %s", re.Code, re.Message)
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	if s == "" {
		return nil
	}
	return errors.New(s)
}
