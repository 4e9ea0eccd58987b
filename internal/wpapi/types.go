package wpapi

import (
	"encoding/json"
	"time"
)

// InactiveSidebar holds widgets that are not rendered anywhere.
const InactiveSidebar = "wp_inactive_widgets"

const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Options configures every client a Factory builds.
type Options struct {
	Timeout   time.Duration
	UserAgent string

	// InsecureTLS skips certificate verification on target sites.
	InsecureTLS bool

	// RequestsPerSecond paces calls per target host. 0 disables pacing.
	RequestsPerSecond float64
	Burst             int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	return o
}

// Sidebar is a widget container.
type Sidebar struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Status  string   `json:"status,omitempty"`
	Widgets []string `json:"widgets"`

	// HasWidgets is false when the payload carried no widgets array at all.
	HasWidgets bool `json:"-"`
}

func (s *Sidebar) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID      string            `json:"id"`
		Name    string            `json:"name"`
		Status  string            `json:"status"`
		Widgets *[]json.RawMessage `json:"widgets"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.ID, s.Name, s.Status = raw.ID, raw.Name, raw.Status
	s.Widgets, s.HasWidgets = nil, raw.Widgets != nil
	if raw.Widgets == nil {
		return nil
	}
	s.Widgets = make([]string, 0, len(*raw.Widgets))
	for _, w := range *raw.Widgets {
		var id string
		if err := json.Unmarshal(w, &id); err != nil {
			// Block-based widgets may be objects; keep only string ids.
			continue
		}
		s.Widgets = append(s.Widgets, id)
	}
	return nil
}

// Widget is a single widget in edit context.
type Widget struct {
	ID       string `json:"id"`
	IDBase   string `json:"id_base,omitempty"`
	Sidebar  string `json:"sidebar,omitempty"`
	Instance struct {
		Raw struct {
			Text    string `json:"text,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"raw"`
	} `json:"instance"`
}

// HTML returns the widget's editable markup.
func (w Widget) HTML() string {
	if w.Instance.Raw.Text != "" {
		return w.Instance.Raw.Text
	}
	return w.Instance.Raw.Content
}

type rawContent struct {
	Content string `json:"content"`
	Text    string `json:"text,omitempty"`
}

type widgetInstance struct {
	Raw rawContent `json:"raw"`
}

type createWidgetRequest struct {
	IDBase   string         `json:"id_base"`
	Sidebar  string         `json:"sidebar,omitempty"`
	Instance widgetInstance `json:"instance"`
}

type updateWidgetRequest struct {
	Instance widgetInstance `json:"instance"`
}

type sidebarWidgetsRequest struct {
	Widgets []string `json:"widgets"`
}

// remoteError is the WordPress REST error envelope.
type remoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
