package model

// Record is one unit of scheduled work against one target.
//
// Provision and remove records use Domain/URL/Keyword. Edit records use the
// Old*/New* pairs; an empty New* value keeps the old one.
type Record struct {
	ID string `json:"rowId,omitempty"`

	Domain  string `json:"domain,omitempty"`
	URL     string `json:"url,omitempty"`
	Keyword string `json:"keyword,omitempty"`

	OldDomain  string `json:"oldDomain,omitempty"`
	NewDomain  string `json:"newDomain,omitempty"`
	OldURL     string `json:"oldUrl,omitempty"`
	NewURL     string `json:"newUrl,omitempty"`
	OldKeyword string `json:"oldKeyword,omitempty"`
	NewKeyword string `json:"newKeyword,omitempty"`

	DomainSet string `json:"domainSetName,omitempty"`
	SetIndex  *int   `json:"setIndex,omitempty"`
	Role      Role   `json:"role,omitempty"`

	// ReplacedBy is set on a Failed campaign record once a promoted extra
	// has taken over its content.
	ReplacedBy string `json:"replacedBy,omitempty"`

	Status  Status `json:"status"`
	Retries int    `json:"retries"`
	Message string `json:"message"`
}

// Target returns the reference the record executes against: the old target
// for edits, the single target otherwise.
func (r *Record) Target() string {
	if r.OldDomain != "" {
		return r.OldDomain
	}
	return r.Domain
}

// TargetKey is the normalized host the record executes against. Safe to log:
// credential suffixes are stripped.
func (r *Record) TargetKey() string { return NormalizeHost(r.Target()) }

// TargetKeys lists every normalized host the record writes to. An edit that
// moves a link touches both the old and the new target.
func (r *Record) TargetKeys() []string {
	var keys []string
	for _, k := range []string{r.TargetKey(), NormalizeHost(r.FinalDomain())} {
		if k != "" && (len(keys) == 0 || keys[0] != k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// FinalURL and FinalKeyword return the content an edit writes.
func (r *Record) FinalURL() string {
	if r.NewURL != "" {
		return r.NewURL
	}
	return r.OldURL
}

func (r *Record) FinalKeyword() string {
	if r.NewKeyword != "" {
		return r.NewKeyword
	}
	return r.OldKeyword
}

// FinalDomain is the target an edit ends up on.
func (r *Record) FinalDomain() string {
	if r.NewDomain != "" {
		return r.NewDomain
	}
	return r.OldDomain
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.SetIndex != nil {
		v := *r.SetIndex
		cp.SetIndex = &v
	}
	return &cp
}

// CountStatus counts records in the given status.
func CountStatus(rs []*Record, st Status) int {
	n := 0
	for _, r := range rs {
		if r != nil && r.Status == st {
			n++
		}
	}
	return n
}

func cloneRecords(rs []*Record) []*Record {
	if rs == nil {
		return nil
	}
	out := make([]*Record, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Clone())
	}
	return out
}
