package exportjob

import (
	"net/url"
	"strings"
	"time"

	"github.com/ValerySidorin/bulkfetch/pkg/fhir"
	"github.com/pkg/errors"
)

type Scope string

const (
	ScopeSystem  Scope = "system"
	ScopePatient Scope = "patient"
	ScopeGroup   Scope = "group"
)

// Request describes what to export. It is built once and never changed.
type Request struct {
	Scope                 Scope
	GroupID               string
	Types                 []string
	Since                 time.Time
	Elements              []string
	Patients              []string
	TypeFilter            string
	IncludeAssociatedData []string
	// Post sends a Parameters body instead of query parameters. A patient
	// list always uses POST.
	Post    bool
	Lenient bool
}

func (r Request) Validate() error {
	switch r.Scope {
	case ScopeSystem, ScopePatient:
	case ScopeGroup:
		if r.GroupID == "" {
			return errors.New("group export needs a group id")
		}
	default:
		return errors.Errorf("invalid export scope %q", r.Scope)
	}
	return nil
}

// Method is POST when a body is needed, GET otherwise.
func (r Request) Method() string {
	if r.Post || len(r.Patients) > 0 {
		return "POST"
	}
	return "GET"
}

// URL is the kick-off endpoint below base, without query parameters.
func (r Request) URL(base string) string {
	base = strings.TrimRight(base, "/")

	switch r.Scope {
	case ScopeSystem:
		return base + "/$export"
	case ScopeGroup:
		return base + "/Group/" + url.PathEscape(r.GroupID) + "/$export"
	}
	return base + "/Patient/$export"
}

func (r Request) since() string {
	if r.Since.IsZero() {
		return ""
	}
	return r.Since.Format(time.RFC3339)
}

// Query holds the GET kick-off parameters.
func (r Request) Query() url.Values {
	q := url.Values{}
	if s := r.since(); s != "" {
		q.Set("_since", s)
	}
	if len(r.Types) > 0 {
		q.Set("_type", strings.Join(r.Types, ","))
	}
	if len(r.Elements) > 0 {
		q.Set("_elements", strings.Join(r.Elements, ","))
	}
	if len(r.IncludeAssociatedData) > 0 {
		q.Set("includeAssociatedData", strings.Join(r.IncludeAssociatedData, ","))
	}
	if r.TypeFilter != "" {
		q.Set("_typeFilter", r.TypeFilter)
	}
	return q
}

// Parameters is the POST kick-off body.
func (r Request) Parameters() *fhir.Parameters {
	p := fhir.NewParameters()
	if s := r.since(); s != "" {
		p.AddInstant("_since", s)
	}
	for _, t := range r.Types {
		p.AddString("_type", t)
	}
	if len(r.Elements) > 0 {
		p.AddString("_elements", strings.Join(r.Elements, ","))
	}
	for _, id := range r.Patients {
		p.AddReference("patient", "Patient/"+id)
	}
	if r.TypeFilter != "" {
		p.AddString("_typeFilter", r.TypeFilter)
	}
	if len(r.IncludeAssociatedData) > 0 {
		p.AddString("includeAssociatedData", strings.Join(r.IncludeAssociatedData, ","))
	}
	return p
}

// Prefer is the Prefer header value for the kick-off request.
func (r Request) Prefer() string {
	if r.Lenient {
		return "respond-async, handling=lenient"
	}
	return "respond-async"
}

var sinceLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseSince accepts an RFC3339 instant, a local date-time or a date.
// Values without a zone are taken as UTC.
func ParseSince(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}

	for _, layout := range sinceLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, errors.Errorf("invalid _since value %q", s)
}
