package exportjob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestURL(t *testing.T) {
	for _, tc := range []struct {
		req  Request
		base string
		want string
	}{
		{Request{Scope: ScopeSystem}, "http://h/fhir", "http://h/fhir/$export"},
		{Request{Scope: ScopePatient}, "http://h/fhir//", "http://h/fhir/Patient/$export"},
		{Request{Scope: ScopeGroup, GroupID: "a b"}, "http://h/fhir/", "http://h/fhir/Group/a%20b/$export"},
	} {
		assert.Equal(t, tc.want, tc.req.URL(tc.base))
	}
}

func TestRequestMethod(t *testing.T) {
	assert.Equal(t, "GET", Request{}.Method())
	assert.Equal(t, "POST", Request{Post: true}.Method())
	assert.Equal(t, "POST", Request{Patients: []string{"1"}}.Method())
}

func TestRequestQuery(t *testing.T) {
	q := Request{
		Elements:              []string{"id", "meta"},
		IncludeAssociatedData: []string{"LatestProvenanceResources"},
	}.Query()

	assert.Equal(t, "id,meta", q.Get("_elements"))
	assert.Equal(t, "LatestProvenanceResources", q.Get("includeAssociatedData"))
	assert.False(t, q.Has("_since"))
	assert.False(t, q.Has("_type"))
}

func TestRequestParameters(t *testing.T) {
	since := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	p := Request{Since: since, Elements: []string{"id"}, TypeFilter: "Patient?active=true"}.Parameters()

	require.Len(t, p.Parameter, 3)
	assert.Equal(t, "_since", p.Parameter[0].Name)
	assert.Equal(t, "2021-03-04T05:06:07Z", p.Parameter[0].ValueInstant)
	assert.Equal(t, "_elements", p.Parameter[1].Name)
	assert.Equal(t, "id", p.Parameter[1].ValueString)
	assert.Equal(t, "_typeFilter", p.Parameter[2].Name)
}

func TestRequestValidate(t *testing.T) {
	assert.NoError(t, Request{Scope: ScopeSystem}.Validate())
	assert.NoError(t, Request{Scope: ScopeGroup, GroupID: "1"}.Validate())
	assert.Error(t, Request{Scope: ScopeGroup}.Validate())
	assert.Error(t, Request{Scope: "everything"}.Validate())
}

func TestParseSince(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want time.Time
		err  bool
	}{
		{in: ""},
		{in: "2020-01-02", want: time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)},
		{in: "2020-01-02T03:04", want: time.Date(2020, 1, 2, 3, 4, 0, 0, time.UTC)},
		{in: "2020-01-02T03:04:05", want: time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)},
		{in: "2020-01-02T03:04:05+02:00", want: time.Date(2020, 1, 2, 1, 4, 5, 0, time.UTC)},
		{in: "yesterday", err: true},
	} {
		got, err := ParseSince(tc.in)
		if tc.err {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.True(t, tc.want.Equal(got), tc.in)
	}
}

func TestParseProgress(t *testing.T) {
	for _, tc := range []struct {
		raw     string
		known   bool
		percent int
	}{
		{"45", true, 45},
		{"45% complete", true, 45},
		{" 12.5%", true, 12},
		{"0", true, 0},
		{"250", true, 100},
		{"99999999999999999999", true, 100},
		{"+99999999999999999999%", true, 100},
		{"-3", false, 0},
		{"-99999999999999999999", false, 0},
		{"almost", false, 0},
		{"", false, 0},
	} {
		p := parseProgress(tc.raw)
		assert.Equal(t, tc.known, p.Known, tc.raw)
		assert.Equal(t, tc.percent, p.Percent, tc.raw)
	}
}

func TestParseLinkHeader(t *testing.T) {
	assert.Equal(t,
		[]string{"http://a/1.ndjson", "http://a/2.ndjson"},
		ParseLinkHeader("<http://a/1.ndjson>;rel=meta,<http://a/2.ndjson>;rel=meta"))
	assert.Equal(t,
		[]string{"http://a/1.ndjson", "http://a/2.ndjson"},
		ParseLinkHeader(" < http://a/1.ndjson >; rel=meta ,  <http://a/2.ndjson>"))
	assert.Empty(t, ParseLinkHeader(""))
}
