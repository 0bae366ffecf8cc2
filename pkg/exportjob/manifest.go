package exportjob

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/ValerySidorin/bulkfetch/pkg/fhir"
	"github.com/ValerySidorin/bulkfetch/pkg/tracker"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const maxManifestSize = 32 << 20

var (
	linkSeparator = regexp.MustCompile(`\s*,\s*`)
	linkPrefix    = regexp.MustCompile(`^\s*<\s*`)
	linkSuffix    = regexp.MustCompile(`\s*>.*$`)
)

// parseManifest prefers the JSON body and falls back to the Link header.
func parseManifest(resp *http.Response) ([]tracker.Entry, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}

	var m fhir.Manifest
	if len(body) > 0 && json.Unmarshal(body, &m) == nil && m.Output != nil {
		return manifestEntries(m), nil
	}

	urls := ParseLinkHeader(strings.Join(resp.Header.Values("Link"), ","))
	return lo.Map(urls, func(u string, _ int) tracker.Entry {
		return tracker.Entry{URL: u, Kind: tracker.KindOutput}
	}), nil
}

func manifestEntries(m fhir.Manifest) []tracker.Entry {
	entries := make([]tracker.Entry, 0, len(m.Output)+len(m.Deleted)+len(m.Error))
	add := func(files []fhir.OutputFile, kind tracker.Kind) {
		for _, f := range files {
			if f.URL == "" {
				continue
			}
			entries = append(entries, tracker.Entry{URL: f.URL, Type: f.Type, Count: f.Count, Kind: kind})
		}
	}

	add(m.Output, tracker.KindOutput)
	add(m.Deleted, tracker.KindDeleted)
	add(m.Error, tracker.KindError)
	return entries
}

// ParseLinkHeader extracts the URLs of a Link header such as
// "<http://a/1.ndjson>;rel=meta, <http://a/2.ndjson>;rel=meta".
func ParseLinkHeader(header string) []string {
	return lo.FilterMap(linkSeparator.Split(header, -1), func(link string, _ int) (string, bool) {
		u := linkSuffix.ReplaceAllString(linkPrefix.ReplaceAllString(link, ""), "")
		return u, u != ""
	})
}
