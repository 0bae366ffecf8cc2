package attachment

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ValerySidorin/bulkfetch/pkg/auth"
	"github.com/ValerySidorin/bulkfetch/pkg/fhir"
	"github.com/ValerySidorin/bulkfetch/pkg/fhir/fhirtest"
	"github.com/ValerySidorin/bulkfetch/pkg/sink"
	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var uuidName = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-5[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\.[a-z]+$`)

func newServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/doc.pdf":
			if r.Header.Get("Authorization") != "Bearer secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte("%PDF-1.4"))
		case "/note.txt":
			_, _ = w.Write([]byte("note"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func documentReference(urls ...string) map[string]any {
	content := make([]any, 0, len(urls))
	for _, u := range urls {
		content = append(content, map[string]any{
			"attachment": map[string]any{"url": u, "contentType": "application/pdf"},
		})
	}
	return map[string]any{"resourceType": "DocumentReference", "id": "1", "content": content}
}

func session(token string) *auth.Session {
	return auth.NewSession(auth.NewStatic(token), false, log.NewNopLogger())
}

func TestFileName(t *testing.T) {
	a := FileName("https://ext/doc.pdf", "application/pdf")
	assert.Equal(t, a, FileName("https://ext/doc.pdf", "application/pdf"))
	assert.Regexp(t, uuidName, a)
	assert.True(t, strings.HasSuffix(a, ".pdf"))

	assert.NotEqual(t, a, FileName("https://ext/other.pdf", "application/pdf"))
	assert.True(t, strings.HasSuffix(FileName("https://ext/x", ""), ".txt"))
	assert.True(t, strings.HasSuffix(FileName("https://ext/x", "image/jpeg"), ".jpeg"))
	assert.True(t, strings.HasSuffix(FileName("https://ext/x", "video/mp4"), ".bin"))
}

func TestResolveDocumentReference(t *testing.T) {
	srv, _ := newServer(t)
	mem := sink.NewMemory()
	r := New(http.DefaultClient, mem, session("secret"), log.NewNopLogger())

	url := srv.URL + "/doc.pdf"
	out, err := r.Resolve(context.Background(), documentReference(url, "Binary/123", "urn:uuid:abc"))
	require.NoError(t, err)

	content := out.(map[string]any)["content"].([]any)
	name := content[0].(map[string]any)["attachment"].(map[string]any)["url"]
	assert.Equal(t, Dir+"/"+FileName(url, "application/pdf"), name)
	assert.Equal(t, "Binary/123", content[1].(map[string]any)["attachment"].(map[string]any)["url"])
	assert.Equal(t, "urn:uuid:abc", content[2].(map[string]any)["attachment"].(map[string]any)["url"])

	data, ok := mem.Get(name.(string))
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.4", string(data))

	again, err := r.Resolve(context.Background(), documentReference(url))
	require.NoError(t, err)
	assert.Equal(t, name, again.(map[string]any)["content"].([]any)[0].(map[string]any)["attachment"].(map[string]any)["url"])
}

func TestResolvePassThrough(t *testing.T) {
	srv, hits := newServer(t)
	r := New(http.DefaultClient, sink.Discard{}, nil, log.NewNopLogger())

	records := []any{
		map[string]any{"resourceType": "Patient", "id": "1", "photo": []any{map[string]any{"url": srv.URL + "/doc.pdf"}}},
		map[string]any{"resourceType": "DocumentReference", "id": "2"},
		[]any{"not", "a", "resource"},
		"text",
	}

	for _, rec := range records {
		out, err := r.Resolve(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, rec, out)
	}
	assert.Zero(t, hits.Load())
}

func TestResolveDiscardSinkStillDownloads(t *testing.T) {
	srv, hits := newServer(t)
	var stored int64
	r := New(http.DefaultClient, sink.Discard{}, nil, log.NewNopLogger(), WithObserver(func(n int64) { stored += n }))

	_, err := r.Resolve(context.Background(), documentReference(srv.URL+"/note.txt"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int64(4), stored)
}

func TestResolveFailure(t *testing.T) {
	srv, _ := newServer(t)
	mem := sink.NewMemory()
	r := New(http.DefaultClient, mem, session("wrong"), log.NewNopLogger())

	for path, code := range map[string]int{"/missing.pdf": http.StatusNotFound, "/doc.pdf": http.StatusUnauthorized} {
		_, err := r.Resolve(context.Background(), documentReference(srv.URL+path))

		var attErr *AttachmentError
		require.True(t, errors.As(err, &attErr), "got %v", err)
		assert.Equal(t, srv.URL+path, attErr.URL)

		var serverErr *fhir.ServerError
		require.True(t, errors.As(err, &serverErr), "got %v", err)
		assert.Equal(t, code, serverErr.Code)
	}
	assert.Empty(t, mem.Names())
}

func TestResolveRenewsExpiredToken(t *testing.T) {
	srv := fhirtest.NewServer(fhirtest.Config{
		Token:        "fresh",
		ExpiredToken: "stale",
		Attachments:  map[string][]byte{"scan.pdf": []byte("%PDF-1.7")},
	})
	defer srv.Close()

	provider := &rotatingProvider{tokens: []string{"stale", "fresh"}}
	mem := sink.NewMemory()
	r := New(http.DefaultClient, mem, auth.NewSession(provider, true, log.NewNopLogger()), log.NewNopLogger())

	url := srv.AttachmentURL("scan.pdf")
	_, err := r.Resolve(context.Background(), documentReference(url))
	require.NoError(t, err)

	reqs := srv.RequestsTo(http.MethodGet, "/attachments/")
	require.Len(t, reqs, 2)
	assert.Equal(t, "Bearer stale", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer fresh", reqs[1].Header.Get("Authorization"))

	data, ok := mem.Get(Dir + "/" + FileName(url, "application/pdf"))
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.7", string(data))
}

func TestResolveCleansSpoolDir(t *testing.T) {
	srv, _ := newServer(t)
	spool := t.TempDir()
	mem := sink.NewMemory()
	r := New(http.DefaultClient, mem, session("secret"), log.NewNopLogger(), WithTempDir(spool))

	_, err := r.Resolve(context.Background(), documentReference(srv.URL+"/doc.pdf"))
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), documentReference(srv.URL+"/missing.pdf"))
	require.Error(t, err)

	entries, err := os.ReadDir(spool)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Len(t, mem.Names(), 1)
}

type rotatingProvider struct {
	tokens []string
}

func (p *rotatingProvider) next() (string, error) {
	t := p.tokens[0]
	if len(p.tokens) > 1 {
		p.tokens = p.tokens[1:]
	}
	return t, nil
}

func (p *rotatingProvider) Token(context.Context) (string, error)     { return p.next() }
func (p *rotatingProvider) Refresh(context.Context) (string, error)   { return p.next() }
func (p *rotatingProvider) Authorize(context.Context) (string, error) { return p.next() }

type sliceReader struct {
	records []any
}

func (s *sliceReader) Read(context.Context) (any, error) {
	if len(s.records) == 0 {
		return nil, io.EOF
	}
	r := s.records[0]
	s.records = s.records[1:]
	return r, nil
}

func TestStage(t *testing.T) {
	srv, _ := newServer(t)
	r := New(http.DefaultClient, sink.Discard{}, nil, log.NewNopLogger())

	s := r.Stage(&sliceReader{records: []any{
		map[string]any{"resourceType": "Patient", "id": "1"},
		documentReference(srv.URL + "/note.txt"),
		documentReference(srv.URL + "/missing.pdf"),
		map[string]any{"resourceType": "Patient", "id": "2"},
	}})

	first, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", first.(map[string]any)["id"])

	second, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Contains(t, second.(map[string]any)["content"].([]any)[0].(map[string]any)["attachment"].(map[string]any)["url"], Dir+"/")

	_, err = s.Read(context.Background())
	var attErr *AttachmentError
	assert.True(t, errors.As(err, &attErr))
}
