package attachment

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/ValerySidorin/bulkfetch/pkg/auth"
	"github.com/ValerySidorin/bulkfetch/pkg/fhir"
	"github.com/ValerySidorin/bulkfetch/pkg/ndjson"
	"github.com/ValerySidorin/bulkfetch/pkg/sink"
	util_http "github.com/ValerySidorin/bulkfetch/pkg/util/http"
	"github.com/cavaliergopher/grab/v3"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	Dir = "attachments"

	defaultContentType = "text/plain"
	progressInterval   = time.Second
)

var absoluteURL = regexp.MustCompile(`^https?://.+`)

var contentTypeToExtension = map[string]string{
	"image/jpeg":      "jpeg",
	"text/plain":      "txt",
	"application/pdf": "pdf",
}

// AttachmentError is a failed attachment download.
type AttachmentError struct {
	URL string
	Err error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("download attachment %s: %v", e.URL, e.Err)
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}

type Option func(*Resolver)

// WithObserver is called after every stored attachment.
func WithObserver(f func(bytes int64)) Option {
	return func(r *Resolver) {
		r.observe = f
	}
}

// WithTempDir sets where attachments are spooled before they reach the sink.
// Empty means the system temporary directory.
func WithTempDir(dir string) Option {
	return func(r *Resolver) {
		r.tempDir = dir
	}
}

// Resolver downloads the external attachments of DocumentReference records
// and points the records at the local copies.
type Resolver struct {
	client  *grab.Client
	sink    sink.Sink
	session *auth.Session
	log     log.Logger
	observe func(bytes int64)
	tempDir string
}

func New(httpClient grab.HTTPClient, s sink.Sink, session *auth.Session, logger log.Logger, opts ...Option) *Resolver {
	c := grab.NewClient()
	if httpClient != nil {
		c.HTTPClient = httpClient
	}
	c.UserAgent = "bulkfetch"

	r := &Resolver{
		client:  c,
		sink:    s,
		session: session,
		log:     log.With(logger, "component", "attachment"),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// FileName is the local name of an attachment: a UUID derived from the URL,
// so the same URL always maps to the same file.
func FileName(url, contentType string) string {
	if contentType == "" {
		contentType = defaultContentType
	}
	ext, ok := contentTypeToExtension[contentType]
	if !ok {
		ext = "bin"
	}

	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)).String() + "." + ext
}

// Resolve rewrites every absolute attachment URL of a DocumentReference.
// Other records are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, record any) (any, error) {
	resource, ok := record.(map[string]any)
	if !ok || resource["resourceType"] != "DocumentReference" {
		return record, nil
	}

	content, _ := resource["content"].([]any)
	for _, c := range content {
		item, _ := c.(map[string]any)
		att, _ := item["attachment"].(map[string]any)
		if att == nil {
			continue
		}

		url, _ := att["url"].(string)
		if !absoluteURL.MatchString(url) {
			continue
		}
		contentType, _ := att["contentType"].(string)

		name := Dir + "/" + FileName(url, contentType)
		if err := r.download(ctx, url, name); err != nil {
			return nil, &AttachmentError{URL: url, Err: err}
		}

		att["url"] = name
	}

	return resource, nil
}

func (r *Resolver) download(ctx context.Context, url, name string) error {
	var stored int64

	op := func(token string) error {
		n, err := r.fetch(ctx, url, name, token)
		stored = n
		return err
	}

	var err error
	if r.session != nil {
		err = r.session.Do(ctx, op)
	} else {
		err = op("")
	}
	if err != nil {
		return err
	}

	if r.observe != nil {
		r.observe(stored)
	}

	level.Debug(r.log).Log("msg", "stored attachment", "url", url, "name", name, "bytes", stored)
	return nil
}

// fetch lets grab spool the attachment to a temporary file and then streams
// that file into the sink. Every attempt gets its own spool directory.
func (r *Resolver) fetch(ctx context.Context, url, name, token string) (int64, error) {
	dir, err := os.MkdirTemp(r.tempDir, "attachment-")
	if err != nil {
		return 0, errors.Wrap(err, "create spool dir")
	}
	defer os.RemoveAll(dir)

	req, err := grab.NewRequest(filepath.Join(dir, "body"), url)
	if err != nil {
		return 0, errors.Wrap(err, "create attachment request")
	}
	req = req.WithContext(ctx)
	req.NoResume = true
	req.IgnoreRemoteTime = true
	req.IgnoreBadStatusCodes = true
	req.BeforeCopy = func(resp *grab.Response) error {
		if !util_http.IsSuccessStatusCode(resp.HTTPResponse) {
			return fhir.NewServerError(resp.HTTPResponse)
		}
		return nil
	}
	if token != "" {
		req.HTTPRequest.Header.Set("Authorization", "Bearer "+token)
	}

	resp := r.client.Do(req)
	r.wait(resp, url)
	if err := resp.Err(); err != nil {
		return 0, err
	}

	body, err := resp.Open()
	if err != nil {
		return 0, errors.Wrap(err, "open spooled attachment")
	}
	defer body.Close()

	if err := r.store(ctx, name, body); err != nil {
		return 0, err
	}
	return resp.BytesComplete(), nil
}

func (r *Resolver) wait(resp *grab.Response, url string) {
	t := time.NewTicker(progressInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			level.Debug(r.log).Log("msg", fmt.Sprintf("transferred %d / %d bytes (%.2f%%)",
				resp.BytesComplete(),
				resp.Size(),
				100*resp.Progress()), "url", url)
		case <-resp.Done:
			return
		}
	}
}

func (r *Resolver) store(ctx context.Context, name string, body io.Reader) error {
	w, err := r.sink.Open(ctx, name)
	if err != nil {
		return err
	}
	if w == nil {
		return nil
	}

	if _, err := io.Copy(w, body); err != nil {
		_ = sink.Abort(w, err)
		return errors.Wrap(err, "write attachment")
	}

	return w.Close()
}

// Stage chains the resolver after src.
func (r *Resolver) Stage(src ndjson.RecordReader) ndjson.RecordReader {
	return &stage{src: src, r: r}
}

type stage struct {
	src ndjson.RecordReader
	r   *Resolver
}

func (s *stage) Read(ctx context.Context) (any, error) {
	record, err := s.src.Read(ctx)
	if err != nil {
		return nil, err
	}

	return s.r.Resolve(ctx, record)
}
