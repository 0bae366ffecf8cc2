package fetcher

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/ValerySidorin/bulkfetch/pkg/attachment"
	"github.com/ValerySidorin/bulkfetch/pkg/auth"
	"github.com/ValerySidorin/bulkfetch/pkg/fhir"
	"github.com/ValerySidorin/bulkfetch/pkg/ndjson"
	"github.com/ValerySidorin/bulkfetch/pkg/sink"
	"github.com/ValerySidorin/bulkfetch/pkg/tracker"
	util_http "github.com/ValerySidorin/bulkfetch/pkg/util/http"
	util_io "github.com/ValerySidorin/bulkfetch/pkg/util/io"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

type Options struct {
	Gzip          bool
	MaxLineLength int
	// Attachments is nil when attachments are left alone.
	Attachments *attachment.Resolver
}

// Fetcher streams one manifest file into the sink:
// HTTP body -> gzip -> ndjson decoder -> validation -> attachments -> sink.
type Fetcher struct {
	client  *retryablehttp.Client
	session *auth.Session
	sink    sink.Sink
	opts    Options
	log     log.Logger
}

func New(client *retryablehttp.Client, session *auth.Session, s sink.Sink, opts Options, logger log.Logger) *Fetcher {
	return &Fetcher{
		client:  client,
		session: session,
		sink:    s,
		opts:    opts,
		log:     log.With(logger, "component", "fetcher"),
	}
}

// Fetch downloads file and updates its counters as bytes arrive. It does not
// change the file status.
func (f *Fetcher) Fetch(ctx context.Context, file *tracker.FileDescriptor) error {
	var resp *http.Response
	err := f.session.Do(ctx, func(token string) error {
		var err error
		resp, err = f.get(ctx, file.URL, token)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "download %s", file.URL)
	}
	defer resp.Body.Close()

	body, err := f.decompress(resp, file)
	if err != nil {
		return errors.Wrapf(err, "download %s", file.URL)
	}

	dec := ndjson.NewDecoder(body, ndjson.WithMaxLineLength(f.opts.MaxLineLength))
	var records ndjson.RecordReader = dec
	if file.Kind == tracker.KindOutput {
		records = fhir.ValidateResources(records)
	}
	if f.opts.Attachments != nil {
		records = f.opts.Attachments.Stage(records)
	}

	if err := f.copy(ctx, records, file.Name); err != nil {
		return errors.Wrapf(err, "download %s", file.URL)
	}

	level.Debug(f.log).Log("msg", "file downloaded", "name", file.Name, "lines", dec.Line(), "chunks", file.Chunks(), "bytes", file.Bytes(), "raw_bytes", file.RawBytes())
	return nil
}

func (f *Fetcher) get(ctx context.Context, url, token string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", fhir.ContentTypeNDJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if f.opts.Gzip {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}

	if !util_http.IsSuccessStatusCode(resp) {
		return nil, fhir.NewServerError(resp)
	}

	return resp, nil
}

// decompress counts wire bytes as rawBytes and decoded bytes as chunks.
func (f *Fetcher) decompress(resp *http.Response, file *tracker.FileDescriptor) (io.Reader, error) {
	var body io.Reader = util_io.NewCountingReader(resp.Body, file.AddRaw)

	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		body = gz
	}

	return util_io.NewCountingReader(body, file.AddChunk), nil
}

func (f *Fetcher) copy(ctx context.Context, records ndjson.RecordReader, name string) error {
	w, err := f.sink.Open(ctx, name)
	if err != nil {
		return err
	}

	var out io.Writer = io.Discard
	var bw *bufio.Writer
	if w != nil {
		bw = bufio.NewWriter(w)
		out = bw
	}

	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	fail := func(err error) error {
		if w != nil {
			_ = sink.Abort(w, err)
		}
		return err
	}

	for {
		record, err := records.Read(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(err)
		}

		if err := enc.Encode(record); err != nil {
			return fail(errors.Wrap(err, "write record"))
		}
	}

	if w == nil {
		return nil
	}
	if err := bw.Flush(); err != nil {
		return fail(errors.Wrap(err, "write record"))
	}

	return w.Close()
}
