package bulkfetch

import (
	"context"
	"sync"
	"time"

	"github.com/ValerySidorin/bulkfetch/pkg/attachment"
	"github.com/ValerySidorin/bulkfetch/pkg/auth"
	"github.com/ValerySidorin/bulkfetch/pkg/exportjob"
	"github.com/ValerySidorin/bulkfetch/pkg/fetcher"
	"github.com/ValerySidorin/bulkfetch/pkg/fhir"
	"github.com/ValerySidorin/bulkfetch/pkg/notifier"
	"github.com/ValerySidorin/bulkfetch/pkg/pool"
	"github.com/ValerySidorin/bulkfetch/pkg/sink"
	"github.com/ValerySidorin/bulkfetch/pkg/tracker"
	util_http "github.com/ValerySidorin/bulkfetch/pkg/util/http"
	"github.com/ValerySidorin/bulkfetch/pkg/wal"
	walrec "github.com/ValerySidorin/bulkfetch/pkg/wal/record"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

const cancelTimeout = 30 * time.Second

// Reporter shows the progress of an export to a person.
type Reporter interface {
	Poll(p exportjob.Progress)
	Watch(t *tracker.Tracker) (stop func())
	Println(msg string)
}

type nopReporter struct{}

func (nopReporter) Poll(exportjob.Progress)      {}
func (nopReporter) Watch(*tracker.Tracker) func() { return func() {} }
func (nopReporter) Println(string)               {}

// Result summarises a finished run.
type Result struct {
	StatusURL string
	Files     int
	Done      int
	Failed    int
	// Skipped files were stored by an earlier run of the same export.
	Skipped  int
	Bytes    int64
	Errors   []pool.FileError
	Canceled bool
	Duration time.Duration
}

type Option func(*Exporter)

func WithReporter(r Reporter) Option {
	return func(e *Exporter) { e.reporter = r }
}

// WithSink replaces the configured sink.
func WithSink(s sink.Sink) Option {
	return func(e *Exporter) { e.sink = s }
}

// WithNotifier replaces the configured notifier.
func WithNotifier(n *notifier.Notifier) Option {
	return func(e *Exporter) { e.notifier = n }
}

// Exporter runs one bulk export from kick-off to the last stored file. It
// stops early on StopAsync, removing the export from the server.
type Exporter struct {
	services.Service

	cfg     Config
	log     log.Logger
	metrics *metrics

	session  *auth.Session
	job      *exportjob.Job
	sink     sink.Sink
	fetcher  *fetcher.Fetcher
	wal      *wal.WAL
	notifier *notifier.Notifier
	reporter Reporter

	mu      sync.Mutex
	tracker *tracker.Tracker
	result  Result
}

func New(ctx context.Context, cfg Config, reg prometheus.Registerer, logger log.Logger, opts ...Option) (*Exporter, error) {
	e := &Exporter{
		cfg:      cfg,
		log:      log.With(logger, "service", "bulkfetch"),
		metrics:  newMetrics(reg),
		reporter: nopReporter{},
	}
	for _, opt := range opts {
		opt(e)
	}

	client, err := util_http.NewClient(cfg.HTTP, e.log)
	if err != nil {
		return nil, errors.Wrap(err, "bulkfetch init http client")
	}

	provider, err := auth.NewProvider(cfg.Auth)
	if err != nil {
		return nil, errors.Wrap(err, "bulkfetch init token provider")
	}
	e.session = auth.NewSession(provider, cfg.Auth.Required, e.log)
	e.job = exportjob.New(cfg.Export, client, e.session, e.log)

	if e.sink == nil {
		if e.sink, err = sink.New(ctx, cfg.Sink); err != nil {
			return nil, errors.Wrap(err, "bulkfetch init sink")
		}
	}

	var resolver *attachment.Resolver
	if cfg.Attachments {
		resolver = attachment.New(client.StandardClient(), e.sink, e.session, e.log,
			attachment.WithObserver(e.metrics.attachment),
			attachment.WithTempDir(cfg.TempDir))
	}
	e.fetcher = fetcher.New(client, e.session, e.sink, fetcher.Options{
		Gzip:          !cfg.NoGzip,
		MaxLineLength: cfg.MaxLineLength,
		Attachments:   resolver,
	}, e.log)

	if e.wal, err = wal.NewWAL(ctx, cfg.WAL, e.log); err != nil {
		return nil, errors.Wrap(err, "bulkfetch connect to WAL")
	}

	if e.notifier == nil {
		if e.notifier, err = notifier.New(cfg.Notifier, e.log); err != nil {
			return nil, errors.Wrap(err, "bulkfetch init notifier")
		}
	}

	e.Service = services.NewBasicService(nil, e.running, e.stopping)
	return e, nil
}

// Job exposes the export state machine.
func (e *Exporter) Job() *exportjob.Job {
	return e.job
}

// Tracker is nil until the manifest arrived.
func (e *Exporter) Tracker() *tracker.Tracker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker
}

func (e *Exporter) Result() Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.result
	r.Errors = append([]pool.FileError(nil), e.result.Errors...)
	return r
}

func (e *Exporter) running(ctx context.Context) error {
	start := time.Now()
	defer func() {
		e.mu.Lock()
		e.result.Duration = time.Since(start)
		e.mu.Unlock()
	}()

	statusURL, resumed, err := e.begin(ctx)
	if err != nil {
		return e.interrupted(ctx, err)
	}

	e.mu.Lock()
	e.result.StatusURL = statusURL
	e.mu.Unlock()

	e.reporter.Println("Waiting for the server to generate the files...")
	var entries []tracker.Entry
	err = e.retry(ctx, "poll", func() error {
		var err error
		entries, err = e.job.Poll(ctx, e.reportPoll)
		return err
	})
	if err != nil {
		if ctx.Err() == nil && e.wal != nil && e.job.StatusURL() == "" {
			e.journal(e.wal.Finished(context.WithoutCancel(ctx), statusURL, walrec.FAILED))
		}
		return e.interrupted(ctx, err)
	}

	skipped := 0
	if resumed && e.wal != nil {
		pending, err := e.wal.Pending(ctx, statusURL, entries)
		if err != nil {
			return e.interrupted(ctx, err)
		}
		skipped = len(entries) - len(pending)
		entries = pending
	}

	if len(entries) == 0 && skipped == 0 {
		e.reporter.Println("No data was found on the server to match the export parameters")
	}

	t := tracker.New(entries)
	e.mu.Lock()
	e.tracker = t
	e.result.Files = t.Len()
	e.result.Skipped = skipped
	e.mu.Unlock()

	e.job.Downloading()
	stop := e.reporter.Watch(t)
	errs := pool.New(e.cfg.Concurrency, e.fetcher.Fetch, e.log,
		pool.WithOnDone(e.fileDone(ctx, statusURL)),
		pool.WithOnFailed(e.fileFailed(ctx, statusURL)),
	).Run(ctx, t)
	stop()

	e.mu.Lock()
	e.result.Done = t.Count(tracker.Done)
	e.result.Failed = t.Count(tracker.Failed)
	e.result.Errors = errs.Errors()
	e.result.Bytes = lo.SumBy(t.Files(), func(f *tracker.FileDescriptor) int64 { return f.Bytes() })
	failed := e.result.Failed
	e.mu.Unlock()

	if ctx.Err() != nil {
		return e.interrupted(ctx, ctx.Err())
	}

	// Failed files keep the export around so a later run can resume it.
	remove := e.cfg.DeleteOnComplete && failed == 0
	if err := e.job.Complete(ctx, remove); err != nil {
		e.reporter.Println("Failed to remove the export!")
	} else if remove {
		e.reporter.Println("The export was removed!")
	}

	if e.wal != nil && failed == 0 {
		e.journal(e.wal.Finished(ctx, statusURL, walrec.COMPLETED))
	}

	level.Info(e.log).Log("msg", "export finished", "files", t.Len(), "failed", failed, "skipped", skipped)
	return nil
}

// interrupted turns an error caused by StopAsync into a clean stop.
func (e *Exporter) interrupted(ctx context.Context, err error) error {
	if ctx.Err() == nil && !errors.Is(err, exportjob.ErrCanceled) {
		return err
	}

	e.mu.Lock()
	e.result.Canceled = true
	e.mu.Unlock()
	return nil
}

func (e *Exporter) begin(ctx context.Context) (string, bool, error) {
	statusURL := e.cfg.StatusURL
	if statusURL == "" && e.cfg.Resume && e.wal != nil {
		exports, err := e.wal.Unfinished(ctx)
		if err != nil {
			return "", false, errors.Wrap(err, "load unfinished exports")
		}
		if len(exports) > 0 {
			statusURL = exports[len(exports)-1].StatusURL
		} else {
			level.Info(e.log).Log("msg", "no unfinished export to resume, starting a new one")
		}
	}

	if statusURL != "" {
		level.Info(e.log).Log("msg", "attaching to export", "status_url", statusURL)
		e.job.Attach(statusURL)
		if e.wal != nil {
			e.journal(e.wal.Started(ctx, statusURL, e.cfg.Export.FHIRURL))
		}
		return statusURL, true, nil
	}

	req, err := e.cfg.Request.Build()
	if err != nil {
		return "", false, err
	}

	err = e.retry(ctx, "kick-off", func() error {
		var err error
		statusURL, err = e.job.KickOff(ctx, req)
		return err
	})
	if err != nil {
		return "", false, err
	}

	if e.wal != nil {
		e.journal(e.wal.Started(ctx, statusURL, e.cfg.Export.FHIRURL))
	}
	return statusURL, false, nil
}

// retry repeats fn while it fails with a transient server issue.
func (e *Exporter) retry(ctx context.Context, op string, fn func() error) error {
	cfg := e.cfg.Retry
	if cfg.MinBackoff == 0 && cfg.MaxRetries == 0 {
		cfg = DefaultRetry
	}

	boff := backoff.New(ctx, cfg)
	for {
		err := fn()
		if err == nil || !fhir.IsTransient(err) {
			return err
		}

		e.metrics.retries.Inc()
		level.Warn(e.log).Log("msg", "transient server issue, retrying", "op", op, "retries", boff.NumRetries(), "err", err)
		boff.Wait()
		if !boff.Ongoing() {
			return errors.Wrapf(err, "%s: giving up after %d retries", op, boff.NumRetries())
		}
	}
}

func (e *Exporter) reportPoll(p exportjob.Progress) {
	e.metrics.polls.Inc()
	if p.Known {
		e.metrics.progress.Set(float64(p.Percent))
	} else {
		e.metrics.progress.Set(-1)
	}
	e.reporter.Poll(p)
}

func (e *Exporter) fileDone(ctx context.Context, statusURL string) func(f *tracker.FileDescriptor) {
	ctx = context.WithoutCancel(ctx)
	return func(f *tracker.FileDescriptor) {
		e.metrics.fileFinished(f)
		if e.wal != nil {
			e.journal(e.wal.FileDone(ctx, statusURL, f))
		}
		if e.notifier != nil {
			e.notifier.Notify(statusURL, f)
		}
	}
}

func (e *Exporter) fileFailed(ctx context.Context, statusURL string) func(f *tracker.FileDescriptor, err error) {
	ctx = context.WithoutCancel(ctx)
	return func(f *tracker.FileDescriptor, err error) {
		e.metrics.fileFinished(f)
		if e.wal != nil {
			e.journal(e.wal.FileFailed(ctx, statusURL, f, err))
		}
	}
}

// journal logs WAL write failures. The journal never fails an export.
func (e *Exporter) journal(err error) {
	if err != nil {
		level.Warn(e.log).Log("msg", "failed to write WAL", "err", err)
	}
}

func (e *Exporter) stopping(failureCase error) error {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()

	statusURL := e.job.StatusURL()
	switch {
	case statusURL == "":
	case e.Result().Canceled:
		e.reporter.Println("Export canceled. Aborting...")
		if err := e.job.Cancel(ctx); err != nil {
			e.reporter.Println("Failed to remove the export!")
		} else {
			e.reporter.Println("The export was removed!")
		}
		if e.wal != nil {
			e.journal(e.wal.Finished(ctx, statusURL, walrec.CANCELED))
		}
	case failureCase != nil:
		level.Warn(e.log).Log("msg", "export left on the server, attach to it again with --export.status-url", "status_url", statusURL)
	}

	if e.notifier != nil {
		if err := e.notifier.Close(); err != nil {
			level.Warn(e.log).Log("msg", "failed to close notifier", "err", err)
		}
	}
	if e.wal != nil {
		e.wal.Dispose(ctx)
	}
	return nil
}
