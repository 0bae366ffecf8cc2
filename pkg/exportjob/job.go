package exportjob

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ValerySidorin/bulkfetch/pkg/auth"
	"github.com/ValerySidorin/bulkfetch/pkg/fhir"
	"github.com/ValerySidorin/bulkfetch/pkg/tracker"
	util_http "github.com/ValerySidorin/bulkfetch/pkg/util/http"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

var (
	ErrServerRejected = errors.New("server rejected export")
	ErrCanceled       = errors.New("export canceled")
	ErrNoExport       = errors.New("no export in progress")
)

// KickOffError is returned when the server does not accept the export.
type KickOffError struct {
	Err *fhir.ServerError
}

func (e *KickOffError) Error() string {
	return "kick-off failed: " + e.Err.Error()
}

func (e *KickOffError) Unwrap() error { return e.Err }

func (e *KickOffError) Is(target error) bool { return target == ErrServerRejected }

type Config struct {
	FHIRURL      string        `yaml:"fhir_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func (c *Config) RegisterFlags(flagPrefix string, f *flag.FlagSet) {
	f.StringVar(&c.FHIRURL, flagPrefix+"fhir-url", "", "FHIR server base URL.")
	f.DurationVar(&c.PollInterval, flagPrefix+"poll-interval", time.Second, "Delay between status polls.")
}

func (c *Config) Validate() error {
	if c.FHIRURL == "" {
		return errors.New("fhir url is required")
	}
	u, err := url.Parse(c.FHIRURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("invalid fhir url %q", c.FHIRURL)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}

// Job drives one bulk export on the server: kick-off, status polling and
// removal. It owns the status URL while the export exists.
type Job struct {
	cfg     Config
	client  *retryablehttp.Client
	session *auth.Session
	log     log.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu        sync.Mutex
	state     State
	statusURL string
	started   time.Time
	canceled  bool

	stop     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, client *retryablehttp.Client, session *auth.Session, logger log.Logger) *Job {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Job{
		cfg:     cfg,
		client:  client,
		session: session,
		log:     log.With(logger, "component", "exportjob"),
		sleep:   sleep,
		now:     time.Now,
		state:   Idle,
		stop:    make(chan struct{}),
	}
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) StatusURL() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.statusURL
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) stopped() bool {
	select {
	case <-j.stop:
		return true
	default:
		return false
	}
}

// KickOff starts the export and returns the status URL.
func (j *Job) KickOff(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if j.stopped() {
		return "", ErrCanceled
	}

	j.setState(Authorizing)
	var location string
	err := j.session.Do(ctx, func(token string) error {
		j.setState(KickingOff)
		var err error
		location, err = j.kickOff(ctx, req, token)
		return err
	})
	if err != nil {
		j.setState(Failed)
		return "", err
	}

	j.mu.Lock()
	j.statusURL = location
	j.started = j.now()
	j.state = Polling
	canceled := j.canceled
	j.mu.Unlock()

	// Cancel ran before the server answered and could not remove the export.
	if canceled {
		j.Cancel(context.Background())
		return "", ErrCanceled
	}

	level.Info(j.log).Log("msg", "export started", "status_url", location)
	return location, nil
}

func (j *Job) kickOff(ctx context.Context, req Request, token string) (string, error) {
	endpoint := req.URL(j.cfg.FHIRURL)

	var body io.Reader
	if req.Method() == http.MethodPost {
		payload, err := json.Marshal(req.Parameters())
		if err != nil {
			return "", errors.Wrap(err, "encode kick-off parameters")
		}
		body = bytes.NewReader(payload)
	} else if q := req.Query().Encode(); q != "" {
		endpoint += "?" + q
	}

	r, err := retryablehttp.NewRequestWithContext(ctx, req.Method(), endpoint, body)
	if err != nil {
		return "", errors.Wrap(err, "create kick-off request")
	}
	r.Header.Set("Accept", fhir.ContentTypeJSON)
	r.Header.Set("Prefer", req.Prefer())
	if body != nil {
		r.Header.Set("Content-Type", fhir.ContentTypeJSON)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	level.Debug(j.log).Log("msg", "kick-off", "method", req.Method(), "url", endpoint)
	resp, err := j.client.Do(r)
	if err != nil {
		return "", errors.Wrap(err, "kick-off request")
	}

	if !util_http.IsSuccessStatusCode(resp) {
		return "", &KickOffError{Err: fhir.NewServerError(resp)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	location := resp.Header.Get("Content-Location")
	if location == "" {
		return "", &KickOffError{Err: &fhir.ServerError{
			Code:    resp.StatusCode,
			Message: "the server did not reply with a Content-Location header",
		}}
	}

	base, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "parse kick-off url")
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", errors.Wrapf(err, "parse Content-Location %q", location)
	}

	return base.ResolveReference(ref).String(), nil
}

// Attach resumes an export started earlier.
func (j *Job) Attach(statusURL string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.statusURL = statusURL
	j.started = j.now()
	j.state = Polling
}

// Poll waits until the export is complete and returns the manifest files.
// report is called after every 202 response.
func (j *Job) Poll(ctx context.Context, report func(Progress)) ([]tracker.Entry, error) {
	j.mu.Lock()
	statusURL, started := j.statusURL, j.started
	if statusURL != "" {
		j.state = Polling
	}
	j.mu.Unlock()
	if statusURL == "" {
		return nil, ErrNoExport
	}

	ctx, cancel := j.withStop(ctx)
	defer cancel()

	for {
		var (
			entries  []tracker.Entry
			progress Progress
			done     bool
		)
		err := j.session.Do(ctx, func(token string) error {
			var err error
			entries, progress, done, err = j.poll(ctx, statusURL, token)
			return err
		})
		if err != nil {
			return nil, j.pollFailed(ctx, err)
		}

		if done {
			j.setState(ManifestReady)
			level.Info(j.log).Log("msg", "export complete", "files", len(entries))
			return entries, nil
		}

		progress.Elapsed = j.now().Sub(started)
		if report != nil {
			report(progress)
		}

		if err := j.sleep(ctx, j.cfg.PollInterval); err != nil {
			return nil, j.pollFailed(ctx, err)
		}
	}
}

// pollFailed keeps the export for a retry or a later Cancel unless the error
// is fatal.
func (j *Job) pollFailed(ctx context.Context, err error) error {
	if j.stopped() || ctx.Err() != nil {
		return errors.Wrap(ErrCanceled, err.Error())
	}
	if fhir.IsTransient(err) {
		return err
	}

	j.mu.Lock()
	j.state = Failed
	j.statusURL = ""
	j.mu.Unlock()
	return err
}

func (j *Job) poll(ctx context.Context, statusURL, token string) ([]tracker.Entry, Progress, bool, error) {
	r, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, Progress{}, false, errors.Wrap(err, "create status request")
	}
	r.Header.Set("Accept", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := j.client.Do(r)
	if err != nil {
		return nil, Progress{}, false, errors.Wrap(err, "status request")
	}

	switch resp.StatusCode {
	case http.StatusAccepted:
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, parseProgress(resp.Header.Get("X-Progress")), false, nil
	case http.StatusOK:
		defer resp.Body.Close()
		entries, err := parseManifest(resp)
		return entries, Progress{}, err == nil, err
	}

	return nil, Progress{}, false, fhir.NewServerError(resp)
}

// Downloading marks the manifest as handed over to the download pool.
func (j *Job) Downloading() {
	j.setState(Downloading)
}

// Complete ends a successful export, deleting it on the server if remove is
// set. A failed deletion is logged and returned but the job is still done.
func (j *Job) Complete(ctx context.Context, remove bool) error {
	var err error
	if statusURL := j.StatusURL(); remove && statusURL != "" {
		err = j.remove(ctx, statusURL)
	}

	j.mu.Lock()
	j.statusURL = ""
	j.state = Done
	j.mu.Unlock()
	return err
}

// Cancel stops polling and deletes the export on the server if one is
// outstanding. It is safe to call concurrently and more than once. The
// deletion error is not fatal.
func (j *Job) Cancel(ctx context.Context) error {
	j.stopOnce.Do(func() { close(j.stop) })

	j.mu.Lock()
	j.canceled = true
	statusURL := j.statusURL
	j.statusURL = ""
	if j.state != Done {
		j.state = Cancelling
	}
	j.mu.Unlock()

	var err error
	if statusURL != "" {
		err = j.remove(ctx, statusURL)
	}

	j.mu.Lock()
	if j.state == Cancelling {
		j.state = Failed
	}
	j.mu.Unlock()
	return err
}

func (j *Job) remove(ctx context.Context, statusURL string) error {
	err := j.session.Do(ctx, func(token string) error {
		r, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, statusURL, nil)
		if err != nil {
			return errors.Wrap(err, "create delete request")
		}
		r.Header.Set("Accept", fhir.ContentTypeJSON)
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := j.client.Do(r)
		if err != nil {
			return errors.Wrap(err, "delete request")
		}
		if !util_http.IsSuccessStatusCode(resp) {
			return fhir.NewServerError(resp)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	})
	if err != nil {
		level.Warn(j.log).Log("msg", "failed to delete export", "status_url", statusURL, "err", err)
		return errors.Wrap(err, "delete export")
	}

	level.Info(j.log).Log("msg", "export deleted", "status_url", statusURL)
	return nil
}

// withStop derives a context that is also canceled by Cancel.
func (j *Job) withStop(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-j.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
