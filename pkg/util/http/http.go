package http

import (
	"crypto/tls"
	"flag"
	"net/http"
	"net/url"
	"time"

	"github.com/go-kit/log"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"golang.org/x/net/http/httpproxy"
)

type Config struct {
	Proxy                 string        `yaml:"proxy"`
	InsecureSkipVerify    bool          `yaml:"insecure_skip_verify"`
	RetryMax              int           `yaml:"retry_max"`
	RetryWaitMin          time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax          time.Duration `yaml:"retry_wait_max"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
}

func (c *Config) RegisterFlags(flagPrefix string, f *flag.FlagSet) {
	f.StringVar(&c.Proxy, flagPrefix+"proxy", "", `Proxy URL for every request. Defaults to HTTP_PROXY, HTTPS_PROXY and NO_PROXY.`)
	f.BoolVar(&c.InsecureSkipVerify, flagPrefix+"insecure-skip-verify", false, `Do not verify server TLS certificates.`)
	f.IntVar(&c.RetryMax, flagPrefix+"retry-max", 3, `Retries for connection errors and 5xx responses.`)
	f.DurationVar(&c.RetryWaitMin, flagPrefix+"retry-wait-min", time.Second, `Minimum wait between retries.`)
	f.DurationVar(&c.RetryWaitMax, flagPrefix+"retry-wait-max", 30*time.Second, `Maximum wait between retries.`)
	f.DurationVar(&c.ResponseHeaderTimeout, flagPrefix+"response-header-timeout", time.Minute, `Time to wait for response headers. Bodies are not limited, files can be large.`)
}

func (c *Config) Validate() error {
	if c.Proxy != "" {
		if _, err := url.Parse(c.Proxy); err != nil {
			return errors.Wrap(err, "http: invalid proxy")
		}
	}
	if c.RetryMax < 0 {
		return errors.New("http: retry_max must not be negative")
	}
	return nil
}

// NewClient returns a retrying client that hands the last response back to
// the caller instead of turning exhausted retries into an error, so FHIR
// error bodies stay readable.
func NewClient(cfg Config, logger log.Logger) (*retryablehttp.Client, error) {
	transport := cleanhttp.DefaultPooledTransport()
	transport.DisableCompression = true
	transport.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout

	proxy, err := proxyFunc(cfg.Proxy)
	if err != nil {
		return nil, err
	}
	transport.Proxy = proxy

	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	c := retryablehttp.NewClient()
	c.HTTPClient = &http.Client{Transport: transport}
	c.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		c.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		c.RetryWaitMax = cfg.RetryWaitMax
	}
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = NewLeveledLogger(logger)

	return c, nil
}

func proxyFunc(proxy string) (func(*http.Request) (*url.URL, error), error) {
	if proxy == "" {
		fromEnv := httpproxy.FromEnvironment().ProxyFunc()
		return func(r *http.Request) (*url.URL, error) {
			return fromEnv(r.URL)
		}, nil
	}

	u, err := url.Parse(proxy)
	if err != nil {
		return nil, errors.Wrap(err, "parse proxy url")
	}
	return http.ProxyURL(u), nil
}

// IsSuccessStatusCode reports a 2xx response.
func IsSuccessStatusCode(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}
