package bulkfetch

import (
	"flag"
	"os"
	"time"

	"github.com/ValerySidorin/bulkfetch/pkg/auth"
	"github.com/ValerySidorin/bulkfetch/pkg/exportjob"
	"github.com/ValerySidorin/bulkfetch/pkg/ndjson"
	"github.com/ValerySidorin/bulkfetch/pkg/notifier"
	"github.com/ValerySidorin/bulkfetch/pkg/pool"
	"github.com/ValerySidorin/bulkfetch/pkg/sink"
	util_http "github.com/ValerySidorin/bulkfetch/pkg/util/http"
	walcfg "github.com/ValerySidorin/bulkfetch/pkg/wal/config"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/flagext"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Export  exportjob.Config `yaml:"export"`
	Request RequestConfig    `yaml:"request"`

	// StatusURL attaches to an export kicked off earlier.
	StatusURL string `yaml:"status_url"`
	// Resume attaches to the latest unfinished export in the WAL.
	Resume           bool `yaml:"resume"`
	DeleteOnComplete bool `yaml:"delete_on_complete"`

	Concurrency   int  `yaml:"concurrency"`
	NoGzip        bool `yaml:"no_gzip"`
	Attachments   bool `yaml:"attachments"`
	MaxLineLength int  `yaml:"max_line_length"`

	// TempDir holds attachments while they are downloaded.
	TempDir string `yaml:"temp_dir"`

	Retry    backoff.Config   `yaml:"retry"`
	HTTP     util_http.Config `yaml:"http"`
	Auth     auth.Config      `yaml:"auth"`
	Sink     sink.Config      `yaml:"sink"`
	WAL      walcfg.Config    `yaml:"wal"`
	Notifier notifier.Config  `yaml:"notifier"`
}

func (c *Config) RegisterFlags(f *flag.FlagSet) {
	c.Export.RegisterFlags("export.", f)
	c.Request.RegisterFlags("request.", f)

	f.StringVar(&c.StatusURL, "export.status-url", "", "Status URL of an export kicked off earlier. Skips kick-off.")
	f.BoolVar(&c.Resume, "export.resume", false, "Resume the latest unfinished export recorded in the WAL.")
	f.BoolVar(&c.DeleteOnComplete, "export.delete-on-complete", false, "Delete the export on the server once every file is downloaded.")

	f.IntVar(&c.Concurrency, "concurrency", pool.DefaultConcurrency, "Number of files downloaded in parallel.")
	f.BoolVar(&c.NoGzip, "no-gzip", false, "Do not ask the server to compress files.")
	f.BoolVar(&c.Attachments, "attachments", true, "Download DocumentReference attachments and point them to the local copy.")
	f.IntVar(&c.MaxLineLength, "max-line-length", ndjson.MaxLineLength, "Longest accepted NDJSON line in bytes.")
	f.StringVar(&c.TempDir, "temp-dir", "", "Directory attachments are spooled to before they reach the sink. Defaults to the system temporary directory.")

	c.Retry.RegisterFlagsWithPrefix("retry", f)
	c.HTTP.RegisterFlags("http.", f)
	c.Auth.RegisterFlags("auth.", f)
	c.Sink.RegisterFlags("sink.", f)
	c.WAL.RegisterFlags("wal.", f)
	c.Notifier.RegisterFlags("notifier.", f)
}

func (c *Config) Validate() error {
	if err := c.Export.Validate(); err != nil {
		return errors.Wrap(err, "invalid export config")
	}
	if err := c.Request.Validate(); err != nil {
		return errors.Wrap(err, "invalid request config")
	}
	if c.Concurrency <= 0 {
		return errors.New("concurrency must be positive")
	}
	if c.MaxLineLength <= 0 {
		return errors.New("max line length must be positive")
	}
	if c.Resume && c.WAL.Store == walcfg.StoreNone {
		return errors.New("resume needs a WAL store")
	}

	for name, v := range map[string]interface{ Validate() error }{
		"http":     &c.HTTP,
		"auth":     &c.Auth,
		"sink":     &c.Sink,
		"wal":      &c.WAL,
		"notifier": &c.Notifier,
	} {
		if err := v.Validate(); err != nil {
			return errors.Wrapf(err, "invalid %s config", name)
		}
	}
	return nil
}

// LoadConfig reads a YAML file over cfg. Unknown fields are an error.
func LoadConfig(path string, cfg *Config) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config file")
	}

	if err := yaml.UnmarshalStrict(buf, cfg); err != nil {
		return errors.Wrap(err, "parse config file")
	}
	return nil
}

type RequestConfig struct {
	Scope                 string                 `yaml:"scope"`
	Group                 string                 `yaml:"group"`
	Types                 flagext.StringSliceCSV `yaml:"types"`
	Since                 string                 `yaml:"since"`
	Elements              flagext.StringSliceCSV `yaml:"elements"`
	Patients              flagext.StringSliceCSV `yaml:"patients"`
	TypeFilter            string                 `yaml:"type_filter"`
	IncludeAssociatedData flagext.StringSliceCSV `yaml:"include_associated_data"`
	Post                  bool                   `yaml:"post"`
	Lenient               bool                   `yaml:"lenient"`
}

func (c *RequestConfig) RegisterFlags(flagPrefix string, f *flag.FlagSet) {
	f.StringVar(&c.Scope, flagPrefix+"scope", "", `Export level: "system", "patient" or "group". Defaults to "group" when a group is set, "patient" otherwise.`)
	f.StringVar(&c.Group, flagPrefix+"group", "", "Group id for group level exports.")
	f.Var(&c.Types, flagPrefix+"types", "Comma separated resource types to export.")
	f.StringVar(&c.Since, flagPrefix+"since", "", "Only export resources changed after this instant or date.")
	f.Var(&c.Elements, flagPrefix+"elements", "Comma separated elements to include.")
	f.Var(&c.Patients, flagPrefix+"patients", "Comma separated patient ids. Implies POST.")
	f.StringVar(&c.TypeFilter, flagPrefix+"type-filter", "", "Value of the _typeFilter parameter.")
	f.Var(&c.IncludeAssociatedData, flagPrefix+"include-associated-data", "Comma separated includeAssociatedData values.")
	f.BoolVar(&c.Post, flagPrefix+"post", false, "Kick off with a POST Parameters body instead of query parameters.")
	f.BoolVar(&c.Lenient, flagPrefix+"lenient", false, "Ask the server for lenient handling.")
}

func (c *RequestConfig) Validate() error {
	_, err := c.Build()
	return err
}

// Build turns the configuration into an immutable export request.
func (c *RequestConfig) Build() (exportjob.Request, error) {
	since, err := exportjob.ParseSince(c.Since)
	if err != nil {
		return exportjob.Request{}, err
	}

	scope := exportjob.Scope(c.Scope)
	if scope == "" {
		scope = exportjob.ScopePatient
		if c.Group != "" {
			scope = exportjob.ScopeGroup
		}
	}
	if c.Group != "" && scope != exportjob.ScopeGroup {
		return exportjob.Request{}, errors.Errorf("group %q needs the group scope, got %q", c.Group, scope)
	}

	req := exportjob.Request{
		Scope:                 scope,
		GroupID:               c.Group,
		Types:                 append([]string(nil), c.Types...),
		Since:                 since,
		Elements:              append([]string(nil), c.Elements...),
		Patients:              append([]string(nil), c.Patients...),
		TypeFilter:            c.TypeFilter,
		IncludeAssociatedData: append([]string(nil), c.IncludeAssociatedData...),
		Post:                  c.Post,
		Lenient:               c.Lenient,
	}
	return req, req.Validate()
}

// DefaultRetry is used when the retry config is left empty.
var DefaultRetry = backoff.Config{
	MinBackoff: time.Second,
	MaxBackoff: time.Minute,
	MaxRetries: 10,
}
