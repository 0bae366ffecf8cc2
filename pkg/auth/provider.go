package auth

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/grafana/dskit/flagext"
	"github.com/pkg/errors"
)

var (
	// ErrAuthRequired means a token is needed and none can be obtained.
	ErrAuthRequired = errors.New("authorization required")
	// ErrTokenExpired means the token expired again right after renewal.
	ErrTokenExpired = errors.New("access token expired after re-authorization")
)

// TokenProvider supplies bearer tokens. Implementations do the actual OAuth
// work; the exporter only asks for tokens.
type TokenProvider interface {
	// Token returns the current token, or "" if there is none.
	Token(ctx context.Context) (string, error)
	// Refresh returns a fresh token after the current one expired.
	Refresh(ctx context.Context) (string, error)
	// Authorize obtains a token from scratch.
	Authorize(ctx context.Context) (string, error)
}

type Config struct {
	Provider  string         `yaml:"provider"`
	Token     flagext.Secret `yaml:"token"`
	TokenFile string         `yaml:"token_file"`
	Required  bool           `yaml:"required"`
}

func (c *Config) RegisterFlags(flagPrefix string, f *flag.FlagSet) {
	f.StringVar(&c.Provider, flagPrefix+"provider", "", `Token provider: "static", "file" or empty for anonymous access.`)
	f.Var(&c.Token, flagPrefix+"token", `Bearer token for the "static" provider.`)
	f.StringVar(&c.TokenFile, flagPrefix+"token-file", "", `File holding the bearer token for the "file" provider. It is re-read on every refresh.`)
	f.BoolVar(&c.Required, flagPrefix+"required", false, `Fail before kick-off if no token can be obtained.`)
}

func (c *Config) Validate() error {
	switch c.Provider {
	case "", "static":
	case "file":
		if c.TokenFile == "" {
			return errors.New("auth: token_file is required for the file provider")
		}
	default:
		return errors.Errorf("auth: invalid provider %q", c.Provider)
	}
	return nil
}

// NewProvider returns nil for anonymous access.
func NewProvider(cfg Config) (TokenProvider, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "static":
		return NewStatic(cfg.Token.String()), nil
	case "file":
		return NewFile(cfg.TokenFile), nil
	}

	return nil, errors.Errorf("invalid token provider %q", cfg.Provider)
}

// Static serves a fixed token. It can not be refreshed.
type Static struct {
	token string
}

func NewStatic(token string) *Static {
	return &Static{token: token}
}

func (s *Static) Token(context.Context) (string, error) {
	return s.token, nil
}

func (s *Static) Refresh(context.Context) (string, error) {
	return "", errors.Wrap(ErrAuthRequired, "static token can not be refreshed")
}

func (s *Static) Authorize(context.Context) (string, error) {
	if s.token == "" {
		return "", ErrAuthRequired
	}
	return s.token, nil
}

// File reads the token from a file maintained by an external OAuth helper.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Token(context.Context) (string, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", errors.Wrap(err, "read token file")
	}
	return strings.TrimSpace(string(b)), nil
}

func (f *File) Refresh(ctx context.Context) (string, error) {
	return f.Authorize(ctx)
}

func (f *File) Authorize(ctx context.Context) (string, error) {
	token, err := f.Token(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.Wrapf(ErrAuthRequired, "no token in %s", f.path)
	}
	return token, nil
}
