package auth

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var expiredMessage = regexp.MustCompile(`(?i)\bexpired\b`)

// ExpiredError is implemented by errors that know whether they were caused by
// an expired access token.
type ExpiredError interface {
	Expired() bool
}

// IsExpired reports whether err was caused by an expired access token.
// Errors that classify themselves win; otherwise the message is matched.
func IsExpired(err error) bool {
	if err == nil {
		return false
	}

	var expired ExpiredError
	if errors.As(err, &expired) {
		return expired.Expired()
	}

	return expiredMessage.MatchString(err.Error())
}

// Session caches the token of one export and renews it on expiry.
type Session struct {
	provider TokenProvider
	required bool
	log      log.Logger
	now      func() time.Time

	mu    sync.Mutex
	token string
}

// NewSession wraps provider. A nil provider means anonymous access.
func NewSession(provider TokenProvider, required bool, logger log.Logger) *Session {
	return &Session{
		provider: provider,
		required: required,
		log:      log.With(logger, "component", "auth"),
		now:      time.Now,
	}
}

// Token returns the cached token, asking the provider only when the cache is
// empty or the cached JWT is past its exp claim. An empty token means
// anonymous access.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()

	if token != "" && !s.pastExpiry(token) {
		return token, nil
	}
	if token != "" {
		level.Debug(s.log).Log("msg", "cached token is past its expiry, renewing")
		return s.renew(ctx, token)
	}

	if s.provider == nil {
		if s.required {
			return "", ErrAuthRequired
		}
		return "", nil
	}

	token, err := s.provider.Token(ctx)
	if err != nil {
		return "", errors.Wrap(err, "get token")
	}

	if token == "" && s.required {
		level.Info(s.log).Log("msg", "authorizing")
		token, err = s.provider.Authorize(ctx)
		if err != nil {
			return "", errors.Wrap(err, "authorize")
		}
		if token == "" {
			return "", ErrAuthRequired
		}
	}

	s.mu.Lock()
	if s.token == "" {
		s.token = token
	}
	token = s.token
	s.mu.Unlock()

	return token, nil
}

// Do runs op with the current token. If op fails because the token expired,
// the token is renewed and op runs exactly once more. A second expiry is
// returned as ErrTokenExpired.
func (s *Session) Do(ctx context.Context, op func(token string) error) error {
	token, err := s.Token(ctx)
	if err != nil {
		return err
	}

	err = op(token)
	if !IsExpired(err) {
		return err
	}

	level.Warn(s.log).Log("msg", "access token expired, re-authorizing", "err", err)
	if token, err = s.renew(ctx, token); err != nil {
		return err
	}

	err = op(token)
	if IsExpired(err) {
		return errors.Wrap(ErrTokenExpired, err.Error())
	}

	return err
}

// renew replaces stale with a fresh token. Concurrent callers holding the same
// stale token share one renewal.
func (s *Session) renew(ctx context.Context, stale string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != stale && s.token != "" {
		return s.token, nil
	}
	s.token = ""

	if s.provider == nil {
		return "", ErrAuthRequired
	}

	token, err := s.provider.Refresh(ctx)
	if err != nil || token == "" {
		level.Debug(s.log).Log("msg", "refresh failed, authorizing", "err", err)
		if token, err = s.provider.Authorize(ctx); err != nil {
			return "", errors.Wrap(err, "re-authorize")
		}
	}
	if token == "" {
		return "", ErrAuthRequired
	}

	s.token = token
	return token, nil
}

// pastExpiry only inspects tokens that parse as JWTs; opaque tokens are
// trusted until the server rejects them.
func (s *Session) pastExpiry(token string) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !s.now().Before(claims.ExpiresAt.Time)
}
