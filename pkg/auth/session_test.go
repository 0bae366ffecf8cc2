package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValerySidorin/bulkfetch/pkg/fhir"
	"github.com/go-kit/log"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	token      string
	refreshed  []string
	authorized []string

	tokenCalls, refreshCalls, authorizeCalls int
}

func (p *fakeProvider) Token(context.Context) (string, error) {
	p.tokenCalls++
	return p.token, nil
}

func (p *fakeProvider) Refresh(context.Context) (string, error) {
	p.refreshCalls++
	if len(p.refreshed) == 0 {
		return "", errors.New("no refresh token")
	}
	t := p.refreshed[0]
	p.refreshed = p.refreshed[1:]
	return t, nil
}

func (p *fakeProvider) Authorize(context.Context) (string, error) {
	p.authorizeCalls++
	if len(p.authorized) == 0 {
		return "", ErrAuthRequired
	}
	t := p.authorized[0]
	p.authorized = p.authorized[1:]
	return t, nil
}

func expiredErr() error {
	return &fhir.ServerError{Code: 401, Outcome: fhir.NewOperationOutcome("error", "expired", "token expired")}
}

func TestSessionAnonymous(t *testing.T) {
	s := NewSession(nil, false, log.NewNopLogger())
	token, err := s.Token(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, token)

	s = NewSession(nil, true, log.NewNopLogger())
	_, err = s.Token(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestSessionAuthorizesOnlyWhenNeeded(t *testing.T) {
	p := &fakeProvider{token: "cached"}
	s := NewSession(p, true, log.NewNopLogger())

	for i := 0; i < 3; i++ {
		token, err := s.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "cached", token)
	}
	assert.Equal(t, 1, p.tokenCalls)
	assert.Equal(t, 0, p.authorizeCalls)

	p = &fakeProvider{authorized: []string{"fresh"}}
	s = NewSession(p, true, log.NewNopLogger())
	token, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, 1, p.authorizeCalls)

	p = &fakeProvider{}
	s = NewSession(p, true, log.NewNopLogger())
	_, err = s.Token(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestSessionDoRetriesOnceOnExpiry(t *testing.T) {
	p := &fakeProvider{token: "old", refreshed: []string{"new"}}
	s := NewSession(p, false, log.NewNopLogger())

	var seen []string
	err := s.Do(context.Background(), func(token string) error {
		seen = append(seen, token)
		if token == "old" {
			return expiredErr()
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"old", "new"}, seen)
	assert.Equal(t, 1, p.refreshCalls)

	token, _ := s.Token(context.Background())
	assert.Equal(t, "new", token)
}

func TestSessionDoFallsBackToAuthorize(t *testing.T) {
	p := &fakeProvider{token: "old", authorized: []string{"authorized"}}
	s := NewSession(p, false, log.NewNopLogger())

	var seen []string
	err := s.Do(context.Background(), func(token string) error {
		seen = append(seen, token)
		if token == "old" {
			return errors.New("401: Unauthorized\nToken expired")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"old", "authorized"}, seen)
	assert.Equal(t, 1, p.authorizeCalls)
}

func TestSessionDoSecondExpiryIsFatal(t *testing.T) {
	p := &fakeProvider{token: "old", refreshed: []string{"new", "newer"}}
	s := NewSession(p, false, log.NewNopLogger())

	calls := 0
	err := s.Do(context.Background(), func(string) error {
		calls++
		return expiredErr()
	})

	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, p.refreshCalls)
}

func TestSessionDoPassesOtherErrors(t *testing.T) {
	p := &fakeProvider{token: "t"}
	s := NewSession(p, false, log.NewNopLogger())

	boom := &fhir.ServerError{Code: 500, Message: "Internal Server Error"}
	calls := 0
	err := s.Do(context.Background(), func(string) error {
		calls++
		return boom
	})

	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestSessionRenewsExpiredJWT(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	sign := func(exp time.Time) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		}).SignedString([]byte("secret"))
		require.NoError(t, err)
		return s
	}

	stale := sign(now.Add(-time.Minute))
	fresh := sign(now.Add(time.Hour))

	p := &fakeProvider{token: stale, refreshed: []string{fresh}}
	s := NewSession(p, false, log.NewNopLogger())
	s.now = func() time.Time { return now }

	first, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stale, first)

	second, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, second)
	assert.Equal(t, 1, p.refreshCalls)

	assert.False(t, s.pastExpiry("opaque-token"))
}

func TestIsExpired(t *testing.T) {
	tests := []struct {
		err error
		out bool
	}{
		{nil, false},
		{expiredErr(), true},
		{errors.Wrap(expiredErr(), "poll"), true},
		{&fhir.ServerError{Code: 500, Message: "Internal Server Error"}, false},
		{&fhir.ServerError{Code: 401, Message: "Unauthorized\nyour session expired"}, true},
		{errors.New("401: token has expired"), true},
		{errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.out, IsExpired(tt.err), "%v", tt.err)
	}
}

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	p := NewFile(path)

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, token)

	_, err = p.Authorize(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)

	require.NoError(t, os.WriteFile(path, []byte("abc\n"), 0o600))
	token, err = p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func TestStaticProvider(t *testing.T) {
	p := NewStatic("abc")
	token, err := p.Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = p.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, (&Config{}).Validate())
	assert.NoError(t, (&Config{Provider: "static"}).Validate())
	assert.Error(t, (&Config{Provider: "file"}).Validate())
	assert.Error(t, (&Config{Provider: "oauth"}).Validate())

	p, err := NewProvider(Config{})
	assert.NoError(t, err)
	assert.Nil(t, p)
}
