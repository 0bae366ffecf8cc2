package fhir

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const maxErrorBody = 64 * 1024

var expiredPattern = regexp.MustCompile(`(?i)\bexpired\b`)

// ServerError is a non-success response from the FHIR server.
type ServerError struct {
	Code      int
	Message   string
	Challenge string
	Outcome   *OperationOutcome
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%d: %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// Transient reports whether the server marked every issue as transient, so the
// request may succeed if repeated later.
func (e *ServerError) Transient() bool {
	if e.Outcome == nil || len(e.Outcome.Issue) == 0 {
		return false
	}
	for _, issue := range e.Outcome.Issue {
		if issue.Code != "transient" {
			return false
		}
	}
	return true
}

// Expired reports whether the server rejected the access token as expired.
// Structured signals are checked first, the message text last.
func (e *ServerError) Expired() bool {
	if e.Outcome != nil && e.Outcome.HasCode("expired") {
		return true
	}
	if e.Code == http.StatusUnauthorized && strings.Contains(e.Challenge, "invalid_token") {
		return true
	}
	return expiredPattern.MatchString(e.Message)
}

// NewServerError reads and closes the response body.
func NewServerError(resp *http.Response) *ServerError {
	defer resp.Body.Close()

	e := &ServerError{
		Code:      resp.StatusCode,
		Challenge: resp.Header.Get("WWW-Authenticate"),
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(body))

	var outcome OperationOutcome
	if err := json.Unmarshal(body, &outcome); err == nil && outcome.ResourceType == "OperationOutcome" {
		e.Outcome = &outcome
		text = outcome.Message()
	}

	status := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
	if status == "" {
		status = http.StatusText(resp.StatusCode)
	}

	e.Message = status
	if text != "" {
		e.Message = status + "\n" + text
	}

	return e
}

// IsTransient reports whether err carries a transient server issue.
func IsTransient(err error) bool {
	var serverErr *ServerError
	return errors.As(err, &serverErr) && serverErr.Transient()
}
