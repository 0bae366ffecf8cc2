// Package fhirtest provides an in-process FHIR bulk data server for tests.
package fhirtest

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ValerySidorin/bulkfetch/pkg/fhir"
	"github.com/klauspost/compress/gzip"
	"github.com/labstack/echo/v4"
)

// File is one file the export produces.
type File struct {
	Name string
	Type string
	// Body is served as is, with BaseURL replaced by the server URL.
	Body string
	// Kind is "", "deleted" or "error".
	Kind string
	// Status, when set, is returned instead of the body.
	Status int
	// Delay holds the response back, to keep a download in flight.
	Delay time.Duration
}

type Config struct {
	Files       []File
	Attachments map[string][]byte

	// PendingPolls is the number of 202 answers before the manifest.
	PendingPolls int
	// Progress is sent as x-progress with every 202.
	Progress string
	// TransientPolls answer 503 with a transient OperationOutcome first.
	TransientPolls int
	// PollStatus, when set, is returned instead of the manifest.
	PollStatus int
	// LinkManifest announces files in a Link header instead of the body.
	LinkManifest bool
	Gzip         bool

	KickOffStatus     int
	NoContentLocation bool
	RelativeLocation  bool
	DeleteStatus      int

	// Token is the required bearer token; empty means anonymous access.
	Token string
	// ExpiredToken is rejected with an "expired" OperationOutcome.
	ExpiredToken string
}

// BaseURL in a file body is replaced with the server URL.
const BaseURL = "{{base}}"

// Request is a recorded request.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

type Server struct {
	*httptest.Server

	cfg Config

	mu       sync.Mutex
	requests []Request
	polls    int
	deleted  bool
}

func NewServer(cfg Config) *Server {
	s := &Server{cfg: cfg}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(s.record, s.authorize)

	g := e.Group("/fhir")
	g.GET("/$export", s.kickOff)
	g.POST("/$export", s.kickOff)
	g.GET("/Patient/$export", s.kickOff)
	g.POST("/Patient/$export", s.kickOff)
	g.GET("/Group/:id/$export", s.kickOff)
	g.POST("/Group/:id/$export", s.kickOff)

	e.GET("/status/:job", s.status)
	e.DELETE("/status/:job", s.delete)
	e.GET("/files/*", s.file)
	e.GET("/attachments/:name", s.attachment)

	s.Server = httptest.NewServer(e)
	return s
}

// FHIRURL is the base URL exports are kicked off against.
func (s *Server) FHIRURL() string {
	return s.URL + "/fhir"
}

func (s *Server) StatusURL() string {
	return s.URL + "/status/1"
}

func (s *Server) AttachmentURL(name string) string {
	return s.URL + "/attachments/" + name
}

func (s *Server) FileURL(name string) string {
	return s.URL + "/files/" + name
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Request(nil), s.requests...)
}

// RequestsTo returns the recorded requests with the given method and path prefix.
func (s *Server) RequestsTo(method, prefix string) []Request {
	var res []Request
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			res = append(res, r)
		}
	}
	return res
}

func (s *Server) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.polls
}

func (s *Server) Deleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deleted
}

func (s *Server) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		var body []byte
		if req.Body != nil {
			body, _ = io.ReadAll(req.Body)
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method: req.Method,
			Path:   req.URL.Path,
			Query:  req.URL.Query(),
			Header: req.Header.Clone(),
			Body:   body,
		})
		s.mu.Unlock()

		return next(c)
	}
}

func (s *Server) authorize(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cfg.Token == "" {
			return next(c)
		}

		switch c.Request().Header.Get("Authorization") {
		case "Bearer " + s.cfg.Token:
			return next(c)
		case "Bearer " + s.cfg.ExpiredToken:
			return c.JSON(http.StatusUnauthorized, fhir.NewOperationOutcome("error", "expired", "access token expired"))
		}

		return c.JSON(http.StatusUnauthorized, fhir.NewOperationOutcome("error", "login", "authentication required"))
	}
}

func (s *Server) kickOff(c echo.Context) error {
	if s.cfg.KickOffStatus != 0 {
		return c.JSON(s.cfg.KickOffStatus, fhir.NewOperationOutcome("error", "invalid", "export rejected"))
	}

	if !s.cfg.NoContentLocation {
		location := s.StatusURL()
		if s.cfg.RelativeLocation {
			location = "/status/1"
		}
		c.Response().Header().Set("Content-Location", location)
	}

	return c.JSON(http.StatusAccepted, fhir.NewOperationOutcome("information", "informational", "export started"))
}

func (s *Server) status(c echo.Context) error {
	s.mu.Lock()
	s.polls++
	polls := s.polls
	s.mu.Unlock()

	if polls <= s.cfg.TransientPolls {
		return c.JSON(http.StatusServiceUnavailable, fhir.NewOperationOutcome("error", "transient", "try again later"))
	}

	if polls <= s.cfg.TransientPolls+s.cfg.PendingPolls {
		if s.cfg.Progress != "" {
			c.Response().Header().Set("X-Progress", s.cfg.Progress)
		}
		c.Response().Header().Set("Retry-After", "1")
		return c.NoContent(http.StatusAccepted)
	}

	if s.cfg.PollStatus != 0 {
		return c.NoContent(s.cfg.PollStatus)
	}

	if s.cfg.LinkManifest {
		links := make([]string, 0, len(s.cfg.Files))
		for _, f := range s.cfg.Files {
			links = append(links, fmt.Sprintf("<%s>;rel=meta", s.FileURL(f.Name)))
		}
		c.Response().Header().Set("Link", strings.Join(links, ", "))
		return c.NoContent(http.StatusOK)
	}

	return c.JSON(http.StatusOK, s.manifest())
}

func (s *Server) manifest() fhir.Manifest {
	m := fhir.Manifest{
		TransactionTime:     "2024-01-01T00:00:00Z",
		Request:             s.FHIRURL() + "/$export",
		RequiresAccessToken: s.cfg.Token != "",
		Output:              []fhir.OutputFile{},
		Error:               []fhir.OutputFile{},
	}

	for _, f := range s.cfg.Files {
		out := fhir.OutputFile{Type: f.Type, URL: s.FileURL(f.Name), Count: strings.Count(f.Body, "\n")}
		switch f.Kind {
		case "deleted":
			m.Deleted = append(m.Deleted, out)
		case "error":
			m.Error = append(m.Error, out)
		default:
			m.Output = append(m.Output, out)
		}
	}

	return m
}

func (s *Server) delete(c echo.Context) error {
	if s.cfg.DeleteStatus != 0 {
		return c.JSON(s.cfg.DeleteStatus, fhir.NewOperationOutcome("error", "processing", "can not delete"))
	}

	s.mu.Lock()
	s.deleted = true
	s.mu.Unlock()

	return c.NoContent(http.StatusAccepted)
}

func (s *Server) file(c echo.Context) error {
	name := c.Param("*")
	for _, f := range s.cfg.Files {
		if f.Name != name {
			continue
		}

		if f.Delay > 0 {
			select {
			case <-time.After(f.Delay):
			case <-c.Request().Context().Done():
				return nil
			}
		}
		if f.Status != 0 {
			return c.JSON(f.Status, fhir.NewOperationOutcome("error", "processing", "file unavailable"))
		}

		body := strings.ReplaceAll(f.Body, BaseURL, s.URL)
		if s.cfg.Gzip && strings.Contains(c.Request().Header.Get("Accept-Encoding"), "gzip") {
			var buf bytes.Buffer
			gz := gzip.NewWriter(&buf)
			_, _ = gz.Write([]byte(body))
			_ = gz.Close()

			c.Response().Header().Set("Content-Encoding", "gzip")
			return c.Blob(http.StatusOK, fhir.ContentTypeNDJSON, buf.Bytes())
		}

		return c.Blob(http.StatusOK, fhir.ContentTypeNDJSON, []byte(body))
	}

	return c.JSON(http.StatusNotFound, fhir.NewOperationOutcome("error", "not-found", name+" not found"))
}

func (s *Server) attachment(c echo.Context) error {
	data, ok := s.cfg.Attachments[c.Param("name")]
	if !ok {
		return c.NoContent(http.StatusNotFound)
	}
	return c.Blob(http.StatusOK, "application/octet-stream", data)
}
