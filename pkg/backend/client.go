// Package backend is the HTTP client for the pharmacy backend. It implements
// the collaborator interfaces of the chat, checkout and admin packages.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultBaseURL is used when no backend address is configured.
const DefaultBaseURL = "http://localhost:8000"

// ErrUnreachable wraps transport failures and timeouts.
var ErrUnreachable = errors.New("unable to connect to the pharmacy backend")

// APIError is a rejection reported by the backend, either as a non-2xx
// status or as an {"error": ...} body.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error (%d): %s", e.Status, e.Message)
}

// IsAPIError reports whether err carries a backend rejection.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// Client talks to one backend base URL.
type Client struct {
	baseURL string
	http    *http.Client
	logger  logrus.FieldLogger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// New builds a client for baseURL; an empty baseURL means DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	return c
}

// BaseURL returns the backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, "", out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "encode %s body", path)
	}
	return c.do(ctx, method, path, bytes.NewReader(body), "application/json", out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{"method": method, "path": path}).Debug("backend unreachable")
		return errors.WithMessage(ErrUnreachable, err.Error())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WithMessage(ErrUnreachable, err.Error())
	}
	if msg, ok := errorMessage(data); ok || resp.StatusCode < 200 || resp.StatusCode > 299 {
		if !ok {
			msg = strings.TrimSpace(string(data))
			if msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", method, path)
	}
	return nil
}

// errorMessage extracts the message of an {"error": ...} body.
func errorMessage(data []byte) (string, bool) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", false
	}
	var body struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &body); err != nil || body.Error == nil {
		return "", false
	}
	return *body.Error, true
}

// multipartBody encodes fields and one file part.
func multipartBody(fields map[string]string, fileField, fileName string, file io.Reader) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile(fileField, fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func escape(segment string) string {
	return url.PathEscape(segment)
}
