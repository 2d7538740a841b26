// Package client implements the remote collaborators of the order service
// over HTTP: the customer directory, the product catalog and the payment
// gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const defaultTimeout = 5 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 4 << 10

// errMalformedResponse marks a 2xx response whose body could not be decoded.
var errMalformedResponse = errors.New("malformed response body")

// Config configures a remote service client.
type Config struct {
	BaseURL string
	// Timeout bounds a whole request, including reading the body.
	Timeout        time.Duration
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// StatusError is returned when a remote service answers with an unexpected
// status code.
type StatusError struct {
	Service string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.Status, e.Message)
}

// isTimeout reports whether err ended a request after it may have reached
// the remote service.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// errorBody is the error payload returned by the remote services.
type errorBody struct {
	Message   string `json:"message"`
	ProductID *int64 `json:"productId,omitempty"`
}

type baseClient struct {
	service string
	baseURL string
	http    *http.Client
}

func newBaseClient(service string, cfg Config) (baseClient, error) {
	if cfg.BaseURL == "" {
		return baseClient{}, errors.Errorf("%s: base url is required", service)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	var opts []otelhttp.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, otelhttp.WithMeterProvider(cfg.MeterProvider))
	}

	return baseClient{
		service: service,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
		},
	}, nil
}

// do sends a JSON request and decodes a 2xx JSON response into out. Any
// other status is returned as a *StatusError together with the decoded
// error body.
func (c baseClient) do(ctx context.Context, method, path string, in, out any) (*errorBody, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if json.Unmarshal(raw, &eb) != nil {
			eb.Message = strings.TrimSpace(string(raw))
		}
		return &eb, &StatusError{Service: c.service, Status: resp.StatusCode, Message: eb.Message}
	}

	if out == nil {
		return nil, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w: %w", c.service, errMalformedResponse, err)
	}
	return nil, nil
}
