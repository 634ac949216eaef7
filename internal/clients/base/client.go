// Package base provides the shared HTTP plumbing for the inference service
// clients (embedding and reranking).
package base

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/WillIsback/clea-api/internal/config"
)

// Default timeout for inference calls.
const DefaultTimeout = 30 * time.Second

// Model failure taxonomy. Both are terminal from the caller's perspective:
// the search layer degrades instead of retrying.
var (
	// ErrModelUnavailable reports an unreachable or unloaded model service.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInferenceFailed reports a runtime failure inside the model service.
	ErrInferenceFailed = errors.New("inference failed")
)

// ClientError carries the context of a failed HTTP operation.
type ClientError struct {
	Op         string // the operation that failed
	Service    string // the service name
	StatusCode int    // HTTP status code, when one was received
	Err        error  // the underlying error
}

func (e *ClientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("client: %s %s failed with status %d: %v",
			e.Service, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("client: %s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// NewClientError creates a ClientError for a transport-level failure. The
// wrapped error is ErrModelUnavailable: nothing was inferred.
func NewClientError(service, op string, err error) *ClientError {
	return &ClientError{
		Op:      op,
		Service: service,
		Err:     fmt.Errorf("%w: %v", ErrModelUnavailable, err),
	}
}

// NewHTTPError creates a ClientError from a non-200 HTTP status. 5xx and 404
// map to ErrModelUnavailable, anything else to ErrInferenceFailed.
func NewHTTPError(service, op string, statusCode int, body string) *ClientError {
	kind := ErrInferenceFailed
	if statusCode >= 500 || statusCode == 404 {
		kind = ErrModelUnavailable
	}
	return &ClientError{
		Op:         op,
		Service:    service,
		StatusCode: statusCode,
		Err:        fmt.Errorf("%w: HTTP %d: %s", kind, statusCode, body),
	}
}

// HTTPClient wraps resty with the timeout, auth and retry settings every
// inference client shares.
type HTTPClient struct {
	client  *resty.Client
	service string
}

// NewHTTPClient creates an HTTP client for one inference service.
func NewHTTPClient(service string, cfg config.ServiceConfig, timeout time.Duration) *HTTPClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second)

	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= 500
	})

	return &HTTPClient{
		client:  client,
		service: service,
	}
}

// Post performs a POST request carrying the caller's context and decodes the
// JSON response into result.
func (h *HTTPClient) Post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		ForceContentType("application/json").
		Post(endpoint)

	if err != nil {
		return NewClientError(h.service, "POST "+endpoint, err)
	}

	if resp.StatusCode() != 200 {
		return NewHTTPError(h.service, "POST "+endpoint, resp.StatusCode(), resp.String())
	}

	return nil
}
