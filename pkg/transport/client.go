package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrBodyTooLarge is returned when a response body exceeds MaxBodySize.
var ErrBodyTooLarge = errors.New("transport: body exceeds size limit")

// Response is a message returned on the back-channel of an exchange. A
// response with an empty Body carries no ebMS message.
type Response struct {
	// Status is the HTTP status code. The server treats zero as 200.
	Status      int
	ContentType string
	Body        []byte
}

// Empty reports whether the response carries no message.
func (r *Response) Empty() bool {
	return r == nil || len(r.Body) == 0
}

// StatusError reports a non-2xx HTTP status from the receiving MSH. The
// body is kept since gateways often return an ebMS Error signal with it.
type StatusError struct {
	Code        int
	ContentType string
	Body        []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: unexpected status code %d", e.Code)
}

// Retryable reports whether another attempt may succeed. Server errors,
// timeouts and throttling are retryable; other client errors are not.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

// HTTPSClient posts serialized messages to a receiving MSH
type HTTPSClient struct {
	http  *http.Client
	limit int64
}

// NewHTTPSClient builds a client with pooled connections. A nil config
// means DefaultHTTPSConfig.
func NewHTTPSClient(config *HTTPSConfig) *HTTPSClient {
	if config == nil {
		config = DefaultHTTPSConfig()
	}
	return &HTTPSClient{
		http: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				TLSClientConfig:     config.tlsConfig(false),
				IdleConnTimeout:     config.IdleConnTimeout,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
			},
		},
		limit: config.maxBodySize(),
	}
}

// Send posts a serialized message to endpoint and returns the synchronous
// response. The body is streamed; callers pass a fresh reader per attempt.
// A non-2xx status yields a *StatusError.
func (c *HTTPSClient) Send(ctx context.Context, endpoint string, body io.Reader, contentType string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)
	// SOAP 1.2 carries the action in the content type
	req.Header.Set("SOAPAction", "")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	out := &Response{Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	if out.Body, err = readLimited(resp.Body, c.limit); err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &StatusError{Code: out.Status, ContentType: out.ContentType, Body: out.Body}
	}
	return out, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	switch {
	case err != nil:
		return nil, err
	case int64(len(data)) > limit:
		return nil, ErrBodyTooLarge
	}
	return data, nil
}
