package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/utils"
)

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	DisableCompression  bool
	InsecureSkipVerify  bool
	Transport           http.RoundTripper
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithMaxIdleConns sets the maximum number of idle connections
func WithMaxIdleConns(max int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxIdleConns = max
	}
}

// WithMaxIdleConnsPerHost sets the maximum number of idle connections per host
func WithMaxIdleConnsPerHost(max int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxIdleConnsPerHost = max
	}
}

// WithoutKeepAlives disables keep-alives
func WithoutKeepAlives() ClientOption {
	return func(c *ClientConfig) {
		c.DisableKeepAlives = true
	}
}

// WithTransport sets a custom transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// WithInsecureSkipVerify disables TLS certificate verification
func WithInsecureSkipVerify() ClientOption {
	return func(c *ClientConfig) {
		c.InsecureSkipVerify = true
	}
}

// NewHTTPClient creates a new HTTP client with the given options
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()

	for _, opt := range opts {
		opt(&cfg)
	}

	var transport http.RoundTripper
	if cfg.Transport != nil {
		transport = cfg.Transport
	} else {
		httpTransport := &http.Transport{
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
			DisableKeepAlives:   cfg.DisableKeepAlives,
			DisableCompression:  cfg.DisableCompression,
		}

		if cfg.InsecureSkipVerify {
			httpTransport.TLSClientConfig = &tls.Config{
				InsecureSkipVerify: true,
			}
		}

		transport = httpTransport
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// NewHTTPClientWithTimeout creates a new HTTP client with the specified timeout
func NewHTTPClientWithTimeout(timeout time.Duration) *http.Client {
	return NewHTTPClient(WithTimeout(timeout))
}

// RetryConfig for HTTP request retry logic
type RetryConfig struct {
	MaxAttempts          int
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	BackoffFactor        float64
	JitterFactor         float64
	RetryableStatusCodes []int
}

// DefaultRetryConfig returns sensible defaults for HTTP retries
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
		RetryableStatusCodes: []int{
			http.StatusRequestTimeout,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

// Response represents an HTTP response with its body pre-read
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
}

// DecodeJSON unmarshals the response body into v
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.InternalError("failed to decode response body", err)
	}
	return nil
}

// Client wraps http.Client with retries and bearer authorization
type Client struct {
	client      *http.Client
	retryConfig *RetryConfig
}

// NewClient creates a wrapped HTTP client
func NewClient(opts ...ClientOption) *Client {
	return &Client{
		client:      NewHTTPClient(opts...),
		retryConfig: DefaultRetryConfig(),
	}
}

// WithRetryConfig sets custom retry configuration
func (c *Client) WithRetryConfig(config *RetryConfig) *Client {
	c.retryConfig = config
	return c
}

// RequestOptions describes a single HTTP request
type RequestOptions struct {
	Method      string
	URL         string
	Body        io.Reader
	Headers     map[string]string
	BearerToken string
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.Do(ctx, &RequestOptions{Method: http.MethodGet, URL: url, Headers: headers})
}

// GetWithBearer performs a GET request with a bearer token
func (c *Client) GetWithBearer(ctx context.Context, url, token string, headers map[string]string) (*Response, error) {
	return c.Do(ctx, &RequestOptions{Method: http.MethodGet, URL: url, Headers: headers, BearerToken: token})
}

// Post performs a POST request
func (c *Client) Post(ctx context.Context, url string, body io.Reader, headers map[string]string) (*Response, error) {
	return c.Do(ctx, &RequestOptions{Method: http.MethodPost, URL: url, Body: body, Headers: headers})
}

// Do performs an HTTP request with retries on transient failures
func (c *Client) Do(ctx context.Context, opts *RequestOptions) (*Response, error) {
	bodyBytes, err := readRequestBody(opts.Body)
	if err != nil {
		return nil, errors.InternalError("failed to read request body", err)
	}

	retryConfig := utils.RetryConfig{
		MaxAttempts:   c.retryConfig.MaxAttempts,
		InitialDelay:  c.retryConfig.InitialDelay,
		MaxDelay:      c.retryConfig.MaxDelay,
		BackoffFactor: c.retryConfig.BackoffFactor,
		JitterFactor:  c.retryConfig.JitterFactor,
		RetryableErrors: func(err error) bool {
			return c.isRetryableError(err)
		},
	}

	var response *Response
	err = utils.RetryWithBackoff(ctx, retryConfig, func() error {
		var reqErr error
		response, reqErr = c.executeRequest(ctx, opts, bodyBytes)
		return reqErr
	})

	return response, err
}

func readRequestBody(body io.Reader) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	return io.ReadAll(body)
}

// executeRequest executes a single HTTP request attempt
func (c *Client) executeRequest(ctx context.Context, opts *RequestOptions, bodyBytes []byte) (*Response, error) {
	start := time.Now()

	var bodyReader io.Reader
	if bodyBytes != nil {
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, bodyReader)
	if err != nil {
		return nil, errors.InternalError("failed to create request", err)
	}

	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	if opts.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+opts.BearerToken)
	}

	resp, err := c.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return nil, errors.VendorAPIError("request failed: "+err.Error(), 0)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.InternalError("failed to read response body", err)
	}

	headers := make(map[string]string)
	for name, values := range resp.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	response := &Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       responseBody,
		Duration:   duration,
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return response, nil
	}

	return response, errors.VendorAPIError(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(responseBody)), resp.StatusCode)
}

// shouldRetryStatusCode checks if a status code should trigger a retry
func (c *Client) shouldRetryStatusCode(statusCode int) bool {
	if statusCode >= 500 {
		return true
	}

	for _, code := range c.retryConfig.RetryableStatusCodes {
		if statusCode == code {
			return true
		}
	}

	return false
}

// isRetryableError determines if an error should trigger a retry
func (c *Client) isRetryableError(err error) bool {
	if !errors.IsType(err, errors.ErrTypeVendorAPI) {
		return false
	}

	// Status 0 means the request never completed
	status := errors.StatusCode(err)
	if status == 0 {
		return true
	}

	return c.shouldRetryStatusCode(status)
}

// HTTPClient returns the underlying http.Client
func (c *Client) HTTPClient() *http.Client {
	return c.client
}
