package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/brewvault/brewsync/internal/config"
	"github.com/brewvault/brewsync/internal/events"
	"github.com/brewvault/brewsync/internal/models"
)

// HTTPClient handles JSON communication with the remote API.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	token     string
	logger    *events.Logger

	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Second,
		logger:     logger.WithField("component", "http_client"),
	}
}

// SetToken sets the authentication token.
func (c *HTTPClient) SetToken(token string) { c.token = token }

// GetToken returns the current authentication token.
func (c *HTTPClient) GetToken() string { return c.token }

// BaseURL returns the configured API base URL.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// DoJSON executes a JSON request with retry and decodes the response.
func (c *HTTPClient) DoJSON(ctx context.Context, method, path string, payload, out interface{}) error {
	url := c.baseURL + path

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"method": method,
		"url":    url,
		"size":   len(body),
	}).Debug("Sending request")

	var respBody []byte
	var statusCode int

	err := c.retry(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return classifyTransportErr(method, url, err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return &models.NetworkError{Op: method, URL: url, Err: err}
		}
		statusCode = resp.StatusCode

		if isRetryable(resp.StatusCode) {
			return apiError(resp.StatusCode, respBody)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.WithFields(map[string]interface{}{
		"status": statusCode,
		"size":   len(respBody),
	}).Debug("Received response")

	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", models.ErrNotAuthenticated, apiError(statusCode, respBody))
	}
	if statusCode < 200 || statusCode >= 300 {
		return apiError(statusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// retry executes fn with exponential backoff on transient failures.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Debug("Retrying request")

			select {
			case <-ctx.Done():
				return &models.NetworkError{Op: "retry wait", Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !models.IsTransient(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func classifyTransportErr(method, url string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &models.NetworkError{Op: method, URL: url, Err: err}
	}
	// url.Error wraps dial failures that do not satisfy net.Error.
	return &models.NetworkError{Op: method, URL: url, Err: err}
}

func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func apiError(status int, body []byte) error {
	var apiErr models.APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		apiErr.StatusCode = status
		return &apiErr
	}
	return &models.APIError{
		StatusCode: status,
		Code:       models.ErrCodeServer,
		Message:    string(bytes.TrimSpace(body)),
	}
}
