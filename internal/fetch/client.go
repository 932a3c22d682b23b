// Package fetch provides the retrying HTTP client and the FTP client shared by
// all connectors. Responses below a minimum size or outside the expected
// content types are rejected so decoders never see error pages.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vthamada/territorial-intelligence-platform-sub000/internal/logger"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// ErrLoginWall is surfaced when the final URL of a redirect chain lands on a
// login page; callers treat it as a warning, not a failure.
var ErrLoginWall = errors.New("source redirected to a login wall")

// ErrTooSmall rejects payloads under the caller's minimum size.
var ErrTooSmall = errors.New("response smaller than the configured minimum")

// ErrContentType rejects payloads outside the expected content types.
var ErrContentType = errors.New("response content type not in the expected set")

// Client wraps http.Client with bounded exponential-backoff retries and the
// guards connectors rely on.
type Client struct {
	http           *http.Client
	maxRetries     int
	backoffSeconds float64
	appLogger      *logger.Logger
}

// DownloadOptions tune a single download.
type DownloadOptions struct {
	ExpectedContentTypes []string
	MinBytes             int
	Method               string
	Body                 string
	Headers              map[string]string
}

func NewClient(timeoutSeconds, maxRetries int, backoffSeconds float64, appLogger *logger.Logger) *Client {
	transport := &http.Transport{
		// Trust-no-env stance: never pick up proxies from the environment.
		Proxy:                 nil,
		ResponseHeaderTimeout: time.Duration(timeoutSeconds) * time.Second,
	}

	return &Client{
		http: &http.Client{
			Timeout:   time.Duration(timeoutSeconds) * time.Second,
			Transport: transport,
		},
		maxRetries:     maxRetries,
		backoffSeconds: backoffSeconds,
		appLogger:      appLogger,
	}
}

// DownloadBytes fetches a URI with retries, returning the payload and the
// response content type. Login-wall redirects map to ErrLoginWall.
func (c *Client) DownloadBytes(ctx context.Context, uri string, opts DownloadOptions) ([]byte, string, error) {
	const component = "FetchClient"

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var payload []byte
	var contentType string

	operation := func() error {
		var bodyReader io.Reader
		if opts.Body != "" {
			bodyReader = strings.NewReader(opts.Body)
		}

		req, err := http.NewRequestWithContext(ctx, method, uri, bodyReader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", defaultUserAgent)
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
		if opts.Body != "" && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.appLogger.Warn(component, "Request failed, may retry: uri=%s error=%v", uri, err)
			return err
		}
		defer resp.Body.Close()

		if finalURL := resp.Request.URL.String(); strings.Contains(finalURL, "require_login") {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrLoginWall, finalURL))
		}

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("request to %s rejected with status %d", uri, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("request to %s returned status %d", uri, resp.StatusCode)
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if opts.MinBytes > 0 && len(raw) < opts.MinBytes {
			return backoff.Permanent(fmt.Errorf("%w: got %d bytes from %s", ErrTooSmall, len(raw), uri))
		}

		ct := resp.Header.Get("Content-Type")
		if len(opts.ExpectedContentTypes) > 0 && !contentTypeAllowed(ct, opts.ExpectedContentTypes) {
			return backoff.Permanent(fmt.Errorf("%w: got %q from %s", ErrContentType, ct, uri))
		}

		payload = raw
		contentType = ct
		return nil
	}

	err := backoff.Retry(operation, c.retryPolicy(ctx))
	if err != nil {
		return nil, "", err
	}

	c.appLogger.Debug(component, "Download completed: uri=%s bytes=%d contentType=%s", uri, len(payload), contentType)
	return payload, contentType, nil
}

// GetJSON fetches a URI with query params and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, uri string, headers, params map[string]string, v any) error {
	target := uri
	if len(params) > 0 {
		q := url.Values{}
		for k, val := range params {
			q.Set(k, val)
		}
		sep := "?"
		if strings.Contains(uri, "?") {
			sep = "&"
		}
		target = uri + sep + q.Encode()
	}

	raw, _, err := c.DownloadBytes(ctx, target, DownloadOptions{
		Headers:              headers,
		ExpectedContentTypes: []string{"application/json", "text/json", "application/geo+json"},
	})
	if err != nil {
		return err
	}
	return decodeJSON(raw, v)
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Duration(c.backoffSeconds * float64(time.Second))),
	)
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.maxRetries)), ctx)
}

func contentTypeAllowed(got string, expected []string) bool {
	for _, e := range expected {
		if strings.Contains(strings.ToLower(got), strings.ToLower(e)) {
			return true
		}
	}
	return false
}
