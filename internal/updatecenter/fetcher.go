package updatecenter

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"updatecenter/pkg/logging"
)

// FetchResult is the payload and metadata returned by the HTTP Fetcher.
type FetchResult struct {
	Body          io.ReadCloser
	ContentLength int64 // -1 if the server did not declare one
	FinalURL      string
	StatusCode    int
}

// Fetcher performs proxy-aware GETs with bounded read timeouts and
// transient-error retry, grounded on the retryablehttp client so a flaky
// update site doesn't fail an install outright.
type Fetcher struct {
	client      *retryablehttp.Client
	readTimeout time.Duration
}

// NewFetcher builds a Fetcher. proxyURL, if non-empty, routes every request
// through that proxy regardless of the process environment.
func NewFetcher(readTimeout time.Duration, proxyURL string) (*Fetcher, error) {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	client := retryablehttp.NewClient()
	client.HTTPClient.Transport = transport
	client.HTTPClient.Timeout = readTimeout
	client.RetryMax = 3
	client.Logger = nil // the default logger is noisy; we log via pkg/logging ourselves
	client.CheckRetry = checkRetry

	return &Fetcher{client: client, readTimeout: readTimeout}, nil
}

// checkRetry classifies responses/errors the way the spec's NetworkError
// taxonomy does: 5xx and connection failures are transient and worth
// retrying; certificate errors are re-raised untouched because retrying
// them can never succeed.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err != nil {
		if looksLikeCertificateError(err) {
			return false, err
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Open performs the GET, following redirects by default and reporting the
// final response URL for diagnostics.
func (f *Fetcher) Open(ctx context.Context, targetURL string) (*FetchResult, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, &NetworkError{URL: targetURL, Transient: false, Cause: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if looksLikeCertificateError(err) {
			return nil, &CertificateError{URL: targetURL, Cause: err}
		}
		logging.Warn("Fetcher", "request to %s failed: %v", targetURL, err)
		return nil, &NetworkError{URL: targetURL, Transient: true, Cause: err}
	}

	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &NetworkError{
			URL:       targetURL,
			Transient: resp.StatusCode >= 500,
			Cause:     httpStatusError(resp.StatusCode),
		}
	}

	finalURL := targetURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &FetchResult{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		FinalURL:      finalURL,
		StatusCode:    resp.StatusCode,
	}, nil
}

type httpStatusErr struct{ code int }

func (e httpStatusErr) Error() string { return http.StatusText(e.code) }

func httpStatusError(code int) error { return httpStatusErr{code: code} }

// connectionCheckURL appends the uctest probe parameter per §6's URL
// convention (? if no query exists yet, & otherwise).
func connectionCheckURL(base string) string {
	if parsed, err := url.Parse(base); err == nil && parsed.RawQuery != "" {
		return base + "&uctest"
	}
	return base + "?uctest"
}
