// Package upstream implements the thin HTTP client that mirrors package
// metadata and tarballs from the configured upstream registry.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/clefregistry/clef/internal/apierr"
)

const userAgent = "clef-registry/1.0"

// MetadataResult is the outcome of a conditional metadata fetch.
type MetadataResult struct {
	NotModified bool
	JSON        []byte
	ETag        string
}

// TarballResult is the outcome of a tarball fetch.
type TarballResult struct {
	Bytes []byte
	ETag  string
}

// Client talks to the upstream registry over HTTP, with connection reuse
// and an optional rate limiter so a single hot package can't exhaust
// upstream goodwill.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// defaultBurst is the token bucket's burst capacity (one cache-stampede
// worth of simultaneous requests), shared by every New call that doesn't
// override it via NewWithBurst.
const defaultBurst = 20

// New builds a client against baseURL. requestsPerSecond <= 0 disables
// rate limiting.
func New(baseURL string, timeout time.Duration, requestsPerSecond float64) *Client {
	return NewWithBurst(baseURL, timeout, requestsPerSecond, defaultBurst)
}

// NewWithBurst is New with an explicit token bucket burst size.
func NewWithBurst(baseURL string, timeout time.Duration, requestsPerSecond float64, burst int) *Client {
	c := &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	if requestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return c
}

func (c *Client) await(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	return c.http.Do(req)
}

// GetMetadata fetches a package's registry document, sending
// If-None-Match when ifNoneMatch is non-empty.
func (c *Client) GetMetadata(ctx context.Context, packageName, ifNoneMatch string) (*MetadataResult, error) {
	if err := c.await(ctx); err != nil {
		return nil, apierr.Network("rate limiter wait failed: %v", err)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, packageName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apierr.Internal("building upstream request: %v", err)
	}
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, apierr.Network("upstream request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &MetadataResult{NotModified: true}, nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apierr.NotFound("package %q not found upstream", packageName)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierr.Upstream("upstream returned status %d for %q", resp.StatusCode, packageName)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Network("reading upstream response: %v", err)
	}

	return &MetadataResult{JSON: body, ETag: resp.Header.Get("ETag")}, nil
}

// GetVersionMetadata fetches a single version's registry document.
func (c *Client) GetVersionMetadata(ctx context.Context, packageName, version string) ([]byte, error) {
	if err := c.await(ctx); err != nil {
		return nil, apierr.Network("rate limiter wait failed: %v", err)
	}

	url := fmt.Sprintf("%s/%s/%s", c.baseURL, packageName, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apierr.Internal("building upstream request: %v", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, apierr.Network("upstream request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apierr.NotFound("package %q version %q not found upstream", packageName, version)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierr.Upstream("upstream returned status %d for %q@%q", resp.StatusCode, packageName, version)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Network("reading upstream response: %v", err)
	}
	return body, nil
}

// GetTarball fetches a tarball's bytes.
func (c *Client) GetTarball(ctx context.Context, packageName, filename string) (*TarballResult, error) {
	if err := c.await(ctx); err != nil {
		return nil, apierr.Network("rate limiter wait failed: %v", err)
	}

	url := fmt.Sprintf("%s/%s/-/%s", c.baseURL, packageName, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apierr.Internal("building upstream request: %v", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, apierr.Network("upstream request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apierr.NotFound("tarball %q not found upstream for %q", filename, packageName)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apierr.Upstream("upstream returned status %d for tarball %q", resp.StatusCode, filename)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Network("reading upstream tarball: %v", err)
	}
	return &TarballResult{Bytes: body, ETag: resp.Header.Get("ETag")}, nil
}

// ProxyJSON forwards an arbitrary JSON POST body to baseURL/path and
// returns the upstream response verbatim, for endpoints this server has
// no opinion about and simply relays (the npm security-advisory audit
// endpoints).
func (c *Client) ProxyJSON(ctx context.Context, path string, body []byte) ([]byte, int, error) {
	if err := c.await(ctx); err != nil {
		return nil, 0, apierr.Network("rate limiter wait failed: %v", err)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, apierr.Internal("building upstream request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, 0, apierr.Network("upstream request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, apierr.Network("reading upstream response: %v", err)
	}
	return respBody, resp.StatusCode, nil
}

// HeadTarball checks only for the tarball's existence upstream.
func (c *Client) HeadTarball(ctx context.Context, packageName, filename string) error {
	if err := c.await(ctx); err != nil {
		return apierr.Network("rate limiter wait failed: %v", err)
	}

	url := fmt.Sprintf("%s/%s/-/%s", c.baseURL, packageName, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return apierr.Internal("building upstream request: %v", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return apierr.Network("upstream request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apierr.NotFound("tarball %q not found upstream for %q", filename, packageName)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apierr.Upstream("upstream returned status %d for tarball %q", resp.StatusCode, filename)
	}
	return nil
}
