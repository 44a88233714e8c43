package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public tria.ge API root.
	DefaultBaseURL = "https://api.tria.ge/v0"
	// DefaultTimeout bounds every request when the caller does not set one.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 64 << 10
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	AccessKey string
	UserAgent string
	Timeout   time.Duration
	// Transport replaces the default tuned transport, e.g. with a tracing wrapper.
	Transport http.RoundTripper
}

// Client talks to the sandbox REST API. Every request carries the bearer
// credential and the configured User-Agent.
type Client struct {
	baseURL   string
	accessKey string
	userAgent string
	http      *http.Client
}

// NewClient validates opts and returns a ready Client.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := opts.Transport
	if transport == nil {
		transport = NewTransport()
	}
	return &Client{
		baseURL:   base,
		accessKey: opts.AccessKey,
		userAgent: opts.UserAgent,
		http:      &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

// NewTransport returns the tuned transport used when Options.Transport is nil.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: DefaultTimeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Report returns the raw static report document of a sample.
func (c *Client) Report(ctx context.Context, sampleID string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/samples/"+url.PathEscape(sampleID)+"/reports/static", nil, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, "report "+sampleID)
}

// Download returns the raw bytes of the submitted sample.
func (c *Client) Download(ctx context.Context, sampleID string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/samples/"+url.PathEscape(sampleID)+"/sample", nil, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, "download "+sampleID)
}

// Sample returns the current submission record, including its status.
func (c *Client) Sample(ctx context.Context, sampleID string) (SampleInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/samples/"+url.PathEscape(sampleID), nil, nil)
	if err != nil {
		return SampleInfo{}, err
	}
	body, err := c.do(req, "sample "+sampleID)
	if err != nil {
		return SampleInfo{}, err
	}
	var info SampleInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return SampleInfo{}, fmt.Errorf("decode sample %s: %w", sampleID, err)
	}
	return info, nil
}

// SubmitURL submits a URL for analysis.
func (c *Client) SubmitURL(ctx context.Context, target string) (SampleInfo, error) {
	if strings.TrimSpace(target) == "" {
		return SampleInfo{}, errors.New("url is required")
	}
	payload, err := json.Marshal(map[string]any{
		"kind":        "url",
		"url":         target,
		"interactive": false,
	})
	if err != nil {
		return SampleInfo{}, fmt.Errorf("marshal submission: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/samples", nil, bytes.NewReader(payload))
	if err != nil {
		return SampleInfo{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.submit(req)
}

// SubmitFile uploads a file for analysis.
func (c *Client) SubmitFile(ctx context.Context, filename string, content io.Reader) (SampleInfo, error) {
	if content == nil {
		return SampleInfo{}, errors.New("file content is required")
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("_json", `{"kind":"file","interactive":false}`); err != nil {
		return SampleInfo{}, fmt.Errorf("write submission fields: %w", err)
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return SampleInfo{}, fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return SampleInfo{}, fmt.Errorf("copy file content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return SampleInfo{}, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/samples", nil, &buf)
	if err != nil {
		return SampleInfo{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.submit(req)
}

func (c *Client) submit(req *http.Request) (SampleInfo, error) {
	body, err := c.do(req, "submit")
	if err != nil {
		return SampleInfo{}, err
	}
	var info SampleInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return SampleInfo{}, fmt.Errorf("decode submission: %w", err)
	}
	return info, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.accessKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessKey)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

// do executes req and returns the body of a 200 response. Any other status is
// a *RemoteError.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &RemoteError{Op: op, StatusCode: resp.StatusCode, Body: data}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	return data, nil
}
