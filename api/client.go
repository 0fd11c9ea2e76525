// Package api is the HTTP client for the groupware backend. Every call
// returns the decoded envelope payload or one of the error kinds in
// errors.go.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout = 15 * time.Second

	// maxResponseSize bounds envelope bodies read into memory.
	maxResponseSize = 16 << 20
)

// TokenFunc returns the current auth token, or "" when logged out.
type TokenFunc func() string

type Options struct {
	BaseURL string
	Timeout time.Duration
	Token   TokenFunc
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenFunc
	log        *slog.Logger
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	token := opts.Token
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		token:      token,
		log:        slog.With("module", "api"),
	}
}

// WithToken returns a client sharing the transport but authenticating with
// a fixed token, e.g. a fresh login token not yet persisted.
func (c *Client) WithToken(token string) *Client {
	copied := *c
	copied.token = func() string { return token }
	return &copied
}

// Do sends body as JSON and decodes the envelope payload into out.
// body and out may be nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, contentType, reader, out)
}

// upload streams r as the multipart field "file".
func (c *Client) upload(ctx context.Context, path, fileName string, r io.Reader, out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	err := c.send(ctx, http.MethodPost, path, mw.FormDataContentType(), pr, out)
	// Unblocks the writer goroutine if the request ended early.
	pr.Close()
	return err
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		netErr := &NetworkError{Method: method, Path: path, Err: err}
		c.log.Warn("request failed", "method", method, "path", path, "timeout", netErr.Timeout(), "error", err)
		return netErr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &NetworkError{Method: method, Path: path, Err: fmt.Errorf("read response: %w", err)}
	}

	c.log.Debug("request done", "method", method, "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

	var env Envelope
	jsonErr := json.Unmarshal(data, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		appErr := &AppError{Status: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
		if jsonErr == nil && env.Msg != "" {
			appErr.Msg = env.Msg
		}
		return appErr
	}

	if jsonErr != nil {
		return &AppError{Status: resp.StatusCode, Msg: "malformed response from server"}
	}
	if !env.Success {
		return &AppError{Status: resp.StatusCode, Msg: env.Msg}
	}

	return env.decode(out)
}
