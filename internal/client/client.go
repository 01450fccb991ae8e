package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"console/internal/config"
	"console/internal/logging"
	"console/internal/protocol"
	"console/internal/types"
)

type Client struct {
	baseURL       string
	tokenPath     string
	token         string
	http          *http.Client
	stream        *http.Client
	submitTimeout time.Duration
	logger        logging.Logger
	streamLog     logging.Logger
}

type Option func(*Client)

func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStreamLog records event-stream open, first-chunk and close lines.
func WithStreamLog(logger logging.Logger) Option {
	return func(c *Client) {
		c.streamLog = logger
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

func WithSubmitTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.submitTimeout = timeout
	}
}

func New(cfg config.CoreConfig, opts ...Option) (*Client, error) {
	tokenPath, err := config.TokenPath()
	if err != nil {
		return nil, err
	}
	base := []Option{WithSubmitTimeout(cfg.SubmitTimeout()), WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout()})}
	c := newClient(cfg.DaemonBaseURL(), "", append(base, opts...)...)
	c.tokenPath = tokenPath
	_ = c.loadToken()
	return c, nil
}

func NewWithBaseURL(baseURL, token string, opts ...Option) *Client {
	return newClient(baseURL, token, opts...)
}

func newClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		stream:        &http.Client{},
		submitTimeout: 2 * time.Minute,
		logger:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.F("component", "client"))
	return c
}

func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenEventStream opens the session's event stream. The body stays open
// until the daemon ends the stream, ctx is cancelled or the caller closes it.
func (c *Client) OpenEventStream(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := c.ensureToken(); err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s%s/events?follow=1", c.baseURL, sessionPath(id))
	c.streamf("stream_open", logging.Session(id), logging.F("url", endpoint))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		c.streamf("stream_error", logging.Session(id), logging.F("status", resp.StatusCode))
		return nil, decodeAPIError(resp)
	}
	if c.streamLog == nil {
		return resp.Body, nil
	}
	return &loggedBody{ReadCloser: resp.Body, id: id, logger: c.streamLog, start: time.Now()}, nil
}

// SubmitTurn dispatches a prompt. It waits for the daemon to accept the
// turn, which can take longer than ordinary calls.
func (c *Client) SubmitTurn(ctx context.Context, id string, req SubmitTurnRequest) (*SubmitTurnResponse, error) {
	var resp SubmitTurnResponse
	if err := c.doJSONWithTimeout(ctx, http.MethodPost, sessionPath(id)+"/send", req, true, &resp, c.submitTimeout); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, sessionPath(id)+"/interrupt", nil, true, nil)
}

func (c *Client) RespondPermission(ctx context.Context, id, requestID, selectedOption string) error {
	return c.respond(ctx, id, protocol.NewPermissionResponse(id, requestID, selectedOption))
}

func (c *Client) RespondAskUser(ctx context.Context, id, requestID string, cancelled bool, answers []types.AskUserAnswer) error {
	return c.respond(ctx, id, protocol.NewAskUserResponse(id, requestID, cancelled, answers))
}

// RestartSession restarts the agent behind a session and returns the id it
// now runs under, which may differ from id.
func (c *Client) RestartSession(ctx context.Context, id string) (string, error) {
	var resp RestartSessionResponse
	if err := c.doJSONWithTimeout(ctx, http.MethodPost, sessionPath(id)+"/restart", nil, true, &resp, c.submitTimeout); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.SessionID) == "" {
		return id, nil
	}
	return strings.TrimSpace(resp.SessionID), nil
}

func (c *Client) respond(ctx context.Context, id string, resp protocol.Response) error {
	return c.doJSON(ctx, http.MethodPost, sessionPath(id)+"/respond", resp, true, nil)
}

func sessionPath(id string) string {
	return "/v1/sessions/" + url.PathEscape(strings.TrimSpace(id))
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, requireAuth bool, out any) error {
	return c.doJSONWithClient(ctx, method, path, body, requireAuth, out, c.http)
}

func (c *Client) doJSONWithTimeout(ctx context.Context, method, path string, body any, requireAuth bool, out any, timeout time.Duration) error {
	client := c.http
	if timeout > 0 {
		client = &http.Client{
			Timeout:   timeout,
			Transport: c.http.Transport,
		}
	}
	return c.doJSONWithClient(ctx, method, path, body, requireAuth, out, client)
}

func (c *Client) doJSONWithClient(ctx context.Context, method, path string, body any, requireAuth bool, out any, httpClient *http.Client) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	requestID := logging.NewRequestID()
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth {
		if err := c.ensureToken(); err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request_failed", logging.F("method", method), logging.F("path", path), logging.F("request_id", requestID), logging.Err(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeAPIError(resp)
		c.logger.Debug("request_rejected", logging.F("method", method), logging.F("path", path), logging.F("request_id", requestID), logging.Err(apiErr))
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) ensureToken() error {
	if strings.TrimSpace(c.token) == "" {
		if err := c.loadToken(); err != nil {
			return err
		}
	}
	if strings.TrimSpace(c.token) == "" {
		return errors.New("token not found; is the daemon running?")
	}
	return nil
}

func (c *Client) loadToken() error {
	if c.tokenPath == "" {
		return nil
	}
	data, err := os.ReadFile(c.tokenPath)
	if err != nil {
		if os.IsNotExist(err) {
			c.token = ""
			return nil
		}
		return err
	}
	c.token = strings.TrimSpace(string(data))
	return nil
}

func (c *Client) streamf(msg string, fields ...logging.Field) {
	if c.streamLog == nil {
		return
	}
	c.streamLog.Debug(msg, fields...)
}

func decodeAPIError(resp *http.Response) error {
	type errorPayload struct {
		Error string `json:"error"`
	}
	var payload errorPayload
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	if payload.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("api error (%d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the daemon may accept the same call later.
// Client errors other than 408 and 429 are final.
func (e *APIError) Retryable() bool {
	if e == nil {
		return false
	}
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return false
	default:
		return true
	}
}

func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return nil
}
