package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds plain (non-streaming) requests.
const DefaultTimeout = 30 * time.Second

// TokenStore holds the bearer token the client attaches to requests.
// Implementations persist the token so the in-memory value and its
// durable mirror can never diverge. SetToken("") clears both.
type TokenStore interface {
	Token() string
	SetToken(token string) error
}

// memoryTokenStore is the fallback store when no persistent one is
// injected (tests, one-shot commands with a token from the environment).
type memoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

func (m *memoryTokenStore) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *memoryTokenStore) SetToken(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

// Client talks to the docchat backend. It is constructed once and
// injected wherever needed; there is no package-level instance.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         TokenStore
	onUnauthorized func()
	logger         *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenStore injects a persistent token store.
func WithTokenStore(ts TokenStore) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithUnauthorizedHook registers a callback fired once per 401 response,
// after the held token has been cleared. The caller uses it to force
// navigation to the login screen.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		tokens:     &memoryTokenStore{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the currently held bearer token, if any.
func (c *Client) Token() string {
	return c.tokens.Token()
}

// SetToken stores a bearer token for subsequent calls. An empty token
// clears the store.
func (c *Client) SetToken(token string) error {
	return c.tokens.SetToken(token)
}

// Login authenticates and stores the returned token for subsequent calls.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	if err := c.tokens.SetToken(resp.Token); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	return &resp, nil
}

// Chat issues a single-shot question/answer call.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TableOfContents fetches the static section/page reference data.
func (c *Client) TableOfContents(ctx context.Context) ([]TableOfContentsEntry, error) {
	var entries []TableOfContentsEntry
	if err := c.doJSON(ctx, http.MethodGet, "/table_of_contents.json", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// doJSON runs one JSON request/response cycle through the generic
// request path: bearer attachment, unauthorized handling, error
// translation.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.translateError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// translateError turns a non-2xx response into an *Error. A 401 clears
// the held token and fires the unauthorized hook before returning.
func (c *Client) translateError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode == http.StatusUnauthorized {
		c.handleUnauthorized()
		return &Error{Status: http.StatusUnauthorized, Message: "Unauthorized"}
	}

	apiErr := &Error{Status: resp.StatusCode, Body: body}
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		apiErr.Message = parsed.Message
	} else {
		apiErr.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		apiErr.Body = nil
	}

	c.logger.Warn("request failed",
		zap.Int("status", resp.StatusCode),
		zap.String("message", apiErr.Message))
	return apiErr
}

func (c *Client) handleUnauthorized() {
	if err := c.tokens.SetToken(""); err != nil {
		c.logger.Warn("failed to clear token", zap.Error(err))
	}
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}
