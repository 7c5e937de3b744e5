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
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/shopkeeper/internal/client/models"
	"github.com/dmitrijs2005/shopkeeper/internal/common"
	"github.com/dmitrijs2005/shopkeeper/internal/logging"
)

const DefaultTimeout = 10 * time.Second

// HTTPClient implements Gateway, TrashGateway and Authenticator.
// It is safe for concurrent use.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	log     logging.Logger

	mu       sync.Mutex
	token    string
	username string
	password string
}

type Option func(*HTTPClient)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(c *HTTPClient) { c.log = l }
}

// WithToken seeds a previously stored access token.
func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = token }
}

func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
		log:     logging.Nop{},
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("module", "gateway")
	return c
}

// Token returns the current access token.
func (c *HTTPClient) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"userId"`
}

// Login obtains a token and remembers the credentials for re-login on 401.
func (c *HTTPClient) Login(ctx context.Context, username, password string) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp loginResponse
	err := c.send(ctx, "login", http.MethodPost, "/auth/login", loginRequest{Username: username, Password: password}, &resp, "")
	if err != nil {
		return Session{}, err
	}
	if resp.Token == "" || resp.UserID == "" {
		return Session{}, &FormatError{Op: "login", Shape: "response without token or user id"}
	}

	c.mu.Lock()
	c.token = resp.Token
	c.username = username
	c.password = password
	c.mu.Unlock()

	return Session{Token: resp.Token, UserID: resp.UserID}, nil
}

// Remember stores credentials for re-login without calling the server, so a
// session opened offline can authenticate on the first 401.
func (c *HTTPClient) Remember(username, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
	c.password = password
}

func (c *HTTPClient) relogin(ctx context.Context) bool {
	c.mu.Lock()
	username, password := c.username, c.password
	c.mu.Unlock()
	if username == "" {
		return false
	}
	if _, err := c.Login(ctx, username, password); err != nil {
		c.log.Warn(ctx, "re-login failed", "error", err)
		return false
	}
	return true
}

// do performs an authenticated call, logging in again once on 401.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.send(ctx, op, method, path, body, out, c.Token())

	var se *ServerError
	if errors.As(err, &se) && se.Status == http.StatusUnauthorized && c.relogin(ctx) {
		err = c.send(ctx, op, method, path, body, out, c.Token())
	}
	return err
}

func (c *HTTPClient) send(ctx context.Context, op, method, path string, body, out any, token string) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create HTTP request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(common.AuthorizationHeader, common.BearerPrefix+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(raw)
		c.log.Debug(ctx, "request rejected", "op", op, "status", resp.StatusCode, "message", msg)
		return &ServerError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &FormatError{Op: op, Shape: shapeOf(raw)}
	}
	return nil
}

// maxErrorSnippet bounds how much of a non-JSON error body is surfaced.
const maxErrorSnippet = 200

// errorMessage reads {"message": ...} from an error body. Bodies that are
// not JSON, such as proxy pages, yield their trimmed text instead. An empty
// result leaves ServerError to report the status code.
func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		return strings.TrimSpace(body.Message)
	}
	text := strings.Join(strings.Fields(string(raw)), " ")
	if len(text) > maxErrorSnippet {
		text = strings.ToValidUTF8(text[:maxErrorSnippet], "") + "..."
	}
	return text
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	ID      string          `json:"id"`
	Purged  int             `json:"purged"`
}

// ok rejects an explicit "success": false on a 2xx response.
func (e envelope) ok(status int) error {
	if e.Success != nil && !*e.Success {
		return &ServerError{Status: status, Message: "server reported failure"}
	}
	return nil
}

func dataPath(userID, store string, key ...string) string {
	parts := []string{"data", url.PathEscape(userID), url.PathEscape(store)}
	for _, k := range key {
		parts = append(parts, url.PathEscape(k))
	}
	return "/" + strings.Join(parts, "/")
}

func trashPath(userID string, rest ...string) string {
	parts := []string{"trash", url.PathEscape(userID)}
	for _, r := range rest {
		parts = append(parts, url.PathEscape(r))
	}
	return "/" + strings.Join(parts, "/")
}

// FetchAll expects {"data": [...]}.
func (c *HTTPClient) FetchAll(ctx context.Context, userID, store string) ([]json.RawMessage, error) {
	var env envelope
	if err := c.do(ctx, "fetch all", http.MethodGet, dataPath(userID, store), nil, &env); err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if shapeOf(env.Data) != "array" || json.Unmarshal(env.Data, &items) != nil {
		shape := "data " + shapeOf(env.Data)
		c.log.Warn(ctx, "unexpected fetch payload", "store", store, "shape", shape)
		return nil, &FormatError{Op: "fetch all", Shape: shape}
	}
	return items, nil
}

// Fetch expects {"data": {...}}.
func (c *HTTPClient) Fetch(ctx context.Context, userID, store, key string) (json.RawMessage, error) {
	var env envelope
	if err := c.do(ctx, "fetch", http.MethodGet, dataPath(userID, store, key), nil, &env); err != nil {
		return nil, err
	}
	if shapeOf(env.Data) != "object" {
		return nil, &FormatError{Op: "fetch", Shape: "data " + shapeOf(env.Data)}
	}
	return env.Data, nil
}

func (c *HTTPClient) Save(ctx context.Context, userID, store, key string, payload json.RawMessage) (SaveResult, error) {
	var env envelope
	body := struct {
		Data json.RawMessage `json:"data"`
	}{Data: payload}
	if err := c.do(ctx, "save", http.MethodPost, dataPath(userID, store, key), body, &env); err != nil {
		return SaveResult{}, err
	}
	if err := env.ok(http.StatusOK); err != nil {
		return SaveResult{}, err
	}
	return SaveResult{ID: env.ID, Success: true}, nil
}

func (c *HTTPClient) Remove(ctx context.Context, userID, store, key string) error {
	var env envelope
	if err := c.do(ctx, "remove", http.MethodDelete, dataPath(userID, store, key), nil, &env); err != nil {
		return err
	}
	return env.ok(http.StatusOK)
}

func (c *HTTPClient) SoftDelete(ctx context.Context, userID string, kind models.EntityKind, id string) (models.TrashItem, error) {
	var env envelope
	if err := c.do(ctx, "soft delete", http.MethodPost, trashPath(userID, string(kind), id), nil, &env); err != nil {
		return models.TrashItem{}, err
	}
	if err := env.ok(http.StatusOK); err != nil {
		return models.TrashItem{}, err
	}
	var item models.TrashItem
	if shapeOf(env.Data) != "object" || json.Unmarshal(env.Data, &item) != nil {
		return models.TrashItem{}, &FormatError{Op: "soft delete", Shape: "data " + shapeOf(env.Data)}
	}
	return item, nil
}

func (c *HTTPClient) Restore(ctx context.Context, userID string, kind models.EntityKind, id string) error {
	var env envelope
	if err := c.do(ctx, "restore", http.MethodPost, trashPath(userID, string(kind), id, "restore"), nil, &env); err != nil {
		return err
	}
	return env.ok(http.StatusOK)
}

func (c *HTTPClient) PermanentDelete(ctx context.Context, userID string, kind models.EntityKind, id string) error {
	var env envelope
	if err := c.do(ctx, "permanent delete", http.MethodDelete, trashPath(userID, string(kind), id), nil, &env); err != nil {
		return err
	}
	return env.ok(http.StatusOK)
}

func (c *HTTPClient) List(ctx context.Context, userID string) ([]models.TrashItem, error) {
	var env envelope
	if err := c.do(ctx, "list trash", http.MethodGet, trashPath(userID), nil, &env); err != nil {
		return nil, err
	}
	var items []models.TrashItem
	if shapeOf(env.Data) != "array" || json.Unmarshal(env.Data, &items) != nil {
		return nil, &FormatError{Op: "list trash", Shape: "data " + shapeOf(env.Data)}
	}
	return items, nil
}

func (c *HTTPClient) Cleanup(ctx context.Context, userID string) (int, error) {
	var env envelope
	if err := c.do(ctx, "cleanup trash", http.MethodPost, trashPath(userID, "cleanup"), nil, &env); err != nil {
		return 0, err
	}
	if err := env.ok(http.StatusOK); err != nil {
		return 0, err
	}
	return env.Purged, nil
}

// shapeOf names the JSON type of raw for diagnostics.
func shapeOf(raw json.RawMessage) string {
	s := bytes.TrimSpace(raw)
	if len(s) == 0 {
		return "missing"
	}
	if !json.Valid(s) {
		return "invalid json"
	}
	switch s[0] {
	case '[':
		return "array"
	case '{':
		return "object"
	case '"':
		return "string"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
