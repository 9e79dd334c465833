// Package manager implements core.ManagerAPI over the remote management
// HTTP API.
package manager

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
	"time"
	"unicode/utf8"

	"github.com/hugo-lorenzo-mato/upgrader/internal/core"
	"github.com/hugo-lorenzo-mato/upgrader/internal/logging"
)

// Routes of the management API.
const (
	routeTask         = "/api/task"
	routeSelfUpdate   = "/api/server/self-update"
	routeMigration    = "/api/contao/database-migration"
	routeVersionInfo  = "/api/server/contao"
	maxResponseBytes  = 8 << 20
	maxDetailRunes    = 200
	defaultTimeout    = 30 * time.Second
	defaultUserAgent  = "upgrader"
	problemJSONPrefix = "application/problem+json"
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	UserAgent string

	// Transport replaces http.DefaultTransport, mostly for tests.
	Transport http.RoundTripper
	Logger    *logging.Logger
}

// Client talks to one manager instance.
type Client struct {
	base   *url.URL
	client *http.Client
	logger *logging.Logger
}

var _ core.ManagerAPI = (*Client)(nil)

// New creates a client. The token is sent as a bearer credential on every
// request and registered with the logger's sanitizer.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "manager URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("invalid manager URL %q", opts.BaseURL)).WithCause(err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, core.ErrValidation(core.CodeInvalidConfig,
			fmt.Sprintf("manager URL must be http or https, got %q", base.Scheme))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Token != "" {
		logger.Sanitizer().AddLiteral(opts.Token)
	}

	return &Client{
		base: base,
		client: &http.Client{
			Timeout: opts.Timeout,
			Transport: bearerTransport{
				token:     opts.Token,
				userAgent: opts.UserAgent,
				next:      opts.Transport,
			},
		},
		logger: logger,
	}, nil
}

// bearerTransport adds the credentials and content negotiation headers.
type bearerTransport struct {
	token     string
	userAgent string
	next      http.RoundTripper
}

func (t bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	if req.Body != nil && req.Body != http.NoBody {
		req.Header.Set("Content-Type", "application/json")
	}
	return t.next.RoundTrip(req)
}

// GetTaskData returns the task slot.
func (c *Client) GetTaskData(ctx context.Context) (core.Task, error) {
	return do[core.Task](ctx, c, http.MethodGet, routeTask, nil)
}

// SetTaskData creates a task.
func (c *Client) SetTaskData(ctx context.Context, req core.TaskRequest) (core.Task, error) {
	return do[core.Task](ctx, c, http.MethodPut, routeTask, req)
}

// PatchTaskStatus requests a status change of the running task.
func (c *Client) PatchTaskStatus(ctx context.Context, status core.TaskStatus) (core.Task, error) {
	return do[core.Task](ctx, c, http.MethodPatch, routeTask, map[string]core.TaskStatus{"status": status})
}

// DeleteTaskData clears a finished task.
func (c *Client) DeleteTaskData(ctx context.Context) error {
	_, err := do[json.RawMessage](ctx, c, http.MethodDelete, routeTask, nil)
	return err
}

// GetUpdateStatus returns the manager self-update status.
func (c *Client) GetUpdateStatus(ctx context.Context) (core.UpdateStatus, error) {
	var status core.UpdateStatus
	self, err := do[core.SelfUpdate](ctx, c, http.MethodGet, routeSelfUpdate, nil)
	if err != nil {
		return status, err
	}
	status.SelfUpdate = self
	return status, nil
}

// GetDatabaseMigrationStatus returns the migration slot.
func (c *Client) GetDatabaseMigrationStatus(ctx context.Context) (core.Migration, error) {
	return do[core.Migration](ctx, c, http.MethodGet, routeMigration, nil)
}

// StartDatabaseMigration starts a check (no hash) or an execution.
func (c *Client) StartDatabaseMigration(ctx context.Context, req core.MigrationRequest) (core.Migration, error) {
	return do[core.Migration](ctx, c, http.MethodPut, routeMigration, req)
}

// DeleteDatabaseMigrationTask clears the migration slot.
func (c *Client) DeleteDatabaseMigrationTask(ctx context.Context) error {
	_, err := do[json.RawMessage](ctx, c, http.MethodDelete, routeMigration, nil)
	return err
}

// UpdateVersionInfo asks the remote to refresh its recorded versions.
func (c *Client) UpdateVersionInfo(ctx context.Context) (core.VersionInfo, error) {
	return do[core.VersionInfo](ctx, c, http.MethodPut, routeVersionInfo, nil)
}

// do performs one request. 204 and empty bodies yield the zero value.
func do[T any](ctx context.Context, c *Client, method, route string, body any) (T, error) {
	var zero T

	var reader io.Reader = http.NoBody
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return zero, core.ErrValidation(core.CodeMalformedResponse, "encoding request body").WithCause(err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(route).String(), reader)
	if err != nil {
		return zero, fmt.Errorf("building %s %s: %w", method, route, err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		return zero, core.ErrNetwork(fmt.Sprintf("%s %s failed", method, route)).WithCause(unwrapURLError(err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return zero, core.ErrNetwork(fmt.Sprintf("reading %s %s response", method, route)).WithCause(err)
	}
	c.logger.Debug("manager request",
		"method", method,
		"route", route,
		"status", resp.StatusCode,
		"duration", time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return zero, remoteError(method, route, resp, payload)
	}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(payload)) == 0 {
		return zero, nil
	}

	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return zero, core.ErrValidation(core.CodeMalformedResponse,
			fmt.Sprintf("malformed response from %s %s", method, route)).WithCause(err)
	}
	return out, nil
}

// problem is the error document the manager returns (RFC 7807 or a plain
// message object).
type problem struct {
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (p problem) text() string {
	var parts []string
	for _, s := range []string{p.Title, p.Detail, p.Message, p.Error} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ": ")
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func remoteError(method, route string, resp *http.Response, payload []byte) error {
	var p problem
	detail := ""
	if json.Unmarshal(payload, &p) == nil {
		detail = p.text()
	}
	if detail == "" && !strings.HasPrefix(resp.Header.Get("Content-Type"), problemJSONPrefix) {
		detail = truncate(strings.TrimSpace(string(payload)), maxDetailRunes)
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	msg := fmt.Sprintf("%s %s returned %d: %s", method, route, resp.StatusCode, detail)
	var err *core.DomainError
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		err = core.ErrValidation(core.CodeRemoteError, msg)
	default:
		err = core.ErrRemote(core.CodeRemoteError, msg)
		err.Retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	}
	return err.WithDetail("status", resp.StatusCode)
}

func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}
	return err
}
