package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"kxfer.org/internal/auth"
	"kxfer.org/internal/knowledge"
	"kxfer.org/internal/obs"
)

const (
	// BasePath prefixes every REST route.
	BasePath = "/api/v1"

	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 20
	DefaultRateBurst = 10

	maxErrorBody = 4 << 10
)

// Endpoint names used for metrics.
const (
	EndpointLogin     = "login"
	EndpointMe        = "users_me"
	EndpointArtifacts = "artifacts"
	EndpointArtifact  = "artifact"
	EndpointSearch    = "search"
	EndpointAsk       = "chat_ask"
)

// Client talks to the platform REST API. Every authenticated call carries the
// credential it was issued under so a 401 can be reported against the right
// session.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration

	mu             sync.RWMutex
	onUnauthorized func(auth.Credential)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request deadline. Zero or negative keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRateLimit paces outbound requests. A non-positive perSecond disables pacing.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// New builds a client for baseURL, e.g. http://localhost:8000. BasePath is
// appended unless already present.
func New(baseURL string, opts ...Option) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if raw == "" {
		return nil, errors.New("apiclient: base url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("apiclient: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("apiclient: unsupported scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, BasePath) {
		u.Path += BasePath
	}
	c := &Client{
		base:    u,
		http:    &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateBurst),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetUnauthorizedHandler registers the 401 hook. It runs synchronously before
// the failing call returns.
func (c *Client) SetUnauthorizedHandler(fn func(auth.Credential)) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

// BaseURL returns the resolved API root.
func (c *Client) BaseURL() string { return c.base.String() }

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token. A 401 here is a rejected
// password, not a stale session, so the unauthorized hook is not fired.
func (c *Client) Login(ctx context.Context, username, password string) (auth.LoginResult, error) {
	var res auth.LoginResult
	err := c.do(ctx, nil, EndpointLogin, http.MethodPost, "/auth/login", nil, loginRequest{Username: username, Password: password}, &res)
	if errors.Is(err, ErrUnauthorized) {
		return auth.LoginResult{}, fmt.Errorf("%w: %v", auth.ErrAuthentication, err)
	}
	if err != nil {
		return auth.LoginResult{}, err
	}
	if strings.TrimSpace(res.AccessToken) == "" {
		return auth.LoginResult{}, errors.New("apiclient: login response carried no access token")
	}
	return res, nil
}

// CurrentUser resolves the profile bound to cred.
func (c *Client) CurrentUser(ctx context.Context, cred auth.Credential) (auth.User, error) {
	var u auth.User
	if err := c.do(ctx, &cred, EndpointMe, http.MethodGet, "/users/me", nil, nil, &u); err != nil {
		return auth.User{}, err
	}
	return u, nil
}

type artifactsResponse struct {
	Artifacts []knowledge.Artifact `json:"artifacts"`
	Total     int                  `json:"total"`
}

// ListArtifacts returns the artifacts the server considers visible to cred.
func (c *Client) ListArtifacts(ctx context.Context, cred auth.Credential, f knowledge.Filter) ([]knowledge.Artifact, error) {
	var res artifactsResponse
	if err := c.do(ctx, &cred, EndpointArtifacts, http.MethodGet, "/artifacts", f.Values(), nil, &res); err != nil {
		return nil, err
	}
	if res.Artifacts == nil {
		res.Artifacts = []knowledge.Artifact{}
	}
	return res.Artifacts, nil
}

// GetArtifact fetches one artifact by id.
func (c *Client) GetArtifact(ctx context.Context, cred auth.Credential, id int64) (knowledge.Artifact, error) {
	var a knowledge.Artifact
	path := "/artifacts/" + strconv.FormatInt(id, 10)
	if err := c.do(ctx, &cred, EndpointArtifact, http.MethodGet, path, nil, nil, &a); err != nil {
		return knowledge.Artifact{}, err
	}
	return a, nil
}

type searchResponse struct {
	Results []knowledge.Artifact `json:"results"`
	Total   int                  `json:"total"`
}

// Search runs a scoped search. Result order is the server's.
func (c *Client) Search(ctx context.Context, cred auth.Credential, query string, f knowledge.Filter) ([]knowledge.Artifact, error) {
	v := f.Values()
	v.Set("q", query)
	var res searchResponse
	if err := c.do(ctx, &cred, EndpointSearch, http.MethodGet, "/search", v, nil, &res); err != nil {
		return nil, err
	}
	if res.Results == nil {
		res.Results = []knowledge.Artifact{}
	}
	return res.Results, nil
}

type askRequest struct {
	Question string `json:"question"`
}

// Ask forwards a question to the Knowledge Oracle.
func (c *Client) Ask(ctx context.Context, cred auth.Credential, question string) (knowledge.Answer, error) {
	var ans knowledge.Answer
	if err := c.do(ctx, &cred, EndpointAsk, http.MethodPost, "/chat/ask", nil, askRequest{Question: question}, &ans); err != nil {
		return knowledge.Answer{}, err
	}
	return ans, nil
}

func (c *Client) do(ctx context.Context, cred *auth.Credential, endpoint, method, path string, query url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter: %w", endpoint, err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.base
	u.Path += path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", endpoint, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred != nil {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		obs.RecordClientRequest(endpoint, 0)
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	obs.RecordClientRequest(endpoint, resp.StatusCode)

	if err := mapStatus(endpoint, resp); err != nil {
		if errors.Is(err, ErrUnauthorized) && cred != nil {
			c.unauthorized(*cred)
		}
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	return nil
}

func (c *Client) unauthorized(cred auth.Credential) {
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn(cred)
	}
}
