package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"kxfer.org/internal/auth"
	"kxfer.org/internal/knowledge"
	"kxfer.org/internal/store/sqlstore"
)

type recordingAccessLog struct {
	mu      sync.Mutex
	entries []sqlstore.AccessLog
}

func (l *recordingAccessLog) LogAccess(_ context.Context, e sqlstore.AccessLog) (sqlstore.AccessLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return e, nil
}

func (l *recordingAccessLog) snapshot() []sqlstore.AccessLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]sqlstore.AccessLog(nil), l.entries...)
}

type apiClient struct {
	baseURL string
	client  *http.Client
	access  *recordingAccessLog
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	issuer, err := auth.NewTokenIssuer("test-secret")
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	dir, err := auth.NewMemoryDirectory(auth.DemoAccounts)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	store := knowledge.NewInMemory(knowledge.DemoArtifacts)
	access := &recordingAccessLog{}

	api := New(issuer, dir, store, knowledge.NewOracle(store), "test",
		WithAccessLog(access),
		WithRateLimit(1000, 1000),
	)

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		access:  access,
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) login(username string) (string, auth.User) {
	c.t.Helper()
	resp := c.post(BasePath+"/auth/login", map[string]string{
		"username": username,
		"password": "demo123",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.t.Fatalf("login %s: unexpected status %d", username, resp.StatusCode)
	}
	res := decode[auth.LoginResult](c.t, resp)
	if res.AccessToken == "" {
		c.t.Fatalf("empty token issued")
	}
	return res.AccessToken, res.User
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestLoginReturnsProfile(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post(BasePath+"/auth/login", map[string]string{"username": "demo_ceo", "password": "demo123"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	res := decode[auth.LoginResult](t, resp)
	if res.TokenType != "bearer" {
		t.Fatalf("unexpected token type %q", res.TokenType)
	}
	if res.User.Level != 100 || res.User.Role != "CEO" {
		t.Fatalf("unexpected profile: %+v", res.User)
	}

	me := c.get(BasePath+"/users/me", nil, bearerHeader(res.AccessToken))
	if me.StatusCode != http.StatusOK {
		t.Fatalf("users/me: expected 200, got %d", me.StatusCode)
	}
	u := decode[auth.User](t, me)
	if u.Username != "demo_ceo" || u.FullName != "John Smith" {
		t.Fatalf("unexpected me: %+v", u)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	c := newTestAPI(t)

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"wrong password", map[string]string{"username": "demo_ceo", "password": "nope"}, http.StatusUnauthorized},
		{"unknown user", map[string]string{"username": "ghost", "password": "demo123"}, http.StatusUnauthorized},
		{"missing password", map[string]string{"username": "demo_ceo"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp := c.post(BasePath+"/auth/login", tc.body, nil)
		body := decode[map[string]any](t, resp)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, resp.StatusCode)
		}
		if body["error"] == "" || body["error"] == nil {
			t.Fatalf("%s: expected error message", tc.name)
		}
	}
}

func TestProtectedRoutesNeedBearer(t *testing.T) {
	c := newTestAPI(t)

	for _, headers := range []map[string]string{
		nil,
		{"Authorization": "Basic abc"},
		bearerHeader("not-a-jwt"),
	} {
		resp := c.get(BasePath+"/artifacts", nil, headers)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("headers %v: expected 401, got %d", headers, resp.StatusCode)
		}
	}

	// A valid signature from another secret is still rejected.
	other, _ := auth.NewTokenIssuer("other-secret")
	forged, _, err := other.Issue(auth.User{Username: "demo_ceo", Level: 100})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	resp := c.get(BasePath+"/users/me", nil, bearerHeader(forged))
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("forged token: expected 401, got %d", resp.StatusCode)
	}
}

func TestArtifactListRespectsLevel(t *testing.T) {
	c := newTestAPI(t)

	cases := []struct {
		username string
		total    int
	}{
		{"demo_ceo", 4},
		{"demo_engineer", 2},
		{"demo_intern", 1},
	}
	for _, tc := range cases {
		token, user := c.login(tc.username)
		resp := c.get(BasePath+"/artifacts", nil, bearerHeader(token))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.username, resp.StatusCode)
		}
		body := decode[listArtifactsResponse](t, resp)
		if body.Total != tc.total || len(body.Artifacts) != tc.total {
			t.Fatalf("%s: expected %d artifacts, got total=%d len=%d", tc.username, tc.total, body.Total, len(body.Artifacts))
		}
		for _, a := range body.Artifacts {
			if a.AccessLevel > user.Level {
				t.Fatalf("%s received artifact %d at level %d", tc.username, a.ID, a.AccessLevel)
			}
		}
	}
}

func TestArtifactListFilters(t *testing.T) {
	c := newTestAPI(t)
	token, _ := c.login("demo_ceo")

	resp := c.get(BasePath+"/artifacts", url.Values{"type": {"strategy"}}, bearerHeader(token))
	body := decode[listArtifactsResponse](t, resp)
	if body.Total != 1 || body.Artifacts[0].ID != 4 {
		t.Fatalf("unexpected strategy listing: %+v", body)
	}

	resp = c.get(BasePath+"/artifacts", url.Values{"limit": {"0"}}, bearerHeader(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestArtifactDetail(t *testing.T) {
	c := newTestAPI(t)
	intern, _ := c.login("demo_intern")
	ceo, _ := c.login("demo_ceo")

	resp := c.get(BasePath+"/artifacts/4", nil, bearerHeader(intern))
	body := decode[map[string]any](t, resp)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	if body["error"] != "Insufficient permissions" {
		t.Fatalf("unexpected error body: %v", body)
	}
	if _, leaked := body["content"]; leaked {
		t.Fatalf("forbidden response leaked content")
	}

	resp = c.get(BasePath+"/artifacts/4", nil, bearerHeader(ceo))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for ceo, got %d", resp.StatusCode)
	}
	art := decode[knowledge.Artifact](t, resp)
	if art.ID != 4 || art.AccessLevel != 80 {
		t.Fatalf("unexpected artifact: %+v", art)
	}

	resp = c.get(BasePath+"/artifacts/99", nil, bearerHeader(ceo))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp = c.get(BasePath+"/artifacts/abc", nil, bearerHeader(ceo))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var denied, viewed int
	for _, e := range c.access.snapshot() {
		if e.Action != sqlstore.ActionView {
			continue
		}
		if e.Allowed {
			viewed++
		} else {
			denied++
		}
	}
	if denied != 1 || viewed != 1 {
		t.Fatalf("expected one denied and one allowed view, got denied=%d viewed=%d", denied, viewed)
	}
}

func TestSearchRespectsLevel(t *testing.T) {
	c := newTestAPI(t)
	engineer, _ := c.login("demo_engineer")
	ceo, _ := c.login("demo_ceo")

	q := url.Values{"q": {"microservices"}}
	resp := c.get(BasePath+"/search", q, bearerHeader(engineer))
	body := decode[searchResponse](t, resp)
	if body.Total != 0 || body.Results == nil {
		t.Fatalf("engineer must get an empty result list, got %+v", body)
	}

	resp = c.get(BasePath+"/search", q, bearerHeader(ceo))
	body = decode[searchResponse](t, resp)
	if body.Total != 1 || body.Results[0].ID != 3 || body.Results[0].RelevanceScore == 0 {
		t.Fatalf("unexpected ceo search: %+v", body)
	}

	resp = c.get(BasePath+"/search", nil, bearerHeader(ceo))
	body = decode[searchResponse](t, resp)
	if body.Total != 0 {
		t.Fatalf("empty query should return nothing, got %d", body.Total)
	}
}

func TestChatAskScopesSources(t *testing.T) {
	c := newTestAPI(t)
	token, user := c.login("demo_intern")

	resp := c.post(BasePath+"/chat/ask", map[string]string{"question": "What is our microservices migration strategy?"}, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	ans := decode[knowledge.Answer](t, resp)
	if ans.UserLevel != user.Level {
		t.Fatalf("user_level=%d, want %d", ans.UserLevel, user.Level)
	}
	for _, src := range ans.Sources {
		if src.Artifact != nil && src.Artifact.AccessLevel > user.Level {
			t.Fatalf("answer cites artifact %d above clearance", src.Artifact.ID)
		}
	}

	resp = c.post(BasePath+"/chat/ask", map[string]string{"question": " "}, bearerHeader(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank question, got %d", resp.StatusCode)
	}

	resp = c.post(BasePath+"/chat/ask", map[string]any{"question": "hi", "extra": 1}, bearerHeader(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	c := newTestAPI(t)
	token, _ := c.login("demo_ceo")

	resp := c.get(BasePath+"/chat/ask", nil, bearerHeader(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("unexpected Allow header %q", resp.Header.Get("Allow"))
	}
}

func TestHealthAndReadyArePublic(t *testing.T) {
	c := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/"} {
		resp := c.get(path, nil, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestHandlerDirectRecorder(t *testing.T) {
	issuer, _ := auth.NewTokenIssuer("test-secret")
	dir, _ := auth.NewMemoryDirectory(nil)
	store := knowledge.NewInMemory(nil)
	api := New(issuer, dir, store, knowledge.NewOracle(store), "test")

	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}
