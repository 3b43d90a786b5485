package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"kxfer.org/internal/auth"
	"kxfer.org/internal/knowledge"
)

func TestMapStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "ok", status: http.StatusOK, want: nil},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"detail":"Token expired"}`, want: ErrUnauthorized},
		{name: "forbidden", status: http.StatusForbidden, body: `{"error":"insufficient clearance"}`, want: ErrForbidden},
		{name: "not found", status: http.StatusNotFound, want: ErrNotFound},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tc.status, Body: io.NopCloser(strings.NewReader(tc.body))}
			got := mapStatus("test", resp)
			if tc.want == nil {
				if got != nil {
					t.Fatalf("mapStatus() = %v, want nil", got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Fatalf("mapStatus() = %v, want %v", got, tc.want)
			}
		})
	}

	resp := &http.Response{StatusCode: http.StatusBadGateway, Body: io.NopCloser(strings.NewReader("upstream down"))}
	var se *StatusError
	if err := mapStatus("search", resp); !errors.As(err, &se) || se.Status != http.StatusBadGateway || se.Message != "upstream down" {
		t.Fatalf("expected *StatusError, got %v", err)
	}
}

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, append([]Option{WithRateLimit(0, 0)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewValidatesBaseURL(t *testing.T) {
	for _, bad := range []string{"", "ftp://host", "://"} {
		if _, err := New(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	c, err := New("http://localhost:8000/api/v1/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.BaseURL() != "http://localhost:8000/api/v1" {
		t.Fatalf("base path duplicated: %s", c.BaseURL())
	}
}

func TestAuthenticatedCallsCarryBearerAndFilter(t *testing.T) {
	var gotAuth, gotQuery string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/artifacts" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{
			"artifacts": []knowledge.Artifact{{ID: 1, Title: "Company Onboarding Guide", AccessLevel: 10}},
			"total":     1,
		})
	}))

	cred := auth.Credential{Token: "tok-1", User: auth.User{Username: "demo_intern", Level: 10}}
	arts, err := c.ListArtifacts(context.Background(), cred, knowledge.Filter{Type: knowledge.TypeDocumentation, Limit: 5})
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(arts) != 1 || arts[0].ID != 1 {
		t.Fatalf("unexpected artifacts: %+v", arts)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("unexpected Authorization header %q", gotAuth)
	}
	if gotQuery != "limit=5&type=DOCUMENTATION" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
}

func TestUnauthorizedFiresHandlerWithCredential(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token"}`))
	}))
	var fired atomic.Int32
	var seen auth.Credential
	c.SetUnauthorizedHandler(func(cred auth.Credential) {
		fired.Add(1)
		seen = cred
	})

	cred := auth.Credential{Token: "stale", Epoch: 7}
	if _, err := c.Search(context.Background(), cred, "python", knowledge.Filter{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if fired.Load() != 1 || seen.Epoch != 7 {
		t.Fatalf("handler fired %d times with %+v", fired.Load(), seen)
	}

	// A rejected login is not a session event.
	if _, err := c.Login(context.Background(), "demo_ceo", "wrong"); !errors.Is(err, auth.ErrAuthentication) {
		t.Fatalf("expected auth.ErrAuthentication, got %v", err)
	}
	if fired.Load() != 1 {
		t.Fatalf("login 401 must not fire the session handler")
	}
}

func TestLoginDecodesResult(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username != "demo_ceo" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(auth.LoginResult{
			AccessToken: "jwt",
			TokenType:   "bearer",
			User:        auth.User{Username: "demo_ceo", Role: "CEO", Level: 100},
		})
	}))
	res, err := c.Login(context.Background(), "demo_ceo", "demo123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.AccessToken != "jwt" || res.User.Level != 100 {
		t.Fatalf("unexpected login result: %+v", res)
	}
}

func TestLoginWithoutTokenFails(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token_type":"bearer"}`))
	}))
	if _, err := c.Login(context.Background(), "demo_ceo", "demo123"); err == nil {
		t.Fatal("expected error for empty access token")
	}
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), WithTimeout(50*time.Millisecond))
	defer close(release)

	_, err := c.Ask(context.Background(), auth.Credential{Token: "t"}, "slow?")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestGetArtifactMapsForbidden(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/artifacts/4" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	cred := auth.Credential{Token: "t"}
	if _, err := c.GetArtifact(context.Background(), cred, 4); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := c.GetArtifact(context.Background(), cred, 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
