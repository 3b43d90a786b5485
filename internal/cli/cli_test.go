package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kxfer.org/internal/auth"
	"kxfer.org/internal/config"
	"kxfer.org/internal/httpapi"
	"kxfer.org/internal/knowledge"
)

func startBackend(t *testing.T) {
	t.Helper()
	issuer, err := auth.NewTokenIssuer("cli-test-secret")
	require.NoError(t, err)
	dir, err := auth.NewMemoryDirectory(auth.DemoAccounts)
	require.NoError(t, err)
	store := knowledge.NewInMemory(knowledge.DemoArtifacts)
	api := httpapi.New(issuer, dir, store, knowledge.NewOracle(store), "test", httpapi.WithRateLimit(1000, 1000))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	t.Setenv(config.EnvAPIURL, srv.URL)
	t.Setenv(config.EnvTokenFile, filepath.Join(t.TempDir(), "token"))
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoginWhoamiLogout(t *testing.T) {
	startBackend(t)

	out, err := run(t, "", "login", "-u", "demo_engineer", "-p", "demo123")
	require.NoError(t, err)
	assert.Contains(t, out, "Alice Johnson")
	assert.Contains(t, out, "level 40")

	out, err = run(t, "", "whoami", "--format", "json")
	require.NoError(t, err)
	var u auth.User
	require.NoError(t, json.Unmarshal([]byte(out), &u))
	assert.Equal(t, "demo_engineer", u.Username)
	assert.Equal(t, 40, u.Level)

	out, err = run(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")

	_, err = run(t, "", "whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")

	// Logging out twice is harmless.
	_, err = run(t, "", "logout")
	require.NoError(t, err)
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	startBackend(t)

	_, err := run(t, "wrong\n", "login", "-u", "demo_ceo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incorrect username or password")

	out, err := run(t, "demo123\n", "login", "-u", "demo_ceo")
	require.NoError(t, err)
	assert.Contains(t, out, "John Smith")
}

func TestContentCommandsRespectClearance(t *testing.T) {
	startBackend(t)
	_, err := run(t, "", "login", "-u", "demo_engineer", "-p", "demo123")
	require.NoError(t, err)

	out, err := run(t, "", "artifacts")
	require.NoError(t, err)
	assert.Contains(t, out, "Company Onboarding Guide")
	assert.NotContains(t, out, "Roadmap")

	out, err = run(t, "", "artifacts", "--format", "json")
	require.NoError(t, err)
	var arts []knowledge.Artifact
	require.NoError(t, json.Unmarshal([]byte(out), &arts))
	assert.Len(t, arts, 2)
	for _, a := range arts {
		assert.LessOrEqual(t, a.AccessLevel, 40)
	}

	_, err = run(t, "", "artifact", "4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient permissions")

	out, err = run(t, "", "search", "microservices")
	require.NoError(t, err)
	assert.Contains(t, out, "No artifacts found.")

	_, err = run(t, "", "artifacts", "--type", "memo")
	require.Error(t, err)
}

func TestCan(t *testing.T) {
	startBackend(t)

	out, err := run(t, "", "can", "0")
	require.NoError(t, err)
	assert.Equal(t, "no\n", out)

	_, err = run(t, "", "login", "-u", "demo_intern", "-p", "demo123")
	require.NoError(t, err)

	out, err = run(t, "", "can", "10")
	require.NoError(t, err)
	assert.Equal(t, "yes\n", out)

	out, err = run(t, "", "can", "30")
	require.NoError(t, err)
	assert.Equal(t, "no\n", out)
}

func TestAskAndChat(t *testing.T) {
	startBackend(t)
	_, err := run(t, "", "login", "-u", "demo_ceo", "-p", "demo123")
	require.NoError(t, err)

	out, err := run(t, "", "ask", "What", "is", "our", "technology", "roadmap?")
	require.NoError(t, err)
	assert.Contains(t, out, "Regarding")
	assert.Contains(t, out, "sources:")

	out, err = run(t, "How does onboarding work?\n\nexit\n", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello John Smith")
	assert.Contains(t, out, "Regarding 'How does onboarding work?'")
}

func TestUnknownFormat(t *testing.T) {
	_, err := run(t, "", "whoami", "--format", "yaml")
	require.Error(t, err)
}
