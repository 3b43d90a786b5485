package loadgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kxfer.org/internal/apiclient"
	"kxfer.org/internal/auth"
	"kxfer.org/internal/chat"
	"kxfer.org/internal/config"
	"kxfer.org/internal/content"
	"kxfer.org/internal/httpapi"
	"kxfer.org/internal/knowledge"
	"kxfer.org/internal/platform"
	"kxfer.org/internal/session"
)

func TestGeneratorIsDeterministicForSeed(t *testing.T) {
	a := NewGenerator(42)
	b := NewGenerator(42)
	for i := 0; i < 50; i++ {
		require.Equal(t, a.NextStep(), b.NextStep(), "step %d", i)
	}
}

func TestGeneratorRespectsWeights(t *testing.T) {
	s := DemoScenario()
	s.Weights = map[Op]int{OpSearch: 1}
	g := NewGeneratorFor(s, 7)
	for i := 0; i < 20; i++ {
		step := g.NextStep()
		require.Equal(t, OpSearch, step.Op)
		assert.Contains(t, s.Queries, step.Query)
	}
}

func TestGeneratorFallsBackToListWithoutPool(t *testing.T) {
	s := Scenario{Accounts: auth.DemoAccounts, Weights: map[Op]int{OpAsk: 1, OpGet: 1}}
	g := NewGeneratorFor(s, 1)
	for i := 0; i < 10; i++ {
		assert.Equal(t, OpList, g.NextStep().Op)
	}
}

func TestAccountRotatesPersonas(t *testing.T) {
	g := NewGenerator(1)
	n := len(auth.DemoAccounts)
	for i := 0; i < 2*n; i++ {
		assert.Equal(t, auth.DemoAccounts[i%n].User.Username, g.Account(i).User.Username)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeOK},
		{fmt.Errorf("get: %w", content.ErrForbidden), OutcomeDenied},
		{fmt.Errorf("get: %w", content.ErrNotFound), OutcomeNotFound},
		{fmt.Errorf("%w: list", content.ErrPolicyViolation), OutcomeViolation},
		{auth.ErrSessionInvalid, OutcomeSession},
		{auth.ErrNotAuthenticated, OutcomeSession},
		{fmt.Errorf("%w: list: %w", content.ErrContentFetch, &apiclient.StatusError{Status: http.StatusTooManyRequests}), OutcomeRateLimited},
		{fmt.Errorf("%w: list: %w", content.ErrContentFetch, &apiclient.StatusError{Status: http.StatusBadGateway}), OutcomeError},
		{errors.New("boom"), OutcomeError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.err), "%v", tc.err)
	}
}

func TestCounterConcurrentAdds(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Add(OpList, OutcomeOK)
				c.Add(OpGet, OutcomeDenied)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, c.Count(OpList, OutcomeOK))
	assert.Equal(t, 800, c.Total(OutcomeDenied))
	assert.Equal(t, 1600, c.Steps())
	assert.Equal(t, "get     denied=800\nlist    ok=800\n", c.Summary())
}

type fakeTarget struct {
	err   error
	reply chat.Message
}

func (f fakeTarget) ListArtifacts(context.Context, knowledge.Filter) ([]knowledge.Artifact, error) {
	return nil, f.err
}

func (f fakeTarget) Search(context.Context, string, knowledge.Filter) ([]knowledge.Artifact, error) {
	return nil, f.err
}

func (f fakeTarget) GetArtifact(context.Context, int64) (knowledge.Artifact, error) {
	return knowledge.Artifact{}, f.err
}

func (f fakeTarget) Ask(context.Context, string) (chat.Message, error) {
	return f.reply, f.err
}

func TestExecuteRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	var c Counter

	assert.Equal(t, OutcomeOK, Execute(ctx, fakeTarget{}, Step{Op: OpList}, &c))
	assert.Equal(t, OutcomeDenied, Execute(ctx, fakeTarget{err: content.ErrForbidden}, Step{Op: OpGet, ArtifactID: 4}, &c))

	fallback := chat.Message{Content: chat.FallbackText, Sources: []knowledge.Source{knowledge.LabelSource(chat.FallbackSource)}}
	assert.Equal(t, OutcomeFallback, Execute(ctx, fakeTarget{reply: fallback}, Step{Op: OpAsk, Query: "q"}, &c))
	assert.Equal(t, OutcomeError, Execute(ctx, fakeTarget{}, Step{Op: "unknown"}, &c))

	assert.Equal(t, 1, c.Count(OpList, OutcomeOK))
	assert.Equal(t, 1, c.Count(OpGet, OutcomeDenied))
	assert.Equal(t, 1, c.Count(OpAsk, OutcomeFallback))
	assert.Equal(t, 4, c.Steps())
}

func TestPersonasAgainstBackendNeverSeeViolations(t *testing.T) {
	issuer, err := auth.NewTokenIssuer("loadgen-test-secret")
	require.NoError(t, err)
	dir, err := auth.NewMemoryDirectory(auth.DemoAccounts)
	require.NoError(t, err)
	store := knowledge.NewInMemory(knowledge.DemoArtifacts)
	api := httpapi.New(issuer, dir, store, knowledge.NewOracle(store), "test", httpapi.WithRateLimit(1000, 1000))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.APIURL = srv.URL
	cfg.RequestTimeout = config.Duration(5 * time.Second)
	cfg.RateLimit = 0

	ctx := context.Background()
	gen := NewGenerator(99)
	var c Counter
	var wg sync.WaitGroup
	for w := 0; w < len(auth.DemoAccounts); w++ {
		acc := gen.Account(w)
		p, err := platform.New(cfg, platform.WithTokenStore(session.NewMemoryStore()), platform.WithHTTPClient(srv.Client()))
		require.NoError(t, err)
		_, err = p.Login(ctx, acc.User.Username, acc.Password)
		require.NoError(t, err)

		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				Execute(ctx, target, gen.NextStep(), &c)
			}
		}(Bind(p))
	}
	wg.Wait()

	assert.Equal(t, 75, c.Steps())
	assert.Zero(t, c.Total(OutcomeViolation))
	assert.Zero(t, c.Total(OutcomeError), c.Summary())
	assert.Zero(t, c.Total(OutcomeSession))
	assert.Zero(t, c.Total(OutcomeNotFound))
}
