// Package loadgen produces randomized client workloads for exercising a
// running backend with several concurrent sessions.
package loadgen

import (
	"math/rand"
	"sync"
	"time"

	"kxfer.org/internal/auth"
	"kxfer.org/internal/knowledge"
)

// Op is one client action.
type Op string

const (
	OpList   Op = "list"
	OpSearch Op = "search"
	OpGet    Op = "get"
	OpAsk    Op = "ask"
)

// Step is the next thing a worker should do.
type Step struct {
	Op         Op
	Query      string
	ArtifactID int64
	Filter     knowledge.Filter
}

// Scenario is the pool a Generator draws from.
type Scenario struct {
	Name      string
	Accounts  []auth.DemoAccount
	Queries   []string
	Questions []string
	// Artifact ids to request directly; ids above a persona's clearance
	// are expected to be refused.
	ArtifactIDs []int64
	Weights     map[Op]int
}

// DemoScenario mixes the three demo personas over the demo artifacts.
func DemoScenario() Scenario {
	return Scenario{
		Name:     "DemoPersonas",
		Accounts: append([]auth.DemoAccount(nil), auth.DemoAccounts...),
		Queries: []string{
			"onboarding", "python", "microservices", "roadmap", "strategy", "architecture", "deployment",
		},
		Questions: []string{
			"What is our microservices migration strategy?",
			"How do I get started as a new employee?",
			"What are our Python coding standards?",
			"What is on the product roadmap this year?",
		},
		ArtifactIDs: []int64{1, 2, 3, 4},
		Weights:     map[Op]int{OpList: 3, OpSearch: 3, OpGet: 2, OpAsk: 1},
	}
}

// Generator draws steps from a scenario. It is safe for concurrent use.
type Generator struct {
	scenario Scenario
	order    []Op

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	return NewGeneratorFor(DemoScenario(), seed)
}

// NewGeneratorFor draws from s. A zero seed uses the clock.
func NewGeneratorFor(s Scenario, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	var order []Op
	for _, op := range []Op{OpList, OpSearch, OpGet, OpAsk} {
		for i := 0; i < s.Weights[op]; i++ {
			order = append(order, op)
		}
	}
	if len(order) == 0 {
		order = []Op{OpList}
	}
	return &Generator{scenario: s, order: order, rnd: rand.New(rand.NewSource(seed))}
}

// Account picks a persona for a worker.
func (g *Generator) Account(worker int) auth.DemoAccount {
	accs := g.scenario.Accounts
	if len(accs) == 0 {
		panic("scenario requires at least one account")
	}
	return accs[worker%len(accs)]
}

// NextStep returns a random step drawn by weight.
func (g *Generator) NextStep() Step {
	g.mu.Lock()
	defer g.mu.Unlock()

	op := g.order[g.rnd.Intn(len(g.order))]
	step := Step{Op: op}
	switch op {
	case OpSearch:
		if len(g.scenario.Queries) == 0 {
			step.Op = OpList
			break
		}
		step.Query = g.scenario.Queries[g.rnd.Intn(len(g.scenario.Queries))]
	case OpGet:
		if len(g.scenario.ArtifactIDs) == 0 {
			step.Op = OpList
			break
		}
		step.ArtifactID = g.scenario.ArtifactIDs[g.rnd.Intn(len(g.scenario.ArtifactIDs))]
	case OpAsk:
		if len(g.scenario.Questions) == 0 {
			step.Op = OpList
			break
		}
		step.Query = g.scenario.Questions[g.rnd.Intn(len(g.scenario.Questions))]
	case OpList:
		if g.rnd.Intn(4) == 0 {
			step.Filter.Limit = 1 + g.rnd.Intn(3)
		}
	}
	return step
}

func (g *Generator) Scenario() Scenario { return g.scenario }
