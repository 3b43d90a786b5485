package loadgen

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"kxfer.org/internal/apiclient"
	"kxfer.org/internal/auth"
	"kxfer.org/internal/content"
)

// Outcome buckets the result of one step.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeDenied      Outcome = "denied"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeSession     Outcome = "session"
	OutcomeViolation   Outcome = "violation"
	OutcomeFallback    Outcome = "fallback"
	OutcomeError       Outcome = "error"
)

// Classify maps a step error to its outcome.
func Classify(err error) Outcome {
	var status *apiclient.StatusError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, content.ErrPolicyViolation):
		return OutcomeViolation
	case errors.Is(err, content.ErrForbidden):
		return OutcomeDenied
	case errors.Is(err, content.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, auth.ErrSessionInvalid), errors.Is(err, auth.ErrNotAuthenticated):
		return OutcomeSession
	case errors.As(err, &status) && status.Status == http.StatusTooManyRequests:
		return OutcomeRateLimited
	default:
		return OutcomeError
	}
}

// Counter tallies outcomes per operation. The zero value is ready to use.
type Counter struct {
	mu     sync.Mutex
	counts map[Op]map[Outcome]int
}

func (c *Counter) Add(op Op, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[Op]map[Outcome]int)
	}
	if c.counts[op] == nil {
		c.counts[op] = make(map[Outcome]int)
	}
	c.counts[op][o]++
}

// Count returns the tally for op and o.
func (c *Counter) Count(op Op, o Outcome) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[op][o]
}

// Total sums o across all operations.
func (c *Counter) Total(o Outcome) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, byOutcome := range c.counts {
		n += byOutcome[o]
	}
	return n
}

func (c *Counter) Steps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, byOutcome := range c.counts {
		for _, v := range byOutcome {
			n += v
		}
	}
	return n
}

// Summary renders one line per operation, sorted by name.
func (c *Counter) Summary() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ops := make([]string, 0, len(c.counts))
	for op := range c.counts {
		ops = append(ops, string(op))
	}
	sort.Strings(ops)

	var b strings.Builder
	for _, op := range ops {
		byOutcome := c.counts[Op(op)]
		outcomes := make([]string, 0, len(byOutcome))
		for o := range byOutcome {
			outcomes = append(outcomes, string(o))
		}
		sort.Strings(outcomes)
		fmt.Fprintf(&b, "%-7s", op)
		for _, o := range outcomes {
			fmt.Fprintf(&b, " %s=%d", o, byOutcome[Outcome(o)])
		}
		b.WriteByte('\n')
	}
	return b.String()
}
