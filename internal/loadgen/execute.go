package loadgen

import (
	"context"

	"kxfer.org/internal/chat"
	"kxfer.org/internal/knowledge"
	"kxfer.org/internal/platform"
)

// Target is the client surface a worker drives.
type Target interface {
	ListArtifacts(ctx context.Context, f knowledge.Filter) ([]knowledge.Artifact, error)
	Search(ctx context.Context, query string, f knowledge.Filter) ([]knowledge.Artifact, error)
	GetArtifact(ctx context.Context, id int64) (knowledge.Artifact, error)
	Ask(ctx context.Context, question string) (chat.Message, error)
}

type platformTarget struct {
	p *platform.Platform
}

// Bind drives a logged-in platform.
func Bind(p *platform.Platform) Target { return platformTarget{p: p} }

func (t platformTarget) ListArtifacts(ctx context.Context, f knowledge.Filter) ([]knowledge.Artifact, error) {
	return t.p.Content().ListArtifacts(ctx, f)
}

func (t platformTarget) Search(ctx context.Context, query string, f knowledge.Filter) ([]knowledge.Artifact, error) {
	return t.p.Content().Search(ctx, query, f)
}

func (t platformTarget) GetArtifact(ctx context.Context, id int64) (knowledge.Artifact, error) {
	return t.p.Content().GetArtifact(ctx, id)
}

func (t platformTarget) Ask(ctx context.Context, question string) (chat.Message, error) {
	return t.p.Chat().Ask(ctx, question)
}

// Execute runs one step and records its outcome.
func Execute(ctx context.Context, t Target, s Step, c *Counter) Outcome {
	var err error
	outcome := OutcomeOK
	switch s.Op {
	case OpList:
		_, err = t.ListArtifacts(ctx, s.Filter)
	case OpSearch:
		_, err = t.Search(ctx, s.Query, s.Filter)
	case OpGet:
		_, err = t.GetArtifact(ctx, s.ArtifactID)
	case OpAsk:
		var msg chat.Message
		msg, err = t.Ask(ctx, s.Query)
		if err == nil && msg.IsFallback() {
			outcome = OutcomeFallback
		}
	default:
		outcome = OutcomeError
	}
	if err != nil {
		outcome = Classify(err)
	}
	if c != nil {
		c.Add(s.Op, outcome)
	}
	return outcome
}
