package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kxfer.org/internal/apiclient"
	"kxfer.org/internal/audit"
	"kxfer.org/internal/auth"
	"kxfer.org/internal/knowledge"
	"kxfer.org/internal/obs"
)

var (
	// ErrContentFetch wraps transport and server faults.
	ErrContentFetch = errors.New("content: fetch failed")
	// ErrPolicyViolation means the backend returned content above the caller's level.
	ErrPolicyViolation = errors.New("content: access policy violation")
	ErrForbidden       = errors.New("content: forbidden")
	ErrNotFound        = errors.New("content: not found")
)

// DegradedNotice is shown in place of content when a fetch fails.
const DegradedNotice = "Content is temporarily unavailable. Please try again."

// Sessions supplies the committed credential.
type Sessions interface {
	Credential() (auth.Credential, error)
}

// Backend is the content side of the REST API.
type Backend interface {
	ListArtifacts(ctx context.Context, cred auth.Credential, f knowledge.Filter) ([]knowledge.Artifact, error)
	Search(ctx context.Context, cred auth.Credential, query string, f knowledge.Filter) ([]knowledge.Artifact, error)
	GetArtifact(ctx context.Context, cred auth.Credential, id int64) (knowledge.Artifact, error)
}

// Gateway fetches artifacts on behalf of the current session and checks
// that nothing returned exceeds the caller's clearance.
type Gateway struct {
	sessions Sessions
	backend  Backend
}

func NewGateway(sessions Sessions, backend Backend) *Gateway {
	return &Gateway{sessions: sessions, backend: backend}
}

// ListArtifacts returns the artifacts visible to the current user.
func (g *Gateway) ListArtifacts(ctx context.Context, f knowledge.Filter) ([]knowledge.Artifact, error) {
	cred, err := g.sessions.Credential()
	if err != nil {
		return nil, err
	}
	arts, err := g.backend.ListArtifacts(ctx, cred, f)
	if err != nil {
		return nil, classify("list artifacts", err)
	}
	if err := g.check(ctx, cred, "list", arts); err != nil {
		return nil, err
	}
	return arts, nil
}

// Search runs a scoped search. A blank query returns no results without
// calling the backend.
func (g *Gateway) Search(ctx context.Context, query string, f knowledge.Filter) ([]knowledge.Artifact, error) {
	cred, err := g.sessions.Credential()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return []knowledge.Artifact{}, nil
	}
	arts, err := g.backend.Search(ctx, cred, query, f)
	if err != nil {
		return nil, classify("search", err)
	}
	if err := g.check(ctx, cred, "search", arts); err != nil {
		return nil, err
	}
	return arts, nil
}

// GetArtifact fetches a single artifact.
func (g *Gateway) GetArtifact(ctx context.Context, id int64) (knowledge.Artifact, error) {
	cred, err := g.sessions.Credential()
	if err != nil {
		return knowledge.Artifact{}, err
	}
	a, err := g.backend.GetArtifact(ctx, cred, id)
	if err != nil {
		return knowledge.Artifact{}, classify("get artifact", err)
	}
	if err := g.check(ctx, cred, "get", []knowledge.Artifact{a}); err != nil {
		return knowledge.Artifact{}, err
	}
	return a, nil
}

// check rejects the whole response if any item is above the caller's level.
func (g *Gateway) check(ctx context.Context, cred auth.Credential, op string, arts []knowledge.Artifact) error {
	for _, a := range arts {
		if auth.CanView(&cred.User, a.AccessLevel) {
			continue
		}
		obs.RecordPolicyViolation(op)
		obs.Log("error", "backend returned artifact above caller clearance", map[string]any{
			"operation":    op,
			"artifact_id":  a.ID,
			"access_level": a.AccessLevel,
			"user_level":   cred.User.Level,
		})
		_ = audit.LogEvent(auth.ContextWithUser(ctx, cred.User), audit.EventPolicyViolation, map[string]any{
			"operation":    op,
			"artifact_id":  a.ID,
			"access_level": a.AccessLevel,
		})
		return fmt.Errorf("%w: %s returned artifact %d at level %d for level %d",
			ErrPolicyViolation, op, a.ID, a.AccessLevel, cred.User.Level)
	}
	return nil
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, apiclient.ErrUnauthorized):
		return fmt.Errorf("%s: %w", op, auth.ErrSessionInvalid)
	case errors.Is(err, apiclient.ErrForbidden):
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	case errors.Is(err, apiclient.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("%w: %s: %w", ErrContentFetch, op, err)
	}
}

// Degrade converts a fetch failure into the degraded display state: no
// items and a notice. Session and policy errors are returned unchanged.
func Degrade(err error) ([]knowledge.Artifact, string, error) {
	if err == nil {
		return nil, "", nil
	}
	if errors.Is(err, ErrContentFetch) {
		obs.Log("warn", "content degraded", map[string]any{"err": err})
		return []knowledge.Artifact{}, DegradedNotice, nil
	}
	return nil, "", err
}
