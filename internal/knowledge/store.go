package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"kxfer.org/internal/auth"
)

// Store is the artifact store the reference backend reads from. List and
// Search only return artifacts Visible to the viewer; Get does not filter so
// callers can tell "forbidden" from "missing".
type Store interface {
	List(ctx context.Context, viewer auth.User, f Filter) ([]Artifact, error)
	Get(ctx context.Context, id int64) (Artifact, error)
	Search(ctx context.Context, viewer auth.User, query string, f Filter) ([]Artifact, error)
}

const (
	snippetLength   = 200
	titleMatchScore = 0.95
	bodyMatchScore  = 0.75
)

// Score ranks a for query: title matches outrank body matches, zero means
// no match. Matching is a case-insensitive substring test.
func Score(a Artifact, query string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	switch {
	case strings.Contains(strings.ToLower(a.Title), q):
		return titleMatchScore
	case strings.Contains(strings.ToLower(a.Content), q):
		return bodyMatchScore
	}
	return 0
}

// AsSearchResult truncates content to a snippet and records the score.
func AsSearchResult(a Artifact, score float64) Artifact {
	a.RelevanceScore = score
	if utf8.RuneCountInString(a.Content) > snippetLength {
		runes := []rune(a.Content)
		a.Content = string(runes[:snippetLength]) + "..."
	}
	return a
}

// RankResults orders search results by score, then id.
func RankResults(results []Artifact) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].ID < results[j].ID
	})
}

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu        sync.RWMutex
	artifacts []Artifact
}

// NewInMemory creates a store holding the given artifacts.
func NewInMemory(artifacts []Artifact) *InMemory {
	s := &InMemory{}
	for _, a := range artifacts {
		s.Put(a)
	}
	return s
}

// Put inserts or replaces an artifact, keeping id order.
func (s *InMemory) Put(a Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Tags = append([]string(nil), a.Tags...)
	for i := range s.artifacts {
		if s.artifacts[i].ID == a.ID {
			s.artifacts[i] = a
			return
		}
	}
	s.artifacts = append(s.artifacts, a)
	sort.Slice(s.artifacts, func(i, j int) bool { return s.artifacts[i].ID < s.artifacts[j].ID })
}

func (s *InMemory) List(ctx context.Context, viewer auth.User, f Filter) ([]Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		if !Visible(viewer, a) || !f.Matches(a) {
			continue
		}
		res = append(res, copyArtifact(a))
		if f.Limit > 0 && len(res) >= f.Limit {
			break
		}
	}
	return res, nil
}

func (s *InMemory) Get(ctx context.Context, id int64) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.artifacts {
		if a.ID == id {
			return copyArtifact(a), nil
		}
	}
	return Artifact{}, ErrNotFound
}

func (s *InMemory) Search(ctx context.Context, viewer auth.User, query string, f Filter) ([]Artifact, error) {
	if strings.TrimSpace(query) == "" {
		return []Artifact{}, nil
	}
	s.mu.RLock()
	var res []Artifact
	for _, a := range s.artifacts {
		if !Visible(viewer, a) || !f.Matches(a) {
			continue
		}
		if score := Score(a, query); score > 0 {
			res = append(res, AsSearchResult(copyArtifact(a), score))
		}
	}
	s.mu.RUnlock()

	RankResults(res)
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	if res == nil {
		res = []Artifact{}
	}
	return res, nil
}

func copyArtifact(a Artifact) Artifact {
	a.Tags = append([]string(nil), a.Tags...)
	return a
}
