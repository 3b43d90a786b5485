package knowledge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kxfer.org/internal/auth"
)

// Type classifies an artifact.
type Type string

const (
	TypeDocumentation   Type = "DOCUMENTATION"
	TypeArchitectureDoc Type = "ARCHITECTURE_DOC"
	TypeStrategy        Type = "STRATEGY"
	TypeHRDocument      Type = "HR_DOCUMENT"
)

// Valid reports whether t is one of the known artifact types.
func (t Type) Valid() bool {
	switch t {
	case TypeDocumentation, TypeArchitectureDoc, TypeStrategy, TypeHRDocument:
		return true
	}
	return false
}

// Artifact is a unit of knowledge content carrying a visibility gate.
type Artifact struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Type           Type      `json:"type"`
	AccessLevel    int       `json:"access_level"`
	HROnly         bool      `json:"is_hr_only,omitempty"`
	Tags           []string  `json:"tags"`
	CreatedAt      time.Time `json:"created_at"`
	RelevanceScore float64   `json:"relevance_score,omitempty"`
}

// Ref returns a citation for the artifact.
func (a Artifact) Ref() Source {
	return Source{Artifact: &ArtifactRef{ID: a.ID, Title: a.Title, AccessLevel: a.AccessLevel}}
}

var (
	ErrNotFound      = errors.New("knowledge: not found")
	ErrInvalidFilter = errors.New("knowledge: invalid filter")
)

// Visible is the authoritative server-side access rule: the viewer's level
// must reach the artifact's level, and HR-only content needs an HR viewer.
func Visible(viewer auth.User, a Artifact) bool {
	if !auth.CanView(&viewer, a.AccessLevel) {
		return false
	}
	return !a.HROnly || viewer.IsHR
}

const maxLimit = 500

// Filter narrows listing and search results.
type Filter struct {
	Type  Type
	Tag   string
	Limit int
}

// Matches reports whether a satisfies the structural part of the filter.
func (f Filter) Matches(a Artifact) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Tag != "" {
		for _, tag := range a.Tags {
			if strings.EqualFold(tag, f.Tag) {
				return true
			}
		}
		return false
	}
	return true
}

// Values encodes the filter as query parameters.
func (f Filter) Values() url.Values {
	v := url.Values{}
	if f.Type != "" {
		v.Set("type", string(f.Type))
	}
	if f.Tag != "" {
		v.Set("tag", f.Tag)
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	return v
}

// ParseFilter decodes query parameters produced by Values.
func ParseFilter(v url.Values) (Filter, error) {
	var f Filter
	if raw := strings.TrimSpace(v.Get("type")); raw != "" {
		f.Type = Type(strings.ToUpper(raw))
		if !f.Type.Valid() {
			return Filter{}, fmt.Errorf("%w: unknown type %q", ErrInvalidFilter, raw)
		}
	}
	f.Tag = strings.TrimSpace(v.Get("tag"))
	if raw := strings.TrimSpace(v.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			return Filter{}, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidFilter, maxLimit)
		}
		f.Limit = n
	}
	return f, nil
}

// ArtifactRef is the citation form of an artifact.
type ArtifactRef struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	AccessLevel int    `json:"access_level"`
}

// Source is either a cited artifact or a free-form label such as "Error".
// On the wire a label is a JSON string and an artifact is an object.
type Source struct {
	Label    string
	Artifact *ArtifactRef
}

// LabelSource builds a label-only source.
func LabelSource(label string) Source { return Source{Label: label} }

func (s Source) String() string {
	if s.Artifact != nil {
		return s.Artifact.Title
	}
	return s.Label
}

func (s Source) MarshalJSON() ([]byte, error) {
	if s.Artifact != nil {
		return json.Marshal(s.Artifact)
	}
	return json.Marshal(s.Label)
}

func (s *Source) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		*s = Source{}
		return json.Unmarshal(data, &s.Label)
	}
	var ref ArtifactRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("source must be a string or artifact object: %w", err)
	}
	*s = Source{Artifact: &ref}
	return nil
}

// Answer is the Knowledge Oracle's reply to a question.
type Answer struct {
	Answer     string   `json:"answer"`
	Confidence *float64 `json:"confidence,omitempty"` // required in [0,1]; a reply without it is a fault
	Sources    []Source `json:"sources"`
	UserLevel  int      `json:"user_level,omitempty"`
}
