package knowledge

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"kxfer.org/internal/auth"
)

// Responder answers a question on behalf of a viewer. Implementations must
// only draw on content the viewer may see.
type Responder interface {
	Answer(ctx context.Context, viewer auth.User, question string) (Answer, error)
}

const (
	citedConfidence   = 0.85
	generalConfidence = 0.5
	maxCitations      = 3
	minKeywordLength  = 4
	generalSource     = "Demo knowledge base"
)

var bandOpenings = map[auth.Band]string{
	auth.BandExecutive:    "you have access to all company information. I can help with strategic decisions, organizational insights and high-level planning.",
	auth.BandSenior:       "I can help with architecture decisions, technical direction and cross-team processes.",
	auth.BandProfessional: "I can assist with technical documentation, coding standards and engineering practices.",
	auth.BandEntry:        "I can help with onboarding materials, basic procedures and learning resources.",
}

// Oracle is a deterministic Responder backed by a Store. It cites the
// artifacts visible to the viewer that share keywords with the question.
type Oracle struct {
	store Store
}

// NewOracle wires an oracle to the artifact store.
func NewOracle(store Store) *Oracle {
	return &Oracle{store: store}
}

func (o *Oracle) Answer(ctx context.Context, viewer auth.User, question string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, fmt.Errorf("%w: question is required", auth.ErrInvalidInput)
	}
	visible, err := o.store.List(ctx, viewer, Filter{})
	if err != nil {
		return Answer{}, fmt.Errorf("list visible artifacts: %w", err)
	}

	keywords := Keywords(question)
	var cited []Artifact
	for _, a := range visible {
		if mentionsAny(a, keywords) {
			cited = append(cited, a)
			if len(cited) == maxCitations {
				break
			}
		}
	}

	opening := bandOpenings[viewer.Band()]
	var b strings.Builder
	fmt.Fprintf(&b, "Regarding '%s', %s", question, opening)

	ans := Answer{UserLevel: viewer.Level}
	confidence := generalConfidence
	if len(cited) > 0 {
		confidence = citedConfidence
		titles := make([]string, 0, len(cited))
		for _, a := range cited {
			titles = append(titles, a.Title)
			ans.Sources = append(ans.Sources, a.Ref())
		}
		fmt.Fprintf(&b, " Relevant material: %s.", strings.Join(titles, "; "))
	} else {
		ans.Sources = []Source{LabelSource(generalSource)}
	}
	ans.Answer = b.String()
	ans.Confidence = &confidence
	return ans, nil
}

// Keywords splits text into lower-cased words long enough to be meaningful.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < minKeywordLength {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func mentionsAny(a Artifact, keywords []string) bool {
	title := strings.ToLower(a.Title)
	content := strings.ToLower(a.Content)
	for _, k := range keywords {
		if strings.Contains(title, k) || strings.Contains(content, k) {
			return true
		}
		for _, tag := range a.Tags {
			if strings.EqualFold(tag, k) {
				return true
			}
		}
	}
	return false
}
