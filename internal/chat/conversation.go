package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"kxfer.org/internal/apiclient"
	"kxfer.org/internal/audit"
	"kxfer.org/internal/auth"
	"kxfer.org/internal/knowledge"
	"kxfer.org/internal/obs"
	"kxfer.org/internal/stream"
)

const (
	FallbackText   = "Sorry, I encountered an error while processing your request. Please try again."
	FallbackSource = "Error"
)

// ErrAIQuery marks an Oracle fault. It is logged, never returned to callers.
var ErrAIQuery = errors.New("chat: ai query failed")

// Message is one entry of the conversation log.
type Message struct {
	ID         int64              `json:"id"`
	Content    string             `json:"content"`
	IsUser     bool               `json:"is_user"`
	Timestamp  time.Time          `json:"timestamp"`
	Confidence *float64           `json:"confidence,omitempty"`
	Sources    []knowledge.Source `json:"sources,omitempty"`
}

// IsFallback reports whether m is the fixed error reply.
func (m Message) IsFallback() bool {
	return !m.IsUser && len(m.Sources) == 1 && m.Sources[0].Artifact == nil && m.Sources[0].Label == FallbackSource
}

// Sessions is the slice of the session manager the conversation needs.
type Sessions interface {
	Credential() (auth.Credential, error)
	IsCurrent(epoch uint64) bool
	OnSessionEnd(fn func(auth.Credential))
}

// Oracle answers questions with the caller's credential.
type Oracle interface {
	Ask(ctx context.Context, cred auth.Credential, question string) (knowledge.Answer, error)
}

// Conversation is the per-session chat log. Messages are appended in
// completion order; ids are assigned at append time and strictly increase.
type Conversation struct {
	sessions Sessions
	oracle   Oracle
	events   *stream.Stream
	now      func() time.Time

	mu       sync.Mutex
	epoch    uint64
	lastID   int64
	messages []Message
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithEvents publishes a message event for each append.
func WithEvents(s *stream.Stream) Option {
	return func(c *Conversation) { c.events = s }
}

// WithClock overrides message timestamps.
func WithClock(fn func() time.Time) Option {
	return func(c *Conversation) {
		if fn != nil {
			c.now = fn
		}
	}
}

// New builds a conversation bound to the session manager. The log is
// discarded when the owning session ends.
func New(sessions Sessions, oracle Oracle, opts ...Option) *Conversation {
	c := &Conversation{sessions: sessions, oracle: oracle, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	sessions.OnSessionEnd(c.discard)
	return c
}

// Ask appends the question, queries the Oracle and appends the reply. Oracle
// faults produce the fallback reply and a nil error.
func (c *Conversation) Ask(ctx context.Context, question string) (Message, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Message{}, fmt.Errorf("%w: question is required", auth.ErrInvalidInput)
	}
	cred, err := c.sessions.Credential()
	if err != nil {
		return Message{}, err
	}
	if _, ok := c.append(cred.Epoch, Message{Content: question, IsUser: true}); !ok {
		return Message{}, auth.ErrSessionInvalid
	}

	ans, err := c.oracle.Ask(ctx, cred, question)
	if errors.Is(err, apiclient.ErrUnauthorized) {
		return Message{}, auth.ErrSessionInvalid
	}
	if err == nil {
		err = checkAnswer(ans, cred.User)
	}

	var reply Message
	if err != nil {
		obs.RecordChatFallback()
		obs.Log("error", "ai query failed", map[string]any{
			"err":      fmt.Errorf("%w: %w", ErrAIQuery, err),
			"username": cred.User.Username,
		})
		reply = Message{Content: FallbackText, Sources: []knowledge.Source{knowledge.LabelSource(FallbackSource)}}
	} else {
		reply = Message{Content: ans.Answer, Confidence: ans.Confidence, Sources: ans.Sources}
	}

	stored, ok := c.append(cred.Epoch, reply)
	if !ok {
		return Message{}, auth.ErrSessionInvalid
	}
	_ = audit.LogEvent(auth.ContextWithUser(ctx, cred.User), audit.EventChatAsked, map[string]any{
		"fallback": err != nil,
		"sources":  len(stored.Sources),
	})
	return stored, nil
}

// Greeting appends the welcome message for u.
func (c *Conversation) Greeting(u auth.User) (Message, error) {
	cred, err := c.sessions.Credential()
	if err != nil {
		return Message{}, err
	}
	name := u.FullName
	if name == "" {
		name = u.Username
	}
	text := fmt.Sprintf("Hello %s! I'm your AI knowledge assistant. Your access level: %s (%d). Ask me anything about the knowledge you can access.",
		name, u.Band(), u.Level)
	m, ok := c.append(cred.Epoch, Message{Content: text})
	if !ok {
		return Message{}, auth.ErrSessionInvalid
	}
	return m, nil
}

// Messages returns a copy of the log.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// append stores m under epoch. Messages for a session that is no longer
// current are dropped.
func (c *Conversation) append(epoch uint64, m Message) (Message, bool) {
	c.mu.Lock()
	if !c.sessions.IsCurrent(epoch) {
		c.mu.Unlock()
		return Message{}, false
	}
	if c.epoch != epoch {
		c.epoch = epoch
		c.messages = nil
	}
	c.lastID++
	m.ID = c.lastID
	if m.Timestamp.IsZero() {
		m.Timestamp = c.now().UTC()
	}
	c.messages = append(c.messages, m)
	c.mu.Unlock()

	if c.events != nil {
		c.events.Publish(stream.Event{Kind: stream.KindMessage, Epoch: epoch, MessageID: m.ID})
	}
	return m, true
}

func (c *Conversation) discard(ended auth.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch == ended.Epoch {
		c.messages = nil
	}
}

// checkAnswer treats out-of-contract Oracle replies as faults.
func checkAnswer(ans knowledge.Answer, u auth.User) error {
	if strings.TrimSpace(ans.Answer) == "" {
		return errors.New("empty answer")
	}
	if ans.Confidence == nil {
		return errors.New("answer carries no confidence")
	}
	if *ans.Confidence < 0 || *ans.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", *ans.Confidence)
	}
	for _, src := range ans.Sources {
		if src.Artifact != nil && !auth.CanView(&u, src.Artifact.AccessLevel) {
			return fmt.Errorf("source %d at level %d exceeds caller level %d", src.Artifact.ID, src.Artifact.AccessLevel, u.Level)
		}
	}
	return nil
}
