// Package audit writes security-relevant events as JSON lines on the shared
// obs logger, tagged with the request id and the acting user.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"kxfer.org/internal/auth"
	"kxfer.org/internal/obs"
)

// Event names emitted across the platform.
const (
	EventLoginSucceeded  = "auth.login.succeeded"
	EventLoginFailed     = "auth.login.failed"
	EventSessionPurged   = "session.purged"
	EventArtifactViewed  = "artifact.viewed"
	EventArtifactDenied  = "artifact.denied"
	EventChatAsked       = "chat.asked"
	EventPolicyViolation = "content.policy_violation"
)

const redacted = "[redacted]"

// Field keys whose values never reach the log.
var secretFields = map[string]bool{
	"password":      true,
	"token":         true,
	"access_token":  true,
	"authorization": true,
}

type ctxKey struct{}

// WithRequestID tags ctx so that events logged under it carry requestID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

func requestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	rid, _ := ctx.Value(ctxKey{}).(string)
	return rid
}

// Entry is one audit line.
type Entry struct {
	Time      string         `json:"ts"`
	Type      string         `json:"type"`
	Event     string         `json:"event"`
	RequestID string         `json:"request_id,omitempty"`
	Username  string         `json:"username,omitempty"`
	Level     *int           `json:"level,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// NewEntry builds the entry LogEvent would write, without writing it.
func NewEntry(ctx context.Context, event string, fields map[string]any) (Entry, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return Entry{}, errors.New("audit: event name is required")
	}
	e := Entry{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		Type:      "audit",
		Event:     event,
		RequestID: requestID(ctx),
		Fields:    make(map[string]any, len(fields)),
	}
	if u, ok := auth.UserFromContext(ctx); ok {
		level := u.Level
		e.Username = u.Username
		e.Level = &level
	}
	for k, v := range fields {
		if secretFields[strings.ToLower(k)] {
			v = redacted
		}
		e.Fields[k] = v
	}
	return e, nil
}

// LogEvent writes one audit line. Callers treat the error as advisory.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	e, err := NewEntry(ctx, event, fields)
	if err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}
