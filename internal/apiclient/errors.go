package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized = errors.New("apiclient: unauthorized")
	ErrForbidden    = errors.New("apiclient: forbidden")
	ErrNotFound     = errors.New("apiclient: not found")
)

// StatusError is any other non-2xx answer.
type StatusError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Endpoint, e.Status, e.Message)
}

var statusSentinels = map[int]error{
	http.StatusUnauthorized: ErrUnauthorized,
	http.StatusForbidden:    ErrForbidden,
	http.StatusNotFound:     ErrNotFound,
}

// mapStatus is the single status-to-error table for the transport.
func mapStatus(endpoint string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := errorMessage(resp.Body)
	if sentinel, ok := statusSentinels[resp.StatusCode]; ok {
		if msg == "" {
			return fmt.Errorf("%s: %w", endpoint, sentinel)
		}
		return fmt.Errorf("%s: %w: %s", endpoint, sentinel, msg)
	}
	return &StatusError{Endpoint: endpoint, Status: resp.StatusCode, Message: msg}
}

// errorMessage reads {"error": ...} or {"detail": ...} bodies.
func errorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	return strings.TrimSpace(string(raw))
}
