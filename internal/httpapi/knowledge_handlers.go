package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"kxfer.org/internal/audit"
	"kxfer.org/internal/auth"
	"kxfer.org/internal/knowledge"
	"kxfer.org/internal/obs"
	"kxfer.org/internal/store/sqlstore"
)

type listArtifactsResponse struct {
	Artifacts []knowledge.Artifact `json:"artifacts"`
	Total     int                  `json:"total"`
}

type searchResponse struct {
	Results []knowledge.Artifact `json:"results"`
	Total   int                  `json:"total"`
}

type askRequest struct {
	Question string `json:"question"`
}

func (a *API) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	u, ok := viewer(w, r)
	if !ok {
		return
	}
	f, err := knowledge.ParseFilter(r.URL.Query())
	if err != nil {
		handleKnowledgeError(w, r, err)
		return
	}
	items, err := a.artifacts.List(r.Context(), u, f)
	if err != nil {
		handleKnowledgeError(w, r, err)
		return
	}
	if items == nil {
		items = []knowledge.Artifact{}
	}
	a.recordAccess(r.Context(), u, 0, sqlstore.ActionList, true)
	writeJSON(w, http.StatusOK, listArtifactsResponse{Artifacts: items, Total: len(items)})
}

func (a *API) handleArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, BasePath+"/artifacts/"), "/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "artifact id must be a positive integer")
		return
	}
	u, ok := viewer(w, r)
	if !ok {
		return
	}

	art, err := a.artifacts.Get(r.Context(), id)
	if err != nil {
		handleKnowledgeError(w, r, err)
		return
	}
	if !knowledge.Visible(u, art) {
		_ = audit.LogEvent(r.Context(), audit.EventArtifactDenied, map[string]any{
			"artifact_id":  id,
			"access_level": art.AccessLevel,
		})
		a.recordAccess(r.Context(), u, id, sqlstore.ActionView, false)
		writeError(w, r, http.StatusForbidden, "Insufficient permissions")
		return
	}

	_ = audit.LogEvent(r.Context(), audit.EventArtifactViewed, map[string]any{"artifact_id": id})
	a.recordAccess(r.Context(), u, id, sqlstore.ActionView, true)
	writeJSON(w, http.StatusOK, art)
}

func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	u, ok := viewer(w, r)
	if !ok {
		return
	}
	f, err := knowledge.ParseFilter(r.URL.Query())
	if err != nil {
		handleKnowledgeError(w, r, err)
		return
	}
	results, err := a.artifacts.Search(r.Context(), u, r.URL.Query().Get("q"), f)
	if err != nil {
		handleKnowledgeError(w, r, err)
		return
	}
	if results == nil {
		results = []knowledge.Artifact{}
	}
	a.recordAccess(r.Context(), u, 0, sqlstore.ActionSearch, true)
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Total: len(results)})
}

func (a *API) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	u, ok := viewer(w, r)
	if !ok {
		return
	}
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	ans, err := a.oracle.Answer(r.Context(), u, req.Question)
	if err != nil {
		handleKnowledgeError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventChatAsked, map[string]any{
		"sources": len(ans.Sources),
	})
	a.recordAccess(r.Context(), u, 0, sqlstore.ActionAsk, true)
	writeJSON(w, http.StatusOK, ans)
}

// recordAccess is best effort; a failing access log never fails the request.
func (a *API) recordAccess(ctx context.Context, u auth.User, artifactID int64, action string, allowed bool) {
	if a.access == nil {
		return
	}
	_, err := a.access.LogAccess(ctx, sqlstore.AccessLog{
		Username:   u.Username,
		ArtifactID: artifactID,
		Action:     action,
		Allowed:    allowed,
	})
	if err != nil {
		obs.Log("warn", "access log write failed", map[string]any{"err": err, "action": action})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleKnowledgeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, knowledge.ErrInvalidFilter), errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, knowledge.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "Artifact not found")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, r, http.StatusServiceUnavailable, "request cancelled")
	default:
		obs.Log("error", "knowledge backend failure", map[string]any{"err": err, "path": r.URL.Path})
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
