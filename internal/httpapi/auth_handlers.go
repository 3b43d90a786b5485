package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"kxfer.org/internal/audit"
	"kxfer.org/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := a.users.Authenticate(r.Context(), username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrAuthentication) {
			_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, map[string]any{"username": username})
		}
		handleAuthError(w, r, err)
		return
	}

	token, expiresAt, err := a.issuer.Issue(user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), user), audit.EventLoginSucceeded, map[string]any{
		"role":       user.Role,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, auth.LoginResult{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	u, ok := viewer(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrAuthentication), errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusUnauthorized, "Incorrect username or password")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
