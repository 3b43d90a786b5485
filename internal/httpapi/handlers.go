package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"kxfer.org/internal/auth"
	"kxfer.org/internal/knowledge"
	"kxfer.org/internal/obs"
	"kxfer.org/internal/store/sqlstore"
)

// BasePath prefixes every REST route.
const BasePath = "/api/v1"

const (
	defaultRatePerSecond = 10
	defaultRateBurst     = 20
	maxRequestBody       = 1 << 20
)

// ReadyProbe is a simple readiness check (for example a DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// AccessLogger records who looked at what. *sqlstore.Store satisfies it.
type AccessLogger interface {
	LogAccess(ctx context.Context, entry sqlstore.AccessLog) (sqlstore.AccessLog, error)
}

// API is the HTTP layer of the reference backend.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	issuer    *auth.TokenIssuer
	users     auth.Directory
	artifacts knowledge.Store
	oracle    knowledge.Responder
	access    AccessLogger

	ratePerSec float64
	rateBurst  int
}

// Option configures optional API collaborators.
type Option func(*API)

// WithReadyProbe sets the probe behind /readyz.
func WithReadyProbe(rp ReadyProbe) Option {
	return func(a *API) { a.readyProbe = rp }
}

// WithAccessLog records list, view, search and ask calls.
func WithAccessLog(l AccessLogger) Option {
	return func(a *API) { a.access = l }
}

// WithRateLimit sets the per-IP token bucket.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) {
		if perSecond > 0 && burst > 0 {
			a.ratePerSec = perSecond
			a.rateBurst = burst
		}
	}
}

// New wires the backend. All four collaborators are required.
func New(issuer *auth.TokenIssuer, users auth.Directory, artifacts knowledge.Store, oracle knowledge.Responder, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		version:    version,
		issuer:     issuer,
		users:      users,
		artifacts:  artifacts,
		oracle:     oracle,
		ratePerSec: defaultRatePerSecond,
		rateBurst:  defaultRateBurst,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/metrics
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc(BasePath+"/auth/login", a.handleLogin)
	a.mux.HandleFunc(BasePath+"/users/me", a.handleMe)
	a.mux.HandleFunc(BasePath+"/artifacts", a.handleArtifacts)
	a.mux.HandleFunc(BasePath+"/artifacts/", a.handleArtifact)
	a.mux.HandleFunc(BasePath+"/search", a.handleSearch)
	a.mux.HandleFunc(BasePath+"/chat/ask", a.handleAsk)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.Info(w, r)
	})

	return a
}

// Handler returns the fully wrapped server handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.mux)
	h = MaxBodyBytes(h, maxRequestBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "kxfer-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "kxfer-api",
		"message": "Knowledge Transfer Platform API",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
