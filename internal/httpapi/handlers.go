package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"spineauth.org/internal/audit"
	"spineauth.org/internal/authz"
	"spineauth.org/internal/identity"
	"spineauth.org/internal/obs"
	"spineauth.org/internal/session"
	"spineauth.org/internal/token"
)

const serviceName = "spine-auth"

// ReadyProbe checks backing-store health for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options wires the API's collaborators. Codec, Directory and Matrix are
// required; everything else has a usable default.
type Options struct {
	Codec     *token.Codec
	Directory identity.Directory
	Matrix    *authz.Matrix
	Audit     audit.Sink
	Sessions  *session.Service

	ReadyProbe ReadyProbe
	Version    string

	// Audience is the expected client application for multiclient
	// verification.
	Audience string
	// Multiclient enables the audience/scope/risk validators in the guard.
	Multiclient bool
	// LegacyFallback degrades a failed multiclient validation to legacy
	// verification instead of rejecting. Every occurrence is logged and
	// counted.
	LegacyFallback bool

	TokenCookie string
	Production  bool
	Limiter     *RateLimiter
	Logger      *log.Logger
}

// API is the HTTP surface of the auth core.
type API struct {
	mux *http.ServeMux

	codec    *token.Codec
	dir      identity.Directory
	matrix   *authz.Matrix
	auditor  audit.Sink
	sessions *session.Service

	readyProbe ReadyProbe
	version    string

	audience       string
	multiclient    bool
	legacyFallback bool
	tokenCookie    string
	production     bool

	limiter *RateLimiter
	logger  *log.Logger
}

func New(opts Options) (*API, error) {
	if opts.Codec == nil {
		return nil, errors.New("httpapi: token codec is required")
	}
	if opts.Directory == nil {
		return nil, errors.New("httpapi: identity directory is required")
	}
	if opts.Matrix == nil {
		return nil, errors.New("httpapi: permission matrix is required")
	}
	if opts.Logger == nil {
		opts.Logger = obs.Logger()
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewLogSink(opts.Logger)
	}
	if opts.TokenCookie == "" {
		opts.TokenCookie = "spine_token"
	}

	a := &API{
		mux:            http.NewServeMux(),
		codec:          opts.Codec,
		dir:            opts.Directory,
		matrix:         opts.Matrix,
		auditor:        opts.Audit,
		sessions:       opts.Sessions,
		readyProbe:     opts.ReadyProbe,
		version:        opts.Version,
		audience:       opts.Audience,
		multiclient:    opts.Multiclient,
		legacyFallback: opts.LegacyFallback,
		tokenCookie:    opts.TokenCookie,
		production:     opts.Production,
		limiter:        opts.Limiter,
		logger:         opts.Logger,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/verify", a.handleVerify)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NotFound", "resource not found")
	})

	return a, nil
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	if a.limiter != nil {
		h = a.limiter.Middleware(h)
	}
	h = SecurityHeaders(h)
	h = Logging(a.logger, h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        serviceName,
		"time":        time.Now().UTC().Format(time.RFC3339),
		"version":     a.version,
		"multiclient": a.multiclient,
	})
}
