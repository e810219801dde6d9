package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"spineauth.org/internal/audit"
	"spineauth.org/internal/identity"
	"spineauth.org/internal/obs"
	"spineauth.org/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Identity propagation headers for downstream handlers.
const (
	HeaderUserID    = "x-user-id"
	HeaderUserRole  = "x-user-role"
	HeaderUserEmail = "x-user-email"
	HeaderClientID  = "x-client-id"
	HeaderScopes    = "x-scopes"
	HeaderRiskState = "x-risk-state"
)

// Guard outcome labels for metrics.
const (
	outcomeForwarded   = "forwarded"
	outcomeRejected401 = "rejected_401"
	outcomeRejected403 = "rejected_403"
	outcomeRejected500 = "rejected_500"
)

// Requirement declares what a protected route demands: the matrix capability
// plus the scopes multiclient tokens must carry.
type Requirement struct {
	Resource string
	Action   string
	Scopes   []string
}

func (req Requirement) permission() string {
	return req.Resource + ":" + req.Action
}

// decision is the terminal state of one pass through the authorization
// pipeline.
type decision struct {
	Status   int
	Code     string
	Message  string
	Identity Identity
}

func (d decision) allowed() bool { return d.Status == http.StatusOK }

func (d decision) outcome() string {
	switch d.Status {
	case http.StatusOK:
		return outcomeForwarded
	case http.StatusUnauthorized:
		return outcomeRejected401
	case http.StatusForbidden:
		return outcomeRejected403
	}
	return outcomeRejected500
}

// Protect mounts a handler behind the guard.
func (a *API) Protect(pattern string, req Requirement, next http.Handler) {
	a.mux.Handle(pattern, a.Guard(req, next))
}

// Guard enforces the full pipeline: extract, verify, validate claims, resolve
// identity, authorize, then forward with identity headers or reject with the
// JSON error contract.
func (a *API) Guard(req Requirement, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Println(fmt.Sprintf(`{"level":"error","msg":"guard panic","path":%q,"panic":%q}`, r.URL.Path, fmt.Sprint(rec)))
				obs.ObserveAuthDecision(outcomeRejected500)
				writeError(w, http.StatusInternalServerError, "InternalError", a.internalMessage(fmt.Sprint(rec)))
			}
		}()

		raw, ok := a.extractToken(r)
		if !ok {
			obs.ObserveAuthDecision(outcomeRejected401)
			writeError(w, http.StatusUnauthorized, token.ErrMissingToken.Code, token.ErrMissingToken.Message)
			return
		}

		d := a.decide(r.Context(), raw, req, r.Method, r.URL.Path)
		obs.ObserveAuthDecision(d.outcome())
		if !d.allowed() {
			writeError(w, d.Status, d.Code, d.Message)
			return
		}

		annotate(r, d.Identity)
		ctx := ContextWithIdentity(r.Context(), d.Identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// decide runs steps 2-5 of the pipeline on an already extracted token. It is
// shared by the HTTP guard and the decision API, so both produce identical
// outcomes and audit records.
func (a *API) decide(ctx context.Context, raw string, req Requirement, method, path string) decision {
	claims, err := a.codec.Verify(raw)
	if err != nil {
		var terr *token.Error
		if errors.As(err, &terr) {
			return decision{Status: http.StatusUnauthorized, Code: terr.Code, Message: terr.Message}
		}
		return a.internalError(err)
	}

	legacy := false
	if a.multiclient {
		if verr := token.Run(claims, token.Multiclient(a.audience, req.Scopes...)...); verr != nil {
			if !a.legacyFallback {
				var terr *token.Error
				if errors.As(verr, &terr) {
					return decision{Status: http.StatusUnauthorized, Code: terr.Code, Message: terr.Message}
				}
				return a.internalError(verr)
			}
			// Deliberate graceful degradation: the token is structurally
			// valid, so it is admitted under legacy verification. Loud on
			// purpose, since silent fallback can mask misconfiguration.
			legacy = true
			obs.IncLegacyFallback()
			obs.LogEvent("auth.legacy_fallback", map[string]any{
				"subject": claims.Subject,
				"path":    path,
				"reason":  verr.Error(),
			})
		}
	}

	user, err := a.dir.FindUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return decision{Status: http.StatusUnauthorized, Code: token.ErrInvalidToken.Code, Message: "subject is not a known user"}
		}
		return a.internalError(err)
	}
	if !user.Active() {
		return decision{Status: http.StatusUnauthorized, Code: token.ErrInvalidToken.Code, Message: "account is disabled"}
	}

	if !a.matrix.HasPermission(user.Role, req.Resource, req.Action) {
		a.writeAudit(ctx, audit.Record{
			Timestamp:          time.Now().UTC(),
			ActorID:            user.ID,
			Path:               path,
			Method:             method,
			RequiredPermission: req.permission(),
			UserRole:           user.Role,
			Outcome:            audit.OutcomeDenied,
		})
		return decision{
			Status:  http.StatusForbidden,
			Code:    "Forbidden",
			Message: fmt.Sprintf("role %q lacks permission %s", user.Role, req.permission()),
		}
	}

	return decision{
		Status:   http.StatusOK,
		Identity: Identity{User: user, Claims: claims, Legacy: legacy},
	}
}

// writeAudit is best-effort: a sink failure is logged and counted, never
// surfaced to the caller.
func (a *API) writeAudit(ctx context.Context, rec audit.Record) {
	if err := a.auditor.Write(ctx, rec); err != nil {
		obs.IncAuditWriteFailure()
		obs.LogEvent("audit.write_failed", map[string]any{
			"actor_id": rec.ActorID,
			"path":     rec.Path,
			"error":    err.Error(),
		})
	}
}

func (a *API) internalError(err error) decision {
	obs.LogEvent("auth.internal_error", map[string]any{"error": err.Error()})
	return decision{
		Status:  http.StatusInternalServerError,
		Code:    "InternalError",
		Message: a.internalMessage(err.Error()),
	}
}

func (a *API) internalMessage(diagnostic string) string {
	if a.production {
		return "internal server error"
	}
	return diagnostic
}

// extractToken reads the bearer token from the Authorization header, falling
// back to the named cookie.
func (a *API) extractToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header != "" {
		if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
			return "", false
		}
		tok := strings.TrimSpace(header[len(bearer):])
		if tok == "" {
			return "", false
		}
		return tok, true
	}
	if cookie, err := r.Cookie(a.tokenCookie); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return strings.TrimSpace(cookie.Value), true
	}
	return "", false
}

// annotate propagates the verified identity to the downstream handler.
// Multiclient claim headers are withheld for legacy-fallback admissions since
// those claims were never validated.
func annotate(r *http.Request, id Identity) {
	r.Header.Set(HeaderUserID, id.User.ID)
	r.Header.Set(HeaderUserRole, id.User.Role)
	r.Header.Set(HeaderUserEmail, id.User.Email)
	if id.Legacy || id.Claims == nil {
		return
	}
	if client := id.Claims.ClientID(); client != "" {
		r.Header.Set(HeaderClientID, client)
	}
	if len(id.Claims.Scopes) > 0 {
		r.Header.Set(HeaderScopes, strings.Join(id.Claims.Scopes, ","))
	}
	if id.Claims.Risk != "" {
		r.Header.Set(HeaderRiskState, string(id.Claims.Risk))
	}
}
