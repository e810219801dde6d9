package httpapi

import (
	"errors"
	"net/http"
	"time"

	"spineauth.org/internal/session"
	"spineauth.org/internal/token"
)

type loginRequest struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Audience string   `json:"audience"`
	Scopes   []string `json:"scopes"`
}

type refreshRequest struct {
	RefreshToken string   `json:"refresh_token"`
	Audience     string   `json:"audience"`
	Scopes       []string `json:"scopes"`
}

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	UserID           string    `json:"user_id"`
	Role             string    `json:"role"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if a.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "token issuance is not configured")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}

	pair, user, err := a.sessions.Login(r.Context(), req.Email, req.Password, req.Audience, req.Scopes)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "InvalidCredentials", "invalid email or password")
			return
		}
		writeError(w, http.StatusInternalServerError, "InternalError", a.internalMessage(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		UserID:           user.ID,
		Role:             user.Role,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if a.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "token issuance is not configured")
		return
	}
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}

	pair, user, err := a.sessions.Refresh(r.Context(), req.RefreshToken, req.Audience, req.Scopes)
	if err != nil {
		if errors.Is(err, session.ErrInvalidRefreshToken) {
			writeError(w, http.StatusUnauthorized, token.ErrInvalidToken.Code, "refresh token is invalid or revoked")
			return
		}
		writeError(w, http.StatusInternalServerError, "InternalError", a.internalMessage(err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, tokenPairResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		UserID:           user.ID,
		Role:             user.Role,
	})
}

type verifyRequest struct {
	Token    string   `json:"token"`
	Resource string   `json:"resource"`
	Action   string   `json:"action"`
	Scopes   []string `json:"scopes"`
}

type verifyResponse struct {
	Allowed  bool     `json:"allowed"`
	Status   int      `json:"status"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message,omitempty"`
	UserID   string   `json:"user_id,omitempty"`
	Role     string   `json:"role,omitempty"`
	Email    string   `json:"email,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	Risk     string   `json:"risk,omitempty"`
	Legacy   bool     `json:"legacy,omitempty"`
}

// handleVerify is the decision API: the rest of the platform submits a token
// plus the capability it is about to exercise and gets the same verdict the
// guard would produce, audit record included.
func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
		return
	}
	if req.Resource == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "resource and action are required")
		return
	}

	if req.Token == "" {
		writeJSON(w, http.StatusOK, verifyResponse{
			Allowed: false,
			Status:  http.StatusUnauthorized,
			Code:    token.ErrMissingToken.Code,
			Message: token.ErrMissingToken.Message,
		})
		return
	}

	d := a.decide(r.Context(), req.Token, Requirement{Resource: req.Resource, Action: req.Action, Scopes: req.Scopes}, r.Method, r.URL.Path)
	resp := verifyResponse{
		Allowed: d.allowed(),
		Status:  d.Status,
		Code:    d.Code,
		Message: d.Message,
	}
	if d.allowed() {
		resp.UserID = d.Identity.User.ID
		resp.Role = d.Identity.User.Role
		resp.Email = d.Identity.User.Email
		resp.Legacy = d.Identity.Legacy
		if !d.Identity.Legacy && d.Identity.Claims != nil {
			resp.ClientID = d.Identity.Claims.ClientID()
			resp.Scopes = d.Identity.Claims.Scopes
			resp.Risk = string(d.Identity.Claims.Risk)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
