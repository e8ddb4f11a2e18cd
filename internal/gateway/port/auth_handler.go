package port

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/gateway/app"
	"github.com/Harshith2412/zta-finance/internal/identity"
	"github.com/Harshith2412/zta-finance/internal/session"
)

// authService is a narrow, consumer-defined interface for the auth
// operations the handler requires. The *app.Service satisfies this.
type authService interface {
	Register(ctx context.Context, p app.RegisterParams) (*identity.User, error)
	Login(ctx context.Context, p app.LoginParams) (*app.LoginResult, error)
	Refresh(ctx context.Context, refreshToken, ipAddress string) (*app.RefreshResult, error)
	Logout(ctx context.Context, accessToken, ipAddress string) error
	Authenticate(ctx context.Context, accessToken string) (*app.Principal, error)
	ActiveSessions(ctx context.Context, userID string) ([]*session.Record, error)
	RevokeSession(ctx context.Context, userID, sessionID string) error
	RevokeAllSessions(ctx context.Context, userID string) (int, error)
	EnableMFA(ctx context.Context, userID string) (*app.MFASetup, error)
	DisableMFA(ctx context.Context, userID, code string) error
	RequestPasswordReset(ctx context.Context, username, ipAddress string) (string, error)
	ResetPassword(ctx context.Context, resetToken, newPassword, ipAddress string) error
}

// AuthHandler serves the authentication surface: registration, login,
// token lifecycle, session management, MFA enrollment and password reset.
// It translates HTTP requests into app-layer calls and renders failures
// through errmap.
type AuthHandler struct {
	svc   authService
	clock domain.Clock
}

// NewAuthHandler creates an AuthHandler backed by the given service.
func NewAuthHandler(svc *app.Service) *AuthHandler {
	return &AuthHandler{svc: svc, clock: domain.RealClock{}}
}

// Routes registers the handler's endpoints on the mux.
func (h *AuthHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", h.register)
	mux.HandleFunc("POST /auth/login", h.login)
	mux.HandleFunc("POST /auth/refresh", h.refresh)
	mux.HandleFunc("POST /auth/logout", h.logout)
	mux.HandleFunc("GET /status", h.status)
	mux.HandleFunc("GET /auth/sessions", h.listSessions)
	mux.HandleFunc("DELETE /auth/sessions", h.revokeAllSessions)
	mux.HandleFunc("DELETE /auth/sessions/{id}", h.revokeSession)
	mux.HandleFunc("POST /auth/mfa/setup", h.setupMFA)
	mux.HandleFunc("POST /auth/mfa/disable", h.disableMFA)
	mux.HandleFunc("POST /auth/password-reset/request", h.requestReset)
	mux.HandleFunc("POST /auth/password-reset/confirm", h.confirmReset)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.svc.Register(r.Context(), app.RegisterParams{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: ClientIP(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message":  "User registered successfully",
		"username": user.Username,
		"email":    user.Email,
	})
}

type loginRequest struct {
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	MFAToken   string            `json:"mfa_token,omitempty"`
	DeviceInfo map[string]string `json:"device_info,omitempty"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	SessionID    string `json:"session_id,omitempty"`
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.svc.Login(r.Context(), app.LoginParams{
		Username:   req.Username,
		Password:   req.Password,
		MFACode:    req.MFAToken,
		DeviceID:   DeviceID(r),
		DeviceInfo: req.DeviceInfo,
		IPAddress:  ClientIP(r),
		UserAgent:  r.UserAgent(),
		Location:   r.Header.Get("X-Location"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    result.ExpiresIn,
		SessionID:    result.SessionID,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.svc.Refresh(r.Context(), req.RefreshToken, ClientIP(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    "bearer",
		ExpiresIn:    result.ExpiresIn,
	})
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r)
	if token == "" {
		writeError(w, domain.ErrAuthRequired)
		return
	}

	if err := h.svc.Logout(r.Context(), token, ClientIP(r)); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

type statusResponse struct {
	Status      string   `json:"status"`
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Roles       []string `json:"roles"`
	MFAVerified bool     `json:"mfa_verified"`
	Timestamp   string   `json:"timestamp"`
}

func (h *AuthHandler) status(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:      "authenticated",
		UserID:      principal.UserID,
		Username:    principal.Username,
		Roles:       principal.Roles,
		MFAVerified: principal.MFAVerified,
		Timestamp:   h.clock.Now().UTC().Format(time.RFC3339),
	})
}

type sessionsResponse struct {
	Sessions []*session.Record `json:"sessions"`
	Count    int               `json:"count"`
}

func (h *AuthHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	sessions, err := h.svc.ActiveSessions(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*session.Record{}
	}

	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions, Count: len(sessions)})
}

func (h *AuthHandler) revokeSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.svc.RevokeSession(r.Context(), principal.UserID, r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Session revoked"})
}

func (h *AuthHandler) revokeAllSessions(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	n, err := h.svc.RevokeAllSessions(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "All sessions revoked",
		"revoked": n,
	})
}

type mfaSetupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	Message         string `json:"message"`
}

func (h *AuthHandler) setupMFA(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	setup, err := h.svc.EnableMFA(r.Context(), principal.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mfaSetupResponse{
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
		Message:         "Scan the provisioning URI with an authenticator app. The secret is not retrievable again.",
	})
}

type mfaDisableRequest struct {
	MFAToken string `json:"mfa_token"`
}

func (h *AuthHandler) disableMFA(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req mfaDisableRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.DisableMFA(r.Context(), principal.UserID, req.MFAToken); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "MFA disabled"})
}

type resetRequestBody struct {
	Username string `json:"username"`
}

// requestReset answers identically whether or not the account exists, so
// the endpoint cannot be used to enumerate usernames. The reset token
// itself travels through the operator's delivery channel, never this
// response.
func (h *AuthHandler) requestReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequestBody
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	_, err := h.svc.RequestPasswordReset(r.Context(), req.Username, ClientIP(r))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "If that account exists, a reset token has been issued",
	})
}

type resetConfirmBody struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) confirmReset(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmBody
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword, ClientIP(r)); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset"})
}

// authenticate resolves the bearer token to a principal, rendering the
// failure itself. The bool reports whether the caller may proceed.
func (h *AuthHandler) authenticate(w http.ResponseWriter, r *http.Request) (*app.Principal, bool) {
	token := BearerToken(r)
	if token == "" {
		writeError(w, domain.ErrAuthRequired)
		return nil, false
	}

	principal, err := h.svc.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return principal, true
}

// BearerToken extracts the bearer token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return header[len(prefix):]
	}
	return ""
}

// DeviceID extracts the device ID from the X-Device-ID header.
func DeviceID(r *http.Request) string {
	return r.Header.Get("X-Device-ID")
}

// ClientIP extracts the client IP from X-Forwarded-For or falls back to
// the peer address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// X-Forwarded-For may contain a comma-separated list; take the first.
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
