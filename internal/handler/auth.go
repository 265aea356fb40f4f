// Package handler shapes the JSON HTTP boundary. All failures become
// {"error": ...} bodies; store and mail errors are logged with full detail but
// returned as generic messages.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/beaconauth/beacon/internal/auth"
	"github.com/beaconauth/beacon/internal/model"
	"github.com/beaconauth/beacon/internal/store"
)

type AuthHandler struct {
	svc    *auth.Service
	users  *store.UserStore
	logger *slog.Logger
}

func NewAuthHandler(svc *auth.Service, users *store.UserStore, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:    svc,
		users:  users,
		logger: logger,
	}
}

// Test is a database smoke-test endpoint: it returns all registered users.
func (h *AuthHandler) Test(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.logger.Error("list users", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Data users",
		"data":    users,
	})
}

// MagicLink handles POST /auth/magiclink: issues a single-use token for a
// registered email and mails the verification link.
func (h *AuthHandler) MagicLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Email is required"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Email is required"})
		return
	}

	if err := h.svc.IssueToken(r.Context(), req.Email); err != nil {
		if errors.Is(err, auth.ErrUserNotRegistered) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "User not registered"})
			return
		}
		h.logger.Error("issue magic link", "email", req.Email, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Magic link sent to your email"})
}

// Verify handles GET /auth/verify?token=: consumes the token and returns the
// session credential. The same credential is pushed to the user's other
// devices before this response is written.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Token is required"})
		return
	}

	cred, err := h.svc.VerifyToken(r.Context(), raw)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidOrExpiredToken):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid or expired token"})
		case errors.Is(err, auth.ErrUserNotFound):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "User not found"})
		default:
			h.logger.Error("verify token", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Authentication successful",
		"email":        cred.Email,
		"userId":       cred.UserID,
		"role":         cred.Role,
		"sessionToken": cred.Token,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
