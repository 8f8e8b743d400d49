package api

import (
	"net/http"
	"strings"

	"github.com/RichardoC/legisla/internal/auth"
	"github.com/RichardoC/legisla/internal/models"
	"go.uber.org/zap"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserInfo is the public view of the caller.
type UserInfo struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type LoginResponse struct {
	Token string   `json:"token"`
	User  UserInfo `json:"user"`
}

func userInfo(u *models.User, isAdmin bool) UserInfo {
	role := u.RoleName
	if isAdmin {
		role = models.RoleNameAdmin
	}
	return UserInfo{ID: u.ID, Name: u.Name, Email: u.Email, Role: role}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !validEmail(req.Email) || req.Password == "" {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		h.logger.Error("Failed to look up user", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.logger.Info("login_failed", zap.String("email", req.Email))
		h.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.Int64("user_id", user.ID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to log in")
		return
	}

	h.writeJSON(w, http.StatusOK, LoginResponse{
		Token: token,
		User:  userInfo(user, auth.IsAdmin(user, h.adminEmail)),
	})
}

// Logout is a no-op for stateless tokens; the client discards its token.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "logged out"})
}

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	// Reloaded so a user deleted after the gate ran reads as 404.
	user, err := h.store.GetUser(r.Context(), p.User.ID)
	if err != nil {
		h.logger.Error("Failed to load user", zap.Int64("user_id", p.User.ID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		h.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	h.writeJSON(w, http.StatusOK, userInfo(user, auth.IsAdmin(user, h.adminEmail)))
}
