package api

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/RichardoC/legisla/internal/auth"
	"github.com/RichardoC/legisla/internal/db"
	"github.com/RichardoC/legisla/internal/models"
	"github.com/RichardoC/legisla/internal/settings"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const (
	minNameLength     = 2
	minPasswordLength = 6
)

type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	RoleID   int64  `json:"role_id"`
}

type UpdateUserRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	RoleID   *int64  `json:"role_id"`
}

type UserStatsItem struct {
	models.UserStats
	LastActivityHuman string `json:"last_activity_human"`
}

type SettingsUpdateResponse struct {
	Message         string `json:"message"`
	Version         int    `json:"version"`
	RestartRequired bool   `json:"restart_required"`
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func validName(s string) bool {
	return utf8.RuneCountInString(s) >= minNameLength
}

func validPassword(s string) bool {
	return utf8.RuneCountInString(s) >= minPasswordLength
}

// checkRole reports whether roleID names an existing role. A false result with
// a nil error means the role is unknown.
func (h *Handler) checkRole(r *http.Request, roleID int64) (bool, error) {
	if roleID <= 0 {
		return false, nil
	}
	role, err := h.store.GetRole(r.Context(), roleID)
	if err != nil {
		return false, err
	}
	return role != nil, nil
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("Failed to list users", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load users")
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	user, err := h.store.GetUser(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get user", zap.Int64("user_id", id), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		h.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)

	switch {
	case !validName(req.Name):
		h.writeError(w, http.StatusBadRequest, "name must have at least 2 characters")
		return
	case !validEmail(req.Email):
		h.writeError(w, http.StatusBadRequest, "invalid email")
		return
	case !validPassword(req.Password):
		h.writeError(w, http.StatusBadRequest, "password must have at least 6 characters")
		return
	}
	known, err := h.checkRole(r, req.RoleID)
	if err != nil {
		h.logger.Error("Failed to check role", zap.Int64("role_id", req.RoleID), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}
	if !known {
		h.writeError(w, http.StatusBadRequest, "invalid role")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("Failed to hash password", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user := &models.User{Name: req.Name, Email: req.Email, PasswordHash: hash, RoleID: req.RoleID}
	err = h.store.CreateUser(r.Context(), user)
	if errors.Is(err, db.ErrDuplicateEmail) {
		h.writeError(w, http.StatusBadRequest, "email already in use")
		return
	}
	if err != nil {
		h.logger.Error("Failed to create user", zap.String("email", req.Email), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	h.logger.Info("user_created",
		zap.Int64("user_id", user.ID),
		zap.Int64("by", principal(r).User.ID))
	h.writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req UpdateUserRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var update models.UserUpdate
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if !validName(name) {
			h.writeError(w, http.StatusBadRequest, "name must have at least 2 characters")
			return
		}
		update.Name = &name
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if !validEmail(email) {
			h.writeError(w, http.StatusBadRequest, "invalid email")
			return
		}
		update.Email = &email
	}
	if req.RoleID != nil {
		known, err := h.checkRole(r, *req.RoleID)
		if err != nil {
			h.logger.Error("Failed to check role", zap.Int64("role_id", *req.RoleID), zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "failed to update user")
			return
		}
		if !known {
			h.writeError(w, http.StatusBadRequest, "invalid role")
			return
		}
		update.RoleID = req.RoleID
	}
	if req.Password != nil {
		if !validPassword(*req.Password) {
			h.writeError(w, http.StatusBadRequest, "password must have at least 6 characters")
			return
		}
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			h.logger.Error("Failed to hash password", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "failed to update user")
			return
		}
		update.PasswordHash = &hash
	}
	if update.Empty() {
		h.writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}

	user, err := h.store.UpdateUser(r.Context(), id, update)
	if errors.Is(err, db.ErrDuplicateEmail) {
		h.writeError(w, http.StatusBadRequest, "email already in use")
		return
	}
	if err != nil {
		h.logger.Error("Failed to update user", zap.Int64("user_id", id), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	if user == nil {
		h.writeError(w, http.StatusNotFound, "user not found")
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	caller := principal(r).User
	if id == caller.ID {
		h.writeError(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}

	deleted, err := h.store.DeleteUser(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to delete user", zap.Int64("user_id", id), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to delete user")
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "user not found")
		return
	}

	h.logger.Info("user_deleted", zap.Int64("user_id", id), zap.Int64("by", caller.ID))
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "user deleted"})
}

func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil || len(roles) == 0 {
		h.logger.Warn("Serving default roles", zap.Error(err))
		roles = models.DefaultRoles
	}
	h.writeJSON(w, http.StatusOK, roles)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.Error("Failed to compute stats", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) UserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.UserStats(r.Context())
	if err != nil {
		h.logger.Error("Failed to compute user stats", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load user stats")
		return
	}

	now := time.Now()
	items := make([]UserStatsItem, 0, len(stats))
	for _, s := range stats {
		item := UserStatsItem{UserStats: s, LastActivityHuman: "never"}
		if s.LastActivity != nil {
			item.LastActivityHuman = humanize.RelTime(*s.LastActivity, now, "ago", "from now")
		}
		items = append(items, item)
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := h.settings.Read()
	if err != nil {
		h.logger.Error("Failed to read settings", zap.String("path", h.settings.Path()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var changes map[string]string
	if err := decode(w, r, &changes); err != nil || len(changes) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	version, err := h.settings.Update(changes)
	if errors.Is(err, settings.ErrUnknownKey) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("Failed to update settings", zap.String("path", h.settings.Path()), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	h.logger.Info("settings_updated",
		zap.Strings("keys", keys),
		zap.Int("version", version),
		zap.Int64("by", principal(r).User.ID))
	h.writeJSON(w, http.StatusOK, SettingsUpdateResponse{
		Message:         "settings saved",
		Version:         version,
		RestartRequired: true,
	})
}

// RestartServer answers first, then asks the process to reload its
// configuration and rebuild its components.
func (h *Handler) RestartServer(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("restart_requested", zap.Int64("by", principal(r).User.ID))
	h.writeJSON(w, http.StatusOK, messageResponse{Message: "restarting"})
	h.restart()
}
