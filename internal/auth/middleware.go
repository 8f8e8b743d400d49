package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/RichardoC/legisla/internal/models"
	"go.uber.org/zap"
)

// UserLookup resolves the subject of a token.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	User    *models.User
	IsAdmin bool
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil && p.User != nil
}

// IsAdmin is the single admin check: the admin role, or the configured admin email.
func IsAdmin(u *models.User, adminEmail string) bool {
	if u == nil {
		return false
	}
	if u.RoleName == models.RoleNameAdmin {
		return true
	}
	return adminEmail != "" && strings.EqualFold(u.Email, adminEmail)
}

// Gate authenticates bearer tokens and attaches the resolved Principal.
type Gate struct {
	tokens     *Manager
	users      UserLookup
	adminEmail string
	logger     *zap.Logger
}

func NewGate(tokens *Manager, users UserLookup, adminEmail string, logger *zap.Logger) *Gate {
	return &Gate{tokens: tokens, users: users, adminEmail: adminEmail, logger: logger}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Authenticate rejects requests without a valid token for an existing user.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "access token required")
			return
		}

		claims, err := g.tokens.Parse(token)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, ErrExpiredToken) {
				msg = "token expired"
			}
			g.logger.Warn("request_unauthorized",
				zap.String("reason", msg),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			writeError(w, http.StatusForbidden, msg)
			return
		}

		user, err := g.users.GetUser(r.Context(), claims.UserID)
		if err != nil {
			g.logger.Error("Failed to resolve token subject",
				zap.Int64("user_id", claims.UserID),
				zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load user")
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "user not found")
			return
		}

		p := &Principal{User: user, IsAdmin: IsAdmin(user, g.adminEmail)}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireAdmin must run after Authenticate.
func (g *Gate) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok || !p.IsAdmin {
			if ok {
				g.logger.Warn("admin_access_denied",
					zap.Int64("user_id", p.User.ID),
					zap.String("path", r.URL.Path))
			}
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
