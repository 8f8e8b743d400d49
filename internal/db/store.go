package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RichardoC/legisla/internal/models"
)

// ErrDuplicateEmail is returned when a user insert or update collides with an existing email.
var ErrDuplicateEmail = errors.New("email already in use")

// Store is the persistence gateway. Lookups return (nil, nil) when nothing matches;
// every other backend error is returned to the caller.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, id int64, update models.UserUpdate) (*models.User, error)
	// DeleteUser removes the user together with its conversations and messages.
	// It reports false when the user does not exist.
	DeleteUser(ctx context.Context, id int64) (bool, error)

	ListRoles(ctx context.Context) ([]models.Role, error)
	GetRole(ctx context.Context, id int64) (*models.Role, error)

	CreateConversation(ctx context.Context, conv *models.Conversation) error
	// GetConversation returns nil when the conversation is missing or owned by another user.
	GetConversation(ctx context.Context, id, userID int64) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error)

	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)

	Stats(ctx context.Context) (*models.Stats, error)
	UserStats(ctx context.Context) ([]models.UserStats, error)

	Ping(ctx context.Context) error
	Close() error
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// mostActiveLimit bounds the most_active_users list in Stats.
const mostActiveLimit = 5

// Open returns the Store for the configured driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return New(dsn)
	case DriverPostgres:
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

// updateSet renders the SET clause for a user update. placeholder maps a
// 1-based argument position to the driver's bind syntax.
func updateSet(u models.UserUpdate, placeholder func(int) string) (string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = "+placeholder(len(args)))
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Email != nil {
		add("email", *u.Email)
	}
	if u.PasswordHash != nil {
		add("password", *u.PasswordHash)
	}
	if u.RoleID != nil {
		add("role_id", *u.RoleID)
	}
	return strings.Join(sets, ", "), args
}
