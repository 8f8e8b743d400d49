package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/RichardoC/legisla/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS role (
    id SERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ DEFAULT now()
);

INSERT INTO role (id, name, description) VALUES
    (1, 'admin', 'Administrador do sistema'),
    (2, 'user', 'Usuário padrão')
ON CONFLICT (id) DO NOTHING;

SELECT setval(pg_get_serial_sequence('role', 'id'), GREATEST((SELECT MAX(id) FROM role), 1));

CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password TEXT NOT NULL,
    name TEXT NOT NULL,
    role_id INTEGER NOT NULL REFERENCES role(id),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversations (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    title TEXT NOT NULL,
    query_type TEXT NOT NULL DEFAULT 'internet',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
    id BIGSERIAL PRIMARY KEY,
    conversation_id BIGINT NOT NULL REFERENCES conversations(id),
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);`

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Postgres is the Store backed by a remote Postgres database.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolConfig.MaxConns = 30
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func pgPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func pgErr(err error) error {
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == pgUniqueViolation {
		return ErrDuplicateEmail
	}
	return err
}

func (p *Postgres) getUserWhere(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users u
		LEFT JOIN role r ON r.id = u.role_id
		WHERE ` + where

	u, err := scanUser(p.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (p *Postgres) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return p.getUserWhere(ctx, "u.id = $1", id)
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return p.getUserWhere(ctx, "u.email = $1", email)
}

func (p *Postgres) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+userColumns+`
		FROM users u
		LEFT JOIN role r ON r.id = u.role_id
		ORDER BY u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (p *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		WITH ins AS (
			INSERT INTO users (email, password, name, role_id)
			VALUES ($1, $2, $3, $4)
			RETURNING id, email, password, name, role_id, created_at, updated_at
		)
		SELECT u.id, u.email, u.password, u.name, u.role_id, COALESCE(r.name, ''), u.created_at, u.updated_at
		FROM ins u
		LEFT JOIN role r ON r.id = u.role_id`

	created, err := scanUser(p.pool.QueryRow(ctx, query, user.Email, user.PasswordHash, user.Name, user.RoleID))
	if err != nil {
		return pgErr(err)
	}
	*user = *created
	return nil
}

func (p *Postgres) UpdateUser(ctx context.Context, id int64, update models.UserUpdate) (*models.User, error) {
	if update.Empty() {
		return p.GetUser(ctx, id)
	}
	set, args := updateSet(update, pgPlaceholder)
	args = append(args, id)

	tag, err := p.pool.Exec(ctx,
		"UPDATE users SET "+set+", updated_at = now() WHERE id = "+pgPlaceholder(len(args)), args...)
	if err != nil {
		return nil, pgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return p.GetUser(ctx, id)
}

func (p *Postgres) DeleteUser(ctx context.Context, id int64) (bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM messages
		WHERE conversation_id IN (SELECT id FROM conversations WHERE user_id = $1)`, id); err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM conversations WHERE user_id = $1", id); err != nil {
		return false, fmt.Errorf("delete conversations: %w", err)
	}
	tag, err := tx.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	return true, tx.Commit(ctx)
}

func (p *Postgres) ListRoles(ctx context.Context) ([]models.Role, error) {
	rows, err := p.pool.Query(ctx, "SELECT id, name, description FROM role ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make([]models.Role, 0, 2)
	for rows.Next() {
		var r models.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (p *Postgres) GetRole(ctx context.Context, id int64) (*models.Role, error) {
	var r models.Role
	err := p.pool.QueryRow(ctx, "SELECT id, name, description FROM role WHERE id = $1", id).
		Scan(&r.ID, &r.Name, &r.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.QueryType == "" {
		conv.QueryType = models.QueryInternet
	}
	return p.pool.QueryRow(ctx, `
		INSERT INTO conversations (user_id, title, query_type)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		conv.UserID, conv.Title, string(conv.QueryType)).
		Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
}

func (p *Postgres) GetConversation(ctx context.Context, id, userID int64) (*models.Conversation, error) {
	var conv models.Conversation
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, title, query_type, created_at, updated_at
		FROM conversations
		WHERE id = $1 AND user_id = $2`, id, userID).
		Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.QueryType, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (p *Postgres) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, title, query_type, created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.QueryType, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (p *Postgres) CreateMessage(ctx context.Context, msg *models.Message) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`, msg.ConvID, msg.Role, msg.Content).
		Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "UPDATE conversations SET updated_at = $1 WHERE id = $2", msg.CreatedAt, msg.ConvID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (p *Postgres) Stats(ctx context.Context) (*models.Stats, error) {
	var s models.Stats
	err := p.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM conversations),
			(SELECT COUNT(*) FROM messages)`).
		Scan(&s.TotalUsers, &s.TotalConversations, &s.TotalMessages)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT u.id, u.name, u.email, COUNT(c.id) AS n
		FROM users u
		JOIN conversations c ON c.user_id = u.id
		GROUP BY u.id, u.name, u.email
		ORDER BY n DESC, u.id ASC
		LIMIT $1`, mostActiveLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	s.MostActiveUsers = make([]models.ActiveUser, 0, mostActiveLimit)
	for rows.Next() {
		var a models.ActiveUser
		if err := rows.Scan(&a.UserID, &a.Name, &a.Email, &a.Count); err != nil {
			return nil, err
		}
		s.MostActiveUsers = append(s.MostActiveUsers, a)
	}
	return &s, rows.Err()
}

func (p *Postgres) UserStats(ctx context.Context) ([]models.UserStats, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT u.id, u.name, u.email, COUNT(DISTINCT c.id), COUNT(m.id), MAX(c.updated_at)
		FROM users u
		LEFT JOIN conversations c ON c.user_id = u.id
		LEFT JOIN messages m ON m.conversation_id = c.id
		GROUP BY u.id, u.name, u.email
		ORDER BY u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.UserStats, 0)
	for rows.Next() {
		var us models.UserStats
		if err := rows.Scan(&us.UserID, &us.Name, &us.Email, &us.Conversations, &us.Messages, &us.LastActivity); err != nil {
			return nil, err
		}
		out = append(out, us)
	}
	return out, rows.Err()
}
