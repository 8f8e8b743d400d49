package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RichardoC/legisla/internal/models"
	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS role (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

INSERT OR IGNORE INTO role (id, name, description) VALUES
    (1, 'admin', 'Administrador do sistema'),
    (2, 'user', 'Usuário padrão');

CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT NOT NULL UNIQUE,
    password TEXT NOT NULL,
    name TEXT NOT NULL,
    role_id INTEGER NOT NULL REFERENCES role(id),
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    title TEXT NOT NULL,
    query_type TEXT NOT NULL DEFAULT 'internet',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL REFERENCES conversations(id),
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);`

const userColumns = `u.id, u.email, u.password, u.name, u.role_id, COALESCE(r.name, ''), u.created_at, u.updated_at`

// SQLite is the embedded Store used for local deployments and tests.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

func New(dbPath string) (*SQLite, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dbPath+sep+"_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// a single connection keeps :memory: databases coherent and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (db *SQLite) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *SQLite) Close() error {
	return db.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.RoleID, &u.RoleName, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (db *SQLite) getUserWhere(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + `
        FROM users u
        LEFT JOIN role r ON r.id = u.role_id
        WHERE ` + where

	u, err := scanUser(db.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (db *SQLite) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return db.getUserWhere(ctx, "u.id = ?", id)
}

func (db *SQLite) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUserWhere(ctx, "u.email = ?", email)
}

func (db *SQLite) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT `+userColumns+`
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

func (db *SQLite) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	res, err := db.db.ExecContext(ctx, `
        INSERT INTO users (email, password, name, role_id, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		user.Email, user.PasswordHash, user.Name, user.RoleID, now, now)
	if err != nil {
		return sqliteErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	created, err := db.GetUser(ctx, id)
	if err != nil {
		return err
	}
	*user = *created
	return nil
}

func (db *SQLite) UpdateUser(ctx context.Context, id int64, update models.UserUpdate) (*models.User, error) {
	if update.Empty() {
		return db.GetUser(ctx, id)
	}
	set, args := updateSet(update, func(int) string { return "?" })
	args = append(args, time.Now().UTC(), id)

	res, err := db.db.ExecContext(ctx, "UPDATE users SET "+set+", updated_at = ? WHERE id = ?", args...)
	if err != nil {
		return nil, sqliteErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return db.GetUser(ctx, id)
}

func (db *SQLite) DeleteUser(ctx context.Context, id int64) (bool, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// Delete messages
	if _, err := tx.ExecContext(ctx, `
        DELETE FROM messages
        WHERE conversation_id IN (SELECT id FROM conversations WHERE user_id = ?)`, id); err != nil {
		return false, err
	}

	// Delete conversations
	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE user_id = ?", id); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	return true, tx.Commit()
}

func (db *SQLite) ListRoles(ctx context.Context) ([]models.Role, error) {
	rows, err := db.db.QueryContext(ctx, "SELECT id, name, description FROM role ORDER BY id")
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

func (db *SQLite) GetRole(ctx context.Context, id int64) (*models.Role, error) {
	var r models.Role
	err := db.db.QueryRowContext(ctx, "SELECT id, name, description FROM role WHERE id = ?", id).
		Scan(&r.ID, &r.Name, &r.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *SQLite) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.QueryType == "" {
		conv.QueryType = models.QueryInternet
	}
	now := time.Now().UTC()
	res, err := db.db.ExecContext(ctx, `
        INSERT INTO conversations (user_id, title, query_type, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)`,
		conv.UserID, conv.Title, string(conv.QueryType), now, now)
	if err != nil {
		return err
	}
	conv.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}
	conv.CreatedAt, conv.UpdatedAt = now, now
	return nil
}

func (db *SQLite) GetConversation(ctx context.Context, id, userID int64) (*models.Conversation, error) {
	var conv models.Conversation
	err := db.db.QueryRowContext(ctx, `
        SELECT id, user_id, title, query_type, created_at, updated_at
        FROM conversations
        WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.QueryType, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (db *SQLite) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT id, user_id, title, query_type, created_at, updated_at
        FROM conversations
        WHERE user_id = ?
        ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		return []models.Conversation{}, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		err := rows.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.QueryType, &conv.CreatedAt, &conv.UpdatedAt)
		if err != nil {
			return []models.Conversation{}, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (db *SQLite) CreateMessage(ctx context.Context, msg *models.Message) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
        INSERT INTO messages (conversation_id, role, content, created_at)
        VALUES (?, ?, ?, ?)`, msg.ConvID, msg.Role, msg.Content, now)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", now, msg.ConvID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	msg.ID, msg.CreatedAt = id, now
	return nil
}

func (db *SQLite) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT id, conversation_id, role, content, created_at
        FROM messages
        WHERE conversation_id = ?
        ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return []models.Message{}, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content, &msg.CreatedAt)
		if err != nil {
			return []models.Message{}, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (db *SQLite) Stats(ctx context.Context) (*models.Stats, error) {
	var s models.Stats
	err := db.db.QueryRowContext(ctx, `
        SELECT
            (SELECT COUNT(*) FROM users),
            (SELECT COUNT(*) FROM conversations),
            (SELECT COUNT(*) FROM messages)`).
		Scan(&s.TotalUsers, &s.TotalConversations, &s.TotalMessages)
	if err != nil {
		return nil, err
	}

	rows, err := db.db.QueryContext(ctx, `
        SELECT u.id, u.name, u.email, COUNT(c.id) AS n
        FROM users u
        JOIN conversations c ON c.user_id = u.id
        GROUP BY u.id, u.name, u.email
        ORDER BY n DESC, u.id ASC
        LIMIT ?`, mostActiveLimit)
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

func (db *SQLite) UserStats(ctx context.Context) ([]models.UserStats, error) {
	rows, err := db.db.QueryContext(ctx, `
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
		var (
			us   models.UserStats
			last sql.NullString
		)
		if err := rows.Scan(&us.UserID, &us.Name, &us.Email, &us.Conversations, &us.Messages, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			if t, ok := parseSQLiteTime(last.String); ok {
				us.LastActivity = &t
			}
		}
		out = append(out, us)
	}
	return out, rows.Err()
}

// parseSQLiteTime parses aggregate results, which sqlite returns as text
// because they carry no declared column type.
func parseSQLiteTime(s string) (time.Time, bool) {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func sqliteErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ErrDuplicateEmail
	}
	return err
}
