package models

import "time"

// Role names as stored in the role table.
const (
	RoleNameAdmin = "admin"
	RoleNameUser  = "user"
)

// Well-known role ids seeded by the schema.
const (
	RoleIDAdmin int64 = 1
	RoleIDUser  int64 = 2
)

type Role struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DefaultRoles is served when the role table cannot be read.
var DefaultRoles = []Role{
	{ID: RoleIDAdmin, Name: RoleNameAdmin, Description: "Administrador do sistema"},
	{ID: RoleIDUser, Name: RoleNameUser, Description: "Usuário padrão"},
}

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	RoleID       int64     `json:"role_id"`
	RoleName     string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserUpdate carries the fields an admin may change. Nil fields are left untouched.
type UserUpdate struct {
	Name         *string
	Email        *string
	PasswordHash *string
	RoleID       *int64
}

// Empty reports whether the update changes nothing.
func (u UserUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.PasswordHash == nil && u.RoleID == nil
}

type ActiveUser struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Count  int64  `json:"count"`
}

type Stats struct {
	TotalUsers         int64        `json:"total_users"`
	TotalConversations int64        `json:"total_conversations"`
	TotalMessages      int64        `json:"total_messages"`
	MostActiveUsers    []ActiveUser `json:"most_active_users"`
}

type UserStats struct {
	UserID        int64      `json:"user_id"`
	Name          string     `json:"name"`
	Email         string     `json:"email"`
	Conversations int64      `json:"conversations"`
	Messages      int64      `json:"messages"`
	LastActivity  *time.Time `json:"last_activity"`
}
