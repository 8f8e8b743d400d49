package models

import "time"

// QueryType selects which responder answers a question.
type QueryType string

const (
	QueryInternet QueryType = "internet"
	QueryLaws     QueryType = "laws"
)

// Valid reports whether q is one of the known query types.
func (q QueryType) Valid() bool {
	return q == QueryInternet || q == QueryLaws
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID        int64     `json:"id"`
	ConvID    int64     `json:"conversation_id"`
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	QueryType QueryType `json:"query_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationWithMessages is a conversation plus its messages in creation order.
type ConversationWithMessages struct {
	Conversation
	Messages []Message `json:"messages"`
}
