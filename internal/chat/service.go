// Package chat runs a question/answer turn: it validates the question, finds or
// creates the conversation, stores both messages and asks the AI router for the
// answer.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/RichardoC/legisla/internal/metrics"
	"github.com/RichardoC/legisla/internal/models"
	"go.uber.org/zap"
)

var (
	ErrEmptyQuestion        = errors.New("question is required")
	ErrInvalidQueryType     = errors.New("invalid query type")
	ErrQuestionTooLong      = errors.New("question is too long")
	ErrConversationNotFound = errors.New("conversation not found")
)

// Store is the slice of the persistence gateway the orchestrator needs.
type Store interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id, userID int64) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error)
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
}

// Responder answers questions and titles new conversations.
type Responder interface {
	Route(ctx context.Context, question string, queryType models.QueryType) (string, error)
	GenerateTitle(ctx context.Context, firstMessage string) string
}

// TokenCounter measures question length for the optional token limit.
type TokenCounter interface {
	Count(text string) int
}

type Query struct {
	Question       string
	ConversationID *int64
	QueryType      models.QueryType
}

type QueryResult struct {
	Answer         string           `json:"answer"`
	ConversationID int64            `json:"conversation_id"`
	QueryType      models.QueryType `json:"query_type"`
}

type Service struct {
	store     Store
	responder Responder
	tokens    TokenCounter
	maxTokens int
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewService wires the orchestrator. maxQuestionTokens <= 0 disables the
// length check, and tokens may then be nil.
func NewService(store Store, responder Responder, tokens TokenCounter, maxQuestionTokens int, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		responder: responder,
		tokens:    tokens,
		maxTokens: maxQuestionTokens,
		logger:    logger,
		metrics:   m,
	}
}

func (s *Service) validate(q *Query) error {
	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" {
		return ErrEmptyQuestion
	}
	if q.QueryType == "" {
		q.QueryType = models.QueryInternet
	}
	if !q.QueryType.Valid() {
		return ErrInvalidQueryType
	}
	if s.maxTokens > 0 && s.tokens != nil {
		if n := s.tokens.Count(q.Question); n > s.maxTokens {
			return fmt.Errorf("%w: %d tokens, limit is %d", ErrQuestionTooLong, n, s.maxTokens)
		}
	}
	return nil
}

// SubmitQuery runs one turn for userID. Validation errors persist nothing. An
// error after the user message is stored leaves that message in place.
func (s *Service) SubmitQuery(ctx context.Context, userID int64, q Query) (*QueryResult, error) {
	if err := s.validate(&q); err != nil {
		return nil, err
	}

	conv, err := s.conversationFor(ctx, userID, q)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateMessage(ctx, &models.Message{
		ConvID:  conv.ID,
		Role:    models.RoleUser,
		Content: q.Question,
	}); err != nil {
		return nil, fmt.Errorf("saving user message: %w", err)
	}

	answer, err := s.responder.Route(ctx, q.Question, q.QueryType)
	if err != nil {
		s.partialTurn(conv.ID, userID, err)
		return nil, err
	}

	if err := s.store.CreateMessage(ctx, &models.Message{
		ConvID:  conv.ID,
		Role:    models.RoleAssistant,
		Content: answer,
	}); err != nil {
		s.partialTurn(conv.ID, userID, err)
		return nil, fmt.Errorf("saving assistant message: %w", err)
	}

	s.logger.Debug("Query answered",
		zap.Int64("user_id", userID),
		zap.Int64("conversation_id", conv.ID),
		zap.String("query_type", string(q.QueryType)))

	return &QueryResult{Answer: answer, ConversationID: conv.ID, QueryType: q.QueryType}, nil
}

// conversationFor loads the conversation being continued, or starts one when
// no positive id is given.
func (s *Service) conversationFor(ctx context.Context, userID int64, q Query) (*models.Conversation, error) {
	if q.ConversationID != nil && *q.ConversationID > 0 {
		conv, err := s.store.GetConversation(ctx, *q.ConversationID, userID)
		if err != nil {
			return nil, fmt.Errorf("loading conversation: %w", err)
		}
		if conv == nil {
			return nil, ErrConversationNotFound
		}
		return conv, nil
	}

	conv := &models.Conversation{
		UserID:    userID,
		Title:     s.responder.GenerateTitle(ctx, q.Question),
		QueryType: q.QueryType,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) partialTurn(conversationID, userID int64, err error) {
	s.metrics.PartialTurn()
	s.logger.Error("Query turn left without an assistant reply",
		zap.Int64("conversation_id", conversationID),
		zap.Int64("user_id", userID),
		zap.Error(err))
}

func (s *Service) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return convs, nil
}

// GetConversation returns the conversation with its messages, or
// ErrConversationNotFound when it is missing or belongs to someone else.
func (s *Service) GetConversation(ctx context.Context, conversationID, userID int64) (*models.ConversationWithMessages, error) {
	conv, err := s.store.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	msgs, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	return &models.ConversationWithMessages{Conversation: *conv, Messages: msgs}, nil
}
