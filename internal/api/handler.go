package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/RichardoC/legisla/internal/auth"
	"github.com/RichardoC/legisla/internal/chat"
	"github.com/RichardoC/legisla/internal/db"
	"github.com/RichardoC/legisla/internal/metrics"
	"github.com/RichardoC/legisla/internal/models"
	"github.com/RichardoC/legisla/internal/settings"
	"go.uber.org/zap"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Store      db.Store
	Chat       *chat.Service
	Tokens     *auth.Manager
	Settings   *settings.Store
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	AdminEmail string
	// Restart is called after the restart response is written.
	Restart func()
}

type Handler struct {
	store      db.Store
	chat       *chat.Service
	tokens     *auth.Manager
	gate       *auth.Gate
	settings   *settings.Store
	metrics    *metrics.Metrics
	logger     *zap.Logger
	adminEmail string
	restart    func()
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	restart := d.Restart
	if restart == nil {
		restart = func() {}
	}
	return &Handler{
		store:      d.Store,
		chat:       d.Chat,
		tokens:     d.Tokens,
		gate:       auth.NewGate(d.Tokens, d.Store, d.AdminEmail, logger),
		settings:   d.Settings,
		metrics:    d.Metrics,
		logger:     logger,
		adminEmail: d.AdminEmail,
		restart:    restart,
	}
}

type QueryRequest struct {
	Question       string           `json:"question"`
	ConversationID *int64           `json:"conversationId"`
	QueryType      models.QueryType `json:"queryType"`
}

type HistoryItem struct {
	ID        int64            `json:"id"`
	Title     string           `json:"title"`
	Date      time.Time        `json:"date"`
	QueryType models.QueryType `json:"query_type"`
}

type HistoryMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type ConversationResponse struct {
	ID        int64            `json:"id"`
	Title     string           `json:"title"`
	QueryType models.QueryType `json:"query_type"`
	Messages  []HistoryMessage `json:"messages"`
}

// principal returns the caller set by the auth gate.
func principal(r *http.Request) *auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user := principal(r).User
	res, err := h.chat.SubmitQuery(r.Context(), user.ID, chat.Query{
		Question:       req.Question,
		ConversationID: req.ConversationID,
		QueryType:      req.QueryType,
	})
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, res)
	case errors.Is(err, chat.ErrEmptyQuestion),
		errors.Is(err, chat.ErrInvalidQueryType),
		errors.Is(err, chat.ErrQuestionTooLong):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrConversationNotFound):
		h.writeError(w, http.StatusNotFound, "conversation not found")
	default:
		h.logger.Error("Failed to process query",
			zap.Int64("user_id", user.ID),
			zap.String("query_type", string(req.QueryType)),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to process query")
	}
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	user := principal(r).User
	conversations, err := h.chat.ListConversations(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("Failed to get conversations",
			zap.Int64("user_id", user.ID),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	h.logger.Debug("Retrieved conversations",
		zap.Int("count", len(conversations)),
		zap.Int64("user_id", user.ID))

	items := make([]HistoryItem, 0, len(conversations))
	for _, c := range conversations {
		items = append(items, HistoryItem{ID: c.ID, Title: c.Title, Date: c.UpdatedAt, QueryType: c.QueryType})
	}
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	user := principal(r).User
	conv, err := h.chat.GetConversation(r.Context(), id, user.ID)
	if errors.Is(err, chat.ErrConversationNotFound) {
		h.writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get conversation",
			zap.Int64("conversation_id", id),
			zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	msgs := make([]HistoryMessage, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		msgs = append(msgs, HistoryMessage{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt})
	}
	h.writeJSON(w, http.StatusOK, ConversationResponse{
		ID:        conv.ID,
		Title:     conv.Title,
		QueryType: conv.QueryType,
		Messages:  msgs,
	})
}
