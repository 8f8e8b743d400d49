package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/RichardoC/legisla/internal/db"
	"github.com/RichardoC/legisla/internal/metrics"
	"github.com/RichardoC/legisla/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeResponder struct {
	mu     sync.Mutex
	answer string
	err    error
	title  string
	routed []models.QueryType
	titles int
}

func (f *fakeResponder) Route(_ context.Context, _ string, qt models.QueryType) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routed = append(f.routed, qt)
	return f.answer, f.err
}

func (f *fakeResponder) GenerateTitle(context.Context, string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles++
	return f.title
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

type fixture struct {
	store     *db.SQLite
	responder *fakeResponder
	metrics   *metrics.Metrics
	svc       *Service
	userID    int64
	otherID   int64
}

func newFixture(t *testing.T, maxTokens int) *fixture {
	t.Helper()
	store, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	u := &models.User{Email: "user@example.com", PasswordHash: "x", Name: "User", RoleID: models.RoleIDUser}
	o := &models.User{Email: "other@example.com", PasswordHash: "x", Name: "Other", RoleID: models.RoleIDUser}
	require.NoError(t, store.CreateUser(ctx, u))
	require.NoError(t, store.CreateUser(ctx, o))

	r := &fakeResponder{answer: "Resposta", title: "Título"}
	m := metrics.New()
	return &fixture{
		store:     store,
		responder: r,
		metrics:   m,
		svc:       NewService(store, r, wordCounter{}, maxTokens, zaptest.NewLogger(t), m),
		userID:    u.ID,
		otherID:   o.ID,
	}
}

func TestSubmitQuery_NewConversation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	res, err := f.svc.SubmitQuery(ctx, f.userID, Query{Question: "  O que é IPTU?  "})
	require.NoError(t, err)
	assert.Equal(t, "Resposta", res.Answer)
	assert.Equal(t, models.QueryInternet, res.QueryType, "empty query type defaults to internet")
	assert.NotZero(t, res.ConversationID)

	conv, err := f.svc.GetConversation(ctx, res.ConversationID, f.userID)
	require.NoError(t, err)
	assert.Equal(t, "Título", conv.Title)
	assert.Equal(t, models.QueryInternet, conv.QueryType)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "O que é IPTU?", conv.Messages[0].Content)
	assert.Equal(t, models.RoleAssistant, conv.Messages[1].Role)
	assert.Equal(t, "Resposta", conv.Messages[1].Content)
}

func TestSubmitQuery_ExistingConversation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	first, err := f.svc.SubmitQuery(ctx, f.userID, Query{Question: "leis de trânsito", QueryType: models.QueryLaws})
	require.NoError(t, err)
	assert.Equal(t, models.QueryLaws, first.QueryType)

	id := first.ConversationID
	second, err := f.svc.SubmitQuery(ctx, f.userID, Query{Question: "e as multas?", ConversationID: &id, QueryType: models.QueryLaws})
	require.NoError(t, err)
	assert.Equal(t, id, second.ConversationID)
	assert.Equal(t, 1, f.responder.titles, "title is generated only for new conversations")

	conv, err := f.svc.GetConversation(ctx, id, f.userID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 4)
	assert.Equal(t, []models.QueryType{models.QueryLaws, models.QueryLaws}, f.responder.routed)
}

func TestSubmitQuery_ZeroConversationIDStartsNew(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	for _, id := range []int64{0, -1} {
		res, err := f.svc.SubmitQuery(ctx, f.userID, Query{Question: "nova pergunta", ConversationID: &id})
		require.NoError(t, err, "id %d", id)
		assert.Positive(t, res.ConversationID)
	}
	assert.Equal(t, 2, f.responder.titles)

	convs, err := f.svc.ListConversations(ctx, f.userID)
	require.NoError(t, err)
	assert.Len(t, convs, 2)
}

func TestSubmitQuery_ValidationPersistsNothing(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	_, err := f.svc.SubmitQuery(ctx, f.userID, Query{Question: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = f.svc.SubmitQuery(ctx, f.userID, Query{Question: "oi", QueryType: "radio"})
	assert.ErrorIs(t, err, ErrInvalidQueryType)

	_, err = f.svc.SubmitQuery(ctx, f.userID, Query{Question: "uma pergunta longa demais"})
	assert.ErrorIs(t, err, ErrQuestionTooLong)

	convs, err := f.svc.ListConversations(ctx, f.userID)
	require.NoError(t, err)
	assert.Empty(t, convs)
	assert.Empty(t, f.responder.routed)
}

func TestSubmitQuery_ForeignConversation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	theirs, err := f.svc.SubmitQuery(ctx, f.otherID, Query{Question: "minha pergunta"})
	require.NoError(t, err)

	id := theirs.ConversationID
	_, err = f.svc.SubmitQuery(ctx, f.userID, Query{Question: "intrusão", ConversationID: &id})
	assert.ErrorIs(t, err, ErrConversationNotFound)

	missing := int64(9999)
	_, err = f.svc.SubmitQuery(ctx, f.userID, Query{Question: "nada", ConversationID: &missing})
	assert.ErrorIs(t, err, ErrConversationNotFound)

	_, err = f.svc.GetConversation(ctx, id, f.userID)
	assert.ErrorIs(t, err, ErrConversationNotFound)

	conv, err := f.svc.GetConversation(ctx, id, f.otherID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2, "intruder's message was not appended")
}

func TestSubmitQuery_RouterFailureLeavesUserMessage(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.responder.err = errors.New("provider down")

	_, err := f.svc.SubmitQuery(ctx, f.userID, Query{Question: "O que é ISS?"})
	require.Error(t, err)

	convs, err := f.svc.ListConversations(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, convs, 1)

	conv, err := f.svc.GetConversation(ctx, convs[0].ID, f.userID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, models.RoleUser, conv.Messages[0].Role)
	assert.NoError(t, testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(`
# HELP chat_partial_turns_total Query turns whose user message was stored without an assistant reply.
# TYPE chat_partial_turns_total counter
chat_partial_turns_total 1
`), "chat_partial_turns_total"))
}

func TestListConversations_NewestFirst(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	a, err := f.svc.SubmitQuery(ctx, f.userID, Query{Question: "primeira"})
	require.NoError(t, err)
	b, err := f.svc.SubmitQuery(ctx, f.userID, Query{Question: "segunda"})
	require.NoError(t, err)
	_, err = f.svc.SubmitQuery(ctx, f.otherID, Query{Question: "alheia"})
	require.NoError(t, err)

	convs, err := f.svc.ListConversations(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, b.ConversationID, convs[0].ID)
	assert.Equal(t, a.ConversationID, convs[1].ID)
}
