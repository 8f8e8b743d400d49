package db

import (
	"context"
	"testing"

	"github.com/RichardoC/legisla/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func createUser(t *testing.T, database *SQLite, email string, roleID int64) *models.User {
	t.Helper()
	u := &models.User{Email: email, PasswordHash: "hash", Name: "Test " + email, RoleID: roleID}
	require.NoError(t, database.CreateUser(context.Background(), u))
	return u
}

func TestSQLite_RolesSeeded(t *testing.T) {
	database := newTestDB(t)
	roles, err := database.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, models.RoleNameAdmin, roles[0].Name)
	assert.Equal(t, models.RoleNameUser, roles[1].Name)

	missing, err := database.GetRole(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_CreateAndLookupUser(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)

	u := createUser(t, database, "ana@example.com", models.RoleIDAdmin)
	assert.NotZero(t, u.ID)
	assert.Equal(t, models.RoleNameAdmin, u.RoleName)
	assert.False(t, u.CreatedAt.IsZero())

	byEmail, err := database.GetUserByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, u.ID, byEmail.ID)
	assert.Equal(t, "hash", byEmail.PasswordHash)

	missing, err := database.GetUser(ctx, 12345)
	require.NoError(t, err)
	assert.Nil(t, missing)

	missing, err = database.GetUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_DuplicateEmail(t *testing.T) {
	database := newTestDB(t)
	createUser(t, database, "dup@example.com", models.RoleIDUser)

	err := database.CreateUser(context.Background(), &models.User{
		Email: "dup@example.com", PasswordHash: "x", Name: "Other", RoleID: models.RoleIDUser,
	})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestSQLite_UpdateUser(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	u := createUser(t, database, "bia@example.com", models.RoleIDUser)
	other := createUser(t, database, "caio@example.com", models.RoleIDUser)

	name := "Beatriz"
	role := models.RoleIDAdmin
	updated, err := database.UpdateUser(ctx, u.ID, models.UserUpdate{Name: &name, RoleID: &role})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "Beatriz", updated.Name)
	assert.Equal(t, models.RoleNameAdmin, updated.RoleName)
	assert.Equal(t, "bia@example.com", updated.Email)

	taken := other.Email
	_, err = database.UpdateUser(ctx, u.ID, models.UserUpdate{Email: &taken})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	gone, err := database.UpdateUser(ctx, 999, models.UserUpdate{Name: &name})
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSQLite_ConversationOwnership(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	owner := createUser(t, database, "owner@example.com", models.RoleIDUser)
	intruder := createUser(t, database, "intruder@example.com", models.RoleIDUser)

	conv := &models.Conversation{UserID: owner.ID, Title: "IPTU"}
	require.NoError(t, database.CreateConversation(ctx, conv))
	assert.Equal(t, models.QueryInternet, conv.QueryType)

	got, err := database.GetConversation(ctx, conv.ID, owner.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "IPTU", got.Title)

	foreign, err := database.GetConversation(ctx, conv.ID, intruder.ID)
	require.NoError(t, err)
	assert.Nil(t, foreign)
}

func TestSQLite_MessagesOrderedAndBumpConversation(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	u := createUser(t, database, "msg@example.com", models.RoleIDUser)

	first := &models.Conversation{UserID: u.ID, Title: "first", QueryType: models.QueryLaws}
	second := &models.Conversation{UserID: u.ID, Title: "second"}
	require.NoError(t, database.CreateConversation(ctx, first))
	require.NoError(t, database.CreateConversation(ctx, second))

	list, err := database.ListConversations(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	for _, m := range []models.Message{
		{ConvID: first.ID, Role: models.RoleUser, Content: "pergunta"},
		{ConvID: first.ID, Role: models.RoleAssistant, Content: "resposta"},
	} {
		msg := m
		require.NoError(t, database.CreateMessage(ctx, &msg))
		assert.NotZero(t, msg.ID)
	}

	list, err = database.ListConversations(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, list[0].ID, "appending a message moves the conversation to the top")
	assert.Equal(t, models.QueryLaws, list[0].QueryType)

	msgs, err := database.ListMessages(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "pergunta", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
}

func TestSQLite_DeleteUserCascades(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	u := createUser(t, database, "gone@example.com", models.RoleIDUser)
	keep := createUser(t, database, "keep@example.com", models.RoleIDUser)

	conv := &models.Conversation{UserID: u.ID, Title: "x"}
	require.NoError(t, database.CreateConversation(ctx, conv))
	require.NoError(t, database.CreateMessage(ctx, &models.Message{ConvID: conv.ID, Role: models.RoleUser, Content: "a"}))

	kept := &models.Conversation{UserID: keep.ID, Title: "y"}
	require.NoError(t, database.CreateConversation(ctx, kept))

	ok, err := database.DeleteUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	gone, err := database.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	c, err := database.GetConversation(ctx, conv.ID, u.ID)
	require.NoError(t, err)
	assert.Nil(t, c)

	msgs, err := database.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	still, err := database.GetConversation(ctx, kept.ID, keep.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)

	ok, err = database.DeleteUser(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLite_Stats(t *testing.T) {
	ctx := context.Background()
	database := newTestDB(t)
	busy := createUser(t, database, "busy@example.com", models.RoleIDUser)
	quiet := createUser(t, database, "quiet@example.com", models.RoleIDUser)
	idle := createUser(t, database, "idle@example.com", models.RoleIDUser)

	for i := 0; i < 2; i++ {
		conv := &models.Conversation{UserID: busy.ID, Title: "c"}
		require.NoError(t, database.CreateConversation(ctx, conv))
		require.NoError(t, database.CreateMessage(ctx, &models.Message{ConvID: conv.ID, Role: models.RoleUser, Content: "q"}))
	}
	conv := &models.Conversation{UserID: quiet.ID, Title: "c"}
	require.NoError(t, database.CreateConversation(ctx, conv))

	s, err := database.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, s.TotalUsers)
	assert.EqualValues(t, 3, s.TotalConversations)
	assert.EqualValues(t, 2, s.TotalMessages)
	require.Len(t, s.MostActiveUsers, 2)
	assert.Equal(t, busy.ID, s.MostActiveUsers[0].UserID)
	assert.EqualValues(t, 2, s.MostActiveUsers[0].Count)

	us, err := database.UserStats(ctx)
	require.NoError(t, err)
	require.Len(t, us, 3)
	assert.EqualValues(t, 2, us[0].Conversations)
	assert.EqualValues(t, 2, us[0].Messages)
	require.NotNil(t, us[0].LastActivity)
	assert.Equal(t, idle.ID, us[2].UserID)
	assert.Nil(t, us[2].LastActivity)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	assert.Error(t, err)
}
