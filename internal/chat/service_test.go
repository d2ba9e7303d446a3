package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ai-chat/internal/db/dbtest"
)

const (
	owner    uint64 = 1
	stranger uint64 = 2
)

func newTestService(t *testing.T) (*Service, *Repo) {
	t.Helper()
	repo := NewRepo(dbtest.Open(t, Models()...))
	return NewService(repo, "openai", "gpt-4o-mini"), repo
}

func TestCreateChat_AndList(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateChat(ctx, owner, "First", "gpt-4o-mini", "openai")
	require.NoError(t, err)
	second, err := svc.CreateChat(ctx, owner, "Second", "gemini-pro", "google")
	require.NoError(t, err)
	_, err = svc.CreateChat(ctx, stranger, "Other", "m", "openrouter")
	require.NoError(t, err)

	assert.Len(t, first.ID, 26)
	assert.False(t, first.IsShared)
	assert.Nil(t, first.ShareToken)

	chats, err := svc.ListChats(ctx, owner)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, second.ID, chats[0].ID)
	assert.Equal(t, first.ID, chats[1].ID)

	_, err = svc.ListChats(ctx, 0)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCreateChat_Defaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, owner, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, "New Chat", c.Title)
	assert.Equal(t, "gpt-4o-mini", c.Model)
	assert.Equal(t, "openai", c.Provider)

	_, err = svc.SetPreferences(ctx, owner, "gemini-pro", "google")
	require.NoError(t, err)
	c, err = svc.CreateChat(ctx, owner, "t", "", "")
	require.NoError(t, err)
	assert.Equal(t, "gemini-pro", c.Model)
	assert.Equal(t, "google", c.Provider)

	_, err = svc.CreateChat(ctx, 0, "t", "m", "p")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestPreferences(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.GetPreferences(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.DefaultProvider)

	_, err = svc.SetPreferences(ctx, owner, "a", "openrouter")
	require.NoError(t, err)
	_, err = svc.SetPreferences(ctx, owner, "b", "google")
	require.NoError(t, err)

	p, err = svc.GetPreferences(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, "b", p.DefaultModel)
	assert.Equal(t, "google", p.DefaultProvider)

	_, err = svc.SetPreferences(ctx, owner, "", "google")
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestOwnership_EveryOperation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, owner, "Mine", "gpt-4o-mini", "openai")
	require.NoError(t, err)
	m, err := svc.AddMessage(ctx, owner, c.ID, NewMessage{Role: RoleUser, Content: "hi"})
	require.NoError(t, err)

	checks := map[string]func() error{
		"GetChat": func() error { _, err := svc.GetChat(ctx, stranger, c.ID); return err },
		"GetChatMessages": func() error {
			_, err := svc.GetChatMessages(ctx, stranger, c.ID)
			return err
		},
		"UpdateChatTitle": func() error { return svc.UpdateChatTitle(ctx, stranger, c.ID, "x") },
		"ShareChat":       func() error { _, err := svc.ShareChat(ctx, stranger, c.ID); return err },
		"UnshareChat":     func() error { return svc.UnshareChat(ctx, stranger, c.ID) },
		"DeleteChat":      func() error { return svc.DeleteChat(ctx, stranger, c.ID) },
		"AddMessage": func() error {
			_, err := svc.AddMessage(ctx, stranger, c.ID, NewMessage{Role: RoleUser, Content: "x"})
			return err
		},
		"GetMessage": func() error { _, err := svc.GetMessage(ctx, stranger, m.ID); return err },
		"UpdateMessageContent": func() error {
			return svc.UpdateMessageContent(ctx, stranger, m.ID, "x", false, true)
		},
		"EditMessage":   func() error { _, err := svc.EditMessage(ctx, stranger, m.ID, "x"); return err },
		"DeleteMessage": func() error { return svc.DeleteMessage(ctx, stranger, m.ID) },
	}
	for name, fn := range checks {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, fn(), ErrNotAuthorized)
		})
	}

	got, err := svc.GetChat(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mine", got.Title)
	msgs, err := svc.GetChatMessages(ctx, owner, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Content)
}

func TestNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetChat(ctx, owner, "01NOPE0000000000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.GetMessage(ctx, owner, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateChatTitle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, owner, "Old", "m", "openai")
	require.NoError(t, err)
	require.NoError(t, svc.UpdateChatTitle(ctx, owner, c.ID, "New"))
	got, err := svc.GetChat(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Title)

	assert.ErrorIs(t, svc.UpdateChatTitle(ctx, owner, c.ID, "  "), ErrInvalidOperation)
}

func TestShareAndUnshare(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, owner, "Shared", "m", "openai")
	require.NoError(t, err)
	_, err = svc.AddMessage(ctx, owner, c.ID, NewMessage{Role: RoleUser, Content: "q"})
	require.NoError(t, err)

	token, err := svc.ShareChat(ctx, owner, c.ID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	shared, err := svc.GetSharedChat(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, c.ID, shared.ID)
	assert.True(t, shared.IsShared)
	require.NotNil(t, shared.ShareToken)
	assert.Equal(t, token, *shared.ShareToken)

	msgs, err := svc.GetSharedChatMessages(ctx, token)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	// a second share rotates the token
	token2, err := svc.ShareChat(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
	_, err = svc.GetSharedChat(ctx, token)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.UnshareChat(ctx, owner, c.ID))
	_, err = svc.GetSharedChat(ctx, token2)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.GetSharedChatMessages(ctx, token2)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := svc.GetChat(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.False(t, got.IsShared)
	assert.Nil(t, got.ShareToken)

	_, err = svc.GetSharedChat(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetSharedChat_UnsharedWithToken(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, owner, "t", "m", "openai")
	require.NoError(t, err)
	// token present but flag off must look exactly like an unknown token
	require.NoError(t, repo.PatchChat(ctx, c.ID, map[string]any{"share_token": "tok", "is_shared": false}))
	_, err = svc.GetSharedChat(ctx, "tok")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteChat_CascadesMessages(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, owner, "t", "m", "openai")
	require.NoError(t, err)
	keep, err := svc.CreateChat(ctx, owner, "keep", "m", "openai")
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err := svc.AddMessage(ctx, owner, c.ID, NewMessage{Role: RoleUser, Content: "x"})
		require.NoError(t, err)
	}
	_, err = svc.AddMessage(ctx, owner, keep.ID, NewMessage{Role: RoleUser, Content: "y"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteChat(ctx, owner, c.ID))

	left, err := repo.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, left)
	_, err = svc.GetChat(ctx, owner, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	other, err := repo.ListMessages(ctx, keep.ID)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestAddMessage_ModelOnlyOnAssistant(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, owner, "t", "gpt-4o-mini", "openai")
	require.NoError(t, err)

	u, err := svc.AddMessage(ctx, owner, c.ID, NewMessage{Role: RoleUser, Content: "q", Model: "x", Provider: "y"})
	require.NoError(t, err)
	assert.Nil(t, u.Model)
	assert.Nil(t, u.Provider)

	a, err := svc.AddMessage(ctx, owner, c.ID, NewMessage{
		Role: RoleAssistant, Model: c.Model, Provider: c.Provider, IsStreaming: true,
	})
	require.NoError(t, err)
	require.NotNil(t, a.Model)
	assert.Equal(t, "gpt-4o-mini", *a.Model)
	assert.Equal(t, "openai", *a.Provider)
	assert.True(t, a.IsStreaming)
	assert.Equal(t, uint64(1), a.RunGeneration)

	_, err = svc.AddMessage(ctx, owner, c.ID, NewMessage{Role: "system", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestEditMessage_KeepsFirstOriginal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, owner, "t", "m", "openai")
	require.NoError(t, err)
	m, err := svc.AddMessage(ctx, owner, c.ID, NewMessage{Role: RoleUser, Content: "pristine"})
	require.NoError(t, err)

	got, err := svc.EditMessage(ctx, owner, m.ID, "x")
	require.NoError(t, err)
	assert.True(t, got.IsEdited)
	assert.Equal(t, "x", got.Content)
	require.NotNil(t, got.OriginalContent)
	assert.Equal(t, "pristine", *got.OriginalContent)

	got, err = svc.EditMessage(ctx, owner, m.ID, "y")
	require.NoError(t, err)
	assert.Equal(t, "y", got.Content)
	assert.Equal(t, "pristine", *got.OriginalContent)
}

func TestEditMessage_RejectsStreaming(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, owner, "t", "m", "openai")
	require.NoError(t, err)
	a, err := svc.AddMessage(ctx, owner, c.ID, NewMessage{Role: RoleAssistant, IsStreaming: true})
	require.NoError(t, err)

	_, err = svc.EditMessage(ctx, owner, a.ID, "x")
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestUpdateMessageContent_FullReplace(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, owner, "t", "m", "openai")
	require.NoError(t, err)
	a, err := svc.AddMessage(ctx, owner, c.ID, NewMessage{Role: RoleAssistant, IsStreaming: true})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateMessageContent(ctx, owner, a.ID, "Hel", true, false))
	require.NoError(t, svc.UpdateMessageContent(ctx, owner, a.ID, "Hello", false, true))

	got, err := svc.GetMessage(ctx, owner, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", got.Content)
	assert.False(t, got.IsStreaming)
	assert.True(t, got.StreamingComplete)
}

func TestDeleteMessage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, owner, "t", "m", "openai")
	require.NoError(t, err)
	m, err := svc.AddMessage(ctx, owner, c.ID, NewMessage{Role: RoleUser, Content: "x"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteMessage(ctx, owner, m.ID))
	_, err = svc.GetMessage(ctx, owner, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunGenerations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.CreateChat(ctx, owner, "t", "m", "openai")
	require.NoError(t, err)
	u, err := svc.AddMessage(ctx, owner, c.ID, NewMessage{Role: RoleUser, Content: "q"})
	require.NoError(t, err)
	a, err := svc.AddMessage(ctx, owner, c.ID, NewMessage{Role: RoleAssistant, IsStreaming: true})
	require.NoError(t, err)

	_, err = svc.BeginRun(ctx, owner, u.ID)
	assert.ErrorIs(t, err, ErrInvalidOperation)

	require.NoError(t, svc.UpdateStreamingContent(ctx, owner, a.ID, 1, "old", true, false))

	gen, err := svc.BeginRun(ctx, owner, a.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), gen)

	got, err := svc.GetMessage(ctx, owner, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.Content)
	assert.True(t, got.IsStreaming)
	assert.False(t, got.StreamingComplete)

	// the superseded run can no longer write
	err = svc.UpdateStreamingContent(ctx, owner, a.ID, 1, "old more", true, false)
	assert.ErrorIs(t, err, ErrStaleRun)

	require.NoError(t, svc.UpdateStreamingContent(ctx, owner, a.ID, gen, "new", false, true))
	// identical rewrite is still accepted
	require.NoError(t, svc.UpdateStreamingContent(ctx, owner, a.ID, gen, "new", false, true))

	got, err = svc.GetMessage(ctx, owner, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Content)

	require.NoError(t, svc.DeleteMessage(ctx, owner, a.ID))
	err = svc.UpdateStreamingContent(ctx, owner, a.ID, gen, "gone", true, false)
	assert.ErrorIs(t, err, ErrStaleRun)
}
