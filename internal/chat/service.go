package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/suPer8Hu/ai-chat/internal/common"
	"gorm.io/gorm"
)

const (
	defaultTitle         = "New Chat"
	maxShareTokenRetries = 3
)

// Service is the conversation ledger. Every operation except the shared-link
// reads takes the caller's user id and re-validates chat ownership before acting.
type Service struct {
	repo            *Repo
	defaultProvider string
	defaultModel    string
}

func NewService(repo *Repo, defaultProvider, defaultModel string) *Service {
	if defaultProvider == "" {
		defaultProvider = "openai"
	}
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &Service{repo: repo, defaultProvider: defaultProvider, defaultModel: defaultModel}
}

// NewMessage describes a message to append. Model and Provider are only kept for
// assistant messages.
type NewMessage struct {
	Role              string
	Content           string
	Model             string
	Provider          string
	IsStreaming       bool
	StreamingComplete bool
}

func (s *Service) ownedChat(ctx context.Context, userID uint64, chatID string) (*Chat, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat %s: %w", chatID, err)
	}
	if c.UserID != userID {
		return nil, fmt.Errorf("chat %s: %w", chatID, ErrNotAuthorized)
	}
	return c, nil
}

func (s *Service) ownedMessage(ctx context.Context, userID uint64, messageID uint64) (*Message, *Chat, error) {
	if userID == 0 {
		return nil, nil, ErrUnauthenticated
	}
	m, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, fmt.Errorf("message %d: %w", messageID, err)
	}
	c, err := s.ownedChat(ctx, userID, m.ChatID)
	if err != nil {
		return nil, nil, err
	}
	return m, c, nil
}

func (s *Service) CreateChat(ctx context.Context, userID uint64, title, model, provider string) (*Chat, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultTitle
	}
	model = strings.TrimSpace(model)
	provider = strings.TrimSpace(provider)
	if model == "" || provider == "" {
		dm, dp := s.defaultsFor(ctx, userID)
		if model == "" {
			model = dm
		}
		if provider == "" {
			provider = dp
		}
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	c := &Chat{
		ID:       id,
		UserID:   userID,
		Title:    title,
		Model:    model,
		Provider: provider,
	}
	if err := s.repo.CreateChat(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) defaultsFor(ctx context.Context, userID uint64) (model, provider string) {
	p, err := s.repo.GetPreference(ctx, userID)
	if err != nil || p.DefaultModel == "" || p.DefaultProvider == "" {
		return s.defaultModel, s.defaultProvider
	}
	return p.DefaultModel, p.DefaultProvider
}

func (s *Service) GetChat(ctx context.Context, userID uint64, chatID string) (*Chat, error) {
	return s.ownedChat(ctx, userID, chatID)
}

// ListChats returns the caller's chats, most recent first.
func (s *Service) ListChats(ctx context.Context, userID uint64) ([]Chat, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	return s.repo.ListChatsByUser(ctx, userID)
}

func (s *Service) GetChatMessages(ctx context.Context, userID uint64, chatID string) ([]Message, error) {
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, chatID)
}

func (s *Service) UpdateChatTitle(ctx context.Context, userID uint64, chatID, title string) error {
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title is empty: %w", ErrInvalidOperation)
	}
	return s.repo.PatchChat(ctx, chatID, map[string]any{"title": title})
}

// ShareChat publishes the chat under a fresh random token, replacing any previous one.
func (s *Service) ShareChat(ctx context.Context, userID uint64, chatID string) (string, error) {
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return "", err
	}
	var err error
	for i := 0; i < maxShareTokenRetries; i++ {
		token := uuid.NewString()
		err = s.repo.PatchChat(ctx, chatID, map[string]any{
			"is_shared":   true,
			"share_token": token,
		})
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", err
		}
	}
	return "", err
}

func (s *Service) UnshareChat(ctx context.Context, userID uint64, chatID string) error {
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return err
	}
	return s.repo.PatchChat(ctx, chatID, map[string]any{
		"is_shared":   false,
		"share_token": nil,
	})
}

func (s *Service) DeleteChat(ctx context.Context, userID uint64, chatID string) error {
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return err
	}
	return s.repo.DeleteChat(ctx, chatID)
}

// GetSharedChat is the public read path. Unknown and unshared tokens are
// indistinguishable to the caller.
func (s *Service) GetSharedChat(ctx context.Context, token string) (*Chat, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNotFound
	}
	c, err := s.repo.GetChatByShareToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !c.IsShared {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *Service) GetSharedChatMessages(ctx context.Context, token string) ([]Message, error) {
	c, err := s.GetSharedChat(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, c.ID)
}

func (s *Service) AddMessage(ctx context.Context, userID uint64, chatID string, nm NewMessage) (*Message, error) {
	if _, err := s.ownedChat(ctx, userID, chatID); err != nil {
		return nil, err
	}
	if nm.Role != RoleUser && nm.Role != RoleAssistant {
		return nil, fmt.Errorf("role %q: %w", nm.Role, ErrInvalidOperation)
	}

	m := &Message{
		ChatID:            chatID,
		Role:              nm.Role,
		Content:           nm.Content,
		IsStreaming:       nm.IsStreaming,
		StreamingComplete: nm.StreamingComplete,
	}
	if nm.Role == RoleAssistant {
		if nm.Model != "" {
			m.Model = &nm.Model
		}
		if nm.Provider != "" {
			m.Provider = &nm.Provider
		}
	}
	// A placeholder that starts streaming is owned by run generation 1.
	if nm.IsStreaming {
		m.RunGeneration = 1
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Service) GetMessage(ctx context.Context, userID uint64, messageID uint64) (*Message, error) {
	m, _, err := s.ownedMessage(ctx, userID, messageID)
	return m, err
}

// UpdateMessageContent replaces the whole content and streaming flags of a message.
func (s *Service) UpdateMessageContent(ctx context.Context, userID uint64, messageID uint64, content string, isStreaming, streamingComplete bool) error {
	if _, _, err := s.ownedMessage(ctx, userID, messageID); err != nil {
		return err
	}
	return s.repo.PatchMessage(ctx, messageID, contentFields(content, isStreaming, streamingComplete))
}

// UpdateStreamingContent is UpdateMessageContent for a streaming run: the write lands
// only while gen is the message's current run generation, otherwise ErrStaleRun.
func (s *Service) UpdateStreamingContent(ctx context.Context, userID uint64, messageID, gen uint64, content string, isStreaming, streamingComplete bool) error {
	if _, _, err := s.ownedMessage(ctx, userID, messageID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrStaleRun
		}
		return err
	}
	return s.repo.PatchMessageForRun(ctx, messageID, gen, contentFields(content, isStreaming, streamingComplete))
}

// BeginRun resets an assistant message to an empty streaming placeholder and returns
// the run generation that now owns it. Older runs lose write access.
func (s *Service) BeginRun(ctx context.Context, userID uint64, messageID uint64) (uint64, error) {
	m, _, err := s.ownedMessage(ctx, userID, messageID)
	if err != nil {
		return 0, err
	}
	if m.Role != RoleAssistant {
		return 0, fmt.Errorf("only assistant messages can be regenerated: %w", ErrInvalidOperation)
	}
	return s.repo.BeginRun(ctx, messageID)
}

func contentFields(content string, isStreaming, streamingComplete bool) map[string]any {
	return map[string]any{
		"content":            content,
		"is_streaming":       isStreaming,
		"streaming_complete": streamingComplete,
	}
}

// EditMessage overwrites content. The first edit keeps the pristine content in
// OriginalContent; later edits leave it alone.
func (s *Service) EditMessage(ctx context.Context, userID uint64, messageID uint64, newContent string) (*Message, error) {
	m, _, err := s.ownedMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if m.IsStreaming {
		return nil, fmt.Errorf("message %d is streaming: %w", messageID, ErrInvalidOperation)
	}

	fields := map[string]any{
		"content":   newContent,
		"is_edited": true,
	}
	if !m.IsEdited || m.OriginalContent == nil {
		fields["original_content"] = m.Content
	}
	if err := s.repo.PatchMessage(ctx, messageID, fields); err != nil {
		return nil, err
	}
	return s.repo.GetMessage(ctx, messageID)
}

func (s *Service) DeleteMessage(ctx context.Context, userID uint64, messageID uint64) error {
	if _, _, err := s.ownedMessage(ctx, userID, messageID); err != nil {
		return err
	}
	return s.repo.DeleteMessage(ctx, messageID)
}

// GetPreferences returns the caller's defaults, falling back to the service defaults.
func (s *Service) GetPreferences(ctx context.Context, userID uint64) (*Preference, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	p, err := s.repo.GetPreference(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &Preference{UserID: userID, DefaultModel: s.defaultModel, DefaultProvider: s.defaultProvider}, nil
	}
	return p, err
}

func (s *Service) SetPreferences(ctx context.Context, userID uint64, model, provider string) (*Preference, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	model = strings.TrimSpace(model)
	provider = strings.TrimSpace(provider)
	if model == "" || provider == "" {
		return nil, fmt.Errorf("model and provider are required: %w", ErrInvalidOperation)
	}
	p := &Preference{UserID: userID, DefaultModel: model, DefaultProvider: provider}
	if err := s.repo.UpsertPreference(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
