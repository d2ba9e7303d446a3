package chat

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxBeginRunAttempts = 8

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *Repo) GetChatByShareToken(ctx context.Context, token string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).Where("share_token = ?", token).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// ListChatsByUser returns the user's chats newest first.
func (r *Repo) ListChatsByUser(ctx context.Context, userID uint64) ([]Chat, error) {
	var chats []Chat
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&chats).Error; err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *Repo) PatchChat(ctx context.Context, id string, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&Chat{}).Where("id = ?", id).Updates(fields).Error
}

// DeleteChat removes every message of the chat and then the chat itself.
func (r *Repo) DeleteChat(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&Chat{}).Error; err != nil {
			return fmt.Errorf("delete chat: %w", err)
		}
		return nil
	})
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *Repo) GetMessage(ctx context.Context, id uint64) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// ListMessages returns a chat's messages in ASC id order (oldest -> newest).
func (r *Repo) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) PatchMessage(ctx context.Context, id uint64, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&Message{}).Where("id = ?", id).Updates(fields).Error
}

func (r *Repo) DeleteMessage(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&Message{}).Error
}

// BeginRun claims the next run generation of a message with a compare-and-swap on
// run_generation, resetting it to an empty streaming placeholder in the same write.
func (r *Repo) BeginRun(ctx context.Context, id uint64) (uint64, error) {
	for i := 0; i < maxBeginRunAttempts; i++ {
		m, err := r.GetMessage(ctx, id)
		if err != nil {
			return 0, err
		}
		next := m.RunGeneration + 1
		res := r.db.WithContext(ctx).Model(&Message{}).
			Where("id = ? AND run_generation = ?", id, m.RunGeneration).
			Updates(map[string]any{
				"run_generation":     next,
				"content":            "",
				"is_streaming":       true,
				"streaming_complete": false,
			})
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 1 {
			return next, nil
		}
	}
	return 0, fmt.Errorf("begin run on message %d: generation kept moving", id)
}

// PatchMessageForRun applies fields only while the message still belongs to run generation gen.
func (r *Repo) PatchMessageForRun(ctx context.Context, id, gen uint64, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND run_generation = ?", id, gen).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// Some drivers report zero affected rows when nothing changed.
	m, err := r.GetMessage(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return ErrStaleRun
	}
	if err != nil {
		return err
	}
	if m.RunGeneration != gen {
		return ErrStaleRun
	}
	return nil
}

func (r *Repo) GetPreference(ctx context.Context, userID uint64) (*Preference, error) {
	var p Preference
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *Repo) UpsertPreference(ctx context.Context, p *Preference) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"default_model", "default_provider", "updated_at"}),
	}).Create(p).Error
}
