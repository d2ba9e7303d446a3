package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Chat struct {
	ID         string    `gorm:"primaryKey;type:varchar(26)" json:"id"`
	UserID     uint64    `gorm:"index:idx_chats_user_created,priority:1;not null" json:"-"`
	Title      string    `gorm:"type:varchar(255);not null" json:"title"`
	Model      string    `gorm:"type:varchar(128);not null" json:"model"`
	Provider   string    `gorm:"type:varchar(32);not null" json:"provider"`
	IsShared   bool      `gorm:"not null;default:false" json:"is_shared"`
	ShareToken *string   `gorm:"type:varchar(36);uniqueIndex" json:"share_token,omitempty"`
	CreatedAt  time.Time `gorm:"index:idx_chats_user_created,priority:2" json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

// Message rows are ordered by ID, which follows insertion order within a chat.
type Message struct {
	ID                uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ChatID            string    `gorm:"type:varchar(26);index;not null" json:"chat_id"`
	Role              string    `gorm:"type:varchar(16);not null" json:"role"`
	Content           string    `gorm:"type:text;not null" json:"content"`
	Model             *string   `gorm:"type:varchar(128)" json:"model,omitempty"`
	Provider          *string   `gorm:"type:varchar(32)" json:"provider,omitempty"`
	IsStreaming       bool      `gorm:"not null;default:false" json:"is_streaming"`
	StreamingComplete bool      `gorm:"not null;default:false" json:"streaming_complete"`
	IsEdited          bool      `gorm:"not null;default:false" json:"is_edited"`
	OriginalContent   *string   `gorm:"type:text" json:"original_content,omitempty"`
	RunGeneration     uint64    `gorm:"not null;default:0" json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Preference holds a user's default model selection for new chats.
type Preference struct {
	UserID          uint64    `gorm:"primaryKey;autoIncrement:false" json:"-"`
	DefaultModel    string    `gorm:"type:varchar(128);not null" json:"default_model"`
	DefaultProvider string    `gorm:"type:varchar(32);not null" json:"default_provider"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Preference) TableName() string { return "user_preferences" }

// Models lists every table owned by this package, for migrations.
func Models() []any {
	return []any{&Chat{}, &Message{}, &Preference{}}
}
