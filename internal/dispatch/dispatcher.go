// Package dispatch is the entry point for sending and retrying messages.
// It sequences ledger writes and hands the provider call to a Scheduler.
package dispatch

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/suPer8Hu/ai-chat/internal/ai"
	"github.com/suPer8Hu/ai-chat/internal/chat"
	"github.com/suPer8Hu/ai-chat/internal/stream"
)

// Ack confirms a run was scheduled. The reply is observed by reading the assistant message.
type Ack struct {
	ChatID             string `json:"chat_id"`
	UserMessageID      uint64 `json:"user_message_id,omitempty"`
	AssistantMessageID uint64 `json:"assistant_message_id"`
}

type Dispatcher struct {
	ledger    *chat.Service
	scheduler Scheduler
	logger    *slog.Logger

	// chatLocks serializes the streaming check and placeholder claim per chat.
	chatLocks [64]sync.Mutex
}

func NewDispatcher(ledger *chat.Service, scheduler Scheduler) *Dispatcher {
	return &Dispatcher{
		ledger:    ledger,
		scheduler: scheduler,
		logger:    slog.Default().With(slog.String("component", "dispatch")),
	}
}

func (d *Dispatcher) lockChat(chatID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(chatID))
	mu := &d.chatLocks[h.Sum32()%uint32(len(d.chatLocks))]
	mu.Lock()
	return mu.Unlock
}

// streamingElsewhere reports whether a message other than except is still streaming.
func streamingElsewhere(msgs []chat.Message, except uint64) bool {
	for i := range msgs {
		if msgs[i].IsStreaming && msgs[i].ID != except {
			return true
		}
	}
	return false
}

func toProviderHistory(msgs []chat.Message) []ai.Message {
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// SendMessage appends the user message and an empty streaming assistant placeholder,
// then schedules a run over the history read before the placeholder existed.
func (d *Dispatcher) SendMessage(ctx context.Context, userID uint64, chatID string, content string) (*Ack, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("message is empty: %w", chat.ErrInvalidOperation)
	}

	unlock := d.lockChat(chatID)
	defer unlock()

	// one reply streams per chat
	current, err := d.ledger.GetChatMessages(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	if streamingElsewhere(current, 0) {
		return nil, fmt.Errorf("chat %s has a reply in progress: %w", chatID, chat.ErrInvalidOperation)
	}

	// 1) user message
	userMsg, err := d.ledger.AddMessage(ctx, userID, chatID, chat.NewMessage{
		Role:    chat.RoleUser,
		Content: content,
	})
	if err != nil {
		return nil, err
	}

	// 2) chat config
	c, err := d.ledger.GetChat(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	// 3) full history
	msgs, err := d.ledger.GetChatMessages(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	// 4) placeholder carrying the chat's current model/provider
	placeholder, err := d.ledger.AddMessage(ctx, userID, chatID, chat.NewMessage{
		Role:              chat.RoleAssistant,
		Model:             c.Model,
		Provider:          c.Provider,
		IsStreaming:       true,
		StreamingComplete: false,
	})
	if err != nil {
		return nil, err
	}

	// 5) hand off
	run := stream.Run{
		UserID:     userID,
		ChatID:     chatID,
		MessageID:  placeholder.ID,
		Generation: placeholder.RunGeneration,
		Provider:   c.Provider,
		Model:      c.Model,
		History:    toProviderHistory(msgs),
	}
	if err := d.schedule(ctx, run); err != nil {
		return nil, err
	}

	return &Ack{ChatID: chatID, UserMessageID: userMsg.ID, AssistantMessageID: placeholder.ID}, nil
}

// RetryMessage regenerates an assistant message in place from the messages that precede it.
func (d *Dispatcher) RetryMessage(ctx context.Context, userID uint64, messageID uint64) (*Ack, error) {
	m, err := d.ledger.GetMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if m.Role != chat.RoleAssistant {
		return nil, fmt.Errorf("can only retry assistant messages: %w", chat.ErrInvalidOperation)
	}

	unlock := d.lockChat(m.ChatID)
	defer unlock()

	c, err := d.ledger.GetChat(ctx, userID, m.ChatID)
	if err != nil {
		return nil, err
	}

	all, err := d.ledger.GetChatMessages(ctx, userID, m.ChatID)
	if err != nil {
		return nil, err
	}
	idx := -1
	for i := range all {
		if all[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("message %d: %w", messageID, chat.ErrNotFound)
	}

	if streamingElsewhere(all, messageID) {
		return nil, fmt.Errorf("chat %s has a reply in progress: %w", m.ChatID, chat.ErrInvalidOperation)
	}

	gen, err := d.ledger.BeginRun(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	run := stream.Run{
		UserID:     userID,
		ChatID:     m.ChatID,
		MessageID:  messageID,
		Generation: gen,
		Provider:   c.Provider,
		Model:      c.Model,
		History:    toProviderHistory(all[:idx]),
	}
	if err := d.schedule(ctx, run); err != nil {
		return nil, err
	}

	return &Ack{ChatID: m.ChatID, AssistantMessageID: messageID}, nil
}

// schedule hands the run off. If that fails the placeholder is finalized with the
// apology so it does not stay streaming.
func (d *Dispatcher) schedule(ctx context.Context, run stream.Run) error {
	err := d.scheduler.Schedule(ctx, run)
	if err == nil {
		return nil
	}
	d.logger.Error("schedule run",
		slog.Uint64("message_id", run.MessageID),
		slog.String("error", err.Error()),
	)
	if werr := d.ledger.UpdateStreamingContent(ctx, run.UserID, run.MessageID, run.Generation, stream.Apology, false, true); werr != nil {
		d.logger.Error("finalize unscheduled run",
			slog.Uint64("message_id", run.MessageID),
			slog.String("error", werr.Error()),
		)
	}
	return fmt.Errorf("schedule run: %w", err)
}
