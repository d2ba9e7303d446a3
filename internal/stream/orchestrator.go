// Package stream drives one provider completion end to end and persists the
// cumulative text of an assistant message after every increment.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/suPer8Hu/ai-chat/internal/ai"
	"github.com/suPer8Hu/ai-chat/internal/chat"
)

// Apology is the terminal content of a message whose run failed.
const Apology = "Sorry, I encountered an error while generating a response. Please try again."

type State int

const (
	Pending State = iota
	Streaming
	Complete
	Failed
	// Superseded means a newer run took the message over; this run stopped without writing.
	Superseded
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Streaming:
		return "streaming"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	case Superseded:
		return "superseded"
	}
	return "unknown"
}

// Providers resolves a chat's provider name and model to a provider.
type Providers interface {
	Get(ctx context.Context, name string, model string) (ai.Provider, error)
}

// Ledger persists run output. Writes from a superseded generation return chat.ErrStaleRun.
type Ledger interface {
	UpdateStreamingContent(ctx context.Context, userID uint64, messageID, gen uint64, content string, isStreaming, streamingComplete bool) error
}

// Notifier is told after each persisted write so live readers can refresh.
type Notifier interface {
	PublishChatUpdate(ctx context.Context, chatID string) error
}

// Run is one provider call targeting one assistant message.
type Run struct {
	UserID     uint64       `json:"user_id"`
	ChatID     string       `json:"chat_id"`
	MessageID  uint64       `json:"message_id"`
	Generation uint64       `json:"generation"`
	Provider   string       `json:"provider"`
	Model      string       `json:"model"`
	History    []ai.Message `json:"history"`
}

type Orchestrator struct {
	providers Providers
	ledger    Ledger
	notifier  Notifier
	logger    *slog.Logger
}

type Option func(*Orchestrator)

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func New(providers Providers, ledger Ledger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		ledger:    ledger,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(slog.String("component", "stream"))
	return o
}

// Execute runs to a terminal state. The message never stays in isStreaming=true
// unless a newer run owns it.
func (o *Orchestrator) Execute(ctx context.Context, run Run) State {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := o.logger.With(
		slog.Uint64("message_id", run.MessageID),
		slog.Uint64("generation", run.Generation),
		slog.String("provider", run.Provider),
		slog.String("model", run.Model),
	)

	err := o.stream(ctx, run)
	if err == nil {
		return Complete
	}
	if errors.Is(err, chat.ErrStaleRun) {
		log.Debug("run superseded")
		return Superseded
	}

	log.Error("run failed", slog.String("error", err.Error()))
	if werr := o.write(ctx, run, Apology, false, true); werr != nil {
		if errors.Is(werr, chat.ErrStaleRun) {
			return Superseded
		}
		log.Error("persist failure state", slog.String("error", werr.Error()))
	}
	return Failed
}

func (o *Orchestrator) stream(ctx context.Context, run Run) error {
	p, err := o.providers.Get(ctx, run.Provider, run.Model)
	if err != nil {
		return err
	}

	chunks, errs := increments(ctx, p, run.History)

	var b strings.Builder
	for c := range chunks {
		b.WriteString(c)
		if err := o.write(ctx, run, b.String(), true, false); err != nil {
			return err
		}
	}
	if err := <-errs; err != nil {
		return err
	}

	// only a reply with no increments at all gets the placeholder; anything
	// already written must stay a prefix of the final text
	text := b.String()
	if text == "" {
		text = ai.EmptyResponse
	}
	return o.write(ctx, run, text, false, true)
}

// increments adapts a provider without native streaming into a one-increment stream.
func increments(ctx context.Context, p ai.Provider, history []ai.Message) (<-chan string, <-chan error) {
	if sp, ok := p.(ai.StreamProvider); ok {
		return sp.StreamChat(ctx, history)
	}

	chunks := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		text, err := p.Chat(ctx, history)
		if err != nil {
			errs <- err
			return
		}
		chunks <- text
	}()
	return chunks, errs
}

func (o *Orchestrator) write(ctx context.Context, run Run, content string, isStreaming, streamingComplete bool) error {
	if err := o.ledger.UpdateStreamingContent(ctx, run.UserID, run.MessageID, run.Generation, content, isStreaming, streamingComplete); err != nil {
		return err
	}
	if o.notifier != nil {
		if err := o.notifier.PublishChatUpdate(ctx, run.ChatID); err != nil {
			o.logger.Debug("publish chat update", slog.String("chat_id", run.ChatID), slog.String("error", err.Error()))
		}
	}
	return nil
}
