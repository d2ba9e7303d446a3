package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// EmptyResponse replaces an upstream completion that carried no text.
	EmptyResponse = "No response generated"

	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider returns a whole completion in one call.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// StreamProvider streams assistant content increments.
// Both channels are closed when streaming ends; at most one error is sent.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

var ErrUnsupportedProvider = errors.New("unsupported provider")

// UpstreamError is returned for every failure at the provider boundary.
type UpstreamError struct {
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func upstream(provider string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Provider: provider, Err: err}
}

func upstreamf(provider, format string, args ...any) error {
	return &UpstreamError{Provider: provider, Err: fmt.Errorf(format, args...)}
}

func orPlaceholder(text string) string {
	if strings.TrimSpace(text) == "" {
		return EmptyResponse
	}
	return text
}

// send delivers one increment unless the consumer went away.
func send(ctx context.Context, chunks chan<- string, s string) bool {
	select {
	case chunks <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
