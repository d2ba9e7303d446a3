package ai

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openAIName = "openai"

// OpenAIProvider uses the official SDK and its native chunk stream.
type OpenAIProvider struct {
	Model  string
	apiKey string
	client *openai.Client
}

func NewOpenAIProvider(baseURL, apiKey, model string, opts ...option.RequestOption) *OpenAIProvider {
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	options = append(options, opts...)
	return &OpenAIProvider{
		Model:  model,
		apiKey: apiKey,
		client: openai.NewClient(options...),
	}
}

func (p *OpenAIProvider) params(messages []Message) (openai.ChatCompletionNewParams, error) {
	if strings.TrimSpace(p.apiKey) == "" {
		return openai.ChatCompletionNewParams{}, upstreamf(openAIName, "api key is not configured")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return openai.ChatCompletionNewParams{}, upstreamf(openAIName, "model is required")
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	return openai.ChatCompletionNewParams{
		Messages:    openai.F(msgs),
		Model:       openai.F(openai.ChatModel(model)),
		MaxTokens:   openai.Int(defaultMaxTokens),
		Temperature: openai.Float(defaultTemperature),
	}, nil
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	params, err := p.params(messages)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", upstream(openAIName, err)
	}
	if len(resp.Choices) == 0 {
		return EmptyResponse, nil
	}
	return orPlaceholder(resp.Choices[0].Message.Content), nil
}

func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		params, err := p.params(messages)
		if err != nil {
			errs <- err
			return
		}

		strm := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer strm.Close()

		for strm.Next() {
			chunk := strm.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !send(ctx, chunks, delta) {
				errs <- upstream(openAIName, ctx.Err())
				return
			}
		}
		if err := strm.Err(); err != nil {
			errs <- upstream(openAIName, err)
		}
	}()

	return chunks, errs
}
