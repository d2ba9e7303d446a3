package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const googleName = "google"

// GoogleProvider talks to the Generative Language REST API, which is used here
// without upstream streaming. StreamChat replays the full answer word by word.
type GoogleProvider struct {
	BaseURL   string
	APIKey    string
	Model     string
	WordDelay time.Duration
	Client    *http.Client
}

type googlePart struct {
	Text string `json:"text"`
}

type googleContent struct {
	Parts []googlePart `json:"parts"`
}

type googleGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type googleGenerateReq struct {
	Model            string                 `json:"model"`
	Contents         []googleContent        `json:"contents"`
	GenerationConfig googleGenerationConfig `json:"generationConfig"`
}

func NewGoogleProvider(baseURL, apiKey, model string, wordDelay time.Duration) *GoogleProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if wordDelay < 0 {
		wordDelay = 0
	}
	return &GoogleProvider{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		Model:     model,
		WordDelay: wordDelay,
		Client:    &http.Client{Timeout: 90 * time.Second},
	}
}

// flattenPrompt renders the conversation as "role: content" lines.
func flattenPrompt(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

func (p *GoogleProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if p.Client == nil {
		return "", upstreamf(googleName, "http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", upstreamf(googleName, "api key is not configured")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return "", upstreamf(googleName, "model is required")
	}

	b, err := json.Marshal(googleGenerateReq{
		Model:    "models/" + model,
		Contents: []googleContent{{Parts: []googlePart{{Text: flattenPrompt(messages)}}}},
		GenerationConfig: googleGenerationConfig{
			Temperature:     defaultTemperature,
			MaxOutputTokens: defaultMaxTokens,
		},
	})
	if err != nil {
		return "", upstream(googleName, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(p.BaseURL, "/"), url.PathEscape(model), url.QueryEscape(p.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", upstream(googleName, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", upstream(googleName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", upstream(googleName, statusError(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", upstream(googleName, err)
	}
	if !gjson.ValidBytes(body) {
		return "", upstreamf(googleName, "malformed response body")
	}
	return orPlaceholder(gjson.GetBytes(body, "candidates.0.content.parts.0.text").String()), nil
}

// StreamChat makes one blocking call and then emits the answer one word at a time,
// pausing WordDelay between words. Concatenating the increments yields the exact answer.
func (p *GoogleProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		text, err := p.Chat(ctx, messages)
		if err != nil {
			errs <- err
			return
		}

		for i, word := range strings.Split(text, " ") {
			if i > 0 {
				word = " " + word
				if p.WordDelay > 0 {
					t := time.NewTimer(p.WordDelay)
					select {
					case <-t.C:
					case <-ctx.Done():
						t.Stop()
						errs <- upstream(googleName, ctx.Err())
						return
					}
				}
			}
			if word == "" {
				continue
			}
			if !send(ctx, chunks, word) {
				errs <- upstream(googleName, ctx.Err())
				return
			}
		}
	}()

	return chunks, errs
}
