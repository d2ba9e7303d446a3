package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const openRouterName = "openrouter"

type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

type openRouterChatReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OpenRouterProvider) newRequest(ctx context.Context, messages []Message, stream bool) (*http.Request, error) {
	if p.Client == nil {
		return nil, fmt.Errorf("http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, fmt.Errorf("api key is not configured")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	b, err := json.Marshal(openRouterChatReq{
		Model:       model,
		Messages:    messages,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		req.Header.Set("X-Title", p.AppName)
	}
	return req, nil
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, msg)
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	req, err := p.newRequest(ctx, messages, false)
	if err != nil {
		return "", upstream(openRouterName, err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", upstream(openRouterName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", upstream(openRouterName, statusError(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", upstream(openRouterName, err)
	}
	if !gjson.ValidBytes(body) {
		return "", upstreamf(openRouterName, "malformed response body")
	}
	if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
		return "", upstreamf(openRouterName, "%s", msg)
	}
	return orPlaceholder(gjson.GetBytes(body, "choices.0.message.content").String()), nil
}

// StreamChat streams assistant content chunks via SSE.
// Frames that are not valid JSON are skipped; the stream ends at "[DONE]" or EOF.
func (p *OpenRouterProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		req, err := p.newRequest(ctx, messages, true)
		if err != nil {
			errs <- upstream(openRouterName, err)
			return
		}

		client := *p.Client
		client.Timeout = 0 // ctx bounds the stream

		resp, err := client.Do(req)
		if err != nil {
			errs <- upstream(openRouterName, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- upstream(openRouterName, statusError(resp))
			return
		}

		if err := scanSSE(ctx, resp.Body, chunks); err != nil {
			errs <- upstream(openRouterName, err)
		}
	}()

	return chunks, errs
}

// scanSSE forwards choices[0].delta.content of every "data: " frame until "[DONE]".
func scanSSE(ctx context.Context, body io.Reader, chunks chan<- string) error {
	sc := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}
		if !gjson.Valid(data) {
			continue
		}
		if msg := gjson.Get(data, "error.message").String(); msg != "" {
			return fmt.Errorf("%s", msg)
		}
		delta := gjson.Get(data, "choices.0.delta.content").String()
		if delta == "" {
			continue
		}
		if !send(ctx, chunks, delta) {
			return ctx.Err()
		}
	}
	return sc.Err()
}
