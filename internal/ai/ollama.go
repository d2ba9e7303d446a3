package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const ollamaName = "ollama"

// OllamaProvider targets a local Ollama daemon. Its stream is newline-delimited JSON.
type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaChatReq struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

func (p *OllamaProvider) do(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	if p.Client == nil {
		return nil, fmt.Errorf("http client is nil")
	}
	b, err := json.Marshal(ollamaChatReq{
		Model:    p.Model,
		Messages: messages,
		Stream:   stream,
		Options:  ollamaOptions{Temperature: defaultTemperature, NumPredict: defaultMaxTokens},
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.Client
	if stream {
		c := *p.Client
		c.Timeout = 0
		client = &c
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp, nil
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	resp, err := p.do(ctx, messages, false)
	if err != nil {
		return "", upstream(ollamaName, err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Message Message `json:"message"`
		Error   string  `json:"error,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", upstream(ollamaName, err)
	}
	if decoded.Error != "" {
		return "", upstreamf(ollamaName, "%s", decoded.Error)
	}
	return orPlaceholder(decoded.Message.Content), nil
}

func (p *OllamaProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		resp, err := p.do(ctx, messages, true)
		if err != nil {
			errs <- upstream(ollamaName, err)
			return
		}
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 || !gjson.ValidBytes(line) {
				continue
			}
			if msg := gjson.GetBytes(line, "error").String(); msg != "" {
				errs <- upstreamf(ollamaName, "%s", msg)
				return
			}
			if delta := gjson.GetBytes(line, "message.content").String(); delta != "" {
				if !send(ctx, chunks, delta) {
					errs <- upstream(ollamaName, ctx.Err())
					return
				}
			}
			if gjson.GetBytes(line, "done").Bool() {
				return
			}
		}
		if err := sc.Err(); err != nil {
			errs <- upstream(ollamaName, err)
		}
	}()

	return chunks, errs
}
