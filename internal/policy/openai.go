package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ivr-tester/pkg/logger"

	"github.com/sethvargo/go-retry"
)

const systemPrompt = `You are an IVR testing assistant. Your job is to navigate an IVR system.
You will receive the transcription of what the IVR system said.
You need to decide what action to take.
The available actions are:
- DTMF: Press keys (e.g. "1", "123").
- SPEAK: Speak a phrase (e.g. "My account number is 123").
- HANGUP: Hang up the call.
- WAIT: Wait for more audio (if the prompt seems incomplete).

Output the action in JSON format:
{
  "type": "DTMF" | "SPEAK" | "HANGUP" | "WAIT",
  "value": "string value if needed"
}

Example:
IVR: "Press 1 for sales, press 2 for support."
Action: {"type": "DTMF", "value": "1"}

IVR: "Please say your name."
Action: {"type": "SPEAK", "value": "John Doe"}`

// OpenAIConfig configures the chat-completions decision policy.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string

	// MaxRetries bounds retries of transient failures (429, 5xx, network).
	MaxRetries uint64
	Backoff    time.Duration
}

func (c OpenAIConfig) withDefaults() OpenAIConfig {
	if c.Model == "" {
		c.Model = "gpt-4"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	return c
}

// OpenAI asks a chat-completions model for the next action.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
	log    *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig, log *slog.Logger) *OpenAI {
	return &OpenAI{
		cfg:    cfg.withDefaults(),
		client: &http.Client{Timeout: 60 * time.Second},
		log:    logger.Component(log, "policy.openai"),
	}
}

// statusError is a non-2xx inference response.
type statusError struct {
	Code int
	Body string
}

func (e statusError) Error() string {
	return fmt.Sprintf("inference returned %d: %s", e.Code, e.Body)
}

func (e statusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

func (p *OpenAI) DecideAction(ctx context.Context, transcription string) Action {
	content, err := p.complete(ctx, transcription)
	if err != nil {
		p.log.Error("decide action failed", "err", err)
		return Wait()
	}
	action, err := ParseAction(content)
	if err != nil {
		p.log.Warn("unparseable decision, waiting", "err", err, "content", content)
		return Wait()
	}
	return action
}

func (p *OpenAI) complete(ctx context.Context, transcription string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model": p.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": transcription},
		},
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return "", err
	}

	var content string
	backoff := retry.WithMaxRetries(p.cfg.MaxRetries, retry.NewConstant(p.cfg.Backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := p.post(ctx, body)
		if err != nil {
			var se statusError
			if errors.As(err, &se) && !se.retryable() {
				return err
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.log.Debug("retrying inference", "err", err)
			return retry.RetryableError(err)
		}
		content = out
		return nil
	})
	return content, err
}

func (p *OpenAI) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("inference returned no choices")
	}
	return payload.Choices[0].Message.Content, nil
}
