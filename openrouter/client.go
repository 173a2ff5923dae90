// Package openrouter contains a minimal client for an OpenRouter-compatible
// chat-completions endpoint. Errors are classified so callers can degrade
// (fallback text, no retries) instead of failing the conversation.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Sentinel errors for the caller's taxonomy. All are non-fatal; the caller
// substitutes fallback text and moves on.
var (
	ErrRateLimited = errors.New("completion api rate limited")
	ErrTimeout     = errors.New("completion api timed out")
	ErrService     = errors.New("completion api error")
)

// Turn is one conversation message in the request payload.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client calls one model with one API key. The bot uses two instances: one for
// chat replies and one for summarization.
type Client struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	// Timeout bounds each call; on expiry the call is treated like any
	// other failure. Zero means no client-imposed deadline.
	Timeout time.Duration
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Complete sends system context plus conversation turns and returns the model
// text. system entries become leading role=system messages.
func (c *Client) Complete(ctx context.Context, system []string, turns []Turn) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	msgs := make([]Turn, 0, len(system)+len(turns))
	for _, s := range system {
		msgs = append(msgs, Turn{Role: "system", Content: s})
	}
	msgs = append(msgs, turns...)

	payload := struct {
		Model    string `json:"model"`
		Messages []Turn `json:"messages"`
	}{Model: c.Model, Messages: msgs}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http().Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("%w: %v", ErrService, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("%w: %s: %s", ErrService, resp.Status, string(b))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrService, err)
	}
	// Some upstreams report rate limiting inside a 200 body.
	if out.Error != nil && out.Error.Code == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", ErrService)
	}
	return out.Choices[0].Message.Content, nil
}
