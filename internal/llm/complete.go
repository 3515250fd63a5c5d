package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tmcclell/CodeCounselor/internal/prompt"
)

const (
	maxRequestSize = 2 * 1024 * 1024 // 2MB total JSON payload
	maxPromptSize  = 512 * 1024      // 512KB per message content
)

// marshalRequest builds the provider JSON body for a prompt, enforcing the
// size guards shared by the streaming and non-streaming paths.
func (c *client) marshalRequest(p prompt.Prompt, stream bool) ([]byte, error) {
	if p.User == "" {
		return nil, fmt.Errorf("llmclient: prompt user content is empty")
	}
	if len(p.User) > maxPromptSize {
		return nil, fmt.Errorf("llmclient: prompt too large (%d bytes, max %d)",
			len(p.User), maxPromptSize)
	}

	var messages []providerMessage
	if p.System != "" {
		messages = append(messages, providerMessage{Role: RoleSystem, Content: p.System})
	}
	messages = append(messages, providerMessage{Role: RoleUser, Content: p.User})

	pReq := providerChatRequest{
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      stream,
	}

	bodyBytes, err := json.Marshal(pReq)
	if err != nil {
		return nil, fmt.Errorf("llmclient: marshal request: %w", err)
	}
	if len(bodyBytes) > maxRequestSize {
		return nil, fmt.Errorf("llmclient: request too large (%d bytes, max %d)",
			len(bodyBytes), maxRequestSize)
	}
	return bodyBytes, nil
}

// Complete performs a single non-streaming completion. Used by the
// self-test endpoint to verify upstream connectivity end to end.
func (c *client) Complete(parentCtx context.Context, p prompt.Prompt) (*Completion, error) {
	start := time.Now()

	bodyBytes, err := c.marshalRequest(p, false)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.StreamTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(), bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("llmclient: build HTTP request: %w", err)
	}
	httpReq.Header.Set("api-key", c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("llm request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, fmt.Errorf("llmclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		var perr providerErrorResponse
		if err := json.Unmarshal(raw, &perr); err == nil && perr.Error.Message != "" {
			c.logger.Error("llm provider error",
				zap.Int("status", resp.StatusCode),
				zap.String("error_type", perr.Error.Type),
				zap.String("error_message", perr.Error.Message),
			)
			return nil, fmt.Errorf("llmclient: upstream %d: %s (%s)",
				resp.StatusCode, perr.Error.Message, perr.Error.Type)
		}

		c.logger.Error("llm upstream error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(raw), 200)),
		)
		return nil, fmt.Errorf("llmclient: upstream %d: %s",
			resp.StatusCode, truncate(string(raw), 200))
	}

	var pResp providerChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&pResp); err != nil {
		return nil, fmt.Errorf("llmclient: decode upstream response: %w", err)
	}
	if len(pResp.Choices) == 0 {
		c.logger.Error("llm provider returned no choices",
			zap.String("deployment", c.cfg.Deployment),
		)
		return nil, fmt.Errorf("llmclient: provider returned no choices")
	}

	out := &Completion{
		Text:    pResp.Choices[0].Message.Content,
		Model:   pResp.Model,
		Created: pResp.Created,
	}
	if pResp.Usage != nil {
		out.Usage = Usage{
			PromptTokens:     pResp.Usage.PromptTokens,
			CompletionTokens: pResp.Usage.CompletionTokens,
			TotalTokens:      pResp.Usage.TotalTokens,
		}
	}

	c.logger.Info("llm request completed",
		zap.String("model", out.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}

// Ping reports whether the upstream endpoint is reachable at the transport
// level. Any HTTP response counts as reachable; only connect-level failures
// are errors.
func (c *client) Ping(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, 5*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("llmclient: build ping request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("llmclient: upstream unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	return nil
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
