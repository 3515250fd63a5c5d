package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/tmcclell/CodeCounselor/internal/prompt"
)

// StreamCompletion opens one streaming completion call against the configured
// deployment. The connect happens synchronously: any failure before the
// upstream has produced output is returned here, before a channel exists.
// Once the stream is open, fragments are delivered on the returned channel in
// arrival order; a mid-stream failure is delivered as the final result.
func (c *client) StreamCompletion(parentCtx context.Context, p prompt.Prompt) (<-chan StreamResult, error) {
	bodyBytes, err := c.marshalRequest(p, true)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("llm stream request starting",
		zap.String("deployment", c.cfg.Deployment),
		zap.Int("prompt_bytes", len(p.User)),
	)

	// Bound on the total stream duration, connect included.
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.StreamTimeout)

	resp, err := c.connect(ctx, bodyBytes)
	if err != nil {
		cancel()
		return nil, err
	}

	results := make(chan StreamResult, 16)
	go c.readStream(ctx, cancel, resp.Body, results)
	return results, nil
}

// connect performs the HTTP POST and returns only when the upstream has
// accepted the request with a 2xx status. No retries: a failed connect is
// reported to the caller as-is.
func (c *client) connect(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.completionsURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmclient: build HTTP stream request: %w", err)
	}
	httpReq.Header.Set("api-key", c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("llm stream connect failed",
			zap.String("deployment", c.cfg.Deployment),
			zap.Error(err),
		)
		return nil, fmt.Errorf("llmclient: open stream: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		var perr providerErrorResponse
		if err := json.Unmarshal(raw, &perr); err == nil && perr.Error.Message != "" {
			c.logger.Error("llm stream provider error",
				zap.String("deployment", c.cfg.Deployment),
				zap.Int("status", resp.StatusCode),
				zap.String("error_type", perr.Error.Type),
				zap.String("error_message", perr.Error.Message),
			)
			return nil, fmt.Errorf("llmclient: upstream stream %d: %s (%s)",
				resp.StatusCode, perr.Error.Message, perr.Error.Type)
		}

		c.logger.Error("llm stream upstream error",
			zap.String("deployment", c.cfg.Deployment),
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(raw), 200)),
		)
		return nil, fmt.Errorf("llmclient: upstream stream %d: %s",
			resp.StatusCode, truncate(string(raw), 200))
	}

	return resp, nil
}

// readStream parses SSE "data:" events off the response body and forwards
// them as fragments until EOF, the [DONE] sentinel, a malformed chunk, or
// cancellation.
func (c *client) readStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, results chan<- StreamResult) {
	defer close(results)
	defer cancel()
	defer body.Close()

	reader := bufio.NewReader(body)
	fragmentCount := 0

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				// Normal end of stream without explicit [DONE]
				c.logger.Info("llm stream completed (EOF)",
					zap.String("deployment", c.cfg.Deployment),
					zap.Int("fragments", fragmentCount),
				)
				return
			}
			if cause := ctx.Err(); cause != nil {
				if errors.Is(cause, context.DeadlineExceeded) {
					// Stream exceeded its duration bound.
					c.emitFault(ctx, results, fmt.Errorf(
						"llmclient: stream exceeded %s: %w", c.cfg.StreamTimeout, cause))
					return
				}
				// Caller abandoned the stream; not a fault.
				c.logger.Info("llm stream cancelled",
					zap.String("deployment", c.cfg.Deployment),
					zap.Int("fragments", fragmentCount),
				)
				return
			}
			c.emitFault(ctx, results, fmt.Errorf("llmclient: read stream line: %w", err))
			return
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		const dataPrefix = "data: "
		if !bytes.HasPrefix(line, []byte(dataPrefix)) {
			// Ignore non-data SSE lines
			continue
		}

		payload := bytes.TrimSpace(line[len(dataPrefix):])

		// End-of-stream sentinel from provider
		if bytes.Equal(payload, []byte("[DONE]")) {
			c.logger.Info("llm stream received [DONE]",
				zap.String("deployment", c.cfg.Deployment),
				zap.Int("fragments", fragmentCount),
			)
			return
		}

		var chunk providerStreamChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			// Malformed fragments terminate the stream rather than being
			// skipped, so the caller never sees a gap it cannot detect.
			c.emitFault(ctx, results, fmt.Errorf("llmclient: unmarshal stream chunk: %w", err))
			return
		}

		for _, choice := range chunk.Choices {
			deltaText := choice.Delta.Content
			if deltaText == "" && choice.FinishReason == "" {
				continue
			}

			fragmentCount++
			result := StreamResult{Fragment: &Fragment{
				Text:         deltaText,
				FinishReason: choice.FinishReason,
			}}

			select {
			case <-ctx.Done():
				c.logger.Info("llm stream cancelled while sending fragment",
					zap.String("deployment", c.cfg.Deployment),
					zap.Int("fragments", fragmentCount),
					zap.Error(ctx.Err()),
				)
				return
			case results <- result:
			}
		}
	}
}

// emitFault delivers a mid-stream failure to the consumer. It blocks until
// the result is accepted or the context ends; in the latter case a final
// non-blocking attempt uses the channel buffer so an attentive consumer
// still observes the failure.
func (c *client) emitFault(ctx context.Context, results chan<- StreamResult, err error) {
	c.logger.Error("llm stream fault",
		zap.String("deployment", c.cfg.Deployment),
		zap.Error(err),
	)
	select {
	case results <- StreamResult{Err: err}:
	case <-ctx.Done():
		select {
		case results <- StreamResult{Err: err}:
		default:
		}
	}
}
