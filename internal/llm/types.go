package llm

import (
	"context"

	"github.com/tmcclell/CodeCounselor/internal/prompt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Fragment is one incremental piece of generated text from the upstream
// stream. Text may be empty on the final fragment carrying FinishReason.
type Fragment struct {
	Text         string
	FinishReason string
}

// StreamResult carries either a fragment or a mid-stream failure. After a
// result with Err set, the channel is closed and no further fragments follow.
type StreamResult struct {
	Fragment *Fragment
	Err      error
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the result of a non-streaming call, used by the self-test
// endpoint.
type Completion struct {
	Text    string `json:"text"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Usage   Usage  `json:"usage"`
}

// Client is the upstream completion client used by the handlers.
//
// StreamCompletion opens exactly one streaming completion call. Failures
// before any output exists (bad config, auth, unreachable upstream, non-2xx
// status) are returned synchronously, so the caller can still send a
// meaningful HTTP status. Failures after streaming has begun arrive as the
// final StreamResult on the channel. The channel is finite and cannot be
// consumed twice; cancel ctx to abandon the stream early.
type Client interface {
	StreamCompletion(ctx context.Context, p prompt.Prompt) (<-chan StreamResult, error)
	Complete(ctx context.Context, p prompt.Prompt) (*Completion, error)
	Ping(ctx context.Context) error
}
