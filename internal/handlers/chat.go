package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tmcclell/CodeCounselor/internal/llm"
	"github.com/tmcclell/CodeCounselor/internal/metrics"
	"github.com/tmcclell/CodeCounselor/internal/prompt"
	"github.com/tmcclell/CodeCounselor/internal/relay"
	"github.com/tmcclell/CodeCounselor/pkg/logging"
)

// Terminal states of one chat request, used as the metrics outcome label.
const (
	outcomeRejected    = "rejected"
	outcomeOpenFailed  = "open_failed"
	outcomeCompleted   = "completed"
	outcomeInterrupted = "interrupted"
)

// ChatHandler holds dependencies for the /chat endpoint.
type ChatHandler struct {
	Prompts *prompt.Builder
	LLM     llm.Client
}

func NewChatHandler(prompts *prompt.Builder, llmClient llm.Client) *ChatHandler {
	return &ChatHandler{
		Prompts: prompts,
		LLM:     llmClient,
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

// Chat handles POST /chat: validate the message, build the persona prompt,
// open one upstream completion stream and relay its fragments to the caller
// as text/plain, flushed fragment by fragment.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request body",
			zap.String("phase", "validating"),
			zap.Error(err),
		)
		metrics.ChatRequestsTotal.WithLabelValues(outcomeRejected).Inc()
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		logger.Warn("empty message rejected",
			zap.String("phase", "validating"),
		)
		metrics.ChatRequestsTotal.WithLabelValues(outcomeRejected).Inc()
		writeError(w, http.StatusBadRequest, "please provide a code snippet for therapy")
		return
	}

	logger.Info("therapy request received",
		zap.Int("message_bytes", len(req.Message)),
	)

	// The message is embedded verbatim; only validation trims.
	p := h.Prompts.Build(req.Message)

	// The session owns this cancel so a dead client connection releases the
	// upstream stream promptly instead of draining it into the void.
	streamCtx, cancel := context.WithCancel(ctx)
	session := relay.NewSession(cancel)
	defer session.Close()

	results, err := h.LLM.StreamCompletion(streamCtx, p)
	if err != nil {
		logger.Error("upstream stream open failed",
			zap.String("phase", "opening"),
			zap.Error(err),
		)
		metrics.ChatRequestsTotal.WithLabelValues(outcomeOpenFailed).Inc()
		writeError(w, http.StatusInternalServerError, "upstream stream could not be opened")
		return
	}

	// Hold the status line until the stream proves it can produce output.
	// A fault that arrives before the first result still maps to a clean 500
	// instead of an empty 200.
	first, ok := <-results
	if ok && first.Err != nil {
		logger.Error("upstream stream failed before producing output",
			zap.String("phase", "opening"),
			zap.Error(first.Err),
		)
		metrics.ChatRequestsTotal.WithLabelValues(outcomeOpenFailed).Inc()
		writeError(w, http.StatusInternalServerError, "upstream stream failed before producing output")
		return
	}

	// From here the status is committed; later faults can only truncate.
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	var pulled *llm.StreamResult
	if ok {
		pulled = &first
	}
	stats, err := session.Run(pulled, results, relay.NewHTTPSink(w))
	metrics.StreamFragmentsTotal.Add(float64(stats.Fragments))

	fields := []zap.Field{
		zap.String("phase", "streaming"),
		zap.Int("fragments", stats.Fragments),
		zap.Int("bytes", stats.Bytes),
		zap.Duration("total_latency_ms", time.Since(start)),
	}

	switch {
	case errors.Is(err, relay.ErrSinkClosed):
		logger.Info("client disconnected mid-stream", fields...)
		metrics.ChatRequestsTotal.WithLabelValues(outcomeInterrupted).Inc()
	case err != nil:
		logger.Error("upstream stream fault", append(fields, zap.Error(err))...)
		metrics.ChatRequestsTotal.WithLabelValues(outcomeInterrupted).Inc()
	case ctx.Err() != nil:
		// The disconnect was absorbed by upstream cancellation before any
		// sink write could fail.
		logger.Info("client disconnected mid-stream", fields...)
		metrics.ChatRequestsTotal.WithLabelValues(outcomeInterrupted).Inc()
	default:
		logger.Info("stream completed", fields...)
		metrics.ChatRequestsTotal.WithLabelValues(outcomeCompleted).Inc()
	}
}

// SelfTest handles POST /test-simple: one non-streaming upstream call to
// verify connectivity end to end. Failures are reported in the JSON body so
// the diagnostics page can display them.
func (h *ChatHandler) SelfTest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	p := prompt.Prompt{
		User: "Say 'Hello from Dr. CodeBot!' in exactly those words.",
	}

	comp, err := h.LLM.Complete(ctx, p)
	if err != nil {
		logger.Error("self-test request failed", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"response": comp.Text,
		"usage":    comp.Usage,
		"model":    comp.Model,
		"created":  comp.Created,
	})
}
