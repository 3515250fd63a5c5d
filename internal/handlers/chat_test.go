package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tmcclell/CodeCounselor/internal/llm"
	"github.com/tmcclell/CodeCounselor/internal/metrics"
	"github.com/tmcclell/CodeCounselor/internal/prompt"
)

type mockLLMClient struct {
	fragments []string
	openErr   error
	midErr    error

	streamCalls   int
	completeCalls int
	pingErr       error
	lastPrompt    prompt.Prompt
}

func (m *mockLLMClient) StreamCompletion(ctx context.Context, p prompt.Prompt) (<-chan llm.StreamResult, error) {
	m.streamCalls++
	m.lastPrompt = p
	if m.openErr != nil {
		return nil, m.openErr
	}

	ch := make(chan llm.StreamResult, len(m.fragments)+1)
	for _, f := range m.fragments {
		ch <- llm.StreamResult{Fragment: &llm.Fragment{Text: f}}
	}
	if m.midErr != nil {
		ch <- llm.StreamResult{Err: m.midErr}
	}
	close(ch)
	return ch, nil
}

func (m *mockLLMClient) Complete(ctx context.Context, p prompt.Prompt) (*llm.Completion, error) {
	m.completeCalls++
	m.lastPrompt = p
	return &llm.Completion{Text: "Hello from Dr. CodeBot!", Model: "gpt-4o"}, nil
}

func (m *mockLLMClient) Ping(ctx context.Context) error {
	return m.pingErr
}

func postChat(t *testing.T, h *ChatHandler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	h.Chat(rr, req)
	return rr
}

func TestChatRoundTrip(t *testing.T) {
	fakeLLM := &mockLLMClient{fragments: []string{"You ", "are ", "not ", "alone."}}
	h := NewChatHandler(prompt.NewBuilder(""), fakeLLM)

	rr := postChat(t, h, `{"message": "def f(): pass"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain content type, got %q", ct)
	}
	if body := rr.Body.String(); body != "You are not alone." {
		t.Fatalf("unexpected body: %q", body)
	}
	if fakeLLM.streamCalls != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", fakeLLM.streamCalls)
	}
	if !strings.Contains(fakeLLM.lastPrompt.User, "def f(): pass") {
		t.Fatalf("user message not embedded verbatim: %q", fakeLLM.lastPrompt.User)
	}
}

func TestChatPreservesFragmentOrder(t *testing.T) {
	fakeLLM := &mockLLMClient{fragments: []string{"Dear ", "code, ", "it's ", "okay."}}
	h := NewChatHandler(prompt.NewBuilder(""), fakeLLM)

	rr := postChat(t, h, `{"message": "x = 1"}`)

	if body := rr.Body.String(); body != "Dear code, it's okay." {
		t.Fatalf("fragments merged or reordered: %q", body)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	for _, body := range []string{
		`{"message": ""}`,
		`{"message": "   \n\t  "}`,
		`{}`,
	} {
		fakeLLM := &mockLLMClient{fragments: []string{"nope"}}
		h := NewChatHandler(prompt.NewBuilder(""), fakeLLM)

		rr := postChat(t, h, body)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rr.Code)
		}
		if fakeLLM.streamCalls != 0 {
			t.Fatalf("body %s: upstream contacted for invalid request", body)
		}

		var errResp errorBody
		if err := json.Unmarshal(rr.Body.Bytes(), &errResp); err != nil {
			t.Fatalf("body %s: error response is not JSON: %v", body, err)
		}
		if errResp.Error == "" {
			t.Fatalf("body %s: expected structured error body", body)
		}
	}
}

func TestChatRejectsMalformedJSON(t *testing.T) {
	fakeLLM := &mockLLMClient{}
	h := NewChatHandler(prompt.NewBuilder(""), fakeLLM)

	rr := postChat(t, h, `{not json`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if fakeLLM.streamCalls != 0 {
		t.Fatalf("upstream contacted for malformed request")
	}
}

func TestChatOpenFailureReturns500(t *testing.T) {
	fakeLLM := &mockLLMClient{openErr: errors.New("upstream 401: bad key")}
	h := NewChatHandler(prompt.NewBuilder(""), fakeLLM)

	rr := postChat(t, h, `{"message": "x = 1"}`)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}

	var errResp errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("error response is not JSON: %v", err)
	}
	if errResp.Error == "" {
		t.Fatalf("expected structured error body")
	}
}

func TestChatFaultBeforeFirstFragmentReturns500(t *testing.T) {
	// The stream opened but failed before yielding any output, so the status
	// must still be an error, not an empty 200.
	fakeLLM := &mockLLMClient{midErr: errors.New("upstream reset")}
	h := NewChatHandler(prompt.NewBuilder(""), fakeLLM)

	rr := postChat(t, h, `{"message": "x = 1"}`)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for stream with no output, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("streaming content type committed for failed stream: %q", ct)
	}

	var errResp errorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("error response is not JSON: %v", err)
	}
	if errResp.Error == "" {
		t.Fatalf("expected structured error body")
	}
}

func TestChatEmptyStreamReturnsEmpty200(t *testing.T) {
	fakeLLM := &mockLLMClient{}
	h := NewChatHandler(prompt.NewBuilder(""), fakeLLM)

	rr := postChat(t, h, `{"message": "x = 1"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for cleanly closed empty stream, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "" {
		t.Fatalf("expected empty body, got %q", body)
	}
}

func TestChatClientDisconnectCountsInterrupted(t *testing.T) {
	fakeLLM := &mockLLMClient{fragments: []string{"goodbye."}}
	h := NewChatHandler(prompt.NewBuilder(""), fakeLLM)

	interrupted := metrics.ChatRequestsTotal.WithLabelValues("interrupted")
	completed := metrics.ChatRequestsTotal.WithLabelValues("completed")
	interruptedBefore := testutil.ToFloat64(interrupted)
	completedBefore := testutil.ToFloat64(completed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message": "x = 1"}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	h.Chat(rr, req)

	// Cancellation ended the stream without a sink write failing; it must
	// still count as interrupted, not completed.
	if got := testutil.ToFloat64(interrupted) - interruptedBefore; got != 1 {
		t.Fatalf("expected one interrupted request, got %v", got)
	}
	if got := testutil.ToFloat64(completed) - completedBefore; got != 0 {
		t.Fatalf("cancelled request counted as completed")
	}
}

func TestChatMidStreamFaultTruncates(t *testing.T) {
	fakeLLM := &mockLLMClient{
		fragments: []string{"You ", "are "},
		midErr:    errors.New("upstream reset"),
	}
	h := NewChatHandler(prompt.NewBuilder(""), fakeLLM)

	rr := postChat(t, h, `{"message": "x = 1"}`)

	// The 200 was committed before the fault; only truncation is possible.
	if rr.Code != http.StatusOK {
		t.Fatalf("status changed after streaming began: %d", rr.Code)
	}
	if body := rr.Body.String(); body != "You are " {
		t.Fatalf("expected exactly the two delivered fragments, got %q", body)
	}
}

func TestSelfTest(t *testing.T) {
	fakeLLM := &mockLLMClient{}
	h := NewChatHandler(prompt.NewBuilder(""), fakeLLM)

	req := httptest.NewRequest(http.MethodPost, "/test-simple", nil)
	rr := httptest.NewRecorder()
	h.SelfTest(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "success" {
		t.Fatalf("unexpected status: %v", resp["status"])
	}
	if resp["response"] != "Hello from Dr. CodeBot!" {
		t.Fatalf("unexpected response text: %v", resp["response"])
	}
	if fakeLLM.completeCalls != 1 {
		t.Fatalf("expected one non-streaming call, got %d", fakeLLM.completeCalls)
	}
}
