// Package relay forwards completion fragments from one upstream stream to
// one HTTP response, flushing after every fragment so the caller observes
// incremental progress instead of one final blob.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/tmcclell/CodeCounselor/internal/llm"
)

// ErrSinkClosed reports that the caller's connection went away mid-stream.
// It is a normal termination, not an upstream fault.
var ErrSinkClosed = errors.New("relay: sink closed")

// Sink is where fragment text is written. Flush must push buffered bytes to
// the client immediately.
type Sink interface {
	io.Writer
	Flush()
}

// Stats summarizes one relay run.
type Stats struct {
	Fragments int
	Bytes     int
}

// Session owns the consumption side of one upstream stream. Closing the
// session cancels the upstream call so the producer stops promptly; Close is
// idempotent and safe to call from the caller's cleanup path as well.
type Session struct {
	cancel context.CancelFunc
	once   sync.Once
}

// NewSession wraps the cancel function of the upstream stream's context.
func NewSession(cancel context.CancelFunc) *Session {
	return &Session{cancel: cancel}
}

// Close releases the upstream stream. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Run writes each fragment to the sink in arrival order, flushing after
// every write. It never transforms, filters, or reorders fragment content.
// A non-nil first is delivered before the channel is drained: the caller may
// have pulled it already to decide the HTTP status before committing it.
// On a sink write failure it closes the session so no further fragments are
// pulled into a dead connection, and returns ErrSinkClosed. A mid-stream
// upstream failure is returned as-is after all preceding fragments have been
// delivered.
func (s *Session) Run(first *llm.StreamResult, results <-chan llm.StreamResult, sink Sink) (Stats, error) {
	defer s.Close()

	var stats Stats
	if first != nil {
		if done, err := s.deliver(*first, sink, &stats); done {
			return stats, err
		}
	}
	for res := range results {
		if done, err := s.deliver(res, sink, &stats); done {
			return stats, err
		}
	}
	return stats, nil
}

// deliver forwards one result to the sink. done reports that the relay must
// stop, with err carrying the reason.
func (s *Session) deliver(res llm.StreamResult, sink Sink, stats *Stats) (done bool, err error) {
	if res.Err != nil {
		return true, res.Err
	}
	if res.Fragment == nil || res.Fragment.Text == "" {
		// Terminal finish-reason fragments carry no text.
		return false, nil
	}

	n, werr := io.WriteString(sink, res.Fragment.Text)
	stats.Bytes += n
	if werr != nil {
		s.Close()
		return true, fmt.Errorf("%w: %v", ErrSinkClosed, werr)
	}
	sink.Flush()
	stats.Fragments++
	return false, nil
}

// httpSink adapts an http.ResponseWriter to the Sink interface.
type httpSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewHTTPSink wraps a response writer. When the writer does not support
// flushing, writes still go through and rely on transport buffering.
func NewHTTPSink(w http.ResponseWriter) Sink {
	flusher, _ := w.(http.Flusher)
	return &httpSink{w: w, flusher: flusher}
}

func (h *httpSink) Write(p []byte) (int, error) {
	return h.w.Write(p)
}

func (h *httpSink) Flush() {
	if h.flusher != nil {
		h.flusher.Flush()
	}
}
