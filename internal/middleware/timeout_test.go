package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestTimeoutPassesThroughFastHandlers(t *testing.T) {
	mw := Timeout(time.Second)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("handler headers not forwarded: %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "healthy") {
		t.Fatalf("handler body not forwarded: %q", rr.Body.String())
	}
}

func TestTimeoutReturns504AndDropsLateWrites(t *testing.T) {
	mw := Timeout(10 * time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer wg.Done()
		<-r.Context().Done()
		// Give the 504 path time to commit first, then try to write anyway.
		time.Sleep(20 * time.Millisecond)
		if _, err := w.Write([]byte("too late")); err != http.ErrHandlerTimeout {
			t.Errorf("late write not rejected: %v", err)
		}
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	wg.Wait()

	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "gateway_timeout") {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "too late") {
		t.Fatalf("late handler write reached the client")
	}
}
