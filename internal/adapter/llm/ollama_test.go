package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rlg/internal/domain"
)

func testServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestGenerate(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("Generate must not request streaming")
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "The answer. [1]", Done: true})
	})

	o := NewOllama(srv.URL, "test-model", 0.1, 100, 5*time.Second, 0)
	got, err := o.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "The answer. [1]" {
		t.Errorf("got %q", got)
	}
}

func TestStreamDeliversFragments(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		for _, fragment := range []string{"The ans", "wer. [1]"} {
			json.NewEncoder(w).Encode(generateResponse{Response: fragment})
		}
		json.NewEncoder(w).Encode(generateResponse{Done: true})
	})

	o := NewOllama(srv.URL, "test-model", 0.1, 100, 5*time.Second, 0)
	var got strings.Builder
	err := o.Stream(context.Background(), "prompt", func(fragment string) error {
		got.WriteString(fragment)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "The answer. [1]" {
		t.Errorf("got %q", got.String())
	}
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Response: "ok", Done: true})
	})

	o := NewOllama(srv.URL, "test-model", 0.1, 100, 5*time.Second, 3)
	got, err := o.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Errorf("got %q", got)
	}
	if attempts.Load() < 2 {
		t.Error("expected a retry after the 500")
	}
}

func TestGenerateUnavailableAfterRetries(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})

	o := NewOllama(srv.URL, "test-model", 0.1, 100, 5*time.Second, 1)
	_, err := o.Generate(context.Background(), "prompt")
	if !errors.Is(err, domain.ErrGenerationUnavailable) {
		t.Fatalf("expected generation unavailable, got %v", err)
	}
}

func TestGenerateModelErrorNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		json.NewEncoder(w).Encode(generateResponse{Error: "model not found"})
	})

	o := NewOllama(srv.URL, "test-model", 0.1, 100, 5*time.Second, 3)
	_, err := o.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, domain.ErrGenerationUnavailable) {
		t.Error("model errors are permanent, not availability failures")
	}
	if attempts.Load() != 1 {
		t.Errorf("permanent error retried %d times", attempts.Load())
	}
}

func TestGenerateContextCancellation(t *testing.T) {
	// The handler must unblock on cleanup too, or a server that never
	// observes the client disconnect would hang srv.Close.
	release := make(chan struct{})
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	o := NewOllama(srv.URL, "test-model", 0.1, 100, 5*time.Second, 3)
	_, err := o.Generate(ctx, "prompt")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestStreamRetriesBeforeFirstFragment(t *testing.T) {
	var attempts atomic.Int32
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		for _, fragment := range []string{"All ", "good. [1]"} {
			json.NewEncoder(w).Encode(generateResponse{Response: fragment})
		}
		json.NewEncoder(w).Encode(generateResponse{Done: true})
	})

	o := NewOllama(srv.URL, "test-model", 0.1, 100, 5*time.Second, 3)
	var got strings.Builder
	err := o.Stream(context.Background(), "prompt", func(fragment string) error {
		got.WriteString(fragment)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "All good. [1]" {
		t.Errorf("got %q", got.String())
	}
}

func TestStreamNotRetriedAfterFirstFragment(t *testing.T) {
	var attempts atomic.Int32
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			json.NewEncoder(w).Encode(generateResponse{Response: "The refund window is 30 days. "})
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		for _, fragment := range []string{"The refund window is 30 days. ", "Receipts are required."} {
			json.NewEncoder(w).Encode(generateResponse{Response: fragment})
		}
		json.NewEncoder(w).Encode(generateResponse{Done: true})
	})

	o := NewOllama(srv.URL, "test-model", 0.1, 100, 5*time.Second, 3)
	var fragments []string
	err := o.Stream(context.Background(), "prompt", func(fragment string) error {
		fragments = append(fragments, fragment)
		return nil
	})
	if !errors.Is(err, domain.ErrGenerationUnavailable) {
		t.Fatalf("expected generation unavailable, got %v", err)
	}
	if len(fragments) != 1 {
		t.Fatalf("delivered fragments must not be replayed, got %v", fragments)
	}
	if attempts.Load() != 1 {
		t.Errorf("broken mid-delivery stream retried %d times", attempts.Load())
	}
}

func TestStreamCallbackErrorStops(t *testing.T) {
	srv := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 100; i++ {
			json.NewEncoder(w).Encode(generateResponse{Response: "x"})
		}
		json.NewEncoder(w).Encode(generateResponse{Done: true})
	})

	o := NewOllama(srv.URL, "test-model", 0.1, 100, 5*time.Second, 3)
	stop := fmt.Errorf("stop")
	calls := 0
	err := o.Stream(context.Background(), "prompt", func(string) error {
		calls++
		if calls == 3 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("stream continued after callback error: %d calls", calls)
	}
}
