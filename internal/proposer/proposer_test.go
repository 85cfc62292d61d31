package proposer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockBackend fails a configured number of times before succeeding.
type mockBackend struct {
	calls    int
	failures int
	reply    string
}

func (m *mockBackend) Propose(ctx context.Context, req Request) (*Proposal, error) {
	m.calls++
	if m.calls <= m.failures {
		return nil, fmt.Errorf("backend down")
	}
	return &Proposal{Raw: m.reply, Backend: "mock"}, nil
}

func TestRetrying_ExactBudget(t *testing.T) {
	backend := &mockBackend{failures: 100}
	r := NewRetrying(backend, 3, time.Second)
	r.sleep = func(time.Duration) {}

	_, err := r.Propose(context.Background(), Request{})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
	if backend.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", backend.calls)
	}
}

func TestRetrying_SucceedsWithinBudget(t *testing.T) {
	backend := &mockBackend{failures: 2, reply: "fix"}
	var slept []time.Duration
	r := NewRetrying(backend, 3, 5*time.Second)
	r.sleep = func(d time.Duration) { slept = append(slept, d) }

	p, err := r.Propose(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Raw != "fix" {
		t.Errorf("raw = %q", p.Raw)
	}
	if backend.calls != 3 {
		t.Errorf("calls = %d", backend.calls)
	}
	// Delay applies between attempts, not before the first.
	if len(slept) != 2 || slept[0] != 5*time.Second {
		t.Errorf("slept = %v", slept)
	}
}

func TestRetrying_FirstTryNoDelay(t *testing.T) {
	backend := &mockBackend{reply: "fix"}
	r := NewRetrying(backend, 3, time.Second)
	r.sleep = func(time.Duration) { t.Error("must not sleep before the first attempt") }

	if _, err := r.Propose(context.Background(), Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOllama_Propose(t *testing.T) {
	var gotBody ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaMessage{Role: "assistant", Content: "```c path=main.c\nint x;\n```"},
		})
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "llama3", time.Minute)
	p, err := o.Propose(context.Background(), Request{
		Task:        "fix the build",
		FailureTail: "error: missing semicolon",
		Target:      "main.c",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(p.Raw, "int x;") {
		t.Errorf("raw = %q", p.Raw)
	}
	if p.Backend != "ollama" {
		t.Errorf("backend = %q", p.Backend)
	}
	if gotBody.Model != "llama3" || gotBody.Stream {
		t.Errorf("request body = %+v", gotBody)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", gotBody.Messages)
	}
	if !strings.Contains(gotBody.Messages[1].Content, "error: missing semicolon") {
		t.Errorf("user message missing failure tail: %q", gotBody.Messages[1].Content)
	}
}

func TestOllama_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "missing", time.Minute)
	if _, err := o.Propose(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestOllama_Health(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Ollama is running")
	}))
	defer srv.Close()

	o := NewOllama(srv.URL, "llama3", time.Second)
	if err := o.Health(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}

	srv.Close()
	if err := o.Health(context.Background()); err == nil {
		t.Fatal("expected health error against closed server")
	}
}

func TestHints_FindsMatches(t *testing.T) {
	dir := t.TempDir()
	content := "when you see undefined reference to pthread_create, link with -lpthread\nunrelated line\n"
	if err := os.WriteFile(filepath.Join(dir, "linker.txt"), []byte(content), 0o644); err != nil {
		t.Fatalf("write hint: %v", err)
	}

	h := NewHints(dir)
	p, err := h.Propose(context.Background(), Request{
		FailureTail: "main.o: error: undefined reference to pthread_create",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(p.Raw, "-lpthread") {
		t.Errorf("raw = %q", p.Raw)
	}
	if !strings.Contains(p.Raw, "[hint linker.txt]") {
		t.Errorf("raw missing hint attribution: %q", p.Raw)
	}
}

func TestHints_EmptyDirAndNoMatch(t *testing.T) {
	h := NewHints("")
	p, err := h.Propose(context.Background(), Request{FailureTail: "error: whatever"})
	if err != nil || p.Raw != "" {
		t.Fatalf("empty dir: p=%+v err=%v", p, err)
	}

	h = NewHints(t.TempDir())
	p, err = h.Propose(context.Background(), Request{FailureTail: "error: zzzqqq"})
	if err != nil || p.Raw != "" {
		t.Fatalf("no match: p=%+v err=%v", p, err)
	}
}

func TestListing(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"src/a.c", "src/b.c", "src/b.c.bak", "README.md"} {
		abs := filepath.Join(dir, f)
		os.MkdirAll(filepath.Dir(abs), 0o755)
		os.WriteFile(abs, []byte("x"), 0o644)
	}

	got := Listing(dir, "src/a.c", []string{"**/*.bak"})
	want := []string{"src/a.c", "src/b.c"}
	if len(got) != len(want) {
		t.Fatalf("listing = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("listing[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	root := Listing(dir, "", nil)
	if len(root) != 1 || root[0] != "README.md" {
		t.Errorf("root listing = %v", root)
	}
}
