package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestOllamaEmbed_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Model != "nomic-embed-text" || body.Input != "list pods" {
			t.Errorf("unexpected request body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer srv.Close()

	p := NewOllama(&Config{Model: "nomic-embed-text", BaseURL: srv.URL})
	vec, err := p.Embed(context.Background(), "list pods")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("unexpected vector length: %d", len(vec))
	}
	if p.Dim() != 3 {
		t.Fatalf("Dim not updated: %d", p.Dim())
	}
	if p.ModelID() != "ollama:nomic-embed-text" {
		t.Fatalf("unexpected model id: %s", p.ModelID())
	}
}

func TestOllamaEmbed_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOllama(&Config{Model: "nomic-embed-text", BaseURL: srv.URL})
	_, err := p.Embed(context.Background(), "list pods")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestOllamaEmbed_ConnectionRefusedIsUnavailable(t *testing.T) {
	// Reserve a port, then close it so nothing is listening.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewOllama(&Config{Model: "nomic-embed-text", BaseURL: url})
	_, err := p.Embed(context.Background(), "list pods")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestOllamaEmbed_ConcurrentCalls(t *testing.T) {
	// Sync fans Embed out across goroutines; concurrent calls must not
	// trample the learned dimension (run with -race).
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2, 0.3, 0.4}},
		})
	}))
	defer srv.Close()

	p := NewOllama(&Config{Model: "nomic-embed-text", BaseURL: srv.URL})

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = p.Embed(context.Background(), fmt.Sprintf("query %d", i))
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Embed %d: %v", i, err)
		}
	}
	if p.Dim() != 4 {
		t.Fatalf("Dim after concurrent calls: %d", p.Dim())
	}
}

func TestOllamaEmbed_EmptyTextRejected(t *testing.T) {
	p := NewOllama(&Config{Model: "nomic-embed-text"})
	if _, err := p.Embed(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty text")
	}
}
