package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newFakeOpenAI(t *testing.T, dim int) (*httptest.Server, *[]string) {
	t.Helper()
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		models = append(models, req.Model)

		vec := make([]float32, dim)
		for i := range vec {
			vec[i] = float32(i) * 0.5
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  req.Model,
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 0, "embedding": vec},
			},
			"usage": map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &models
}

func TestOpenAIEmbed(t *testing.T) {
	srv, models := newFakeOpenAI(t, 4)
	e := NewOpenAI("sk-test",
		WithBaseURL(srv.URL),
		WithModel("text-embedding-3-small"),
		WithDimension(4),
	)

	vec, err := e.Embed(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 4 {
		t.Fatalf("len(vec) = %d, want 4", len(vec))
	}
	if vec[2] != 1.0 {
		t.Errorf("vec[2] = %v, want 1.0", vec[2])
	}
	if len(*models) != 1 || (*models)[0] != "text-embedding-3-small" {
		t.Errorf("models sent = %v", *models)
	}
}

func TestOpenAIDimensionMismatch(t *testing.T) {
	srv, _ := newFakeOpenAI(t, 3)
	e := NewOpenAI("sk-test", WithBaseURL(srv.URL), WithDimension(4))

	_, err := e.Embed(context.Background(), "hello")
	if !errors.Is(err, ErrDimension) {
		t.Errorf("err = %v, want ErrDimension", err)
	}
}

func TestOpenAIEmptyInput(t *testing.T) {
	e := NewOpenAI("sk-test", WithBaseURL("http://127.0.0.1:0"))
	if _, err := e.Embed(context.Background(), ""); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("err = %v, want ErrEmptyInput", err)
	}
}

func TestOpenAIServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	e := NewOpenAI("sk-test", WithBaseURL(srv.URL), WithDimension(4))
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected an error from a 503")
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), "cohere", "key"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if _, err := New(context.Background(), "openai", ""); err == nil {
		t.Fatal("expected error for missing key")
	}
}
