package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parley/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *AssistantClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAssistantClient(config.AssistantConfig{
		URL:     srv.URL,
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: 2 * time.Second,
	})
}

func TestProcessReturnsFirstChoice(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || req.User != "alice" {
			t.Errorf("request = %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[1].Content != "what is the weather" {
			t.Errorf("messages = %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "sunny"}},
			},
		})
	})

	reply, err := client.Process(context.Background(), "alice", "what is the weather")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if reply.Content != "sunny" {
		t.Fatalf("reply content = %q", reply.Content)
	}
	if reply.MessageID == "" || reply.Timestamp.IsZero() {
		t.Fatalf("reply metadata incomplete: %+v", reply)
	}
}

func TestProcessRejectsEmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []map[string]any{}})
	})

	if _, err := client.Process(context.Background(), "alice", "hello"); err == nil {
		t.Fatal("process accepted an empty choice set")
	}
}

func TestProcessReportsHTTPFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	})

	if _, err := client.Process(context.Background(), "alice", "hello"); err == nil {
		t.Fatal("process ignored the HTTP status")
	}
}
