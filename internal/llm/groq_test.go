package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ikonga-nutrition/internal/config"
)

func TestGroqClient_GenerateContent(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer groq_key" {
				t.Errorf("Expected bearer auth header, got %q", got)
			}
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["model"] != "test-model" {
				t.Errorf("Expected model test-model, got %v", body["model"])
			}
			w.Write([]byte(`{"choices":[{"message":{"content":"{\"ok\":true}"}}],"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`))
		}))
		defer srv.Close()

		c := NewGroqClient(&config.Config{GroqAPIKey: "groq_key"}, "test-model", 0.1).(*groqClient)
		c.endpoint = srv.URL

		resp, err := c.GenerateContent(context.Background(), "hello")
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if resp.Content != `{"ok":true}` {
			t.Errorf("Unexpected content %q", resp.Content)
		}
		if resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 5 || resp.Usage.Model != "test-model" {
			t.Errorf("Unexpected usage %+v", resp.Usage)
		}
	})

	t.Run("APIError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("slow down"))
		}))
		defer srv.Close()

		c := NewGroqClient(&config.Config{GroqAPIKey: "k"}, "m", 0.1).(*groqClient)
		c.endpoint = srv.URL

		_, err := c.GenerateContent(context.Background(), "hello")
		if err == nil || !strings.Contains(err.Error(), "status=429") {
			t.Errorf("Expected a 429 api error, got %v", err)
		}
	})
}

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                 `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
	}
	for in, want := range tests {
		if got := StripCodeFence(in); got != want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
