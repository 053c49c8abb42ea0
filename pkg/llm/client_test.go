package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replySchema() *Schema {
	return &Schema{
		Name: "reply",
		Root: Object(map[string]*Property{
			"answer": {Type: "string"},
		}),
	}
}

func completionBody(content string, promptTokens, completionTokens int) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
		},
	})
	return string(b)
}

func TestClientComplete(t *testing.T) {
	t.Run("returns normalized output", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, completionBody(`{"answer":"yes","extra":1}`, 10, 5))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "test-key", "test-model")
		result, err := c.Complete(context.Background(), Request{
			SystemPrompt: "sys",
			UserPayload:  "user",
			Schema:       replySchema(),
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"answer":"yes"}`, string(result.Output))
		assert.Equal(t, 10, result.PromptTokens)
		assert.Equal(t, 5, result.CompletionTokens)
		assert.Equal(t, 15, result.TotalTokens())
	})

	t.Run("retries transport failures", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, completionBody(`{"answer":"eventually"}`, 1, 1))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "k", "m", WithBackoffBase(time.Millisecond))
		result, err := c.Complete(context.Background(), Request{Schema: replySchema()})
		require.NoError(t, err)
		assert.JSONEq(t, `{"answer":"eventually"}`, string(result.Output))
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("re-prompts on schema violation", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Messages []struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"messages"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

			w.Header().Set("Content-Type", "application/json")
			if calls.Add(1) == 1 {
				fmt.Fprint(w, completionBody(`{"wrong":"shape"}`, 2, 2))
				return
			}
			// The retry must carry the validation error back to the model.
			require.Len(t, body.Messages, 2)
			assert.Contains(t, body.Messages[1].Content, "rejected")
			fmt.Fprint(w, completionBody(`{"answer":"fixed"}`, 3, 3))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "k", "m", WithBackoffBase(time.Millisecond))
		result, err := c.Complete(context.Background(), Request{
			UserPayload: "original",
			Schema:      replySchema(),
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"answer":"fixed"}`, string(result.Output))
		// Tokens aggregate across the failed and successful attempts.
		assert.Equal(t, 5, result.PromptTokens)
		assert.Equal(t, 5, result.CompletionTokens)
	})

	t.Run("exhausts retries and reports last error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "k", "m",
			WithBackoffBase(time.Millisecond), WithMaxRetries(2))
		_, err := c.Complete(context.Background(), Request{Schema: replySchema()})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTransport)
	})

	t.Run("maps deadline to timeout error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Drain the body so the server detects the client disconnect
			// and cancels the request context; otherwise Close deadlocks.
			io.Copy(io.Discard, r.Body)
			<-r.Context().Done()
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "k", "m", WithBackoffBase(time.Millisecond))
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := c.Complete(ctx, Request{Schema: replySchema()})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("requires a schema", func(t *testing.T) {
		c := NewClient("http://unused", "k", "m")
		_, err := c.Complete(context.Background(), Request{})
		require.Error(t, err)
	})
}
