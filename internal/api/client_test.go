package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_StoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/login", r.URL.Path)

		var req LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ana@example.com", req.Email)
		assert.Equal(t, "hunter2", req.Password)

		json.NewEncoder(w).Encode(LoginResponse{
			Token: "tok-123",
			User:  User{ID: "u1", Email: "ana@example.com"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	resp, err := client.Login(context.Background(), "ana@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.User.ID)
	assert.Equal(t, "tok-123", client.Token())
}

func TestChat_AttachesBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "What was net income?", req.Message)
		assert.Equal(t, 5, req.TopK)
		assert.Equal(t, "conv-1", req.ConversationID)

		json.NewEncoder(w).Encode(ChatResponse{
			Answer:    "Net income was...",
			MessageID: "m1",
			Citations: []Citation{{PageNumber: 45, SectionName: "Financial Statements"}},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	require.NoError(t, client.SetToken("tok-123"))

	resp, err := client.Chat(context.Background(), ChatRequest{
		Message:        "What was net income?",
		TopK:           5,
		ConversationID: "conv-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", resp.MessageID)
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, 45, resp.Citations[0].PageNumber)
}

func TestUnauthorized_ClearsTokenAndFiresHookOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var hookCalls atomic.Int32
	client := NewClient(srv.URL, WithUnauthorizedHook(func() {
		hookCalls.Add(1)
	}))
	require.NoError(t, client.SetToken("stale"))

	_, err := client.Chat(context.Background(), ChatRequest{Message: "hi"})
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, "", client.Token(), "401 must clear the held token")
	assert.Equal(t, int32(1), hookCalls.Load(), "hook fires exactly once per failing response")
}

func TestErrorTranslation(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantBody    bool
	}{
		{"parsed message", http.StatusInternalServerError, `{"message":"index unavailable"}`, "index unavailable", true},
		{"unparseable body", http.StatusServiceUnavailable, "<html>oops</html>", "HTTP 503", false},
		{"empty body", http.StatusBadGateway, "", "HTTP 502", false},
		{"rate limited", http.StatusTooManyRequests, `{"message":"slow down"}`, "slow down", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient(srv.URL)
			_, err := client.Chat(context.Background(), ChatRequest{Message: "hi"})
			require.Error(t, err)

			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			if tt.wantBody {
				assert.NotEmpty(t, apiErr.Body)
			} else {
				assert.Empty(t, apiErr.Body)
			}
			assert.Equal(t, tt.status == http.StatusTooManyRequests, IsRateLimited(err))
		})
	}
}

func TestTableOfContents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/table_of_contents.json", r.URL.Path)
		json.NewEncoder(w).Encode([]TableOfContentsEntry{
			{Section: "Letter to Shareholders", Page: 3},
			{Section: "Financial Statements", Page: 41},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	entries, err := client.TableOfContents(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Financial Statements", entries[1].Section)
	assert.Equal(t, 41, entries[1].Page)
}
