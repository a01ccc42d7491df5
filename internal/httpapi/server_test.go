package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/welli/internal/chat"
	"github.com/ent0n29/welli/internal/compaction"
	"github.com/ent0n29/welli/internal/completion"
	"github.com/ent0n29/welli/internal/config"
	"github.com/ent0n29/welli/internal/conversation"
	"github.com/ent0n29/welli/internal/observability"
	"github.com/ent0n29/welli/internal/session"
)

type fixedGenerator struct {
	text string
	err  error
}

func (g fixedGenerator) Generate(context.Context, completion.Request) (completion.Response, error) {
	return completion.Response{Text: g.text}, g.err
}

func newTestServer(t *testing.T, gen completion.Generator, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Config{
		AllowedOrigins:        []string{"*"},
		CompletionProvider:    "mock",
		ModelName:             "test-model",
		MaxOutputTokens:       100,
		Temperature:           0.3,
		CompletionTimeout:     time.Second,
		SystemInstruction:     config.DefaultSystemInstruction,
		SummarizeOverMessages: 20,
		KeepRecentMessages:    10,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	if gen == nil {
		gen = completion.NewMockGenerator()
	}

	metrics := observability.NewMetrics("test_httpapi_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
	store := conversation.NewInMemoryStore(0)
	sessions := session.NewManager(0)
	compactor, err := compaction.New(store, gen, metrics, compaction.Config{
		Threshold:  cfg.SummarizeOverMessages,
		KeepRecent: cfg.KeepRecentMessages,
		Timeout:    cfg.CompletionTimeout,
	})
	require.NoError(t, err)
	svc := chat.NewService(store, sessions, gen, compactor, metrics, chat.Config{
		SystemInstruction: cfg.SystemInstruction,
		MaxOutputTokens:   cfg.MaxOutputTokens,
		Temperature:       cfg.Temperature,
		Timeout:           cfg.CompletionTimeout,
	})

	ts := httptest.NewServer(New(cfg, svc, sessions, store, metrics).Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err, "POST %s", url)
	defer res.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload), "decode %s response", url)
	return res, payload
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err, "GET %s", url)
	defer res.Body.Close()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload), "decode %s response", url)
	return res, payload
}

func historyCount(t *testing.T, base, id string) float64 {
	t.Helper()
	res, payload := getJSON(t, base+"/history/"+id)
	require.Equal(t, http.StatusOK, res.StatusCode)
	n, _ := payload["messages"].(float64)
	return n
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	_, payload := getJSON(t, ts.URL+"/healthz")
	assert.Equal(t, true, payload["ok"])
}

func TestReadyzReportsBackend(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	res, payload := getJSON(t, ts.URL+"/readyz")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "in-memory", payload["store_backend"])
}

func TestChatAndHistory(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	res, payload := postJSON(t, ts.URL+"/chat", map[string]string{
		"session_id": "s1",
		"message":    "I have a headache, what can I take?",
	})
	require.Equal(t, http.StatusOK, res.StatusCode, "%v", payload)
	text, _ := payload["text"].(string)
	assert.Contains(t, text, "headache")
	assert.Equal(t, float64(2), historyCount(t, ts.URL, "s1"))
}

func TestChatRejectsNonMedical(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	res, payload := postJSON(t, ts.URL+"/chat", map[string]string{
		"session_id": "s2",
		"message":    "Who won the election?",
	})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "Only medical questions are allowed.", payload["error"])
	assert.Equal(t, "non_medical", payload["code"])
	assert.Equal(t, float64(1), historyCount(t, ts.URL, "s2"))
}

func TestChatErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		gen    completion.Generator
		body   map[string]string
		status int
		code   string
	}{
		{
			name:   "missing session",
			gen:    fixedGenerator{text: "ok"},
			body:   map[string]string{"message": "fever?"},
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{
			name:   "whitespace message",
			gen:    fixedGenerator{text: "ok"},
			body:   map[string]string{"session_id": "s6", "message": " \t\n "},
			status: http.StatusBadRequest,
			code:   "invalid_request",
		},
		{
			name:   "provider failure",
			gen:    fixedGenerator{err: errors.New("boom")},
			body:   map[string]string{"session_id": "s3", "message": "fever?"},
			status: http.StatusInternalServerError,
			code:   "generation_error",
		},
		{
			name:   "empty reply",
			gen:    fixedGenerator{text: ""},
			body:   map[string]string{"session_id": "s4", "message": "fever?"},
			status: http.StatusBadGateway,
			code:   "empty_generation",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, tc.gen, nil)
			res, payload := postJSON(t, ts.URL+"/chat", tc.body)
			assert.Equal(t, tc.status, res.StatusCode)
			assert.Equal(t, tc.code, payload["code"])
		})
	}
}

func TestClear(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	postJSON(t, ts.URL+"/chat", map[string]string{"session_id": "s5", "message": "Is a rash after amoxicillin serious?"})
	for i := 0; i < 2; i++ {
		res, payload := postJSON(t, ts.URL+"/clear", map[string]string{"session_id": "s5"})
		assert.Equal(t, http.StatusOK, res.StatusCode, "clear #%d", i)
		assert.Equal(t, true, payload["ok"], "clear #%d", i)
	}
	assert.Equal(t, float64(0), historyCount(t, ts.URL, "s5"))

	res, _ := postJSON(t, ts.URL+"/clear", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestHistoryUnknownSession(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	assert.Equal(t, float64(0), historyCount(t, ts.URL, "nobody"))
}

func TestReaction(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	res, payload := postJSON(t, ts.URL+"/reaction", map[string]string{
		"type":      "url_verification",
		"challenge": "abc123",
	})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "abc123", payload["challenge"])

	res, payload = postJSON(t, ts.URL+"/reaction", map[string]any{
		"type": "event_callback",
		"event": map[string]any{
			"type":     "reaction_added",
			"user":     "U1",
			"reaction": "thumbsup",
			"item":     map[string]string{"type": "message", "channel": "C1", "ts": "1.2"},
		},
	})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, payload["ok"])

	res, payload = postJSON(t, ts.URL+"/reaction", map[string]string{"type": "something_else"})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, payload["ok"])
}

func TestReactionVerifyToken(t *testing.T) {
	ts := newTestServer(t, nil, func(c *config.Config) { c.ReactionVerifyToken = "secret" })

	res, _ := postJSON(t, ts.URL+"/reaction", map[string]string{
		"type":      "url_verification",
		"challenge": "abc",
		"token":     "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, payload := postJSON(t, ts.URL+"/reaction", map[string]string{
		"type":      "url_verification",
		"challenge": "abc",
		"token":     "secret",
	})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "abc", payload["challenge"])
}

func TestPerfLatency(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	postJSON(t, ts.URL+"/chat", map[string]string{"session_id": "p1", "message": "dizzy after standing up"})

	res, payload := getJSON(t, ts.URL+"/v1/perf/latency")
	require.Equal(t, http.StatusOK, res.StatusCode)

	calls, _ := payload["calls"].([]any)
	require.Len(t, calls, 1)
	generate, _ := calls[0].(map[string]any)
	assert.Equal(t, "generate", generate["call"])
	assert.Equal(t, float64(1), generate["samples"])

	flags, _ := payload["flags"].(map[string]any)
	assert.Equal(t, float64(1), flags["unsourced_reply"])
	assert.Contains(t, payload, "compaction")
}

func TestChatWebSocket(t *testing.T) {
	ts := newTestServer(t, nil, nil)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws?session_id=w1"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	send := func(v any) map[string]any {
		t.Helper()
		require.NoError(t, conn.WriteJSON(v))
		var out map[string]any
		require.NoError(t, conn.ReadJSON(&out))
		return out
	}

	reply := send(map[string]string{"type": "chat_message", "message": "I feel short of breath", "request_id": "r1"})
	assert.Equal(t, "assistant_reply", reply["type"])
	assert.Equal(t, "r1", reply["request_id"])

	rejected := send(map[string]string{"type": "chat_message", "message": "best crypto to buy?"})
	assert.Equal(t, "error_event", rejected["type"])
	assert.Equal(t, "non_medical", rejected["code"])

	invalid := send(map[string]string{"type": "client_audio_chunk"})
	assert.Equal(t, "error_event", invalid["type"])
	assert.Equal(t, "invalid_client_message", invalid["code"])

	cleared := send(map[string]string{"type": "clear_history"})
	assert.Equal(t, "history_cleared", cleared["type"])
	assert.Equal(t, float64(0), historyCount(t, ts.URL, "w1"))
}

func TestChatWebSocketRequiresSession(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	res, err := http.Get(ts.URL + "/v1/chat/ws")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}
