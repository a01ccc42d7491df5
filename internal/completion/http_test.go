package completion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/welli/internal/conversation"
)

func TestHTTPGeneratorSendsRequestAndParsesJSON(t *testing.T) {
	var got Request
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  Drink fluids.  "}`))
	}))
	defer ts.Close()

	g := NewHTTPGenerator(ts.URL, time.Second)
	resp, err := g.Generate(context.Background(), Request{
		History:           []conversation.Turn{conversation.UserTurn("I have a cold")},
		SystemInstruction: "be careful",
		MaxOutputTokens:   100,
		Temperature:       Float(0.3),
	})
	require.NoError(t, err)
	assert.Equal(t, "Drink fluids.", resp.Text)
	require.Len(t, got.History, 1)
	assert.Equal(t, conversation.RoleUser, got.History[0].Role)
	assert.Equal(t, 100, got.MaxOutputTokens)
	assert.Equal(t, "be careful", got.SystemInstruction)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.3, *got.Temperature, 1e-9)
}

func TestHTTPGeneratorOmitsUnsetTemperature(t *testing.T) {
	var raw map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer ts.Close()

	_, err := NewHTTPGenerator(ts.URL, time.Second).Generate(context.Background(), Request{
		History: []conversation.Turn{conversation.UserTurn("summarize")},
	})
	require.NoError(t, err)
	assert.NotContains(t, raw, "temperature")
}

func TestHTTPGeneratorPlainTextBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain answer"))
	}))
	defer ts.Close()

	resp, err := NewHTTPGenerator(ts.URL, time.Second).Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "plain answer", resp.Text)
}

func TestHTTPGeneratorStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := NewHTTPGenerator(ts.URL, time.Second).Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, IsRetryable(err), "IsRetryable(%v)", err)
}

func TestIsRetryableDeadline(t *testing.T) {
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(context.Canceled))
}

func TestParseBodyEmptyJSONYieldsEmptyText(t *testing.T) {
	assert.Empty(t, parseBody([]byte(`{"unrelated":1}`)).Text)
}
