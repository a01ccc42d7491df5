package compaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/welli/internal/completion"
	"github.com/ent0n29/welli/internal/conversation"
)

type scriptedGenerator struct {
	text  string
	err   error
	calls []completion.Request
}

func (g *scriptedGenerator) Generate(_ context.Context, req completion.Request) (completion.Response, error) {
	g.calls = append(g.calls, req)
	if g.err != nil {
		return completion.Response{}, g.err
	}
	return completion.Response{Text: g.text}, nil
}

func seed(t *testing.T, store conversation.Store, id string, n int) []conversation.Turn {
	t.Helper()
	turns := make([]conversation.Turn, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			turns = append(turns, conversation.UserTurn(fmt.Sprintf("question %d", i)))
		} else {
			turns = append(turns, conversation.ModelTurn(fmt.Sprintf("answer %d", i)))
		}
	}
	require.NoError(t, store.Replace(context.Background(), id, turns))
	return turns
}

func TestNewRejectsThresholdNotAboveKeep(t *testing.T) {
	store := conversation.NewInMemoryStore(0)
	_, err := New(store, &scriptedGenerator{}, nil, Config{Threshold: 4, KeepRecent: 4})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(store, &scriptedGenerator{}, nil, Config{Threshold: 4, KeepRecent: 0})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCompactNoopAtOrBelowThreshold(t *testing.T) {
	store := conversation.NewInMemoryStore(0)
	gen := &scriptedGenerator{text: "summary"}
	c, err := New(store, gen, nil, Config{Threshold: 4, KeepRecent: 2})
	require.NoError(t, err)

	seed(t, store, "s1", 4)
	res, err := c.Compact(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, res.Compacted)
	assert.Equal(t, 4, res.After)
	assert.Empty(t, gen.calls)
}

func TestCompactFoldsOldTurnsIntoSummary(t *testing.T) {
	store := conversation.NewInMemoryStore(0)
	gen := &scriptedGenerator{text: "  patient asked about fever  "}
	c, err := New(store, gen, nil, Config{Threshold: 4, KeepRecent: 2})
	require.NoError(t, err)

	turns := seed(t, store, "s1", 6)
	res, err := c.Compact(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, res.Compacted)
	assert.False(t, res.Degraded)
	assert.Equal(t, 6, res.Before)
	assert.Equal(t, 3, res.After)

	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, conversation.UserTurn("Previous context: patient asked about fever"), got[0])
	assert.Equal(t, turns[4:], got[1:])

	require.Len(t, gen.calls, 1)
	req := gen.calls[0]
	require.Len(t, req.History, 1)
	assert.Equal(t, conversation.RoleUser, req.History[0].Role)
	prompt := req.History[0].Text
	assert.True(t, strings.HasPrefix(prompt, "Summarize this medical conversation concisely:\n"))
	assert.Contains(t, prompt, "[user]: question 0")
	assert.Contains(t, prompt, "[model]: answer 3")
	assert.NotContains(t, prompt, "question 4")
}

func TestCompactDegradesToPlaceholder(t *testing.T) {
	cases := map[string]*scriptedGenerator{
		"error": {err: errors.New("upstream down")},
		"empty": {text: "   "},
	}
	for name, gen := range cases {
		t.Run(name, func(t *testing.T) {
			store := conversation.NewInMemoryStore(0)
			c, err := New(store, gen, nil, Config{Threshold: 3, KeepRecent: 1})
			require.NoError(t, err)
			seed(t, store, "s1", 5)

			res, err := c.Compact(context.Background(), "s1")
			require.NoError(t, err)
			assert.True(t, res.Degraded)

			got, err := store.Get(context.Background(), "s1")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "Previous context: (summary unavailable)", got[0].Text)
		})
	}
}

func TestCompactRepeatedPassesKeepShape(t *testing.T) {
	store := conversation.NewInMemoryStore(0)
	gen := &scriptedGenerator{text: "s"}
	c, err := New(store, gen, nil, Config{Threshold: 4, KeepRecent: 2})
	require.NoError(t, err)
	ctx := context.Background()

	seed(t, store, "s1", 5)
	_, err = c.Compact(ctx, "s1")
	require.NoError(t, err)

	turns, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	turns = append(turns, conversation.UserTurn("q"), conversation.ModelTurn("a"))
	require.NoError(t, store.Replace(ctx, "s1", turns))

	res, err := c.Compact(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, res.Compacted)
	assert.Equal(t, 3, res.After)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got[0].Text, "Previous context: "))
	assert.Equal(t, []conversation.Turn{conversation.UserTurn("q"), conversation.ModelTurn("a")}, got[1:])
}

func TestRenderTranscript(t *testing.T) {
	out := RenderTranscript([]conversation.Turn{
		conversation.UserTurn("hi"),
		conversation.ModelTurn("hello"),
	})
	assert.Equal(t, "[user]: hi\n[model]: hello\n", out)
}
