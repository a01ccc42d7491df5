// Package compaction bounds a session's history by folding older turns into a
// single summary turn.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ent0n29/welli/internal/completion"
	"github.com/ent0n29/welli/internal/conversation"
	"github.com/ent0n29/welli/internal/observability"
	"github.com/ent0n29/welli/internal/policy"
)

const (
	summaryPrompt      = "Summarize this medical conversation concisely:\n"
	summaryPrefix      = "Previous context: "
	summaryUnavailable = "(summary unavailable)"

	// maxTranscriptWords bounds the text of each turn sent to the summarizer.
	maxTranscriptWords = 400
)

var ErrInvalidConfig = errors.New("invalid compaction config")

// Config holds the compaction policy. Threshold must exceed KeepRecent.
type Config struct {
	Threshold  int
	KeepRecent int
	// Timeout bounds the summarization call. Zero means the caller's ctx only.
	Timeout time.Duration
}

// Result describes one compaction pass.
type Result struct {
	Compacted bool
	Before    int
	After     int
	// Degraded is set when the placeholder replaced a failed summary.
	Degraded bool
}

type Compactor struct {
	store     conversation.Store
	generator completion.Generator
	metrics   *observability.Metrics
	cfg       Config
}

func New(store conversation.Store, generator completion.Generator, metrics *observability.Metrics, cfg Config) (*Compactor, error) {
	if cfg.KeepRecent <= 0 {
		return nil, fmt.Errorf("%w: keep recent must be positive", ErrInvalidConfig)
	}
	if cfg.Threshold <= cfg.KeepRecent {
		return nil, fmt.Errorf("%w: threshold %d must exceed keep recent %d", ErrInvalidConfig, cfg.Threshold, cfg.KeepRecent)
	}
	return &Compactor{
		store:     store,
		generator: generator,
		metrics:   metrics,
		cfg:       cfg,
	}, nil
}

// Compact folds all but the most recent KeepRecent turns into one summary
// turn once the session holds more than Threshold turns. A failed summary
// degrades to a placeholder; only store errors are returned.
func (c *Compactor) Compact(ctx context.Context, sessionID string) (Result, error) {
	turns, err := c.store.Get(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("load history: %w", err)
	}
	n := len(turns)
	if n <= c.cfg.Threshold {
		return Result{Before: n, After: n}, nil
	}

	old := turns[:n-c.cfg.KeepRecent]
	recent := turns[n-c.cfg.KeepRecent:]

	summary, degraded := c.summarize(ctx, sessionID, old)

	next := make([]conversation.Turn, 0, len(recent)+1)
	next = append(next, conversation.UserTurn(summaryPrefix+summary))
	next = append(next, recent...)
	if err := c.store.Replace(ctx, sessionID, next); err != nil {
		c.observe("store_error")
		return Result{}, fmt.Errorf("replace history: %w", err)
	}

	c.metrics.ObserveCompaction(n, len(next), degraded)
	return Result{Compacted: true, Before: n, After: len(next), Degraded: degraded}, nil
}

func (c *Compactor) summarize(ctx context.Context, sessionID string, old []conversation.Turn) (string, bool) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := c.generator.Generate(ctx, completion.Request{
		History: []conversation.Turn{conversation.UserTurn(summaryPrompt + RenderTranscript(old))},
	})
	c.metrics.ObserveGeneration("summarize", time.Since(started))
	if err != nil {
		log.Printf("compaction: session=%s summary failed: %v", sessionID, err)
		if c.metrics != nil {
			c.metrics.ProviderErrors.WithLabelValues("summarize", "transport").Inc()
		}
		return summaryUnavailable, true
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		log.Printf("compaction: session=%s summary empty", sessionID)
		if c.metrics != nil {
			c.metrics.ProviderErrors.WithLabelValues("summarize", "empty").Inc()
		}
		return summaryUnavailable, true
	}
	return text, false
}

func (c *Compactor) observe(result string) {
	if c.metrics != nil {
		c.metrics.Compactions.WithLabelValues(result).Inc()
	}
}

// RenderTranscript formats turns as "[role]: text" lines.
func RenderTranscript(turns []conversation.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "[%s]: %s\n", t.Role, policy.TrimToWords(t.Text, maxTranscriptWords))
	}
	return sb.String()
}
