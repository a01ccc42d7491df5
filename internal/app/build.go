package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ent0n29/welli/internal/chat"
	"github.com/ent0n29/welli/internal/compaction"
	"github.com/ent0n29/welli/internal/completion"
	"github.com/ent0n29/welli/internal/config"
	"github.com/ent0n29/welli/internal/conversation"
	"github.com/ent0n29/welli/internal/httpapi"
	"github.com/ent0n29/welli/internal/observability"
	"github.com/ent0n29/welli/internal/reliability"
	"github.com/ent0n29/welli/internal/session"
)

const (
	storeConnectAttempts = 5
	storeConnectBase     = 250 * time.Millisecond
	storeConnectCap      = 4 * time.Second
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Chat      *chat.Service
	Sessions  *session.Manager
	Store     conversation.Store
	Generator completion.Generator
	Metrics   *observability.Metrics

	// Cleanup should be called on shutdown to release the session store.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var store conversation.Store
	err := reliability.Retry(ctx, storeConnectAttempts, storeConnectBase, storeConnectCap, func(ctx context.Context) error {
		s, err := conversation.NewStore(ctx, conversation.Options{
			URL:        cfg.SessionStoreURL,
			MaxEntries: cfg.SessionMaxEntries,
			IdleTTL:    cfg.SessionIdleTTL,
		})
		if err != nil {
			log.Printf("session store connect failed: %v", err)
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}

	generator, err := completion.NewGenerator(ctx, completion.Config{
		Mode:         cfg.CompletionProvider,
		GeminiAPIKey: cfg.GeminiAPIKey,
		Model:        cfg.ModelName,
		HTTPURL:      cfg.CompletionHTTPURL,
		Timeout:      cfg.CompletionTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("completion provider init failed: %w", err)
	}

	compactor, err := compaction.New(store, generator, metrics, compaction.Config{
		Threshold:  cfg.SummarizeOverMessages,
		KeepRecent: cfg.KeepRecentMessages,
		Timeout:    cfg.CompletionTimeout,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionIdleTTL)
	sessions.SetExpireHook(func(s *session.Session) {
		// Idle sessions lose their turns so memory stays bounded.
		clearCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Clear(clearCtx, s.ID); err != nil {
			log.Printf("session %s expiry clear failed: %v", s.ID, err)
		}
		if mem, ok := store.(*conversation.InMemoryStore); ok {
			mem.Forget(s.ID)
		}
		metrics.SessionEvents.WithLabelValues("expired").Inc()
	})
	if mem, ok := store.(*conversation.InMemoryStore); ok {
		// Capacity evictions drop the session record too, unless an exchange holds it.
		mem.SetEvictHook(func(id string) {
			sessions.Forget(id)
			metrics.SessionEvents.WithLabelValues("evicted").Inc()
		})
	}
	metrics.TrackActiveSessions(sessions.ActiveCount)
	metrics.SetCallBudget("generate", cfg.CompletionTimeout)
	metrics.SetCallBudget("summarize", cfg.CompletionTimeout)

	svc := chat.NewService(store, sessions, generator, compactor, metrics, chat.Config{
		SystemInstruction: cfg.SystemInstruction,
		MaxOutputTokens:   cfg.MaxOutputTokens,
		Temperature:       cfg.Temperature,
		Timeout:           cfg.CompletionTimeout,
		GateBeforeIngest:  cfg.GateBeforeIngest,
	})

	api := httpapi.New(cfg, svc, sessions, store, metrics)

	log.Printf("session store: %s", conversation.Backend(store))
	log.Printf("completion provider: %s (model %s)", completion.Name(generator), cfg.ModelName)

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Chat:      svc,
		Sessions:  sessions,
		Store:     store,
		Generator: generator,
		Metrics:   metrics,
		Cleanup:   store.Close,
	}, nil
}
