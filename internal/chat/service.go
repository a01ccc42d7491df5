// Package chat runs one user/model exchange: validate, gate, generate, record
// and compact.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/welli/internal/compaction"
	"github.com/ent0n29/welli/internal/completion"
	"github.com/ent0n29/welli/internal/conversation"
	"github.com/ent0n29/welli/internal/observability"
	"github.com/ent0n29/welli/internal/policy"
	"github.com/ent0n29/welli/internal/session"
)

var (
	ErrInvalidInput    = errors.New("session_id and message are required")
	ErrNonMedical      = errors.New("Only medical questions are allowed.")
	ErrGeneration      = errors.New("Model error")
	ErrEmptyGeneration = errors.New("Empty response from model")
)

const logWords = 24

// Config carries the generation parameters applied to every exchange.
type Config struct {
	SystemInstruction string
	MaxOutputTokens   int
	Temperature       float64
	// Timeout bounds the reply generation call.
	Timeout time.Duration
	// GateBeforeIngest rejects off-topic messages before they are recorded.
	// The default records every accepted-for-validation message first.
	GateBeforeIngest bool
}

// Reply is the outcome of a successful exchange.
type Reply struct {
	Text      string
	Emergency bool
	Sourced   bool
}

type Service struct {
	store     conversation.Store
	sessions  *session.Manager
	generator completion.Generator
	compactor *compaction.Compactor
	metrics   *observability.Metrics
	cfg       Config
}

func NewService(
	store conversation.Store,
	sessions *session.Manager,
	generator completion.Generator,
	compactor *compaction.Compactor,
	metrics *observability.Metrics,
	cfg Config,
) *Service {
	return &Service{
		store:     store,
		sessions:  sessions,
		generator: generator,
		compactor: compactor,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Chat runs one exchange for the session. At most one exchange per session
// is in flight; exchanges on other sessions proceed independently.
func (s *Service) Chat(ctx context.Context, sessionID, message string) (Reply, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || strings.TrimSpace(message) == "" {
		s.outcome("invalid")
		return Reply{}, ErrInvalidInput
	}

	release, err := s.sessions.Acquire(ctx, sessionID)
	if err != nil {
		s.outcome("canceled")
		return Reply{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	defer release()

	exchangeID := uuid.NewString()
	nonMedical := policy.IsNonMedical(message)
	emergency := policy.IsEmergency(message)

	if nonMedical && s.cfg.GateBeforeIngest {
		return Reply{}, s.reject(exchangeID, sessionID, message)
	}

	history, err := s.store.Get(ctx, sessionID)
	if err != nil {
		s.outcome("store_error")
		return Reply{}, fmt.Errorf("load history: %w", err)
	}
	history = append(history, conversation.UserTurn(message))
	if err := s.store.Replace(ctx, sessionID, history); err != nil {
		s.outcome("store_error")
		return Reply{}, fmt.Errorf("record user turn: %w", err)
	}

	if nonMedical {
		return Reply{}, s.reject(exchangeID, sessionID, message)
	}
	if emergency {
		s.flag("emergency")
		log.Printf("chat: exchange=%s session=%s emergency indicators in message", exchangeID, sessionID)
	}

	text, err := s.generate(ctx, history)
	if err != nil {
		log.Printf("chat: exchange=%s session=%s generation failed: %v", exchangeID, sessionID, err)
		return Reply{}, err
	}

	history = append(history, conversation.ModelTurn(text))
	if err := s.store.Replace(ctx, sessionID, history); err != nil {
		s.outcome("store_error")
		return Reply{}, fmt.Errorf("record model turn: %w", err)
	}
	s.sessions.RecordExchange(sessionID)

	if s.compactor != nil {
		res, err := s.compactor.Compact(ctx, sessionID)
		switch {
		case err != nil:
			log.Printf("chat: exchange=%s session=%s compaction failed: %v", exchangeID, sessionID, err)
		case res.Compacted:
			log.Printf("chat: exchange=%s session=%s compacted %d -> %d turns (degraded=%v)",
				exchangeID, sessionID, res.Before, res.After, res.Degraded)
		}
	}

	sourced := policy.HasSources(text)
	if !sourced {
		s.flag("unsourced_reply")
	}
	s.outcome("ok")
	return Reply{Text: text, Emergency: emergency, Sourced: sourced}, nil
}

// Clear wipes the session's history. It waits for an in-flight exchange on
// the same session to finish first.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrInvalidInput
	}
	release, err := s.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.store.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("cleared").Inc()
	}
	return nil
}

// HistoryCount reports the number of stored turns without creating the
// session.
func (s *Service) HistoryCount(ctx context.Context, sessionID string) (int, error) {
	n, err := s.store.Count(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

func (s *Service) generate(ctx context.Context, history []conversation.Turn) (string, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := s.generator.Generate(ctx, completion.Request{
		History:           history,
		SystemInstruction: s.cfg.SystemInstruction,
		MaxOutputTokens:   s.cfg.MaxOutputTokens,
		Temperature:       completion.Float(s.cfg.Temperature),
	})
	if s.metrics != nil {
		s.metrics.ObserveGeneration("generate", time.Since(started))
	}
	if err != nil {
		s.providerError("transport")
		s.outcome("generation_error")
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		s.providerError("empty")
		s.outcome("empty_generation")
		return "", ErrEmptyGeneration
	}
	return text, nil
}

func (s *Service) reject(exchangeID, sessionID, message string) error {
	s.flag("non_medical")
	s.outcome("rejected")
	log.Printf("chat: exchange=%s session=%s rejected non-medical message %q",
		exchangeID, sessionID, policy.LogSafe(message, logWords))
	return ErrNonMedical
}

func (s *Service) outcome(name string) {
	if s.metrics != nil {
		s.metrics.ChatRequests.WithLabelValues(name).Inc()
	}
}

func (s *Service) flag(name string) {
	s.metrics.ObserveFlag(name)
}

func (s *Service) providerError(code string) {
	if s.metrics != nil {
		s.metrics.ProviderErrors.WithLabelValues("generate", code).Inc()
	}
}
