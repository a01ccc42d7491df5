package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/welli/internal/completion"
	"github.com/ent0n29/welli/internal/protocol"
)

const (
	wsReadLimit    = 64 << 10
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// handleChatWS runs exchanges for one session over a websocket. Inbound
// messages are handled in arrival order and each produces exactly one
// outbound message.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	s.sessionEvent("ws_connected")
	log.Printf("ws: conn=%s session=%s connected", connID, sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 16)
	outbound := make(chan any, 16)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		defer close(outbound)
		for msg := range inbound {
			out := s.handleClientMessage(ctx, sessionID, msg)
			select {
			case outbound <- out:
			case <-ctx.Done():
				return
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
			s.countWS("outbound", msg)
		}
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			parsed = protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			}
		} else {
			s.countWS("inbound", parsed)
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	close(inbound)
	<-runDone
	cancel()
	<-writerDone
	s.sessionEvent("ws_disconnected")
	log.Printf("ws: conn=%s session=%s disconnected", connID, sessionID)
}

func (s *Server) handleClientMessage(ctx context.Context, sessionID string, msg any) any {
	switch m := msg.(type) {
	case protocol.ChatMessage:
		reply, err := s.chat.Chat(ctx, sessionID, m.Message)
		if err != nil {
			_, code := chatErrorStatus(err)
			return protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				RequestID: m.RequestID,
				Code:      code,
				Retryable: completion.IsRetryable(err),
				Detail:    err.Error(),
			}
		}
		return protocol.AssistantReply{
			Type:      protocol.TypeAssistantReply,
			SessionID: sessionID,
			RequestID: m.RequestID,
			Text:      reply.Text,
			Emergency: reply.Emergency,
			Sourced:   reply.Sourced,
		}
	case protocol.ClearHistory:
		if err := s.chat.Clear(ctx, sessionID); err != nil {
			return protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				RequestID: m.RequestID,
				Code:      "store_error",
				Retryable: !errors.Is(err, context.Canceled),
				Detail:    err.Error(),
			}
		}
		return protocol.HistoryCleared{
			Type:      protocol.TypeHistoryCleared,
			SessionID: sessionID,
			RequestID: m.RequestID,
		}
	case protocol.ErrorEvent:
		return m
	default:
		return protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "unsupported_message",
		}
	}
}

func (s *Server) countWS(direction string, msg any) {
	if s.metrics == nil {
		return
	}
	if t, ok := protocol.TypeOf(msg); ok {
		s.metrics.WSMessages.WithLabelValues(direction, string(t)).Inc()
	}
}

func (s *Server) sessionEvent(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}
