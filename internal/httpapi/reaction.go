package httpapi

import (
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"strings"
)

// reactionPayload is the subset of a chat-platform event webhook the service
// understands.
type reactionPayload struct {
	Type      string        `json:"type"`
	Token     string        `json:"token"`
	Challenge string        `json:"challenge"`
	Event     reactionEvent `json:"event"`
}

type reactionEvent struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	Reaction string `json:"reaction"`
	Item     struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	} `json:"item"`
}

func (s *Server) handleReaction(w http.ResponseWriter, r *http.Request) {
	var p reactionPayload
	if err := decodeJSON(r, &p); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if want := s.cfg.ReactionVerifyToken; want != "" {
		if subtle.ConstantTimeCompare([]byte(p.Token), []byte(want)) != 1 {
			s.countReaction("unauthorized")
			respondError(w, http.StatusUnauthorized, "invalid_token", "verification token mismatch")
			return
		}
	}

	switch p.Type {
	case "url_verification":
		s.countReaction("verification")
		respondJSON(w, http.StatusOK, map[string]string{"challenge": p.Challenge})
		return
	case "event_callback":
		switch p.Event.Type {
		case "reaction_added", "reaction_removed":
			s.countReaction(p.Event.Type)
			log.Printf("reaction: %s :%s: by %s on %s %s/%s",
				strings.TrimPrefix(p.Event.Type, "reaction_"), p.Event.Reaction, p.Event.User,
				p.Event.Item.Type, p.Event.Item.Channel, p.Event.Item.TS)
			respondJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}
	s.countReaction("ignored")
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) countReaction(kind string) {
	if s.metrics != nil {
		s.metrics.ReactionEvents.WithLabelValues(kind).Inc()
	}
}
