package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/welli/internal/conversation"
)

// MockGenerator provides deterministic replies for local runs and tests. Its
// replies are marked as such and never cite sources.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Text: buildMockReply(req)}, nil
}

func buildMockReply(req Request) string {
	last := ""
	for i := len(req.History) - 1; i >= 0; i-- {
		if req.History[i].Role == conversation.RoleUser {
			last = strings.TrimSpace(req.History[i].Text)
			break
		}
	}
	if last == "" {
		return "I am here to help with your health questions."
	}
	return fmt.Sprintf("(mock reply) You asked: %s\nThis is general information, not a diagnosis.", last)
}
