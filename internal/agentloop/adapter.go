package agentloop

import (
	"context"

	"github.com/agorai/agorai/internal/modelcaller"
	"github.com/agorai/agorai/internal/sanitize"
)

// ChatMessage is one role/content pair in a prompt assembled for an
// Adapter. It mirrors modelcaller.ChatMessage but keeps agentloop's
// Adapter seam free of a hard dependency on the model caller's wire
// type, so a test's mock adapter needs no import of internal/modelcaller.
type ChatMessage struct {
	Role    string
	Content string
}

// Adapter invokes a model (or a test double) with an assembled prompt
// and returns the reply content. Any error is treated as an adapter
// failure: per the at-least-once contract, the run-loop must not mark
// the triggering messages read.
type Adapter interface {
	Reply(ctx context.Context, messages []ChatMessage) (string, error)
}

// ModelAdapter is the production Adapter, backed by a single-shot
// OpenAI-compatible chat-completions call (internal/modelcaller).
type ModelAdapter struct {
	Options modelcaller.Options
}

// Reply sanitizes every message body (stripping embedded markup with
// internal/sanitize before it reaches the upstream prompt) and calls
// modelcaller.CallModel.
func (a ModelAdapter) Reply(ctx context.Context, messages []ChatMessage) (string, error) {
	chatMsgs := make([]modelcaller.ChatMessage, 0, len(messages))
	for _, m := range messages {
		chatMsgs = append(chatMsgs, modelcaller.ChatMessage{Role: m.Role, Content: sanitize.PlainText(m.Content)})
	}
	result, err := modelcaller.CallModel(ctx, chatMsgs, a.Options)
	if err != nil {
		return "", err
	}
	return result.Content, nil
}
