package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/pkg/logger"
	"github.com/aura-chat/peernet/pkg/metrics"
)

const (
	// SystemInstruction sets the AI companion's persona.
	SystemInstruction = "You are Aura, a sophisticated AI companion. Be helpful, empathetic, and witty. Maintain context of previous messages."

	// FallbackReply is used when the provider returns no text.
	FallbackReply = "I'm sorry, I couldn't process that."

	defaultHistoryLimit = 50
)

// Assistant answers messages in the AI conversation.
type Assistant struct {
	client       Client
	model        string
	historyLimit int
	logger       *logger.Logger
}

// NewAssistant creates an assistant backed by client. An empty model uses
// the client's default.
func NewAssistant(client Client, model string, log *logger.Logger) *Assistant {
	if model == "" {
		model = client.DefaultModel()
	}
	return &Assistant{
		client:       client,
		model:        model,
		historyLimit: defaultHistoryLimit,
		logger:       logger.OrNop(log).Component("assistant"),
	}
}

// Respond returns the companion's reply to prompt given the prior messages.
func (a *Assistant) Respond(ctx context.Context, history []model.Message, prompt string) (string, error) {
	start := time.Now()

	resp, err := a.client.Complete(ctx, &CompletionRequest{
		Model:    a.model,
		System:   SystemInstruction,
		Messages: BuildTurns(history, prompt, a.historyLimit),
	})
	if err != nil {
		metrics.RecordLLM(a.model, "error", time.Since(start).Seconds(), 0, 0)
		return "", fmt.Errorf("%s completion: %w", a.client.Name(), err)
	}
	metrics.RecordLLM(a.model, "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)

	a.logger.Debug("assistant replied",
		zap.String("provider", a.client.Name()),
		zap.String("model", resp.Model),
		zap.Int64("latency_ms", resp.LatencyMs))

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return FallbackReply, nil
	}
	return text, nil
}

// BuildTurns maps conversation messages to alternating chat turns ending
// with prompt. Messages from the companion become assistant turns; all
// others are user turns. Leading assistant turns are dropped and adjacent
// turns of the same role are joined, since providers expect a conversation
// that opens with the user and alternates.
func BuildTurns(history []model.Message, prompt string, limit int) []ChatMessage {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	turns := make([]ChatMessage, 0, len(history)+1)
	add := func(role, text string) {
		if text == "" {
			return
		}
		if len(turns) == 0 && role == RoleAssistant {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n" + text
			return
		}
		turns = append(turns, ChatMessage{Role: role, Content: text})
	}

	for _, m := range history {
		role := RoleUser
		if m.SenderID == model.AssistantID {
			role = RoleAssistant
		}
		add(role, m.Text)
	}
	add(RoleUser, prompt)
	return turns
}
