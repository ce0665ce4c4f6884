package agent

import (
	"go.uber.org/zap"

	"github.com/BaSui01/ragchat/llm/tokenizer"
	"github.com/BaSui01/ragchat/types"
)

// HistoryBuilder assembles the message list for a generation run: system
// prompt, prior session messages trimmed to a token budget, and the new
// user message.
type HistoryBuilder struct {
	counter tokenizer.Tokenizer
	budget  int
	logger  *zap.Logger
}

// NewHistoryBuilder creates a builder with a token budget for prior
// history. budget <= 0 disables trimming.
func NewHistoryBuilder(counter tokenizer.Tokenizer, budget int, logger *zap.Logger) *HistoryBuilder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryBuilder{
		counter: counter,
		budget:  budget,
		logger:  logger.With(zap.String("component", "history")),
	}
}

// Build returns system prompt + trimmed history + user message.
// Trimming drops whole messages from the oldest end.
func (b *HistoryBuilder) Build(systemPrompt string, history []types.Message, userMessage string) []types.Message {
	trimmed := b.trim(history)

	out := make([]types.Message, 0, len(trimmed)+2)
	out = append(out, types.NewSystemMessage(systemPrompt))
	out = append(out, trimmed...)
	out = append(out, types.NewUserMessage(userMessage))
	return out
}

func (b *HistoryBuilder) trim(history []types.Message) []types.Message {
	if b.budget <= 0 || b.counter == nil || len(history) == 0 {
		return history
	}

	// Walk from the newest message backwards until the budget is spent.
	start := len(history)
	total := 0
	for i := len(history) - 1; i >= 0; i-- {
		n, err := b.counter.CountMessages([]tokenizer.Message{{
			Role:    string(history[i].Role),
			Content: history[i].Content,
		}})
		if err != nil {
			b.logger.Warn("token counting failed, keeping full history", zap.Error(err))
			return history
		}
		if total+n > b.budget {
			break
		}
		total += n
		start = i
	}

	if start > 0 {
		b.logger.Debug("trimmed history",
			zap.Int("dropped", start), zap.Int("kept", len(history)-start))
	}
	return history[start:]
}
