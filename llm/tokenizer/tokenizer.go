// Package tokenizer provides token counting for history budgeting.
package tokenizer

// Tokenizer is the token counting interface.
type Tokenizer interface {
	// CountTokens returns the token count for text.
	CountTokens(text string) (int, error)

	// CountMessages returns the total token count for a message list,
	// including per-message overhead (role markers, separators).
	CountMessages(messages []Message) (int, error)

	// MaxTokens returns the model's maximum context length.
	MaxTokens() int

	// Name returns the tokenizer name.
	Name() string
}

// Message is a lightweight message shape used by this package to avoid
// a dependency on the llm package.
type Message struct {
	Role    string
	Content string
}
