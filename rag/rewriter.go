package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragchat/llm"
	"github.com/BaSui01/ragchat/types"
)

// RewriteVariant is one language-tagged query produced by the rewriter.
type RewriteVariant struct {
	Tag   string `json:"tag"`
	Query string `json:"query"`
}

// ChatCompleter is the rewriter's view of a chat provider.
type ChatCompleter interface {
	Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

// QueryRewriter turns a user query into one search query per configured
// language tag. The model is asked for a strict JSON object; malformed
// output degrades to line splitting, and a failed call degrades to the
// original query for every tag. Rewriting never fails the caller.
type QueryRewriter struct {
	provider ChatCompleter
	model    string
	tags     []string
	logger   *zap.Logger
}

// NewQueryRewriter creates a rewriter for the given ordered language tags.
func NewQueryRewriter(provider ChatCompleter, model string, tags []string, logger *zap.Logger) *QueryRewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryRewriter{
		provider: provider,
		model:    model,
		tags:     tags,
		logger:   logger.With(zap.String("component", "query_rewriter")),
	}
}

// Tags returns the configured language tags in order.
func (r *QueryRewriter) Tags() []string {
	return r.tags
}

// Rewrite produces one variant per tag, in tag order. Output always has
// exactly len(tags) entries.
func (r *QueryRewriter) Rewrite(ctx context.Context, query string) []RewriteVariant {
	queries := r.rewriteQueries(ctx, query)

	variants := make([]RewriteVariant, len(r.tags))
	for i, tag := range r.tags {
		variants[i] = RewriteVariant{Tag: tag, Query: queries[i]}
	}
	return variants
}

func (r *QueryRewriter) rewriteQueries(ctx context.Context, query string) []string {
	fallback := make([]string, len(r.tags))
	for i := range fallback {
		fallback[i] = query
	}

	resp, err := r.provider.Completion(ctx, &llm.ChatRequest{
		Model: r.model,
		Messages: []types.Message{
			types.NewSystemMessage(r.instruction()),
			types.NewUserMessage(query),
		},
	})
	if err != nil {
		r.logger.Warn("query rewrite failed, using original query",
			zap.Error(err))
		return fallback
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return fallback
	}

	if queries, ok := r.parseJSON(text); ok {
		return queries
	}

	// Malformed JSON: take one query per non-empty line, pad with the
	// original query.
	r.logger.Debug("rewrite output was not valid JSON, splitting lines")
	return r.splitLines(text, query)
}

// instruction builds the rewrite prompt for the configured tags.
func (r *QueryRewriter) instruction() string {
	var b strings.Builder
	b.WriteString("Rewrite the user's question as a standalone search query in each of the following languages: ")
	b.WriteString(strings.Join(r.tags, ", "))
	b.WriteString(". Respond with a strict JSON object whose keys are exactly ")
	for i, tag := range r.tags {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q", tag)
	}
	b.WriteString(" and whose values are the rewritten queries. No markdown, no extra text.")
	return b.String()
}

// parseJSON extracts per-tag queries from a strict JSON object. Missing or
// empty values fall back to nothing; the caller keeps ordering by tag.
func (r *QueryRewriter) parseJSON(text string) ([]string, bool) {
	// Strip a markdown fence if the model added one anyway.
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var parsed map[string]string
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, false
	}

	queries := make([]string, len(r.tags))
	for i, tag := range r.tags {
		q := strings.TrimSpace(parsed[tag])
		if q == "" {
			return nil, false
		}
		queries[i] = q
	}
	return queries, true
}

// splitLines takes one query per non-empty line, padding with the original
// query when the model returned fewer lines than tags.
func (r *QueryRewriter) splitLines(text, original string) []string {
	queries := make([]string, 0, len(r.tags))
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		queries = append(queries, line)
		if len(queries) == len(r.tags) {
			break
		}
	}
	for len(queries) < len(r.tags) {
		queries = append(queries, original)
	}
	return queries
}
