package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/ragchat/types"
)

// Tool names the model can call.
const (
	ToolRetrieveDocument  = "retrieveDocument"
	ToolTransferToSupport = "transferToSupport"
)

// Per-tool rate limits. Each retrieval call fans out to embedding and
// vector search; escalation creates a support handoff.
var (
	retrieveRateLimit = &RateLimitConfig{MaxCalls: 30, Window: time.Minute}
	transferRateLimit = &RateLimitConfig{MaxCalls: 10, Window: time.Minute}
)

// DocumentRetriever is the tool layer's view of the retrieval pipeline.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, query string) (types.RetrievalResult, error)
}

// RegisterRetrieveDocumentTool registers the knowledge base search tool.
// Its result is the full retrieval payload; the orchestrator merges it
// into the turn and summarizes it for the client.
func RegisterRetrieveDocumentTool(registry *Registry, retriever DocumentRetriever) error {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if strings.TrimSpace(params.Query) == "" {
			return nil, fmt.Errorf("query is required")
		}

		result, err := retriever.Retrieve(ctx, params.Query)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	}

	return registry.Register(ToolRetrieveDocument, fn, ToolMetadata{
		RateLimit: retrieveRateLimit,
		Schema: types.ToolSchema{
			Name:        ToolRetrieveDocument,
			Description: "Search the knowledge base for passages relevant to the user's question. Always call this before answering a factual question.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "The search query, in the user's own words"}
				},
				"required": ["query"]
			}`),
		},
	})
}

// RegisterTransferToSupportTool registers the human escalation tool.
func RegisterTransferToSupportTool(registry *Registry) error {
	fn := func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var params struct {
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if strings.TrimSpace(params.Reason) == "" {
			return nil, fmt.Errorf("reason is required")
		}
		return json.Marshal(fmt.Sprintf("Call support with reason: %s", params.Reason))
	}

	return registry.Register(ToolTransferToSupport, fn, ToolMetadata{
		RateLimit: transferRateLimit,
		Schema: types.ToolSchema{
			Name:        ToolTransferToSupport,
			Description: "Escalate the conversation to a human support agent. Call this only when the knowledge base cannot answer the user's question.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"reason": {"type": "string", "description": "Why the conversation needs a human agent"}
				},
				"required": ["reason"]
			}`),
		},
	})
}
