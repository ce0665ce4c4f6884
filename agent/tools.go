package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/ragchat/types"
)

// ToolFunc is the tool function signature.
type ToolFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// ToolMetadata describes a registered tool.
type ToolMetadata struct {
	Schema    types.ToolSchema
	RateLimit *RateLimitConfig
	Timeout   time.Duration // default 30s
}

// RateLimitConfig bounds how often a tool may run.
type RateLimitConfig struct {
	MaxCalls int
	Window   time.Duration
}

// Registry holds the tools available to a turn.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]ToolFunc
	metadata map[string]ToolMetadata
	limiters map[string]*rate.Limiter
	logger   *zap.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:    make(map[string]ToolFunc),
		metadata: make(map[string]ToolMetadata),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger.With(zap.String("component", "tool_registry")),
	}
}

// Register adds a tool. Registering the same name twice is an error.
func (r *Registry) Register(name string, fn ToolFunc, metadata ToolMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	if metadata.Schema.Name == "" {
		metadata.Schema.Name = name
	}
	if metadata.Schema.Name != name {
		return fmt.Errorf("tool name mismatch: schema.Name=%s, register name=%s", metadata.Schema.Name, name)
	}
	if metadata.Timeout == 0 {
		metadata.Timeout = 30 * time.Second
	}

	r.tools[name] = fn
	r.metadata[name] = metadata

	if rl := metadata.RateLimit; rl != nil && rl.MaxCalls > 0 && rl.Window > 0 {
		r.limiters[name] = rate.NewLimiter(
			rate.Every(rl.Window/time.Duration(rl.MaxCalls)), rl.MaxCalls)
	}

	r.logger.Info("tool registered",
		zap.String("name", name), zap.Duration("timeout", metadata.Timeout))
	return nil
}

// Get returns a tool and its metadata.
func (r *Registry) Get(name string) (ToolFunc, ToolMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.tools[name]
	if !ok {
		return nil, ToolMetadata{}, types.NewError(types.ErrToolNotFound,
			fmt.Sprintf("tool %s not found", name))
	}
	return fn, r.metadata[name], nil
}

// List returns the schemas of all registered tools.
func (r *Registry) List() []types.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]types.ToolSchema, 0, len(r.metadata))
	for _, meta := range r.metadata {
		schemas = append(schemas, meta.Schema)
	}
	return schemas
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Execute runs one tool call, honoring its timeout and rate limit.
func (r *Registry) Execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	start := time.Now()
	result := types.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
	}

	fn, meta, err := r.Get(call.Name)
	if err != nil {
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	r.mu.RLock()
	limiter := r.limiters[call.Name]
	r.mu.RUnlock()
	if limiter != nil && !limiter.Allow() {
		result.Error = fmt.Sprintf("tool %s rate limited", call.Name)
		result.Duration = time.Since(start)
		return result
	}

	execCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	out, err := fn(execCtx, call.Arguments)
	result.Duration = time.Since(start)
	if err != nil {
		r.logger.Warn("tool execution failed",
			zap.String("tool", call.Name), zap.Error(err))
		result.Error = err.Error()
		return result
	}
	result.Result = out
	return result
}
