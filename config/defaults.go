package config

import "time"

// DefaultConfig returns a config with sane development defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Redis:     DefaultRedisConfig(),
		Milvus:    DefaultMilvusConfig(),
		LLM:       DefaultLLMConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Agent:     DefaultAgentConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns default HTTP server settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:    8000,
		ReadTimeout: 30 * time.Second,
		// SSE responses stay open for the full turn, so no write deadline.
		WriteTimeout:    0,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultRedisConfig returns default retrieval cache settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultMilvusConfig returns default vector store settings.
func DefaultMilvusConfig() MilvusConfig {
	return MilvusConfig{
		Host:       "localhost",
		Port:       19530,
		Database:   "default",
		Collection: "rag_chunks",
		Timeout:    30 * time.Second,
	}
}

// DefaultLLMConfig returns default chat model settings.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:   "https://api.openai.com/v1",
		ChatModel: "gpt-4o-mini",
		Timeout:   120 * time.Second,
	}
}

// DefaultEmbeddingConfig returns default embedding settings.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		BaseURL:    "https://api.openai.com/v1",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    30 * time.Second,
	}
}

// DefaultRetrievalConfig returns default retrieval pipeline settings.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:            6,
		CacheTTLSeconds: 3600,
		Languages:       []string{"english", "japanese"},
	}
}

// DefaultAgentConfig returns default orchestration settings.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxValidationRetries: 2,
		MaxIterations:        8,
		FragmentSize:         60,
		FragmentYield:        20 * time.Millisecond,
		HistoryTokenBudget:   8000,
		Temperature:          0.3,
		MaxTokens:            2048,
	}
}

// DefaultDatabaseConfig returns default session store settings.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:  "sqlite",
		Name:    "ragchat.db",
		SSLMode: "disable",
	}
}

// DefaultLogConfig returns default logging settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
	}
}

// DefaultTelemetryConfig returns default tracing settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "ragchat",
		SampleRate:   1.0,
	}
}
