package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the mongodb-agent service
type Config struct {
	// Server settings
	Port         int
	APIJWTSecret string // optional; when set, /api/* requires a bearer JWT

	// LLM provider selection
	Provider string // "openai", "azure" or "anthropic"

	// OpenAI settings
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string // Optional: custom API endpoint

	// Azure OpenAI settings
	AzureAPIKey     string
	AzureEndpoint   string
	AzureDeployment string
	AzureAPIVersion string

	// Anthropic settings
	AnthropicAPIKey string
	AnthropicModel  string

	// LLM call settings
	Temperature float64
	MaxTokens   int
	LLMTimeout  time.Duration

	// MongoDB settings
	ConnectionType  string // "direct" or "mcp"
	MongoURI        string
	DefaultDatabase string

	// MCP gateway settings (connection type "mcp")
	MCPEndpoint        string
	MCPDBName          string
	MCPUserName        string
	MCPApplicationName string

	// OAuth2 settings for the MCP gateway
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthScope        string
	TokenCacheTTL     time.Duration

	// Semantic model settings
	ModelSource  string // "local_files", "github" or "memory"
	ModelPath    string
	ModelRepo    string // "owner/repo"
	ModelRepoDir string
	ModelRepoRef string
	GitHubToken  string

	// Agent limits
	MaxSchemaFields    int
	MaxCollections     int
	RelevanceThreshold float64
	MaxRetryAttempts   int
	MaxResultDocs      int

	// Usage limits
	DailyCallLimit      int     // 0 disables the limit
	UsageAlertThreshold float64 // fraction of the daily limit that triggers an alert log

	// Dispatcher settings (async runs)
	DispatcherWorkers           int
	DispatcherQueueSize         int
	DispatcherMaxAttempts       int
	DispatcherRetryInitial      time.Duration
	DispatcherRetryMax          time.Duration
	DispatcherBackoffMultiplier float64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnvInt("PORT", 8080),
		APIJWTSecret: os.Getenv("API_JWT_SECRET"),

		Provider:      getEnv("LLM_PROVIDER", "openai"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),

		AzureAPIKey:     os.Getenv("AZURE_OPENAI_API_KEY"),
		AzureEndpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
		AzureDeployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
		AzureAPIVersion: getEnv("AZURE_OPENAI_API_VERSION", "2024-02-15-preview"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),

		Temperature: getEnvFloat("LLM_TEMPERATURE", 0.0),
		MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 4096),
		LLMTimeout:  time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 120)) * time.Second,

		ConnectionType:  getEnv("MONGODB_CONNECTION_TYPE", "direct"),
		MongoURI:        getEnv("MONGODB_URI", "mongodb://localhost:27017"),
		DefaultDatabase: os.Getenv("MONGODB_DATABASE"),

		MCPEndpoint:        getEnv("MONGODB_MCP_ENDPOINT", "http://localhost:3000/mongodb/query"),
		MCPDBName:          os.Getenv("MCP_DB_NAME"),
		MCPUserName:        os.Getenv("MCP_USER_NAME"),
		MCPApplicationName: getEnv("MCP_APPLICATION_NAME", "mongodb-agent"),

		OAuthTokenURL:     os.Getenv("OAUTH_TOKEN_URL"),
		OAuthClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		OAuthScope:        os.Getenv("OAUTH_SCOPE"),
		TokenCacheTTL:     time.Duration(getEnvInt("TOKEN_CACHE_TTL", 3000)) * time.Second,

		ModelSource:  getEnv("SEMANTIC_MODEL_SOURCE", "local_files"),
		ModelPath:    getEnv("SEMANTIC_MODEL_PATH", "./semantic_models"),
		ModelRepo:    os.Getenv("SEMANTIC_MODEL_REPO"),
		ModelRepoDir: getEnv("SEMANTIC_MODEL_REPO_PATH", "semantic_models"),
		ModelRepoRef: getEnv("SEMANTIC_MODEL_REPO_REF", "main"),
		GitHubToken:  os.Getenv("GITHUB_TOKEN"),

		MaxSchemaFields:    getEnvInt("MAX_SCHEMA_FIELDS", 30),
		MaxCollections:     getEnvInt("MAX_COLLECTIONS", 5),
		RelevanceThreshold: getEnvFloat("RELEVANCE_THRESHOLD", 0.7),
		MaxRetryAttempts:   getEnvInt("MAX_RETRY_ATTEMPTS", 1),
		MaxResultDocs:      getEnvInt("MAX_RESULT_DOCS", 100),

		DailyCallLimit:      getEnvInt("LLM_DAILY_CALL_LIMIT", 1000),
		UsageAlertThreshold: getEnvFloat("LLM_USAGE_ALERT_THRESHOLD", 0.8),

		DispatcherWorkers:           getEnvInt("DISPATCHER_WORKERS", 2),
		DispatcherQueueSize:         getEnvInt("DISPATCHER_QUEUE_SIZE", 16),
		DispatcherMaxAttempts:       getEnvInt("DISPATCHER_MAX_ATTEMPTS", 2),
		DispatcherRetryInitial:      time.Duration(getEnvInt("DISPATCHER_RETRY_SECONDS", 2)) * time.Second,
		DispatcherRetryMax:          time.Duration(getEnvInt("DISPATCHER_RETRY_MAX_SECONDS", 30)) * time.Second,
		DispatcherBackoffMultiplier: getEnvFloat("DISPATCHER_BACKOFF_MULTIPLIER", 2.0),
	}

	// Validate required fields
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks that all required configuration is present
func (c *Config) validate() error {
	if err := c.validateProviderConfig(); err != nil {
		return err
	}

	if err := c.validateMongoConfig(); err != nil {
		return err
	}

	if err := c.validateModelSource(); err != nil {
		return err
	}

	if err := c.validateAgentLimits(); err != nil {
		return err
	}

	c.applyDispatcherDefaults()
	return c.validateDispatcherConfig()
}

func (c *Config) validateProviderConfig() error {
	switch c.Provider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for openai provider")
		}
	case "azure":
		if c.AzureAPIKey == "" {
			return fmt.Errorf("AZURE_OPENAI_API_KEY is required for azure provider")
		}
		if c.AzureEndpoint == "" {
			return fmt.Errorf("AZURE_OPENAI_ENDPOINT is required for azure provider")
		}
		if c.AzureDeployment == "" {
			return fmt.Errorf("AZURE_OPENAI_DEPLOYMENT is required for azure provider")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for anthropic provider")
		}
	default:
		return fmt.Errorf("invalid provider: %s (must be 'openai', 'azure' or 'anthropic')", c.Provider)
	}
	return nil
}

func (c *Config) validateMongoConfig() error {
	switch c.ConnectionType {
	case "direct":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for direct connection")
		}
	case "mcp":
		if c.MCPEndpoint == "" {
			return fmt.Errorf("MONGODB_MCP_ENDPOINT is required for mcp connection")
		}
		if c.OAuthTokenURL == "" || c.OAuthClientID == "" || c.OAuthClientSecret == "" {
			return fmt.Errorf("OAUTH_TOKEN_URL, OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET are required for mcp connection")
		}
	default:
		return fmt.Errorf("invalid connection type: %s (must be 'direct' or 'mcp')", c.ConnectionType)
	}
	return nil
}

func (c *Config) validateModelSource() error {
	switch c.ModelSource {
	case "local_files":
		if c.ModelPath == "" {
			return fmt.Errorf("SEMANTIC_MODEL_PATH is required for local_files source")
		}
	case "github":
		if c.ModelRepo == "" {
			return fmt.Errorf("SEMANTIC_MODEL_REPO is required for github source")
		}
		if c.GitHubToken == "" {
			log.Printf("Warning: GITHUB_TOKEN not set, semantic model repo must be public")
		}
	case "memory":
		// No external configuration required
	default:
		return fmt.Errorf("invalid semantic model source: %s (must be 'local_files', 'github' or 'memory')", c.ModelSource)
	}
	return nil
}

func (c *Config) validateAgentLimits() error {
	if c.MaxSchemaFields <= 0 {
		return fmt.Errorf("MAX_SCHEMA_FIELDS must be greater than 0")
	}
	if c.MaxCollections <= 0 {
		return fmt.Errorf("MAX_COLLECTIONS must be greater than 0")
	}
	if c.RelevanceThreshold < 0 || c.RelevanceThreshold > 1 {
		return fmt.Errorf("RELEVANCE_THRESHOLD must be between 0 and 1")
	}
	if c.MaxRetryAttempts < 0 {
		return fmt.Errorf("MAX_RETRY_ATTEMPTS must not be negative")
	}
	if c.MaxResultDocs <= 0 {
		return fmt.Errorf("MAX_RESULT_DOCS must be greater than 0")
	}
	if c.DailyCallLimit < 0 {
		return fmt.Errorf("LLM_DAILY_CALL_LIMIT must not be negative")
	}
	if c.UsageAlertThreshold < 0 || c.UsageAlertThreshold > 1 {
		return fmt.Errorf("LLM_USAGE_ALERT_THRESHOLD must be between 0 and 1")
	}
	return nil
}

func (c *Config) applyDispatcherDefaults() {
	if c.DispatcherWorkers <= 0 {
		c.DispatcherWorkers = 2
	}
	if c.DispatcherQueueSize <= 0 {
		c.DispatcherQueueSize = 16
	}
	if c.DispatcherMaxAttempts <= 0 {
		c.DispatcherMaxAttempts = 2
	}
	if c.DispatcherRetryInitial <= 0 {
		c.DispatcherRetryInitial = 2 * time.Second
	}
	if c.DispatcherRetryMax <= 0 {
		c.DispatcherRetryMax = 30 * time.Second
	}
	if c.DispatcherBackoffMultiplier < 1 {
		c.DispatcherBackoffMultiplier = 2
	}
}

func (c *Config) validateDispatcherConfig() error {
	if c.DispatcherWorkers <= 0 {
		return fmt.Errorf("DISPATCHER_WORKERS must be greater than 0")
	}
	if c.DispatcherQueueSize <= 0 {
		return fmt.Errorf("DISPATCHER_QUEUE_SIZE must be greater than 0")
	}
	if c.DispatcherMaxAttempts <= 0 {
		return fmt.Errorf("DISPATCHER_MAX_ATTEMPTS must be greater than 0")
	}
	if c.DispatcherRetryInitial <= 0 {
		return fmt.Errorf("DISPATCHER_RETRY_SECONDS must be greater than 0")
	}
	if c.DispatcherRetryMax < c.DispatcherRetryInitial {
		return fmt.Errorf("DISPATCHER_RETRY_MAX_SECONDS must be >= DISPATCHER_RETRY_SECONDS")
	}
	if c.DispatcherBackoffMultiplier < 1 {
		return fmt.Errorf("DISPATCHER_BACKOFF_MULTIPLIER must be >= 1")
	}
	return nil
}

// getEnv gets environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
