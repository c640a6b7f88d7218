package mongo

import (
	"context"
	"fmt"

	"github.com/praveenk20/mongodb-agent-ai/internal/auth"
	"github.com/praveenk20/mongodb-agent-ai/internal/config"
)

// New returns the executor for the configured connection type. Direct mode
// dials MongoDB immediately; mcp mode defers all network work to Run.
func New(ctx context.Context, cfg *config.Config) (Executor, error) {
	switch cfg.ConnectionType {
	case "direct":
		return NewDirectExecutor(ctx, cfg.MongoURI, cfg.MaxResultDocs)
	case "mcp":
		var tokens *auth.TokenCache
		if cfg.OAuthTokenURL != "" {
			tokens = auth.NewTokenCache(cfg.OAuthTokenURL, cfg.OAuthClientID, cfg.OAuthClientSecret, cfg.OAuthScope, cfg.TokenCacheTTL)
		}
		return NewGatewayExecutor(cfg.MCPEndpoint, cfg.MCPDBName, cfg.MCPUserName, cfg.MCPApplicationName, tokens, cfg.MaxResultDocs), nil
	default:
		return nil, fmt.Errorf("unknown connection type: %s (supported: direct, mcp)", cfg.ConnectionType)
	}
}
