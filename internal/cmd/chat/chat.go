// Package chat parses chat command flags and composes transport entrypoints.
package chat

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/studyhall/studyhall/internal/platform/cmd"
	server "github.com/studyhall/studyhall/internal/services/chat/app"
)

// Config holds chat command configuration.
type Config struct {
	HTTPAddr       string `env:"STUDYHALL_CHAT_HTTP_ADDR"        envDefault:":8086"`
	DBPath         string `env:"STUDYHALL_CHAT_DB_PATH"          envDefault:"chat.db"`
	UserhubBaseURL string `env:"STUDYHALL_USERHUB_BASE_URL"      envDefault:"http://localhost:8084"`
	ResourceSecret string `env:"STUDYHALL_USERHUB_RESOURCE_SECRET"`
	TokenIssuer    string `env:"STUDYHALL_TOKEN_ISSUER"          envDefault:"userhub"`
	TokenAudience  string `env:"STUDYHALL_TOKEN_AUDIENCE"        envDefault:"chat"`
	TokenPublicKey string `env:"STUDYHALL_TOKEN_PUBLIC_KEY"`
	RequireAuth    bool   `env:"STUDYHALL_CHAT_REQUIRE_AUTH"`
	Profile        string `env:"STUDYHALL_PROFILE"               envDefault:"dev"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "chat HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "chat message database path")
	fs.StringVar(&cfg.UserhubBaseURL, "userhub-base-url", cfg.UserhubBaseURL, "userhub service base URL")
	fs.StringVar(&cfg.ResourceSecret, "resource-secret", cfg.ResourceSecret, "userhub introspection resource secret")
	fs.StringVar(&cfg.TokenIssuer, "token-issuer", cfg.TokenIssuer, "expected access token issuer")
	fs.StringVar(&cfg.TokenAudience, "token-audience", cfg.TokenAudience, "expected access token audience")
	fs.StringVar(&cfg.TokenPublicKey, "token-public-key", cfg.TokenPublicKey, "base64 Ed25519 access token public key")
	fs.BoolVar(&cfg.RequireAuth, "require-auth", cfg.RequireAuth, "reject websocket handshakes without a resolvable identity")
	fs.StringVar(&cfg.Profile, "profile", cfg.Profile, "runtime profile (dev or production)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run builds the chat app and starts realtime transport behavior.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceChat, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:                      cfg.HTTPAddr,
			DBPath:                        cfg.DBPath,
			UserhubBaseURL:                cfg.UserhubBaseURL,
			ResourceSecret:                cfg.ResourceSecret,
			TokenIssuer:                   cfg.TokenIssuer,
			TokenAudience:                 cfg.TokenAudience,
			TokenPublicKey:                cfg.TokenPublicKey,
			RequireAuthenticatedHandshake: cfg.RequireAuth,
			Profile:                       cfg.Profile,
		}); err != nil {
			return fmt.Errorf("serve chat: %w", err)
		}
		return nil
	})
}
