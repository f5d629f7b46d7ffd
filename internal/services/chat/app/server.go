package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/studyhall/studyhall/internal/platform/timeouts"
	"github.com/studyhall/studyhall/internal/services/chat/identity"
	"github.com/studyhall/studyhall/internal/services/chat/storage/sqlite"
)

// Config defines the inputs for the chat service process.
//
// The settings couple the websocket layer to userhub identity resolution
// without owning account state.
type Config struct {
	HTTPAddr       string
	DBPath         string
	UserhubBaseURL string
	ResourceSecret string

	// Token verification is optional. When a public key is configured the
	// handshake accepts locally verified access tokens before falling back
	// to session introspection.
	TokenIssuer    string
	TokenAudience  string
	TokenPublicKey string

	// RequireAuthenticatedHandshake rejects websocket upgrades without a
	// resolvable identity. Forced on when Profile is production.
	RequireAuthenticatedHandshake bool
	Profile                       string

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the chat HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
}

// NewServer builds a configured chat server.
func NewServer(config Config) (*Server, error) {
	return NewServerWithContext(context.Background(), config)
}

// NewServerWithContext builds a configured chat server with an explicit context.
func NewServerWithContext(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if strings.TrimSpace(config.DBPath) == "" {
		return nil, errors.New("database path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	requireAuth := config.RequireAuthenticatedHandshake
	if strings.EqualFold(strings.TrimSpace(config.Profile), "production") {
		requireAuth = true
	}

	resolver, err := buildResolver(config)
	if err != nil {
		return nil, err
	}
	if requireAuth && resolver == nil {
		return nil, errors.New("authenticated handshake requires userhub configuration")
	}
	if resolver == nil {
		log.Printf("chat: identity resolution not configured, handshake runs permissive")
	}

	store, err := sqlite.Open(config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open message store: %w", err)
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(newCoordinator(resolver, store), resolver, requireAuth),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
	}, nil
}

func buildResolver(config Config) (identity.Resolver, error) {
	var resolver identity.Resolver
	if userhub := identity.NewUserhubResolver(config.UserhubBaseURL, config.ResourceSecret); userhub != nil {
		resolver = userhub
	}

	tokenConfig, err := identity.LoadTokenConfig(config.TokenIssuer, config.TokenAudience, config.TokenPublicKey)
	if err != nil {
		return nil, fmt.Errorf("load token config: %w", err)
	}
	return identity.NewTokenResolver(tokenConfig, resolver), nil
}

// Run creates and serves a chat server until the context ends.
//
// Operators can treat this as the lifecycle boundary for the real-time surface.
func Run(ctx context.Context, config Config) error {
	server, err := NewServerWithContext(ctx, config)
	if err != nil {
		return fmt.Errorf("init chat server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve chat: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("chat server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("chat server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close message store: %v", err)
		}
	}
}
