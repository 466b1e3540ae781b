package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"liveclass/internal/api"
	"liveclass/internal/auth"
	"liveclass/internal/config"
	"liveclass/internal/database"
	"liveclass/internal/hub"
	"liveclass/internal/router"
	"liveclass/internal/session"
	"liveclass/internal/store/redisstore"
	"liveclass/internal/terminal"
	"liveclass/internal/websocket"
	pkgdatabase "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
)

// persistence is what both storage backends provide.
type persistence interface {
	interfaces.WorkspaceStore
	interfaces.ChatArchive
}

// Application coordinates all system components
// Component initialization follows strict dependency order:
// Storage → Terminals → Sessions → Router → Hub → WebSocket → API → HTTP
type Application struct {
	config      *config.Config
	store       persistence
	terminals   *terminal.Service
	sessions    *session.Registry
	connections *websocket.Registry
	router      *router.Router
	janitor     *hub.Hub
	wsHandler   *websocket.Handler
	apiServer   *api.Server
	httpServer  *http.Server
	listener    net.Listener
}

func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	// STEP 1: Storage (optional)
	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	// STEP 2: Terminals (optional)
	var terminals *terminal.Service
	routerOpts := router.Options{
		ChatRateLimit: cfg.Room.ChatRateLimit,
		StoreTimeout:  cfg.Storage.Timeout,
	}
	if store != nil {
		routerOpts.Store = store
		routerOpts.Archive = store
	}
	if cfg.Terminal.Enabled {
		terminals = terminal.NewService(terminal.Options{
			WorkRoot:       cfg.Terminal.WorkRoot,
			Shell:          cfg.Terminal.Shell,
			ExecTimeout:    cfg.Terminal.ExecTimeout,
			MaxOutputBytes: cfg.Terminal.MaxOutputBytes,
		})
		routerOpts.Terminals = terminals
	}

	// STEP 3: Session layer and message routing
	sessions := session.NewRegistry(session.Options{
		ChatHistoryLimit: cfg.Room.ChatHistoryLimit,
		MaxChatLength:    cfg.Room.MaxChatLength,
		TypingTTL:        cfg.Room.TypingTTL,
	})
	messageRouter := router.NewRouter(session.NewPresence(sessions), verifier, routerOpts)
	janitor := hub.NewHub(sessions, messageRouter.RateLimiter(), cfg.Room.SweepInterval)

	// STEP 4: Transport
	connections := websocket.NewRegistry()
	wsHandler := websocket.NewHandler(messageRouter, connections, websocket.Options{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	// STEP 5: HTTP surface
	deps := api.Deps{
		Sessions:       sessions,
		Connections:    connections,
		Verifier:       verifier,
		WebSocket:      wsHandler.HandleWebSocket,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		StoreTimeout:   cfg.Storage.Timeout,
		MaxBodyBytes:   cfg.WebSocket.MaxMessageSize,
	}
	if store != nil {
		deps.Store = store
		deps.Archive = store
	}
	apiServer := api.NewServer(deps)

	// ARCHITECTURAL DISCOVERY: WriteTimeout stays zero; hijacked websocket
	// connections manage their own deadlines
	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           apiServer,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}

	return &Application{
		config:      cfg,
		store:       store,
		terminals:   terminals,
		sessions:    sessions,
		connections: connections,
		router:      messageRouter,
		janitor:     janitor,
		wsHandler:   wsHandler,
		apiServer:   apiServer,
		httpServer:  httpServer,
	}, nil
}

// openStorage returns nil when the backend is "none".
func openStorage(ctx context.Context, cfg *config.StorageConfig) (persistence, error) {
	switch cfg.Backend {
	case config.StorageSQLite:
		dbConfig := pkgdatabase.DefaultConfig()
		dbConfig.DatabasePath = cfg.SQLitePath
		dbConfig.WriteTimeout = cfg.Timeout
		manager, err := database.NewManager(dbConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		if cfg.WorkspaceTTL > 0 {
			pruneCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			removed, err := manager.PruneWorkspaces(pruneCtx, time.Now().Add(-cfg.WorkspaceTTL))
			cancel()
			if err != nil {
				log.Printf("Failed to prune expired workspaces: %v", err)
			} else if removed > 0 {
				log.Printf("Pruned expired workspaces: count=%d", removed)
			}
		}
		return manager, nil

	case config.StorageRedis:
		store, err := redisstore.Open(ctx, cfg.RedisURL, redisstore.Options{WorkspaceTTL: cfg.WorkspaceTTL})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Println("Redis connection established")
		return store, nil

	case config.StorageNone:
		log.Println("Storage disabled: workspaces and chat archive are unavailable")
		return nil, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// Start binds the listener, starts the janitor and serves in the background.
func (app *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	if err := app.janitor.Start(ctx); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to start janitor: %w", err)
	}

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	log.Printf("LiveClass server listening on %s", listener.Addr())
	return nil
}

// Stop shuts down in reverse dependency order: HTTP → sockets → background
// work → janitor → terminals → storage.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down LiveClass server")
	var errs []error

	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	closed := app.connections.CloseAll()
	log.Printf("Closed websocket connections: count=%d", closed)

	drained := make(chan struct{})
	go func() {
		app.wsHandler.Wait()
		app.router.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for connections: %w", ctx.Err()))
	}

	if err := app.janitor.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("janitor stop: %w", err))
	}
	if app.terminals != nil {
		app.terminals.Shutdown()
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}

	log.Printf("LiveClass server shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound address once started, the configured one before.
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the full HTTP surface, including /ws.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

func (app *Application) Sessions() *session.Registry {
	return app.sessions
}
