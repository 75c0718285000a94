// Command lidardrive starts the Lidar Drive simulation server.
//
// It supports two modes:
//  1. "server" (default) – runs the HTTP server exposing REST API, WebSocket, and an /mcp HTTP endpoint
//  2. "stdio-mcp" – runs an MCP stdio server and spins up an internal HTTP API if none is available
//
// Settings come from lidardrive.json in the config directory, LIDARDRIVE_*
// environment variables (a .env file is loaded first) and flags, flags
// winning. Optional ngrok tunneling gives easy external access during
// development.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/wricardo/mcp-training/lidardrive/api"
	"github.com/wricardo/mcp-training/lidardrive/game/config"
	"github.com/wricardo/mcp-training/lidardrive/game/engine"
	"github.com/wricardo/mcp-training/lidardrive/game/service"
	"github.com/wricardo/mcp-training/lidardrive/game/session"
	"github.com/wricardo/mcp-training/lidardrive/logging"
	"github.com/wricardo/mcp-training/lidardrive/settings"
	"github.com/wricardo/mcp-training/lidardrive/telemetry"
	"github.com/wricardo/mcp-training/lidardrive/transport/mcp"
	"github.com/wricardo/mcp-training/lidardrive/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "Lidar Drive Server"
)

// filesystemSyncInterval is how often in-memory sessions are checked
// against their files.
const filesystemSyncInterval = 5 * time.Second

// main loads .env, then runs the CLI until a signal arrives.
func main() {
	// Load .env file if it exists (ignore error if not found)
	envErr := godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if envErr != nil && !os.IsNotExist(envErr) {
		fmt.Fprintf(os.Stderr, "Warning: error loading .env file: %v\n", envErr)
	}

	if err := newApp().Run(ctx, os.Args); err != nil {
		log.Fatal().Err(err).Msg("lidardrive failed")
	}
}

// newApp builds the command tree. Flags are inherited by subcommands.
func newApp() *cli.Command {
	return &cli.Command{
		Name:    "lidardrive",
		Usage:   AppName,
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-dir",
				Value:   ".",
				Usage:   "directory containing " + settings.FileName,
				Sources: cli.EnvVars("CONFIG_DIR"),
			},
			&cli.StringFlag{Name: "host", Usage: "HTTP server host"},
			&cli.IntFlag{Name: "port", Usage: "HTTP server port"},
			&cli.StringFlag{Name: "tracks-dir", Usage: "directory containing track files"},
			&cli.StringFlag{Name: "sessions-dir", Usage: "directory where sessions are persisted"},
			&cli.StringFlag{Name: "static-dir", Usage: "serve a web client from this directory"},
			&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn or error"},
			&cli.BoolFlag{Name: "debug", Usage: "shorthand for --log-level debug"},
			&cli.BoolFlag{Name: "verbose-sensors", Usage: "log every sensor reading at debug level"},
			&cli.BoolFlag{Name: "metrics", Usage: "export engine counters periodically"},
			&cli.StringFlag{Name: "metrics-file", Usage: "append exported metrics to this file instead of stderr"},
			&cli.BoolFlag{Name: "ngrok", Usage: "enable ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
			&cli.StringFlag{Name: "ngrok-domain", Usage: "custom ngrok domain", Sources: cli.EnvVars("NGROK_DOMAIN")},
			&cli.StringFlag{
				Name:    "ngrok-auth",
				Usage:   "ngrok auth token",
				Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:    "server",
				Aliases: []string{"http"},
				Usage:   "Run HTTP server with API, WebSocket, and MCP endpoint (default)",
				Action:  serverAction,
			},
			{
				Name:    "stdio-mcp",
				Aliases: []string{"mcp-stdio", "mcp"},
				Usage:   "Run MCP stdio server with internal HTTP server",
				Action:  stdioAction,
			},
		},
		Action: serverAction,
	}
}

// loadSettings reads the settings file and applies explicitly set flags.
func loadSettings(cmd *cli.Command) (*settings.Settings, error) {
	cfg, err := settings.Load(cmd.String("config-dir"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("tracks-dir") {
		cfg.TracksDir = cmd.String("tracks-dir")
	}
	if cmd.IsSet("sessions-dir") {
		cfg.SessionsDir = cmd.String("sessions-dir")
	}
	if cmd.IsSet("static-dir") {
		cfg.StaticDir = cmd.String("static-dir")
	}
	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}
	if cmd.Bool("debug") {
		cfg.LogLevel = "debug"
	}
	if cmd.IsSet("verbose-sensors") {
		cfg.VerboseSensors = cmd.Bool("verbose-sensors")
	}
	if cmd.IsSet("metrics") {
		cfg.Metrics.Enabled = cmd.Bool("metrics")
	}
	if cmd.IsSet("metrics-file") {
		cfg.Metrics.File = cmd.String("metrics-file")
	}
	if cmd.IsSet("ngrok") {
		cfg.Ngrok.Enabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.Ngrok.Domain = cmd.String("ngrok-domain")
	}
	if cmd.IsSet("ngrok-auth") {
		cfg.Ngrok.AuthToken = cmd.String("ngrok-auth")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serverAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.PrettyLogs)
	logger.Info().Str("version", Version).Str("mode", "server").Msgf("Starting %s", AppName)

	stopMetrics, err := setupMetrics(cfg.Metrics, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	svcs, err := initializeServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	return runHTTPServer(ctx, cfg, svcs, logger)
}

func stdioAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	// Logs go to stderr; stdout carries the MCP protocol.
	logger := logging.Setup(cfg.LogLevel, cfg.PrettyLogs)
	logger.Info().Str("version", Version).Str("mode", "stdio-mcp").Msgf("Starting %s", AppName)

	stopMetrics, err := setupMetrics(cfg.Metrics, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	svcs, err := initializeServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	return runStdioMCPWithInternalServer(ctx, cfg, svcs, logger)
}

// setupMetrics installs the global meter provider engines report to. The
// returned func flushes and closes the exporter.
func setupMetrics(cfg settings.Metrics, logger zerolog.Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	out := io.Writer(os.Stderr)
	var file *os.File
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open metrics file: %w", err)
		}
		file, out = f, f
	}

	provider, err := telemetry.New(telemetry.Config{
		Enabled:     true,
		ServiceName: "lidardrive",
		Interval:    cfg.Interval,
		Writer:      out,
	})
	if err != nil {
		if file != nil {
			file.Close()
		}
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	provider.Install()
	logger.Info().Str("file", cfg.File).Dur("interval", cfg.Interval).Msg("metrics export enabled")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("metrics shutdown error")
		}
		if file != nil {
			file.Close()
		}
	}, nil
}

// services bundles everything the transports need.
type services struct {
	game        service.GameService
	sessions    *session.Manager
	persistence *session.FilePersistence
	hub         *websocket.Hub
}

// initializeServices wires track/session managers, the hub and the game
// service. It also starts background routines that prune stale sessions
// until ctx is done.
func initializeServices(ctx context.Context, cfg *settings.Settings, logger zerolog.Logger) (*services, error) {
	// Create track manager first (needed for persistence)
	trackManager, err := config.NewManager(cfg.TracksDir, config.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create track manager: %w", err)
	}

	engineOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithVerbose(cfg.VerboseSensors),
	}

	if err := os.MkdirAll(cfg.SessionsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}
	persistence, err := session.NewFilePersistence(cfg.SessionsDir, trackManager, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session persistence: %w", err)
	}

	sessionManager := session.NewManagerWithPersistence(persistence,
		session.WithLogger(logger),
		session.WithEngineOptions(engineOpts...),
	)

	// Load persisted sessions on startup
	if err := sessionManager.LoadPersistedSessions(); err != nil {
		logger.Warn().Err(err).Msg("failed to load persisted sessions")
	}

	hub := websocket.NewHub(websocket.WithLogger(logger))

	gameService := service.NewGameService(sessionManager, trackManager,
		service.WithLogger(logger),
		service.WithFrameSink(hub),
	)
	hub.SetInputHandler(gameService.SetInput)

	go sessionCleanupRoutine(ctx, sessionManager, cfg.CleanupInterval, cfg.SessionTTL, logger)
	go filesystemSyncRoutine(ctx, sessionManager, persistence, logger)

	return &services{
		game:        gameService,
		sessions:    sessionManager,
		persistence: persistence,
		hub:         hub,
	}, nil
}

// sessionCleanupRoutine periodically removes sessions that have not been
// accessed within ttl. A zero ttl keeps sessions forever.
func sessionCleanupRoutine(ctx context.Context, manager *session.Manager, every, ttl time.Duration, logger zerolog.Logger) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := manager.CleanupExpiredSessions(ttl); removed > 0 {
				logger.Info().Int("removed", removed).Msg("cleaned up expired sessions")
			}
		}
	}
}

// filesystemSyncRoutine periodically syncs in-memory sessions with
// filesystem state.
func filesystemSyncRoutine(ctx context.Context, manager *session.Manager, persistence session.SessionPersistence, logger zerolog.Logger) {
	ticker := time.NewTicker(filesystemSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := pruneOrphanedSessions(manager, persistence); pruned > 0 {
				logger.Info().Int("pruned", pruned).Msg("filesystem sync: pruned orphaned sessions from memory")
			}
		}
	}
}

// pruneOrphanedSessions removes sessions from memory when their files have
// been deleted.
func pruneOrphanedSessions(manager *session.Manager, persistence session.SessionPersistence) int {
	if persistence == nil {
		return 0
	}

	pruned := 0
	for _, s := range manager.List() {
		if !persistence.Exists(s.ID) {
			if err := manager.DeleteFromMemory(s.ID); err == nil {
				pruned++
			}
		}
	}
	return pruned
}

// mcpHandler serves single JSON-RPC messages over HTTP POST.
func mcpHandler(mcpServer *server.MCPServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpServer.HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	}
}

// newRouter mounts the API at the root and the MCP proxy at /mcp.
func newRouter(svcs *services, baseURL string, cfg *settings.Settings, logger zerolog.Logger) http.Handler {
	opts := []api.Option{api.WithLogger(logger)}
	if cfg.StaticDir != "" {
		opts = append(opts, api.WithStaticDir(cfg.StaticDir))
	}
	apiServer := api.NewServer(svcs.game, svcs.hub, opts...)

	mcpClient := mcp.NewClient(baseURL)

	mainRouter := http.NewServeMux()
	mainRouter.Handle("/", apiServer)
	mainRouter.HandleFunc("/mcp", mcpHandler(mcpClient.GetMCPServer()))
	return mainRouter
}

// runHTTPServer starts the HTTP server with REST API, WebSocket hub, and an
// /mcp proxy endpoint, plus an ngrok tunnel when enabled. It returns after
// ctx is done and everything has shut down.
func runHTTPServer(ctx context.Context, cfg *settings.Settings, svcs *services, logger zerolog.Logger) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go svcs.hub.Run(hubCtx)

	addr := cfg.Addr()
	handler := newRouter(svcs, "http://"+addr, cfg, logger)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)

	// Start regular HTTP server
	wg.Add(1)
	go func() {
		defer wg.Done()

		logger.Info().
			Str("addr", addr).
			Str("api", fmt.Sprintf("http://%s/api", addr)).
			Str("ws", fmt.Sprintf("ws://%s/ws?session=<session_id>", addr)).
			Str("mcp", fmt.Sprintf("http://%s/mcp", addr)).
			Msg("HTTP server listening")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if cfg.Ngrok.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runNgrok(ctx, cfg.Ngrok, handler, logger)
		}()
	}

	// Wait for shutdown signal or a listen failure
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case runErr = <-serveErr:
		logger.Error().Err(runErr).Msg("HTTP server failed")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	if err := svcs.game.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("game service shutdown error")
	}
	if err := svcs.sessions.SaveAllSessions(); err != nil {
		logger.Warn().Err(err).Msg("failed to save sessions")
	}
	stopHub()

	// Wait for all goroutines to finish
	wg.Wait()
	logger.Info().Msg("server stopped")
	return runErr
}

// runNgrok serves handler through an ngrok tunnel until ctx is done.
func runNgrok(ctx context.Context, cfg settings.Ngrok, handler http.Handler, logger zerolog.Logger) {
	if cfg.AuthToken == "" {
		logger.Warn().Msg("ngrok enabled but no auth token provided (use --ngrok-auth, NGROK_AUTHTOKEN, or LIDARDRIVE_NGROK_AUTHTOKEN)")
		return
	}

	logger.Info().Msg("starting ngrok tunnel")

	var tunnel ngrokConfig.Tunnel
	if cfg.Domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.Domain))
		logger.Info().Str("domain", cfg.Domain).Msg("using custom ngrok domain")
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.AuthToken))
	if err != nil {
		logger.Error().Err(err).Msg("failed to start ngrok tunnel")
		return
	}

	ngrokURL := tun.URL()
	logger.Info().
		Str("url", ngrokURL).
		Str("api", ngrokURL+"/api").
		Str("ws", ngrokURL+"/ws?session=<session_id>").
		Str("mcp", ngrokURL+"/mcp").
		Msg("ngrok tunnel established")

	go func() {
		<-ctx.Done()
		if err := tun.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close ngrok tunnel")
		}
	}()

	// Serve HTTP through ngrok tunnel
	if err := http.Serve(tun, handler); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		logger.Error().Err(err).Msg("ngrok server error")
	}
	logger.Info().Msg("ngrok tunnel closed")
}

// runStdioMCPWithInternalServer runs an MCP stdio server. It reuses an
// external API at the configured address when one answers; otherwise it
// starts an internal HTTP API on a random loopback port and targets that.
func runStdioMCPWithInternalServer(ctx context.Context, cfg *settings.Settings, svcs *services, logger zerolog.Logger) error {
	externalURL := "http://" + cfg.Addr()
	logger.Info().Str("url", externalURL).Msg("checking for external API server")

	baseURL := externalURL
	testClient := &http.Client{Timeout: 2 * time.Second}
	resp, err := testClient.Get(externalURL + "/api/health")
	if err == nil && resp.StatusCode < 500 {
		resp.Body.Close()
		logger.Info().Str("url", externalURL).Msg("external API server found, using it for MCP")
	} else {
		logger.Info().Msg("no external API server found, starting internal HTTP server")

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}
		baseURL = "http://" + listener.Addr().String()

		go svcs.hub.Run(ctx)

		httpServer := &http.Server{
			Handler: api.NewServer(svcs.game, svcs.hub, api.WithLogger(logger)),
		}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("internal HTTP server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
			svcs.game.Shutdown(shutdownCtx)
			svcs.sessions.SaveAllSessions()
		}()

		logger.Info().Str("url", baseURL).Msg("internal HTTP server started for MCP stdio")
	}

	mcpClient := mcp.NewClient(baseURL)
	logger.Info().Str("api", baseURL).Msg("MCP stdio server ready")

	// Run MCP stdio server (blocking)
	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}
