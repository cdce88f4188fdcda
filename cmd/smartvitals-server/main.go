package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/smartvitals/smartvitals/internal/config"
	"github.com/smartvitals/smartvitals/internal/domain/launch"
	"github.com/smartvitals/smartvitals/internal/domain/vitals"
	"github.com/smartvitals/smartvitals/internal/platform/fhir"
	"github.com/smartvitals/smartvitals/internal/platform/middleware"
	"github.com/smartvitals/smartvitals/internal/platform/session"
	"github.com/smartvitals/smartvitals/internal/platform/smart"
	"github.com/smartvitals/smartvitals/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "smartvitals-server",
		Short: "SMART on FHIR vitals companion app",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the vitals app server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the saved launch session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.SessionFile == config.MemorySession {
				fmt.Println("SESSION_FILE is :memory:; nothing persisted to clear")
				return nil
			}
			path, err := cfg.SessionFilePath()
			if err != nil {
				return err
			}
			// Remove the file directly: a corrupt session document must
			// still be clearable.
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return err
			}
			fmt.Println("Launch session cleared. The next entry must be a fresh EHR launch.")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("smartvitals-server %s\n", version)
		},
	}
}

// newLogger builds the process logger. Development gets the human console
// writer; everything else emits plain JSON lines.
func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// newSessionStore opens the configured session store: the file-backed store
// at SESSION_FILE, or the in-memory store for the :memory: sentinel.
func newSessionStore(cfg *config.Config) (session.Store, error) {
	path, err := cfg.SessionFilePath()
	if err != nil {
		return nil, err
	}
	if path == config.MemorySession {
		return session.NewMemoryStore(), nil
	}
	return session.NewFileStore(path)
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Session store
	store, err := newSessionStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open session store")
	}
	if cfg.SessionFile == config.MemorySession {
		logger.Warn().Msg("using in-memory session store; launch context will not survive a restart")
	}

	// Metrics
	metrics := telemetry.New()

	// SMART + FHIR clients share one outbound HTTP client.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout()}
	identity := smart.ClientIdentity{
		ClientID:    cfg.ClientID,
		RedirectURI: cfg.ResolvedRedirectURI(),
		Scopes:      cfg.Scopes,
	}
	tokens := smart.NewClient(store, httpClient, identity, logger, metrics)
	fhirClient := fhir.NewClient(store, httpClient, tokens, logger, metrics)

	// Launch machine and vitals engine
	machine := launch.NewMachine(store, tokens, fhirClient, httpClient, identity, logger, metrics)
	vitalsSvc := vitals.NewService(fhirClient, store, logger)
	machine.OnContextCleared(vitalsSvc.Invalidate)

	// Restore patient context from a previous run before serving.
	machine.Resume()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders())
	// The callback leg makes two upstream calls before responding.
	e.Use(middleware.RequestTimeout(2 * cfg.HTTPTimeout()))
	e.Use(middleware.BodyLimit("64K"))

	// Routes
	launch.NewHandler(machine).RegisterRoutes(e)
	api := e.Group("/api")
	vitals.NewHandler(vitalsSvc).RegisterRoutes(api)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	// Prometheus metrics
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("redirect_uri", identity.RedirectURI).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
