package main

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/companion/companion/internal/config"
	"github.com/companion/companion/internal/domain/assistant"
	"github.com/companion/companion/internal/domain/health"
	"github.com/companion/companion/internal/domain/identity"
	"github.com/companion/companion/internal/domain/messaging"
	"github.com/companion/companion/internal/platform/auth"
	"github.com/companion/companion/internal/platform/completion"
	"github.com/companion/companion/internal/platform/db"
	"github.com/companion/companion/internal/platform/middleware"
	"github.com/companion/companion/internal/platform/push"
	"github.com/companion/companion/internal/platform/ws"
)

// doctorDirectory adapts the identity service to the messaging domain's
// directory interface, keeping the two packages decoupled.
type doctorDirectory struct {
	identity *identity.Service
}

func (d *doctorDirectory) AssignedDoctor(ctx context.Context, patientUserID uuid.UUID) (*messaging.DoctorAssignment, error) {
	a, err := d.identity.AssignedDoctor(ctx, patientUserID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, messaging.ErrNoDoctor
		}
		return nil, err
	}
	return &messaging.DoctorAssignment{UserID: a.UserID, DisplayName: a.DisplayName}, nil
}

// resolveSigningKey returns the configured session signing key, or a random
// per-process key when none is configured. The second return reports whether
// the key was generated.
func resolveSigningKey(configured string) (string, bool, error) {
	if configured != "" {
		return configured, false, nil
	}
	buf := make([]byte, 32)
	if _, err := cryptorand.Read(buf); err != nil {
		return "", false, fmt.Errorf("generate signing key: %w", err)
	}
	return hex.EncodeToString(buf), true, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "companion-server",
		Short: "Patient companion API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the companion API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	aiID, err := cfg.AssistantUserID()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid assistant id")
	}

	signingKey, generated, err := resolveSigningKey(cfg.JWTSigningKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve signing key")
	}
	if generated {
		// Dev only; config validation rejects an empty key in production.
		// Tokens do not survive a restart with a generated key.
		logger.Warn().Msg("JWT_SIGNING_KEY not set; using a random per-process key")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Platform services
	issuer := auth.NewTokenIssuer([]byte(signingKey), cfg.TokenTTL)
	hub := ws.NewHub(logger)

	tokenStore := push.NewTokenStorePG(pool)
	var sender push.Sender
	if cfg.IsDev() {
		sender = &push.MockSender{}
		logger.Warn().Msg("development mode; push notifications are mocked")
	} else {
		sender = push.NewExpoSender("")
	}
	pushMgr := push.NewManager(sender, tokenStore)

	var completer completion.Completer
	if cfg.AIAPIURL != "" {
		completer = completion.NewGeminiClient(cfg.AIAPIURL, cfg.AIAPIKey, cfg.AIModel)
	} else {
		completer = &completion.Mock{Response: "Şu anda yanıt veremiyorum, lütfen daha sonra tekrar deneyin."}
		logger.Warn().Msg("AI_API_URL not set; assistant replies are mocked")
	}

	// Identity domain
	userRepo := identity.NewUserRepoPG(pool)
	patientRepo := identity.NewPatientRepoPG(pool)
	doctorRepo := identity.NewDoctorRepoPG(pool)
	identitySvc := identity.NewService(userRepo, patientRepo, doctorRepo, tokenStore, logger)

	// Health domain
	measurementRepo := health.NewMeasurementRepoPG(pool)
	measurementTypeRepo := health.NewMeasurementTypeRepoPG(pool)
	complaintRepo := health.NewComplaintRepoPG(pool)
	healthSvc := health.NewService(measurementRepo, measurementTypeRepo, complaintRepo, logger)

	// Messaging domain
	messageRepo := messaging.NewMessageRepoPG(pool)
	messagingSvc := messaging.NewService(messageRepo, &doctorDirectory{identity: identitySvc}, aiID, logger)
	sessionManager := messaging.NewSessionManager(messagingSvc, hub, cfg.PollInterval, logger)
	defer sessionManager.Shutdown()

	// Assistant domain
	assistantSvc := assistant.NewService(completer, identitySvc, healthSvc, messagingSvc, sessionManager, pushMgr, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("256K"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	// API groups
	public := e.Group("/api/v1")
	public.Use(middleware.RateLimit(rateLimitCfg))

	protected := e.Group("/api/v1")
	protected.Use(auth.Middleware(issuer))
	protected.Use(middleware.RateLimit(rateLimitCfg))

	// Handlers
	identityHandler := identity.NewHandler(identitySvc, issuer, sessionManager, logger)
	identityHandler.RegisterRoutes(public, protected)

	// Measurements and complaints are patient data; doctor accounts have no
	// business on these routes.
	patientOnly := protected.Group("", auth.RequireRole("patient"))
	healthHandler := health.NewHandler(healthSvc, identitySvc, logger)
	healthHandler.RegisterRoutes(patientOnly)

	messagingHandler := messaging.NewHandler(sessionManager, assistantSvc, logger)
	messagingHandler.RegisterRoutes(protected)

	// WebSocket endpoint; the token arrives as a query parameter.
	wsGroup := e.Group("")
	wsGroup.Use(auth.Middleware(issuer))
	ws.NewHandler(hub).RegisterRoutes(wsGroup)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
