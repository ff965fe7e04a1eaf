package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/otpdesk/internal/auth"
	"github.com/BradenHooton/otpdesk/internal/background"
	"github.com/BradenHooton/otpdesk/internal/cipher"
	"github.com/BradenHooton/otpdesk/internal/clock"
	"github.com/BradenHooton/otpdesk/internal/config"
	"github.com/BradenHooton/otpdesk/internal/database"
	"github.com/BradenHooton/otpdesk/internal/handlers"
	"github.com/BradenHooton/otpdesk/internal/messaging/mtproto"
	middlewareCustom "github.com/BradenHooton/otpdesk/internal/middleware"
	"github.com/BradenHooton/otpdesk/internal/repositories"
	"github.com/BradenHooton/otpdesk/internal/routes"
	"github.com/BradenHooton/otpdesk/internal/services"
	"github.com/BradenHooton/otpdesk/migrations"
	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		logger.Warn("invalid LOG_LEVEL, using info", slog.String("value", cfg.Server.LogLevel))
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Session encryption key
	sessionCipher, generatedKey, err := cipher.LoadOrGenerate(cfg.Cipher.EncodedKey)
	if err != nil {
		logger.Error("invalid SESSION_ENCRYPTION_KEY", slog.Any("error", err))
		os.Exit(1)
	}
	if generatedKey != "" {
		logger.Warn("SESSION_ENCRYPTION_KEY not set, generated a new key; persist it or stored sessions become unreadable after restart",
			slog.String("session_encryption_key", generatedKey))
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), time.Minute)
	if err := db.Migrate(migrateCtx, migrations.FS); err != nil {
		migrateCancel()
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}
	migrateCancel()

	// Initialize repositories
	credentialRepo := repositories.NewCredentialRepository(db)
	auditRepo := repositories.NewAuditLogRepository(db)

	// Initialize services
	clk := clock.Real{}
	auditService := services.NewAuditService(auditRepo, logger)
	credentialService := services.NewCredentialService(credentialRepo, sessionCipher, auditService, logger)

	limiter, pruner := newLimiter(cfg, clk, auditService, logger)

	var alerts services.AlertNotifier = services.NewLogAlertNotifier(logger)
	if cfg.Alert.Enabled() {
		ses, err := services.NewSESAlertNotifier(context.Background(), cfg.Alert.SESRegion, cfg.Alert.FromEmail, cfg.Alert.ToEmail, logger)
		if err != nil {
			logger.Error("failed to initialize SES alerting", slog.Any("error", err))
			os.Exit(1)
		}
		alerts = ses
	}

	dialer, err := mtproto.NewDialer(mtproto.Config{
		AppID:       cfg.Telegram.APIID,
		AppHash:     cfg.Telegram.APIHash,
		DialTimeout: cfg.Telegram.DialTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize messaging client", slog.Any("error", err))
		os.Exit(1)
	}

	loginService := services.NewLoginService(dialer, limiter, services.LoginConfig{
		AttemptLifetime: cfg.Login.AttemptLifetime,
	}, clk, auditService, logger)

	otpMonitor := services.NewOTPMonitor(dialer, credentialService, services.MonitorConfig{
		Interval:         cfg.Monitor.Interval,
		MaxTicks:         cfg.Monitor.MaxTicks,
		InboxLimit:       cfg.Monitor.InboxLimit,
		ServiceAccountID: cfg.Monitor.ServiceAccountID,
	}, clk, nil, alerts, auditService, logger)
	otpMonitor.SetLimiter(limiter)

	deviceManager := services.NewDeviceSessionManager(dialer, credentialService, alerts, auditService, clk, logger)
	deviceManager.SetLimiter(limiter)

	// Background maintenance
	cleanupManager := background.NewCleanupManager(logger, nil)
	cleanupManager.AddTask("login_sweep", cfg.Login.SweepInterval, func(ctx context.Context) (int64, error) {
		return int64(loginService.Sweep(ctx)), nil
	})
	if pruner != nil {
		cleanupManager.AddTask("rate_window_prune", cfg.RateLimit.PruneInterval, func(ctx context.Context) (int64, error) {
			return int64(pruner.Prune()), nil
		})
	}
	cleanupManager.AddTask("audit_retention", 24*time.Hour, func(ctx context.Context) (int64, error) {
		return auditService.Cleanup(ctx, cfg.Auth.AuditRetention)
	})

	// Initialize handlers
	tokenManager := auth.NewTokenManager(cfg.Auth.ServiceTokenSecret, cfg.Auth.TokenIssuer)
	ipConfig := pkghttp.ParseTrustedProxies(cfg.Server.TrustedProxies)

	h := routes.Handlers{
		Health:   handlers.NewHealthHandler(db, otpMonitor.Active, loginService.Len),
		Logins:   handlers.NewLoginHandler(loginService, credentialService, logger),
		OTP:      handlers.NewOTPHandler(otpMonitor, credentialService, logger),
		Devices:  handlers.NewDeviceHandler(deviceManager, credentialService, logger),
		Commands: handlers.NewCommandHandler(handlers.NewCommandRouter(otpMonitor, deviceManager, credentialService), logger),
		Accounts: handlers.NewAccountHandler(credentialService, limiter, logger),
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middlewareCustom.RateLimitByIP(middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Server.IPRequestsPerMin,
		IPConfig:          ipConfig,
	}))
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, h, tokenManager, middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Server.SubjectReqPerMin,
		IPConfig:          ipConfig,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	cleanupDone := make(chan struct{})
	go func() {
		cleanupManager.Start(cleanupCtx)
		close(cleanupDone)
	}()

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	cleanupManager.Stop()
	cleanupCancel()
	<-cleanupDone

	// Release every messaging connection before the database goes away
	otpMonitor.Shutdown()
	loginService.Close()

	logger.Info("server stopped gracefully")
}

// pruner is implemented by limiters that keep windows in process memory
type pruner interface {
	Prune() int
}

// newLimiter uses Redis when REDIS_URL is set so every replica shares one window
func newLimiter(cfg *config.Config, clk clock.Clock, audit *services.AuditService, logger *slog.Logger) (services.Limiter, pruner) {
	loginLimit := services.RateLimit{MaxAttempts: cfg.RateLimit.LoginMaxAttempts, Window: cfg.RateLimit.LoginWindow}
	limits := map[string]services.RateLimit{
		services.ActionLogin:  loginLimit,
		services.ActionOTP:    {MaxAttempts: cfg.RateLimit.OTPMaxAttempts, Window: cfg.RateLimit.OTPWindow},
		services.ActionDevice: {MaxAttempts: cfg.RateLimit.DeviceMaxAttempts, Window: cfg.RateLimit.DeviceWindow},
	}

	if cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := database.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("using redis rate limiter")
		return services.NewRedisRateLimiter(client, loginLimit, limits, clk, audit, logger), nil
	}

	l := services.NewSlidingWindowLimiter(loginLimit, limits, clk, audit, logger)
	return l, l
}
