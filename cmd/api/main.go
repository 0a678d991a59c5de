package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/BradenHooton/aegis/internal/audit"
	"github.com/BradenHooton/aegis/internal/auth"
	"github.com/BradenHooton/aegis/internal/background"
	"github.com/BradenHooton/aegis/internal/config"
	"github.com/BradenHooton/aegis/internal/counter"
	"github.com/BradenHooton/aegis/internal/database"
	"github.com/BradenHooton/aegis/internal/device"
	"github.com/BradenHooton/aegis/internal/handlers"
	"github.com/BradenHooton/aegis/internal/metrics"
	middlewareCustom "github.com/BradenHooton/aegis/internal/middleware"
	"github.com/BradenHooton/aegis/internal/repositories"
	"github.com/BradenHooton/aegis/internal/repositories/memory"
	"github.com/BradenHooton/aegis/internal/risk"
	"github.com/BradenHooton/aegis/internal/routes"
	"github.com/BradenHooton/aegis/internal/telemetry"
	pkghttp "github.com/BradenHooton/aegis/pkg/http"
)

// stores holds the persistence chosen by STORAGE_DRIVER
type stores struct {
	devices device.Store
	audit   audit.Store
	deps    map[string]handlers.Pinger
	close   func()
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env), slog.String("storage", cfg.Storage))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", slog.Any("error", err))
		os.Exit(1)
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.close()

	counters, closeCounters := openCounters(cfg, st.deps)
	defer closeCounters()

	// Risk rules
	ruleSet, err := loadRules(cfg.Risk.RulesFile, logger)
	if err != nil {
		logger.Error("failed to load risk rules", slog.Any("error", err))
		os.Exit(1)
	}

	alerts, err := buildAlerts(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize alerting", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize services
	deviceManager := device.NewManager(st.devices, logger)
	engine := risk.NewEngine(ruleSet, risk.EngineConfig{
		HistoryLimit: cfg.Risk.HistoryLimit,
		Devices:      deviceManager,
	}, logger)
	auditLogger := audit.NewLogger(st.audit, alerts, audit.Config{
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: cfg.Audit.FlushInterval,
		MaxRetries:    cfg.Audit.FlushMaxRetries,
	}, logger)
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)

	cleanupManager, err := background.NewCleanupManager(deviceManager, cfg.Device.CleanupSchedule, cfg.Device.CleanupDays, logger)
	if err != nil {
		logger.Error("failed to schedule device cleanup", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	h := routes.Handlers{
		Risk:    handlers.NewRiskHandler(engine, counters, auditLogger, ipConfig, logger),
		Devices: handlers.NewDeviceHandler(deviceManager, auditLogger, logger),
		Audit:   handlers.NewAuditHandler(auditLogger, counters, logger),
		Health:  handlers.NewHealthHandler(st.deps, auditLogger, logger),
	}

	rateLimit := middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Server.RateLimitPerMinute,
		IPConfig:          ipConfig,
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(metrics.Middleware)
	router.Use(middlewareCustom.RateLimitByIP(rateLimit))
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, h, tokenManager, rateLimit)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return auditLogger.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	cleanupManager.Start()

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		cleanupManager.Stop(shutdownCtx)
		if err := auditLogger.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("audit drain: %w", err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", slog.Any("error", err))
		st.close()
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage; data is lost on restart")
		return &stores{
			devices: memory.NewDeviceStore(),
			audit:   memory.NewAuditStore(),
			deps:    map[string]handlers.Pinger{},
			close:   func() {},
		}, nil
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("database migrations applied")
	}

	return &stores{
		devices: repositories.NewDeviceRepository(db),
		audit:   repositories.NewAuditRepository(db),
		deps:    map[string]handlers.Pinger{"database": db},
		close:   db.Close,
	}, nil
}

// openCounters returns Redis-backed counters when REDIS_ADDR is set, else in-process ones.
// The Redis client is added to deps for /health.
func openCounters(cfg *config.Config, deps map[string]handlers.Pinger) (counter.Counter, func()) {
	if cfg.Redis.Addr == "" {
		return counter.NewMemoryCounter(cfg.Redis.Retention), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	deps["redis"] = handlers.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	return counter.NewRedisCounter(client, cfg.Redis.Retention), func() { _ = client.Close() }
}

func loadRules(path string, logger *slog.Logger) (*risk.RuleSet, error) {
	rules := risk.DefaultRules()
	if path != "" {
		loaded, err := risk.LoadRuleFile(path)
		if err != nil {
			return nil, err
		}
		rules = loaded
		logger.Info("risk rules loaded from file", slog.String("path", path), slog.Int("rules", len(rules)))
	}
	return risk.NewRuleSet(rules)
}

func buildAlerts(ctx context.Context, cfg *config.Config, logger *slog.Logger) (audit.AlertHandler, error) {
	alerts := audit.MultiAlertHandler{audit.NewLogAlertHandler(logger)}
	if !cfg.Alert.EmailEnabled {
		return alerts, nil
	}

	email, err := audit.NewSESAlertHandler(ctx, cfg.Alert.AWSRegion, audit.EmailAlertConfig{
		From:       cfg.Alert.FromAddress,
		Recipients: cfg.Alert.Recipients,
	}, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("email alerts enabled", slog.Int("recipients", len(cfg.Alert.Recipients)))
	return append(alerts, email), nil
}
