package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/firmdesk/firmdesk/internal/featureflags"
	"github.com/firmdesk/firmdesk/internal/handler"
	"github.com/firmdesk/firmdesk/internal/idempotency"
	"github.com/firmdesk/firmdesk/internal/infrastructure/logger"
	redisinfra "github.com/firmdesk/firmdesk/internal/infrastructure/redis"
	"github.com/firmdesk/firmdesk/internal/notify"
	"github.com/firmdesk/firmdesk/internal/observability/metrics"
	"github.com/firmdesk/firmdesk/internal/observability/tracing"
	"github.com/firmdesk/firmdesk/internal/repository"
	"github.com/firmdesk/firmdesk/internal/security/audit"
	"github.com/firmdesk/firmdesk/internal/security/auth"
	"github.com/firmdesk/firmdesk/internal/security/middleware"
	"github.com/firmdesk/firmdesk/internal/security/policy"
	"github.com/firmdesk/firmdesk/internal/security/ratelimit"
	"github.com/firmdesk/firmdesk/internal/service"
	"github.com/firmdesk/firmdesk/internal/worker"
	"github.com/firmdesk/firmdesk/pkg/config"
	"github.com/firmdesk/firmdesk/pkg/database"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting FirmDesk server", slog.String("environment", cfg.Environment))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize tracing (no-op without an OTLP endpoint)
	shutdownTracing, err := tracing.Init(ctx, log, "firmdesk", cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Initialize Postgres
	pool, err := database.NewConnectionPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to connect to Postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	runner := database.NewRunner(pool.GetDB(), log)

	// 5. Initialize Redis (optional: idempotency falls back to memory)
	var idemStore idempotency.Store
	var memStore *idempotency.MemoryStore
	var redisClient *redisinfra.Client
	if cfg.RedisURL != "" {
		redisClient, err = redisinfra.NewClient(cfg.RedisURL)
		if err != nil {
			log.Error("failed to connect to Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer redisClient.Close()
		idemStore = idempotency.NewRedisStore(redisClient.Raw())
	} else {
		log.Warn("REDIS_URL not set, idempotency records held in memory")
		memStore = idempotency.NewMemoryStore(0)
		idemStore = memStore
	}

	// 6. Initialize repositories
	firmRepo := repository.NewCachedFirmRepository(repository.NewPostgresFirmRepository(pool.GetDB(), log))
	clientRepo := repository.NewPostgresClientRepository(pool.GetDB(), log)
	userRepo := repository.NewPostgresUserRepository(pool.GetDB(), log)
	auditRepo := repository.NewPostgresAuditRepository(pool.GetDB(), log)
	seq := repository.NewSequenceGenerator(log)

	// 7. Initialize cross-cutting components
	tokenManager := auth.NewTokenManager(
		cfg.JWTSecret,
		cfg.JWTIssuer,
		time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute,
		time.Duration(cfg.RefreshTokenTTLHours)*time.Hour,
	)
	recorder := audit.NewRecorder(auditRepo, log)
	notifier := notify.NewNotifier(&notify.LogSender{Logger: log}, cfg.NotifyQueueSize, log)
	go notifier.Start(ctx)
	flags := featureflags.New()
	loginLimiter := ratelimit.NewLimiter(cfg.LoginRatePerSecond, cfg.LoginRateBurst)

	// 8. Initialize services
	bootstrapService := service.NewFirmBootstrapService(
		runner, firmRepo, clientRepo, userRepo, seq, notifier, recorder, cfg.OperatorEmail, log)
	authService := service.NewAuthService(
		runner, userRepo, firmRepo, tokenManager, notifier, recorder,
		cfg.SuperadminEmail, cfg.SuperadminPasswordHash, log)

	// 9. Initialize handlers
	authHandler := handler.NewAuthHandler(authService, log)
	firmHandler := handler.NewFirmHandler(bootstrapService, log)
	auditHandler := handler.NewAuditHandler(auditRepo, recorder, flags, cfg.CORSAllowedOrigins, log)
	healthHandler := handler.NewHealthHandler(pool.GetDB(), rawRedis(redisClient), log)

	// 10. Routes
	superadmin := middleware.RequirePolicy(policy.SuperadminOnly(), nil)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler.Health)
	mux.HandleFunc("GET /readyz", healthHandler.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /api/auth/login", rateLimited(loginLimiter, http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /api/auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /api/auth/set-password", authHandler.SetPassword)
	mux.HandleFunc("POST /api/auth/change-password", authHandler.ChangePassword)
	mux.HandleFunc("POST /api/auth/reset-password", authHandler.ResetPassword)
	mux.HandleFunc("GET /api/auth/profile", authHandler.Profile)

	mux.Handle("POST /api/superadmin/firms", superadmin(http.HandlerFunc(firmHandler.CreateFirm)))
	mux.Handle("PATCH /api/superadmin/firms/{firmId}/status", superadmin(http.HandlerFunc(firmHandler.SetStatus)))
	mux.Handle("POST /api/superadmin/firms/{firmId}/admin", superadmin(http.HandlerFunc(firmHandler.AddAdmin)))
	mux.Handle("GET /api/superadmin/audit", superadmin(http.HandlerFunc(auditHandler.List)))
	mux.Handle("GET /ws/superadmin/audit", superadmin(http.HandlerFunc(auditHandler.Stream)))

	// CORS honoring configured origins
	handlerWithCORS := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if originAllowed(cfg.CORSAllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else if len(cfg.CORSAllowedOrigins) > 0 {
			w.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowedOrigins[0])
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, Idempotency-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		mux.ServeHTTP(w, r)
	})

	// Chain: request ID -> metrics -> auth -> content type -> body cap ->
	// idempotency -> invariants -> CORS+routes
	chained := withRequestID(
		metrics.HTTPMetricsMiddleware(
			middleware.AuthPipeline(tokenManager, userRepo, firmRepo, recorder, log)(
				middleware.ValidateJSONContentType(log)(
					middleware.MaxBodyBytes(cfg.MaxBodyBytes)(
						middleware.IdempotencyGuard(idemStore, time.Duration(cfg.IdempotencyTTLHours)*time.Hour, log)(
							middleware.InvariantGuard(log)(handlerWithCORS),
						),
					),
				),
			),
		),
		log,
	)
	rootHandler := otelhttp.NewHandler(chained, "firmdesk.http")

	// 11. Maintenance worker (on unless explicitly disabled via flag override)
	tasks := []worker.Task{
		worker.TaskFunc{
			TaskName: "lock_sweep",
			Fn:       userRepo.ClearExpiredLocks,
		},
	}
	if memStore != nil {
		tasks = append(tasks, worker.TaskFunc{
			TaskName: "idempotency_sweep",
			Fn: func(ctx context.Context) (int, error) {
				return memStore.SweepExpired(), nil
			},
		})
	}
	if flags.Enabled(featureflags.MaintenanceWorker) {
		maintenance := worker.NewMaintenanceWorker(log,
			time.Duration(cfg.MaintenanceIntervalMinutes)*time.Minute, tasks...)
		go maintenance.Start(ctx)
	}

	// 12. Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      rootHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting", slog.Int("port", cfg.ServerPort))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	loginLimiter.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}

type requestIDKey struct{}

// withRequestID attaches a request ID to the context and response headers for traceability
func withRequestID(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := generateRequestID()
		w.Header().Set("X-Request-ID", reqID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		log.Info("request completed",
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration_ms", time.Since(start)),
		)
	})
}

// rateLimited throttles by client address, keyed per forwarded IP.
func rateLimited(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Forwarded-For")
		if key == "" {
			key = r.RemoteAddr
		}
		if !limiter.Allow(key) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"message":"too many login attempts"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rawRedis unwraps the optional Redis client for the readiness probe.
func rawRedis(c *redisinfra.Client) *redis.Client {
	if c == nil {
		return nil
	}
	return c.Raw()
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func generateRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
