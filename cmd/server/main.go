// Command server runs the warden authentication service: OAuth login,
// session and refresh-token lifecycle, TOTP second factor, and API keys,
// exposed over HTTP. Configuration comes from the environment; with no
// DATABASE_URL it runs entirely in memory.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	apikeyhandler "warden/internal/apikey/handler"
	apikeymetrics "warden/internal/apikey/metrics"
	apikeyservice "warden/internal/apikey/service"
	keyStore "warden/internal/apikey/store/key"
	"warden/internal/auth/device"
	authhandler "warden/internal/auth/handler"
	authmetrics "warden/internal/auth/metrics"
	authservice "warden/internal/auth/service"
	oauthAccountStore "warden/internal/auth/store/oauth-account"
	refreshTokenStore "warden/internal/auth/store/refresh-token"
	sessionStore "warden/internal/auth/store/session"
	userStore "warden/internal/auth/store/user"
	"warden/internal/crypto"
	mfahandler "warden/internal/mfa/handler"
	mfametrics "warden/internal/mfa/metrics"
	mfaservice "warden/internal/mfa/service"
	secretStore "warden/internal/mfa/store/secret"
	"warden/internal/pkce"
	"warden/internal/platform/config"
	"warden/internal/platform/httpserver"
	"warden/internal/platform/kafka"
	"warden/internal/platform/logger"
	"warden/internal/platform/middleware"
	"warden/internal/platform/otel"
	"warden/internal/platform/postgres"
	redisplatform "warden/internal/platform/redis"
	"warden/internal/provider"
	lockout "warden/internal/ratelimit/service/lockout"
	lockoutStore "warden/internal/ratelimit/store/lockout"
	auditpublisher "warden/pkg/platform/audit/publisher"
	kafkasink "warden/pkg/platform/audit/sink/kafka"
	auditmemory "warden/pkg/platform/audit/store/memory"
	auditpostgres "warden/pkg/platform/audit/store/postgres"
	"warden/pkg/platform/httputil"
	adminmw "warden/pkg/platform/middleware/admin"
	"warden/pkg/platform/middleware/metadata"
	"warden/pkg/platform/middleware/request"
	"warden/pkg/platform/middleware/requesttime"
	tenantmw "warden/pkg/platform/middleware/tenant"
	"warden/pkg/platform/tx"
	"warden/pkg/requestcontext"
)

func main() {
	if err := run(context.Background()); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	shutdownTracing, err := otel.Setup(ctx, cfg.Otel)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	keyring, err := crypto.NewKeyring(cfg.Crypto.MasterKey)
	if err != nil {
		return fmt.Errorf("keyring: %w", err)
	}

	var (
		db         *sql.DB
		runner     tx.Runner
		users      authservice.UserStore
		directory  mfahandler.UserDirectory
		accounts   authservice.OAuthAccountStore
		sessions   authservice.SessionStore
		verifier   mfaservice.SessionVerifier
		tokens     authservice.RefreshTokenStore
		secrets    mfaservice.SecretStore
		keys       apikeyservice.Store
		auditStore auditpublisher.Store
	)
	if cfg.Postgres.DSN != "" {
		db, err = postgres.Open(cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}

		runner = tx.NewSQLRunner(db)
		pgUsers := userStore.NewPostgres(db)
		users, directory = pgUsers, pgUsers
		accounts = oauthAccountStore.NewPostgres(db)
		pgSessions := sessionStore.NewPostgres(db)
		sessions, verifier = pgSessions, pgSessions
		tokens = refreshTokenStore.NewPostgres(db)
		secrets = secretStore.NewPostgres(db)
		keys = keyStore.NewPostgres(db)
		auditStore = auditpostgres.New(db)
	} else {
		log.Warn("DATABASE_URL not set, state lives in memory and dies with the process")
		runner = tx.NewMemoryRunner()
		memUsers := userStore.New()
		users, directory = memUsers, memUsers
		accounts = oauthAccountStore.New()
		memSessions := sessionStore.New()
		sessions, verifier = memSessions, memSessions
		tokens = refreshTokenStore.New()
		secrets = secretStore.New()
		keys = keyStore.New()
		auditStore = auditmemory.NewInMemoryStore()
	}

	publisherOpts := []auditpublisher.Option{auditpublisher.WithAsyncBuffer(1024)}
	kafkaClient, err := kafka.NewClient(cfg.Kafka)
	if err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	if kafkaClient != nil {
		defer kafkaClient.Close()
		sink := kafkasink.New(kafkaClient,
			kafkasink.WithTopicPrefix(cfg.Kafka.TopicPrefix),
			kafkasink.WithLogger(log),
		)
		if err := kafka.EnsureTopics(ctx, kafkaClient, sink.Topics()...); err != nil {
			return fmt.Errorf("kafka topics: %w", err)
		}
		publisherOpts = append(publisherOpts, auditpublisher.WithSink(sink))
		log.Info("audit events fan out to kafka", "brokers", cfg.Kafka.Brokers)
	}
	auditPub := auditpublisher.NewPublisher(auditStore, publisherOpts...)
	defer auditPub.Close()

	var limiterStore lockout.Store
	redisClient, err := redisplatform.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		limiterStore = lockoutStore.NewRedis(redisClient.Client)
	} else {
		log.Warn("REDIS_URL not set, lockout counters are per-instance")
		limiterStore = lockoutStore.New()
	}
	limiter, err := lockout.New(limiterStore,
		lockout.WithLogger(log),
		lockout.WithPolicy(lockout.Policy{
			MaxFailures:  cfg.MFA.LockoutThreshold,
			Window:       cfg.MFA.LockoutWindow,
			LockDuration: cfg.MFA.LockoutDuration,
		}),
	)
	if err != nil {
		return fmt.Errorf("lockout: %w", err)
	}

	registry := provider.FromConfig(cfg.Providers)
	if len(registry.Names()) == 0 {
		log.Warn("no oauth providers configured, every login will fail")
	}

	mfaSvc := mfaservice.New(keyring, runner, secrets, verifier,
		mfaservice.WithLogger(log),
		mfaservice.WithAuditPublisher(auditPub),
		mfaservice.WithMetrics(mfametrics.New()),
		mfaservice.WithLockout(limiter),
		mfaservice.WithIssuer(cfg.MFA.Issuer),
	)
	authSvc := authservice.New(
		registry,
		pkce.NewCodec(keyring),
		keyring,
		runner,
		users,
		accounts,
		sessions,
		tokens,
		mfaSvc,
		authservice.WithLogger(log),
		authservice.WithAuditPublisher(auditPub),
		authservice.WithMetrics(authmetrics.New()),
		authservice.WithDeviceService(device.NewService(true)),
		authservice.WithSessionTTL(cfg.Session.TTL),
		authservice.WithRefreshTTL(cfg.Session.RefreshTTL),
	)
	keySvc := apikeyservice.New(keyring, keys,
		apikeyservice.WithLogger(log),
		apikeyservice.WithAuditPublisher(auditPub),
		apikeyservice.WithMetrics(apikeymetrics.New()),
	)

	sessionGate := middleware.RequireSession(authhandler.NewSessionAuthenticator(authSvc), log)
	verifiedGate := middleware.RequireVerified(log)

	r := chi.NewRouter()
	r.Use(request.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Route("/auth", func(r chi.Router) {
		r.Use(tenantmw.Resolve(cfg.Tenant.HeaderName, cfg.Tenant.DefaultID, log))
		authhandler.New(authSvc, log,
			authhandler.WithRefreshCookieTTL(cfg.Session.RefreshTTL),
		).Register(r, sessionGate)
		mfahandler.New(mfaSvc, directory, log).Register(r, sessionGate, verifiedGate)
		apikeyhandler.New(keySvc, log).Register(r, sessionGate, verifiedGate)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAPIKeyOrSession(
			authhandler.NewSessionAuthenticator(authSvc),
			apikeyhandler.NewAPIKeyAuthenticator(keySvc),
			log,
		))
		r.Get("/whoami", handleWhoami())
	})
	r.Group(func(r chi.Router) {
		r.Use(adminmw.RequireOpsToken(cfg.Server.OpsToken, log))
		r.Handle("/metrics", promhttp.Handler())
	})
	r.Get("/healthz", handleHealthz(db))

	srv := httpserver.New(cfg.Server, r)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(drainCtx)
	})
	g.Go(func() error {
		sweepExpired(ctx, authSvc, cfg.Session.SweepInterval, log)
		return nil
	})
	return g.Wait()
}

// handleHealthz reports liveness. With postgres configured it also pings
// the pool, so a dying database turns the instance unhealthy at the load
// balancer instead of at the first login.
func handleHealthz(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(pingCtx); err != nil {
				httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleWhoami reports the authenticated principal behind the
// session-or-key gate. Machine callers use it to check that a stored key
// still works before doing real work with it.
func handleWhoami() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		resp := map[string]any{
			"user_id":  requestcontext.UserID(ctx).String(),
			"verified": requestcontext.MFAVerified(ctx),
		}
		if tenantID := requestcontext.TenantID(ctx); !tenantID.IsNil() {
			resp["tenant_id"] = tenantID.String()
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

// sweepExpired deletes expired refresh tokens and sessions on a timer.
// Expired rows already read as dead, so the sweep is hygiene for the
// tables rather than a correctness requirement.
func sweepExpired(ctx context.Context, auth *authservice.Service, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tokens, sessions, err := auth.SweepExpired(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				log.WarnContext(ctx, "sweep failed", "error", err)
				continue
			}
			if tokens > 0 || sessions > 0 {
				log.InfoContext(ctx, "swept expired credentials",
					"refresh_tokens", tokens,
					"sessions", sessions,
				)
			}
		}
	}
}
