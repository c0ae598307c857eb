package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/go-chi/cors"
	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fndparking/admin/internal/config"
	"github.com/fndparking/admin/internal/events"
	"github.com/fndparking/admin/internal/handlers"
	appMiddleware "github.com/fndparking/admin/internal/middleware"
	"github.com/fndparking/admin/internal/services"
	"github.com/fndparking/admin/internal/storage"
	"github.com/fndparking/admin/internal/telemetry"
	"github.com/fndparking/admin/pkg/logger"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Environment: cfg.App.Environment,
	})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.New(ctx, cfg.Otel, cfg.App)
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.Background())

	// Firebase Admin SDK: Firestore, ID token verification, account sync
	var (
		fbApp      *firebase.App
		authClient *auth.Client
	)
	if cfg.Store.Driver == config.DriverFirestore || cfg.Firebase.WebAPIKey != "" ||
		cfg.Firebase.AcceptIDTokens || cfg.Firebase.DisableAccounts {
		fbApp, err = appMiddleware.NewFirebaseApp(ctx, appMiddleware.FirebaseConfig{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
			CredentialsJSON: cfg.Firebase.CredentialsJSON,
		})
		if err != nil {
			return err
		}
		authClient, err = appMiddleware.NewFirebaseAuthClient(ctx, fbApp)
		if err != nil {
			log.Warn().Err(err).Msg("Firebase Auth unavailable")
		}
	}

	rawStore, err := openStore(ctx, cfg, fbApp, log)
	if err != nil {
		return err
	}
	store := storage.Instrument(rawStore, cfg.Store.Timeout, tel.Tracer)
	defer store.Close()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = newRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	publisher, err := newPublisher(cfg.NATS, log)
	if err != nil {
		return err
	}
	defer publisher.Close()

	authenticator, err := newAuthenticator(ctx, cfg, authClient)
	if err != nil {
		return err
	}
	var revoker services.SessionRevoker = services.NewMemoryRevoker()
	if rdb != nil {
		revoker = services.NewRedisRevoker(rdb)
	}
	authService := services.NewAuthService(authenticator, revoker, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	var accounts services.AccountUpdater
	if cfg.Firebase.DisableAccounts && authClient != nil {
		accounts = authClient
	}
	sessions := services.NewSessions(services.DashboardDeps{
		Users:   services.NewUserService(store, accounts, log),
		Spots:   services.NewParkingSpotService(store, log),
		Reports: services.NewFraudReportService(store, log),
		Events:  publisher,
		Log:     log,
	})
	defer sessions.CloseAll()
	go sessions.RunSweeper(ctx, cfg.Auth.SweepInterval, cfg.Auth.SessionIdle)

	var idTokens appMiddleware.IDTokenVerifier
	if cfg.Firebase.AcceptIDTokens && authClient != nil {
		idTokens = authClient
	}

	loginLimiter := appMiddleware.NewRateLimiter(rdb, appMiddleware.RateLimitConfig{
		Limit: redis_rate.Limit{
			Rate:   cfg.RateLimit.LoginRequests,
			Burst:  cfg.RateLimit.Burst,
			Period: cfg.RateLimit.Window,
		},
	}, log)

	router := handlers.NewRouter(handlers.RouterConfig{
		Auth:         authService,
		Sessions:     sessions,
		IDTokens:     idTokens,
		LoginLimiter: loginLimiter,
		Health:       handlers.NewHealthHandler(cfg.App.Version, healthChecks(store, rdb)),
		CORS: cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		},
		Log: log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("store", cfg.Store.Driver).
			Str("environment", cfg.App.Environment).
			Msg("FndParking admin API starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// Open event streams only end once their dashboards close.
	sessions.CloseAll()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config, app *firebase.App, log zerolog.Logger) (storage.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverFirestore:
		return storage.NewFirestoreStore(ctx, app, log)
	case config.DriverMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return storage.NewMongoStore(connectCtx, cfg.Mongo.URI, cfg.Mongo.Database, log)
	default:
		if cfg.Store.DataFile != "" {
			log.Info().Str("file", cfg.Store.DataFile).Msg("using file-backed memory store")
			return storage.NewFileBackedMemoryStore(cfg.Store.DataFile)
		}
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return storage.NewMemoryStore(), nil
	}
}

func newRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func newPublisher(cfg config.NATSConfig, log zerolog.Logger) (events.Publisher, error) {
	if cfg.URL == "" {
		return events.NoopPublisher{}, nil
	}
	return events.NewNATSPublisher(cfg.URL, cfg.SubjectPrefix, log)
}

func newAuthenticator(ctx context.Context, cfg *config.Config, authClient *auth.Client) (services.Authenticator, error) {
	if cfg.Firebase.WebAPIKey != "" {
		var users services.UserLookup
		if authClient != nil {
			users = authClient
		}
		return services.NewFirebasePasswordAuthenticator(ctx, cfg.Firebase.WebAPIKey, users)
	}
	return services.NewStaticAuthenticator(cfg.Auth.AdminEmail, cfg.Auth.AdminPasswordHash, cfg.Auth.AdminName), nil
}

func healthChecks(store storage.Store, rdb *redis.Client) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		// A missing document still proves the store answered.
		"store": func(ctx context.Context) error {
			_, err := store.Get(ctx, storage.CollectionUsers, "__health__")
			if err == nil || errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			return err
		},
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	return checks
}
