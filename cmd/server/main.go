package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"semaphore/auth-core/internal/auth"
	"semaphore/auth-core/internal/cache"
	"semaphore/auth-core/internal/config"
	"semaphore/auth-core/internal/crypto"
	"semaphore/auth-core/internal/db"
	"semaphore/auth-core/internal/events"
	internalgrpc "semaphore/auth-core/internal/grpc"
	internalhttp "semaphore/auth-core/internal/http"
	"semaphore/auth-core/internal/identity"
	"semaphore/auth-core/internal/jobs"
	"semaphore/auth-core/internal/logging"
	"semaphore/auth-core/internal/metrics"
	"semaphore/auth-core/internal/ratelimit"
	"semaphore/auth-core/internal/repository"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "auth-core",
		Short:         "Authentication and account service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP and gRPC servers",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve()
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the database schema",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "hash-password",
			Short: "Print an argon2id digest for a password read from stdin",
			RunE: func(cmd *cobra.Command, args []string) error {
				return hashPassword(cmd)
			},
		},
		&cobra.Command{
			Use:   "flush-cache",
			Short: "Drop cached user records from Redis",
			RunE: func(cmd *cobra.Command, args []string) error {
				return flushCache(cmd)
			},
		},
	)
	return cmd
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func serve() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	var store repository.Store
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		store = repository.NewMemoryStore()
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connection failed: %w", err)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
		store = repository.NewPostgresStore(pool)
	}

	var limiter *ratelimit.Limiter
	if rdb := openRedis(ctx, cfg, logger); rdb != nil {
		defer rdb.Close()
		store = repository.NewCachedStore(store, cache.New(rdb, cfg.CachePrefix, cfg.CacheTTL), logger, m)
		limiter = ratelimit.New(rdb, ratelimit.Config{
			Requests: cfg.RateLimitRequests,
			Window:   cfg.RateLimitWindow,
			Prefix:   cfg.CachePrefix,
		})
	}

	hasher, err := crypto.NewArgon2(crypto.PasswordParams{
		MemoryKiB:   cfg.PasswordMemoryKiB,
		Time:        cfg.PasswordTime,
		Parallelism: cfg.PasswordParallelism,
		SaltLength:  crypto.DefaultPasswordParams().SaltLength,
		KeyLength:   crypto.DefaultPasswordParams().KeyLength,
	})
	if err != nil {
		return fmt.Errorf("password hasher: %w", err)
	}
	params := hasher.Params()
	logger.Info("password hashing configured", "memory_kib", params.MemoryKiB, "time", params.Time, "parallelism", params.Parallelism)
	hashPool := crypto.NewPool(hasher, cfg.HashWorkers, m)

	codec, err := auth.NewCodec(auth.CodecConfig{
		Algorithm:     cfg.JWTAlgorithm,
		Secret:        cfg.JWTSecret,
		PrivateKeyPEM: cfg.JWTPrivateKey,
		Issuer:        cfg.JWTIssuer,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}
	logger.Info("token codec configured", "algorithm", cfg.JWTAlgorithm, "access_ttl", codec.AccessTTL(), "refresh_ttl", codec.RefreshTTL())

	var publisher events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.Name("auth-core"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("nats disconnected", "error", err)
				}
			}),
			nats.ReconnectHandler(func(conn *nats.Conn) {
				logger.Info("nats reconnected", "url", conn.ConnectedUrl())
			}),
		)
		if err != nil {
			return fmt.Errorf("nats connection failed: %w", err)
		}
		defer nc.Drain()
		publisher = events.NewNATSPublisher(nc, events.DefaultSubjectPrefix)
	}
	dispatcher := jobs.NewDispatcher(publisher, jobs.DispatcherConfig{
		Workers:   cfg.EventWorkers,
		QueueSize: cfg.EventQueueSize,
	}, logger, m)
	dispatcher.Start()

	authenticator := identity.NewAuthenticator(store, hashPool, codec, logger)
	accounts := identity.NewAccounts(store, hashPool, dispatcher, logger)

	server := internalhttp.NewServer(cfg, internalhttp.Deps{
		Authenticator: authenticator,
		Accounts:      accounts,
		Codec:         codec,
		Store:         store,
		Limiter:       limiter,
		Metrics:       m,
		Logger:        logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, err := internalgrpc.NewServer(internalgrpc.NewIdentityServer(store, codec), cfg.ServiceAuthToken, logger)
	if err != nil {
		return err
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	jobs.StartHealthProbe(ctx, jobs.HealthProbeConfig{Interval: cfg.HealthProbeInterval}, store, func(healthy bool) {
		m.SetStoreUp(healthy)
		grpcServer.SetServing(healthy)
	}, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("auth-core listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("grpc server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server stopped", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.GracefulStop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.Warn("event dispatcher did not drain", "error", err)
	}
	return nil
}

// openRedis returns nil when Redis is not configured or not reachable at
// startup; caching and rate limiting are then disabled.
func openRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable; cache and rate limiting disabled", "addr", cfg.RedisAddr, "error", err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}

func migrate(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connection failed: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}

func hashPassword(cmd *cobra.Command) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	hasher, err := crypto.NewArgon2(crypto.PasswordParams{
		MemoryKiB:   cfg.PasswordMemoryKiB,
		Time:        cfg.PasswordTime,
		Parallelism: cfg.PasswordParallelism,
		SaltLength:  crypto.DefaultPasswordParams().SaltLength,
		KeyLength:   crypto.DefaultPasswordParams().KeyLength,
	})
	if err != nil {
		return err
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	digest, err := hasher.Hash(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), digest)
	return nil
}

func flushCache(cmd *cobra.Command) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rdb := openRedis(ctx, cfg, logger)
	if rdb == nil {
		return errors.New("redis is not configured or unreachable")
	}
	defer rdb.Close()
	removed, err := cache.New(rdb, cfg.CachePrefix, cfg.CacheTTL).ClearPattern(ctx, repository.UserCachePattern)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached users\n", removed)
	return nil
}
