package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"

	"schedulr/internal/config"
	"schedulr/internal/demo"
	"schedulr/internal/docstore"
	"schedulr/internal/docstore/postgres"
	"schedulr/internal/docstore/rpc"
	"schedulr/internal/grpcweb"
	"schedulr/internal/httpapi"
	"schedulr/internal/identity"
	"schedulr/internal/logging"
	"schedulr/internal/metrics"
	"schedulr/internal/middleware"
	"schedulr/internal/pages"
	"schedulr/internal/realtime"
	"schedulr/internal/store"
	"schedulr/internal/telemetry"
	"schedulr/internal/textgen"
)

// backends is what the selected DOCSTORE_BACKEND provides.
type backends struct {
	docs     docstore.Store
	accounts identity.Backend
	closers  []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func main() {
	cfg, err := config.Load()
	logging.New(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	shutdownTelemetry := telemetry.Setup("schedulr")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	be, err := openBackends(ctx, cfg, m)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.DocstoreBackend).Msg("backend")
	}
	defer be.close()

	gen, err := textgen.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatal().Err(err).Msg("textgen")
	}

	prov := identity.NewProvider(be.accounts, cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	deps := pages.Deps{
		Store:     be.docs,
		Accounts:  prov,
		Generator: gen,
		Demo:      demo.MustLoad(time.Local),
		Metrics:   m,
		Location:  time.Local,
	}

	// grpc server
	rl := middleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.Auth(cfg.JWTSecret),
			middleware.Logging(),
			middleware.RateLimit(rl, rpc.CreateMethod, rpc.UpdateMethod),
		),
		grpc.ChainStreamInterceptor(
			middleware.StreamAuth(cfg.JWTSecret),
			middleware.StreamLogging(),
		),
	)
	rpc.Register(srv, rpc.NewServer(be.docs))

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
	go func() {
		log.Info().Str("port", cfg.GRPCPort).Msg("grpc listening")
		if err := srv.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc")
		}
	}()

	// grpc-web bridge forwards browser calls to the grpc listener
	bridge, err := grpcweb.New("localhost:"+cfg.GRPCPort,
		rpc.CreateMethod, rpc.UpdateMethod, rpc.GetMethod, rpc.QueryMethod)
	if err != nil {
		log.Fatal().Err(err).Msg("bridge")
	}
	defer bridge.Close()

	api := httpapi.NewHandler(prov, deps, m, httpapi.Options{
		SecureCookies: os.Getenv("COOKIE_SECURE") == "true",
		RefreshTTL:    cfg.RefreshTokenTTL,
		ViewWait:      cfg.ViewWait,
		Limit:         rl.Limit,
	})
	live := realtime.NewServer(deps, prov, m, cfg.ViewWait)

	mux := http.NewServeMux()
	mux.Handle("/", api.Routes())
	mux.Handle(realtime.Prefix+"/", live.Handler())
	mux.Handle("/"+rpc.ServiceName+"/", bridge.Handler())

	httpSrv := &http.Server{
		Addr:              ":" + cfg.WebPort,
		Handler:           otelhttp.NewHandler(httpapi.Logging(m)(mux), "schedulr"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.WebPort).Msg("http listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	srv.GracefulStop()
}

func openBackends(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*backends, error) {
	switch cfg.DocstoreBackend {
	case "memory":
		mem := docstore.NewMemory(m)
		log.Warn().Msg("using in-memory document store; data is lost on restart")
		return &backends{docs: mem, accounts: identity.NewMemoryBackend(), closers: []func(){mem.Close}}, nil

	case "postgres", "remote":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		log.Info().Msg("connected to postgres")

		users := store.New(pool)
		if err := users.Migrate(ctx, cfg.MigrationsPath); err != nil {
			log.Warn().Err(err).Str("path", cfg.MigrationsPath).Msg("migration skipped")
		}
		be := &backends{accounts: users, closers: []func(){pool.Close}}

		if cfg.DocstoreBackend == "remote" {
			if cfg.DocstoreAddr == "" {
				be.close()
				return nil, errors.New("DOCSTORE_ADDR is required for the remote backend")
			}
			client, err := rpc.Dial(cfg.DocstoreAddr, rpc.SignedTokens(cfg.JWTSecret, time.Minute))
			if err != nil {
				be.close()
				return nil, fmt.Errorf("docstore dial: %w", err)
			}
			be.docs = client
			be.closers = append(be.closers, func() { _ = client.Close() })
			return be, nil
		}

		docs := postgres.New(pool, m)
		go func() {
			if err := docs.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("docstore listen")
			}
		}()
		be.docs = docs
		be.closers = append(be.closers, docs.Close)
		return be, nil
	}
	return nil, fmt.Errorf("unknown docstore backend %q", cfg.DocstoreBackend)
}
