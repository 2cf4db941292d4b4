// Servicio keywarden: ciclo de vida de claves de firma, emisión/verificación
// de tokens y publicación JWKS.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/keywarden/internal/cache"
	"github.com/dropDatabas3/keywarden/internal/config"
	httpx "github.com/dropDatabas3/keywarden/internal/http"
	"github.com/dropDatabas3/keywarden/internal/http/handlers"
	"github.com/dropDatabas3/keywarden/internal/jwkspub"
	"github.com/dropDatabas3/keywarden/internal/keyset"
	"github.com/dropDatabas3/keywarden/internal/metrics"
	"github.com/dropDatabas3/keywarden/internal/observability/logger"
	"github.com/dropDatabas3/keywarden/internal/revocation"
	"github.com/dropDatabas3/keywarden/internal/rotation"
	"github.com/dropDatabas3/keywarden/internal/token"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "ruta del YAML de configuración")
		envFile    = flag.String("env-file", ".env", "archivo .env opcional")
	)
	flag.Parse()

	// .env es opcional: en producción las variables vienen del entorno.
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("servicio terminó con error", logger.Err(err))
	}
	log.Info("servicio terminado")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("main")

	// Respaldo durable del keyset según el driver configurado.
	var durable keyset.Durable
	switch cfg.Keys.Store {
	case "fs":
		fs, err := keyset.NewFSStore(cfg.Keys.FSDir)
		if err != nil {
			return err
		}
		durable = fs
	case "postgres":
		pg, err := keyset.NewPGStore(ctx, cfg.Keys.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		durable = pg
	}

	store := keyset.NewStore(keyset.StoreConfig{
		OverlapWindow: cfg.OverlapWindow(),
		MaxTokenTTL:   cfg.TokenTTL(),
		MaxActiveKeys: cfg.Keys.MaxActiveKeys,
	}, durable)
	if err := store.LoadDurable(ctx); err != nil {
		return err
	}

	factory := keyset.NewFactory(cfg.Keys.Algorithm, cfg.Keys.RSABits)

	cacheClient, err := cache.New(cache.Config{
		Driver:   cfg.Revocation.Driver,
		Addr:     cfg.Revocation.Redis.Addr,
		Password: cfg.Revocation.Redis.Password,
		DB:       cfg.Revocation.Redis.DB,
		Prefix:   cfg.Revocation.Redis.Prefix,
	})
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer func() { _ = cacheClient.Close() }()

	registry := revocation.NewRegistry(
		cacheClient,
		revocation.Policy(cfg.Revocation.FailMode),
		cfg.RevocationTimeout(),
	)

	tokens := token.NewService(token.Config{
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,
		TTL:      cfg.TokenTTL(),
	}, store, registry)

	publisher := jwkspub.NewPublisher(store, 15*time.Second)

	sched := rotation.NewScheduler(rotation.Config{
		RotationInterval: cfg.RotationInterval(),
		SweepInterval:    cfg.SweepInterval(),
	}, store, factory, publisher.Invalidate)

	// Bootstrap síncrono: el servicio no escucha hasta tener clave activa.
	if err := sched.Bootstrap(ctx); err != nil {
		return err
	}

	// Self-check de arranque: una vuelta completa sign→verify contra el
	// keyset real. Si esto no anda, mejor morir ahora que en el primer
	// request.
	issued, err := tokens.Sign(ctx, "boot-selfcheck", nil)
	if err != nil {
		return fmt.Errorf("selfcheck sign: %w", err)
	}
	if _, err := tokens.Verify(ctx, issued.Token); err != nil {
		return fmt.Errorf("selfcheck verify: %w", err)
	}
	log.Info("selfcheck ok", logger.KID(issued.KID), logger.Alg(cfg.Keys.Algorithm))

	router := httpx.NewRouter(publisher,
		handlers.ReadyChecker{Name: "keyset", Check: func(context.Context) error {
			_, err := store.Active()
			return err
		}},
		handlers.ReadyChecker{Name: "revocation", Check: cacheClient.Ping},
	)
	server := httpx.NewServer(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	return g.Wait()
}
