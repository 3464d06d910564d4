package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/ledgerd/go-sql-ledger/internal/app/core/adapter/in/httpapi"
	memstore "github.com/ledgerd/go-sql-ledger/internal/app/core/adapter/out/memory"
	sqlstore "github.com/ledgerd/go-sql-ledger/internal/app/core/adapter/out/mysql"
	rediscache "github.com/ledgerd/go-sql-ledger/internal/app/core/adapter/out/redis"
	"github.com/ledgerd/go-sql-ledger/internal/app/core/usecase"
	"github.com/ledgerd/go-sql-ledger/pkg/mysql"
	"github.com/ledgerd/go-sql-ledger/pkg/wal"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Store struct {
		// Backend selects where balances live: "mysql" or "memory"
		// (memory is seeded from MySQL and journaled via the WAL).
		Backend string `yaml:"backend"`
		WALPath string `yaml:"wal_path"`
		Migrate bool   `yaml:"migrate"`
	} `yaml:"store"`

	Transfer struct {
		// ReadStrategy picks how the pre-write lookups run:
		// "sequential" or "concurrent".
		ReadStrategy string `yaml:"read_strategy"`
	} `yaml:"transfer"`

	MySQL mysql.Config `yaml:"mysql"`

	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func main() {
	cfg := loadConfig()

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.DefaultContextLogger = &log.Logger

	ctx := context.Background()

	dbClient, err := mysql.NewClient(cfg.MySQL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mysql")
	}
	defer dbClient.Close()
	log.Info().Msg("connected to mysql")

	store := sqlstore.NewStore(dbClient)
	if cfg.Store.Migrate {
		if err := store.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate schema")
		}
	}

	var (
		accounts  usecase.AccountStore
		transfers usecase.TransferStore
		atomic    usecase.AtomicRunner
	)
	switch cfg.Store.Backend {
	case "mysql":
		accounts, transfers, atomic = store, store, store
	case "memory":
		seed, err := store.LoadAllAccounts(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load accounts")
		}
		log.Info().Int("count", len(seed)).Msg("loaded accounts")

		journal, err := wal.Open(cfg.Store.WALPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open wal")
		}
		defer journal.Close()

		memStore, err := memstore.NewStore(seed, journal)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init memory store")
		}
		accounts, transfers, atomic = memStore, memStore, memStore
	default:
		log.Fatal().Str("backend", cfg.Store.Backend).Msg("invalid store backend")
	}

	ledger := usecase.NewLedger(accounts, transfers, atomic)

	var transfer httpapi.TransferFunc
	switch cfg.Transfer.ReadStrategy {
	case "concurrent":
		transfer = ledger.TransferParallel
	case "", "sequential":
		transfer = ledger.Transfer
	default:
		log.Fatal().Str("read_strategy", cfg.Transfer.ReadStrategy).Msg("invalid read strategy")
	}

	var cache httpapi.ResponseCache
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, idempotency response cache disabled")
		} else {
			cache = rediscache.NewResponseCache(rdb)
			log.Info().Msg("connected to redis")
		}
	}

	server := httpapi.NewServer(ledger, transfer)
	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Routes(cache),
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to serve")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
	log.Info().Msg("server exited")
}

func loadConfig() Config {
	cfgData, err := os.ReadFile("config/config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read config file")
	}
	var cfg Config
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to parse config")
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "mysql"
	}
	if cfg.Store.WALPath == "" {
		cfg.Store.WALPath = "wal.log"
	}
	if cfg.MySQL.MaxOpenConns == 0 {
		cfg.MySQL.MaxOpenConns = 100
	}
	if cfg.MySQL.MaxIdleConns == 0 {
		cfg.MySQL.MaxIdleConns = 10
	}
	if cfg.MySQL.ConnMaxLifetime == 0 {
		cfg.MySQL.ConnMaxLifetime = 30 * time.Minute
	}
	return cfg
}
