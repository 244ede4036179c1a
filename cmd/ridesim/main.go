// README: Entry point; loads config, opens the ledger, and runs the simulation with an optional status API.
package main

import (
	"context"
	"flag"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"ridesim/internal/config"
	httptransport "ridesim/internal/http"
	"ridesim/internal/infra"
	"ridesim/internal/modules/carpool"
	"ridesim/internal/modules/ledger"
	"ridesim/internal/modules/person"
	"ridesim/internal/modules/simulator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", "err", err)
	}
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "data directory holding users/ and the ledger")
	flag.StringVar(&cfg.ServiceURL, "url", cfg.ServiceURL, "matching service base URL")
	flag.StringVar(&cfg.Status.Addr, "status", cfg.Status.Addr, "status API listen address, empty to disable")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: ridesim [flags] [dataDirectory [remoteServiceURL]]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() > 0 {
		cfg.DataDir = flag.Arg(0)
	}
	if flag.NArg() > 1 {
		cfg.ServiceURL = flag.Arg(1)
	}

	logger := infra.NewLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	usersDir := filepath.Join(cfg.DataDir, "users")
	persons, err := person.NewStore(usersDir).LoadAll()
	if err != nil {
		logger.Fatal("load persons", "dir", usersDir, "err", err)
	}
	if len(persons) == 0 {
		logger.Fatal("no persons to simulate, create some with peoplegen", "dir", usersDir)
	}

	store, err := openLedger(ctx, cfg)
	if err != nil {
		logger.Fatal("open ledger", "backend", cfg.Ledger.Backend, "err", err)
	}

	client, err := carpool.NewClient(cfg.ServiceURL, cfg.HTTP.Timeout, logger.WithPrefix("carpool"))
	if err != nil {
		_ = store.Close()
		logger.Fatal("matching service client", "err", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	sim := simulator.New(cfg.Simulation, persons, store, client, logger,
		simulator.WithRand(rand.New(rand.NewPCG(seed, seed>>1))))
	if err := sim.Load(ctx); err != nil {
		_ = store.Close()
		logger.Fatal("load simulation state", "err", err)
	}

	if cfg.Status.Addr != "" {
		status := httptransport.NewServer(cfg.Status.Addr, sim, logger)
		go func() {
			if err := status.Run(ctx); err != nil {
				logger.Error("status api stopped", "err", err)
			}
		}()
	}

	logger.Info("simulating", "persons", len(persons), "service", cfg.ServiceURL, "ledger", cfg.Ledger.Backend, "seed", seed)
	runErr := sim.Run(ctx)
	if err := store.Close(); err != nil {
		logger.Error("close ledger", "err", err)
	}
	if runErr != nil {
		logger.Error("simulation failed", "err", runErr)
		os.Exit(1)
	}
}

func openLedger(ctx context.Context, cfg config.Config) (ledger.Store, error) {
	switch cfg.Ledger.Backend {
	case config.LedgerRedis:
		client, err := infra.NewRedis(ctx, cfg.Ledger.RedisAddr)
		if err != nil {
			return nil, err
		}
		return ledger.NewRedisStore(client, cfg.Ledger.RedisPrefix), nil
	case config.LedgerPostgres:
		pool, err := infra.NewDB(ctx, cfg.Ledger.DSN)
		if err != nil {
			return nil, err
		}
		return ledger.NewPostgresStore(ctx, pool)
	default:
		db, err := infra.NewSQLite(filepath.Join(cfg.DataDir, "state.db"))
		if err != nil {
			return nil, err
		}
		return ledger.NewSQLiteStore(ctx, db)
	}
}
