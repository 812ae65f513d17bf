// Command server wires the custodia services behind the HTTP transport.
// Business logic lives in the internal service packages; main only builds
// the dependency graph and owns the process lifecycle.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"custodia/internal/audit"
	batchmetrics "custodia/internal/batch/metrics"
	batchservice "custodia/internal/batch/service"
	batchstore "custodia/internal/batch/store"
	"custodia/internal/collaborator"
	itemmetrics "custodia/internal/item/metrics"
	itemservice "custodia/internal/item/service"
	itemstore "custodia/internal/item/store"
	jwttoken "custodia/internal/jwt_token"
	ledgermetrics "custodia/internal/ledger/metrics"
	ledgerservice "custodia/internal/ledger/service"
	ledgerstore "custodia/internal/ledger/store"
	"custodia/internal/platform/config"
	"custodia/internal/platform/httpserver"
	"custodia/internal/platform/logger"
	platformredis "custodia/internal/platform/redis"
	transfermetrics "custodia/internal/transfer/metrics"
	transferservice "custodia/internal/transfer/service"
	transferstore "custodia/internal/transfer/store"
	httptransport "custodia/internal/transport/http"
	verifymetrics "custodia/internal/verify/metrics"
	verifyservice "custodia/internal/verify/service"
	verifystore "custodia/internal/verify/store"
	"custodia/pkg/platform/tx"
)

type stores struct {
	items     itemstore.Store
	chain     ledgerstore.Store
	transfers transferstore.Store
	batches   batchstore.Store
	reports   verifystore.Store
	trail     audit.Store
	runner    tx.Runner
}

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := buildStores(cfg, log)
	if err != nil {
		log.Error("storage init failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	var sinks []audit.Sink
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(ctx, cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			log.Error("kafka audit sink init failed", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		sinks = append(sinks, sink)
	}
	auditor := audit.NewPublisher(st.trail, log, sinks...)

	// TODO: replace the static collaborators with the remote identity and
	// access-policy adapters once their endpoints are provisioned.
	identity := collaborator.NewStaticIdentity()
	access := collaborator.NewStaticAccessPolicy()
	policy := collaborator.NewPolicy(identity, access, cfg.CollaboratorMode, auditor, log)

	ledgerOpts := []ledgerservice.Option{
		ledgerservice.WithTxRunner(st.runner),
		ledgerservice.WithMetrics(ledgermetrics.New()),
	}
	if cache := buildTailCache(cfg, log); cache != nil {
		ledgerOpts = append(ledgerOpts, ledgerservice.WithTailCache(cache))
	}

	registry := itemservice.NewRegistry(st.items, policy, auditor, itemmetrics.New(), log,
		itemservice.WithTxRunner(st.runner),
	)
	ledger := ledgerservice.NewLedger(st.chain, st.items, auditor, log, ledgerOpts...)
	protocol := transferservice.NewProtocol(st.transfers, registry, policy, auditor, log,
		transferservice.WithTxRunner(st.runner),
		transferservice.WithMetrics(transfermetrics.New()),
	)
	lineage := batchservice.NewLineage(st.batches, registry, policy, auditor, batchmetrics.New(), log)
	verifier := verifyservice.NewVerifier(st.reports, ledger, registry, auditor, log,
		verifyservice.WithParallelism(cfg.VerifyParallel),
		verifyservice.WithMetrics(verifymetrics.New()),
	)

	tokens := jwttoken.NewService(cfg.JWTSigningKey, "custodia")
	router := httptransport.NewRouter(httptransport.Handlers{
		Items:     httptransport.NewItemHandler(registry, log),
		Ledger:    httptransport.NewLedgerHandler(ledger, log),
		Transfers: httptransport.NewTransferHandler(protocol, log),
		Batches:   httptransport.NewBatchHandler(lineage, log),
		Verify:    httptransport.NewVerifyHandler(verifier, log),
	}, tokens, log)

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting custodia", "addr", cfg.Addr, "collaborator_mode", cfg.CollaboratorMode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("custodia stopped")
}

// buildStores picks the persistence layer: PostgreSQL when a DSN is
// configured, process memory otherwise. The tx runner matches the choice so
// cross-store units of work are real transactions only where they can be.
func buildStores(cfg config.Server, log *slog.Logger) (stores, func(), error) {
	if cfg.PostgresDSN == "" {
		log.Warn("no postgres DSN configured, using in-memory stores")
		return stores{
			items:     itemstore.NewInMemory(),
			chain:     ledgerstore.NewInMemory(),
			transfers: transferstore.NewInMemory(),
			batches:   batchstore.NewInMemory(),
			reports:   verifystore.NewInMemory(),
			trail:     audit.NewInMemoryStore(),
			runner:    tx.NoopRunner{},
		}, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return stores{}, nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return stores{}, nil, err
	}
	return stores{
		items:     itemstore.NewPostgres(db),
		chain:     ledgerstore.NewPostgres(db),
		transfers: transferstore.NewPostgres(db),
		batches:   batchstore.NewPostgres(db),
		reports:   verifystore.NewPostgres(db),
		trail:     audit.NewPostgresStore(db),
		runner:    tx.SQLRunner{DB: db},
	}, func() { db.Close() }, nil
}

func buildTailCache(cfg config.Server, log *slog.Logger) ledgerstore.TailCache {
	client, err := platformredis.New(cfg.Redis())
	if err != nil {
		log.Warn("redis unavailable, running without the tail cache", "error", err)
		return nil
	}
	if client == nil {
		return nil
	}
	return ledgerstore.NewRedisTailCache(client, log)
}
