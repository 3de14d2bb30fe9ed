package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/stayescrow/internal/api"
	"github.com/punchamoorthee/stayescrow/internal/config"
	"github.com/punchamoorthee/stayescrow/internal/holds"
	"github.com/punchamoorthee/stayescrow/internal/ledger"
	"github.com/punchamoorthee/stayescrow/internal/ledger/memledger"
	"github.com/punchamoorthee/stayescrow/internal/logging"
	"github.com/punchamoorthee/stayescrow/internal/notify"
	"github.com/punchamoorthee/stayescrow/internal/scheduler"
	"github.com/punchamoorthee/stayescrow/internal/service"
	"github.com/punchamoorthee/stayescrow/internal/store"
)

type App struct {
	cfg        *config.Config
	log        *logrus.Logger
	store      store.Store
	redis      *holds.Redis
	httpServer *http.Server
	scheduler  *scheduler.Scheduler
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &App{cfg: cfg, log: log}

	// Open runs the embedded migrations before returning.
	a.store, err = store.Open(ctx, cfg.DBSource)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.WithField("env", cfg.Env).Info("store ready, migrations applied")

	if err := a.initServices(ctx); err != nil {
		a.store.Close()
		return nil, fmt.Errorf("init services: %w", err)
	}
	return a, nil
}

func (a *App) initServices(ctx context.Context) error {
	programID, err := solana.PublicKeyFromBase58(a.cfg.Ledger.ProgramID)
	if err != nil {
		return fmt.Errorf("parse program id: %w", err)
	}

	var (
		l   service.Ledger
		dev api.DevLedger
	)
	if a.cfg.MemoryLedger() {
		mem := memledger.New(programID)
		l, dev = mem, mem
		a.log.Warn("using the in-process ledger, dev endpoints enabled")
	} else {
		l = ledger.NewRPCClient(a.cfg.Ledger.RPCURL, programID, a.cfg.Ledger.Timeout)
		a.log.WithField("rpc_url", a.cfg.Ledger.RPCURL).Info("using the RPC ledger")
	}

	var listingHolds service.ListingHolds = holds.Noop{}
	if a.cfg.Redis.Addr != "" {
		a.redis, err = holds.Dial(ctx, a.cfg.Redis.Addr, a.cfg.Redis.HoldTTL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		listingHolds = a.redis
		a.log.WithField("addr", a.cfg.Redis.Addr).Info("listing holds backed by redis")
	}

	notifier, err := notify.NewTelegram(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, a.log)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}

	bookings := service.NewBookingService(a.store, l, listingHolds, notifier, a.log, service.Options{
		PendingTTL:       a.cfg.Sweep.PendingTTL,
		MaxAttempts:      a.cfg.Sweep.MaxAttempts,
		SweepBatch:       a.cfg.Sweep.Batch,
		SweepConcurrency: a.cfg.Sweep.Concurrency,
	})
	listings := service.NewListingService(a.store, l, a.log)

	a.scheduler = scheduler.New(bookings, a.cfg.Sweep.Interval, a.log)

	h := api.NewHandler(bookings, listings, dev, a.log)
	a.httpServer = &http.Server{
		Addr:         ":" + a.cfg.Server.Port,
		Handler:      h.Router(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}
	return nil
}

// Run serves until SIGINT or SIGTERM, then shuts down gracefully.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	schedulerDone := a.scheduler.Go(schedCtx)

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.httpServer.Addr).Info("HTTP server starting")
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-errCh:
		stopScheduler()
		<-schedulerDone
		a.close()
		return err
	}
	return a.shutdown(schedulerDone)
}

// shutdown drains HTTP and waits for the scheduler before the store and
// redis are closed under it.
func (a *App) shutdown(schedulerDone <-chan struct{}) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.WriteTimeout)
	defer cancel()

	httpErr := a.httpServer.Shutdown(shutdownCtx)
	if httpErr == nil {
		a.log.Info("HTTP server stopped")
	}
	<-schedulerDone
	a.close()
	if httpErr != nil {
		return fmt.Errorf("http server shutdown: %w", httpErr)
	}
	a.log.Info("app stopped")
	return nil
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("close redis")
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("close store")
	}
}
