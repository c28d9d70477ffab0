package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/dmitrijs2005/fieldsync/internal/client/api"
	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/client/connectivity"
	"github.com/dmitrijs2005/fieldsync/internal/client/media"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/client/telemetry"
	"github.com/dmitrijs2005/fieldsync/internal/client/uploads"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

type App struct {
	config *config.Config
	log    logging.Logger

	// fs is where capture reads photo files from.
	fs afero.Fs
	// in feeds the REPL.
	in io.Reader

	kv       metadata.Repository
	monitor  *connectivity.Monitor
	store    *uploads.Store
	sync     *services.SyncCoordinator
	tickets  *services.TicketService
	identity *services.Identity

	closers []func() error
}

func openKV(ctx context.Context, c *config.Config) (metadata.Repository, func() error, error) {
	switch c.KVBackend {
	case config.KVBackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", c.RedisAddr, err)
		}
		return metadata.NewRedisRepository(rdb, metadata.DefaultRedisPrefix), rdb.Close, nil
	default:
		db, err := client.InitDatabase(ctx, c.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("error initializing database: %w", err)
		}
		return client.NewRepositories(db).Metadata, db.Close, nil
	}
}

func openMedia(ctx context.Context, c *config.Config) (media.Store, error) {
	if c.MediaBackend == config.MediaBackendS3 {
		s3c, err := media.NewS3Client(ctx, media.S3Options{
			Region:       c.S3Region,
			BaseEndpoint: c.S3Endpoint,
			Bucket:       c.S3Bucket,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
			Prefix:       c.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		return media.NewS3Store(s3c, c.S3Bucket, c.S3Prefix), nil
	}
	return media.NewFSStore(afero.NewOsFs(), c.MediaDir)
}

// NewApp wires storage, transport and the sync engine from c.
func NewApp(ctx context.Context, c *config.Config, log logging.Logger) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	a := &App{config: c, log: log, fs: afero.NewOsFs(), in: os.Stdin}

	kv, closeKV, err := openKV(ctx, c)
	if err != nil {
		return nil, err
	}
	a.kv = kv
	a.closers = append(a.closers, closeKV)

	ms, err := openMedia(ctx, c)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	hc, err := client.NewHTTPClient(c.ServerBaseURL, log, client.WithAccessToken(c.AccessToken))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, hc.Close)

	a.monitor = connectivity.NewMonitor(hc, c.OnlineCheckInterval, c.AssumeOnline, log)
	a.store = uploads.NewStore(kv, log)
	if err := a.store.Load(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.identity = services.NewIdentity(c.UserID, c.AccessToken)
	exec := services.NewUploadExecutor(hc, a.monitor, c.UploadTimeout, log)
	a.sync = services.NewSyncCoordinator(a.store, ms, exec, a.monitor, a.identity, services.SyncOptions{
		MaxAttempts:    c.MaxAttempts,
		BackoffInitial: c.BackoffInitial,
		BackoffMax:     c.BackoffMax,
		SyncInterval:   c.SyncInterval,
		Concurrency:    c.SyncConcurrency,
	}, log)
	a.tickets = services.NewTicketService(hc, kv, a.monitor, log)

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) getStatus() string {
	return fmt.Sprintf("(%s, %d pending, %d failed)",
		a.monitor.Mode(),
		len(a.store.FilterByStatus(models.StatusPending)),
		len(a.store.FilterByStatus(models.StatusFailed)))
}

// watchUploads prints queue changes so the prompt user sees uploads land
// without polling.
func (a *App) watchUploads(ctx context.Context) {
	events, cancel := a.store.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == models.EventStatusChanged {
				printlnFn(fmt.Sprintf("upload %s (ticket %d): %s", shortID(ev.RecordID), ev.TicketID, ev.Status))
			}
		}
	}
}

func (a *App) serveControl(ctx context.Context) {
	if a.config.ControlAddr == "" {
		return
	}
	srv := &http.Server{
		Addr:              a.config.ControlAddr,
		Handler:           api.New(a.store, a.sync, a.tickets, a.monitor).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.log.Info(ctx, "control api listening", "addr", a.config.ControlAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.log.Error(ctx, "control api stopped", "error", err)
	}
}

func (a *App) printRefresh(td *models.TicketDetail) {
	printlnFn(fmt.Sprintf("ticket %d refreshed: %s", td.TicketID, td.StatusName))
}

// pruneTickets drops stale offline ticket copies nothing in the queue
// refers to.
func (a *App) pruneTickets(ctx context.Context) int {
	if a.config.TicketCacheTTL <= 0 {
		return 0
	}
	n, err := a.tickets.Prune(ctx, a.config.TicketCacheTTL, func(ticketID int) bool {
		return len(a.store.ForTicket(ticketID)) > 0
	})
	if err != nil {
		a.log.Warn(ctx, "prune ticket cache", "error", err)
	}
	return n
}

// Run starts the background workers and blocks in the REPL until the user
// exits or ctx is cancelled. Every worker is stopped before storage is
// closed.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	telemetry.SetOnline(a.monitor.IsConnected())
	a.tickets.OnRefresh = a.printRefresh
	a.pruneTickets(ctx)

	spawn(a.monitor.Run)
	spawn(a.sync.Run)
	spawn(func(ctx context.Context) { a.tickets.Watch(ctx, a.store) })
	spawn(a.watchUploads)
	spawn(a.serveControl)

	in := a.in
	if in == nil {
		in = os.Stdin
	}

	printlnFn("Field sync CLI (type 'help' for commands)")
	replDone := make(chan struct{})
	go func() {
		defer close(replDone)
		runREPL(ctx, a, a.getStatus, bufio.NewScanner(in))
	}()

	select {
	case <-replDone:
	case <-ctx.Done():
	}

	cancel()
	wg.Wait()
	a.sync.Wait()
	if err := a.Close(); err != nil {
		a.log.Warn(context.Background(), "close", "error", err)
	}
}
