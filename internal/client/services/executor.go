package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/telemetry"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// DefaultUploadTimeout bounds one transfer attempt, connectivity wait included.
const DefaultUploadTimeout = 60 * time.Second

// Uploader performs the network transfer. client.Client satisfies it.
type Uploader interface {
	UploadMedia(ctx context.Context, req models.UploadRequest) error
}

// OnlineWaiter is satisfied by connectivity.Monitor.
type OnlineWaiter interface {
	WaitOnline(ctx context.Context) error
}

// UploadExecutor performs exactly one transfer attempt per call. It never
// retries; the SyncCoordinator decides when a record is tried again.
type UploadExecutor struct {
	uploader Uploader
	waiter   OnlineWaiter
	timeout  time.Duration
	log      logging.Logger
}

// NewUploadExecutor builds an executor. waiter may be nil, in which case a
// request issued while offline fails at once instead of waiting.
func NewUploadExecutor(u Uploader, waiter OnlineWaiter, timeout time.Duration, log logging.Logger) *UploadExecutor {
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}
	return &UploadExecutor{
		uploader: u,
		waiter:   waiter,
		timeout:  timeout,
		log:      log.With("component", "executor"),
	}
}

// Transfer runs one attempt on the calling goroutine.
func (e *UploadExecutor) Transfer(ctx context.Context, req models.UploadRequest) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if e.waiter != nil {
		if err := e.waiter.WaitOnline(ctx); err != nil {
			return fmt.Errorf("waiting for connectivity: %w", err)
		}
	}

	telemetry.InFlightGauge.Inc()
	start := time.Now()
	err := e.uploader.UploadMedia(ctx, req)
	telemetry.UploadDurationHG.Observe(time.Since(start).Seconds())
	telemetry.InFlightGauge.Dec()

	if err != nil {
		e.log.Warn(ctx, "upload attempt failed", "ticket_id", req.TicketID, "error", err)
		return err
	}
	e.log.Debug(ctx, "upload attempt succeeded", "ticket_id", req.TicketID, "took", time.Since(start))
	return nil
}

// Execute starts an attempt in the background and returns immediately.
// done is called exactly once with the outcome.
func (e *UploadExecutor) Execute(ctx context.Context, req models.UploadRequest, done func(models.UploadResult)) {
	go func() {
		err := e.Transfer(ctx, req)
		done(models.UploadResult{Success: err == nil, Err: err})
	}()
}
