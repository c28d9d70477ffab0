package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/fieldsync/internal/client/connectivity"
	"github.com/dmitrijs2005/fieldsync/internal/client/media"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/telemetry"
	"github.com/dmitrijs2005/fieldsync/internal/client/uploads"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// JPEGQuality matches the quality captured photos were always sent at.
const JPEGQuality = 80

var ErrEmptyCapture = errors.New("capture has no image data")

// Trigger names what started a sync run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerStartup   Trigger = "startup"
	TriggerReconnect Trigger = "reconnect"
	TriggerInterval  Trigger = "interval"
)

func (t Trigger) automatic() bool { return t != TriggerManual }

// Transferer runs one synchronous transfer attempt.
type Transferer interface {
	Transfer(ctx context.Context, req models.UploadRequest) error
	Execute(ctx context.Context, req models.UploadRequest, done func(models.UploadResult))
}

// Connectivity is the part of connectivity.Monitor the coordinator uses.
type Connectivity interface {
	IsConnected() bool
	Subscribe() (<-chan connectivity.Mode, func())
}

type SyncOptions struct {
	// MaxAttempts stops automatic retries of a record; 0 means no ceiling.
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// SyncInterval is the period of automatic runs in Run; 0 disables them.
	SyncInterval time.Duration
	Concurrency  int
}

func (o SyncOptions) withDefaults() SyncOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 5 * time.Second
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = 30 * time.Minute
	}
	return o
}

// SyncReport summarises one run.
type SyncReport struct {
	Trigger Trigger `json:"trigger"`
	// Skipped is set when another run was already in flight.
	Skipped bool `json:"skipped"`
	// Offline is set when the run found no connectivity and did nothing.
	Offline bool `json:"offline"`

	Attempted int `json:"attempted"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	// Interrupted counts attempts cut short by cancellation; their records
	// keep their status and attempt count.
	Interrupted int `json:"interrupted"`
	// Deferred counts records an automatic run left alone because of
	// backoff or the attempt ceiling.
	Deferred int `json:"deferred"`
}

// CaptureRequest is a freshly taken photo. Exactly one of Image or JPEG
// should be set; Image wins when both are.
type CaptureRequest struct {
	TicketID int
	Stage    models.Stage
	Location models.Location
	Image    image.Image
	JPEG     []byte
}

type SyncCoordinator struct {
	store    *uploads.Store
	media    media.Store
	exec     Transferer
	conn     Connectivity
	identity *Identity
	opts     SyncOptions
	log      logging.Logger
	now      func() time.Time

	running  atomic.Bool
	inFlight sync.Map
	pending  sync.WaitGroup
}

func NewSyncCoordinator(store *uploads.Store, ms media.Store, exec Transferer, conn Connectivity, id *Identity, opts SyncOptions, log logging.Logger) *SyncCoordinator {
	return &SyncCoordinator{
		store:    store,
		media:    ms,
		exec:     exec,
		conn:     conn,
		identity: id,
		opts:     opts.withDefaults(),
		log:      log.With("component", "sync"),
		now:      time.Now,
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || wait <= 0 {
		wait = max
	}
	if wait/2 <= 0 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}

// due reports whether an automatic run may try r now.
func (c *SyncCoordinator) due(r models.UploadRecord, now time.Time) bool {
	if c.opts.MaxAttempts > 0 && r.Attempts >= c.opts.MaxAttempts {
		return false
	}
	return r.NextAttemptAt.IsZero() || !r.NextAttemptAt.After(now)
}

func (c *SyncCoordinator) claim(id string) bool {
	_, busy := c.inFlight.LoadOrStore(id, struct{}{})
	return !busy
}

func (c *SyncCoordinator) release(id string) { c.inFlight.Delete(id) }

// RetryPendingUploads replays every pending and failed record, ignoring
// backoff. A call made while a run is active returns a skipped report.
func (c *SyncCoordinator) RetryPendingUploads(ctx context.Context) SyncReport {
	return c.run(ctx, TriggerManual)
}

// prober is implemented by connectivity.Monitor.
type prober interface {
	Probe(ctx context.Context) bool
}

// online rechecks reachability for a manual trigger. The cached flag can
// lag the network by up to one check interval.
func (c *SyncCoordinator) online(ctx context.Context, trigger Trigger) bool {
	if c.conn.IsConnected() {
		return true
	}
	if trigger != TriggerManual {
		return false
	}
	p, ok := c.conn.(prober)
	return ok && p.Probe(ctx)
}

// acquire claims a record and returns its current state. Nothing is
// returned when another attempt holds the record or when the record left
// the retryable states after the caller's snapshot was taken.
func (c *SyncCoordinator) acquire(id string) (models.UploadRecord, bool) {
	if !c.claim(id) {
		return models.UploadRecord{}, false
	}
	rec, err := c.store.Get(id)
	if err != nil || !rec.Status.Retryable() {
		c.release(id)
		return models.UploadRecord{}, false
	}
	return rec, true
}

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeFailed
	outcomeInterrupted
)

func (c *SyncCoordinator) run(ctx context.Context, trigger Trigger) SyncReport {
	report := SyncReport{Trigger: trigger}

	if !c.running.CompareAndSwap(false, true) {
		telemetry.SyncSkipped.Inc()
		c.log.Info(ctx, "sync already running, trigger dropped", "trigger", trigger)
		report.Skipped = true
		return report
	}
	defer c.running.Store(false)

	if !c.online(ctx, trigger) {
		c.log.Debug(ctx, "offline, sync deferred", "trigger", trigger)
		report.Offline = true
		if trigger == TriggerManual {
			report.Failed = c.failMissingArtifacts(ctx)
		}
		return report
	}

	telemetry.SyncRuns.WithLabelValues(string(trigger)).Inc()
	now := c.now()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.opts.Concurrency)

	for _, snap := range c.store.Retryable() {
		if trigger.automatic() && !c.due(snap, now) {
			report.Deferred++
			continue
		}
		rec, ok := c.acquire(snap.ID)
		if !ok {
			continue
		}
		if trigger.automatic() && !c.due(rec, now) {
			c.release(rec.ID)
			report.Deferred++
			continue
		}

		g.Go(func() error {
			defer c.release(rec.ID)
			res := c.process(ctx, rec)

			mu.Lock()
			defer mu.Unlock()
			report.Attempted++
			switch res {
			case outcomeSynced:
				report.Synced++
			case outcomeFailed:
				report.Failed++
			case outcomeInterrupted:
				report.Interrupted++
			}
			return nil
		})
	}
	_ = g.Wait()

	c.publishDepth()
	c.log.Info(ctx, "sync finished",
		"trigger", trigger,
		"attempted", report.Attempted,
		"synced", report.Synced,
		"failed", report.Failed,
		"interrupted", report.Interrupted,
		"deferred", report.Deferred)
	return report
}

// failMissingArtifacts marks records whose artifact is gone as failed
// without a network attempt. Only a definite miss counts: a store that
// cannot be reached leaves the record untouched.
func (c *SyncCoordinator) failMissingArtifacts(ctx context.Context) int {
	failed := 0
	for _, snap := range c.store.Retryable() {
		rec, ok := c.acquire(snap.ID)
		if !ok {
			continue
		}
		if _, err := c.media.Fetch(ctx, rec.LocalArtifactRef); errors.Is(err, media.ErrArtifactNotFound) {
			telemetry.ArtifactMissing.Inc()
			c.log.Warn(ctx, "artifact unreadable, upload not attempted", "record_id", rec.ID, "ref", rec.LocalArtifactRef, "error", err)
			if c.finish(ctx, rec, fmt.Errorf("resolve artifact: %w", err)) == outcomeFailed {
				failed++
			}
		}
		c.release(rec.ID)
	}
	if failed > 0 {
		c.publishDepth()
	}
	return failed
}

// process resolves and transfers one claimed record.
func (c *SyncCoordinator) process(ctx context.Context, rec models.UploadRecord) outcome {
	data, err := c.media.Fetch(ctx, rec.LocalArtifactRef)
	if err != nil {
		telemetry.ArtifactMissing.Inc()
		c.log.Warn(ctx, "artifact unreadable, upload not attempted", "record_id", rec.ID, "ref", rec.LocalArtifactRef, "error", err)
		return c.finish(ctx, rec, fmt.Errorf("resolve artifact: %w", err))
	}

	return c.finish(ctx, rec, c.exec.Transfer(ctx, rec.Request(data)))
}

// finish applies the outcome of an attempt to the queue. A record is only
// marked synced after a confirmed transfer. An attempt cut short by the
// caller's cancellation leaves the record as it was.
func (c *SyncCoordinator) finish(ctx context.Context, rec models.UploadRecord, err error) outcome {
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		c.log.Info(ctx, "attempt interrupted", "record_id", rec.ID)
		return outcomeInterrupted
	}

	// bookkeeping must land even if the trigger's context is gone
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		telemetry.UploadFailures.Inc()
		next := c.now().Add(backoffWithJitter(c.opts.BackoffInitial, c.opts.BackoffMax, rec.Attempts+1))
		if merr := c.store.MarkFailed(ctx, rec.ID, err.Error(), next); merr != nil {
			c.log.Warn(ctx, "mark failed", "record_id", rec.ID, "error", merr)
		}
		return outcomeFailed
	}

	telemetry.UploadSuccess.Inc()
	if merr := c.store.MarkSynced(ctx, rec.ID); merr != nil {
		c.log.Warn(ctx, "mark synced", "record_id", rec.ID, "error", merr)
		return outcomeSynced
	}
	if derr := c.media.Delete(ctx, rec.LocalArtifactRef); derr != nil {
		c.log.Warn(ctx, "delete synced artifact", "record_id", rec.ID, "ref", rec.LocalArtifactRef, "error", derr)
	}
	c.store.Notify(ctx, models.Event{Kind: models.EventTicketRefresh, RecordID: rec.ID, TicketID: rec.TicketID, Status: models.StatusSynced})
	return outcomeSynced
}

func encodeCapture(req CaptureRequest) ([]byte, error) {
	if req.Image != nil {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, req.Image, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return buf.Bytes(), nil
	}
	if len(req.JPEG) == 0 {
		return nil, ErrEmptyCapture
	}
	return req.JPEG, nil
}

// CaptureAndUpload stores the photo and queues a pending record before any
// network attempt, so a failed immediate upload is still retried later.
// When online the attempt runs in the background; the returned record is
// the pending snapshot.
func (c *SyncCoordinator) CaptureAndUpload(ctx context.Context, req CaptureRequest) (*models.UploadRecord, error) {
	data, err := encodeCapture(req)
	if err != nil {
		return nil, err
	}

	ref, err := c.media.Save(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("save capture: %w", err)
	}

	rec := models.NewUploadRecord(req.TicketID, ref, req.Stage, req.Location, c.identity.UserID(), c.now())
	if err := c.store.Add(ctx, rec); err != nil {
		_ = c.media.Delete(ctx, ref)
		return nil, fmt.Errorf("queue capture: %w", err)
	}
	telemetry.CapturedTotal.Inc()
	c.publishDepth()

	if !c.conn.IsConnected() {
		c.log.Info(ctx, "offline, capture queued", "record_id", rec.ID, "ticket_id", rec.TicketID)
		return &rec, nil
	}
	if !c.claim(rec.ID) {
		return &rec, nil
	}

	c.pending.Add(1)
	c.exec.Execute(context.WithoutCancel(ctx), rec.Request(data), func(res models.UploadResult) {
		defer c.pending.Done()
		defer c.release(rec.ID)
		_ = c.finish(ctx, rec, res.Err)
		c.publishDepth()
	})
	return &rec, nil
}

// Wait blocks until capture-time attempts started so far have finished.
func (c *SyncCoordinator) Wait() { c.pending.Wait() }

// CleanupSynced purges synced records and any artifacts they still hold.
// It returns the number of records removed.
func (c *SyncCoordinator) CleanupSynced(ctx context.Context) int {
	removed := c.store.CleanupSynced(ctx)
	for _, r := range removed {
		if err := c.media.Delete(ctx, r.LocalArtifactRef); err != nil {
			c.log.Warn(ctx, "delete artifact on cleanup", "record_id", r.ID, "error", err)
		}
	}
	if len(removed) > 0 {
		c.log.Info(ctx, "synced uploads cleaned up", "removed", len(removed))
		c.publishDepth()
	}
	return len(removed)
}

// RemoveSynced drops one synced record and its artifact. Records that have
// not reached the server are refused with uploads.ErrNotSynced.
func (c *SyncCoordinator) RemoveSynced(ctx context.Context, id string) error {
	rec, err := c.store.Get(id)
	if err != nil {
		return err
	}
	if err := c.store.Remove(ctx, id); err != nil {
		return err
	}
	if err := c.media.Delete(ctx, rec.LocalArtifactRef); err != nil {
		c.log.Warn(ctx, "delete artifact on remove", "record_id", id, "error", err)
	}
	c.publishDepth()
	return nil
}

func (c *SyncCoordinator) publishDepth() {
	counts := map[string]int{
		string(models.StatusPending): 0,
		string(models.StatusFailed):  0,
		string(models.StatusSynced):  0,
	}
	for _, r := range c.store.GetAll() {
		counts[string(r.Status)]++
	}
	telemetry.SetQueueDepth(counts)
}

// Run drives automatic syncs until ctx is done: once at start, on every
// reconnect, and every SyncInterval. Interval passes also purge synced
// records.
func (c *SyncCoordinator) Run(ctx context.Context) {
	modes, unsubscribe := c.conn.Subscribe()
	defer unsubscribe()

	var tick <-chan time.Time
	if c.opts.SyncInterval > 0 {
		t := time.NewTicker(c.opts.SyncInterval)
		defer t.Stop()
		tick = t.C
	}

	c.publishDepth()
	c.run(ctx, TriggerStartup)

	for {
		select {
		case <-ctx.Done():
			c.Wait()
			return
		case m, ok := <-modes:
			if !ok {
				modes = nil
				continue
			}
			telemetry.SetOnline(m == connectivity.ModeOnline)
			if m == connectivity.ModeOnline {
				c.run(ctx, TriggerReconnect)
			}
		case <-tick:
			c.run(ctx, TriggerInterval)
			c.CleanupSynced(ctx)
		}
	}
}
