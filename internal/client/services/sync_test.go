package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fieldsync/internal/client/connectivity"
	"github.com/dmitrijs2005/fieldsync/internal/client/media"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/client/uploads"
	"github.com/dmitrijs2005/fieldsync/internal/logging"

	_ "modernc.org/sqlite"
)

type fakeConn struct {
	online atomic.Bool
	modes  chan connectivity.Mode
}

func newFakeConn(online bool) *fakeConn {
	c := &fakeConn{modes: make(chan connectivity.Mode, 1)}
	c.online.Store(online)
	return c
}

func (c *fakeConn) IsConnected() bool { return c.online.Load() }
func (c *fakeConn) Subscribe() (<-chan connectivity.Mode, func()) {
	return c.modes, func() {}
}

type fakeTransfer struct {
	mu    sync.Mutex
	calls []models.UploadRequest
	err   error

	started chan struct{}
	release chan struct{}
	// gates holds individual tickets until their channel is closed or the
	// attempt's context ends. Set up before any transfer starts.
	gates map[int]chan struct{}
}

func (f *fakeTransfer) Transfer(ctx context.Context, req models.UploadRequest) error {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	err := f.err
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if g, ok := f.gates[req.TicketID]; ok {
		select {
		case <-g:
		case <-ctx.Done():
			return fmt.Errorf("upload ticket %d: %w", req.TicketID, ctx.Err())
		}
	}
	return err
}

func (f *fakeTransfer) countFor(ticket int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.TicketID == ticket {
			n++
		}
	}
	return n
}

func (f *fakeTransfer) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(time.Second):
		t.Fatal("transfer did not start")
	}
}

// staleConn reports offline until rechecked.
type staleConn struct {
	*fakeConn
	checks atomic.Int32
	result bool
}

func (c *staleConn) Probe(context.Context) bool {
	c.checks.Add(1)
	c.online.Store(c.result)
	return c.result
}

// undeletableMedia keeps artifacts around after a successful upload, as an
// unreachable bucket would.
type undeletableMedia struct {
	media.Store
}

func (undeletableMedia) Delete(context.Context, string) error {
	return errors.New("delete artifact: access denied")
}

func (f *fakeTransfer) Execute(ctx context.Context, req models.UploadRequest, done func(models.UploadResult)) {
	go func() {
		err := f.Transfer(ctx, req)
		done(models.UploadResult{Success: err == nil, Err: err})
	}()
}

func (f *fakeTransfer) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeTransfer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	store *uploads.Store
	media *media.FSStore
	tr    *fakeTransfer
	conn  *fakeConn
	sync  *SyncCoordinator
}

func newHarness(t *testing.T, online bool, opts SyncOptions) *harness {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE metadata (key TEXT PRIMARY KEY, value BLOB NOT NULL);`)
	require.NoError(t, err)

	store := uploads.NewStore(metadata.NewSQLiteRepository(db), logging.Nop())
	ms, err := media.NewFSStore(afero.NewMemMapFs(), "/photos")
	require.NoError(t, err)

	h := &harness{store: store, media: ms, tr: &fakeTransfer{}, conn: newFakeConn(online)}
	h.sync = NewSyncCoordinator(store, ms, h.tr, h.conn, NewIdentity("7", ""), opts, logging.Nop())
	return h
}

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00}

func (h *harness) capture(t *testing.T, ticket int) *models.UploadRecord {
	t.Helper()
	rec, err := h.sync.CaptureAndUpload(context.Background(), CaptureRequest{
		TicketID: ticket,
		Stage:    models.StagePre,
		Location: models.Location{Latitude: 1.0, Longitude: 2.0},
		JPEG:     jpegBytes,
	})
	require.NoError(t, err)
	return rec
}

func TestCaptureAndUpload_OfflineQueuesWithoutNetwork(t *testing.T) {
	h := newHarness(t, false, SyncOptions{})

	rec := h.capture(t, 42)

	all := h.store.GetAll()
	require.Len(t, all, 1)
	got := all[0]
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 42, got.TicketID)
	assert.Equal(t, models.StagePre, got.Stage)
	assert.Equal(t, 1.0, got.Latitude)
	assert.Equal(t, 2.0, got.Longitude)
	assert.Equal(t, "7", got.UploadedBy)
	assert.Equal(t, "7", got.OfflineUploaderID)

	h.sync.Wait()
	require.Zero(t, h.tr.count())

	data, err := h.media.Fetch(context.Background(), got.LocalArtifactRef)
	require.NoError(t, err)
	require.Equal(t, jpegBytes, data)
}

func TestCaptureAndUpload_EncodesImage(t *testing.T) {
	h := newHarness(t, false, SyncOptions{})

	rec, err := h.sync.CaptureAndUpload(context.Background(), CaptureRequest{
		TicketID: 1,
		Image:    imaging.New(8, 8, color.White),
	})
	require.NoError(t, err)

	data, err := h.media.Fetch(context.Background(), rec.LocalArtifactRef)
	require.NoError(t, err)
	require.Equal(t, []byte{0xFF, 0xD8}, data[:2])
}

func TestCaptureAndUpload_EmptyCaptureRejected(t *testing.T) {
	h := newHarness(t, true, SyncOptions{})

	_, err := h.sync.CaptureAndUpload(context.Background(), CaptureRequest{TicketID: 1})
	require.ErrorIs(t, err, ErrEmptyCapture)
	require.Empty(t, h.store.GetAll())
}

func TestCaptureAndUpload_OnlineSuccess(t *testing.T) {
	h := newHarness(t, true, SyncOptions{})

	rec := h.capture(t, 5)
	h.sync.Wait()

	require.Equal(t, 1, h.tr.count())
	got, err := h.store.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSynced, got.Status)

	_, err = h.media.Fetch(context.Background(), rec.LocalArtifactRef)
	require.ErrorIs(t, err, media.ErrArtifactNotFound)
}

func TestCaptureAndUpload_OnlineFailureStaysRetryable(t *testing.T) {
	h := newHarness(t, true, SyncOptions{})
	h.tr.setErr(errors.New("503"))

	rec := h.capture(t, 5)
	h.sync.Wait()

	got, err := h.store.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)
	require.Equal(t, "503", got.LastError)
	require.Len(t, h.store.Retryable(), 1)

	_, err = h.media.Fetch(context.Background(), rec.LocalArtifactRef)
	require.NoError(t, err, "artifact of a failed upload is kept")
}

func TestRetryPendingUploads_SyncsAndCleansUp(t *testing.T) {
	h := newHarness(t, false, SyncOptions{})
	rec := h.capture(t, 9)
	h.conn.online.Store(true)

	events, cancel := h.store.Subscribe()
	defer cancel()

	report := h.sync.RetryPendingUploads(context.Background())
	require.False(t, report.Skipped)
	require.Equal(t, 1, report.Attempted)
	require.Equal(t, 1, report.Synced)
	require.Equal(t, 1, h.tr.count())
	require.Equal(t, 9, h.tr.calls[0].TicketID)
	require.Equal(t, jpegBytes, h.tr.calls[0].Image)

	got, err := h.store.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSynced, got.Status)

	_, err = h.media.Fetch(context.Background(), rec.LocalArtifactRef)
	require.ErrorIs(t, err, media.ErrArtifactNotFound)

	statusChanges, refreshes := 0, 0
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.RecordID != rec.ID {
				continue
			}
			switch ev.Kind {
			case models.EventStatusChanged:
				statusChanges++
			case models.EventTicketRefresh:
				refreshes++
				require.Equal(t, 9, ev.TicketID)
			}
		default:
			done = true
		}
	}
	require.Equal(t, 1, statusChanges)
	require.Equal(t, 1, refreshes)

	require.Equal(t, 1, h.sync.CleanupSynced(context.Background()))
	require.Equal(t, 0, h.sync.CleanupSynced(context.Background()))
	require.Empty(t, h.store.GetAll())
}

func TestRetryPendingUploads_UnresolvableArtifactFailsFast(t *testing.T) {
	h := newHarness(t, true, SyncOptions{})
	rec := models.NewUploadRecord(3, "gone.jpg", models.StagePost, models.Location{}, "7", time.Now())
	require.NoError(t, h.store.Add(context.Background(), rec))

	report := h.sync.RetryPendingUploads(context.Background())
	require.Equal(t, 1, report.Failed)
	require.Zero(t, h.tr.count())

	got, err := h.store.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)
	require.Contains(t, got.LastError, "artifact not found")
}

func TestRetryPendingUploads_AtMostOneInFlight(t *testing.T) {
	h := newHarness(t, false, SyncOptions{})
	h.capture(t, 1)
	h.conn.online.Store(true)

	h.tr.started = make(chan struct{}, 1)
	h.tr.release = make(chan struct{})

	first := make(chan SyncReport, 1)
	go func() { first <- h.sync.RetryPendingUploads(context.Background()) }()

	select {
	case <-h.tr.started:
	case <-time.After(time.Second):
		t.Fatal("first run never started a transfer")
	}

	second := h.sync.RetryPendingUploads(context.Background())
	require.True(t, second.Skipped)
	require.Zero(t, second.Attempted)

	close(h.tr.release)
	r := <-first
	require.Equal(t, 1, r.Synced)
	require.Equal(t, 1, h.tr.count())
}

func TestRetryPendingUploads_FailedRecordRemainsRetryable(t *testing.T) {
	h := newHarness(t, false, SyncOptions{BackoffInitial: time.Hour, BackoffMax: 2 * time.Hour})
	rec := h.capture(t, 1)
	h.conn.online.Store(true)
	h.tr.setErr(errors.New("connection reset"))

	r := h.sync.RetryPendingUploads(context.Background())
	require.Equal(t, 1, r.Failed)

	retryable := h.store.Retryable()
	require.Len(t, retryable, 1)
	require.Equal(t, rec.ID, retryable[0].ID)
	require.True(t, retryable[0].NextAttemptAt.After(time.Now()))

	// automatic triggers respect backoff
	auto := h.sync.run(context.Background(), TriggerInterval)
	require.Equal(t, 1, auto.Deferred)
	require.Equal(t, 1, h.tr.count())

	// a manual retry does not
	h.tr.setErr(nil)
	r = h.sync.RetryPendingUploads(context.Background())
	require.Equal(t, 1, r.Synced)
	require.Equal(t, 2, h.tr.count())
}

func TestRun_AttemptCeilingStopsAutomaticRetries(t *testing.T) {
	h := newHarness(t, false, SyncOptions{MaxAttempts: 1, BackoffInitial: time.Millisecond, BackoffMax: time.Millisecond})
	h.capture(t, 1)
	h.conn.online.Store(true)
	h.tr.setErr(errors.New("boom"))

	require.Equal(t, 1, h.sync.run(context.Background(), TriggerReconnect).Failed)
	time.Sleep(5 * time.Millisecond)

	r := h.sync.run(context.Background(), TriggerReconnect)
	require.Equal(t, 1, r.Deferred)
	require.Zero(t, r.Attempted)
}

func TestRetryPendingUploads_OfflineDoesNothing(t *testing.T) {
	h := newHarness(t, false, SyncOptions{})
	h.capture(t, 1)

	r := h.sync.RetryPendingUploads(context.Background())
	require.True(t, r.Offline)
	require.Zero(t, h.tr.count())
	require.Len(t, h.store.FilterByStatus(models.StatusPending), 1)
}

func TestRetryPendingUploads_ProcessesRecordsConcurrently(t *testing.T) {
	h := newHarness(t, false, SyncOptions{Concurrency: 3})
	for i := 0; i < 6; i++ {
		h.capture(t, i)
	}
	h.conn.online.Store(true)

	r := h.sync.RetryPendingUploads(context.Background())
	require.Equal(t, 6, r.Synced)
	require.Equal(t, 6, h.tr.count())
	require.Len(t, h.store.FilterByStatus(models.StatusSynced), 6)
}

func TestRun_StartupAndReconnectTriggers(t *testing.T) {
	h := newHarness(t, false, SyncOptions{})
	rec := h.capture(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.sync.Run(ctx)
		close(done)
	}()

	// startup pass happens offline and leaves the record alone
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, h.tr.count())

	h.conn.online.Store(true)
	h.conn.modes <- connectivity.ModeOnline

	require.Eventually(t, func() bool {
		got, err := h.store.Get(rec.ID)
		return err == nil && got.Status == models.StatusSynced
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestRun_IntervalPurgesSynced(t *testing.T) {
	h := newHarness(t, true, SyncOptions{SyncInterval: 10 * time.Millisecond})
	h.capture(t, 1)
	h.sync.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.sync.Run(ctx)

	require.Eventually(t, func() bool { return len(h.store.GetAll()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestBackoffWithJitter(t *testing.T) {
	base, max := time.Second, 10*time.Second
	require.Equal(t, base, backoffWithJitter(base, max, 0))
	for attempt := 1; attempt < 10; attempt++ {
		d := backoffWithJitter(base, max, attempt)
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, max)
	}
	d := backoffWithJitter(base, max, 3)
	require.GreaterOrEqual(t, d, 2*time.Second)
	require.Less(t, d, 4*time.Second)
}

func TestRetryPendingUploads_SkipsRecordSyncedAfterSnapshot(t *testing.T) {
	h := newHarness(t, false, SyncOptions{})
	h.sync = NewSyncCoordinator(h.store, undeletableMedia{h.media}, h.tr, h.conn, NewIdentity("7", ""), SyncOptions{Concurrency: 1}, logging.Nop())
	h.tr.started = make(chan struct{}, 4)
	h.tr.gates = map[int]chan struct{}{1: make(chan struct{}), 3: make(chan struct{})}

	h.capture(t, 1)
	h.capture(t, 2)
	h.conn.online.Store(true)
	third := h.capture(t, 3)
	h.tr.waitStarted(t)

	done := make(chan SyncReport, 1)
	go func() { done <- h.sync.RetryPendingUploads(context.Background()) }()
	h.tr.waitStarted(t)

	// ticket 2 now waits for a worker slot while ticket 3's capture attempt lands
	time.Sleep(20 * time.Millisecond)
	close(h.tr.gates[3])
	h.sync.Wait()
	close(h.tr.gates[1])

	var report SyncReport
	select {
	case report = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}

	require.Equal(t, 2, report.Attempted)
	require.Equal(t, 2, report.Synced)
	require.Zero(t, report.Failed)
	require.Equal(t, 1, h.tr.countFor(3), "a synced record is never sent again")

	got, err := h.store.Get(third.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSynced, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.Len(t, h.store.FilterByStatus(models.StatusSynced), 3)
}

func TestRetryPendingUploads_ManualRechecksStaleOfflineFlag(t *testing.T) {
	h := newHarness(t, false, SyncOptions{})
	conn := &staleConn{fakeConn: h.conn, result: true}
	h.sync = NewSyncCoordinator(h.store, h.media, h.tr, conn, NewIdentity("7", ""), SyncOptions{}, logging.Nop())
	h.capture(t, 1)

	r := h.sync.RetryPendingUploads(context.Background())
	require.False(t, r.Offline)
	require.Equal(t, 1, r.Synced)
	require.EqualValues(t, 1, conn.checks.Load())

	// automatic triggers trust the flag
	conn.online.Store(false)
	h.capture(t, 2)
	auto := h.sync.run(context.Background(), TriggerInterval)
	require.True(t, auto.Offline)
	require.EqualValues(t, 1, conn.checks.Load())
}

func TestRetryPendingUploads_OfflineFailsMissingArtifactsFast(t *testing.T) {
	h := newHarness(t, false, SyncOptions{})
	kept := h.capture(t, 1)
	gone := models.NewUploadRecord(2, "gone.jpg", models.StagePost, models.Location{}, "7", time.Now())
	require.NoError(t, h.store.Add(context.Background(), gone))

	r := h.sync.RetryPendingUploads(context.Background())
	require.True(t, r.Offline)
	require.Equal(t, 1, r.Failed)
	require.Zero(t, h.tr.count())

	got, err := h.store.Get(gone.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)
	require.Contains(t, got.LastError, "artifact not found")

	got, err = h.store.Get(kept.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, got.Status)
	require.Zero(t, got.Attempts)
}

func TestRetryPendingUploads_CancelledAttemptKeepsBudget(t *testing.T) {
	h := newHarness(t, false, SyncOptions{MaxAttempts: 3})
	rec := h.capture(t, 1)
	h.conn.online.Store(true)
	h.tr.started = make(chan struct{}, 1)
	h.tr.gates = map[int]chan struct{}{1: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan SyncReport, 1)
	go func() { done <- h.sync.RetryPendingUploads(ctx) }()

	h.tr.waitStarted(t)
	cancel()
	r := <-done

	require.Equal(t, 1, r.Interrupted)
	require.Zero(t, r.Failed)

	got, err := h.store.Get(rec.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, got.Status)
	require.Zero(t, got.Attempts)
	require.Empty(t, got.LastError)
}

func TestRemoveSynced_OnlyDropsDeliveredRecords(t *testing.T) {
	h := newHarness(t, false, SyncOptions{})
	synced := h.capture(t, 1)
	queued := h.capture(t, 2)
	require.NoError(t, h.store.MarkSynced(context.Background(), synced.ID))

	require.ErrorIs(t, h.sync.RemoveSynced(context.Background(), queued.ID), uploads.ErrNotSynced)
	require.NoError(t, h.sync.RemoveSynced(context.Background(), synced.ID))

	_, err := h.media.Fetch(context.Background(), synced.LocalArtifactRef)
	require.ErrorIs(t, err, media.ErrArtifactNotFound)
	_, err = h.store.Get(synced.ID)
	require.Error(t, err)

	all := h.store.GetAll()
	require.Len(t, all, 1)
	require.Equal(t, queued.ID, all[0].ID)
}
