// Package uploads holds the durable offline-upload queue: one UploadRecord
// per captured artifact, persisted as a JSON array in the metadata store.
package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

var (
	ErrDuplicate     = errors.New("upload record already exists")
	ErrAlreadySynced = errors.New("upload record already synced")
	ErrNotSynced     = errors.New("upload record not synced")
)

const defaultSubscriberBuffer = 64

// Store is safe for concurrent use. Every mutation holds the lock until the
// collection has been written back, so concurrent writers never persist a
// stale snapshot over a newer one.
type Store struct {
	repo metadata.Repository
	log  logging.Logger
	now  func() time.Time

	mu      sync.Mutex
	records []models.UploadRecord

	subsMu  sync.Mutex
	subs    map[int]chan models.Event
	nextSub int
	bufSize int
}

type Option func(*Store)

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

func NewStore(repo metadata.Repository, log logging.Logger, opts ...Option) *Store {
	s := &Store{
		repo:    repo,
		log:     log.With("component", "uploads"),
		now:     time.Now,
		subs:    make(map[int]chan models.Event),
		bufSize: defaultSubscriberBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load replaces the in-memory queue with the persisted one. A missing key
// yields an empty queue; undecodable data is logged and discarded.
func (s *Store) Load(ctx context.Context) error {
	raw, err := s.repo.Get(ctx, common.LocalUploadsKey)
	if err != nil {
		return fmt.Errorf("load uploads: %w", err)
	}

	var recs []models.UploadRecord
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &recs); err != nil {
			s.log.Error(ctx, "discarding unreadable upload queue", "error", err)
			recs = nil
		}
	}

	s.mu.Lock()
	s.records = recs
	s.mu.Unlock()

	s.log.Info(ctx, "upload queue loaded", "records", len(recs))
	return nil
}

// persist must be called with mu held.
func (s *Store) persist(ctx context.Context) {
	recs := s.records
	if recs == nil {
		recs = []models.UploadRecord{}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		s.log.Warn(ctx, "encode upload queue", "error", err)
		return
	}
	// a cancelled caller must not leave the durable copy behind memory
	if err := s.repo.Set(context.WithoutCancel(ctx), common.LocalUploadsKey, b); err != nil {
		s.log.Warn(ctx, "persist upload queue", "error", err)
	}
}

func (s *Store) indexOf(id string) int {
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}

// Add appends rec. IDs and artifact refs must be unique within the queue.
func (s *Store) Add(ctx context.Context, rec models.UploadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.ID == rec.ID {
			return fmt.Errorf("%w: id %s", ErrDuplicate, rec.ID)
		}
		if r.LocalArtifactRef == rec.LocalArtifactRef {
			return fmt.Errorf("%w: artifact %s", ErrDuplicate, rec.LocalArtifactRef)
		}
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	rec.UpdatedAt = s.now().UTC()
	s.records = append(s.records, rec)
	s.persist(ctx)

	s.publish(ctx, models.Event{Kind: models.EventRecordAdded, RecordID: rec.ID, TicketID: rec.TicketID, Status: rec.Status})
	return nil
}

// GetAll returns a snapshot in insertion order.
func (s *Store) GetAll() []models.UploadRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UploadRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Store) filter(keep func(models.UploadRecord) bool) []models.UploadRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UploadRecord, 0)
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) FilterByStatus(status models.SyncStatus) []models.UploadRecord {
	return s.filter(func(r models.UploadRecord) bool { return r.Status == status })
}

// Retryable returns pending and failed records in insertion order.
func (s *Store) Retryable() []models.UploadRecord {
	return s.filter(func(r models.UploadRecord) bool { return r.Status.Retryable() })
}

func (s *Store) ForTicket(ticketID int) []models.UploadRecord {
	return s.filter(func(r models.UploadRecord) bool { return r.TicketID == ticketID })
}

func (s *Store) Get(id string) (models.UploadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return models.UploadRecord{}, fmt.Errorf("upload %s: %w", id, common.ErrorNotFound)
	}
	return s.records[i], nil
}

// MarkSynced records a confirmed transfer. Marking an already synced record
// again is a no-op.
func (s *Store) MarkSynced(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("upload %s: %w", id, common.ErrorNotFound)
	}
	r := &s.records[i]
	if r.Status == models.StatusSynced {
		return nil
	}

	r.Status = models.StatusSynced
	r.Attempts++
	r.LastError = ""
	r.NextAttemptAt = time.Time{}
	r.UpdatedAt = s.now().UTC()
	s.persist(ctx)

	s.publish(ctx, models.Event{Kind: models.EventStatusChanged, RecordID: r.ID, TicketID: r.TicketID, Status: r.Status})
	return nil
}

// MarkFailed records a failed attempt. nextAttempt gates automatic retries
// and may be zero. Synced is terminal, so failing a synced record errors.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("upload %s: %w", id, common.ErrorNotFound)
	}
	r := &s.records[i]
	if r.Status == models.StatusSynced {
		return fmt.Errorf("upload %s: %w", id, ErrAlreadySynced)
	}

	changed := r.Status != models.StatusFailed
	r.Status = models.StatusFailed
	r.Attempts++
	r.LastError = reason
	r.NextAttemptAt = nextAttempt.UTC()
	r.UpdatedAt = s.now().UTC()
	s.persist(ctx)

	if changed {
		s.publish(ctx, models.Event{Kind: models.EventStatusChanged, RecordID: r.ID, TicketID: r.TicketID, Status: r.Status})
	}
	return nil
}

// Remove drops a synced record. Records that have not reached the server
// cannot be removed.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("upload %s: %w", id, common.ErrorNotFound)
	}
	r := s.records[i]
	if r.Status != models.StatusSynced {
		return fmt.Errorf("upload %s is %s: %w", id, r.Status, ErrNotSynced)
	}

	s.records = append(s.records[:i:i], s.records[i+1:]...)
	s.persist(ctx)

	s.publish(ctx, models.Event{Kind: models.EventRecordsRemoved, RecordID: r.ID, TicketID: r.TicketID, Status: r.Status})
	return nil
}

// CleanupSynced removes every synced record and returns them so callers can
// release their artifacts. Running it twice is harmless: the second call
// returns nothing and does not touch storage.
func (s *Store) CleanupSynced(ctx context.Context) []models.UploadRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]models.UploadRecord, 0, len(s.records))
	removed := make([]models.UploadRecord, 0)
	for _, r := range s.records {
		if r.Status == models.StatusSynced {
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	if len(removed) == 0 {
		return removed
	}

	s.records = kept
	s.persist(ctx)

	s.publish(ctx, models.Event{Kind: models.EventRecordsRemoved, Status: models.StatusSynced})
	return removed
}

// Notify publishes ev to subscribers without touching the queue.
func (s *Store) Notify(ctx context.Context, ev models.Event) {
	s.publish(ctx, ev)
}

// Subscribe registers an observer. The returned func unregisters it and
// closes the channel. Slow subscribers lose events rather than blocking
// the queue.
func (s *Store) Subscribe() (<-chan models.Event, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan models.Event, s.bufSize)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *Store) publish(ctx context.Context, ev models.Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.log.Warn(ctx, "dropping upload event for slow subscriber", "subscriber", id, "kind", ev.Kind)
		}
	}
}
