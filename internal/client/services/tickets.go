package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
)

// TicketFetcher is satisfied by client.Client.
type TicketFetcher interface {
	FetchTicket(ctx context.Context, ticketID int) (*models.TicketDetail, error)
}

// EventSource is satisfied by uploads.Store.
type EventSource interface {
	Subscribe() (<-chan models.Event, func())
}

// TicketService reads tickets from the server and keeps the last copy of
// each in the metadata store for offline use.
type TicketService struct {
	fetcher TicketFetcher
	repo    metadata.Repository
	conn    interface{ IsConnected() bool }
	log     logging.Logger
	now     func() time.Time

	// OnRefresh, if set, receives tickets reloaded by Watch.
	OnRefresh func(*models.TicketDetail)
}

func NewTicketService(f TicketFetcher, repo metadata.Repository, conn interface{ IsConnected() bool }, log logging.Logger) *TicketService {
	return &TicketService{fetcher: f, repo: repo, conn: conn, log: log.With("component", "tickets"), now: time.Now}
}

func cacheKey(ticketID int) string {
	return common.TicketCacheKeyPrefix + strconv.Itoa(ticketID)
}

func fetchedKey(ticketID int) string {
	return common.TicketFetchedKeyPrefix + strconv.Itoa(ticketID)
}

// Fetch returns the live ticket when online, falling back to the cached
// copy when offline or when the server cannot be reached.
func (s *TicketService) Fetch(ctx context.Context, ticketID int) (*models.TicketDetail, error) {
	if s.conn.IsConnected() {
		td, err := s.fetcher.FetchTicket(ctx, ticketID)
		if err == nil {
			s.store(ctx, td)
			return td, nil
		}
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		s.log.Warn(ctx, "ticket fetch failed, using cache", "ticket_id", ticketID, "error", err)
	}
	return s.Cached(ctx, ticketID)
}

func (s *TicketService) Cached(ctx context.Context, ticketID int) (*models.TicketDetail, error) {
	raw, err := s.repo.Get(ctx, cacheKey(ticketID))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("ticket %d not cached: %w", ticketID, common.ErrorNotFound)
	}
	var td models.TicketDetail
	if err := json.Unmarshal(raw, &td); err != nil {
		return nil, fmt.Errorf("decode cached ticket %d: %w", ticketID, err)
	}
	return &td, nil
}

func (s *TicketService) store(ctx context.Context, td *models.TicketDetail) {
	b, err := json.Marshal(td)
	if err != nil {
		s.log.Warn(ctx, "encode ticket", "ticket_id", td.TicketID, "error", err)
		return
	}
	stamp := []byte(s.now().UTC().Format(time.RFC3339Nano))
	err = s.repo.SetMany(ctx, map[string][]byte{
		cacheKey(td.TicketID):   b,
		fetchedKey(td.TicketID): stamp,
	})
	if err != nil {
		s.log.Warn(ctx, "cache ticket", "ticket_id", td.TicketID, "error", err)
	}
}

// Prune drops cached tickets fetched more than maxAge ago, unless keep
// reports the ticket as still in use. It returns how many were dropped.
func (s *TicketService) Prune(ctx context.Context, maxAge time.Duration, keep func(ticketID int) bool) (int, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune ticket cache: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	dropped := 0
	for k, v := range all {
		idStr, ok := strings.CutPrefix(k, common.TicketFetchedKeyPrefix)
		if !ok {
			continue
		}
		id, err := strconv.Atoi(idStr)
		if err != nil {
			continue
		}
		if at, err := time.Parse(time.RFC3339Nano, string(v)); err == nil && at.After(cutoff) {
			continue
		}
		if keep != nil && keep(id) {
			continue
		}
		for _, key := range []string{cacheKey(id), fetchedKey(id)} {
			if err := s.repo.Delete(ctx, key); err != nil {
				return dropped, fmt.Errorf("prune ticket %d: %w", id, err)
			}
		}
		dropped++
	}
	if dropped > 0 {
		s.log.Info(ctx, "ticket cache pruned", "dropped", dropped)
	}
	return dropped, nil
}

// Watch reloads a ticket whenever one of its uploads reaches the server.
// It returns when ctx is done.
func (s *TicketService) Watch(ctx context.Context, src EventSource) {
	events, cancel := src.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != models.EventTicketRefresh {
				continue
			}
			td, err := s.Fetch(ctx, ev.TicketID)
			if err != nil {
				s.log.Warn(ctx, "ticket refresh failed", "ticket_id", ev.TicketID, "error", err)
				continue
			}
			if s.OnRefresh != nil {
				s.OnRefresh(td)
			}
		}
	}
}
