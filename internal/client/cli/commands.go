package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

var (
	errUsage     = errors.New("usage")
	errQueueBusy = errors.New("uploads still queued")
	errAmbiguous = errors.New("ambiguous upload id")
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func parseTicketID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ticket id %q", s)
	}
	return id, nil
}

func parseLocation(args []string) (models.Location, error) {
	var loc models.Location
	if len(args) == 0 {
		return loc, nil
	}
	if len(args) != 2 {
		return loc, errUsage
	}
	lat, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return loc, fmt.Errorf("invalid latitude %q", args[0])
	}
	lon, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return loc, fmt.Errorf("invalid longitude %q", args[1])
	}
	return models.Location{Latitude: lat, Longitude: lon}, nil
}

// Capture queues a photo from disk: capture <ticket> <stage> <path> [lat lon].
func (a *App) Capture(ctx context.Context, args []string) error {
	if len(args) < 3 {
		printlnFn("Usage: capture <ticket> <pre|post|customer> <path> [lat lon]")
		return errUsage
	}

	ticketID, err := parseTicketID(args[0])
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	stage, err := models.ParseStage(args[1])
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	loc, err := parseLocation(args[3:])
	if err != nil {
		printlnFn("Usage: capture <ticket> <pre|post|customer> <path> [lat lon]")
		return err
	}

	f, err := a.fs.Open(args[2])
	if err != nil {
		printlnFn("Cannot open photo:", err)
		return err
	}
	defer f.Close()

	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		printlnFn("Cannot decode photo:", err)
		return err
	}

	rec, err := a.sync.CaptureAndUpload(ctx, services.CaptureRequest{
		TicketID: ticketID,
		Stage:    stage,
		Location: loc,
		Image:    img,
	})
	if err != nil {
		a.log.Error(ctx, "capture failed", "ticket_id", ticketID, "error", err)
		printlnFn("Capture failed:", err)
		return err
	}

	if a.monitor.IsConnected() {
		printlnFn(fmt.Sprintf("Queued %s for ticket %d, uploading", shortID(rec.ID), ticketID))
	} else {
		printlnFn(fmt.Sprintf("Queued %s for ticket %d, will upload when back online", shortID(rec.ID), ticketID))
	}
	return nil
}

// List prints the queue, optionally filtered: list [pending|failed|synced].
func (a *App) List(_ context.Context, args []string) error {
	records := a.store.GetAll()
	if len(args) > 0 {
		st, err := models.ParseSyncStatus(args[0])
		if err != nil {
			printlnFn(err.Error())
			return err
		}
		records = a.store.FilterByStatus(st)
	}

	if len(records) == 0 {
		printlnFn("Queue is empty")
		return nil
	}
	for _, r := range records {
		line := fmt.Sprintf("%s  ticket=%d  stage=%s  status=%s  attempts=%d  created=%s",
			shortID(r.ID), r.TicketID, r.Stage, r.Status, r.Attempts, r.CreatedAt.Format(time.DateTime))
		if r.LastError != "" {
			line += "  error=" + r.LastError
		}
		printlnFn(line)
	}
	return nil
}

func (a *App) Retry(ctx context.Context) error {
	rep := a.sync.RetryPendingUploads(ctx)
	switch {
	case rep.Skipped:
		printlnFn("A sync run is already in progress")
	case rep.Offline:
		printlnFn("Offline, nothing sent")
	default:
		printlnFn(fmt.Sprintf("Attempted %d: %d synced, %d failed", rep.Attempted, rep.Synced, rep.Failed))
	}
	return nil
}

func (a *App) Cleanup(ctx context.Context) error {
	n := a.sync.CleanupSynced(ctx)
	printlnFn(fmt.Sprintf("Removed %d synced upload(s)", n))
	if dropped := a.pruneTickets(ctx); dropped > 0 {
		printlnFn(fmt.Sprintf("Dropped %d cached ticket(s)", dropped))
	}
	return nil
}

// findRecord resolves a full id or the short prefix shown by list.
func (a *App) findRecord(prefix string) (models.UploadRecord, error) {
	var found []models.UploadRecord
	for _, r := range a.store.GetAll() {
		if r.ID == prefix {
			return r, nil
		}
		if strings.HasPrefix(r.ID, prefix) {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return models.UploadRecord{}, fmt.Errorf("upload %s: %w", prefix, common.ErrorNotFound)
	case 1:
		return found[0], nil
	default:
		return models.UploadRecord{}, fmt.Errorf("%w: %s", errAmbiguous, prefix)
	}
}

// Remove drops one synced upload: remove <id>.
func (a *App) Remove(ctx context.Context, args []string) error {
	if len(args) != 1 {
		printlnFn("Usage: remove <id>")
		return errUsage
	}
	rec, err := a.findRecord(args[0])
	if err != nil {
		printlnFn(err.Error())
		return err
	}
	if err := a.sync.RemoveSynced(ctx, rec.ID); err != nil {
		printlnFn("Cannot remove:", err)
		return err
	}
	printlnFn(fmt.Sprintf("Removed %s", shortID(rec.ID)))
	return nil
}

// Reset wipes local data. It refuses while anything is still waiting to be
// uploaded, so no photo is lost.
func (a *App) Reset(ctx context.Context) error {
	if n := len(a.store.Retryable()); n > 0 {
		printlnFn(fmt.Sprintf("%d upload(s) still queued, run retry first", n))
		return errQueueBusy
	}

	a.sync.CleanupSynced(ctx)
	if err := a.kv.Clear(ctx); err != nil {
		a.log.Error(ctx, "reset local data", "error", err)
		printlnFn("Reset failed:", err)
		return err
	}
	if err := a.store.Load(ctx); err != nil {
		printlnFn("Reset failed:", err)
		return err
	}
	printlnFn("Local data cleared")
	return nil
}

// Ticket shows a ticket with its server-side media and local queue entries.
func (a *App) Ticket(ctx context.Context, args []string) error {
	if len(args) != 1 {
		printlnFn("Usage: ticket <id>")
		return errUsage
	}
	id, err := parseTicketID(args[0])
	if err != nil {
		printlnFn(err.Error())
		return err
	}

	td, err := a.tickets.Fetch(ctx, id)
	if err != nil {
		printlnFn("Cannot load ticket:", err)
		return err
	}

	printlnFn(fmt.Sprintf("#%d %s [%s]", td.TicketID, td.Title, td.StatusName))
	printlnFn(fmt.Sprintf("  media: %d pre, %d post, %d customer",
		len(td.EmployeePreUploads()), len(td.EmployeePostUploads()), len(td.CustomerUploads())))

	if local := a.store.ForTicket(id); len(local) > 0 {
		printlnFn(fmt.Sprintf("  local queue: %d", len(local)))
		for _, r := range local {
			printlnFn(fmt.Sprintf("    %s %s %s", shortID(r.ID), r.Stage, r.Status))
		}
	}

	history, err := td.History()
	if err != nil {
		a.log.Warn(ctx, "bad status tracker", "ticket_id", id, "error", err)
		return nil
	}
	for _, h := range history {
		printlnFn(fmt.Sprintf("  %s: %s", h.Status, h.Message))
	}
	return nil
}

func (a *App) Status(_ context.Context) error {
	printlnFn(fmt.Sprintf("mode=%s pending=%d failed=%d synced=%d",
		a.monitor.Mode(),
		len(a.store.FilterByStatus(models.StatusPending)),
		len(a.store.FilterByStatus(models.StatusFailed)),
		len(a.store.FilterByStatus(models.StatusSynced))))
	return nil
}
