package client

import (
	"context"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

// Client is the backend contract used by the sync engine.
type Client interface {
	Close() error
	Ping(ctx context.Context) error
	UploadMedia(ctx context.Context, req models.UploadRequest) error
	FetchTicket(ctx context.Context, ticketID int) (*models.TicketDetail, error)
}
