package models

// DefaultUploadFileName is the multipart file name the backend expects.
const DefaultUploadFileName = "upload.jpg"

// UploadRequest is a single transfer attempt's payload.
type UploadRequest struct {
	TicketID          int
	Stage             Stage
	Latitude          float64
	Longitude         float64
	UploadedBy        string
	OfflineUploaderID string
	// Image holds JPEG bytes.
	Image    []byte
	FileName string
}

// UploadResult is handed to the executor's completion callback.
type UploadResult struct {
	Success bool
	Err     error
}

// EventKind names a change published by the upload store.
type EventKind string

const (
	EventRecordAdded    EventKind = "record_added"
	EventStatusChanged  EventKind = "status_changed"
	EventRecordsRemoved EventKind = "records_removed"
	// EventTicketRefresh asks interested parties to reload a ticket after
	// one of its uploads reached the server.
	EventTicketRefresh EventKind = "ticket_refresh"
)

// Event is delivered to store subscribers.
type Event struct {
	Kind     EventKind
	RecordID string
	TicketID int
	Status   SyncStatus
}
