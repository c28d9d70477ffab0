// Package models defines client-side data models used by the field-sync client.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidStatus = errors.New("invalid sync status")
	ErrInvalidStage  = errors.New("invalid media stage")
)

// SyncStatus is the delivery state of a locally captured artifact.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusFailed  SyncStatus = "failed"
	StatusSynced  SyncStatus = "synced"
)

// legacySuccess is an older spelling of StatusSynced still present in
// queues written by previous releases.
const legacySuccess = "success"

// ParseSyncStatus converts s into a SyncStatus. The legacy "success" value
// is folded into StatusSynced.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(StatusPending):
		return StatusPending, nil
	case string(StatusFailed):
		return StatusFailed, nil
	case string(StatusSynced), legacySuccess:
		return StatusSynced, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// UnmarshalText lets persisted queues containing "success" decode cleanly.
func (s *SyncStatus) UnmarshalText(b []byte) error {
	v, err := ParseSyncStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Retryable reports whether records in this status are picked up by a sync run.
func (s SyncStatus) Retryable() bool {
	return s == StatusPending || s == StatusFailed
}

// Stage classifies the purpose of an uploaded photo.
type Stage string

const (
	// StageCustomer is the unset stage used for customer-submitted media.
	StageCustomer Stage = ""
	StagePre      Stage = "pre"
	StagePost     Stage = "post"
)

// ParseStage accepts "pre", "post", and "" or "customer" for the unset stage.
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "customer":
		return StageCustomer, nil
	case string(StagePre):
		return StagePre, nil
	case string(StagePost):
		return StagePost, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, s)
	}
}

func (s Stage) String() string {
	if s == StageCustomer {
		return "customer"
	}
	return string(s)
}

// Location is the capture-site position. Zero values mean "unavailable".
type Location struct {
	Latitude  float64
	Longitude float64
}

// UploadRecord describes one captured photo pending or completed delivery.
type UploadRecord struct {
	// ID is generated at creation time and never reused.
	ID string `json:"id"`
	// TicketID is the owning ticket.
	TicketID int `json:"ticket_id"`
	// LocalArtifactRef is an opaque handle into the local media store.
	LocalArtifactRef string `json:"local_artifact_ref"`
	Stage            Stage  `json:"media_stage"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// UploadedBy is the acting user id.
	UploadedBy string `json:"uploaded_by"`
	// OfflineUploaderID duplicates UploadedBy for records created offline.
	OfflineUploaderID string `json:"offline_uploader_id,omitempty"`

	Status SyncStatus `json:"status"`

	// Attempts counts transfer attempts made for this record.
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	// NextAttemptAt gates automatic retries; manual retries ignore it.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUploadRecord builds a pending record for an artifact already saved in
// the media store.
func NewUploadRecord(ticketID int, ref string, stage Stage, loc Location, uploadedBy string, now time.Time) UploadRecord {
	return UploadRecord{
		ID:                uuid.NewString(),
		TicketID:          ticketID,
		LocalArtifactRef:  ref,
		Stage:             stage,
		Latitude:          loc.Latitude,
		Longitude:         loc.Longitude,
		UploadedBy:        uploadedBy,
		OfflineUploaderID: uploadedBy,
		Status:            StatusPending,
		CreatedAt:         now.UTC(),
		UpdatedAt:         now.UTC(),
	}
}

// Request turns the record plus resolved image bytes into an executor input.
func (r UploadRecord) Request(image []byte) UploadRequest {
	return UploadRequest{
		TicketID:          r.TicketID,
		Stage:             r.Stage,
		Latitude:          r.Latitude,
		Longitude:         r.Longitude,
		UploadedBy:        r.UploadedBy,
		OfflineUploaderID: r.OfflineUploaderID,
		Image:             image,
	}
}
