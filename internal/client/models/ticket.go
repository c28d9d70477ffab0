package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Multimedia is a server-side media item attached to a ticket.
type Multimedia struct {
	ID         int     `json:"multimedia_id"`
	FileName   string  `json:"file_name"`
	FileType   string  `json:"file_type"`
	FilePath   string  `json:"file_path"`
	MediaStage *string `json:"media_stage"`
	UploadedBy int     `json:"uploaded_by"`
	Latitude   string  `json:"latitude"`
	Longitude  string  `json:"longitude"`
}

func (m Multimedia) stage() string {
	if m.MediaStage == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*m.MediaStage))
}

// TicketDetail is the subset of the ticket payload this client consumes.
type TicketDetail struct {
	TicketID   int          `json:"ticket_id"`
	Title      string       `json:"title"`
	StatusName string       `json:"status_name"`
	StatusID   int          `json:"status_id"`
	Multimedia []Multimedia `json:"multimedia"`
	// StatusTracker is a serialized, append-only log of status changes.
	StatusTracker *string `json:"status_tracker"`
}

// TicketDetailResponse wraps GET /api/tickets/{id}.
type TicketDetailResponse struct {
	List *TicketDetail `json:"list"`
}

// StatusTrackerEvent is one entry of a ticket's status log.
type StatusTrackerEvent struct {
	Message      string `json:"message"`
	Status       string `json:"status"`
	ChangedBy    string `json:"changedBy,omitempty"`
	EmployeeName string `json:"employeeName,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

func (t TicketDetail) byStage(stage string) []Multimedia {
	out := make([]Multimedia, 0)
	for _, m := range t.Multimedia {
		if m.stage() == stage {
			out = append(out, m)
		}
	}
	return out
}

func (t TicketDetail) EmployeePreUploads() []Multimedia  { return t.byStage(string(StagePre)) }
func (t TicketDetail) EmployeePostUploads() []Multimedia { return t.byStage(string(StagePost)) }
func (t TicketDetail) CustomerUploads() []Multimedia     { return t.byStage("") }

// History decodes the status tracker. A missing tracker yields an empty log.
func (t TicketDetail) History() ([]StatusTrackerEvent, error) {
	if t.StatusTracker == nil || strings.TrimSpace(*t.StatusTracker) == "" {
		return []StatusTrackerEvent{}, nil
	}
	var events []StatusTrackerEvent
	if err := json.Unmarshal([]byte(*t.StatusTracker), &events); err != nil {
		return nil, fmt.Errorf("decode status tracker: %w", err)
	}
	return events, nil
}
