// Package api is the local control surface of the field-sync client: queue
// inspection, manual retry and cleanup, ticket lookup and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/client/telemetry"
	"github.com/dmitrijs2005/fieldsync/internal/common"
)

const maxCaptureSize = 32 << 20

type Queue interface {
	GetAll() []models.UploadRecord
	FilterByStatus(status models.SyncStatus) []models.UploadRecord
}

type Syncer interface {
	RetryPendingUploads(ctx context.Context) services.SyncReport
	CleanupSynced(ctx context.Context) int
	CaptureAndUpload(ctx context.Context, req services.CaptureRequest) (*models.UploadRecord, error)
}

type Tickets interface {
	Fetch(ctx context.Context, ticketID int) (*models.TicketDetail, error)
}

type Connectivity interface {
	IsConnected() bool
}

// Server wires HTTP handlers for the control API.
type Server struct {
	queue   Queue
	sync    Syncer
	tickets Tickets
	conn    Connectivity
}

func New(q Queue, s Syncer, t Tickets, c Connectivity) *Server {
	return &Server{queue: q, sync: s, tickets: t, conn: c}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Get("/status", s.handleStatus)
	r.Get("/uploads", s.handleList)
	r.Post("/uploads", s.handleCapture)
	r.Post("/uploads/retry", s.handleRetry)
	r.Post("/uploads/cleanup", s.handleCleanup)
	r.Get("/tickets/{id}", s.handleTicket)
	return r
}

type statusResponse struct {
	Online  bool `json:"online"`
	Pending int  `json:"pending"`
	Failed  int  `json:"failed"`
	Synced  int  `json:"synced"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Online: s.conn.IsConnected()}
	for _, rec := range s.queue.GetAll() {
		switch rec.Status {
		case models.StatusPending:
			resp.Pending++
		case models.StatusFailed:
			resp.Failed++
		case models.StatusSynced:
			resp.Synced++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var recs []models.UploadRecord
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := models.ParseSyncStatus(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		recs = s.queue.FilterByStatus(status)
	} else {
		recs = s.queue.GetAll()
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recs})
}

func parseFloat(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.ParseFloat(v, 64)
}

// handleCapture accepts the same multipart form the backend does, so field
// tooling can queue photos through the client.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxCaptureSize); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}

	ticketID, err := strconv.Atoi(r.FormValue("ticket_id"))
	if err != nil {
		http.Error(w, "ticket_id must be an integer", http.StatusBadRequest)
		return
	}
	stage, err := models.ParseStage(r.FormValue("media_stage"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	lat, err := parseFloat(r.FormValue("latitude"))
	if err != nil {
		http.Error(w, "invalid latitude", http.StatusBadRequest)
		return
	}
	lon, err := parseFloat(r.FormValue("longitude"))
	if err != nil {
		http.Error(w, "invalid longitude", http.StatusBadRequest)
		return
	}

	f, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "read file", http.StatusBadRequest)
		return
	}

	rec, err := s.sync.CaptureAndUpload(r.Context(), services.CaptureRequest{
		TicketID: ticketID,
		Stage:    stage,
		Location: models.Location{Latitude: lat, Longitude: lon},
		JPEG:     data,
	})
	if errors.Is(err, services.ErrEmptyCapture) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	report := s.sync.RetryPendingUploads(r.Context())
	code := http.StatusOK
	if report.Skipped {
		code = http.StatusConflict
	}
	writeJSON(w, code, report)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	n := s.sync.CleanupSynced(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleTicket(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid ticket id", http.StatusBadRequest)
		return
	}
	td, err := s.tickets.Fetch(r.Context(), id)
	if errors.Is(err, common.ErrorNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, td)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
