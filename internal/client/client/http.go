package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/netx"
)

const (
	healthPath = "/api/health"
	uploadPath = "/api/employee-uploads"
	ticketPath = "/api/tickets/"

	// offlineUploaderField is the backend's name for OfflineUploaderID.
	offlineUploaderField = "offline_employee_id"

	maxErrorBody = 1 << 10
)

type HTTPClient struct {
	baseURL     string
	hc          *http.Client
	accessToken string
	log         logging.Logger
}

type HTTPOption func(*HTTPClient)

func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.hc = hc }
}

func WithAccessToken(token string) HTTPOption {
	return func(c *HTTPClient) { c.accessToken = token }
}

func NewHTTPClient(baseURL string, log logging.Logger, opts ...HTTPOption) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}

	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{},
		log:     log.With("component", "http_client"),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *HTTPClient) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.accessToken != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.accessToken)
	}
	return req, nil
}

func (c *HTTPClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	return resp, nil
}

func mapTransportError(err error) error {
	if netx.IsNetError(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func mapStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	default:
		return nil
	}
}

// Ping treats any 2xx from the health endpoint as reachable.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if err := mapStatus(resp); err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s", ErrUnavailable, resp.Status)
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// UploadMedia posts one photo. Any 2xx is success; the response body of a
// rejected upload is logged, never parsed.
func (c *HTTPClient) UploadMedia(ctx context.Context, r models.UploadRequest) error {
	fields := []netx.Field{
		{Name: "ticket_id", Value: strconv.Itoa(r.TicketID)},
		{Name: "media_stage", Value: string(r.Stage)},
		{Name: "latitude", Value: formatCoord(r.Latitude)},
		{Name: "longitude", Value: formatCoord(r.Longitude)},
		{Name: "uploaded_by", Value: r.UploadedBy},
	}
	if r.OfflineUploaderID != "" {
		fields = append(fields, netx.Field{Name: offlineUploaderField, Value: r.OfflineUploaderID})
	}

	name := r.FileName
	if name == "" {
		name = models.DefaultUploadFileName
	}
	body, contentType, err := netx.MultipartBody(fields, netx.FilePart{
		FieldName:   "file",
		FileName:    name,
		ContentType: "image/jpeg",
		Data:        r.Image,
	})
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, uploadPath, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	c.log.Warn(ctx, "upload rejected",
		"ticket_id", r.TicketID,
		"status", resp.StatusCode,
		"body", netx.ReadSnippet(resp.Body, maxErrorBody))

	if err := mapStatus(resp); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrUploadRejected, resp.Status)
}

// FetchTicket reads GET /api/tickets/{id}. A payload without a ticket maps
// to common.ErrorNotFound.
func (c *HTTPClient) FetchTicket(ctx context.Context, ticketID int) (*models.TicketDetail, error) {
	req, err := c.newRequest(ctx, http.MethodGet, ticketPath+strconv.Itoa(ticketID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("ticket %d: %w", ticketID, common.ErrorNotFound)
	}
	if err := mapStatus(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("fetch ticket %d: unexpected status %s", ticketID, resp.Status)
	}

	var out models.TicketDetailResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ticket %d: %w", ticketID, err)
	}
	if out.List == nil {
		return nil, fmt.Errorf("ticket %d: %w", ticketID, common.ErrorNotFound)
	}
	return out.List, nil
}
