package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"courtside/internal/config"
	"courtside/internal/models"
)

// Client talks to the reservation server. Every call carries the session
// header, respects the configured timeout, and passes a client-side rate
// limiter so polling cannot flood the server.
type Client struct {
	baseURL    string
	token      string
	sessionID  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(cfg config.ServerConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		sessionID:  uuid.NewString(),
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
	}
}

// SessionID identifies this client instance to the server's hold arbiter.
func (c *Client) SessionID() string { return c.sessionID }

type availabilityResponse struct {
	AvailableSlots []wireSlot `json:"available_slots"`
}

type wireSlot struct {
	SlotID       string `json:"slot_id"`
	ResourceID   string `json:"resource_id"`
	ResourceName string `json:"resource_name"`
	ServiceID    string `json:"service_id"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	Price        int64  `json:"price"`
	Status       string `json:"status"`
}

// Availability fetches raw slots for a vendor and date (YYYY-MM-DD). Slots
// with a status this client does not know are dropped, not guessed at.
func (c *Client) Availability(ctx context.Context, vendorID, date string) ([]models.Slot, error) {
	endpoint := fmt.Sprintf("%s/api/v1/availability/%s?date=%s",
		c.baseURL, url.PathEscape(vendorID), url.QueryEscape(date))

	var resp availabilityResponse
	if err := c.doGet(ctx, "availability", endpoint, &resp); err != nil {
		return nil, err
	}

	slots := make([]models.Slot, 0, len(resp.AvailableSlots))
	for _, ws := range resp.AvailableSlots {
		status, err := models.ParseSlotStatus(ws.Status)
		if err != nil {
			continue
		}
		slots = append(slots, models.Slot{
			ID:           ws.SlotID,
			VendorID:     vendorID,
			ResourceID:   ws.ResourceID,
			ResourceName: ws.ResourceName,
			ServiceID:    ws.ServiceID,
			Date:         date,
			StartTime:    ws.StartTime,
			EndTime:      ws.EndTime,
			Price:        ws.Price,
			Status:       status,
		})
	}
	return slots, nil
}

// LockResult is the server's answer to a successful lock request.
type LockResult struct {
	HoldExpiresAt    time.Time `json:"hold_expires_at"`
	ExpiresInMinutes int       `json:"expires_in_minutes"`
}

type lockResponse struct {
	Success          bool      `json:"success"`
	HoldExpiresAt    time.Time `json:"hold_expires_at"`
	ExpiresInMinutes int       `json:"expires_in_minutes"`
	Error            string    `json:"error"`
}

// Lock requests a hold on the slot. The idempotency key makes a retried
// request indistinguishable from the first to the server.
func (c *Client) Lock(ctx context.Context, slotID, idempotencyKey string) (*LockResult, error) {
	endpoint := fmt.Sprintf("%s/api/v1/slots/%s/lock", c.baseURL, url.PathEscape(slotID))
	body := map[string]string{"idempotency_key": idempotencyKey}

	var resp lockResponse
	if err := c.doPost(ctx, "lock", endpoint, body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, serverError(resp.Error)
	}
	return &LockResult{HoldExpiresAt: resp.HoldExpiresAt, ExpiresInMinutes: resp.ExpiresInMinutes}, nil
}

type unlockResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Unlock releases a hold. Releasing a hold that is already gone is a no-op on
// the server, so errors other than transport ones are not expected.
func (c *Client) Unlock(ctx context.Context, slotID string) error {
	endpoint := fmt.Sprintf("%s/api/v1/slots/%s/unlock", c.baseURL, url.PathEscape(slotID))

	var resp unlockResponse
	if err := c.doPost(ctx, "unlock", endpoint, map[string]string{}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return serverError(resp.Error)
	}
	return nil
}

// UploadResult carries the server's verdict on a payment proof.
type UploadResult struct {
	Status models.BookingStatus `json:"status"`
}

type uploadResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Error   string `json:"error"`
}

// UploadPayment submits proof-of-payment as multipart form data. Upload is a
// distinct step from verification: a transport failure here is retryable with
// the same bytes, a rejection is not.
func (c *Client) UploadPayment(ctx context.Context, proof *models.PaymentProof) (*UploadResult, error) {
	endpoint := fmt.Sprintf("%s/api/v1/payments/upload", c.baseURL)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("slot_id", proof.SlotID); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if err := writer.WriteField("amount_claimed", strconv.FormatInt(proof.AmountClaimed, 10)); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if err := writer.WriteField("idempotency_key", proof.IdempotencyKey); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	part, err := writer.CreateFormFile("file", proof.FileName)
	if err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(proof.Image); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var resp uploadResponse
	if err := c.do(ctx, "payments.upload", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, serverError(resp.Error)
	}

	status, err := models.ParseBookingStatus(resp.Status)
	if err != nil {
		return nil, fmt.Errorf("payments.upload: %w", err)
	}
	return &UploadResult{Status: status}, nil
}

type bookingsResponse struct {
	Bookings []models.Booking `json:"bookings"`
}

// ListBookings returns the caller's bookings across all states.
func (c *Client) ListBookings(ctx context.Context) ([]models.Booking, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bookings", c.baseURL)

	var resp bookingsResponse
	if err := c.doGet(ctx, "bookings.list", endpoint, &resp); err != nil {
		return nil, err
	}
	return resp.Bookings, nil
}

// Me probes session validity. A 401 surfaces as ErrAuthExpired for the
// session collaborator to act on.
func (c *Client) Me(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/api/v1/auth/me", c.baseURL)
	return c.doGet(ctx, "auth.me", endpoint, nil)
}

func (c *Client) doGet(ctx context.Context, op, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	return c.do(ctx, op, req, out)
}

func (c *Client) doPost(ctx context.Context, op, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, op, req, out)
}

func (c *Client) do(ctx context.Context, op string, req *http.Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &NetworkError{Op: op, Err: err}
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Session-ID", c.sessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAuthExpired
	case resp.StatusCode == http.StatusConflict:
		return c.decodeErrorBody(resp.Body)
	case resp.StatusCode >= 500:
		return &NetworkError{Op: op, Err: fmt.Errorf("http %d", resp.StatusCode)}
	case resp.StatusCode >= 300:
		return fmt.Errorf("%s: http %d", op, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) decodeErrorBody(body io.Reader) error {
	var wire struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&wire); err != nil || wire.Error == "" {
		return ErrConflict
	}
	return serverError(wire.Error)
}
