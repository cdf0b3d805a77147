package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtside/internal/config"
	"courtside/internal/models"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.ServerConfig{
		BaseURL:        baseURL,
		RequestTimeout: 2 * time.Second,
		RPS:            100,
		Burst:          100,
	})
}

func TestAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/availability/v1", r.URL.Path)
		assert.Equal(t, "2026-09-01", r.URL.Query().Get("date"))
		assert.NotEmpty(t, r.Header.Get("X-Session-ID"))

		json.NewEncoder(w).Encode(map[string]any{
			"available_slots": []map[string]any{
				{"slot_id": "s1", "resource_id": "c1", "resource_name": "Court 1", "start_time": "09:00", "end_time": "10:00", "price": 1500, "status": "available"},
				{"slot_id": "s2", "resource_id": "c1", "resource_name": "Court 1", "start_time": "10:00", "end_time": "11:00", "status": "locked"},
				{"slot_id": "s3", "resource_id": "c1", "resource_name": "Court 1", "start_time": "11:00", "end_time": "12:00", "status": "weird"},
			},
		})
	}))
	defer srv.Close()

	slots, err := newTestClient(srv.URL).Availability(context.Background(), "v1", "2026-09-01")
	require.NoError(t, err)

	// The unknown-status slot is dropped.
	require.Len(t, slots, 2)
	assert.Equal(t, models.SlotAvailable, slots[0].Status)
	assert.Equal(t, "2026-09-01", slots[0].Date)
	assert.Equal(t, int64(1500), slots[0].Price)
}

func TestLock(t *testing.T) {
	expires := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)

	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/slots/s1/lock", r.URL.Path)
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "idem-1", body["idempotency_key"])

			json.NewEncoder(w).Encode(map[string]any{
				"success":            true,
				"hold_expires_at":    expires,
				"expires_in_minutes": 10,
			})
		}))
		defer srv.Close()

		result, err := newTestClient(srv.URL).Lock(context.Background(), "s1", "idem-1")
		require.NoError(t, err)
		assert.True(t, result.HoldExpiresAt.Equal(expires))
		assert.Equal(t, 10, result.ExpiresInMinutes)
	})

	t.Run("Conflict", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "slot_unavailable"})
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Lock(context.Background(), "s1", "idem-1")
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("ConflictStatusCode", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]any{"error": "slot_locked"})
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Lock(context.Background(), "s1", "idem-1")
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("AuthExpired", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Lock(context.Background(), "s1", "idem-1")
		assert.ErrorIs(t, err, ErrAuthExpired)
	})

	t.Run("ServerErrorIsRetryable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Lock(context.Background(), "s1", "idem-1")
		require.Error(t, err)
		assert.True(t, IsRetryable(err))
	})
}

func TestUploadPayment(t *testing.T) {
	t.Run("Verified", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "s1", r.FormValue("slot_id"))
			assert.Equal(t, "1500", r.FormValue("amount_claimed"))
			assert.Equal(t, "idem-9", r.FormValue("idempotency_key"))

			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			assert.Equal(t, "proof.jpg", header.Filename)

			json.NewEncoder(w).Encode(map[string]any{"success": true, "status": "pending"})
		}))
		defer srv.Close()

		result, err := newTestClient(srv.URL).UploadPayment(context.Background(), &models.PaymentProof{
			SlotID:         "s1",
			FileName:       "proof.jpg",
			Image:          []byte{0xff, 0xd8},
			AmountClaimed:  1500,
			IdempotencyKey: "idem-9",
		})
		require.NoError(t, err)
		assert.Equal(t, models.BookingPending, result.Status)
	})

	t.Run("HoldExpired", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "hold_expired"})
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).UploadPayment(context.Background(), &models.PaymentProof{
			SlotID: "s1", FileName: "p.jpg", Image: []byte{1}, AmountClaimed: 1500,
		})
		assert.ErrorIs(t, err, ErrHoldExpired)
	})

	t.Run("Rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "verification_rejected"})
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).UploadPayment(context.Background(), &models.PaymentProof{
			SlotID: "s1", FileName: "p.jpg", Image: []byte{1}, AmountClaimed: 1500,
		})
		assert.ErrorIs(t, err, ErrVerificationRejected)
	})
}

func TestListBookings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"bookings": []map[string]any{
				{"id": "b1", "slot_id": "s1", "status": "confirmed", "amount": 1500},
			},
		})
	}))
	defer srv.Close()

	bookings, err := newTestClient(srv.URL).ListBookings(context.Background())
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, models.BookingConfirmed, bookings[0].Status)
}

func TestMe(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()
		assert.NoError(t, newTestClient(srv.URL).Me(context.Background()))
	})

	t.Run("Expired", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()
		assert.ErrorIs(t, newTestClient(srv.URL).Me(context.Background()), ErrAuthExpired)
	})
}

func TestNetworkErrorTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(config.ServerConfig{
		BaseURL:        srv.URL,
		RequestTimeout: 20 * time.Millisecond,
		RPS:            100,
		Burst:          100,
	})

	err := client.Me(context.Background())
	require.Error(t, err)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffFactor: 2}

	assert.Equal(t, time.Second, policy.NextDelay(1))
	assert.Equal(t, 2*time.Second, policy.NextDelay(2))
	assert.Equal(t, 4*time.Second, policy.NextDelay(3))
	assert.Equal(t, 5*time.Second, policy.NextDelay(4), "clamped at max")
	assert.Equal(t, time.Second, policy.NextDelay(0), "attempt floored at 1")
}

func TestRetryPolicyDefaults(t *testing.T) {
	var policy RetryPolicy
	assert.Equal(t, 500*time.Millisecond, policy.NextDelay(1))
}
