package mockserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"courtside/internal/models"
)

// DefaultHoldTTL mirrors the production arbiter's ten minute hold window.
const DefaultHoldTTL = 10 * time.Minute

type slotState struct {
	slot        models.Slot
	heldBy      string
	holdExpires time.Time
	idemKey     string
}

// holdActive reports whether the slot carries a live hold at instant now.
func (s *slotState) holdActive(now time.Time) bool {
	return s.heldBy != "" && now.Before(s.holdExpires)
}

type paymentVerdict struct {
	status models.BookingStatus
	err    string
}

// Server is an in-process reservation server used by the dev mode and the
// end-to-end tests. It arbitrates holds the way the real server does: one
// session per slot, holds expire lazily, uploads are idempotent, and a proof
// verifies exactly when the claimed amount matches the slot price.
type Server struct {
	logger  *zerolog.Logger
	router  *httprouter.Router
	holdTTL time.Duration
	token   string

	mu       sync.Mutex
	now      func() time.Time
	slots    map[string]*slotState
	bookings map[string][]models.Booking
	verdicts map[string]paymentVerdict
	revoked  bool
}

type Option func(*Server)

// WithHoldTTL overrides the hold window.
func WithHoldTTL(ttl time.Duration) Option {
	return func(s *Server) { s.holdTTL = ttl }
}

// WithNow injects a clock for deterministic expiry tests.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithToken makes every endpoint require a matching bearer token.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

func New(logger *zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		logger:   logger,
		holdTTL:  DefaultHoldTTL,
		now:      time.Now,
		slots:    make(map[string]*slotState),
		bookings: make(map[string][]models.Booking),
		verdicts: make(map[string]paymentVerdict),
	}
	for _, opt := range opts {
		opt(s)
	}

	router := httprouter.New()
	router.GET("/api/v1/availability/:vendorID", s.auth(s.availability))
	router.POST("/api/v1/slots/:slotID/lock", s.auth(s.lock))
	router.POST("/api/v1/slots/:slotID/unlock", s.auth(s.unlock))
	router.POST("/api/v1/payments/upload", s.auth(s.uploadPayment))
	router.GET("/api/v1/bookings", s.auth(s.listBookings))
	router.GET("/api/v1/auth/me", s.auth(s.me))
	s.router = router
	return s
}

// Handler returns the HTTP handler for mounting or httptest.
func (s *Server) Handler() http.Handler { return s.router }

// Seed loads slots into the server state, replacing any previous state for
// the same IDs.
func (s *Server) Seed(slots []models.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range slots {
		s.slots[slot.ID] = &slotState{slot: slot}
	}
}

// RevokeSessions makes every subsequent request answer 401 until restored.
func (s *Server) RevokeSessions(revoked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked = revoked
}

func (s *Server) auth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s.mu.Lock()
		revoked := s.revoked
		s.mu.Unlock()
		if revoked {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r, ps)
	}
}

func (s *Server) availability(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	vendorID := ps.ByName("vendorID")
	date := r.URL.Query().Get("date")
	if !models.ValidDate(date) {
		http.Error(w, "bad date", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	now := s.now()
	out := make([]map[string]any, 0)
	for _, state := range s.slots {
		if state.slot.VendorID != vendorID || state.slot.Date != date {
			continue
		}
		s.expireHoldLocked(state, now)

		status := state.slot.Status
		if state.holdActive(now) {
			status = models.SlotLocked
		}
		out = append(out, map[string]any{
			"slot_id":       state.slot.ID,
			"resource_id":   state.slot.ResourceID,
			"resource_name": state.slot.ResourceName,
			"service_id":    state.slot.ServiceID,
			"start_time":    state.slot.StartTime,
			"end_time":      state.slot.EndTime,
			"price":         state.slot.Price,
			"status":        string(status),
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"available_slots": out})
}

func (s *Server) lock(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	slotID := ps.ByName("slotID")
	session := r.Header.Get("X-Session-ID")

	var body struct {
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.slots[slotID]
	if !ok {
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "error": "slot_unavailable"})
		return
	}

	now := s.now()
	s.expireHoldLocked(state, now)

	switch {
	case !state.slot.Status.Bookable():
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "error": "already_booked"})
		return
	case state.holdActive(now) && state.heldBy != session:
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "error": "slot_locked"})
		return
	case state.holdActive(now) && state.idemKey == body.IdempotencyKey:
		// Retried request: same answer as the first.
	default:
		state.heldBy = session
		state.holdExpires = now.Add(s.holdTTL)
		state.idemKey = body.IdempotencyKey
	}

	s.logger.Debug().Str("slot_id", slotID).Str("session", session).Msg("slot locked")
	writeJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"hold_expires_at":    state.holdExpires.UTC().Format(time.RFC3339),
		"expires_in_minutes": int(state.holdExpires.Sub(now).Minutes()),
	})
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	slotID := ps.ByName("slotID")
	session := r.Header.Get("X-Session-ID")

	s.mu.Lock()
	if state, ok := s.slots[slotID]; ok && state.heldBy == session {
		state.heldBy = ""
		state.holdExpires = time.Time{}
		state.idemKey = ""
	}
	s.mu.Unlock()

	// Releasing a hold that is already gone is a no-op.
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) uploadPayment(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	slotID := r.FormValue("slot_id")
	idemKey := r.FormValue("idempotency_key")
	session := r.Header.Get("X-Session-ID")
	amount, err := strconv.ParseInt(r.FormValue("amount_claimed"), 10, 64)
	if err != nil {
		http.Error(w, "bad amount", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	file.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	if verdict, ok := s.verdicts[idemKey]; ok {
		s.writeVerdictLocked(w, verdict)
		return
	}

	state, ok := s.slots[slotID]
	now := s.now()
	if ok {
		s.expireHoldLocked(state, now)
	}
	if !ok || state.heldBy != session || !state.holdActive(now) {
		verdict := paymentVerdict{err: "hold_expired"}
		s.verdicts[idemKey] = verdict
		s.writeVerdictLocked(w, verdict)
		return
	}

	if amount != state.slot.Price {
		// Rejection leaves the hold alone so the session can resubmit.
		verdict := paymentVerdict{err: "amount_mismatch"}
		s.verdicts[idemKey] = verdict
		s.writeVerdictLocked(w, verdict)
		return
	}

	state.slot.Status = models.SlotPending
	state.heldBy = ""
	state.holdExpires = time.Time{}

	booking := models.Booking{
		ID:         fmt.Sprintf("bk-%s-%d", slotID, len(s.bookings[session])+1),
		SlotID:     slotID,
		VendorID:   state.slot.VendorID,
		VendorName: state.slot.ResourceName,
		Date:       state.slot.Date,
		Status:     models.BookingPending,
		Amount:     amount,
		PaymentID:  idemKey,
		CreatedAt:  now,
	}
	s.bookings[session] = append(s.bookings[session], booking)

	verdict := paymentVerdict{status: models.BookingPending}
	s.verdicts[idemKey] = verdict

	s.logger.Info().Str("slot_id", slotID).Str("booking_id", booking.ID).Msg("payment verified")
	s.writeVerdictLocked(w, verdict)
}

func (s *Server) writeVerdictLocked(w http.ResponseWriter, verdict paymentVerdict) {
	if verdict.err != "" {
		writeJSON(w, http.StatusConflict, map[string]any{"success": false, "error": verdict.err})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": string(verdict.status)})
}

func (s *Server) listBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	session := r.Header.Get("X-Session-ID")

	s.mu.Lock()
	bookings := append([]models.Booking(nil), s.bookings[session]...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{"session_id": r.Header.Get("X-Session-ID")})
}

// expireHoldLocked clears a hold whose window has passed. Expiry is lazy:
// nothing ticks server-side, state settles on the next read.
func (s *Server) expireHoldLocked(state *slotState, now time.Time) {
	if state.heldBy != "" && !now.Before(state.holdExpires) {
		state.heldBy = ""
		state.holdExpires = time.Time{}
		state.idemKey = ""
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
