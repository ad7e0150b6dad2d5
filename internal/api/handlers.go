package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cinemabooking/internal/domain"
	"cinemabooking/internal/models"
	"cinemabooking/internal/service"
	"cinemabooking/internal/worker"

	"github.com/rs/zerolog"
)

const healthPath = "/api/bookings/health"

// BookingAPI is the part of the booking service the HTTP surface needs.
type BookingAPI interface {
	CreateBooking(ctx context.Context, req models.BookingRequest) (*models.Booking, error)
	CreateBookingAsync(ctx context.Context, req models.BookingRequest) (<-chan service.AsyncResult, error)
	CancelBooking(ctx context.Context, bookingID int64, userEmail string) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, userEmail string) ([]*models.Booking, error)
	StatusMessage(booking *models.Booking) string
}

type bookingHandlers struct {
	bookings BookingAPI
	probe    LockProbe
	log      zerolog.Logger
}

type bookingResponse struct {
	ID              int64                `json:"id"`
	ScreeningID     int64                `json:"screening_id"`
	UserEmail       string               `json:"user_email"`
	Seats           int                  `json:"number_of_seats"`
	TotalPriceCents int64                `json:"total_price_cents"`
	Status          models.BookingStatus `json:"status"`
	StatusMessage   string               `json:"status_message"`
	CreatedAt       time.Time            `json:"created_at"`
	ConfirmedAt     *time.Time           `json:"confirmed_at,omitempty"`
	MovieTitle      string               `json:"movie_title"`
	ScreeningTime   *time.Time           `json:"screening_time,omitempty"`
}

type errorResponse struct {
	ErrorCode string    `json:"error_code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *bookingHandlers) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/bookings", h.handleCreate)
	mux.HandleFunc("POST /api/bookings/async", h.handleCreateAsync)
	mux.HandleFunc("GET /api/bookings", h.handleList)
	mux.HandleFunc("GET "+healthPath, h.handleHealth)
	mux.HandleFunc("GET /api/bookings/{id}", h.handleGet)
	mux.HandleFunc("DELETE /api/bookings/{id}", h.handleCancel)
}

func (h *bookingHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBookingRequest(w, r)
	if !ok {
		return
	}

	booking, err := h.bookings.CreateBooking(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toResponse(booking))
}

func (h *bookingHandlers) handleCreateAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBookingRequest(w, r)
	if !ok {
		return
	}

	results, err := h.bookings.CreateBookingAsync(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	select {
	case res := <-results:
		if res.Err != nil {
			h.writeServiceError(w, res.Err)
			return
		}
		writeJSON(w, http.StatusCreated, h.toResponse(res.Booking))
	case <-r.Context().Done():
		h.log.Info().Err(r.Context().Err()).Msg("client left before async booking finished")
	}
}

func (h *bookingHandlers) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(booking))
}

func (h *bookingHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("userEmail"))
	if email == "" {
		writeError(w, http.StatusBadRequest, string(domain.KindValidation), "userEmail is required")
		return
	}

	bookings, err := h.bookings.ListBookings(r.Context(), email)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	out := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, h.toResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *bookingHandlers) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("userEmail"))
	if email == "" {
		writeError(w, http.StatusBadRequest, string(domain.KindValidation), "userEmail is required")
		return
	}

	booking, err := h.bookings.CancelBooking(r.Context(), id, email)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(booking))
}

// handleHealth always answers 200; bookings keep working with a degraded lock store.
func (h *bookingHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	lockStatus := "UP"
	if h.probe != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.probe.Healthy(ctx); err != nil {
			lockStatus = "DOWN"
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "UP",
		"lock":   lockStatus,
	})
}

func (h *bookingHandlers) toResponse(b *models.Booking) bookingResponse {
	return bookingResponse{
		ID:              b.ID,
		ScreeningID:     b.ScreeningID,
		UserEmail:       b.UserEmail,
		Seats:           b.Seats,
		TotalPriceCents: b.TotalPriceCents,
		Status:          b.Status,
		StatusMessage:   h.bookings.StatusMessage(b),
		CreatedAt:       b.CreatedAt,
		ConfirmedAt:     b.ConfirmedAt,
		MovieTitle:      b.MovieTitle,
		ScreeningTime:   b.ScreeningTime,
	}
}

func (h *bookingHandlers) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, worker.ErrPoolFull) || errors.Is(err, worker.ErrPoolClosed) {
		writeError(w, http.StatusServiceUnavailable, "overloaded", domain.GenericUnavailableMessage)
		return
	}

	kind := domain.KindOf(err)
	code := statusForKind(kind)
	if code >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("kind", string(kind)).Msg("booking request failed")
	}
	writeError(w, code, string(kind), domain.PublicMessage(err))
}

func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindUnavailable, domain.KindIllegalState:
		return http.StatusConflict
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindTransient, domain.KindLockUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBookingRequest(w http.ResponseWriter, r *http.Request) (models.BookingRequest, bool) {
	var req models.BookingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.KindValidation), "invalid JSON body")
		return req, false
	}
	return req, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, string(domain.KindValidation), "invalid booking id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorResponse{
		ErrorCode: code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}
