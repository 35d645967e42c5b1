package appointment

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/frahmantamala/consultation-booking/internal"
	apptdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/appointment"
	"github.com/frahmantamala/consultation-booking/internal/transport"
	"github.com/frahmantamala/consultation-booking/pkg/logger"
)

type ServiceAPI interface {
	CreateBooking(ctx context.Context, dto CreateBookingDTO) (*BookingResult, error)
	GetAppointment(ctx context.Context, userID, appointmentID int64) (*apptdm.Appointment, error)
	CancelBooking(ctx context.Context, dto CancelBookingDTO) (*apptdm.Appointment, error)
	RescheduleBooking(ctx context.Context, dto RescheduleDTO) (*apptdm.Appointment, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger.LoggerWrapper()),
		Service:     service,
	}
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	userID := internal.UserIDFromContext(r.Context())
	if userID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var dto CreateBookingDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("CreateBooking: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	dto.ClientID = userID

	result, err := h.Service.CreateBooking(r.Context(), dto)
	if err != nil {
		logger.FromOr(r.Context(), h.Logger).Error("CreateBooking: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if !result.Confirmed {
		status = http.StatusAccepted
	}
	h.WriteJSON(w, status, result)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	userID := internal.UserIDFromContext(r.Context())
	if userID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid appointment ID")
		return
	}

	appt, err := h.Service.GetAppointment(r.Context(), userID, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewAppointmentView(appt))
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	userID := internal.UserIDFromContext(r.Context())
	if userID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid appointment ID")
		return
	}

	var dto CancelBookingDTO
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
			h.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	dto.AppointmentID = id
	dto.UserID = userID

	appt, err := h.Service.CancelBooking(r.Context(), dto)
	if err != nil {
		logger.FromOr(r.Context(), h.Logger).Error("CancelBooking: service error", "error", err, "appointment_id", id)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewAppointmentView(appt))
}

func (h *Handler) RescheduleBooking(w http.ResponseWriter, r *http.Request) {
	userID := internal.UserIDFromContext(r.Context())
	if userID == 0 {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid appointment ID")
		return
	}

	var dto RescheduleDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	dto.AppointmentID = id
	dto.UserID = userID

	appt, err := h.Service.RescheduleBooking(r.Context(), dto)
	if err != nil {
		logger.FromOr(r.Context(), h.Logger).Error("RescheduleBooking: service error", "error", err, "appointment_id", id)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, NewAppointmentView(appt))
}
