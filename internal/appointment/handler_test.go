package appointment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/consultation-booking/internal"
	"github.com/frahmantamala/consultation-booking/internal/appointment"
	apptdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/appointment"
)

type stubService struct {
	result    *appointment.BookingResult
	appt      *apptdm.Appointment
	err       error
	createDTO appointment.CreateBookingDTO
	cancelDTO appointment.CancelBookingDTO
	moveDTO   appointment.RescheduleDTO
}

func (s *stubService) CreateBooking(_ context.Context, dto appointment.CreateBookingDTO) (*appointment.BookingResult, error) {
	s.createDTO = dto
	return s.result, s.err
}

func (s *stubService) GetAppointment(_ context.Context, _, _ int64) (*apptdm.Appointment, error) {
	return s.appt, s.err
}

func (s *stubService) CancelBooking(_ context.Context, dto appointment.CancelBookingDTO) (*apptdm.Appointment, error) {
	s.cancelDTO = dto
	return s.appt, s.err
}

func (s *stubService) RescheduleBooking(_ context.Context, dto appointment.RescheduleDTO) (*apptdm.Appointment, error) {
	s.moveDTO = dto
	return s.appt, s.err
}

var _ = Describe("Handler", func() {
	var (
		svc    *stubService
		router *chi.Mux
	)

	BeforeEach(func() {
		svc = &stubService{
			appt: &apptdm.Appointment{
				ID:          5,
				ProviderID:  20,
				ClientID:    10,
				Price:       decimal.NewFromInt(100),
				PlatformFee: decimal.NewFromInt(10),
				Status:      apptdm.StatusScheduled,
			},
		}
		h := appointment.NewHandler(svc)
		router = chi.NewRouter()
		router.Post("/appointments", h.CreateBooking)
		router.Get("/appointments/{id}", h.GetAppointment)
		router.Post("/appointments/{id}/cancel", h.CancelBooking)
		router.Patch("/appointments/{id}/reschedule", h.RescheduleBooking)
	})

	do := func(method, path, body string, userID int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		if userID != 0 {
			req = req.WithContext(internal.ContextWithUserID(req.Context(), userID))
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	const booking = `{"provider_id":20,"start_time":"2026-05-03T10:00:00Z","end_time":"2026-05-03T10:30:00Z","price":"100.00","platform_fee":"10.00","client_email":"client@example.com"}`

	Describe("CreateBooking", func() {
		It("answers 201 for a wallet-paid booking and books for the caller", func() {
			svc.result = &appointment.BookingResult{Confirmed: true, AppointmentID: 5}

			rec := do(http.MethodPost, "/appointments", booking, 10)
			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(svc.createDTO.ClientID).To(Equal(int64(10)))
			Expect(svc.createDTO.Price.Equal(decimal.NewFromInt(100))).To(BeTrue())
			Expect(svc.createDTO.StartTime).To(Equal(time.Date(2026, 5, 3, 10, 0, 0, 0, time.UTC)))
		})

		It("answers 202 with the payment URL when the booking awaits payment", func() {
			svc.result = &appointment.BookingResult{AppointmentID: 5, PaymentURL: "https://pay.example.com/tok"}

			rec := do(http.MethodPost, "/appointments", booking, 10)
			Expect(rec.Code).To(Equal(http.StatusAccepted))

			var body appointment.BookingResult
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.PaymentURL).To(Equal("https://pay.example.com/tok"))
		})

		It("answers 401 without a caller", func() {
			rec := do(http.MethodPost, "/appointments", booking, 0)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("answers 400 for a malformed body", func() {
			rec := do(http.MethodPost, "/appointments", "{", 10)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("maps a gateway outage to 502", func() {
			svc.err = internal.NewExternalError("Payment gateway unavailable", internal.ErrCodeGatewayFailed, nil)
			rec := do(http.MethodPost, "/appointments", booking, 10)
			Expect(rec.Code).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("GetAppointment", func() {
		It("renders the appointment", func() {
			rec := do(http.MethodGet, "/appointments/5", "", 10)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var view appointment.AppointmentView
			Expect(json.Unmarshal(rec.Body.Bytes(), &view)).To(Succeed())
			Expect(view.ID).To(Equal(int64(5)))
			Expect(view.Status).To(Equal(apptdm.StatusScheduled))
		})

		It("answers 400 for a non-numeric id", func() {
			rec := do(http.MethodGet, "/appointments/abc", "", 10)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("answers 404 for an unknown appointment", func() {
			svc.err = internal.ErrAppointmentNotFound
			rec := do(http.MethodGet, "/appointments/9", "", 10)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("answers 403 for a stranger", func() {
			svc.err = internal.ErrUnauthorizedAccess
			rec := do(http.MethodGet, "/appointments/5", "", 99)
			Expect(rec.Code).To(Equal(http.StatusForbidden))
		})
	})

	Describe("CancelBooking", func() {
		It("accepts an empty body", func() {
			rec := do(http.MethodPost, "/appointments/5/cancel", "", 10)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(svc.cancelDTO.AppointmentID).To(Equal(int64(5)))
			Expect(svc.cancelDTO.UserID).To(Equal(int64(10)))
		})

		It("passes the reason through", func() {
			rec := do(http.MethodPost, "/appointments/5/cancel", `{"reason":"feeling better"}`, 20)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(svc.cancelDTO.Reason).To(Equal("feeling better"))
		})

		It("answers 409 when the status does not allow it", func() {
			svc.err = internal.ErrInvalidAppointmentStatus
			rec := do(http.MethodPost, "/appointments/5/cancel", "", 10)
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})
	})

	Describe("RescheduleBooking", func() {
		It("moves the appointment", func() {
			rec := do(http.MethodPatch, "/appointments/5/reschedule",
				`{"start_time":"2026-05-04T09:00:00Z","end_time":"2026-05-04T09:45:00Z"}`, 10)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(svc.moveDTO.AppointmentID).To(Equal(int64(5)))
			Expect(svc.moveDTO.EndTime.Sub(svc.moveDTO.StartTime)).To(Equal(45 * time.Minute))
		})

		It("answers 400 for a malformed body", func() {
			rec := do(http.MethodPatch, "/appointments/5/reschedule", "nope", 10)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})
})
