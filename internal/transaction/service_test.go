package transaction_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/consultation-booking/internal"
	"github.com/frahmantamala/consultation-booking/internal/appointment"
	apptpg "github.com/frahmantamala/consultation-booking/internal/appointment/postgres"
	apptdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/appointment"
	pgdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/paymentgateway"
	txdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/transaction"
	"github.com/frahmantamala/consultation-booking/internal/core/events"
	"github.com/frahmantamala/consultation-booking/internal/database"
	"github.com/frahmantamala/consultation-booking/internal/database/dbtest"
	"github.com/frahmantamala/consultation-booking/internal/transaction"
	txpg "github.com/frahmantamala/consultation-booking/internal/transaction/postgres"
	"github.com/frahmantamala/consultation-booking/internal/video"
	"github.com/frahmantamala/consultation-booking/internal/wallet"
	walletpg "github.com/frahmantamala/consultation-booking/internal/wallet/postgres"
)

func TestTransaction(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Transaction Suite")
}

type refundCall struct {
	transactionID string
	amount        decimal.Decimal
}

type mockGateway struct {
	mu        sync.Mutex
	orders    int
	tokens    int
	orderErr  error
	refundErr error
	refunds   []refundCall
	// when set, CreateOrder waits for every caller to arrive
	orderGate *sync.WaitGroup
}

func (g *mockGateway) CreateOrder(_ context.Context, _ decimal.Decimal, _ string) (string, error) {
	if g.orderGate != nil {
		g.orderGate.Done()
		g.orderGate.Wait()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.orderErr != nil {
		return "", g.orderErr
	}
	g.orders++
	return fmt.Sprintf("order-%d", g.orders), nil
}

func (g *mockGateway) GeneratePaymentToken(_ context.Context, _ decimal.Decimal, orderID, _, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens++
	return fmt.Sprintf("tok-%s-%d", orderID, g.tokens), nil
}

func (g *mockGateway) Refund(_ context.Context, transactionID string, amount decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return g.refundErr
	}
	g.refunds = append(g.refunds, refundCall{transactionID: transactionID, amount: amount})
	return nil
}

func (g *mockGateway) PaymentURL(token string) string {
	return "https://pay.example.com/" + token
}

type mockMeetings struct {
	mu      sync.Mutex
	created int
	deleted []string
}

func (m *mockMeetings) CreateMeeting(_ context.Context, _, _ string, _ time.Time, _ int) (*video.Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	id := fmt.Sprintf("m-%d", m.created)
	return &video.Meeting{ID: id, JoinURL: "https://meet.example.com/j/" + id}, nil
}

func (m *mockMeetings) UpdateMeeting(_ context.Context, _ string, _ video.MeetingUpdate) error {
	return nil
}

func (m *mockMeetings) DeleteMeeting(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, id)
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds map[string]int
}

func (n *recordingNotifier) Notify(_ context.Context, _ int64, kind string, _ map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds[kind]++
}

func (n *recordingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.kinds[kind]
}

const (
	clientID   int64 = 10
	providerID int64 = 20
)

var _ = Describe("Service", func() {
	var (
		db       *gorm.DB
		gateway  *mockGateway
		meetings *mockMeetings
		notifier *recordingNotifier
		wallets  *wallet.Service
		appts    *apptpg.AppointmentRepository
		txRepo   *txpg.TransactionRepository
		service  *transaction.Service
		bookings *appointment.Service
		ctx      context.Context
		now      time.Time
	)

	BeforeEach(func() {
		var err error
		db, err = dbtest.Open()
		Expect(err).NotTo(HaveOccurred())

		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx = context.Background()
		now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }

		gateway = &mockGateway{}
		meetings = &mockMeetings{}
		notifier = &recordingNotifier{kinds: map[string]int{}}
		transactor := database.NewTransactor(db)

		appts = apptpg.NewAppointmentRepository(db)
		txRepo = txpg.NewTransactionRepository(db)
		wallets = wallet.NewService(walletpg.NewWalletRepository(db), "EGP", logger)

		service = transaction.NewService(txRepo, gateway, appts, wallets, notifier, transactor, logger)
		service.SetClock(clock)
		bookings = appointment.NewService(appts, wallets, meetings, service, notifier, transactor, "me", logger)
		bookings.SetClock(clock)
		service.SetBookingHandler(bookings)
	})

	AfterEach(func() {
		Expect(dbtest.Close(db)).To(Succeed())
	})

	fund := func(amount int64) {
		_, err := wallets.OpenWallet(ctx, clientID, decimal.NewFromInt(amount))
		Expect(err).NotTo(HaveOccurred())
	}

	balance := func() decimal.Decimal {
		w, err := wallets.GetWallet(ctx, clientID)
		Expect(err).NotTo(HaveOccurred())
		return w.Balance
	}

	book := func(startIn time.Duration) *appointment.BookingResult {
		result, err := bookings.CreateBooking(ctx, appointment.CreateBookingDTO{
			ClientID:    clientID,
			ProviderID:  providerID,
			StartTime:   now.Add(startIn),
			EndTime:     now.Add(startIn + 30*time.Minute),
			Price:       decimal.NewFromInt(100),
			PlatformFee: decimal.NewFromInt(10),
			ClientEmail: "client@example.com",
		})
		Expect(err).NotTo(HaveOccurred())
		return result
	}

	status := func(id int64) string {
		a, err := appts.GetByID(ctx, id)
		Expect(err).NotTo(HaveOccurred())
		return a.Status
	}

	paymentCallback := func(orderID, gatewayTxnID string, success bool) *pgdm.Callback {
		return &pgdm.Callback{
			ID:          pgdm.FlexibleID(gatewayTxnID),
			Success:     success,
			AmountCents: 11000,
			Order:       pgdm.CallbackOrder{ID: pgdm.FlexibleID(orderID)},
		}
	}

	transactionsOf := func(apptID int64, txType string) []txdm.Transaction {
		var out []txdm.Transaction
		Expect(db.Where("appointment_id = ? AND type = ?", apptID, txType).Order("id").Find(&out).Error).To(Succeed())
		return out
	}

	Describe("booking paid from the wallet", func() {
		It("debits 110 from 500 and schedules at once", func() {
			fund(500)
			result := book(48 * time.Hour)

			Expect(result.Confirmed).To(BeTrue())
			Expect(balance().Equal(decimal.NewFromInt(390))).To(BeTrue())
			Expect(status(result.AppointmentID)).To(Equal(apptdm.StatusScheduled))
			Expect(gateway.orders).To(BeZero())
		})
	})

	Describe("booking paid through the gateway", func() {
		var result *appointment.BookingResult

		BeforeEach(func() {
			fund(0)
			result = book(48 * time.Hour)
		})

		It("leaves the booking pending with one pending payment", func() {
			Expect(result.Confirmed).To(BeFalse())
			Expect(result.PaymentURL).To(Equal("https://pay.example.com/tok-order-1-1"))
			Expect(status(result.AppointmentID)).To(Equal(apptdm.StatusPending))

			payments := transactionsOf(result.AppointmentID, txdm.TypePayment)
			Expect(payments).To(HaveLen(1))
			Expect(payments[0].Status).To(Equal(txdm.StatusPending))
			Expect(payments[0].RefKind).To(Equal(txdm.RefKindOrder))
			Expect(payments[0].RefID).To(Equal("order-1"))
			Expect(payments[0].Amount.Equal(decimal.NewFromInt(110))).To(BeTrue())
			Expect(payments[0].MetaString(txdm.MetaMerchantOrderID)).To(HavePrefix(fmt.Sprintf("appt-%d-", result.AppointmentID)))
		})

		It("reuses the open order when payment is initiated again", func() {
			url, err := service.InitiatePayment(ctx, result.AppointmentID, clientID, decimal.NewFromInt(110), "client@example.com", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal("https://pay.example.com/tok-order-1-2"))
			Expect(gateway.orders).To(Equal(1))
			Expect(transactionsOf(result.AppointmentID, txdm.TypePayment)).To(HaveLen(1))
		})

		It("schedules the booking when the success webhook arrives", func() {
			outcome, err := service.HandleWebhook(ctx, paymentCallback("order-1", "900", true))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(transaction.WebhookProcessed))
			Expect(status(result.AppointmentID)).To(Equal(apptdm.StatusScheduled))

			payment := transactionsOf(result.AppointmentID, txdm.TypePayment)[0]
			Expect(payment.Status).To(Equal(txdm.StatusCompleted))
			Expect(payment.MetaString(txdm.MetaTransactionID)).To(Equal("900"))
			Expect(payment.MetaString(txdm.MetaOrderID)).To(Equal("order-1"))
			Expect(notifier.count(events.PaymentCompleted)).To(Equal(1))
		})

		It("changes nothing when the webhook is redelivered", func() {
			_, err := service.HandleWebhook(ctx, paymentCallback("order-1", "900", true))
			Expect(err).NotTo(HaveOccurred())

			outcome, err := service.HandleWebhook(ctx, paymentCallback("order-1", "900", true))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(transaction.WebhookIgnored))

			outcome, err = service.HandleWebhook(ctx, paymentCallback("order-1", "901", false))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(transaction.WebhookIgnored))

			Expect(status(result.AppointmentID)).To(Equal(apptdm.StatusScheduled))
			Expect(transactionsOf(result.AppointmentID, txdm.TypePayment)[0].MetaString(txdm.MetaTransactionID)).To(Equal("900"))
			Expect(notifier.count(events.PaymentCompleted)).To(Equal(1))
			Expect(notifier.count(events.AppointmentConfirmed)).To(Equal(2))
		})

		It("cancels the booking when the payment fails", func() {
			outcome, err := service.HandleWebhook(ctx, paymentCallback("order-1", "900", false))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(transaction.WebhookProcessed))
			Expect(status(result.AppointmentID)).To(Equal(apptdm.StatusCanceled))
			Expect(meetings.deleted).To(ConsistOf("m-1"))
			Expect(transactionsOf(result.AppointmentID, txdm.TypePayment)[0].Status).To(Equal(txdm.StatusFailed))
			Expect(notifier.count(events.PaymentFailed)).To(Equal(1))
		})

		It("ignores a callback whose amount differs from the payment", func() {
			cb := paymentCallback("order-1", "900", true)
			cb.AmountCents = 100

			outcome, err := service.HandleWebhook(ctx, cb)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(transaction.WebhookIgnored))
			Expect(status(result.AppointmentID)).To(Equal(apptdm.StatusPending))
			Expect(transactionsOf(result.AppointmentID, txdm.TypePayment)[0].Status).To(Equal(txdm.StatusPending))
			Expect(notifier.count(events.PaymentCompleted)).To(BeZero())

			outcome, err = service.HandleWebhook(ctx, paymentCallback("order-1", "900", true))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(transaction.WebhookProcessed))
		})

		It("discards a checkout completed after the booking was canceled", func() {
			_, err := bookings.CancelBooking(ctx, appointment.CancelBookingDTO{AppointmentID: result.AppointmentID, UserID: clientID})
			Expect(err).NotTo(HaveOccurred())
			Expect(transactionsOf(result.AppointmentID, txdm.TypePayment)[0].Status).To(Equal(txdm.StatusFailed))

			outcome, err := service.HandleWebhook(ctx, paymentCallback("order-1", "900", true))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(transaction.WebhookIgnored))

			Expect(status(result.AppointmentID)).To(Equal(apptdm.StatusCanceled))
			Expect(transactionsOf(result.AppointmentID, txdm.TypeRefund)).To(BeEmpty())
			Expect(balance().IsZero()).To(BeTrue())
			Expect(notifier.count(events.PaymentCompleted)).To(BeZero())
		})

		It("ignores callbacks for unknown orders", func() {
			outcome, err := service.HandleWebhook(ctx, paymentCallback("order-404", "900", true))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(transaction.WebhookIgnored))
		})

		It("ignores callbacks still pending at the gateway", func() {
			cb := paymentCallback("order-1", "900", false)
			cb.Pending = true
			outcome, err := service.HandleWebhook(ctx, cb)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(transaction.WebhookIgnored))
			Expect(status(result.AppointmentID)).To(Equal(apptdm.StatusPending))
		})
	})

	Describe("InitiatePayment", func() {
		It("records nothing when the gateway is down", func() {
			gateway.orderErr = errors.New("503")
			_, err := service.InitiatePayment(ctx, 1, clientID, decimal.NewFromInt(110), "client@example.com", "")
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeGatewayFailed))

			var count int64
			Expect(db.Model(&txdm.Transaction{}).Count(&count).Error).To(Succeed())
			Expect(count).To(BeZero())
		})

		It("keeps one pending payment when two requests open orders at once", func() {
			gate := &sync.WaitGroup{}
			gate.Add(2)
			gateway.orderGate = gate

			urls := make([]string, 2)
			errs := make([]error, 2)
			var wg sync.WaitGroup
			for i := range urls {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					urls[i], errs[i] = service.InitiatePayment(ctx, 1, clientID, decimal.NewFromInt(110), "client@example.com", "")
				}(i)
			}
			wg.Wait()

			Expect(errs[0]).NotTo(HaveOccurred())
			Expect(errs[1]).NotTo(HaveOccurred())
			payments := transactionsOf(1, txdm.TypePayment)
			Expect(payments).To(HaveLen(1))
			for _, url := range urls {
				Expect(url).To(HavePrefix("https://pay.example.com/tok-" + payments[0].RefID + "-"))
			}
		})
	})

	Describe("refunds on cancellation", func() {
		var apptID int64

		Context("after a gateway payment", func() {
			BeforeEach(func() {
				fund(0)
				apptID = book(48 * time.Hour).AppointmentID
				_, err := service.HandleWebhook(ctx, paymentCallback("order-1", "900", true))
				Expect(err).NotTo(HaveOccurred())
			})

			It("reverses the card payment more than 24 hours ahead", func() {
				now = now.Add(23 * time.Hour) // 25 hours before start

				_, err := bookings.CancelBooking(ctx, appointment.CancelBookingDTO{AppointmentID: apptID, UserID: clientID})
				Expect(err).NotTo(HaveOccurred())

				Expect(gateway.refunds).To(HaveLen(1))
				Expect(gateway.refunds[0].transactionID).To(Equal("900"))
				Expect(gateway.refunds[0].amount.Equal(decimal.NewFromInt(110))).To(BeTrue())

				refunds := transactionsOf(apptID, txdm.TypeRefund)
				Expect(refunds).To(HaveLen(1))
				Expect(refunds[0].Status).To(Equal(txdm.StatusPending))
				Expect(refunds[0].RefKind).To(Equal(txdm.RefKindRefundOf))
				Expect(refunds[0].RefID).To(Equal("900"))
				Expect(balance().IsZero()).To(BeTrue())
				Expect(notifier.count(events.RefundInitiated)).To(Equal(1))
			})

			It("settles the reversal when the refund webhook arrives", func() {
				now = now.Add(23 * time.Hour)
				_, err := bookings.CancelBooking(ctx, appointment.CancelBookingDTO{AppointmentID: apptID, UserID: clientID})
				Expect(err).NotTo(HaveOccurred())

				outcome, err := service.HandleWebhook(ctx, &pgdm.Callback{
					ID:                "950",
					Success:           true,
					IsRefund:          true,
					AmountCents:       11000,
					ParentTransaction: "900",
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome).To(Equal(transaction.WebhookProcessed))
				Expect(transactionsOf(apptID, txdm.TypeRefund)[0].Status).To(Equal(txdm.StatusCompleted))
				Expect(notifier.count(events.RefundCompleted)).To(Equal(1))
				Expect(status(apptID)).To(Equal(apptdm.StatusCanceled))
			})

			It("matches a refund webhook by order when the parent is missing", func() {
				now = now.Add(23 * time.Hour)
				_, err := bookings.CancelBooking(ctx, appointment.CancelBookingDTO{AppointmentID: apptID, UserID: clientID})
				Expect(err).NotTo(HaveOccurred())

				outcome, err := service.HandleWebhook(ctx, &pgdm.Callback{
					ID:          "950",
					Success:     true,
					IsRefund:    true,
					AmountCents: 11000,
					Order:       pgdm.CallbackOrder{ID: "order-1"},
				})
				Expect(err).NotTo(HaveOccurred())
				Expect(outcome).To(Equal(transaction.WebhookProcessed))
			})

			It("credits the wallet within 24 hours of the start", func() {
				now = now.Add(25 * time.Hour) // 23 hours before start

				_, err := bookings.CancelBooking(ctx, appointment.CancelBookingDTO{AppointmentID: apptID, UserID: clientID})
				Expect(err).NotTo(HaveOccurred())

				Expect(gateway.refunds).To(BeEmpty())
				Expect(balance().Equal(decimal.NewFromInt(110))).To(BeTrue())
				refunds := transactionsOf(apptID, txdm.TypeRefund)
				Expect(refunds).To(HaveLen(1))
				Expect(refunds[0].Status).To(Equal(txdm.StatusCompleted))
				Expect(refunds[0].MetaString(txdm.MetaMethod)).To(Equal(txdm.MethodWallet))
				Expect(notifier.count(events.WalletCredited)).To(Equal(1))
			})

			It("keeps the session when the gateway refuses the reversal", func() {
				gateway.refundErr = errors.New("502")

				_, err := bookings.CancelBooking(ctx, appointment.CancelBookingDTO{AppointmentID: apptID, UserID: clientID})
				appErr, ok := internal.IsAppError(err)
				Expect(ok).To(BeTrue())
				Expect(appErr.Code).To(Equal(internal.ErrCodeRefundFailed))
				Expect(status(apptID)).To(Equal(apptdm.StatusScheduled))
				Expect(transactionsOf(apptID, txdm.TypeRefund)).To(BeEmpty())
			})
		})

		Context("after a wallet payment", func() {
			BeforeEach(func() {
				fund(500)
				apptID = book(48 * time.Hour).AppointmentID
			})

			It("credits the wallet because there is no card payment to reverse", func() {
				_, err := bookings.CancelBooking(ctx, appointment.CancelBookingDTO{AppointmentID: apptID, UserID: clientID})
				Expect(err).NotTo(HaveOccurred())
				Expect(gateway.refunds).To(BeEmpty())
				Expect(balance().Equal(decimal.NewFromInt(500))).To(BeTrue())
			})

			It("refunds only once", func() {
				Expect(service.RefundPolicy(ctx, apptID)).To(Succeed())
				Expect(service.RefundPolicy(ctx, apptID)).To(Succeed())
				Expect(balance().Equal(decimal.NewFromInt(500))).To(BeTrue())
				Expect(transactionsOf(apptID, txdm.TypeRefund)).To(HaveLen(1))
			})

			It("credits the wallet once when both participants cancel at the same time", func() {
				errs := make([]error, 2)
				users := []int64{clientID, providerID}
				var wg sync.WaitGroup
				for i := range errs {
					wg.Add(1)
					go func(i int) {
						defer GinkgoRecover()
						defer wg.Done()
						_, errs[i] = bookings.CancelBooking(ctx, appointment.CancelBookingDTO{AppointmentID: apptID, UserID: users[i]})
					}(i)
				}
				wg.Wait()

				canceled := 0
				for _, err := range errs {
					if err == nil {
						canceled++
						continue
					}
					Expect(errors.Is(err, internal.ErrInvalidAppointmentStatus)).To(BeTrue())
				}
				Expect(canceled).To(Equal(1))
				Expect(status(apptID)).To(Equal(apptdm.StatusCanceled))
				Expect(balance().Equal(decimal.NewFromInt(500))).To(BeTrue())
				Expect(transactionsOf(apptID, txdm.TypeRefund)).To(HaveLen(1))
			})
		})
	})

	Describe("FailStalePayments", func() {
		It("fails the pending payment of an expired booking", func() {
			fund(0)
			apptID := book(48 * time.Hour).AppointmentID

			n, err := service.FailStalePayments(ctx, apptID, "expired")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			outcome, err := service.HandleWebhook(ctx, paymentCallback("order-1", "900", true))
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(transaction.WebhookIgnored))
		})
	})
})
