package postgres

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/frahmantamala/consultation-booking/internal"
	txdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/transaction"
	"github.com/frahmantamala/consultation-booking/internal/database/dbtest"
)

func TestTransactionRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "TransactionRepository Suite")
}

var _ = Describe("TransactionRepository", func() {
	var (
		db   *gorm.DB
		repo *TransactionRepository
		ctx  context.Context
	)

	apptID := int64(7)

	create := func(txType, status, refKind, refID string, meta txdm.Metadata) *txdm.Transaction {
		raw, err := meta.JSON()
		Expect(err).NotTo(HaveOccurred())
		t := &txdm.Transaction{
			UserID:        10,
			AppointmentID: &apptID,
			Amount:        decimal.NewFromInt(110),
			Type:          txType,
			Status:        status,
			RefKind:       refKind,
			RefID:         refID,
			Metadata:      raw,
		}
		Expect(repo.Create(ctx, t)).To(Succeed())
		return t
	}

	BeforeEach(func() {
		var err error
		db, err = dbtest.Open()
		Expect(err).NotTo(HaveOccurred())
		repo = NewTransactionRepository(db)
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(dbtest.Close(db)).To(Succeed())
	})

	Describe("lookups", func() {
		It("finds the pending payment for an appointment and user", func() {
			p := create(txdm.TypePayment, txdm.StatusPending, txdm.RefKindOrder, "4242", txdm.Metadata{txdm.MetaOrderID: "4242"})

			got, err := repo.FindPendingPayment(ctx, apptID, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(p.ID))

			_, err = repo.FindPendingPayment(ctx, apptID, 11)
			Expect(err).To(Equal(internal.ErrTransactionNotFound))
		})

		It("finds a pending row by its reconciliation key", func() {
			p := create(txdm.TypePayment, txdm.StatusPending, txdm.RefKindOrder, "4242", nil)

			got, err := repo.FindPendingByRef(ctx, txdm.TypePayment, txdm.RefKindOrder, "4242")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(p.ID))

			_, err = repo.FindPendingByRef(ctx, txdm.TypeRefund, txdm.RefKindOrder, "4242")
			Expect(err).To(Equal(internal.ErrTransactionNotFound))
		})

		It("falls back to the order id stored in metadata for refunds", func() {
			r := create(txdm.TypeRefund, txdm.StatusPending, txdm.RefKindRefundOf, "900",
				txdm.Metadata{txdm.MetaOrderID: "4242", txdm.MetaMethod: txdm.MethodBank})

			got, err := repo.FindPendingRefundByOrderID(ctx, "4242")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(r.ID))

			_, err = repo.FindPendingRefundByOrderID(ctx, "1")
			Expect(err).To(Equal(internal.ErrTransactionNotFound))
		})

		It("reports active refunds", func() {
			active, err := repo.HasActiveRefund(ctx, apptID)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeFalse())

			create(txdm.TypeRefund, txdm.StatusFailed, txdm.RefKindRefundOf, "900", nil)
			active, err = repo.HasActiveRefund(ctx, apptID)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeFalse())

			create(txdm.TypeRefund, txdm.StatusCompleted, "", "", txdm.Metadata{txdm.MetaMethod: txdm.MethodWallet})
			active, err = repo.HasActiveRefund(ctx, apptID)
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeTrue())
		})
	})

	Describe("Finalize", func() {
		It("moves a pending row exactly once", func() {
			p := create(txdm.TypePayment, txdm.StatusPending, txdm.RefKindOrder, "4242", txdm.Metadata{txdm.MetaOrderID: "4242"})
			meta, err := txdm.Metadata{txdm.MetaOrderID: "4242", txdm.MetaTransactionID: "900"}.JSON()
			Expect(err).NotTo(HaveOccurred())

			changed, err := repo.Finalize(ctx, p.ID, txdm.StatusCompleted, meta, "paid")
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			changed, err = repo.Finalize(ctx, p.ID, txdm.StatusFailed, meta, "late failure")
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())

			got, err := repo.FindCompletedPayment(ctx, apptID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.MetaString(txdm.MetaTransactionID)).To(Equal("900"))
			Expect(got.Description).To(Equal("paid"))
		})
	})

	Describe("uniqueness", func() {
		insert := func(txType, status string) error {
			return repo.Create(ctx, &txdm.Transaction{
				UserID:        10,
				AppointmentID: &apptID,
				Amount:        decimal.NewFromInt(110),
				Type:          txType,
				Status:        status,
			})
		}

		It("allows one pending payment per appointment", func() {
			Expect(insert(txdm.TypePayment, txdm.StatusPending)).To(Succeed())
			Expect(insert(txdm.TypePayment, txdm.StatusPending)).NotTo(Succeed())

			_, err := repo.FailPendingPayments(ctx, apptID, "expired")
			Expect(err).NotTo(HaveOccurred())
			Expect(insert(txdm.TypePayment, txdm.StatusPending)).To(Succeed())
		})

		It("allows one refund that has not failed per appointment", func() {
			Expect(insert(txdm.TypeRefund, txdm.StatusFailed)).To(Succeed())
			Expect(insert(txdm.TypeRefund, txdm.StatusCompleted)).To(Succeed())
			Expect(insert(txdm.TypeRefund, txdm.StatusPending)).NotTo(Succeed())
		})
	})

	Describe("FailPendingPayments", func() {
		It("fails only pending payments", func() {
			create(txdm.TypePayment, txdm.StatusPending, txdm.RefKindOrder, "1", nil)
			create(txdm.TypePayment, txdm.StatusCompleted, txdm.RefKindOrder, "2", nil)

			n, err := repo.FailPendingPayments(ctx, apptID, "expired")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(1)))

			_, err = repo.FindPendingPayment(ctx, apptID, 10)
			Expect(err).To(Equal(internal.ErrTransactionNotFound))
		})
	})
})
