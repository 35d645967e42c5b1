package wallet

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/consultation-booking/internal"
	walletdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/wallet"
)

// RepositoryAPI is the storage contract. Debit and Credit must each be a
// single conditional statement; callers never read then write.
type RepositoryAPI interface {
	GetByUserID(ctx context.Context, userID int64) (*walletdm.Wallet, error)
	Create(ctx context.Context, w *walletdm.Wallet) error
	Debit(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error)
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, currency string) error
}

type Service struct {
	repo     RepositoryAPI
	currency string
	logger   *slog.Logger
}

func NewService(repo RepositoryAPI, currency string, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		currency: currency,
		logger:   logger,
	}
}

// Debit takes amount from the user's wallet atomically. It returns
// ErrInsufficientFunds without touching the balance when the wallet cannot
// cover the amount, and ErrWalletNotFound when the user has no wallet.
func (s *Service) Debit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	applied, err := s.repo.Debit(ctx, userID, amount)
	if err != nil {
		s.logger.Error("wallet debit failed", "error", err, "user_id", userID)
		return internal.NewInternalError("failed to debit wallet", err)
	}
	if applied {
		s.logger.Info("wallet debited", "user_id", userID, "amount", amount.String())
		return nil
	}

	if _, err := s.repo.GetByUserID(ctx, userID); err != nil {
		if errors.Is(err, internal.ErrWalletNotFound) {
			return internal.ErrWalletNotFound
		}
		return internal.NewInternalError("failed to load wallet", err)
	}
	return internal.ErrInsufficientFunds
}

// Credit adds amount to the user's wallet, opening one when missing.
func (s *Service) Credit(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if err := validateAmount(amount); err != nil {
		return err
	}

	if err := s.repo.Credit(ctx, userID, amount, s.currency); err != nil {
		s.logger.Error("wallet credit failed", "error", err, "user_id", userID)
		return internal.NewInternalError("failed to credit wallet", err)
	}

	s.logger.Info("wallet credited", "user_id", userID, "amount", amount.String())
	return nil
}

func (s *Service) GetWallet(ctx context.Context, userID int64) (*walletdm.Wallet, error) {
	w, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		if _, ok := internal.IsAppError(err); ok {
			return nil, err
		}
		s.logger.Error("failed to get wallet", "error", err, "user_id", userID)
		return nil, internal.NewInternalError("failed to load wallet", err)
	}
	return w, nil
}

// OpenWallet creates a wallet with an opening balance. Used by seeding and
// account provisioning.
func (s *Service) OpenWallet(ctx context.Context, userID int64, balance decimal.Decimal) (*walletdm.Wallet, error) {
	if balance.IsNegative() {
		return nil, internal.NewValidationFieldError("balance", "balance cannot be negative", internal.ErrCodeInvalidAmount)
	}

	w := &walletdm.Wallet{
		UserID:   userID,
		Balance:  balance,
		Currency: s.currency,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		s.logger.Error("failed to open wallet", "error", err, "user_id", userID)
		return nil, internal.NewInternalError("failed to open wallet", err)
	}
	return w, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return internal.NewValidationFieldError("amount", "amount must be positive", internal.ErrCodeInvalidAmount)
	}
	return nil
}
