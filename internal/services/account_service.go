package services

import (
	"context"

	"github.com/zkdrop/backend/internal/escrow"
	"github.com/zkdrop/backend/internal/models"
	"github.com/zkdrop/backend/internal/repositories"
	"go.uber.org/zap"
)

// Withdrawals below this are rejected to keep payout fees sane.
const MinWithdrawalNano int64 = 100_000_000 // 0.1 TON

type AccountService struct {
	accounts *repositories.AccountRepo
	log      *zap.Logger
}

func NewAccountService(accounts *repositories.AccountRepo, log *zap.Logger) *AccountService {
	return &AccountService{accounts: accounts, log: log}
}

func (s *AccountService) GetBalance(ctx context.Context, address string) (*models.Account, error) {
	return s.accounts.Get(ctx, address)
}

// RequestWithdrawal debits the account and queues a payout for the on-chain
// sender to pick up.
func (s *AccountService) RequestWithdrawal(ctx context.Context, address string, amountNano int64) (*models.Payout, error) {
	if amountNano < MinWithdrawalNano {
		return nil, escrow.ErrInvalidAmount
	}
	p, err := s.accounts.Withdraw(ctx, address, amountNano)
	if err != nil {
		return nil, err
	}
	s.log.Info("withdrawal queued",
		zap.Int64("payout_id", p.ID),
		zap.String("address", address),
		zap.Int64("amount_nano", amountNano),
	)
	return p, nil
}
