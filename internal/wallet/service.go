package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletd/internal/ledger"
)

// Service exposes the session user's own wallet, resolved by owner id.
type Service struct {
	ledger *ledger.Engine
}

// NewService builds a wallet service instance.
func NewService(engine *ledger.Engine) *Service {
	return &Service{ledger: engine}
}

// Get returns the wallet owned by userID.
func (s *Service) Get(ctx context.Context, userID string) (ledger.Wallet, error) {
	return s.ledger.GetWalletByUser(ctx, userID)
}

// Balance returns the current balance of the user's wallet.
func (s *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	w, err := s.Get(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.GetBalance(ctx, w.ID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: w.ID, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// History returns the user's transactions, most recent first.
func (s *Service) History(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	w, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.ledger.GetHistory(ctx, w.ID)
}

// Deposit credits the user's wallet.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal, description string) (Movement, error) {
	w, err := s.Get(ctx, userID)
	if err != nil {
		return Movement{}, err
	}
	txn, err := s.ledger.Deposit(ctx, w.ID, amount, description)
	if err != nil {
		return Movement{}, fmt.Errorf("deposit: %w", err)
	}
	return s.movement(ctx, txn)
}

// Withdraw debits the user's wallet.
func (s *Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal, description string) (Movement, error) {
	w, err := s.Get(ctx, userID)
	if err != nil {
		return Movement{}, err
	}
	txn, err := s.ledger.Withdraw(ctx, w.ID, amount, description)
	if err != nil {
		return Movement{}, fmt.Errorf("withdraw: %w", err)
	}
	return s.movement(ctx, txn)
}

func (s *Service) movement(ctx context.Context, txn ledger.Transaction) (Movement, error) {
	balance, err := s.ledger.GetBalance(ctx, txn.WalletID)
	if err != nil {
		return Movement{}, err
	}
	return Movement{Transaction: txn, Balance: balance}, nil
}
