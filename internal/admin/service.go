package admin

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletd/internal/identity"
	"github.com/congo-pay/walletd/internal/ledger"
)

// UserSummary pairs a user with their wallet balance.
type UserSummary struct {
	User     identity.User
	WalletID string
	Balance  decimal.Decimal
}

// Service backs the administrator views.
type Service struct {
	users  *identity.Service
	ledger *ledger.Engine
}

// NewService builds the admin service.
func NewService(users *identity.Service, engine *ledger.Engine) *Service {
	return &Service{users: users, ledger: engine}
}

// Users lists every user with their balance. Balances come from one wallet
// snapshot, so a concurrent transfer is either fully visible or not at all.
// Users without a wallet are reported with an empty wallet id and zero balance.
func (s *Service) Users(ctx context.Context) ([]UserSummary, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	wallets, err := s.ledger.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	// Wallets come in creation order; the first one per user is theirs.
	owned := make(map[string]ledger.Wallet, len(wallets))
	for _, w := range wallets {
		if _, ok := owned[w.UserID]; !ok {
			owned[w.UserID] = w
		}
	}

	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		summary := UserSummary{User: u, Balance: decimal.Zero}
		if w, ok := owned[u.ID]; ok {
			summary.WalletID = w.ID
			summary.Balance = w.Balance
		}
		out = append(out, summary)
	}
	return out, nil
}

// Wallets lists every wallet.
func (s *Service) Wallets(ctx context.Context) ([]ledger.Wallet, error) {
	return s.ledger.ListWallets(ctx)
}

// Transactions returns every transaction across all wallets, most recent first.
func (s *Service) Transactions(ctx context.Context) ([]ledger.Transaction, error) {
	return s.ledger.AllTransactions(ctx)
}

// Audit reports wallets whose balance disagrees with their history.
func (s *Service) Audit(ctx context.Context) ([]ledger.Discrepancy, error) {
	return s.ledger.Audit(ctx)
}
