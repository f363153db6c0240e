package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a balance movement.
type TransactionType string

const (
	TypeDeposit     TransactionType = "deposit"
	TypeWithdrawal  TransactionType = "withdrawal"
	TypeTransferIn  TransactionType = "transfer_in"
	TypeTransferOut TransactionType = "transfer_out"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeTransferIn, TypeTransferOut:
		return true
	default:
		return false
	}
}

// Credit reports whether the type increases the wallet balance.
func (t TransactionType) Credit() bool {
	return t == TypeDeposit || t == TypeTransferIn
}

// Wallet is the per-user balance container.
type Wallet struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Balance        decimal.Decimal `json:"balance"`
	CreatedAt      time.Time       `json:"created_at"`
	TransactionIDs []string        `json:"transaction_ids,omitempty"`
	Version        int64           `json:"version"`
}

// Transaction is an immutable record of one balance movement.
type Transaction struct {
	ID                 string          `json:"id"`
	WalletID           string          `json:"wallet_id"`
	Type               TransactionType `json:"type"`
	Amount             decimal.Decimal `json:"amount"`
	Description        string          `json:"description"`
	Timestamp          time.Time       `json:"timestamp"`
	CounterpartyUserID string          `json:"counterparty_user_id,omitempty"`
	Seq                int64           `json:"seq"`
}

// SignedAmount returns the amount with the sign of its effect on the wallet balance.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Type.Credit() {
		return t.Amount
	}
	return t.Amount.Neg()
}

// TransferResult holds both legs of a transfer.
type TransferResult struct {
	Out Transaction
	In  Transaction
}

// Discrepancy describes a wallet whose stored balance disagrees with its history.
type Discrepancy struct {
	WalletID string
	Balance  decimal.Decimal
	Expected decimal.Decimal
}
