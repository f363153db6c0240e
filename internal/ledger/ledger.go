package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidArgument is returned when a required identifier is empty.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrWalletNotFound is returned when a referenced wallet does not exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInsufficientFunds occurs when the source wallet lacks available balance
	// to cover a requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSameWalletTransfer rejects transfers whose source and destination coincide.
	ErrSameWalletTransfer = errors.New("cannot transfer to the same wallet")

	// ErrConflict reports that a wallet changed underneath an open store transaction.
	ErrConflict = errors.New("concurrent wallet modification")

	errTxDone = errors.New("ledger transaction already closed")
)

// Store is the durable storage contract consumed by the Engine. Reads observe
// committed state only.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	GetWallet(ctx context.Context, id string) (Wallet, error)
	GetWalletByUser(ctx context.Context, userID string) (Wallet, error)
	ListWallets(ctx context.Context) ([]Wallet, error)
	// ListTransactions returns the wallet's records in insertion order.
	ListTransactions(ctx context.Context, walletID string) ([]Transaction, error)
	// ListAllTransactions returns every record in Seq order from a single
	// committed snapshot, so both legs of a transfer appear together or not at all.
	ListAllTransactions(ctx context.Context) ([]Transaction, error)
}

// Tx is a scoped store transaction. Rollback after Commit is a no-op, so callers
// defer Rollback right after Begin.
type Tx interface {
	LockWallet(ctx context.Context, id string) (Wallet, error)
	InsertWallet(ctx context.Context, wallet Wallet) error
	// UpdateBalance writes wallet.Balance if the stored version still equals
	// wallet.Version, otherwise it fails with ErrConflict.
	UpdateBalance(ctx context.Context, wallet Wallet) error
	AppendTransaction(ctx context.Context, txn Transaction) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Locker serializes work on a set of keys. Implementations must acquire keys in
// the order given; the Engine always passes them sorted.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// NameResolver maps user identifiers to display names for transfer descriptions.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
