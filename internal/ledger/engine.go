package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultDepositDescription    = "Deposit"
	defaultWithdrawalDescription = "Withdrawal"
	defaultTransferDescription   = "Transfer"
	unknownUserName              = "Unknown User"
)

// Engine applies deposits, withdrawals and transfers against a Store. It is the
// only component that mutates wallet balances.
type Engine struct {
	store  Store
	locker Locker
	names  NameResolver
	logger *slog.Logger
	now    func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLocker replaces the default in-process keyed mutex.
func WithLocker(locker Locker) Option {
	return func(e *Engine) { e.locker = locker }
}

// WithNameResolver enables user names in transfer descriptions.
func WithNameResolver(names NameResolver) Option {
	return func(e *Engine) { e.names = names }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds a ledger engine over the given store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		locker: NewKeyedMutex(),
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateWallet provisions an empty wallet for userID. Uniqueness per user is
// the caller's responsibility.
func (e *Engine) CreateWallet(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, fmt.Errorf("user id is required: %w", ErrInvalidArgument)
	}

	wallet := Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		Balance:   decimal.Zero,
		CreatedAt: e.now(),
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return Wallet{}, fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := tx.InsertWallet(ctx, wallet); err != nil {
		return Wallet{}, fmt.Errorf("insert wallet: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Wallet{}, fmt.Errorf("commit ledger transaction: %w", err)
	}

	e.logger.Debug("wallet created", slog.String("wallet_id", wallet.ID), slog.String("user_id", userID))
	return wallet, nil
}

// GetWallet returns the wallet with its transaction identifiers.
func (e *Engine) GetWallet(ctx context.Context, walletID string) (Wallet, error) {
	if walletID == "" {
		return Wallet{}, fmt.Errorf("wallet id is required: %w", ErrInvalidArgument)
	}
	return e.store.GetWallet(ctx, walletID)
}

// GetWalletByUser returns the wallet owned by userID.
func (e *Engine) GetWalletByUser(ctx context.Context, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, fmt.Errorf("user id is required: %w", ErrInvalidArgument)
	}
	return e.store.GetWalletByUser(ctx, userID)
}

// ListWallets returns every wallet.
func (e *Engine) ListWallets(ctx context.Context) ([]Wallet, error) {
	return e.store.ListWallets(ctx)
}

// GetBalance returns the committed balance of a wallet.
func (e *Engine) GetBalance(ctx context.Context, walletID string) (decimal.Decimal, error) {
	wallet, err := e.GetWallet(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	return wallet.Balance, nil
}

// GetHistory returns the wallet's transactions, most recent first. Records with
// equal timestamps keep their insertion order.
func (e *Engine) GetHistory(ctx context.Context, walletID string) ([]Transaction, error) {
	if _, err := e.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	txns, err := e.store.ListTransactions(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].Timestamp.After(txns[j].Timestamp)
	})
	return txns, nil
}

// Deposit credits amount to the wallet.
func (e *Engine) Deposit(ctx context.Context, walletID string, amount decimal.Decimal, description string) (Transaction, error) {
	if walletID == "" {
		return Transaction{}, fmt.Errorf("wallet id is required: %w", ErrInvalidArgument)
	}
	if err := checkAmount(amount); err != nil {
		return Transaction{}, err
	}
	if description == "" {
		description = defaultDepositDescription
	}

	var record Transaction
	err := e.withWallets(ctx, []string{walletID}, func(tx Tx, wallets map[string]Wallet) error {
		wallet := wallets[walletID]
		wallet.Balance = wallet.Balance.Add(amount)
		if err := tx.UpdateBalance(ctx, wallet); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		record = e.newTransaction(walletID, TypeDeposit, amount, description, "")
		if err := tx.AppendTransaction(ctx, record); err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	return record, nil
}

// Withdraw debits amount from the wallet if the balance covers it.
func (e *Engine) Withdraw(ctx context.Context, walletID string, amount decimal.Decimal, description string) (Transaction, error) {
	if walletID == "" {
		return Transaction{}, fmt.Errorf("wallet id is required: %w", ErrInvalidArgument)
	}
	if err := checkAmount(amount); err != nil {
		return Transaction{}, err
	}
	if description == "" {
		description = defaultWithdrawalDescription
	}

	var record Transaction
	err := e.withWallets(ctx, []string{walletID}, func(tx Tx, wallets map[string]Wallet) error {
		wallet := wallets[walletID]
		if wallet.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		wallet.Balance = wallet.Balance.Sub(amount)
		if err := tx.UpdateBalance(ctx, wallet); err != nil {
			return fmt.Errorf("update balance: %w", err)
		}
		record = e.newTransaction(walletID, TypeWithdrawal, amount, description, "")
		if err := tx.AppendTransaction(ctx, record); err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	return record, nil
}

// Transfer moves amount between two wallets as one atomic unit, recording a
// transfer_out on the source and a transfer_in on the destination.
func (e *Engine) Transfer(ctx context.Context, fromWalletID, toWalletID string, amount decimal.Decimal, description string) (TransferResult, error) {
	if fromWalletID == "" {
		return TransferResult{}, fmt.Errorf("source wallet id is required: %w", ErrInvalidArgument)
	}
	if toWalletID == "" {
		return TransferResult{}, fmt.Errorf("destination wallet id is required: %w", ErrInvalidArgument)
	}
	if err := checkAmount(amount); err != nil {
		return TransferResult{}, err
	}
	if fromWalletID == toWalletID {
		return TransferResult{}, ErrSameWalletTransfer
	}
	if description == "" {
		description = defaultTransferDescription
	}

	var result TransferResult
	err := e.withWallets(ctx, []string{fromWalletID, toWalletID}, func(tx Tx, wallets map[string]Wallet) error {
		from, to := wallets[fromWalletID], wallets[toWalletID]
		if from.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		from.Balance = from.Balance.Sub(amount)
		to.Balance = to.Balance.Add(amount)
		if err := tx.UpdateBalance(ctx, from); err != nil {
			return fmt.Errorf("debit source wallet: %w", err)
		}
		if err := tx.UpdateBalance(ctx, to); err != nil {
			return fmt.Errorf("credit destination wallet: %w", err)
		}

		result.Out = e.newTransaction(fromWalletID, TypeTransferOut, amount,
			fmt.Sprintf("%s to %s", description, e.displayName(ctx, to.UserID)), to.UserID)
		result.In = e.newTransaction(toWalletID, TypeTransferIn, amount,
			fmt.Sprintf("%s from %s", description, e.displayName(ctx, from.UserID)), from.UserID)
		if err := tx.AppendTransaction(ctx, result.Out); err != nil {
			return fmt.Errorf("append transfer out: %w", err)
		}
		if err := tx.AppendTransaction(ctx, result.In); err != nil {
			return fmt.Errorf("append transfer in: %w", err)
		}
		return nil
	}, "source wallet", "destination wallet")
	if err != nil {
		return TransferResult{}, err
	}
	return result, nil
}

// AllTransactions returns every transaction across all wallets from one
// committed snapshot, most recent first. Equal timestamps put the later record first.
func (e *Engine) AllTransactions(ctx context.Context) ([]Transaction, error) {
	txns, err := e.store.ListAllTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	sort.SliceStable(txns, func(i, j int) bool {
		if !txns[i].Timestamp.Equal(txns[j].Timestamp) {
			return txns[i].Timestamp.After(txns[j].Timestamp)
		}
		return txns[i].Seq > txns[j].Seq
	})
	return txns, nil
}

// Audit recomputes each wallet balance from its history and reports wallets
// whose stored balance differs or is negative.
func (e *Engine) Audit(ctx context.Context) ([]Discrepancy, error) {
	wallets, err := e.store.ListWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}

	var out []Discrepancy
	for _, w := range wallets {
		d, ok, err := e.auditWallet(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (e *Engine) auditWallet(ctx context.Context, walletID string) (Discrepancy, bool, error) {
	release, err := e.locker.Acquire(ctx, walletID)
	if err != nil {
		return Discrepancy{}, false, fmt.Errorf("acquire wallet lock: %w", err)
	}
	defer release()

	wallet, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return Discrepancy{}, false, err
	}
	txns, err := e.store.ListTransactions(ctx, walletID)
	if err != nil {
		return Discrepancy{}, false, fmt.Errorf("list transactions: %w", err)
	}

	expected := decimal.Zero
	for _, t := range txns {
		expected = expected.Add(t.SignedAmount())
	}
	if expected.Equal(wallet.Balance) && !wallet.Balance.IsNegative() {
		return Discrepancy{}, false, nil
	}
	return Discrepancy{WalletID: walletID, Balance: wallet.Balance, Expected: expected}, true, nil
}

// withWallets runs fn inside a store transaction holding the locks of every
// wallet in ids. Locks are taken in identifier order, both in the Locker and
// in the store, so two transfers between the same pair never deadlock. labels
// optionally name each id in not-found errors.
func (e *Engine) withWallets(ctx context.Context, ids []string, fn func(Tx, map[string]Wallet) error, labels ...string) error {
	order := lockOrder(ids)

	release, err := e.locker.Acquire(ctx, order...)
	if err != nil {
		return fmt.Errorf("acquire wallet locks: %w", err)
	}
	defer release()

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	wallets := make(map[string]Wallet, len(order))
	for _, id := range order {
		w, err := tx.LockWallet(ctx, id)
		if err != nil {
			if errors.Is(err, ErrWalletNotFound) {
				return fmt.Errorf("%s %s: %w", labelFor(ids, labels, id), id, ErrWalletNotFound)
			}
			return fmt.Errorf("lock wallet %s: %w", id, err)
		}
		wallets[id] = w
	}

	if err := fn(tx, wallets); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

func (e *Engine) newTransaction(walletID string, typ TransactionType, amount decimal.Decimal, description, counterparty string) Transaction {
	return Transaction{
		ID:                 uuid.NewString(),
		WalletID:           walletID,
		Type:               typ,
		Amount:             amount,
		Description:        description,
		Timestamp:          e.now(),
		CounterpartyUserID: counterparty,
	}
}

// displayName only affects descriptions, so lookup failures degrade to a
// placeholder instead of failing the transfer.
func (e *Engine) displayName(ctx context.Context, userID string) string {
	if e.names == nil {
		return userID
	}
	name, err := e.names.DisplayName(ctx, userID)
	if err != nil || name == "" {
		if err != nil {
			e.logger.Warn("resolve user name", slog.String("user_id", userID), slog.Any("error", err))
		}
		return unknownUserName
	}
	return name
}

func lockOrder(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func labelFor(ids, labels []string, id string) string {
	for i, candidate := range ids {
		if candidate == id && i < len(labels) {
			return labels[i]
		}
	}
	return "wallet"
}
