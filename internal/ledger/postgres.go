package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const walletColumns = `w.id::text, w.user_id::text, w.balance::text, w.version, w.created_at,
        ARRAY(SELECT t.id::text FROM transactions t WHERE t.wallet_id = w.id ORDER BY t.seq)`

// PostgresStore persists wallets and transactions in PostgreSQL. Row locks
// (SELECT ... FOR UPDATE) back the per-wallet serialization across processes.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Begin opens a database transaction.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &postgresTx{tx: tx}, nil
}

// GetWallet fetches a wallet with its transaction identifiers.
func (s *PostgresStore) GetWallet(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets w WHERE w.id = $1`, walletID)
	return scanWallet(row)
}

// GetWalletByUser fetches the oldest wallet owned by userID.
func (s *PostgresStore) GetWalletByUser(ctx context.Context, userID string) (Wallet, error) {
	ownerID, err := uuid.Parse(userID)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets w
        WHERE w.user_id = $1 ORDER BY w.created_at, w.id LIMIT 1`, ownerID)
	return scanWallet(row)
}

// ListWallets returns all wallets in creation order.
func (s *PostgresStore) ListWallets(ctx context.Context) ([]Wallet, error) {
	rows, err := s.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets w ORDER BY w.created_at, w.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// ListTransactions returns the wallet's records in insertion order.
func (s *PostgresStore) ListTransactions(ctx context.Context, walletID string) ([]Transaction, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return nil, ErrWalletNotFound
	}
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE wallet_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

// ListAllTransactions returns every record in Seq order. A single statement
// reads one snapshot.
func (s *PostgresStore) ListAllTransactions(ctx context.Context) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	return scanTransactions(rows)
}

const transactionColumns = `seq, id::text, wallet_id::text, type, amount::text, description,
        COALESCE(counterparty_user_id::text, ''), created_at`

func scanTransactions(rows pgx.Rows) ([]Transaction, error) {
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		var (
			t      Transaction
			typ    string
			amount string
			err    error
		)
		if err = rows.Scan(&t.Seq, &t.ID, &t.WalletID, &typ, &amount, &t.Description, &t.CounterpartyUserID, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Type = TransactionType(typ)
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount of transaction %s: %w", t.ID, err)
		}
		t.Timestamp = t.Timestamp.UTC()
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) LockWallet(ctx context.Context, id string) (Wallet, error) {
	walletID, err := uuid.Parse(id)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	row := t.tx.QueryRow(ctx, `SELECT w.id::text, w.user_id::text, w.balance::text, w.version, w.created_at, NULL::text[]
        FROM wallets w WHERE w.id = $1 FOR UPDATE`, walletID)
	return scanWallet(row)
}

func (t *postgresTx) InsertWallet(ctx context.Context, wallet Wallet) error {
	walletID, err := uuid.Parse(wallet.ID)
	if err != nil {
		return err
	}
	ownerID, err := uuid.Parse(wallet.UserID)
	if err != nil {
		return fmt.Errorf("user id %q: %w", wallet.UserID, ErrInvalidArgument)
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO wallets (id, user_id, balance, version, created_at)
        VALUES ($1, $2, $3::numeric, $4, $5)`, walletID, ownerID, wallet.Balance.String(), wallet.Version, wallet.CreatedAt.UTC())
	return err
}

func (t *postgresTx) UpdateBalance(ctx context.Context, wallet Wallet) error {
	walletID, err := uuid.Parse(wallet.ID)
	if err != nil {
		return ErrWalletNotFound
	}
	cmd, err := t.tx.Exec(ctx, `UPDATE wallets SET balance = $1::numeric, version = version + 1
        WHERE id = $2 AND version = $3`, wallet.Balance.String(), walletID, wallet.Version)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (t *postgresTx) AppendTransaction(ctx context.Context, txn Transaction) error {
	txID, err := uuid.Parse(txn.ID)
	if err != nil {
		return err
	}
	walletID, err := uuid.Parse(txn.WalletID)
	if err != nil {
		return ErrWalletNotFound
	}
	var counterparty *uuid.UUID
	if txn.CounterpartyUserID != "" {
		id, err := uuid.Parse(txn.CounterpartyUserID)
		if err != nil {
			return fmt.Errorf("counterparty %q: %w", txn.CounterpartyUserID, ErrInvalidArgument)
		}
		counterparty = &id
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO transactions (id, wallet_id, type, amount, description, counterparty_user_id, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
		txID, walletID, string(txn.Type), txn.Amount.String(), txn.Description, counterparty, txn.Timestamp.UTC())
	return err
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w         Wallet
		balance   string
		createdAt time.Time
		txIDs     []string
	)
	if err := row.Scan(&w.ID, &w.UserID, &balance, &w.Version, &createdAt, &txIDs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse balance of wallet %s: %w", w.ID, err)
	}
	w.Balance = amount
	w.CreatedAt = createdAt.UTC()
	w.TransactionIDs = txIDs
	return w, nil
}
