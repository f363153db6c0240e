package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/congo-pay/walletd/internal/journal"
)

const journalStream = "ledger"

// MemoryStore is a concurrency-safe in-process Store. Writes are buffered per
// transaction and applied under the write lock at commit, so readers never see
// half of a transfer. With a journal attached every committed batch is written
// ahead of being applied and replayed on construction.
type MemoryStore struct {
	mu           sync.RWMutex
	wallets      map[string]Wallet
	byUser       map[string]string
	order        []string
	transactions map[string][]Transaction
	seq          int64
	journal      *journal.Journal
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithJournal makes the store durable through j.
func WithJournal(j *journal.Journal) MemoryOption {
	return func(s *MemoryStore) { s.journal = j }
}

// commitBatch is the unit written to the journal.
type commitBatch struct {
	Wallets      []Wallet      `json:"wallets,omitempty"`
	Transactions []Transaction `json:"transactions,omitempty"`
}

// NewMemoryStore creates an empty store, replaying the journal if one is set.
func NewMemoryStore(opts ...MemoryOption) (*MemoryStore, error) {
	s := &MemoryStore{
		wallets:      make(map[string]Wallet),
		byUser:       make(map[string]string),
		transactions: make(map[string][]Transaction),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.journal != nil {
		err := s.journal.Replay(journalStream, func(raw []byte) error {
			var batch commitBatch
			if err := json.Unmarshal(raw, &batch); err != nil {
				return err
			}
			s.apply(batch)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("recover ledger journal: %w", err)
		}
	}
	return s, nil
}

// Begin opens a buffered transaction.
func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	return &memoryTx{
		store:   s,
		pending: make(map[string]Wallet),
		read:    make(map[string]int64),
	}, nil
}

// GetWallet returns a committed wallet.
func (s *MemoryStore) GetWallet(_ context.Context, id string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return s.withHistory(w), nil
}

// GetWalletByUser returns the first wallet created for userID.
func (s *MemoryStore) GetWalletByUser(_ context.Context, userID string) (Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUser[userID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return s.withHistory(s.wallets[id]), nil
}

// ListWallets returns all wallets in creation order.
func (s *MemoryStore) ListWallets(_ context.Context) ([]Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Wallet, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.withHistory(s.wallets[id]))
	}
	return out, nil
}

// ListTransactions returns a copy of the wallet's records in insertion order.
func (s *MemoryStore) ListTransactions(_ context.Context, walletID string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.wallets[walletID]; !ok {
		return nil, ErrWalletNotFound
	}
	txns := s.transactions[walletID]
	out := make([]Transaction, len(txns))
	copy(out, txns)
	return out, nil
}

// ListAllTransactions returns every record in Seq order.
func (s *MemoryStore) ListAllTransactions(_ context.Context) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Transaction
	for _, txns := range s.transactions {
		out = append(out, txns...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) withHistory(w Wallet) Wallet {
	txns := s.transactions[w.ID]
	w.TransactionIDs = make([]string, len(txns))
	for i, t := range txns {
		w.TransactionIDs[i] = t.ID
	}
	return w
}

// apply installs a batch; the caller holds the write lock or owns s exclusively.
func (s *MemoryStore) apply(batch commitBatch) {
	for _, w := range batch.Wallets {
		w.TransactionIDs = nil
		if _, exists := s.wallets[w.ID]; !exists {
			s.order = append(s.order, w.ID)
			if _, owned := s.byUser[w.UserID]; !owned {
				s.byUser[w.UserID] = w.ID
			}
		}
		s.wallets[w.ID] = w
	}
	for _, t := range batch.Transactions {
		if t.Seq > s.seq {
			s.seq = t.Seq
		}
		s.transactions[t.WalletID] = append(s.transactions[t.WalletID], t)
	}
}

type memoryTx struct {
	store   *MemoryStore
	pending map[string]Wallet
	created map[string]struct{}
	read    map[string]int64
	txns    []Transaction
	done    bool
}

func (t *memoryTx) LockWallet(_ context.Context, id string) (Wallet, error) {
	if t.done {
		return Wallet{}, errTxDone
	}
	if w, ok := t.pending[id]; ok {
		return w, nil
	}
	t.store.mu.RLock()
	w, ok := t.store.wallets[id]
	t.store.mu.RUnlock()
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	t.read[id] = w.Version
	return w, nil
}

func (t *memoryTx) InsertWallet(_ context.Context, wallet Wallet) error {
	if t.done {
		return errTxDone
	}
	if _, ok := t.pending[wallet.ID]; ok {
		return fmt.Errorf("wallet %s already exists", wallet.ID)
	}
	if t.created == nil {
		t.created = make(map[string]struct{})
	}
	t.created[wallet.ID] = struct{}{}
	t.pending[wallet.ID] = wallet
	return nil
}

func (t *memoryTx) UpdateBalance(_ context.Context, wallet Wallet) error {
	if t.done {
		return errTxDone
	}
	current, ok := t.pending[wallet.ID]
	if !ok {
		version, seen := t.read[wallet.ID]
		if !seen {
			return fmt.Errorf("wallet %s was not locked in this transaction", wallet.ID)
		}
		current.Version = version
	}
	if current.Version != wallet.Version {
		return ErrConflict
	}
	if wallet.Balance.IsNegative() {
		return fmt.Errorf("wallet %s: negative balance %s", wallet.ID, wallet.Balance)
	}
	wallet.Version++
	t.pending[wallet.ID] = wallet
	return nil
}

func (t *memoryTx) AppendTransaction(_ context.Context, txn Transaction) error {
	if t.done {
		return errTxDone
	}
	if !txn.Type.Valid() || !txn.Amount.IsPositive() {
		return fmt.Errorf("malformed transaction %s", txn.ID)
	}
	t.txns = append(t.txns, txn)
	return nil
}

func (t *memoryTx) Commit(_ context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, version := range t.read {
		if _, written := t.pending[id]; !written {
			continue
		}
		current, ok := s.wallets[id]
		if !ok {
			return ErrWalletNotFound
		}
		if current.Version != version {
			return ErrConflict
		}
	}
	for id := range t.created {
		if _, exists := s.wallets[id]; exists {
			return fmt.Errorf("wallet %s already exists", id)
		}
	}
	for _, txn := range t.txns {
		_, known := s.wallets[txn.WalletID]
		if _, pending := t.pending[txn.WalletID]; !known && !pending {
			return ErrWalletNotFound
		}
	}

	batch := commitBatch{Wallets: make([]Wallet, 0, len(t.pending))}
	for _, w := range t.pending {
		batch.Wallets = append(batch.Wallets, w)
	}
	sort.Slice(batch.Wallets, func(i, j int) bool {
		return batch.Wallets[i].CreatedAt.Before(batch.Wallets[j].CreatedAt)
	})
	batch.Transactions = make([]Transaction, len(t.txns))
	for i, txn := range t.txns {
		txn.Seq = s.seq + int64(i) + 1
		batch.Transactions[i] = txn
	}

	if s.journal != nil {
		if err := s.journal.Append(journalStream, batch); err != nil {
			return err
		}
	}
	s.apply(batch)
	return nil
}

func (t *memoryTx) Rollback(_ context.Context) error {
	t.done = true
	return nil
}
