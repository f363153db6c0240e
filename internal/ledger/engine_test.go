package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticNames map[string]string

func (n staticNames) DisplayName(_ context.Context, userID string) (string, error) {
	name, ok := n[userID]
	if !ok {
		return "", errors.New("no such user")
	}
	return name, nil
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *MemoryStore) {
	t.Helper()
	store, err := NewMemoryStore()
	require.NoError(t, err)
	return NewEngine(store, opts...), store
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustWallet(t *testing.T, e *Engine, userID string) Wallet {
	t.Helper()
	w, err := e.CreateWallet(context.Background(), userID)
	require.NoError(t, err)
	return w
}

func TestDepositThenWithdraw(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	w := mustWallet(t, e, "user-a")

	dep, err := e.Deposit(ctx, w.ID, dec("1000.50"), "")
	require.NoError(t, err)
	assert.Equal(t, TypeDeposit, dep.Type)
	assert.Equal(t, "Deposit", dep.Description)

	wd, err := e.Withdraw(ctx, w.ID, dec("300.25"), "atm")
	require.NoError(t, err)
	assert.Equal(t, TypeWithdrawal, wd.Type)
	assert.Equal(t, "atm", wd.Description)

	balance, err := e.GetBalance(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("700.25")), "balance %s", balance)

	got, err := e.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{dep.ID, wd.ID}, got.TransactionIDs)
}

func TestTransferRecordsBothLegs(t *testing.T) {
	names := staticNames{"alice": "Alice", "bob": "Bob"}
	e, _ := newTestEngine(t, WithNameResolver(names))
	ctx := context.Background()
	a := mustWallet(t, e, "alice")
	b := mustWallet(t, e, "bob")

	_, err := e.Deposit(ctx, a.ID, dec("1000"), "")
	require.NoError(t, err)

	res, err := e.Transfer(ctx, a.ID, b.ID, dec("500"), "Rent")
	require.NoError(t, err)

	assert.Equal(t, TypeTransferOut, res.Out.Type)
	assert.Equal(t, a.ID, res.Out.WalletID)
	assert.Equal(t, "bob", res.Out.CounterpartyUserID)
	assert.Equal(t, "Rent to Bob", res.Out.Description)

	assert.Equal(t, TypeTransferIn, res.In.Type)
	assert.Equal(t, b.ID, res.In.WalletID)
	assert.Equal(t, "alice", res.In.CounterpartyUserID)
	assert.Equal(t, "Rent from Alice", res.In.Description)

	balA, _ := e.GetBalance(ctx, a.ID)
	balB, _ := e.GetBalance(ctx, b.ID)
	assert.True(t, balA.Equal(dec("500")))
	assert.True(t, balB.Equal(dec("500")))
}

func TestTransferUnknownNameFallsBack(t *testing.T) {
	e, _ := newTestEngine(t, WithNameResolver(staticNames{"alice": "Alice"}))
	ctx := context.Background()
	a := mustWallet(t, e, "alice")
	b := mustWallet(t, e, "ghost")
	_, err := e.Deposit(ctx, a.ID, dec("10"), "")
	require.NoError(t, err)

	res, err := e.Transfer(ctx, a.ID, b.ID, dec("1"), "")
	require.NoError(t, err)
	assert.Equal(t, "Transfer to Unknown User", res.Out.Description)
	assert.Equal(t, "Transfer from Alice", res.In.Description)
}

func TestTransferRejections(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := mustWallet(t, e, "a")
	b := mustWallet(t, e, "b")
	_, err := e.Deposit(ctx, a.ID, dec("100"), "")
	require.NoError(t, err)

	_, err = e.Transfer(ctx, a.ID, a.ID, dec("10"), "")
	assert.ErrorIs(t, err, ErrSameWalletTransfer)

	_, err = e.Transfer(ctx, a.ID, b.ID, dec("100.01"), "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = e.Transfer(ctx, a.ID, b.ID, dec("0"), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = e.Transfer(ctx, "", b.ID, dec("1"), "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = e.Transfer(ctx, a.ID, "missing", dec("1"), "")
	require.ErrorIs(t, err, ErrWalletNotFound)
	assert.Contains(t, err.Error(), "destination wallet")

	_, err = e.Transfer(ctx, "missing", b.ID, dec("1"), "")
	require.ErrorIs(t, err, ErrWalletNotFound)
	assert.Contains(t, err.Error(), "source wallet")

	balA, _ := e.GetBalance(ctx, a.ID)
	balB, _ := e.GetBalance(ctx, b.ID)
	assert.True(t, balA.Equal(dec("100")))
	assert.True(t, balB.IsZero())

	histA, err := e.GetHistory(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, histA, 1)
	histB, err := e.GetHistory(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, histB)
}

func TestWithdrawInsufficientLeavesStateUnchanged(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	w := mustWallet(t, e, "u")
	_, err := e.Deposit(ctx, w.ID, dec("50"), "")
	require.NoError(t, err)

	_, err = e.Withdraw(ctx, w.ID, dec("50.01"), "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = e.Withdraw(ctx, w.ID, dec("-1"), "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	got, err := e.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("50")))
	assert.Len(t, got.TransactionIDs, 1)

	// exact balance is allowed
	_, err = e.Withdraw(ctx, w.ID, dec("50"), "")
	require.NoError(t, err)
	bal, _ := e.GetBalance(ctx, w.ID)
	assert.True(t, bal.IsZero())
}

func TestUnknownWallet(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Deposit(ctx, "nope", dec("1"), "")
	assert.ErrorIs(t, err, ErrWalletNotFound)
	_, err = e.GetBalance(ctx, "nope")
	assert.ErrorIs(t, err, ErrWalletNotFound)
	_, err = e.GetHistory(ctx, "nope")
	assert.ErrorIs(t, err, ErrWalletNotFound)
	_, err = e.GetWalletByUser(ctx, "nobody")
	assert.ErrorIs(t, err, ErrWalletNotFound)
	_, err = e.CreateWallet(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestHistoryMostRecentFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	e, _ := newTestEngine(t, WithClock(clock))
	ctx := context.Background()
	w := mustWallet(t, e, "u")

	first, err := e.Deposit(ctx, w.ID, dec("5"), "first")
	require.NoError(t, err)
	second, err := e.Deposit(ctx, w.ID, dec("5"), "second")
	require.NoError(t, err)
	third, err := e.Withdraw(ctx, w.ID, dec("1"), "third")
	require.NoError(t, err)

	hist, err := e.GetHistory(ctx, w.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{hist[0].ID, hist[1].ID, hist[2].ID})
}

func TestHistoryEqualTimestampsKeepInsertionOrder(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e, _ := newTestEngine(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	w := mustWallet(t, e, "u")

	var ids []string
	for i := 0; i < 4; i++ {
		txn, err := e.Deposit(ctx, w.ID, dec("1"), "")
		require.NoError(t, err)
		ids = append(ids, txn.ID)
	}

	hist, err := e.GetHistory(ctx, w.ID)
	require.NoError(t, err)
	got := make([]string, len(hist))
	for i, h := range hist {
		got[i] = h.ID
	}
	assert.Equal(t, ids, got)
}

func TestConcurrentDepositsAndWithdrawals(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	w := mustWallet(t, e, "u")
	_, err := e.Deposit(ctx, w.ID, dec("10000"), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 80)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Deposit(ctx, w.ID, dec("10"), ""); err != nil {
				errs <- err
			}
		}()
	}
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Withdraw(ctx, w.ID, dec("5"), ""); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("operation failed: %v", err)
	}

	got, err := e.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("10350")), "balance %s", got.Balance)
	assert.Len(t, got.TransactionIDs, 81)

	discrepancies, err := e.Audit(ctx)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)
}

func TestOppositeTransfersDoNotDeadlock(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a := mustWallet(t, e, "a")
	b := mustWallet(t, e, "b")
	_, err := e.Deposit(ctx, a.ID, dec("1000"), "")
	require.NoError(t, err)
	_, err = e.Deposit(ctx, b.ID, dec("1000"), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.Transfer(ctx, a.ID, b.ID, dec("1"), "")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.Transfer(ctx, b.ID, a.ID, dec("1"), "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.NoError(t, ctx.Err())

	balA, _ := e.GetBalance(ctx, a.ID)
	balB, _ := e.GetBalance(ctx, b.ID)
	assert.True(t, balA.Add(balB).Equal(dec("2000")))
	assert.True(t, balA.Equal(dec("1000")))
}

func TestTransfersAreAtomicToReaders(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	wallets := []Wallet{mustWallet(t, e, "a"), mustWallet(t, e, "b"), mustWallet(t, e, "c")}
	for _, w := range wallets {
		_, err := e.Deposit(ctx, w.ID, dec("1000"), "")
		require.NoError(t, err)
	}
	total := dec("3000")

	done := make(chan struct{})
	var (
		readers      sync.WaitGroup
		observations int
		torn         []string
	)
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			torn = append(torn, observeSnapshot(ctx, e, total)...)
			observations++
			select {
			case <-done:
				return
			default:
			}
		}
	}()

	var writers sync.WaitGroup
	for i := 0; i < 300; i++ {
		from, to := wallets[i%3], wallets[(i+1)%3]
		writers.Add(1)
		go func() {
			defer writers.Done()
			_, err := e.Transfer(ctx, from.ID, to.ID, dec("1.5"), "")
			assert.NoError(t, err)
		}()
	}
	writers.Wait()
	close(done)
	readers.Wait()

	assert.Positive(t, observations)
	assert.Empty(t, torn)
	assert.Empty(t, observeSnapshot(ctx, e, total))
}

// observeSnapshot reads the wallets and then every transaction, and reports
// anything a half-applied transfer would show. Records are write-once, so the
// later read resolves every id in the wallet snapshot.
func observeSnapshot(ctx context.Context, e *Engine, total decimal.Decimal) []string {
	var problems []string
	wallets, err := e.ListWallets(ctx)
	if err != nil {
		return []string{err.Error()}
	}
	all, err := e.AllTransactions(ctx)
	if err != nil {
		return []string{err.Error()}
	}

	byID := make(map[string]Transaction, len(all))
	ins, outs := 0, 0
	sum := decimal.Zero
	for _, txn := range all {
		byID[txn.ID] = txn
		sum = sum.Add(txn.SignedAmount())
		switch txn.Type {
		case TypeTransferIn:
			ins++
		case TypeTransferOut:
			outs++
		}
	}
	if ins != outs {
		problems = append(problems, fmt.Sprintf("%d transfer_in vs %d transfer_out", ins, outs))
	}
	if !sum.Equal(total) {
		problems = append(problems, fmt.Sprintf("signed sum of all records %s", sum))
	}

	balances := decimal.Zero
	for _, w := range wallets {
		balances = balances.Add(w.Balance)
		history := decimal.Zero
		for _, id := range w.TransactionIDs {
			txn, ok := byID[id]
			if !ok {
				problems = append(problems, "unknown transaction "+id)
				continue
			}
			history = history.Add(txn.SignedAmount())
		}
		if !history.Equal(w.Balance) {
			problems = append(problems, fmt.Sprintf("wallet %s: balance %s history %s", w.ID, w.Balance, history))
		}
	}
	if !balances.Equal(total) {
		problems = append(problems, fmt.Sprintf("total balance %s", balances))
	}
	return problems
}

func TestAllTransactionsMostRecentFirst(t *testing.T) {
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e, _ := newTestEngine(t, WithClock(func() time.Time { return stamp }))
	ctx := context.Background()
	a := mustWallet(t, e, "a")
	b := mustWallet(t, e, "b")

	dep, err := e.Deposit(ctx, a.ID, dec("10"), "")
	require.NoError(t, err)
	res, err := e.Transfer(ctx, a.ID, b.ID, dec("4"), "")
	require.NoError(t, err)

	all, err := e.AllTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, res.In.ID, all[0].ID)
	assert.Equal(t, res.Out.ID, all[1].ID)
	assert.Equal(t, dep.ID, all[2].ID)
}

func TestBalanceEqualsSignedHistory(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := mustWallet(t, e, "a")
	b := mustWallet(t, e, "b")

	_, err := e.Deposit(ctx, a.ID, dec("250.75"), "")
	require.NoError(t, err)
	_, err = e.Transfer(ctx, a.ID, b.ID, dec("100.25"), "")
	require.NoError(t, err)
	_, err = e.Withdraw(ctx, b.ID, dec("0.25"), "")
	require.NoError(t, err)
	_, err = e.Transfer(ctx, b.ID, a.ID, dec("50"), "")
	require.NoError(t, err)

	for _, id := range []string{a.ID, b.ID} {
		hist, err := e.GetHistory(ctx, id)
		require.NoError(t, err)
		sum := decimal.Zero
		for _, h := range hist {
			sum = sum.Add(h.SignedAmount())
		}
		bal, err := e.GetBalance(ctx, id)
		require.NoError(t, err)
		assert.True(t, sum.Equal(bal), "wallet %s: sum %s balance %s", id, sum, bal)
	}
}

func TestAuditFlagsTamperedWallet(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()
	w := mustWallet(t, e, "u")
	_, err := e.Deposit(ctx, w.ID, dec("10"), "")
	require.NoError(t, err)

	store.mu.Lock()
	tampered := store.wallets[w.ID]
	tampered.Balance = dec("99")
	store.wallets[w.ID] = tampered
	store.mu.Unlock()

	got, err := e.Audit(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, w.ID, got[0].WalletID)
	assert.True(t, got[0].Expected.Equal(dec("10")))
	assert.True(t, got[0].Balance.Equal(dec("99")))
}

func TestLockOrder(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, lockOrder([]string{"b", "a", "b"}))
	assert.Equal(t, []string{"x"}, lockOrder([]string{"x"}))
}
