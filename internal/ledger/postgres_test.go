package ledger

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletd/internal/infra"
)

func newPostgresEngine(t *testing.T) *Engine {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, infra.EnsureSchema(ctx, pool))
	return NewEngine(NewPostgresStore(pool))
}

func TestPostgresTransfer(t *testing.T) {
	e := newPostgresEngine(t)
	ctx := context.Background()
	a := mustWallet(t, e, uuid.NewString())
	b := mustWallet(t, e, uuid.NewString())

	_, err := e.Deposit(ctx, a.ID, dec("1000.50"), "")
	require.NoError(t, err)
	res, err := e.Transfer(ctx, a.ID, b.ID, dec("300.25"), "")
	require.NoError(t, err)
	assert.Equal(t, b.UserID, res.Out.CounterpartyUserID)

	_, err = e.Transfer(ctx, a.ID, b.ID, dec("10000"), "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	gotA, err := e.GetWallet(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, gotA.Balance.Equal(dec("700.25")), "balance %s", gotA.Balance)
	assert.Len(t, gotA.TransactionIDs, 2)

	hist, err := e.GetHistory(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, TypeTransferIn, hist[0].Type)
	assert.True(t, hist[0].Amount.Equal(dec("300.25")))

	all, err := e.AllTransactions(ctx)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, txn := range all {
		seen[txn.ID] = true
	}
	assert.True(t, seen[res.Out.ID] && seen[res.In.ID])

	byUser, err := e.GetWalletByUser(ctx, b.UserID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, byUser.ID)

	_, err = e.GetWallet(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrWalletNotFound)
	_, err = e.Deposit(ctx, uuid.NewString(), dec("1"), "")
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestPostgresConcurrentTransfers(t *testing.T) {
	e := newPostgresEngine(t)
	ctx := context.Background()
	a := mustWallet(t, e, uuid.NewString())
	b := mustWallet(t, e, uuid.NewString())
	_, err := e.Deposit(ctx, a.ID, dec("100"), "")
	require.NoError(t, err)
	_, err = e.Deposit(ctx, b.ID, dec("100"), "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
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

	balA, _ := e.GetBalance(ctx, a.ID)
	balB, _ := e.GetBalance(ctx, b.ID)
	assert.True(t, balA.Equal(dec("100")))
	assert.True(t, balB.Equal(dec("100")))
}
