package wallet

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletd/internal/ledger"
)

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID string
	Amount   decimal.Decimal
	AsOf     time.Time
}

// Movement is the outcome of a deposit or withdrawal.
type Movement struct {
	Transaction ledger.Transaction
	Balance     decimal.Decimal
}
