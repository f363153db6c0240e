package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/walletd/internal/identity"
	"github.com/congo-pay/walletd/internal/ledger"
	"github.com/congo-pay/walletd/internal/notification"
)

// Service moves funds between users addressed by name.
type Service struct {
	ledger   *ledger.Engine
	users    *identity.Service
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs a payment service. notifier may be nil.
func NewService(engine *ledger.Engine, users *identity.Service, notifier notification.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: engine, users: users, notifier: notifier, logger: logger}
}

// TransferInput captures the data needed to move funds between users.
type TransferInput struct {
	FromUserID  string
	ToUserName  string
	Amount      decimal.Decimal
	Description string
}

// TransferResult describes the ledger outcome of a transfer.
type TransferResult struct {
	ledger.TransferResult
	Recipient   identity.User
	FromBalance decimal.Decimal
}

// Transfer debits the sender's wallet and credits the recipient's.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	if strings.TrimSpace(input.ToUserName) == "" {
		return TransferResult{}, fmt.Errorf("recipient is required: %w", identity.ErrInvalidArgument)
	}
	from, err := s.ledger.GetWalletByUser(ctx, input.FromUserID)
	if err != nil {
		return TransferResult{}, fmt.Errorf("sender wallet: %w", err)
	}
	recipient, err := s.users.GetUserByName(ctx, input.ToUserName)
	if err != nil {
		return TransferResult{}, fmt.Errorf("recipient %q: %w", input.ToUserName, err)
	}
	to, err := s.ledger.GetWalletByUser(ctx, recipient.ID)
	if err != nil {
		return TransferResult{}, fmt.Errorf("recipient wallet: %w", err)
	}

	res, err := s.ledger.Transfer(ctx, from.ID, to.ID, input.Amount, input.Description)
	if err != nil {
		return TransferResult{}, err
	}
	balance, err := s.ledger.GetBalance(ctx, from.ID)
	if err != nil {
		return TransferResult{}, err
	}

	if s.notifier != nil {
		msg := notification.Message{
			Kind:        notification.KindTransferReceived,
			Destination: recipient.ID,
			Body:        fmt.Sprintf("You received %s: %s", input.Amount, res.In.Description),
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.logger.Warn("transfer notification failed", slog.String("user_id", recipient.ID), slog.Any("error", err))
		}
	}

	return TransferResult{TransferResult: res, Recipient: recipient, FromBalance: balance}, nil
}
