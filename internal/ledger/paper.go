package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/logger"
	"github.com/camuig/treasury-agent/internal/poll"
)

// EscrowAccount holds funds deposited into the paper perp venue.
const EscrowAccount domain.Account = "venue_escrow"

const (
	transferPending   = "pending"
	transferConfirmed = "confirmed"
)

type LedgerAccount struct {
	Name      string          `gorm:"primarykey"`
	Balance   decimal.Decimal `gorm:"type:decimal(24,8);not null"`
	UpdatedAt time.Time
}

type LedgerTransfer struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time

	FromAccount string          `gorm:"not null"`
	ToAccount   string          `gorm:"not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(24,8);not null"`
	Status      string          `gorm:"not null;index"`
	SettleAt    time.Time
}

type PaperOptions struct {
	ConfirmDelay   time.Duration // time a transfer stays pending
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// PaperLedger is a sqlite-backed SpotLedger. Balances are kept as decimals so
// repeated transfers do not drift.
type PaperLedger struct {
	db     *gorm.DB
	opts   PaperOptions
	logger *logger.Logger
	now    func() time.Time
}

func NewPaperLedger(db *gorm.DB, opts PaperOptions, log *logger.Logger) (*PaperLedger, error) {
	if err := db.AutoMigrate(&LedgerAccount{}, &LedgerTransfer{}); err != nil {
		return nil, fmt.Errorf("auto migrate ledger: %w", err)
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	return &PaperLedger{db: db, opts: opts, logger: log, now: time.Now}, nil
}

// Seed creates the two owned accounts with the given balances if they do not
// exist yet. Existing balances are left untouched.
func (l *PaperLedger) Seed(ctx context.Context, agent, treasury float64) error {
	accounts := []LedgerAccount{
		{Name: string(domain.AgentAccount), Balance: decimal.NewFromFloat(agent)},
		{Name: string(domain.TreasuryAccount), Balance: decimal.NewFromFloat(treasury)},
		{Name: string(EscrowAccount), Balance: decimal.Zero},
	}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&accounts).Error
	if err != nil {
		return fmt.Errorf("seed ledger accounts: %w", err)
	}
	return nil
}

func (l *PaperLedger) Balance(ctx context.Context, account domain.Account) (float64, error) {
	var acc LedgerAccount
	err := l.db.WithContext(ctx).First(&acc, "name = ?", string(account)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", account, err)
	}
	return acc.Balance.InexactFloat64(), nil
}

func (l *PaperLedger) Transfer(ctx context.Context, from, to domain.Account, amount float64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("transfer amount must be positive, got %f", amount)
	}
	amt := decimal.NewFromFloat(amount).Round(8)
	id := uuid.NewString()
	now := l.now()

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var src, dst LedgerAccount
		if err := tx.First(&src, "name = ?", string(from)).Error; err != nil {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, from)
		}
		if err := tx.First(&dst, "name = ?", string(to)).Error; err != nil {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, to)
		}
		if src.Balance.LessThan(amt) {
			return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientFunds, from, src.Balance, amt)
		}

		if err := tx.Model(&src).Update("balance", src.Balance.Sub(amt)).Error; err != nil {
			return err
		}
		if err := tx.Model(&dst).Update("balance", dst.Balance.Add(amt)).Error; err != nil {
			return err
		}
		return tx.Create(&LedgerTransfer{
			ID:          id,
			FromAccount: string(from),
			ToAccount:   string(to),
			Amount:      amt,
			Status:      transferPending,
			SettleAt:    now.Add(l.opts.ConfirmDelay),
		}).Error
	})
	if err != nil {
		return "", fmt.Errorf("transfer %s -> %s: %w", from, to, err)
	}

	if _, err := poll.Await(ctx, poll.Options{Interval: l.opts.PollInterval, Timeout: l.opts.ConfirmTimeout},
		func(ctx context.Context) (string, bool, error) {
			status, err := l.settle(ctx, id)
			return status, status == transferConfirmed, err
		}, nil); err != nil {
		return id, fmt.Errorf("await transfer %s: %w", id, err)
	}

	l.logger.Debug("paper transfer confirmed", "id", id, "from", from, "to", to, "amount", amt.String())
	return id, nil
}

// settle confirms the transfer once its settle time has passed and returns
// the resulting status.
func (l *PaperLedger) settle(ctx context.Context, id string) (string, error) {
	var t LedgerTransfer
	if err := l.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return "", fmt.Errorf("get transfer %s: %w", id, err)
	}
	if t.Status == transferPending && !l.now().Before(t.SettleAt) {
		if err := l.db.WithContext(ctx).Model(&t).Update("status", transferConfirmed).Error; err != nil {
			return "", fmt.Errorf("confirm transfer %s: %w", id, err)
		}
		t.Status = transferConfirmed
	}
	return t.Status, nil
}

func (l *PaperLedger) RecentTransfers(ctx context.Context, limit int) ([]LedgerTransfer, error) {
	var out []LedgerTransfer
	err := l.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}
