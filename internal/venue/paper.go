package venue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/ledger"
	"github.com/camuig/treasury-agent/internal/logger"
)

var ErrInsufficientMargin = errors.New("insufficient free collateral")

// PriceFunc returns the current reference price of the underlying.
type PriceFunc func(ctx context.Context) (float64, error)

// PaperAccount is the single persisted row of the simulated venue.
type PaperAccount struct {
	ID         uint `gorm:"primarykey"`
	UpdatedAt  time.Time
	Collateral float64
	Direction  string
	BaseAmount float64 // signed
	EntryPrice float64
	Leverage   int
	OpenedAt   *time.Time
}

// PaperVenue simulates a perp market that fills at the reference price plus a
// fixed spread. Deposits are funded from the agent's spot account.
type PaperVenue struct {
	db        *gorm.DB
	ledger    ledger.SpotLedger
	price     PriceFunc
	spreadBps float64
	logger    *logger.Logger
	now       func() time.Time
}

func NewPaperVenue(db *gorm.DB, spot ledger.SpotLedger, price PriceFunc, spreadBps float64, log *logger.Logger) (*PaperVenue, error) {
	if err := db.AutoMigrate(&PaperAccount{}); err != nil {
		return nil, fmt.Errorf("auto migrate paper venue: %w", err)
	}
	if err := db.FirstOrCreate(&PaperAccount{ID: 1}).Error; err != nil {
		return nil, fmt.Errorf("init paper venue: %w", err)
	}
	return &PaperVenue{
		db:        db,
		ledger:    spot,
		price:     price,
		spreadBps: spreadBps,
		logger:    log,
		now:       time.Now,
	}, nil
}

func (v *PaperVenue) account(ctx context.Context) (*PaperAccount, error) {
	var acc PaperAccount
	if err := v.db.WithContext(ctx).First(&acc, 1).Error; err != nil {
		return nil, fmt.Errorf("load paper account: %w", err)
	}
	return &acc, nil
}

func (v *PaperVenue) save(ctx context.Context, acc *PaperAccount) error {
	if err := v.db.WithContext(ctx).Save(acc).Error; err != nil {
		return fmt.Errorf("save paper account: %w", err)
	}
	return nil
}

func (v *PaperVenue) Position(ctx context.Context) (*domain.Position, error) {
	acc, err := v.account(ctx)
	if err != nil {
		return nil, err
	}
	if acc.BaseAmount == 0 {
		return nil, nil
	}
	mark, err := v.price(ctx)
	if err != nil {
		return nil, fmt.Errorf("mark price: %w", err)
	}
	return v.position(acc, mark), nil
}

func (v *PaperVenue) position(acc *PaperAccount, mark float64) *domain.Position {
	pos := &domain.Position{
		Direction:     domain.Direction(acc.Direction),
		BaseAmount:    acc.BaseAmount,
		QuoteAmount:   math.Abs(acc.BaseAmount) * acc.EntryPrice,
		UnrealizedPnl: (mark - acc.EntryPrice) * acc.BaseAmount,
	}
	if acc.OpenedAt != nil {
		pos.OpenedAt = *acc.OpenedAt
	}
	return pos
}

func (v *PaperVenue) Collateral(ctx context.Context) (domain.Collateral, error) {
	acc, err := v.account(ctx)
	if err != nil {
		return domain.Collateral{}, err
	}
	c := domain.Collateral{Balance: acc.Collateral, Free: acc.Collateral}
	if acc.BaseAmount != 0 {
		mark, err := v.price(ctx)
		if err != nil {
			return domain.Collateral{}, fmt.Errorf("mark price: %w", err)
		}
		pos := v.position(acc, mark)
		c.Free = acc.Collateral + pos.UnrealizedPnl - pos.Notional()/float64(max(acc.Leverage, 1))
	}
	c.Free = math.Max(c.Free, 0)
	return c, nil
}

func (v *PaperVenue) Deposit(ctx context.Context, amount float64) (string, error) {
	txRef, err := v.ledger.Transfer(ctx, domain.AgentAccount, ledger.EscrowAccount, amount)
	if err != nil {
		return "", fmt.Errorf("fund paper venue: %w", err)
	}
	acc, err := v.account(ctx)
	if err != nil {
		return "", err
	}
	acc.Collateral += amount
	if err := v.save(ctx, acc); err != nil {
		return "", err
	}
	return txRef, nil
}

func (v *PaperVenue) Open(ctx context.Context, dir domain.Direction, sizeUSD float64, leverage int) (*OpenResult, error) {
	acc, err := v.account(ctx)
	if err != nil {
		return nil, err
	}
	if acc.BaseAmount != 0 {
		return nil, fmt.Errorf("paper venue: %s position already open", acc.Direction)
	}
	if leverage < 1 {
		leverage = 1
	}
	if sizeUSD/float64(leverage) > acc.Collateral {
		return nil, fmt.Errorf("%w: need %.4f, have %.4f", ErrInsufficientMargin, sizeUSD/float64(leverage), acc.Collateral)
	}

	ref, err := v.price(ctx)
	if err != nil {
		return nil, fmt.Errorf("reference price: %w", err)
	}
	if ref <= 0 {
		return nil, fmt.Errorf("paper venue: no reference price")
	}
	fill := ref * (1 + dir.Sign()*v.spreadBps/10000)
	base := sizeUSD / fill * dir.Sign()
	now := v.now()

	acc.Direction = string(dir)
	acc.BaseAmount = base
	acc.EntryPrice = fill
	acc.Leverage = leverage
	acc.OpenedAt = &now
	if err := v.save(ctx, acc); err != nil {
		return nil, err
	}

	v.logger.Debug("paper position opened", "direction", dir, "fill", fill, "base", base)
	return &OpenResult{TxRef: uuid.NewString(), Price: fill, BaseAmount: base}, nil
}

func (v *PaperVenue) Close(ctx context.Context) (*CloseResult, error) {
	acc, err := v.account(ctx)
	if err != nil {
		return nil, err
	}
	if acc.BaseAmount == 0 {
		return nil, nil
	}

	ref, err := v.price(ctx)
	if err != nil {
		return nil, fmt.Errorf("reference price: %w", err)
	}
	dir := domain.Direction(acc.Direction)
	// exit crosses the spread the other way
	fill := ref * (1 - dir.Sign()*v.spreadBps/10000)
	pnl := (fill - acc.EntryPrice) * acc.BaseAmount

	acc.Collateral = math.Max(acc.Collateral+pnl, 0)
	acc.Direction = ""
	acc.BaseAmount = 0
	acc.EntryPrice = 0
	acc.Leverage = 0
	acc.OpenedAt = nil
	if err := v.save(ctx, acc); err != nil {
		return nil, err
	}

	v.logger.Debug("paper position closed", "direction", dir, "fill", fill, "pnl", pnl)
	return &CloseResult{TxRef: uuid.NewString(), Pnl: pnl, Price: fill}, nil
}
