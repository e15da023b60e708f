package venue

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/camuig/treasury-agent/internal/config"
	"github.com/camuig/treasury-agent/internal/domain"
	"github.com/camuig/treasury-agent/internal/logger"
	"github.com/camuig/treasury-agent/internal/poll"
)

// BinanceVenue trades one USD-M perpetual symbol in one-way mode.
type BinanceVenue struct {
	futures      *futures.Client
	spot         *binance.Client
	symbol       string
	asset        string
	qtyPrecision int
	fillTimeout  time.Duration
	logger       *logger.Logger
}

func NewBinanceVenue(cfg *config.Config, log *logger.Logger) *BinanceVenue {
	if cfg.Venue.Testnet {
		futures.UseTestnet = true
		binance.UseTestnet = true
		log.Warn("using binance futures testnet")
	}
	return &BinanceVenue{
		futures:      binance.NewFuturesClient(cfg.Venue.APIKey, cfg.Venue.SecretKey),
		spot:         binance.NewClient(cfg.Venue.APIKey, cfg.Venue.SecretKey),
		symbol:       cfg.Venue.Symbol,
		asset:        cfg.Venue.Asset,
		qtyPrecision: cfg.Venue.QtyPrecision,
		fillTimeout:  cfg.FillTimeout(),
		logger:       log,
	}
}

func (v *BinanceVenue) Position(ctx context.Context) (*domain.Position, error) {
	risks, err := v.futures.NewGetPositionRiskService().Symbol(v.symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get position risk: %w", err)
	}
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		entry := parseFloat(r.EntryPrice)
		dir := domain.Long
		if amt < 0 {
			dir = domain.Short
		}
		return &domain.Position{
			Direction:     dir,
			BaseAmount:    amt,
			QuoteAmount:   math.Abs(amt) * entry,
			UnrealizedPnl: parseFloat(r.UnRealizedProfit),
		}, nil
	}
	return nil, nil
}

func (v *BinanceVenue) Collateral(ctx context.Context) (domain.Collateral, error) {
	acc, err := v.futures.NewGetAccountService().Do(ctx)
	if err != nil {
		return domain.Collateral{}, fmt.Errorf("get futures account: %w", err)
	}
	for _, a := range acc.Assets {
		if a.Asset == v.asset {
			return domain.Collateral{
				Balance: parseFloat(a.WalletBalance),
				Free:    parseFloat(a.AvailableBalance),
			}, nil
		}
	}
	return domain.Collateral{}, nil
}

// Deposit moves the asset from the spot wallet into the futures wallet.
func (v *BinanceVenue) Deposit(ctx context.Context, amount float64) (string, error) {
	res, err := v.spot.NewFuturesTransferService().
		Asset(v.asset).
		Amount(strconv.FormatFloat(amount, 'f', 2, 64)).
		Type(binance.FuturesTransferTypeToFutures).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("futures transfer: %w", err)
	}
	return strconv.FormatInt(res.TranID, 10), nil
}

func (v *BinanceVenue) Open(ctx context.Context, dir domain.Direction, sizeUSD float64, leverage int) (*OpenResult, error) {
	if _, err := v.futures.NewChangeLeverageService().Symbol(v.symbol).Leverage(leverage).Do(ctx); err != nil {
		return nil, fmt.Errorf("set leverage %dx: %w", leverage, err)
	}

	prices, err := v.futures.NewListPricesService().Symbol(v.symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get price %s: %w", v.symbol, err)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("get price %s: empty price list", v.symbol)
	}
	price := parseFloat(prices[0].Price)
	if price <= 0 {
		return nil, fmt.Errorf("invalid price %q for %s", prices[0].Price, v.symbol)
	}

	qty := roundDown(sizeUSD/price, v.qtyPrecision)
	if qty <= 0 {
		return nil, fmt.Errorf("size %.4f too small for %s at %.4f", sizeUSD, v.symbol, price)
	}

	side := futures.SideTypeBuy
	if dir == domain.Short {
		side = futures.SideTypeSell
	}

	order, err := v.marketOrder(ctx, side, qty, false)
	if err != nil {
		return nil, err
	}

	base := parseFloat(order.ExecutedQuantity) * dir.Sign()
	return &OpenResult{
		TxRef:      strconv.FormatInt(order.OrderID, 10),
		Price:      parseFloat(order.AvgPrice),
		BaseAmount: base,
	}, nil
}

func (v *BinanceVenue) Close(ctx context.Context) (*CloseResult, error) {
	risks, err := v.futures.NewGetPositionRiskService().Symbol(v.symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("get position risk: %w", err)
	}

	var amt, entry float64
	for _, r := range risks {
		if a := parseFloat(r.PositionAmt); a != 0 {
			amt, entry = a, parseFloat(r.EntryPrice)
			break
		}
	}
	if amt == 0 {
		return nil, nil
	}

	side := futures.SideTypeSell
	if amt < 0 {
		side = futures.SideTypeBuy
	}

	order, err := v.marketOrder(ctx, side, math.Abs(amt), true)
	if err != nil {
		return nil, err
	}

	fill := parseFloat(order.AvgPrice)
	filled := parseFloat(order.ExecutedQuantity)
	if amt < 0 {
		filled = -filled
	}
	return &CloseResult{
		TxRef: strconv.FormatInt(order.OrderID, 10),
		Pnl:   (fill - entry) * filled,
		Price: fill,
	}, nil
}

// marketOrder places a market order and waits for it to fill, cancelling it
// if the fill does not arrive within the fill timeout.
func (v *BinanceVenue) marketOrder(ctx context.Context, side futures.SideType, qty float64, reduceOnly bool) (*futures.Order, error) {
	qtyStr := strconv.FormatFloat(qty, 'f', v.qtyPrecision, 64)

	res, err := v.futures.NewCreateOrderService().
		Symbol(v.symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(qtyStr).
		ReduceOnly(reduceOnly).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("create %s order: %w", side, err)
	}
	v.logger.Info("binance order placed", "order_id", res.OrderID, "side", side, "qty", qtyStr, "reduce_only", reduceOnly)

	order, err := poll.Await(ctx, poll.Options{Interval: 500 * time.Millisecond, Timeout: v.fillTimeout},
		func(ctx context.Context) (*futures.Order, bool, error) {
			o, err := v.futures.NewGetOrderService().Symbol(v.symbol).OrderID(res.OrderID).Do(ctx)
			if err != nil {
				return nil, false, fmt.Errorf("get order %d: %w", res.OrderID, err)
			}
			switch o.Status {
			case futures.OrderStatusTypeFilled, futures.OrderStatusTypeCanceled,
				futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
				return o, true, nil
			}
			return o, false, nil
		},
		func(ctx context.Context) error {
			_, err := v.futures.NewCancelOrderService().Symbol(v.symbol).OrderID(res.OrderID).Do(ctx)
			return err
		})
	if err != nil {
		return nil, fmt.Errorf("await order %d: %w", res.OrderID, err)
	}
	if order.Status != futures.OrderStatusTypeFilled {
		return nil, fmt.Errorf("order %d ended %s", res.OrderID, order.Status)
	}
	return order, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func roundDown(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Floor(v*p) / p
}

// Shutdown drops pooled connections to the exchange.
func (v *BinanceVenue) Shutdown() error {
	if v.futures.HTTPClient != nil {
		v.futures.HTTPClient.CloseIdleConnections()
	}
	if v.spot.HTTPClient != nil {
		v.spot.HTTPClient.CloseIdleConnections()
	}
	v.logger.Info("binance venue shut down")
	return nil
}
