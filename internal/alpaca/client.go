package alpaca

import (
	"context"
	"fmt"
	"time"

	sdk "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"alpaca-smart-trade/config"
	"alpaca-smart-trade/internal/market"
	"alpaca-smart-trade/internal/risk"
)

// PositionInfo is a held position as reported by the broker.
type PositionInfo struct {
	Symbol         string  `json:"symbol"`
	Quantity       int     `json:"quantity"`
	AvgEntryPrice  float64 `json:"avg_entry_price"`
	CurrentPrice   float64 `json:"current_price"`
	MarketValue    float64 `json:"market_value"`
	UnrealizedPL   float64 `json:"unrealized_pl"`
	UnrealizedPLPC float64 `json:"unrealized_plpc"`
}

// OrderInfo is the broker's view of an order.
type OrderInfo struct {
	ID             string     `json:"id"`
	Symbol         string     `json:"symbol"`
	Side           string     `json:"side"`
	Type           string     `json:"type"`
	Quantity       float64    `json:"quantity"`
	FilledQuantity float64    `json:"filled_quantity"`
	FilledAvgPrice float64    `json:"filled_avg_price"`
	LimitPrice     float64    `json:"limit_price,omitempty"`
	Status         string     `json:"status"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at,omitempty"`
}

// OrderRequest describes an order to place.
type OrderRequest struct {
	Symbol     string
	Quantity   int
	Side       risk.Action
	OrderType  string // market or limit
	LimitPrice float64
}

// Quote is the latest bid/ask for a symbol.
type Quote struct {
	Symbol   string  `json:"symbol"`
	BidPrice float64 `json:"bid_price"`
	AskPrice float64 `json:"ask_price"`
	BidSize  uint32  `json:"bid_size"`
	AskSize  uint32  `json:"ask_size"`
}

// Client wraps the Alpaca trading and market data APIs. Decimal values
// are converted to float64 here; nothing past this boundary sees the
// SDK types.
type Client struct {
	trading *sdk.Client
	data    *marketdata.Client
	paper   bool
	log     zerolog.Logger
}

// NewClient builds the broker client from config.
func NewClient(cfg config.AlpacaConfig, log zerolog.Logger) *Client {
	trading := sdk.NewClient(sdk.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.SecretKey,
		BaseURL:   cfg.BaseURL,
	})
	data := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.SecretKey,
	})

	return &Client{
		trading: trading,
		data:    data,
		paper:   cfg.IsPaper(),
		log:     log.With().Str("component", "alpaca").Logger(),
	}
}

// IsPaper reports whether the client talks to the paper-trading API.
func (c *Client) IsPaper() bool {
	return c.paper
}

// AccountSnapshot captures the account and all open positions as one
// read-only view for the risk checks.
func (c *Client) AccountSnapshot(ctx context.Context) (risk.AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return risk.AccountSnapshot{}, err
	}

	account, err := c.trading.GetAccount()
	if err != nil {
		return risk.AccountSnapshot{}, fmt.Errorf("fetching account: %w", err)
	}

	positions, err := c.Positions()
	if err != nil {
		return risk.AccountSnapshot{}, err
	}

	snapshot := risk.AccountSnapshot{
		Equity:           toFloat(account.Equity),
		Cash:             toFloat(account.Cash),
		BuyingPower:      toFloat(account.BuyingPower),
		DayTradeCount:    int(account.DaytradeCount),
		PatternDayTrader: account.PatternDayTrader,
		TradingBlocked:   account.TradingBlocked || account.AccountBlocked,
		Positions:        make(map[string]risk.Position, len(positions)),
	}
	for _, pos := range positions {
		snapshot.Positions[pos.Symbol] = risk.Position{
			Quantity:       pos.Quantity,
			MarketValue:    pos.MarketValue,
			UnrealizedPL:   pos.UnrealizedPL,
			UnrealizedPLPC: pos.UnrealizedPLPC,
		}
	}

	c.log.Debug().
		Float64("equity", snapshot.Equity).
		Int("positions", len(snapshot.Positions)).
		Msg("account snapshot captured")

	return snapshot, nil
}

// Positions lists all open positions.
func (c *Client) Positions() ([]PositionInfo, error) {
	positions, err := c.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	out := make([]PositionInfo, 0, len(positions))
	for _, pos := range positions {
		out = append(out, PositionInfo{
			Symbol:         pos.Symbol,
			Quantity:       int(pos.Qty.IntPart()),
			AvgEntryPrice:  toFloat(pos.AvgEntryPrice),
			CurrentPrice:   toFloatPtr(pos.CurrentPrice),
			MarketValue:    toFloatPtr(pos.MarketValue),
			UnrealizedPL:   toFloatPtr(pos.UnrealizedPL),
			UnrealizedPLPC: toFloatPtr(pos.UnrealizedPLPC),
		})
	}
	return out, nil
}

// Bars fetches the last `days` daily bars for a symbol. It satisfies the
// engine's data source interface.
func (c *Client) Bars(ctx context.Context, symbol string, days int) (market.Series, error) {
	if err := ctx.Err(); err != nil {
		return market.Series{}, err
	}

	end := time.Now().UTC()
	// Reach back far enough in calendar days to cover weekends and
	// holidays, then keep only the requested number of trading days.
	start := end.AddDate(0, 0, -(days*7/5 + 10))

	bars, err := c.data.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return market.Series{}, fmt.Errorf("fetching bars for %s: %w", symbol, err)
	}

	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}

	series := market.Series{Symbol: symbol, Bars: make([]market.Bar, len(bars))}
	for i, bar := range bars {
		series.Bars[i] = market.Bar{
			Timestamp: bar.Timestamp,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    float64(bar.Volume),
		}
	}

	c.log.Debug().Str("symbol", symbol).Int("bars", len(series.Bars)).Msg("bars fetched")
	return series, nil
}

// LatestQuote fetches the most recent bid/ask for a symbol.
func (c *Client) LatestQuote(symbol string) (Quote, error) {
	quote, err := c.data.GetLatestQuote(symbol, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return Quote{}, fmt.Errorf("fetching quote for %s: %w", symbol, err)
	}

	return Quote{
		Symbol:   symbol,
		BidPrice: quote.BidPrice,
		AskPrice: quote.AskPrice,
		BidSize:  quote.BidSize,
		AskSize:  quote.AskSize,
	}, nil
}

// PlaceOrder submits a day order for the given request.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderInfo, error) {
	if err := ctx.Err(); err != nil {
		return OrderInfo{}, err
	}

	side := sdk.Buy
	if req.Side == risk.Sell {
		side = sdk.Sell
	}

	qty := decimal.NewFromInt(int64(req.Quantity))
	orderReq := sdk.PlaceOrderRequest{
		Symbol:      req.Symbol,
		Qty:         &qty,
		Side:        side,
		Type:        sdk.Market,
		TimeInForce: sdk.Day,
	}
	if req.OrderType == "limit" {
		limit := decimal.NewFromFloat(req.LimitPrice)
		orderReq.Type = sdk.Limit
		orderReq.LimitPrice = &limit
	}

	order, err := c.trading.PlaceOrder(orderReq)
	if err != nil {
		return OrderInfo{}, fmt.Errorf("placing %s order for %s: %w", side, req.Symbol, err)
	}

	c.log.Info().
		Str("order_id", order.ID).
		Str("symbol", req.Symbol).
		Str("side", string(side)).
		Int("qty", req.Quantity).
		Str("status", string(order.Status)).
		Msg("order placed")

	return toOrderInfo(order), nil
}

// Orders lists orders filtered by status (open, closed or all).
func (c *Client) Orders(status string) ([]OrderInfo, error) {
	if status == "" {
		status = "open"
	}

	orders, err := c.trading.GetOrders(sdk.GetOrdersRequest{Status: status, Limit: 100})
	if err != nil {
		return nil, fmt.Errorf("fetching %s orders: %w", status, err)
	}

	out := make([]OrderInfo, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderInfo(&orders[i]))
	}
	return out, nil
}

// CancelOrder cancels an order by ID.
func (c *Client) CancelOrder(orderID string) error {
	if err := c.trading.CancelOrder(orderID); err != nil {
		return fmt.Errorf("cancelling order %s: %w", orderID, err)
	}
	c.log.Info().Str("order_id", orderID).Msg("order cancelled")
	return nil
}

// ClosePosition liquidates a position, entirely when qty is 0.
func (c *Client) ClosePosition(symbol string, qty int) (OrderInfo, error) {
	req := sdk.ClosePositionRequest{}
	if qty > 0 {
		req.Qty = decimal.NewFromInt(int64(qty))
	}

	order, err := c.trading.ClosePosition(symbol, req)
	if err != nil {
		return OrderInfo{}, fmt.Errorf("closing %s position: %w", symbol, err)
	}

	c.log.Info().Str("symbol", symbol).Int("qty", qty).Msg("position close submitted")
	return toOrderInfo(order), nil
}

func toOrderInfo(order *sdk.Order) OrderInfo {
	return OrderInfo{
		ID:             order.ID,
		Symbol:         order.Symbol,
		Side:           string(order.Side),
		Type:           string(order.Type),
		Quantity:       toFloatPtr(order.Qty),
		FilledQuantity: toFloat(order.FilledQty),
		FilledAvgPrice: toFloatPtr(order.FilledAvgPrice),
		LimitPrice:     toFloatPtr(order.LimitPrice),
		Status:         string(order.Status),
		SubmittedAt:    order.SubmittedAt,
		FilledAt:       order.FilledAt,
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func toFloatPtr(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}
