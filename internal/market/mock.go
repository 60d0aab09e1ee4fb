package market

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	exchange "trigger-engine/pkg/exchanges/common"

	"github.com/rs/zerolog/log"
)

// MockConfig tunes the in-process exchange.
type MockConfig struct {
	StartPrice     float64
	Step           float64
	Interval       time.Duration
	InitialBalance float64
	QuoteAsset     string
	FeeRate        float64 // decimal, e.g. 0.0004 = 4 bps
	SlippageBps    float64
	LatencyMin     time.Duration
	LatencyMax     time.Duration
	Seed           int64
}

// MockPosition is the net holding of one symbol.
type MockPosition struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entryPrice"`
}

// MockFill records one simulated execution.
type MockFill struct {
	OrderID  string    `json:"orderId"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Fee      float64   `json:"fee"`
	FilledAt time.Time `json:"filledAt"`
}

// MockExchange is a random-walk venue for dry runs and local development.
// MARKET orders fill at the current price plus slippage. LIMIT orders fill
// when marketable and otherwise rest as NEW.
type MockExchange struct {
	cfg MockConfig

	mu        sync.Mutex
	rng       *rand.Rand
	prices    map[string]float64
	balance   float64
	positions map[string]*MockPosition
	fills     []MockFill
	seq       int64
	down      bool
}

// NewMockExchange fills zero config fields with defaults.
func NewMockExchange(cfg MockConfig) *MockExchange {
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.Step <= 0 {
		cfg.Step = 0.5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.LatencyMax > 0 && cfg.LatencyMin > cfg.LatencyMax {
		cfg.LatencyMin, cfg.LatencyMax = cfg.LatencyMax, cfg.LatencyMin
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &MockExchange{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
		prices:    make(map[string]float64),
		balance:   cfg.InitialBalance,
		positions: make(map[string]*MockPosition),
	}
}

// SetDown makes Ping and new streams fail until cleared.
func (m *MockExchange) SetDown(down bool) {
	m.mu.Lock()
	m.down = down
	m.mu.Unlock()
}

// SetPrice pins the current price of symbol.
func (m *MockExchange) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	m.prices[symbol] = price
	m.mu.Unlock()
}

func (m *MockExchange) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return fmt.Errorf("mock exchange unreachable")
	}
	return ctx.Err()
}

func (m *MockExchange) GetPrice(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.priceLocked(symbol), nil
}

func (m *MockExchange) GetAccountInfo(ctx context.Context) (exchange.AccountInfo, error) {
	if err := m.Ping(ctx); err != nil {
		return exchange.AccountInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return exchange.AccountInfo{
		CanTrade: true,
		Balances: []exchange.Balance{{Asset: m.cfg.QuoteAsset, Free: m.balance}},
	}, nil
}

func (m *MockExchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if req.Qty <= 0 {
		return exchange.OrderResult{}, &exchange.APIError{Code: -1013, Message: "Invalid quantity."}
	}
	if req.Type == exchange.OrderTypeLimit && req.Price <= 0 {
		return exchange.OrderResult{}, &exchange.APIError{Code: -1013, Message: "Invalid price."}
	}
	if err := m.sleepLatency(ctx); err != nil {
		return exchange.OrderResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := strconv.FormatInt(m.seq, 10)
	market := m.priceLocked(req.Symbol)
	res := exchange.OrderResult{ExchangeOrderID: id, ClientID: req.ClientID, Price: req.Price}

	fillPrice := market
	if req.Type == exchange.OrderTypeLimit {
		marketable := (req.Side == exchange.SideBuy && market <= req.Price) ||
			(req.Side == exchange.SideSell && market >= req.Price)
		if !marketable {
			res.Status = "NEW"
			return res, nil
		}
		fillPrice = req.Price
	} else if frac := m.cfg.SlippageBps / 10000.0; frac > 0 {
		noise := m.rng.Float64() * frac
		if req.Side == exchange.SideBuy {
			fillPrice *= 1 + noise
		} else {
			fillPrice *= 1 - noise
		}
	}

	value := req.Qty * fillPrice
	fee := value * m.cfg.FeeRate
	if req.Side == exchange.SideBuy {
		if m.cfg.InitialBalance > 0 && value+fee > m.balance {
			return exchange.OrderResult{}, &exchange.APIError{
				Code:    -2010,
				Message: fmt.Sprintf("Account has insufficient balance for requested action. need %.2f have %.2f", value+fee, m.balance),
			}
		}
		m.balance -= value + fee
	} else {
		m.balance += value - fee
	}

	m.updatePosition(req.Symbol, string(req.Side), req.Qty, fillPrice)
	m.fills = append(m.fills, MockFill{
		OrderID:  id,
		Symbol:   req.Symbol,
		Side:     string(req.Side),
		Quantity: req.Qty,
		Price:    fillPrice,
		Fee:      fee,
		FilledAt: time.Now(),
	})

	res.Status = "FILLED"
	res.Price = fillPrice
	res.ExecutedQty = req.Qty
	res.QuoteQty = value
	log.Printf("mock exchange: %s %s qty=%.4f price=%.4f balance=%.2f", req.Side, req.Symbol, req.Qty, fillPrice, m.balance)
	return res, nil
}

// SubscribePriceStream emits a random walk for symbol every Interval.
func (m *MockExchange) SubscribePriceStream(ctx context.Context, symbol string) (*exchange.PriceStream, error) {
	m.mu.Lock()
	down := m.down
	m.mu.Unlock()
	if down {
		return nil, fmt.Errorf("mock exchange unreachable")
	}

	events := make(chan exchange.PriceEvent, 64)
	errCh := make(chan error, 1)
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		defer close(events)
		t := time.NewTicker(m.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case now := <-t.C:
				price := m.walk(symbol)
				select {
				case events <- exchange.PriceEvent{Symbol: symbol, Price: price, Time: now}:
				default:
				}
			}
		}
	}()

	return &exchange.PriceStream{Events: events, Errors: errCh, Stop: stop}, nil
}

// Balance returns the simulated quote balance.
func (m *MockExchange) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// Positions returns open positions sorted by symbol.
func (m *MockExchange) Positions() []MockPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockPosition, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Fills returns every simulated execution in order.
func (m *MockExchange) Fills() []MockFill {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockFill(nil), m.fills...)
}

// UnrealizedPnL marks every open position to the current price.
func (m *MockExchange) UnrealizedPnL() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0.0
	for sym, p := range m.positions {
		diff := m.priceLocked(sym) - p.EntryPrice
		if p.Side == string(exchange.SideSell) {
			diff = -diff
		}
		total += diff * p.Quantity
	}
	return total
}

func (m *MockExchange) walk(symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.priceLocked(symbol) + (m.rng.Float64()*2-1)*m.cfg.Step
	if p <= 0 {
		p = m.cfg.Step
	}
	m.prices[symbol] = p
	return p
}

func (m *MockExchange) priceLocked(symbol string) float64 {
	p, ok := m.prices[symbol]
	if !ok {
		p = m.cfg.StartPrice
		m.prices[symbol] = p
	}
	return p
}

func (m *MockExchange) updatePosition(symbol, side string, qty, price float64) {
	pos, ok := m.positions[symbol]
	if !ok {
		m.positions[symbol] = &MockPosition{Symbol: symbol, Side: side, Quantity: qty, EntryPrice: price}
		return
	}
	if side == pos.Side {
		total := pos.Quantity*pos.EntryPrice + qty*price
		pos.Quantity += qty
		pos.EntryPrice = total / pos.Quantity
		return
	}
	pos.Quantity -= qty
	switch {
	case pos.Quantity == 0:
		delete(m.positions, symbol)
	case pos.Quantity < 0:
		pos.Side = side
		pos.Quantity = -pos.Quantity
		pos.EntryPrice = price
	}
}

func (m *MockExchange) sleepLatency(ctx context.Context) error {
	if m.cfg.LatencyMax <= 0 {
		return nil
	}
	m.mu.Lock()
	delay := m.cfg.LatencyMin
	if span := m.cfg.LatencyMax - m.cfg.LatencyMin; span > 0 {
		delay += time.Duration(m.rng.Int63n(int64(span) + 1))
	}
	m.mu.Unlock()

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
