package spot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"trigger-engine/pkg/exchanges/common"
	market "trigger-engine/pkg/market/binance"

	"github.com/adshao/go-binance/v2"
	bcommon "github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Config holds Binance credentials.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	// BaseURL overrides the REST endpoint.
	BaseURL string
}

// Client is a Binance spot client implementing common.Exchange.
type Client struct {
	cfg    Config
	api    *binance.Client
	stream *market.StreamClient
}

func New(cfg Config) *Client {
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	api := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		api.BaseURL = cfg.BaseURL
	}
	return &Client{
		cfg:    cfg,
		api:    api,
		stream: market.NewStreamClient(cfg.Testnet),
	}
}

// Stream exposes the websocket client so callers can tune it.
func (c *Client) Stream() *market.StreamClient { return c.stream }

func (c *Client) Ping(ctx context.Context) error {
	if err := c.api.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("binance ping: %w", mapError(err))
	}
	return nil
}

// SyncTime aligns request timestamps with the server clock.
func (c *Client) SyncTime(ctx context.Context) error {
	offset, err := c.api.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return fmt.Errorf("binance server time: %w", mapError(err))
	}
	log.Info().Int64("offset_ms", offset).Msg("binance: server time synced")
	return nil
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(symbol)
	prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance price %s: %w", symbol, mapError(err))
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return strconv.ParseFloat(p.Price, 64)
		}
	}
	return 0, fmt.Errorf("binance price %s: symbol not returned", symbol)
}

func (c *Client) GetAccountInfo(ctx context.Context) (common.AccountInfo, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.AccountInfo{}, errors.New("binance: API key/secret required")
	}
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return common.AccountInfo{}, fmt.Errorf("binance account: %w", mapError(err))
	}
	info := common.AccountInfo{CanTrade: acct.CanTrade}
	for _, b := range acct.Balances {
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		info.Balances = append(info.Balances, common.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return info, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderResult{}, errors.New("binance: API key/secret required")
	}

	ordType := req.Type
	if ordType == "" {
		ordType = common.OrderTypeMarket
	}
	svc := c.api.NewCreateOrderService().
		Symbol(strings.ToUpper(req.Symbol)).
		Side(binance.SideType(strings.ToUpper(string(req.Side)))).
		Type(binance.OrderType(ordType)).
		Quantity(formatDecimal(req.Qty))

	if ordType == common.OrderTypeLimit {
		svc = svc.Price(formatDecimal(req.Price)).
			TimeInForce(toBinanceTIF(req.TimeInForce))
	}
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return common.OrderResult{}, mapError(err)
	}

	return common.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientID:        resp.ClientOrderID,
		Status:          string(resp.Status),
		Price:           parseFloat(resp.Price),
		ExecutedQty:     parseFloat(resp.ExecutedQuantity),
		QuoteQty:        parseFloat(resp.CummulativeQuoteQuantity),
	}, nil
}

func (c *Client) SubscribePriceStream(ctx context.Context, symbol string) (*common.PriceStream, error) {
	return c.stream.SubscribeTrades(ctx, symbol)
}

// mapError converts go-binance rejections into the venue-neutral APIError.
func mapError(err error) error {
	var apiErr *bcommon.APIError
	if errors.As(err, &apiErr) {
		return &common.APIError{Code: apiErr.Code, Message: apiErr.Message}
	}
	return err
}

func toBinanceTIF(tif common.TimeInForce) binance.TimeInForceType {
	if tif == "" {
		return binance.TimeInForceTypeGTC
	}
	return binance.TimeInForceType(tif)
}

func formatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

var _ common.Exchange = (*Client)(nil)
