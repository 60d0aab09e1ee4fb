package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"trigger-engine/pkg/exchanges/common"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// StreamClient manages lightweight streaming from Binance public websockets.
type StreamClient struct {
	StreamURL string
	// IdleTimeout closes a stream that has seen neither data nor pings for
	// this long. Zero disables the check.
	IdleTimeout time.Duration
	dialer      *websocket.Dialer
}

// NewStreamClient builds a websocket client; testnet toggles the host.
func NewStreamClient(testnet bool) *StreamClient {
	host := "stream.binance.com:9443"
	if testnet {
		host = "testnet.binance.vision"
	}
	return &StreamClient{
		StreamURL:   (&url.URL{Scheme: "wss", Host: host, Path: "/ws"}).String(),
		IdleTimeout: 2 * time.Minute,
		dialer:      websocket.DefaultDialer,
	}
}

// SubscribeTrades opens the symbol's trade stream and emits each trade
// price. Events closes when the stream ends; a failure that was not caused
// by Stop or ctx is readable from Errors.
func (c *StreamClient) SubscribeTrades(ctx context.Context, symbol string) (*common.PriceStream, error) {
	// Binance requires lowercase symbols for WebSocket streams
	stream := fmt.Sprintf("%s@trade", strings.ToLower(symbol))
	u := fmt.Sprintf("%s/%s", c.StreamURL, stream)

	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial binance ws trades: %w", err)
	}

	out := make(chan common.PriceEvent, 100)
	errCh := make(chan error, 1)
	done := make(chan struct{})

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			// Ignore errors; connection may already be closed.
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		})
	}

	c.armDeadline(conn)
	conn.SetPingHandler(func(data string) error {
		c.armDeadline(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	// Only the reader closes out, so no send can race the close.
	go func() {
		defer close(out)
		defer stop()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				select {
				case <-done:
					return
				default:
				}
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Str("symbol", symbol).Msg("binance ws trade read error")
				errCh <- fmt.Errorf("binance ws %s: %w", symbol, err)
				return
			}
			c.armDeadline(conn)

			ev, err := parseTradeMessage(msg)
			if err != nil {
				log.Debug().Err(err).Str("symbol", symbol).Msg("binance ws trade parse error")
				continue
			}
			select {
			case out <- ev:
			case <-done:
				return
			}
		}
	}()

	return &common.PriceStream{Events: out, Errors: errCh, Stop: stop}, nil
}

func (c *StreamClient) armDeadline(conn *websocket.Conn) {
	if c.IdleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.IdleTimeout))
	}
}

// parseTradeMessage decodes only the fields we need.
func parseTradeMessage(msg []byte) (common.PriceEvent, error) {
	var raw struct {
		Event     string      `json:"e"`
		Symbol    string      `json:"s"`
		Price     interface{} `json:"p"`
		TradeTime interface{} `json:"T"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return common.PriceEvent{}, err
	}
	if raw.Event != "" && raw.Event != "trade" {
		return common.PriceEvent{}, fmt.Errorf("unexpected event %q", raw.Event)
	}
	price := toFloat(raw.Price)
	if price <= 0 {
		return common.PriceEvent{}, fmt.Errorf("invalid trade price %v", raw.Price)
	}
	ts := time.Now()
	if ms := toInt64(raw.TradeTime); ms > 0 {
		ts = time.UnixMilli(ms)
	}
	return common.PriceEvent{
		Symbol: strings.ToUpper(raw.Symbol),
		Price:  price,
		Time:   ts,
	}, nil
}
