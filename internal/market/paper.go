package market

import (
	"context"

	exchange "trigger-engine/pkg/exchanges/common"

	"github.com/rs/zerolog/log"
)

// PaperExchange streams and quotes from a live venue but fills orders in
// the simulator at the venue's current price.
type PaperExchange struct {
	exchange.Exchange
	Sim *MockExchange
}

func NewPaperExchange(live exchange.Exchange, sim *MockExchange) *PaperExchange {
	return &PaperExchange{Exchange: live, Sim: sim}
}

func (p *PaperExchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	if px, err := p.Exchange.GetPrice(ctx, req.Symbol); err == nil {
		p.Sim.SetPrice(req.Symbol, px)
	} else {
		log.Warn().Err(err).Str("symbol", req.Symbol).Msg("paper: live price unavailable, filling at last simulated price")
	}
	return p.Sim.PlaceOrder(ctx, req)
}

// GetAccountInfo reports the simulated account.
func (p *PaperExchange) GetAccountInfo(ctx context.Context) (exchange.AccountInfo, error) {
	return p.Sim.GetAccountInfo(ctx)
}

var _ exchange.Exchange = (*PaperExchange)(nil)
