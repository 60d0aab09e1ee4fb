package common

import "context"

// Exchange is the venue the engine trades on.
type Exchange interface {
	Ping(ctx context.Context) error
	GetPrice(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetAccountInfo(ctx context.Context) (AccountInfo, error)
	StreamSource
}

// StreamSource opens live price streams.
type StreamSource interface {
	SubscribePriceStream(ctx context.Context, symbol string) (*PriceStream, error)
}
