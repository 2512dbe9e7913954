package jobs

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/inventory"
)

// PriceChange is one observed price movement on a marketplace.
type PriceChange struct {
	ProductID     string
	ListingID     string
	Marketplace   string
	PreviousPrice decimal.Decimal
	CurrentPrice  decimal.Decimal
}

// Dropped reports whether the price moved down.
func (p PriceChange) Dropped() bool {
	return p.CurrentPrice.LessThan(p.PreviousPrice)
}

// OrderSummary is one newly imported order.
type OrderSummary struct {
	OrderID     string
	ProductID   string
	Marketplace string
	Total       decimal.Decimal
}

// MarketplaceClient is the narrow surface the sync jobs consume. Real
// implementations live with each marketplace integration; this module
// ships only the contract and a stub for wiring and tests.
type MarketplaceClient interface {
	Name() string

	// FetchInventory returns the current stock/availability readings
	// with the previous reading attached when known.
	FetchInventory(ctx context.Context) ([]inventory.Observation, error)

	// SyncPrices pushes local prices out and returns observed changes.
	SyncPrices(ctx context.Context) ([]PriceChange, error)

	// SyncOrders imports new orders since the last sync.
	SyncOrders(ctx context.Context) ([]OrderSummary, error)
}

// RateSource fetches one exchange-rate sample for a currency pair.
type RateSource interface {
	Fetch(ctx context.Context, pair string) (value decimal.Decimal, source string, err error)
}

// StubMarketplace is the no-op client used until a real integration is
// configured. Every sync returns empty results.
type StubMarketplace struct {
	name string
}

func NewStubMarketplace(name string) *StubMarketplace {
	return &StubMarketplace{name: name}
}

func (s *StubMarketplace) Name() string { return s.name }

func (s *StubMarketplace) FetchInventory(ctx context.Context) ([]inventory.Observation, error) {
	return nil, nil
}

func (s *StubMarketplace) SyncPrices(ctx context.Context) ([]PriceChange, error) {
	return nil, nil
}

func (s *StubMarketplace) SyncOrders(ctx context.Context) ([]OrderSummary, error) {
	return nil, nil
}

// StaticRateSource serves a fixed rate. Stands in for the external
// rate API in development.
type StaticRateSource struct {
	Value decimal.Decimal
}

func (s StaticRateSource) Fetch(ctx context.Context, pair string) (decimal.Decimal, string, error) {
	return s.Value, "static", nil
}
