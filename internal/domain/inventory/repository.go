package inventory

import (
	"context"
	"time"
)

// ListingRepository persists listings. The *WithAlert methods mutate
// the listing and append the audit row inside one transaction.
type ListingRepository interface {
	FindByID(ctx context.Context, id string) (*Listing, error)

	// ListResumable returns system-paused listings whose resume
	// deadline has passed.
	ListResumable(ctx context.Context, now time.Time, limit int) ([]*Listing, error)

	SetAutoStatus(ctx context.Context, id string, enabled bool) error

	SaveWithAlert(ctx context.Context, listing *Listing, alert *Alert) error
}

// AlertRepository persists inventory alerts outside of listing
// transactions (suppressed rows, observations without a listing).
type AlertRepository interface {
	Create(ctx context.Context, alert *Alert) error

	// LastUnsuppressed returns the creation time of the most recent
	// unsuppressed alert of the given type for a product, nil if none.
	LastUnsuppressed(ctx context.Context, productID string, alertType AlertType) (*time.Time, error)
}

// ProductStats feeds the health monitor.
type ProductStats interface {
	// StockCounts returns (total products, out-of-stock products).
	StockCounts(ctx context.Context) (total int64, outOfStock int64, err error)

	// ErrorListingCount returns listings currently in ERROR status.
	ErrorListingCount(ctx context.Context) (int64, error)
}
