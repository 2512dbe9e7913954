package alerting

// Event type tags produced around the system. The data bag stays open
// for extensibility; these constants cover the kinds the engine ships
// templates for.
const (
	EventStockOut         = "INVENTORY_OUT_OF_STOCK"
	EventPriceDrop        = "PRICE_DROP_DETECTED"
	EventListingFailed    = "LISTING_FAILED"
	EventCompetitorPrice  = "COMPETITOR_PRICE_CHANGE"
	EventOrderReceived    = "ORDER_RECEIVED"
	EventSyncError        = "SYNC_ERROR"
	EventJobFailed        = "JOB_FAILED"
	EventListingPaused    = "LISTING_AUTO_PAUSED"
	EventListingResumed   = "LISTING_AUTO_RESUMED"
	EventSystemUnhealthy  = "SYSTEM_UNHEALTHY"
)

// Event is an ephemeral domain occurrence handed to the rule engine.
// It is never persisted as-is; matching rules snapshot its data into
// alert log rows.
type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	ProductID string         `json:"productId,omitempty"`
	ListingID string         `json:"listingId,omitempty"`
}
