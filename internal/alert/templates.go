package alert

import (
	"encoding/json"
	"fmt"

	"github.com/shelfjetlabs/shelfjet-worker/internal/domain/alerting"
)

// BatchTemplateSuffix marks the summarized variant of an event-type
// template.
const BatchTemplateSuffix = "_BATCH"

// Title renders the notification title for an event.
func Title(event *alerting.Event) string {
	product := dataString(event.Data, "title", "product")
	switch event.Type {
	case alerting.EventStockOut:
		return "Out of stock: " + product
	case alerting.EventPriceDrop:
		return "Price change: " + product
	case alerting.EventListingFailed:
		return "Listing failed: " + product
	case alerting.EventCompetitorPrice:
		return "Competitor price change: " + product
	case alerting.EventOrderReceived:
		return "New order: " + dataString(event.Data, "orderId", "")
	case alerting.EventSyncError:
		return "Sync error: " + dataString(event.Data, "source", "unknown")
	case alerting.EventJobFailed:
		return "Job failed: " + dataString(event.Data, "jobType", "unknown")
	case alerting.EventListingPaused:
		return "Listing auto-paused: " + product
	case alerting.EventListingResumed:
		return "Listing auto-resumed: " + product
	case alerting.EventSystemUnhealthy:
		return "System health degraded"
	default:
		return "Alert: " + event.Type
	}
}

// Message renders the notification body for an event. Unknown event
// types fall back to the raw data bag.
func Message(event *alerting.Event) string {
	d := event.Data
	switch event.Type {
	case alerting.EventStockOut:
		return fmt.Sprintf("Product %q is out of stock. Marketplace: %s",
			dataString(d, "title", "unknown"), dataString(d, "marketplace", "unknown"))
	case alerting.EventPriceDrop:
		return fmt.Sprintf("Price of %q changed by %v%%.",
			dataString(d, "title", "unknown"), d["changePercent"])
	case alerting.EventListingFailed:
		return fmt.Sprintf("Listing of %q failed. Error: %s",
			dataString(d, "title", "unknown"), dataString(d, "error", "unknown"))
	case alerting.EventCompetitorPrice:
		return fmt.Sprintf("A competitor price changed. New price: %v", d["newPrice"])
	case alerting.EventOrderReceived:
		return "New order received. Order ID: " + dataString(d, "orderId", "")
	case alerting.EventSyncError:
		return fmt.Sprintf("Marketplace sync failed. Source: %s, error: %s",
			dataString(d, "source", "unknown"), dataString(d, "error", "unknown"))
	case alerting.EventJobFailed:
		return fmt.Sprintf("Job %s failed after %v attempts: %s",
			dataString(d, "jobType", "unknown"), d["attemptsMade"], dataString(d, "error", "unknown"))
	case alerting.EventListingPaused:
		return fmt.Sprintf("Listing %s was paused automatically. Reason: %s",
			dataString(d, "listingId", "unknown"), dataString(d, "reason", "inventory change"))
	case alerting.EventListingResumed:
		return fmt.Sprintf("Listing %s was resumed automatically.",
			dataString(d, "listingId", "unknown"))
	case alerting.EventSystemUnhealthy:
		return dataString(d, "summary", "One or more health checks reported an error.")
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return event.Type
		}
		return string(b)
	}
}

// DeepLink derives the in-app link for an event: entity page when an
// id is present, event-type landing page otherwise.
func DeepLink(baseURL string, event *alerting.Event) string {
	if event.ProductID != "" {
		return baseURL + "/products/" + event.ProductID
	}
	if event.ListingID != "" {
		return baseURL + "/listings/" + event.ListingID
	}
	switch event.Type {
	case alerting.EventStockOut:
		return baseURL + "/inventory?status=out_of_stock"
	case alerting.EventListingFailed:
		return baseURL + "/listings?status=error"
	case alerting.EventOrderReceived:
		return baseURL + "/orders"
	case alerting.EventSyncError, alerting.EventJobFailed:
		return baseURL + "/jobs?status=failed"
	default:
		return baseURL
	}
}

func dataString(data map[string]any, key, fallback string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
