package models

import "encoding/json"

// WebhookEvent is one durably logged Shopify webhook delivery.
type WebhookEvent struct {
	Timestamp       string          `json:"timestamp" bson:"timestamp"`
	ReceivedAt      string          `json:"received_at" bson:"received_at"`
	EventID         string          `json:"event_id" bson:"event_id"`
	Topic           string          `json:"topic" bson:"topic"`
	ShopDomain      string          `json:"shop_domain" bson:"shop_domain"`
	Payload         json.RawMessage `json:"payload" bson:"payload"`
	Status          EventStatus     `json:"status" bson:"status"`
	StatusUpdatedAt string          `json:"status_updated_at,omitempty" bson:"status_updated_at,omitempty"`
}

// EventStatus represents the possible states of a logged webhook event.
type EventStatus string

const (
	EventStatusUnread     EventStatus = "unread"
	EventStatusRead       EventStatus = "read"
	EventStatusProcessing EventStatus = "processing"
	EventStatusProcessed  EventStatus = "processed"
	EventStatusError      EventStatus = "error"
)

// EventStatuses is the full webhook event status enum, used for validation.
var EventStatuses = []EventStatus{
	EventStatusUnread,
	EventStatusRead,
	EventStatusProcessing,
	EventStatusProcessed,
	EventStatusError,
}

func ValidEventStatus(s EventStatus) bool {
	for _, v := range EventStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// AllowedTopics is the webhook topic allow-list. Deliveries outside it are
// still logged, but the receiver warns about them.
var AllowedTopics = map[string]bool{
	"orders/create":            true,
	"orders/updated":           true,
	"orders/paid":              true,
	"orders/fulfilled":         true,
	"orders/cancelled":         true,
	"products/create":          true,
	"products/update":          true,
	"products/delete":          true,
	"inventory_levels/update":  true,
	"inventory_levels/connect": true,
}

// ProductPayload is the subset of a product webhook body the pipeline needs
// before enrichment.
type ProductPayload struct {
	ID int64 `json:"id"`
}

// InventoryPayload is the subset of an inventory_levels webhook body.
type InventoryPayload struct {
	InventoryItemID int64 `json:"inventory_item_id"`
	Available       int   `json:"available"`
}
