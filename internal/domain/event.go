package domain

import "time"

// EventType тип доменного события, публикуемого в шину
type EventType string

const (
	EventEntitlementGranted EventType = "entitlement.granted"
	EventEntitlementRevoked EventType = "entitlement.revoked"
	EventApprovalDecided    EventType = "approval.decided"
	EventResourcePurchased  EventType = "resource.purchased"
	EventInboundRouted      EventType = "inbound.routed"
)

// Event конверт, публикуемый для каждого изменения состояния, интересного вне
// процесса.
type Event struct {
	Type       EventType         `json:"type"`
	UserID     int64             `json:"user_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
