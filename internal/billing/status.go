package billing

import "strings"

// SubscriptionStatus is the internal subscription state stored on an
// organization.
type SubscriptionStatus string

const (
	StatusTrialing  SubscriptionStatus = "trialing"
	StatusActive    SubscriptionStatus = "active"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusSuspended SubscriptionStatus = "suspended"
	StatusCanceled  SubscriptionStatus = "canceled"
)

// processorStatusMap translates Stripe's subscription status vocabulary into
// the internal enum. incomplete means the first payment has not settled yet,
// which the dashboard treats the same as past_due.
var processorStatusMap = map[string]SubscriptionStatus{
	"trialing":           StatusTrialing,
	"active":             StatusActive,
	"past_due":           StatusPastDue,
	"incomplete":         StatusPastDue,
	"unpaid":             StatusSuspended,
	"paused":             StatusSuspended,
	"canceled":           StatusCanceled,
	"incomplete_expired": StatusCanceled,
}

// MapSubscriptionStatus maps a processor subscription status to the internal
// enum. Values already in the internal vocabulary pass through unchanged so
// double mapping is a no-op. Unrecognized values map to past_due, the safest
// state that keeps the account usable while flagging it for review.
func MapSubscriptionStatus(processorStatus string) SubscriptionStatus {
	normalized := strings.ToLower(strings.TrimSpace(processorStatus))
	if mapped, ok := processorStatusMap[normalized]; ok {
		return mapped
	}
	switch SubscriptionStatus(normalized) {
	case StatusTrialing, StatusActive, StatusPastDue, StatusSuspended, StatusCanceled:
		return SubscriptionStatus(normalized)
	}
	return StatusPastDue
}
