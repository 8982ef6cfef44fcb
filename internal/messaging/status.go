package messaging

import "strings"

// Status is the internal delivery-status vocabulary for a message.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusSending     Status = "sending"
	StatusSent        Status = "sent"
	StatusDelivered   Status = "delivered"
	StatusFailed      Status = "failed"
	StatusUndelivered Status = "undelivered"
	StatusUnconfirmed Status = "unconfirmed"
	StatusUnknown     Status = "unknown"
)

// The mapping tables accept provider vocabulary only. Values already in the
// internal vocabulary pass through unchanged, so applying a map twice is a
// no-op; unrecognized provider statuses map to StatusUnknown.
var telnyxStatusMap = map[string]Status{
	"queued":               StatusQueued,
	"sending":              StatusSending,
	"sent":                 StatusSent,
	"delivered":            StatusDelivered,
	"sending_failed":       StatusFailed,
	"delivery_failed":      StatusUndelivered,
	"delivery_unconfirmed": StatusUnconfirmed,
	"expired":              StatusUndelivered,
}

var twilioStatusMap = map[string]Status{
	"accepted":    StatusQueued,
	"queued":      StatusQueued,
	"sending":     StatusSending,
	"sent":        StatusSent,
	"delivered":   StatusDelivered,
	"undelivered": StatusUndelivered,
	"failed":      StatusFailed,
}

// MapProviderStatus translates a carrier status string to the internal enum.
// Unrecognized values map to StatusUnknown.
func MapProviderStatus(provider, status string) Status {
	status = strings.ToLower(strings.TrimSpace(status))
	if isInternalStatus(Status(status)) {
		return Status(status)
	}
	var table map[string]Status
	switch provider {
	case ProviderTelnyx:
		table = telnyxStatusMap
	case ProviderTwilio:
		table = twilioStatusMap
	default:
		return StatusUnknown
	}
	if mapped, ok := table[status]; ok {
		return mapped
	}
	return StatusUnknown
}

func isInternalStatus(s Status) bool {
	switch s {
	case StatusQueued, StatusSending, StatusSent, StatusDelivered,
		StatusFailed, StatusUndelivered, StatusUnconfirmed, StatusUnknown:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status will not progress further.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusUndelivered, StatusUnconfirmed:
		return true
	default:
		return false
	}
}
