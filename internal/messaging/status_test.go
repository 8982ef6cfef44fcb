package messaging

import "testing"

func TestMapProviderStatusTelnyx(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"sending_failed", StatusFailed},
		{"delivery_failed", StatusUndelivered},
		{"delivery_unconfirmed", StatusUnconfirmed},
		{"delivered", StatusDelivered},
		{"queued", StatusQueued},
		{"some_new_status", StatusUnknown},
	}
	for _, tt := range tests {
		if got := MapProviderStatus(ProviderTelnyx, tt.in); got != tt.want {
			t.Errorf("MapProviderStatus(telnyx, %q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMapProviderStatusTwilio(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"accepted", StatusQueued},
		{"undelivered", StatusUndelivered},
		{"failed", StatusFailed},
		{"Sent", StatusSent},
		{"gibberish", StatusUnknown},
	}
	for _, tt := range tests {
		if got := MapProviderStatus(ProviderTwilio, tt.in); got != tt.want {
			t.Errorf("MapProviderStatus(twilio, %q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// Applying the map twice must be a no-op: internal vocabulary passes through.
func TestMapProviderStatusIdempotent(t *testing.T) {
	providerStatuses := []string{"sending_failed", "delivery_failed", "delivery_unconfirmed", "queued", "sent", "delivered"}
	for _, s := range providerStatuses {
		once := MapProviderStatus(ProviderTelnyx, s)
		twice := MapProviderStatus(ProviderTelnyx, string(once))
		if once != twice {
			t.Errorf("mapping %q twice: first %v, second %v", s, once, twice)
		}
	}
}

func TestMapProviderStatusUnknownProvider(t *testing.T) {
	if got := MapProviderStatus("smoke-signal", "sent_via_smoke"); got != StatusUnknown {
		t.Errorf("expected unknown for unrecognized provider, got %v", got)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	for _, s := range []Status{StatusDelivered, StatusFailed, StatusUndelivered, StatusUnconfirmed} {
		if !s.IsTerminal() {
			t.Errorf("%v should be terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusSending, StatusSent, StatusUnknown} {
		if s.IsTerminal() {
			t.Errorf("%v should not be terminal", s)
		}
	}
}
