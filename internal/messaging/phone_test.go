package messaging

import "testing"

func TestFormatPhoneNumber(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare 10 digit assumed US", "5551234567", "+15551234567"},
		{"11 digit with country code", "15551234567", "+15551234567"},
		{"already e164", "+15551234567", "+15551234567"},
		{"intl unchanged", "+447911123456", "+447911123456"},
		{"formatted US", "(555) 123-4567", "+15551234567"},
		{"dots and spaces", "555.123.4567", "+15551234567"},
		{"short code", "12345", "+12345"},
		{"empty", "", ""},
		{"no digits", "abc", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatPhoneNumber(tt.in); got != tt.want {
				t.Errorf("FormatPhoneNumber(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
