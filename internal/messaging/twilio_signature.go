package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ValidateTwilioSignature validates that a request came from Twilio. The
// signature is HMAC-SHA1 over the full webhook URL concatenated with the
// sorted POST parameters, base64-encoded in the X-Twilio-Signature header.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	return ValidTwilioSignature(authToken, webhookURL, r.PostForm, signature)
}

// ValidTwilioSignature checks an already-parsed form against the signature
// header value. Handlers that consume the raw body use this variant.
func ValidTwilioSignature(authToken, webhookURL string, params url.Values, signature string) bool {
	if signature == "" {
		return false
	}
	expected := computeTwilioSignature(authToken, webhookURL, params)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func computeTwilioSignature(authToken, webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(webhookURL)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
