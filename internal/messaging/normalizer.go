package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderTelnyx = "telnyx"
	ProviderTwilio = "twilio"

	EventMessageReceived = "message.received"
	EventDeliveryStatus  = "message.delivery_status"
)

// CanonicalEvent is the provider-neutral shape of an inbound SMS webhook.
type CanonicalEvent struct {
	Provider          string
	EventType         string
	EventID           string
	From              string
	To                string
	Body              string
	MediaURLs         []string
	ProviderMessageID string
	ProviderStatus    string
	ErrorText         string
	OccurredAt        time.Time
}

// Normalizer converts a provider-specific webhook payload into a
// CanonicalEvent. One implementation exists per carrier; callers never see
// provider vocabulary past this boundary.
type Normalizer interface {
	Provider() string
	NormalizeInbound(body []byte) (CanonicalEvent, error)
}

// TelnyxNormalizer decodes the Telnyx {data:{event_type,payload}} envelope.
type TelnyxNormalizer struct{}

func (TelnyxNormalizer) Provider() string { return ProviderTelnyx }

type telnyxEnvelope struct {
	Data struct {
		ID         string    `json:"id"`
		EventType  string    `json:"event_type"`
		OccurredAt time.Time `json:"occurred_at"`
		Payload    struct {
			ID        string `json:"id"`
			Direction string `json:"direction"`
			Text      string `json:"text"`
			Status    string `json:"status"`
			MediaURLs []struct {
				URL string `json:"url"`
			} `json:"media"`
			From struct {
				PhoneNumber string `json:"phone_number"`
			} `json:"from"`
			To []struct {
				PhoneNumber string `json:"phone_number"`
				Status      string `json:"status"`
			} `json:"to"`
			Errors []struct {
				Title string `json:"title"`
			} `json:"errors"`
		} `json:"payload"`
	} `json:"data"`
}

func (TelnyxNormalizer) NormalizeInbound(body []byte) (CanonicalEvent, error) {
	var env telnyxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return CanonicalEvent{}, fmt.Errorf("messaging: decode telnyx envelope: %w", err)
	}
	if env.Data.ID == "" {
		return CanonicalEvent{}, errors.New("messaging: telnyx envelope missing event id")
	}
	payload := env.Data.Payload
	evt := CanonicalEvent{
		Provider:          ProviderTelnyx,
		EventID:           env.Data.ID,
		Body:              payload.Text,
		ProviderMessageID: payload.ID,
		ProviderStatus:    payload.Status,
		OccurredAt:        env.Data.OccurredAt,
		From:              FormatPhoneNumber(payload.From.PhoneNumber),
	}
	if len(payload.To) > 0 {
		evt.To = FormatPhoneNumber(payload.To[0].PhoneNumber)
		if evt.ProviderStatus == "" {
			evt.ProviderStatus = payload.To[0].Status
		}
	}
	for _, m := range payload.MediaURLs {
		if m.URL != "" {
			evt.MediaURLs = append(evt.MediaURLs, m.URL)
		}
	}
	if len(payload.Errors) > 0 {
		evt.ErrorText = payload.Errors[0].Title
	}
	switch env.Data.EventType {
	case "message.received":
		evt.EventType = EventMessageReceived
	case "message.sent", "message.finalized":
		evt.EventType = EventDeliveryStatus
	default:
		evt.EventType = env.Data.EventType
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	return evt, nil
}

// TwilioNormalizer decodes the legacy form-encoded Twilio webhook body.
type TwilioNormalizer struct{}

func (TwilioNormalizer) Provider() string { return ProviderTwilio }

func (TwilioNormalizer) NormalizeInbound(body []byte) (CanonicalEvent, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return CanonicalEvent{}, fmt.Errorf("messaging: parse twilio form: %w", err)
	}
	sid := strings.TrimSpace(form.Get("MessageSid"))
	if sid == "" {
		sid = strings.TrimSpace(form.Get("SmsSid"))
	}
	if sid == "" {
		return CanonicalEvent{}, errors.New("messaging: twilio payload missing MessageSid")
	}
	evt := CanonicalEvent{
		Provider:          ProviderTwilio,
		EventID:           sid,
		From:              FormatPhoneNumber(form.Get("From")),
		To:                FormatPhoneNumber(form.Get("To")),
		Body:              form.Get("Body"),
		ProviderMessageID: sid,
		ProviderStatus:    strings.ToLower(strings.TrimSpace(form.Get("SmsStatus"))),
		ErrorText:         strings.TrimSpace(form.Get("ErrorMessage")),
		OccurredAt:        time.Now().UTC(),
	}
	if evt.ProviderStatus == "" {
		evt.ProviderStatus = strings.ToLower(strings.TrimSpace(form.Get("MessageStatus")))
	}
	// Status callbacks carry MessageStatus; fresh inbound messages carry a body
	// and a "received" status.
	if evt.ProviderStatus == "" || evt.ProviderStatus == "received" || evt.ProviderStatus == "receiving" {
		evt.EventType = EventMessageReceived
	} else {
		evt.EventType = EventDeliveryStatus
	}
	if n, err := strconv.Atoi(form.Get("NumMedia")); err == nil && n > 0 {
		for i := 0; i < n; i++ {
			if u := strings.TrimSpace(form.Get(fmt.Sprintf("MediaUrl%d", i))); u != "" {
				evt.MediaURLs = append(evt.MediaURLs, u)
			}
		}
	}
	return evt, nil
}
