package messaging

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// ValidateTwilioSignature validates that a request came from Twilio.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}

	payload := buildSignaturePayload(webhookURL, r.PostForm)
	expected := computeSignature(payload, authToken)
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// buildSignaturePayload is the URL followed by every POST key and value, keys sorted.
func buildSignaturePayload(url string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(url)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}
	return payload.String()
}

// computeSignature computes the HMAC-SHA1 signature
func computeSignature(data, key string) string {
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// TwilioSMSWebhook is the subset of Twilio's inbound message form we use.
type TwilioSMSWebhook struct {
	MessageSid string
	From       string `validate:"required"`
	To         string
	Body       string `validate:"required"`
}

// TwilioVoiceWebhook is the subset of Twilio's inbound call form we use.
type TwilioVoiceWebhook struct {
	CallSid    string
	From       string `validate:"required"`
	To         string
	CallStatus string
}

// ParseTwilioSMSWebhook parses a Twilio messaging webhook request.
func ParseTwilioSMSWebhook(r *http.Request) (*TwilioSMSWebhook, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}
	return &TwilioSMSWebhook{
		MessageSid: strings.TrimSpace(r.FormValue("MessageSid")),
		From:       strings.TrimSpace(r.FormValue("From")),
		To:         strings.TrimSpace(r.FormValue("To")),
		Body:       r.FormValue("Body"),
	}, nil
}

// ParseTwilioVoiceWebhook parses a Twilio voice webhook request.
func ParseTwilioVoiceWebhook(r *http.Request) (*TwilioVoiceWebhook, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}
	return &TwilioVoiceWebhook{
		CallSid:    strings.TrimSpace(r.FormValue("CallSid")),
		From:       strings.TrimSpace(r.FormValue("From")),
		To:         strings.TrimSpace(r.FormValue("To")),
		CallStatus: strings.TrimSpace(r.FormValue("CallStatus")),
	}, nil
}

// webhookURL returns the URL Twilio signed. Behind a proxy the public base
// URL is authoritative; otherwise it is rebuilt from forwarding headers.
func webhookURL(r *http.Request, publicBaseURL string) string {
	if base := strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"); base != "" && r.URL != nil {
		return base + r.URL.RequestURI()
	}
	return buildAbsoluteURL(r)
}

func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
