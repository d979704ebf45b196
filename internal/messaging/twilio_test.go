package messaging

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newFormRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func signForm(t *testing.T, req *http.Request, secret, signedURL string, form url.Values) {
	t.Helper()
	req.Header.Set("X-Twilio-Signature", computeSignature(buildSignaturePayload(signedURL, form), secret))
}

func TestValidateTwilioSignature(t *testing.T) {
	form := url.Values{"From": {"+33612345678"}, "Body": {"Bonjour"}, "MessageSid": {"SM1"}}
	signedURL := "https://hooks.example.com/api/incoming-sms"

	req := newFormRequest("/api/incoming-sms", form)
	signForm(t, req, "secret", signedURL, form)
	if !ValidateTwilioSignature(req, "secret", signedURL) {
		t.Fatalf("expected signature to validate")
	}

	req = newFormRequest("/api/incoming-sms", form)
	signForm(t, req, "other", signedURL, form)
	if ValidateTwilioSignature(req, "secret", signedURL) {
		t.Fatalf("expected signature mismatch")
	}

	req = newFormRequest("/api/incoming-sms", form)
	if ValidateTwilioSignature(req, "secret", signedURL) {
		t.Fatalf("expected missing signature to fail")
	}
}

func TestBuildSignaturePayloadSortsKeys(t *testing.T) {
	got := buildSignaturePayload("https://x.test/hook", url.Values{"b": {"2"}, "a": {"1"}})
	if got != "https://x.test/hooka1b2" {
		t.Fatalf("unexpected payload %q", got)
	}
}

func TestWebhookURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/incoming-sms?x=1", nil)
	if got := webhookURL(req, "https://public.example.com/"); got != "https://public.example.com/api/incoming-sms?x=1" {
		t.Fatalf("unexpected public url %q", got)
	}

	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "proxy.example.com")
	if got := webhookURL(req, ""); got != "https://proxy.example.com/api/incoming-sms?x=1" {
		t.Fatalf("unexpected forwarded url %q", got)
	}
}

func TestParseTwilioWebhooks(t *testing.T) {
	sms, err := ParseTwilioSMSWebhook(newFormRequest("/api/incoming-sms", url.Values{
		"From": {" +33612345678 "}, "Body": {"  Oui  "}, "MessageSid": {"SM9"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sms.From != "+33612345678" || sms.MessageSid != "SM9" {
		t.Fatalf("unexpected sms webhook %+v", sms)
	}
	if sms.Body != "  Oui  " {
		t.Fatalf("body must be kept verbatim, got %q", sms.Body)
	}

	voice, err := ParseTwilioVoiceWebhook(newFormRequest("/api/incoming-voice", url.Values{
		"From": {"+33612345678"}, "To": {"+33100000000"}, "CallSid": {"CA1"}, "CallStatus": {"ringing"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if voice.CallSid != "CA1" || voice.To != "+33100000000" || voice.CallStatus != "ringing" {
		t.Fatalf("unexpected voice webhook %+v", voice)
	}
}
