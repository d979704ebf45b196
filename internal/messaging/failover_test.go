package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wolfman30/leadrelay/internal/conversation"
)

type stubSender struct {
	id    string
	err   error
	calls int
}

func (s *stubSender) SendReply(ctx context.Context, reply conversation.OutboundReply) (string, error) {
	s.calls++
	return s.id, s.err
}

func TestFailoverMessengerUsesPrimary(t *testing.T) {
	primary := &stubSender{id: "p-1"}
	secondary := &stubSender{id: "s-1"}
	f := NewFailoverMessenger(primary, "telnyx", secondary, "twilio", nil)

	id, err := f.SendReply(context.Background(), conversation.OutboundReply{To: "+33612345678", Body: "hi"})
	if err != nil || id != "p-1" {
		t.Fatalf("expected primary id, got %q err=%v", id, err)
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary should not be called")
	}
}

func TestFailoverMessengerFallsBack(t *testing.T) {
	primary := &stubSender{err: errors.New("down")}
	secondary := &stubSender{id: "s-1"}
	f := NewFailoverMessenger(primary, "telnyx", secondary, "twilio", nil)

	id, err := f.SendReply(context.Background(), conversation.OutboundReply{To: "+33612345678", Body: "hi"})
	if err != nil || id != "s-1" {
		t.Fatalf("expected secondary id, got %q err=%v", id, err)
	}
}

func TestFailoverMessengerSkipsFallbackWhenCancelled(t *testing.T) {
	primary := &stubSender{err: context.Canceled}
	secondary := &stubSender{id: "s-1"}
	f := NewFailoverMessenger(primary, "telnyx", secondary, "twilio", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.SendReply(ctx, conversation.OutboundReply{To: "+33612345678", Body: "hi"}); err == nil {
		t.Fatalf("expected error")
	}
	if secondary.calls != 0 {
		t.Fatalf("secondary should not be called after cancellation")
	}
}

func TestBuildReplyMessenger(t *testing.T) {
	telnyx := ProviderSelectionConfig{TelnyxAPIKey: "k", TelnyxProfileID: "p", TelnyxFromNumber: "+33700000001"}
	both := telnyx
	both.TwilioAccountSID, both.TwilioAuthToken, both.TwilioFromNumber = "AC", "t", "+33700000002"

	tests := []struct {
		name       string
		cfg        ProviderSelectionConfig
		preference string
		provider   string
		wantReason string
	}{
		{name: "auto with both providers fails over", cfg: both, provider: "telnyx+twilio"},
		{name: "auto with twilio only", cfg: ProviderSelectionConfig{TwilioAccountSID: "AC", TwilioAuthToken: "t", TwilioFromNumber: "+33700000002"}, provider: SMSProviderTwilio},
		{name: "forced telnyx", cfg: both, preference: "Telnyx", provider: SMSProviderTelnyx},
		{name: "forced twilio without credentials", cfg: telnyx, preference: SMSProviderTwilio, wantReason: "TWILIO_ACCOUNT_SID missing"},
		{name: "telnyx without sender number", cfg: ProviderSelectionConfig{TelnyxAPIKey: "k", TelnyxProfileID: "p"}, wantReason: "TELNYX_FROM_NUMBER missing"},
		{name: "forced twilio without sender number", cfg: ProviderSelectionConfig{TwilioAccountSID: "AC", TwilioAuthToken: "t"}, preference: SMSProviderTwilio, wantReason: "TWILIO_FROM_NUMBER missing"},
		{name: "unknown provider", cfg: both, preference: "vonage", wantReason: "unknown SMS provider"},
		{name: "nothing configured", cfg: ProviderSelectionConfig{}, wantReason: "TELNYX_API_KEY missing"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			cfg.Preference = tc.preference
			messenger, provider, reason := BuildReplyMessenger(cfg, nil)
			if tc.wantReason != "" {
				if messenger != nil || !strings.Contains(reason, tc.wantReason) {
					t.Fatalf("expected no messenger and reason containing %q, got %v %q", tc.wantReason, messenger, reason)
				}
				return
			}
			if messenger == nil {
				t.Fatalf("expected messenger, reason %q", reason)
			}
			if provider != tc.provider {
				t.Fatalf("expected provider %q, got %q", tc.provider, provider)
			}
		})
	}
}
