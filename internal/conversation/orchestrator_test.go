package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/leadrelay/internal/events"
	"github.com/wolfman30/leadrelay/internal/leads"
	"github.com/wolfman30/leadrelay/internal/profile"
	"github.com/wolfman30/leadrelay/pkg/logging"
)

const testPhone = "+33612345678"

type harness struct {
	repo      *leads.InMemoryRepository
	generator *stubGenerator
	messenger *stubMessenger
	orch      *Orchestrator
}

func newHarness(t *testing.T, opts ...OrchestratorOption) *harness {
	t.Helper()
	h := &harness{
		repo:      leads.NewInMemoryRepository(),
		generator: &stubGenerator{},
		messenger: &stubMessenger{},
	}
	profiles := profile.NewResolver(profile.Static{CompanyName: "SolarFlash", AssistantName: "Sarah"}, profile.DefaultConfig(), nil)
	h.orch = NewOrchestrator(h.repo, h.generator, h.messenger, profiles, logging.Default(), opts...)
	return h
}

func (h *harness) seed(t *testing.T, lead *leads.Lead) *leads.Lead {
	t.Helper()
	if lead.Phone == "" {
		lead.Phone = testPhone
	}
	if err := h.repo.Create(context.Background(), lead); err != nil {
		t.Fatalf("seed lead: %v", err)
	}
	return lead
}

func (h *harness) load(t *testing.T, id string) *leads.Lead {
	t.Helper()
	lead, err := h.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("load lead: %v", err)
	}
	return lead
}

func TestLeadCreatedSendsWelcome(t *testing.T) {
	h := newHarness(t)
	h.generator.reply = "Bonjour Marc, c'est Sarah de SolarFlash. Êtes-vous propriétaire ?"

	out := h.orch.HandleEvent(context.Background(), LeadCreated{Name: "Marc", Phone: "06 12 34 56 78"})
	if !out.Success || !out.Created || out.Error != ErrorNone {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.SentReply != h.generator.reply {
		t.Fatalf("expected sent reply %q, got %q", h.generator.reply, out.SentReply)
	}

	lead := h.load(t, out.LeadID)
	if lead.Phone != testPhone {
		t.Fatalf("expected normalized phone, got %s", lead.Phone)
	}
	if lead.Status != leads.StatusSMSSent {
		t.Fatalf("expected sms_sent, got %s", lead.Status)
	}
	if len(lead.History) != 1 || lead.History[0].Role != leads.RoleAssistant || lead.History[0].Kind != leads.KindWelcome {
		t.Fatalf("expected single welcome turn, got %+v", lead.History)
	}
	if lead.Source != "API" {
		t.Fatalf("expected default source API, got %q", lead.Source)
	}
	if h.messenger.sent[0].To != testPhone || h.messenger.sent[0].Kind != leads.KindWelcome {
		t.Fatalf("unexpected dispatch %+v", h.messenger.sent[0])
	}
	if !strings.Contains(h.generator.prompts[0], "Marc") || !strings.Contains(h.generator.prompts[0], "SolarFlash") {
		t.Fatalf("welcome prompt not personalized: %s", h.generator.prompts[0])
	}
}

func TestLeadCreatedFallsBackToTemplatedWelcome(t *testing.T) {
	h := newHarness(t)
	h.generator.err = errUpstream

	out := h.orch.HandleEvent(context.Background(), LeadCreated{Name: "Marc", Phone: testPhone})
	want := "Bonjour Marc, c'est Sarah de chez SolarFlash. Êtes-vous toujours intéressé par une installation solaire ?"
	if h.messenger.sent[0].Body != want {
		t.Fatalf("expected templated welcome, got %q", h.messenger.sent[0].Body)
	}
	if !out.Success || out.SentReply != want {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestLeadCreatedDispatchFailureKeepsLead(t *testing.T) {
	h := newHarness(t)
	h.messenger.err = errUpstream

	out := h.orch.HandleEvent(context.Background(), LeadCreated{Name: "Marc", Phone: testPhone})
	if !out.Success || out.Error != ErrorUpstreamFailure || out.SentReply != "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	lead := h.load(t, out.LeadID)
	if lead.Status != leads.StatusNew || len(lead.History) != 0 {
		t.Fatalf("expected untouched new lead, got %+v", lead)
	}
}

func TestLeadCreatedValidationAndIdempotence(t *testing.T) {
	h := newHarness(t)

	out := h.orch.HandleEvent(context.Background(), LeadCreated{Name: "X", Phone: "not a phone"})
	if out.Success || out.Error != ErrorValidation {
		t.Fatalf("expected validation error, got %+v", out)
	}

	first := h.orch.HandleEvent(context.Background(), LeadCreated{Phone: testPhone})
	if !first.Success || !first.Created {
		t.Fatalf("unexpected first outcome %+v", first)
	}
	if lead := h.load(t, first.LeadID); lead.Name != "Prospect" {
		t.Fatalf("expected default name, got %q", lead.Name)
	}

	second := h.orch.HandleEvent(context.Background(), LeadCreated{Name: "Marc", Phone: testPhone})
	if !second.Success || second.Created || second.LeadID != first.LeadID {
		t.Fatalf("expected idempotent success with existing id, got %+v", second)
	}
	if h.messenger.sentCount() != 1 {
		t.Fatalf("expected a single welcome, got %d sends", h.messenger.sentCount())
	}
}

// Scenario B
func TestInboundMessageRepliesAndMovesToDiscussion(t *testing.T) {
	h := newHarness(t)
	lead := h.seed(t, &leads.Lead{Name: "Marc", Status: leads.StatusNew})

	out := h.orch.HandleEvent(context.Background(), InboundMessage{FromPhone: testPhone, Body: "Oui je suis intéressé"})
	if !out.Success || out.LeadID != lead.ID || out.SentReply != "Très bien, êtes-vous propriétaire ?" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	stored := h.load(t, lead.ID)
	if stored.Status != leads.StatusInDiscussion {
		t.Fatalf("expected in_discussion, got %s", stored.Status)
	}
	if len(stored.History) != 2 || stored.History[0].Role != leads.RoleUser || stored.History[1].Role != leads.RoleAssistant {
		t.Fatalf("expected user then assistant, got %+v", stored.History)
	}
	if stored.History[1].Kind != leads.KindAI {
		t.Fatalf("expected ai kind, got %q", stored.History[1].Kind)
	}
	if got := h.generator.seen[0]; len(got) != 1 || got[0].Content != "Oui je suis intéressé" {
		t.Fatalf("generator did not see the inbound turn: %+v", got)
	}
}

func TestInboundMessageKeepsSMSSentStatus(t *testing.T) {
	h := newHarness(t)
	lead := h.seed(t, &leads.Lead{Name: "Marc", Status: leads.StatusSMSSent})

	h.orch.HandleEvent(context.Background(), InboundMessage{FromPhone: testPhone, Body: "Oui"})
	if got := h.load(t, lead.ID).Status; got != leads.StatusSMSSent {
		t.Fatalf("expected sms_sent to be kept, got %s", got)
	}
}

// Scenario C and P2
func TestInboundMessageCompletionFailureKeepsInbound(t *testing.T) {
	h := newHarness(t)
	h.generator.err = context.DeadlineExceeded
	lead := h.seed(t, &leads.Lead{Name: "Marc"})

	out := h.orch.HandleEvent(context.Background(), InboundMessage{FromPhone: testPhone, Body: "Oui je suis intéressé"})
	if !out.Success || out.Error != ErrorUpstreamFailure || !out.Persisted || out.SentReply != "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped timeout, got %v", out.Err)
	}

	stored := h.load(t, lead.ID)
	if len(stored.History) != 1 || stored.History[0].Role != leads.RoleUser {
		t.Fatalf("expected only the user turn, got %+v", stored.History)
	}
	if stored.Status != leads.StatusInDiscussion {
		t.Fatalf("expected in_discussion, got %s", stored.Status)
	}
	if h.messenger.sentCount() != 0 {
		t.Fatalf("expected no dispatch")
	}
}

func TestInboundMessageDispatchFailureAppendsNothing(t *testing.T) {
	h := newHarness(t)
	h.messenger.err = errUpstream
	lead := h.seed(t, &leads.Lead{Name: "Marc"})

	out := h.orch.HandleEvent(context.Background(), InboundMessage{FromPhone: testPhone, Body: "Oui"})
	if !out.Success || out.Error != ErrorUpstreamFailure {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := len(h.load(t, lead.ID).History); got != 1 {
		t.Fatalf("expected 1 turn, got %d", got)
	}
}

// Scenario D and P4
func TestInboundMessagePausedLeadGetsNoReply(t *testing.T) {
	h := newHarness(t)
	lead := h.seed(t, &leads.Lead{Name: "Marc", AIPaused: true, History: []leads.Turn{{Role: leads.RoleAssistant, Content: "Bonjour", Kind: leads.KindManual}}})

	out := h.orch.HandleEvent(context.Background(), InboundMessage{FromPhone: testPhone, Body: "Merci"})
	if !out.Success || out.SentReply != "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := len(h.load(t, lead.ID).History); got != 2 {
		t.Fatalf("expected history to grow by one, got %d", got)
	}
	if h.generator.callCount() != 0 || h.messenger.sentCount() != 0 {
		t.Fatalf("paused lead triggered automation")
	}
}

// Scenario E and P3
func TestInboundMessageUnknownPhone(t *testing.T) {
	h := newHarness(t)
	other := h.seed(t, &leads.Lead{Name: "Other"})

	out := h.orch.HandleEvent(context.Background(), InboundMessage{FromPhone: "+000unknown", Body: "Salut"})
	if out.Success || out.Error != ErrorNotFound {
		t.Fatalf("expected not found, got %+v", out)
	}
	all, _ := h.repo.List(context.Background(), leads.ListFilter{})
	if len(all) != 1 {
		t.Fatalf("expected no lead to be created, got %d leads", len(all))
	}
	if got := len(h.load(t, other.ID).History); got != 0 {
		t.Fatalf("unrelated lead mutated")
	}
}

func TestInboundMessageValidation(t *testing.T) {
	h := newHarness(t)
	for _, ev := range []InboundMessage{{Body: "x"}, {FromPhone: testPhone, Body: "   "}} {
		if out := h.orch.HandleEvent(context.Background(), ev); out.Error != ErrorValidation {
			t.Fatalf("expected validation error for %+v, got %+v", ev, out)
		}
	}
}

// P5
func TestAppointmentSetIsTerminalForAutomation(t *testing.T) {
	h := newHarness(t)
	lead := h.seed(t, &leads.Lead{Name: "Marc", Status: leads.StatusAppointmentSet})

	h.orch.HandleEvent(context.Background(), InboundMessage{FromPhone: testPhone, Body: "À demain"})
	h.orch.HandleEvent(context.Background(), MissedCall{FromPhone: testPhone})
	if got := h.load(t, lead.ID).Status; got != leads.StatusAppointmentSet {
		t.Fatalf("expected appointment_set, got %s", got)
	}
}

func TestInboundPersistenceFailure(t *testing.T) {
	mem := leads.NewInMemoryRepository()
	repo := &flakyRepo{Repository: mem, failAfter: 0}
	messenger := &stubMessenger{}
	orch := NewOrchestrator(repo, &stubGenerator{}, messenger, nil, nil)
	_ = mem.Create(context.Background(), &leads.Lead{Phone: testPhone})

	out := orch.HandleEvent(context.Background(), InboundMessage{FromPhone: testPhone, Body: "Oui"})
	if out.Success || out.Persisted || out.Error != ErrorPersistenceFailure {
		t.Fatalf("expected persistence failure, got %+v", out)
	}
	if messenger.sentCount() != 0 {
		t.Fatalf("expected no reply after failed save")
	}
}

func TestOutboundPersistenceFailureKeepsInbound(t *testing.T) {
	mem := leads.NewInMemoryRepository()
	repo := &flakyRepo{Repository: mem, failAfter: 1}
	orch := NewOrchestrator(repo, &stubGenerator{}, &stubMessenger{}, nil, nil)
	lead := &leads.Lead{Phone: testPhone}
	_ = mem.Create(context.Background(), lead)

	out := orch.HandleEvent(context.Background(), InboundMessage{FromPhone: testPhone, Body: "Oui"})
	if out.Success || !out.Persisted || out.SentReply == "" || out.Error != ErrorPersistenceFailure {
		t.Fatalf("unexpected outcome %+v", out)
	}
	stored, _ := mem.GetByID(context.Background(), lead.ID)
	if len(stored.History) != 1 {
		t.Fatalf("expected inbound turn to survive, got %+v", stored.History)
	}
}

func TestPersistSurvivesCallerCancellation(t *testing.T) {
	h := newHarness(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.orch.persist(ctx, func(pctx context.Context) error { return pctx.Err() }); err != nil {
		t.Fatalf("expected persistence context to be detached, got %v", err)
	}
}

// P1
func TestConcurrentInboundMessagesNeverLoseUpdates(t *testing.T) {
	h := newHarness(t)
	h.generator.delay = 5 * time.Millisecond
	lead := h.seed(t, &leads.Lead{Name: "Marc"})

	const n = 12
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.orch.HandleEvent(context.Background(), InboundMessage{FromPhone: testPhone, Body: fmt.Sprintf("message %d", i)})
		}(i)
	}
	wg.Wait()

	stored := h.load(t, lead.ID)
	if len(stored.History) != 2*n {
		t.Fatalf("expected %d turns, got %d", 2*n, len(stored.History))
	}
	for i := 0; i < len(stored.History); i += 2 {
		if stored.History[i].Role != leads.RoleUser || stored.History[i+1].Role != leads.RoleAssistant {
			t.Fatalf("turns interleaved at %d: %+v", i, stored.History[i:i+2])
		}
	}
}

func TestConcurrentInboundPausedLead(t *testing.T) {
	h := newHarness(t)
	lead := h.seed(t, &leads.Lead{Name: "Marc", AIPaused: true})

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.orch.HandleEvent(context.Background(), InboundMessage{FromPhone: testPhone, Body: fmt.Sprintf("m%d", i)})
		}(i)
	}
	wg.Wait()

	if got := len(h.load(t, lead.ID).History); got != n {
		t.Fatalf("expected %d turns, got %d", n, got)
	}
}

func TestMissedCallCreatesLeadAndTextsBack(t *testing.T) {
	h := newHarness(t)

	out := h.orch.HandleEvent(context.Background(), MissedCall{FromPhone: testPhone, ToPhone: "+33100000000"})
	if !out.Success || !out.Created || out.SentReply == "" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	lead := h.load(t, out.LeadID)
	if lead.Name != "Appel Manqué" || lead.Source != "Appel Manqué" {
		t.Fatalf("unexpected lead identity %+v", lead)
	}
	if lead.Status != leads.StatusSMSSent {
		t.Fatalf("expected sms_sent, got %s", lead.Status)
	}
	if len(lead.History) != 2 || lead.History[0].Role != leads.RoleSystem || lead.History[1].Kind != leads.KindMissedCall {
		t.Fatalf("unexpected history %+v", lead.History)
	}
	want := "Bonjour, c'est SolarFlash. Je suis actuellement sur un toit. Comment puis-je vous aider ?"
	if h.messenger.sent[0].Body != want {
		t.Fatalf("unexpected callback body %q", h.messenger.sent[0].Body)
	}
	if h.generator.callCount() != 0 {
		t.Fatalf("missed call must not call the completion service")
	}
}

func TestMissedCallPausedLeadOnlyAnnotates(t *testing.T) {
	h := newHarness(t)
	lead := h.seed(t, &leads.Lead{Name: "Marc", AIPaused: true, Status: leads.StatusInDiscussion})

	out := h.orch.HandleEvent(context.Background(), MissedCall{FromPhone: testPhone})
	if !out.Success || out.SentReply != "" || out.Created {
		t.Fatalf("unexpected outcome %+v", out)
	}
	stored := h.load(t, lead.ID)
	if len(stored.History) != 1 || stored.History[0].Role != leads.RoleSystem {
		t.Fatalf("expected one system turn, got %+v", stored.History)
	}
	if h.messenger.sentCount() != 0 {
		t.Fatalf("paused lead must not be texted")
	}
}

func TestSystemTurnsAreLeftOutOfTranscript(t *testing.T) {
	h := newHarness(t)
	h.seed(t, &leads.Lead{Name: "Marc"})

	h.orch.HandleEvent(context.Background(), MissedCall{FromPhone: testPhone})
	h.orch.HandleEvent(context.Background(), InboundMessage{FromPhone: testPhone, Body: "Oui"})

	if len(h.generator.seen[0]) != 3 {
		t.Fatalf("expected system, assistant and user turns, got %+v", h.generator.seen[0])
	}
	msgs := transcript(h.generator.seen[0])
	if len(msgs) != 3 || msgs[0].Role != ChatRoleUser || msgs[1].Role != ChatRoleAssistant || msgs[2].Role != ChatRoleUser {
		t.Fatalf("unexpected transcript %+v", msgs)
	}
}

func TestDuplicateEventsAreIgnored(t *testing.T) {
	h := newHarness(t, WithDuplicateGuard(events.NewMemoryProcessedStore()))
	lead := h.seed(t, &leads.Lead{Name: "Marc"})

	first := h.orch.HandleEvent(context.Background(), InboundMessage{FromPhone: testPhone, Body: "Oui", EventID: "SM1"})
	replay := h.orch.HandleEvent(context.Background(), InboundMessage{FromPhone: testPhone, Body: "Oui", EventID: "SM1"})
	if !first.Success || first.Duplicate {
		t.Fatalf("unexpected first outcome %+v", first)
	}
	if !replay.Success || !replay.Duplicate || replay.LeadID != lead.ID {
		t.Fatalf("expected duplicate outcome, got %+v", replay)
	}
	if got := len(h.load(t, lead.ID).History); got != 2 {
		t.Fatalf("replay mutated history: %d turns", got)
	}

	call := MissedCall{FromPhone: "+33698765432", EventID: "CA1"}
	created := h.orch.HandleEvent(context.Background(), call)
	again := h.orch.HandleEvent(context.Background(), call)
	if !created.Created || !again.Duplicate || again.LeadID != created.LeadID {
		t.Fatalf("unexpected missed call outcomes %+v %+v", created, again)
	}
}

func TestUnsupportedEvent(t *testing.T) {
	h := newHarness(t)
	if out := h.orch.HandleEvent(context.Background(), nil); out.Error != ErrorValidation {
		t.Fatalf("expected validation error, got %+v", out)
	}
}
