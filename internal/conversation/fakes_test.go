package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/leadrelay/internal/leads"
)

type stubGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	delay   time.Duration
	calls   int
	prompts []string
	seen    [][]leads.Turn
}

func (g *stubGenerator) GenerateReply(ctx context.Context, systemPrompt string, history []leads.Turn) (string, error) {
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompts = append(g.prompts, systemPrompt)
	cp := make([]leads.Turn, len(history))
	copy(cp, history)
	g.seen = append(g.seen, cp)
	if g.err != nil {
		return "", g.err
	}
	if g.reply == "" {
		return "Très bien, êtes-vous propriétaire ?", nil
	}
	return g.reply, nil
}

func (g *stubGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type stubMessenger struct {
	mu   sync.Mutex
	err  error
	sent []OutboundReply
}

func (m *stubMessenger) SendReply(ctx context.Context, reply OutboundReply) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, reply)
	return "SM" + reply.LeadID, nil
}

func (m *stubMessenger) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// flakyRepo fails Update calls after the first failAfter successes.
type flakyRepo struct {
	leads.Repository
	mu        sync.Mutex
	updates   int
	failAfter int
}

func (r *flakyRepo) Update(ctx context.Context, lead *leads.Lead) error {
	r.mu.Lock()
	r.updates++
	n := r.updates
	r.mu.Unlock()
	if n > r.failAfter {
		return errors.New("db unavailable")
	}
	return r.Repository.Update(ctx, lead)
}

var errUpstream = errors.New("upstream timeout")
