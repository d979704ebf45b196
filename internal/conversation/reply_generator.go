package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/leadrelay/internal/leads"
)

// ErrEmptyCompletion is returned when the provider answered with no usable text.
var ErrEmptyCompletion = errors.New("conversation: empty completion")

// ErrBlockedCompletion is returned when the reply guard refused the generated text.
var ErrBlockedCompletion = errors.New("conversation: completion blocked by reply guard")

const (
	defaultCompletionTimeout = 15 * time.Second
	replyMaxTokens           = 300
	replyTemperature         = 0.7
)

// ReplyGenerator produces the next assistant message for a conversation.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, systemPrompt string, history []leads.Turn) (string, error)
}

// LLMReplyGenerator adapts an LLMClient to ReplyGenerator with a bounded timeout.
type LLMReplyGenerator struct {
	client  LLMClient
	model   string
	timeout time.Duration
	tracer  trace.Tracer
}

// NewLLMReplyGenerator wires a completion client. A zero timeout uses 15s.
func NewLLMReplyGenerator(client LLMClient, model string, timeout time.Duration) *LLMReplyGenerator {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	if timeout <= 0 {
		timeout = defaultCompletionTimeout
	}
	return &LLMReplyGenerator{
		client:  client,
		model:   model,
		timeout: timeout,
		tracer:  otel.Tracer("leadrelay.internal.conversation.reply"),
	}
}

// GenerateReply sends the system prompt plus the two-role transcript of history.
func (g *LLMReplyGenerator) GenerateReply(ctx context.Context, systemPrompt string, history []leads.Turn) (string, error) {
	ctx, span := g.tracer.Start(ctx, "conversation.generate_reply")
	defer span.End()

	messages := transcript(history)
	span.SetAttributes(attribute.Int("conversation.transcript_len", len(messages)))

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Complete(callCtx, LLMRequest{
		Model:       g.model,
		System:      []string{systemPrompt},
		Messages:    messages,
		MaxTokens:   replyMaxTokens,
		Temperature: replyTemperature,
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("conversation: completion failed: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		span.RecordError(ErrEmptyCompletion)
		return "", ErrEmptyCompletion
	}
	guard := GuardReply(text)
	if guard.Blocked {
		span.SetAttributes(attribute.StringSlice("conversation.guard_reasons", guard.Reasons))
		span.RecordError(ErrBlockedCompletion)
		return "", ErrBlockedCompletion
	}
	return guard.Sanitized, nil
}

// transcriptOpener stands in for the prospect when the conversation was
// opened by an outbound SMS. Bedrock and Gemini reject a transcript that does
// not start with a user message.
const transcriptOpener = "(Le prospect a été contacté en premier par SMS.)"

// transcript maps stored turns to a strictly alternating chat that starts with
// the user. System turns annotate events for operators and are not part of the
// dialogue. Consecutive turns from one role, left behind by a failed reply or a
// paused lead, are merged into one message.
func transcript(history []leads.Turn) []ChatMessage {
	out := make([]ChatMessage, 0, len(history)+1)
	for _, turn := range history {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		var role string
		switch turn.Role {
		case leads.RoleUser:
			role = ChatRoleUser
		case leads.RoleAssistant:
			role = ChatRoleAssistant
		default:
			continue
		}
		if len(out) == 0 && role == ChatRoleAssistant {
			out = append(out, ChatMessage{Role: ChatRoleUser, Content: transcriptOpener})
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n" + content
			continue
		}
		out = append(out, ChatMessage{Role: role, Content: content})
	}
	return out
}
