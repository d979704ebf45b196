package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/generative-ai-go/genai"
	openai "github.com/sashabaranov/go-openai"
)

type fakeChatClient struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestOpenAIClientComplete(t *testing.T) {
	fake := &fakeChatClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: " Bonjour ! "}, FinishReason: openai.FinishReasonStop}},
		Usage:   openai.Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13},
	}}
	client := newOpenAIClient(fake, "")

	resp, err := client.Complete(context.Background(), LLMRequest{
		System:   []string{"sys"},
		Messages: []ChatMessage{{Role: ChatRoleUser, Content: "Salut"}, {Role: ChatRoleAssistant, Content: "  "}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "Bonjour !" || resp.Usage.TotalTokens != 13 || resp.StopReason != "stop" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if fake.req.Model != openai.GPT4oMini || len(fake.req.Messages) != 2 || fake.req.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Fatalf("unexpected request %+v", fake.req)
	}

	if _, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: "tool", Content: "x"}}}); err == nil {
		t.Fatalf("expected unsupported role error")
	}

	fake.resp = openai.ChatCompletionResponse{}
	if _, err := client.Complete(context.Background(), LLMRequest{}); err == nil {
		t.Fatalf("expected no-choices error")
	}
}

type fakeConverse struct {
	in  *bedrockruntime.ConverseInput
	out *bedrockruntime.ConverseOutput
	err error
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestBedrockLLMClientComplete(t *testing.T) {
	fake := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "Vous êtes propriétaire ?"}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(5), OutputTokens: aws.Int32(4), TotalTokens: aws.Int32(9)},
	}}
	client := NewBedrockLLMClient(fake, "anthropic.claude-3-haiku")

	resp, err := client.Complete(context.Background(), LLMRequest{
		System:      []string{"sys"},
		Messages:    []ChatMessage{{Role: ChatRoleSystem, Content: "note"}, {Role: ChatRoleUser, Content: "Oui"}},
		Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Text != "Vous êtes propriétaire ?" || resp.Usage.TotalTokens != 9 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if aws.ToString(fake.in.ModelId) != "anthropic.claude-3-haiku" || len(fake.in.System) != 2 || len(fake.in.Messages) != 1 {
		t.Fatalf("unexpected converse input %+v", fake.in)
	}

	fake.err = errors.New("throttled")
	if _, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "Oui"}}}); err == nil {
		t.Fatalf("expected error")
	}

	if _, err := NewBedrockLLMClient(fake, "").Complete(context.Background(), LLMRequest{}); err == nil {
		t.Fatalf("expected missing model error")
	}
}

func TestGeminiContents(t *testing.T) {
	history, last, system := geminiContents(LLMRequest{
		System: []string{"persona"},
		Messages: []ChatMessage{
			{Role: ChatRoleAssistant, Content: "Bonjour"},
			{Role: ChatRoleSystem, Content: "annotation"},
			{Role: ChatRoleUser, Content: "Oui"},
		},
	})
	if last != "Oui" {
		t.Fatalf("unexpected last message %q", last)
	}
	if len(system) != 2 {
		t.Fatalf("expected system blocks merged, got %v", system)
	}
	if len(history) != 1 || history[0].Role != "model" || history[0].Parts[0] != genai.Text("Bonjour") {
		t.Fatalf("unexpected history %+v", history)
	}

	if _, last, _ := geminiContents(LLMRequest{}); last != "" {
		t.Fatalf("expected empty request to have no message")
	}
}

func TestFallbackLLMClient(t *testing.T) {
	primary := &recordingLLM{err: errors.New("primary down")}
	secondary := &recordingLLM{resp: LLMResponse{Text: "ok"}}

	resp, err := NewFallbackLLMClient(primary, secondary, nil).Complete(context.Background(), LLMRequest{Model: "gpt-4o-mini"})
	if err != nil || resp.Text != "ok" {
		t.Fatalf("expected fallback response, got %+v %v", resp, err)
	}
	if secondary.last.Model != "" {
		t.Fatalf("fallback should choose its own model, got %q", secondary.last.Model)
	}

	if _, err := NewFallbackLLMClient(primary, nil, nil).Complete(context.Background(), LLMRequest{}); err == nil {
		t.Fatalf("expected primary error without fallback")
	}
}
