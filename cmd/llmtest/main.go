package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"

	"github.com/wolfman30/leadrelay/cmd/mainconfig"
	"github.com/wolfman30/leadrelay/internal/app/bootstrap"
	appconfig "github.com/wolfman30/leadrelay/internal/config"
	"github.com/wolfman30/leadrelay/internal/conversation"
	"github.com/wolfman30/leadrelay/internal/leads"
	"github.com/wolfman30/leadrelay/pkg/logging"
)

// llmtest prints the welcome SMS and a reply produced by the configured
// completion provider, without a database or an SMS provider.
//
//	go run ./cmd/llmtest -name Marc -message "Oui je suis intéressé"
func main() {
	_ = godotenv.Load()

	name := flag.String("name", "Marc", "prospect name")
	message := flag.String("message", "Oui je suis intéressé, c'est pour une maison de 120m2.", "inbound SMS to answer")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := bootstrap.BuildLLMClient(ctx, cfg, func(ctx context.Context) (aws.Config, error) {
		return mainconfig.LoadAWSConfig(ctx, cfg)
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "llm client: %v\n", err)
		os.Exit(1)
	}
	gen := bootstrap.BuildReplyGenerator(client, cfg)
	profile := bootstrap.DefaultProfile(cfg)
	lead := &leads.Lead{Name: *name, Phone: "+33600000000", Status: leads.StatusNew}

	fmt.Printf("provider: %s (fallback: %s)\n", cfg.LLMProvider, orNone(cfg.LLMFallbackProvider))

	start := time.Now()
	welcome, err := conversation.Preview(ctx, gen, profile, lead)
	if err != nil {
		fmt.Fprintf(os.Stderr, "welcome: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\n[welcome] (%s)\n%s\n", time.Since(start).Round(time.Millisecond), welcome)

	now := time.Now()
	lead.AppendTurn(leads.Turn{Role: leads.RoleAssistant, Content: welcome, Kind: leads.KindWelcome}, now)
	lead.AppendTurn(leads.Turn{Role: leads.RoleUser, Content: *message}, now)

	start = time.Now()
	reply, err := conversation.Preview(ctx, gen, profile, lead)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reply: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\n[prospect]\n%s\n\n[reply] (%s)\n%s\n", *message, time.Since(start).Round(time.Millisecond), reply)
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
