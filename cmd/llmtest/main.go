package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"

	"github.com/mhire/triage-assistant/cmd/mainconfig"
	"github.com/mhire/triage-assistant/internal/app/bootstrap"
	appconfig "github.com/mhire/triage-assistant/internal/config"
	"github.com/mhire/triage-assistant/internal/conversation"
	"github.com/mhire/triage-assistant/pkg/logging"
)

// llmtest replays a short patient conversation through the engine with the
// configured LLM provider and prints each reply.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	org := flag.String("org", "SMB", "organization type (SMB or HRH)")
	flag.Parse()

	orgType, ok := conversation.ParseOrgType(*org)
	if !ok {
		log.Fatalf("invalid organization type %q", *org)
	}

	cfg := appconfig.Load()
	logger := logging.New("warn")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	llm, err := bootstrap.BuildLLMClient(ctx, cfg, func(ctx context.Context) (aws.Config, error) {
		return mainconfig.LoadAWSConfig(ctx, cfg)
	}, logger)
	if err != nil {
		log.Fatalf("build llm client: %v", err)
	}
	engine, err := bootstrap.BuildEngine(cfg, llm, nil, nil, logger)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}

	messages := flag.Args()
	if len(messages) == 0 {
		messages = []string{
			"Hi, I've had a mild headache since yesterday. What can I do?",
			"Does drinking water help?",
			"I'd like to book an appointment",
			"cancel",
		}
	}

	fmt.Printf("LLM provider test: provider=%s fallback=%s org=%s\n", cfg.LLMProvider, cfg.LLMFallbackProvider, orgType)
	sessionKey := fmt.Sprintf("llmtest-%d", time.Now().Unix())
	failures := 0
	for i, msg := range messages {
		start := time.Now()
		resp := engine.HandleMessage(ctx, conversation.MessageRequest{SessionKey: sessionKey, Message: msg, OrgType: orgType})
		fmt.Printf("\n[%d] patient: %s\n", i+1, msg)
		fmt.Printf("    reply (%v, escalation=%s): %s\n", time.Since(start).Round(time.Millisecond), resp.EscalationType, resp.Text)
		if resp.Failure != nil {
			failures++
			fmt.Printf("    llm failure: %v\n", resp.Failure)
		}
	}

	if failures > 0 {
		os.Exit(1)
	}
}
