package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentwire/agentwire/agents/responder/llm"
	"github.com/agentwire/agentwire/agents/responder/llm/vertexai"
	"github.com/agentwire/agentwire/agents/responder/state"
	"github.com/agentwire/agentwire/internal/agentwire"
	"github.com/agentwire/agentwire/internal/config"
)

const responderAgentID = "agent_responder"

// newLLMClient picks the model backend: Vertex AI when a GCP project is
// configured, the mock otherwise so the agent works out of the box.
func newLLMClient(ctx context.Context, cfg *config.AppConfig) (llm.Client, error) {
	if cfg.GCPProject == "" {
		return llm.NewMockClient(), nil
	}
	return vertexai.NewClient(ctx, &vertexai.Config{
		Project:  cfg.GCPProject,
		Location: cfg.GCPLocation,
		Model:    cfg.VertexAIModel,
	})
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("Shutting down responder...")
		cancel()
	}()

	cfg := config.Load()

	model, err := newLLMClient(ctx, cfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to create LLM client: %v", err))
	}

	conversations := state.NewInMemoryStore()

	client, err := agentwire.NewClient(responderAgentID, cfg, cfg.ResponderHealthPort)
	if err != nil {
		panic(fmt.Sprintf("Failed to create relay client: %v", err))
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := client.Shutdown(shutdownCtx); err != nil {
			client.Logger.ErrorContext(shutdownCtx, "Error during shutdown", "error", err)
		}
	}()

	if err := client.Start(ctx); err != nil {
		client.Logger.ErrorContext(ctx, "Failed to start client", "error", err)
		panic(err)
	}

	if err := client.Register(ctx); err != nil {
		client.Logger.ErrorContext(ctx, "Failed to register with relay", "error", err)
		panic(err)
	}

	client.OnMessage(func(ctx context.Context, msg *agentwire.Message) {
		text := msg.Text()
		if text == "" {
			return
		}
		// Never answer another responder, or two of them loop forever.
		if strings.HasPrefix(msg.From, "agent_responder") {
			return
		}

		var history []state.Turn
		err := conversations.WithLock(msg.From, func(conv *state.Conversation) error {
			conv.Append(state.Turn{From: msg.From, Text: text, At: msg.Timestamp})
			history = append(history, conv.Turns...)
			return nil
		})
		if err != nil {
			client.Logger.ErrorContext(ctx, "Failed to record conversation turn", "error", err)
		}

		reply, err := model.Reply(ctx, msg.From, text, history)
		if err != nil {
			client.Logger.ErrorContext(ctx, "LLM reply failed",
				"error", err,
				"from", msg.From,
			)
			return
		}

		if err := client.Send(ctx, map[string]any{
			"message":     reply,
			"in_reply_to": msg.From,
		}); err != nil {
			client.Logger.ErrorContext(ctx, "Failed to send reply", "error", err)
			return
		}

		if err := conversations.WithLock(msg.From, func(conv *state.Conversation) error {
			conv.Append(state.Turn{From: responderAgentID, Text: reply, At: time.Now()})
			return nil
		}); err != nil {
			client.Logger.ErrorContext(ctx, "Failed to record reply turn", "error", err)
		}
	})

	client.StartListening(ctx)

	client.Logger.InfoContext(ctx, "Responder agent started", "agent_id", responderAgentID)

	<-ctx.Done()
}
