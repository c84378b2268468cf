package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentwire/agentwire/internal/agentwire"
	"github.com/agentwire/agentwire/internal/config"
)

const echoAgentID = "agent_echo"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	cfg := config.Load()

	client, err := agentwire.NewClient(echoAgentID, cfg, cfg.AgentHealthPort)
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
		// Never echo an echo, or two of these agents ping-pong forever.
		if strings.HasPrefix(text, "Echo:") {
			return
		}

		client.Logger.InfoContext(ctx, "Echoing message",
			"from", msg.From,
			"text", text,
		)

		if err := client.Send(ctx, map[string]any{
			"message":     fmt.Sprintf("Echo: %s", text),
			"in_reply_to": msg.From,
		}); err != nil {
			client.Logger.ErrorContext(ctx, "Failed to send echo", "error", err)
		}
	})

	client.StartListening(ctx)

	client.Logger.InfoContext(ctx, "Echo agent started", "agent_id", echoAgentID)

	<-ctx.Done()
}
