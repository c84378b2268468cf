package main

import (
	"bufio"
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

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		cancel()
	}()

	cfg := config.Load()

	client, err := agentwire.NewClient(cfg.AgentName, cfg, cfg.AgentHealthPort)
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

	// Print every broadcast from the other agents above the prompt.
	client.OnMessage(func(ctx context.Context, msg *agentwire.Message) {
		fmt.Printf("\r< [%s] %s\n> ", msg.From, msg.Text())
	})

	client.StartListening(ctx)

	client.Logger.InfoContext(ctx, "Chat CLI started", "agent_id", cfg.AgentName)
	fmt.Println("=== AgentWire Chat ===")
	fmt.Println("Type a message and press Enter to broadcast it.")
	fmt.Println("Commands: 'agents' lists connected agents, 'quit' exits.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			fmt.Print("> ")

			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					fmt.Printf("Error reading input: %v\n", err)
				}
				return
			}

			input := strings.TrimSpace(scanner.Text())

			switch {
			case input == "quit":
				return
			case input == "":
				continue
			case input == "agents":
				ids, err := client.ListAgents(ctx)
				if err != nil {
					fmt.Printf("Error listing agents: %v\n", err)
					continue
				}
				fmt.Printf("Connected agents (%d): %s\n", len(ids), strings.Join(ids, ", "))
				continue
			}

			if err := client.Send(ctx, map[string]any{"message": input}); err != nil {
				fmt.Printf("Error sending message: %v\n", err)
				continue
			}
		}
	}
}
