package vertexai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/agentwire/agentwire/agents/responder/state"
)

// Config holds the configuration for the VertexAI client
type Config struct {
	Project  string
	Location string
	Model    string
}

// NewConfigFromEnv creates a VertexAI config from environment variables
func NewConfigFromEnv() *Config {
	return &Config{
		Project:  getEnvOrDefault("GCP_PROJECT", "your-project"),
		Location: getEnvOrDefault("GCP_LOCATION", "us-central1"),
		Model:    getEnvOrDefault("VERTEX_AI_MODEL", "gemini-2.0-flash"),
	}
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Client implements the llm.Client interface using VertexAI
type Client struct {
	config *Config
	client *genai.Client
	logger *slog.Logger
}

// NewClient creates a new VertexAI client for the responder agent
func NewClient(ctx context.Context, config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  config.Project,
		Location: config.Location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	// Use DEBUG level by default if LOG_LEVEL=DEBUG, otherwise INFO
	logLevel := slog.LevelInfo
	if strings.ToUpper(os.Getenv("LOG_LEVEL")) == "DEBUG" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	return &Client{
		config: config,
		client: genaiClient,
		logger: logger,
	}, nil
}

// Reply implements the llm.Client interface by sending the incoming text,
// framed with the recent conversation, to Vertex AI as a single-turn chat.
func (c *Client) Reply(ctx context.Context, from, text string, history []state.Turn) (string, error) {
	prompt := c.buildPrompt(from, text, history)

	c.logger.DebugContext(ctx, "Sending prompt to VertexAI",
		"model", c.config.Model,
		"project", c.config.Project,
		"prompt_length", len(prompt),
	)

	chat, err := c.client.Chats.Create(ctx, c.config.Model, nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create chat: %w", err)
	}

	result, err := chat.SendMessage(ctx, genai.Part{Text: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if len(result.Candidates) > 0 && len(result.Candidates[0].Content.Parts) > 0 {
		part := result.Candidates[0].Content.Parts[0]
		if part.Text != "" {
			return part.Text, nil
		}
	}

	return "I'm sorry, I couldn't generate a response.", nil
}

// buildPrompt frames the incoming broadcast, plus recent history with that
// agent, for the model.
func (c *Client) buildPrompt(from, text string, history []state.Turn) string {
	var prompt strings.Builder
	prompt.WriteString("You are a helpful assistant connected to a multi-agent chat relay.\n")
	prompt.WriteString("Reply concisely to the new message below. Your reply is broadcast to every agent on the relay.\n\n")

	// The last history turn is the new message itself; everything before it
	// is context.
	if len(history) > 1 {
		prompt.WriteString("Conversation so far:\n")
		for _, turn := range history[:len(history)-1] {
			prompt.WriteString(fmt.Sprintf("%s: %s\n", turn.From, turn.Text))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString(fmt.Sprintf("New message from %s: %s\n", from, text))
	return prompt.String()
}
