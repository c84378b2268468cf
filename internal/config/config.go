package config

import (
	"os"

	"github.com/joho/godotenv"
)

// AppConfig holds all process configuration. Every field comes from the
// environment; a local .env file is honored for development.
type AppConfig struct {
	// Relay
	RelayAddr string // listen address for the relay server
	RelayURL  string // base URL agents use to reach the relay

	// Agent
	AgentName string

	// Health check ports, one per process
	RelayHealthPort     string
	AgentHealthPort     string
	ResponderHealthPort string

	// Observability
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Vertex AI (responder agent only)
	GCPProject    string
	GCPLocation   string
	VertexAIModel string
}

// Load reads configuration from environment variables with defaults,
// loading a .env file first if one exists.
func Load() *AppConfig {
	_ = godotenv.Load()

	return &AppConfig{
		RelayAddr: getEnv("AGENTWIRE_RELAY_ADDR", ":8765"),
		RelayURL:  getEnv("AGENTWIRE_RELAY_URL", "http://localhost:8765"),

		AgentName: getEnv("AGENT_NAME", "Agent_Default"),

		RelayHealthPort:     getEnv("RELAY_HEALTH_PORT", "8080"),
		AgentHealthPort:     getEnv("AGENT_HEALTH_PORT", "8081"),
		ResponderHealthPort: getEnv("RESPONDER_HEALTH_PORT", "8082"),

		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", "127.0.0.1:4317"),
		ServiceName:    getEnv("SERVICE_NAME", "agentwire"),
		ServiceVersion: getEnv("SERVICE_VERSION", "1.0.0"),
		Environment:    getEnv("ENVIRONMENT", "development"),

		GCPProject:    getEnv("GCP_PROJECT", ""),
		GCPLocation:   getEnv("GCP_LOCATION", "us-central1"),
		VertexAIModel: getEnv("VERTEX_AI_MODEL", "gemini-2.0-flash"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
