// Package agentwire provides the core infrastructure for the AgentWire relay
// and its agents: broadcast message routing over HTTP with Server-Sent Events,
// with automatic observability on both sides.
//
// # Overview
//
// AgentWire is a hub-and-spoke broadcast relay. Agents register with the
// relay, send messages to it, and subscribe to an event stream. Every message
// accepted by the relay is fanned out to every registered agent except its
// sender. An agent without a live stream does not miss anything: its messages
// queue in the registry and replay as the first frames of its next
// subscription, exactly once.
//
// The package provides:
//   - The relay's HTTP surface (register, send, events, agents)
//   - The in-memory agent registry with per-agent pending queues
//   - SSE stream management with keepalives and liveness tracking
//   - An idle reaper that evicts agents unseen past a threshold
//   - A client transport with reconnecting subscription and capped
//     exponential backoff
//   - Automatic distributed tracing, structured logging, and metrics
//
// # Architecture
//
//	┌─────────────────────────────────────────────┐
//	│         AgentWire Relay                     │
//	│   (RelayServer)                             │
//	│   - Agent registry + pending queues         │
//	│   - Broadcast fan-out                       │
//	│   - SSE stream management                   │
//	│   - Idle agent reaping                      │
//	├─────────────────────────────────────────────┤
//	│         AgentWire Clients                   │
//	│   (Client)                                  │
//	│   - Register / send / list agents           │
//	│   - Subscribe with automatic reconnect      │
//	│   - Synchronous in-order message handlers   │
//	├─────────────────────────────────────────────┤
//	│         Observability Layer                 │
//	│   - OpenTelemetry tracing                   │
//	│   - Structured logging (slog)               │
//	│   - Prometheus metrics + health endpoints   │
//	└─────────────────────────────────────────────┘
//
// # Relay Usage
//
// A complete relay is one call:
//
//	func main() {
//		ctx, cancel := context.WithCancel(context.Background())
//		defer cancel()
//		if err := agentwire.StartRelay(ctx); err != nil {
//			panic(err)
//		}
//	}
//
// StartRelay reads its configuration from the environment (see the config
// package) and serves until the context is cancelled.
//
// # Client Usage
//
//	client, err := agentwire.NewClient("agent_demo", cfg, "8081")
//	if err != nil {
//		panic(err)
//	}
//	client.Start(ctx)
//	client.Register(ctx)
//	client.OnMessage(func(ctx context.Context, msg *agentwire.Message) {
//		fmt.Println(msg.From, msg.Text())
//	})
//	client.StartListening(ctx)
//
// Handlers run synchronously in registration order, so an agent observes the
// stream in the order the relay wrote it.
package agentwire
