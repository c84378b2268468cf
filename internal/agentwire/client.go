package agentwire

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agentwire/agentwire/internal/config"
	"github.com/agentwire/agentwire/internal/observability"
)

const (
	// minReconnectDelay is the first wait after a failed or broken stream.
	minReconnectDelay = time.Second
	// maxReconnectDelay caps the exponential backoff.
	maxReconnectDelay = time.Minute
)

// ListenState is the client transport's connection state.
type ListenState int32

const (
	StateDisconnected ListenState = iota
	StateConnecting
	StateStreaming
	StateClosed
)

func (s ListenState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MessageHandler receives each decoded event. Handlers run synchronously in
// registration order; a slow handler throttles stream consumption but never
// races the next event.
type MessageHandler func(ctx context.Context, msg *Message)

// Client is the agent-side counterpart of the relay: request/response calls
// for register, send and agents, plus a resilient SSE subscription that
// reconnects with capped exponential backoff.
type Client struct {
	AgentID        string
	BaseURL        string
	Observability  *observability.Observability
	TraceManager   *observability.TraceManager
	MetricsManager *observability.MetricsManager
	HealthServer   *observability.HealthServer
	Logger         *slog.Logger

	// HTTPClient serves the request/response calls. StreamClient carries the
	// long-lived event stream and must not have a request timeout.
	HTTPClient   *http.Client
	StreamClient *http.Client

	mu         sync.Mutex
	handlers   []MessageHandler
	registered bool
	state      ListenState
	stop       context.CancelFunc
	listenDone chan struct{}
}

// NewClient creates a relay client for agentID with observability wired in.
func NewClient(agentID string, cfg *config.AppConfig, healthPort string) (*Client, error) {
	obsConfig := observability.Config{
		ServiceName:    cfg.ServiceName + "-" + agentID,
		ServiceVersion: cfg.ServiceVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Environment:    cfg.Environment,
	}
	obs, err := observability.NewObservability(obsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	metricsManager, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics manager: %w", err)
	}

	traceManager := observability.NewTraceManager(obsConfig.ServiceName)

	baseURL := strings.TrimRight(cfg.RelayURL, "/")

	healthServer := observability.NewHealthServer(healthPort, obsConfig.ServiceName, cfg.ServiceVersion)
	healthServer.AddChecker("self", observability.NewBasicHealthChecker("self", func(ctx context.Context) error {
		return nil
	}))
	healthServer.AddChecker("relay_connection", observability.NewHTTPHealthChecker("relay_connection", baseURL+"/agents"))

	return &Client{
		AgentID:        agentID,
		BaseURL:        baseURL,
		Observability:  obs,
		TraceManager:   traceManager,
		MetricsManager: metricsManager,
		HealthServer:   healthServer,
		Logger:         obs.Logger,
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
		StreamClient:   &http.Client{},
		state:          StateDisconnected,
	}, nil
}

// Start runs the client's health server and metrics collection.
func (c *Client) Start(ctx context.Context) error {
	go func() {
		c.Logger.Info("starting health server", slog.String("port", c.HealthServer.Port()))
		if err := c.HealthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			c.Logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	go NewMetricsTicker(ctx, c.MetricsManager).Start()

	c.Logger.InfoContext(ctx, "agentwire client started",
		slog.String("relay_url", c.BaseURL),
		slog.String("agent_id", c.AgentID),
	)
	return nil
}

// Shutdown stops listening and tears down observability.
func (c *Client) Shutdown(ctx context.Context) error {
	c.Logger.InfoContext(ctx, "shutting down agentwire client", slog.String("agent_id", c.AgentID))

	c.StopListening()

	if err := c.HealthServer.Shutdown(ctx); err != nil {
		c.Logger.ErrorContext(ctx, "error shutting down health server", slog.Any("error", err))
	}

	if err := c.Observability.Shutdown(ctx); err != nil {
		c.Logger.ErrorContext(ctx, "observability shutdown failed", slog.Any("error", err))
		return err
	}
	return nil
}

// Register announces the agent to the relay. Idempotent; required before
// Send.
func (c *Client) Register(ctx context.Context) error {
	var resp struct {
		Status  string `json:"status"`
		AgentID string `json:"agent_id"`
	}
	if err := c.postJSON(ctx, "/register", map[string]any{"agent_id": c.AgentID}, &resp); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if resp.Status != "registered" {
		return fmt.Errorf("register: unexpected status %q", resp.Status)
	}

	c.mu.Lock()
	c.registered = true
	c.mu.Unlock()

	c.Logger.InfoContext(ctx, "registered with relay", slog.String("agent_id", c.AgentID))
	return nil
}

// Send broadcasts content to every other registered agent. Fails fast with
// ErrNotRegistered before a successful Register.
func (c *Client) Send(ctx context.Context, content map[string]any) error {
	c.mu.Lock()
	registered := c.registered
	c.mu.Unlock()
	if !registered {
		return ErrNotRegistered
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := c.postJSON(ctx, "/send", map[string]any{
		"sender_id": c.AgentID,
		"content":   content,
	}, &resp); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if resp.Status != "sent" {
		return fmt.Errorf("send: unexpected status %q", resp.Status)
	}
	return nil
}

// ListAgents returns the ids of every agent the relay currently knows.
func (c *Client) ListAgents(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/agents", nil)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list agents: unexpected status %d", res.StatusCode)
	}

	var resp struct {
		Agents []string `json:"agents"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return resp.Agents, nil
}

// OnMessage registers a handler for incoming broadcast events.
func (c *Client) OnMessage(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// State reports the current connection state of the listening loop.
func (c *Client) State() ListenState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ListenState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.Logger.Debug("listen state changed",
			slog.String("agent_id", c.AgentID),
			slog.String("from", prev.String()),
			slog.String("to", s.String()),
		)
	}
}

// StartListening starts the background subscription loop. A second call
// while listening is a no-op.
func (c *Client) StartListening(ctx context.Context) {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return
	}
	listenCtx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	c.listenDone = make(chan struct{})
	done := c.listenDone
	c.mu.Unlock()

	go c.listen(listenCtx, done)
}

// StopListening cancels the subscription loop and waits for it to reach the
// closed state. Safe to call when not listening.
func (c *Client) StopListening() {
	c.mu.Lock()
	cancel := c.stop
	done := c.listenDone
	c.stop = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// listen is the reconnect state machine: Connecting → Streaming on a
// successful open, back to Connecting with doubled delay on any failure,
// Closed on cancellation.
func (c *Client) listen(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.setState(StateClosed)

	delay := minReconnectDelay
	for {
		c.setState(StateConnecting)

		body, err := c.openStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.Logger.WarnContext(ctx, "event stream connect failed",
				slog.Any("error", err),
				slog.Duration("retry_in", delay),
			)
			c.MetricsManager.IncrementClientReconnects(ctx, c.AgentID)
			if !waitOrCancelled(ctx, delay) {
				return
			}
			delay = nextReconnectDelay(delay)
			continue
		}

		c.setState(StateStreaming)
		delay = minReconnectDelay

		err = c.consume(ctx, body)
		body.Close()
		if ctx.Err() != nil {
			return
		}

		c.Logger.WarnContext(ctx, "event stream interrupted",
			slog.Any("error", err),
			slog.Duration("retry_in", delay),
		)
		c.MetricsManager.IncrementClientReconnects(ctx, c.AgentID)
		if !waitOrCancelled(ctx, delay) {
			return
		}
		delay = nextReconnectDelay(delay)
	}
}

// openStream opens the SSE subscription. A non-2xx answer is a connect
// failure, not a stream.
func (c *Client) openStream(ctx context.Context) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/events?agent_id=%s", c.BaseURL, url.QueryEscape(c.AgentID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	res, err := c.StreamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("subscribe failed with status %d", res.StatusCode)
	}
	return res.Body, nil
}

// consume reads the stream line by line until it breaks. Returning nil
// means the remote closed the stream cleanly; either way the caller
// reconnects.
func (c *Client) consume(ctx context.Context, body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.handleLine(ctx, scanner.Text())
	}
	return scanner.Err()
}

// handleLine classifies one stream line: keepalives are discarded, data
// frames are decoded and dispatched, anything else is ignored.
func (c *Client) handleLine(ctx context.Context, line string) {
	switch {
	case line == "":
		return
	case strings.HasPrefix(line, ": ping"):
		return
	case strings.HasPrefix(line, "data: "):
		c.dispatch(ctx, strings.TrimSpace(line[len("data: "):]))
	}
}

// dispatch decodes one event payload and hands it to every handler in
// order. A decode failure drops the line and the stream continues.
func (c *Client) dispatch(ctx context.Context, payload string) {
	if payload == "" {
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		c.Logger.ErrorContext(ctx, "invalid JSON in event payload",
			slog.Any("error", err),
			slog.String("payload", payload),
		)
		c.MetricsManager.IncrementClientDecodeErrors(ctx, c.AgentID)
		return
	}

	ctx, span := c.TraceManager.StartConsumeSpan(ctx, c.AgentID, msg.From)
	defer span.End()

	c.mu.Lock()
	handlers := make([]MessageHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, handler := range handlers {
		handler(ctx, &msg)
	}
	c.MetricsManager.IncrementClientEventsHandled(ctx, c.AgentID)
	c.TraceManager.SetSpanSuccess(span)
}

func (c *Client) postJSON(ctx context.Context, path string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.TraceManager.InjectHTTPHeaders(ctx, req.Header)

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusBadRequest {
		return ErrInvalidRequest
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// nextReconnectDelay doubles the delay up to the ceiling.
func nextReconnectDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}

// waitOrCancelled sleeps for d, returning false if ctx is cancelled first.
func waitOrCancelled(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
