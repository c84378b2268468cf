package agentwire

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agentwire/agentwire/internal/config"
	"github.com/agentwire/agentwire/internal/observability"
)

func newTestRelay(t *testing.T) *RelayServer {
	t.Helper()
	logger := newTestLogger()
	mm := newTestMetrics(t)
	tm := observability.NewTraceManager("test")
	registry := NewRegistry(logger)

	s := &RelayServer{
		Registry:       registry,
		Broadcaster:    NewBroadcaster(registry, tm, mm, logger),
		Streams:        NewStreamManager(registry, tm, mm, logger),
		Reaper:         NewReaper(registry, mm, logger),
		TraceManager:   tm,
		MetricsManager: mm,
		Logger:         logger,
		Config:         &config.AppConfig{},
	}
	return s
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return res
}

func TestHandleRegister(t *testing.T) {
	relay := newTestRelay(t)
	ts := httptest.NewServer(relay.Handler())
	defer ts.Close()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "valid registration",
			body:       `{"agent_id": "alice"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing agent_id",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid JSON",
			body:       `{not json`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := postJSON(t, ts.URL+"/register", tt.body)
			defer res.Body.Close()
			if res.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, res.StatusCode)
			}
		})
	}
}

func TestHandleRegister_ResponseBody(t *testing.T) {
	relay := newTestRelay(t)
	ts := httptest.NewServer(relay.Handler())
	defer ts.Close()

	res := postJSON(t, ts.URL+"/register", `{"agent_id": "alice"}`)
	defer res.Body.Close()

	var body struct {
		Status  string `json:"status"`
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("Expected JSON response, got error %v", err)
	}
	if body.Status != "registered" || body.AgentID != "alice" {
		t.Errorf("Expected registered/alice, got %q/%q", body.Status, body.AgentID)
	}
	if got := relay.Registry.Len(); got != 1 {
		t.Errorf("Expected 1 registered agent, got %d", got)
	}
}

func TestHandleSend(t *testing.T) {
	relay := newTestRelay(t)
	ts := httptest.NewServer(relay.Handler())
	defer ts.Close()

	relay.Registry.Ensure("alice")
	relay.Registry.Ensure("bob")

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "valid send",
			body:       `{"sender_id": "alice", "content": {"message": "hello"}}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing sender_id",
			body:       `{"content": {"message": "hello"}}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing content",
			body:       `{"sender_id": "alice"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid JSON",
			body:       `]`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := postJSON(t, ts.URL+"/send", tt.body)
			defer res.Body.Close()
			if res.StatusCode != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, res.StatusCode)
			}
		})
	}

	if got := relay.Registry.QueueDepth("bob"); got != 1 {
		t.Errorf("Expected 1 message queued for bob, got %d", got)
	}
	if got := relay.Registry.QueueDepth("alice"); got != 0 {
		t.Errorf("Expected nothing queued for the sender, got %d", got)
	}
}

func TestHandleAgents(t *testing.T) {
	relay := newTestRelay(t)
	ts := httptest.NewServer(relay.Handler())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/agents")
	if err != nil {
		t.Fatalf("GET /agents failed: %v", err)
	}
	var body struct {
		Agents []string `json:"agents"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("Expected JSON response, got error %v", err)
	}
	res.Body.Close()
	if body.Agents == nil || len(body.Agents) != 0 {
		t.Errorf("Expected an empty list, got %v", body.Agents)
	}

	relay.Registry.Ensure("alice")
	relay.Registry.Ensure("bob")

	res, err = http.Get(ts.URL + "/agents")
	if err != nil {
		t.Fatalf("GET /agents failed: %v", err)
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("Expected JSON response, got error %v", err)
	}
	res.Body.Close()
	if len(body.Agents) != 2 {
		t.Errorf("Expected 2 agents, got %v", body.Agents)
	}
}

func TestHandleAgents_SweepsIdleAgents(t *testing.T) {
	relay := newTestRelay(t)
	ts := httptest.NewServer(relay.Handler())
	defer ts.Close()

	relay.Registry.Ensure("fresh")
	relay.Registry.Ensure("stale")
	setLastSeen(relay.Registry, "stale", time.Now().Add(-10*time.Minute))

	res, err := http.Get(ts.URL + "/agents")
	if err != nil {
		t.Fatalf("GET /agents failed: %v", err)
	}
	defer res.Body.Close()

	var body struct {
		Agents []string `json:"agents"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("Expected JSON response, got error %v", err)
	}
	if len(body.Agents) != 1 || body.Agents[0] != "fresh" {
		t.Errorf("Expected the listing to drop idle agents, got %v", body.Agents)
	}
}

func TestHandleEvents_MissingAgentID(t *testing.T) {
	relay := newTestRelay(t)
	ts := httptest.NewServer(relay.Handler())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/events")
	if err != nil {
		t.Fatalf("GET /events failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, res.StatusCode)
	}
}

// readDataFrame scans an SSE stream until its next data frame and decodes it.
func readDataFrame(t *testing.T, scanner *bufio.Scanner) *Message {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line[len("data: "):]), &msg); err != nil {
			t.Fatalf("Expected valid JSON in data frame, got error %v from %q", err, line)
		}
		return &msg
	}
	t.Fatalf("Stream ended without a data frame: %v", scanner.Err())
	return nil
}

// TestOfflineMessageReplayedOnSubscribe covers the relay's core promise: a
// message sent while the recipient is offline is queued and becomes the
// first frame of its next subscription.
func TestOfflineMessageReplayedOnSubscribe(t *testing.T) {
	relay := newTestRelay(t)
	ts := httptest.NewServer(relay.Handler())
	defer ts.Close()

	postJSON(t, ts.URL+"/register", `{"agent_id": "1001"}`).Body.Close()
	postJSON(t, ts.URL+"/register", `{"agent_id": "1002"}`).Body.Close()
	postJSON(t, ts.URL+"/send", `{"sender_id": "1001", "content": {"message": "hello 1002"}}`).Body.Close()

	res, err := http.Get(ts.URL + "/events?agent_id=1002")
	if err != nil {
		t.Fatalf("GET /events failed: %v", err)
	}
	defer res.Body.Close()

	if got := res.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Expected Content-Type text/event-stream, got %q", got)
	}

	msg := readDataFrame(t, bufio.NewScanner(res.Body))
	if msg.Type != MessageTypeBroadcast {
		t.Errorf("Expected type %q, got %q", MessageTypeBroadcast, msg.Type)
	}
	if msg.From != "1001" {
		t.Errorf("Expected message from 1001, got %q", msg.From)
	}
	if msg.Text() != "hello 1002" {
		t.Errorf("Expected text %q, got %q", "hello 1002", msg.Text())
	}
}

func TestLiveStreamReceivesBroadcast(t *testing.T) {
	relay := newTestRelay(t)
	ts := httptest.NewServer(relay.Handler())
	defer ts.Close()

	postJSON(t, ts.URL+"/register", `{"agent_id": "bob"}`).Body.Close()

	res, err := http.Get(ts.URL + "/events?agent_id=bob")
	if err != nil {
		t.Fatalf("GET /events failed: %v", err)
	}
	defer res.Body.Close()

	// Wait for the stream to attach before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for relay.liveConnections("bob") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Stream never attached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	postJSON(t, ts.URL+"/send", `{"sender_id": "alice", "content": {"message": "live hello"}}`).Body.Close()

	got := make(chan *Message, 1)
	go func() {
		scanner := bufio.NewScanner(res.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var msg Message
			if err := json.Unmarshal([]byte(line[len("data: "):]), &msg); err == nil {
				got <- &msg
			}
			return
		}
		got <- nil
	}()

	select {
	case msg := <-got:
		if msg == nil {
			t.Fatal("Stream ended without a valid data frame")
		}
		if msg.From != "alice" || msg.Text() != "live hello" {
			t.Errorf("Expected live frame from alice, got from=%q text=%q", msg.From, msg.Text())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a live data frame, got none")
	}
}

func TestStreamEmitsKeepalives(t *testing.T) {
	relay := newTestRelay(t)
	relay.Streams.Keepalive = 50 * time.Millisecond
	ts := httptest.NewServer(relay.Handler())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/events?agent_id=bob")
	if err != nil {
		t.Fatalf("GET /events failed: %v", err)
	}
	defer res.Body.Close()

	scanner := bufio.NewScanner(res.Body)
	found := make(chan bool, 1)
	go func() {
		for scanner.Scan() {
			if strings.HasPrefix(scanner.Text(), ": ping") {
				found <- true
				return
			}
		}
		found <- false
	}()

	select {
	case ok := <-found:
		if !ok {
			t.Fatalf("Stream ended without a keepalive: %v", scanner.Err())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected a keepalive frame, got none")
	}
}

// liveConnections reports the number of attached streams for id.
func (s *RelayServer) liveConnections(id string) int {
	s.Registry.mu.RLock()
	rec, ok := s.Registry.agents[id]
	s.Registry.mu.RUnlock()
	if !ok {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.conns)
}
