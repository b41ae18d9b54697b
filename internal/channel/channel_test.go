package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quiz-platform/quizlive/internal/quiz"
)

// fakeGateway is a minimal in-test stand-in for the realtime gateway:
// websocket endpoint with the authenticate/authenticated handshake, and
// the long-poll pair backed by a shared seq-stamped event log.
type fakeGateway struct {
	t  *testing.T
	ts *httptest.Server

	wsEnabled atomic.Bool

	mu      sync.Mutex
	seq     uint64
	log     []Envelope
	conns   []*websocket.Conn
	dials   int
	pollHit int
}

func newFakeGateway(t *testing.T) *fakeGateway {
	g := &fakeGateway{t: t}
	g.wsEnabled.Store(true)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/events/send", g.handleSend)
	mux.HandleFunc("/events/poll", g.handlePoll)
	g.ts = httptest.NewServer(mux)
	t.Cleanup(g.close)
	return g
}

func (g *fakeGateway) wsURL() string   { return "ws" + strings.TrimPrefix(g.ts.URL, "http") + "/ws" }
func (g *fakeGateway) pollURL() string { return g.ts.URL }

func (g *fakeGateway) close() {
	g.mu.Lock()
	for _, c := range g.conns {
		c.Close()
	}
	g.conns = nil
	g.mu.Unlock()
	g.ts.Close()
}

// emit appends a lifecycle event to the log and pushes it to live
// websocket clients.
func (g *fakeGateway) emit(topic, payload string) {
	g.mu.Lock()
	g.seq++
	env := Envelope{Seq: g.seq, Event: topic, Data: json.RawMessage(payload)}
	g.log = append(g.log, env)
	conns := append([]*websocket.Conn(nil), g.conns...)
	g.mu.Unlock()
	for _, c := range conns {
		c.WriteJSON(env)
	}
}

func (g *fakeGateway) dialCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dials
}

func (g *fakeGateway) handleWS(w http.ResponseWriter, r *http.Request) {
	if !g.wsEnabled.Load() {
		http.Error(w, "websocket disabled", http.StatusNotFound)
		return
	}
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var env Envelope
	if err := conn.ReadJSON(&env); err != nil || env.Event != "authenticate" {
		conn.Close()
		return
	}
	var auth authenticateData
	json.Unmarshal(env.Data, &auth)
	if auth.Token == "bad-token" {
		data, _ := json.Marshal(errorData{Message: "invalid token"})
		conn.WriteJSON(Envelope{Event: "error", Data: data})
		conn.Close()
		return
	}

	g.mu.Lock()
	g.dials++
	g.conns = append(g.conns, conn)
	cursor := g.seq
	g.mu.Unlock()

	data, _ := json.Marshal(authenticatedData{Role: "MODERATOR", Cursor: cursor})
	conn.WriteJSON(Envelope{Event: "authenticated", Data: data})
}

func (g *fakeGateway) handleSend(w http.ResponseWriter, r *http.Request) {
	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil || env.Event != "authenticate" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	g.mu.Lock()
	cursor := g.seq
	g.mu.Unlock()
	data, _ := json.Marshal(authenticatedData{Role: "MODERATOR", Cursor: cursor})
	json.NewEncoder(w).Encode(Envelope{Event: "authenticated", Data: data})
}

func (g *fakeGateway) handlePoll(w http.ResponseWriter, r *http.Request) {
	cursor, _ := strconv.ParseUint(r.URL.Query().Get("cursor"), 10, 64)

	// Short wait so empty polls return quickly in tests.
	deadline := time.Now().Add(200 * time.Millisecond)
	for {
		g.mu.Lock()
		g.pollHit++
		var batch []Envelope
		for _, env := range g.log {
			if env.Seq > cursor {
				batch = append(batch, env)
			}
		}
		tail := g.seq
		g.mu.Unlock()

		if len(batch) > 0 || time.Now().After(deadline) {
			next := cursor
			if len(batch) > 0 {
				next = batch[len(batch)-1].Seq
			} else if tail > next {
				next = tail
			}
			json.NewEncoder(w).Encode(map[string]any{"cursor": next, "events": batch})
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newTestChannel(g *fakeGateway, opts Options) *Channel {
	if opts.WebSocketURL == "" {
		opts.WebSocketURL = g.wsURL()
	}
	opts.Logger = zerolog.Nop()
	return New(opts)
}

func waitState(t *testing.T, c *Channel, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel never reached %v (stuck at %v)", want, c.State())
}

func recvTopic(t *testing.T, ch <-chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case raw, ok := <-ch:
		if !ok {
			t.Fatal("topic closed")
		}
		return raw
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for topic delivery")
		return nil
	}
}

func TestChannelConnectAndReceive(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestChannel(g, Options{})
	defer c.Close()

	created := c.Topic(quiz.TopicCreated)

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, c, StateAuthenticated)
	if c.Role() != "MODERATOR" {
		t.Errorf("role: %q", c.Role())
	}

	g.emit(quiz.TopicCreated, `{"quizId":"q1","title":"Capitals"}`)
	raw := recvTopic(t, created)
	if !strings.Contains(string(raw), "q1") {
		t.Errorf("unexpected payload: %s", raw)
	}
}

func TestChannelConnectIdempotent(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestChannel(g, Options{})
	defer c.Close()

	ctx := context.Background()
	if err := c.Connect(ctx, "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, c, StateAuthenticated)
	if err := c.Connect(ctx, "tok"); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	// Give a would-be second dial time to happen, then confirm the
	// one-live-transport invariant.
	time.Sleep(100 * time.Millisecond)
	if n := g.dialCount(); n != 1 {
		t.Errorf("expected exactly one live transport, got %d dials", n)
	}
}

func TestChannelDisconnectIdempotent(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestChannel(g, Options{})
	defer c.Close()

	c.Disconnect() // never connected: safe no-op

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, c, StateAuthenticated)

	c.Disconnect()
	c.Disconnect()
	if c.State() != StateDisconnected {
		t.Errorf("state after disconnect: %v", c.State())
	}
}

func TestChannelBoundedRetryBudget(t *testing.T) {
	var states []State
	var mu sync.Mutex

	c := New(Options{
		WebSocketURL: "ws://127.0.0.1:1/ws", // nothing listens here
		MaxAttempts:  3,
		RetryDelay:   10 * time.Millisecond,
		Logger:       zerolog.Nop(),
		OnStateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})
	defer c.Close()

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, c, StateDisconnected)

	if err := c.LastError(); err != ErrRetriesExhausted {
		t.Errorf("expected ErrRetriesExhausted, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || states[len(states)-1] != StateDisconnected {
		t.Errorf("state hook did not end disconnected: %v", states)
	}
}

func TestChannelAuthRejectedStopsRetrying(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestChannel(g, Options{MaxAttempts: 5, RetryDelay: 10 * time.Millisecond})
	defer c.Close()

	if err := c.Connect(context.Background(), "bad-token"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, c, StateDisconnected)
	if err := c.LastError(); err == nil {
		t.Error("expected a surfaced handshake error")
	}
	if n := g.dialCount(); n != 0 {
		t.Errorf("rejected handshake should not count as a live transport, got %d", n)
	}
}

func TestChannelPollingFallback(t *testing.T) {
	g := newFakeGateway(t)
	g.wsEnabled.Store(false)

	c := newTestChannel(g, Options{
		PollURL:    g.pollURL(),
		RetryDelay: 20 * time.Millisecond,
	})
	defer c.Close()

	approved := c.Topic(quiz.TopicApproved)

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, c, StateAuthenticated)

	g.emit(quiz.TopicApproved, `{"quizId":"q7"}`)
	raw := recvTopic(t, approved)
	if !strings.Contains(string(raw), "q7") {
		t.Errorf("unexpected payload: %s", raw)
	}
}

func TestChannelUpgradeNoDuplicatesNoLoss(t *testing.T) {
	g := newFakeGateway(t)
	g.wsEnabled.Store(false)

	c := newTestChannel(g, Options{
		PollURL:    g.pollURL(),
		RetryDelay: 20 * time.Millisecond, // upgrade probes every 100ms
	})
	defer c.Close()

	created := c.Topic(quiz.TopicCreated)

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, c, StateAuthenticated)

	// Emit a steady stream while the transport upgrades underneath.
	const total = 30
	go func() {
		for i := 0; i < total; i++ {
			g.emit(quiz.TopicCreated, fmt.Sprintf(`{"quizId":"q%d"}`, i))
			time.Sleep(15 * time.Millisecond)
			if i == 5 {
				g.wsEnabled.Store(true)
			}
		}
	}()

	seen := make(map[string]int)
	for i := 0; i < total; i++ {
		raw := recvTopic(t, created)
		var p struct {
			QuizID string `json:"quizId"`
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			t.Fatalf("payload: %v", err)
		}
		seen[p.QuizID]++
	}

	for i := 0; i < total; i++ {
		id := fmt.Sprintf("q%d", i)
		if seen[id] != 1 {
			t.Errorf("event %s delivered %d times", id, seen[id])
		}
	}
	if g.dialCount() == 0 {
		t.Error("upgrade to websocket never happened")
	}
}

func TestChannelReconnectAfterDrop(t *testing.T) {
	g := newFakeGateway(t)
	c := newTestChannel(g, Options{MaxAttempts: 5, RetryDelay: 20 * time.Millisecond})
	defer c.Close()

	rejected := c.Topic(quiz.TopicRejected)

	if err := c.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitState(t, c, StateAuthenticated)

	// Kill the live connection; the channel must come back by itself.
	g.mu.Lock()
	for _, conn := range g.conns {
		conn.Close()
	}
	g.conns = nil
	g.mu.Unlock()

	deadline := time.Now().Add(5 * time.Second)
	for g.dialCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if g.dialCount() < 2 {
		t.Fatal("channel never reconnected")
	}
	waitState(t, c, StateAuthenticated)

	g.emit(quiz.TopicRejected, `{"quizId":"q9"}`)
	raw := recvTopic(t, rejected)
	if !strings.Contains(string(raw), "q9") {
		t.Errorf("unexpected payload: %s", raw)
	}
}
