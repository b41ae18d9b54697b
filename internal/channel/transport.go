package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// transport is one live duplex connection to the gateway. recv blocks
// for the next inbound envelope; send writes one outbound envelope.
type transport interface {
	recv() (Envelope, error)
	send(env Envelope) error
	close() error
	name() string
}

// --- websocket (preferred) ---

type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func dialWebSocket(ctx context.Context, url string) (*wsTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) recv() (Envelope, error) {
	var env Envelope
	if err := t.conn.ReadJSON(&env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (t *wsTransport) send(env Envelope) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return t.conn.WriteJSON(env)
}

func (t *wsTransport) close() error { return t.conn.Close() }

func (t *wsTransport) name() string { return "websocket" }

// --- HTTP long-poll (fallback) ---

// errPollStopped reports that the poller was stopped for a transport
// upgrade; the remaining queue has been handed out through recv.
var errPollStopped = errors.New("poll transport stopped")

type pollTransport struct {
	baseURL string
	token   string
	client  *http.Client

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cursor  uint64
	queue   []Envelope
	stopped bool
}

func newPollTransport(baseURL, token string) *pollTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &pollTransport{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// recv pops queued envelopes, long-polling the gateway when the queue
// is empty. After stop, the queue drains and then errPollStopped.
func (t *pollTransport) recv() (Envelope, error) {
	for {
		t.mu.Lock()
		if len(t.queue) > 0 {
			env := t.queue[0]
			t.queue = t.queue[1:]
			t.mu.Unlock()
			return env, nil
		}
		stopped := t.stopped
		cursor := t.cursor
		t.mu.Unlock()

		if stopped {
			return Envelope{}, errPollStopped
		}

		batch, next, err := t.poll(t.ctx, cursor)
		if err != nil {
			t.mu.Lock()
			stopped = t.stopped
			t.mu.Unlock()
			if stopped {
				return Envelope{}, errPollStopped
			}
			return Envelope{}, err
		}

		t.mu.Lock()
		t.cursor = next
		t.queue = append(t.queue, batch...)
		t.mu.Unlock()
	}
}

// send POSTs a control envelope. A reply envelope in the response body
// (the authenticated ack) is queued for the next recv.
func (t *pollTransport) send(env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(t.ctx, http.MethodPost, t.baseURL+"/events/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	t.auth(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("POST /events/send: %d %s", resp.StatusCode, string(msg))
	}

	var reply Envelope
	if err := json.NewDecoder(resp.Body).Decode(&reply); err == nil && reply.Event != "" {
		t.mu.Lock()
		if reply.Event == eventAuthenticated {
			// The ack carries the gateway's current position so a
			// fresh connection starts "from now" instead of replaying.
			var data authenticatedData
			if json.Unmarshal(reply.Data, &data) == nil && data.Cursor > t.cursor {
				t.cursor = data.Cursor
			}
		}
		t.queue = append(t.queue, reply)
		t.mu.Unlock()
	}
	return nil
}

// stop cancels the in-flight poll so a transport upgrade can settle.
// recv keeps returning queued envelopes, then errPollStopped.
func (t *pollTransport) stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.cancel()
}

// drain performs one final short poll after stop, picking up anything
// published between the last completed poll and the upgrade.
func (t *pollTransport) drain(ctx context.Context) ([]Envelope, error) {
	t.mu.Lock()
	cursor := t.cursor
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	batch, next, err := t.poll(ctx, cursor)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.cursor = next
	t.mu.Unlock()
	return batch, nil
}

func (t *pollTransport) poll(ctx context.Context, cursor uint64) ([]Envelope, uint64, error) {
	url := fmt.Sprintf("%s/events/poll?cursor=%d", t.baseURL, cursor)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	t.auth(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return nil, 0, fmt.Errorf("GET /events/poll: %d %s", resp.StatusCode, string(msg))
	}

	var out struct {
		Cursor uint64     `json:"cursor"`
		Events []Envelope `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, 0, err
	}
	return out.Events, out.Cursor, nil
}

func (t *pollTransport) auth(req *http.Request) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
}

func (t *pollTransport) close() error {
	t.cancel()
	return nil
}

func (t *pollTransport) name() string { return "polling" }
