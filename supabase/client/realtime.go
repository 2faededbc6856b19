package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const realtimeHeartbeat = 30 * time.Second

// ChangeEvent is a postgres_changes notification.
type ChangeEvent struct {
	Topic     string         `json:"topic"`
	Table     string         `json:"table"`
	Type      string         `json:"type"`
	Record    map[string]any `json:"record,omitempty"`
	OldRecord map[string]any `json:"old_record,omitempty"`
}

// ChangeHandler receives change events. It is called from the read loop and
// must not block.
type ChangeHandler func(ChangeEvent)

type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

// RealtimeClient subscribes to Supabase Realtime postgres_changes over a
// Phoenix channel websocket.
type RealtimeClient struct {
	url string

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string]ChangeHandler
	ref      int
	done     chan struct{}
	closed   chan struct{}
	readErr  error
}

// NewRealtimeClient builds a client for the project at supabaseURL.
func NewRealtimeClient(supabaseURL, apiKey string) *RealtimeClient {
	wsURL := strings.TrimSuffix(supabaseURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}
	wsURL += "/realtime/v1/websocket?apikey=" + url.QueryEscape(apiKey) + "&vsn=1.0.0"

	return &RealtimeClient{url: wsURL, handlers: make(map[string]ChangeHandler)}
}

// Connect dials the websocket and starts the read and heartbeat loops.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})
	r.closed = make(chan struct{})
	r.readErr = nil

	go r.readLoop(conn, r.closed)
	go r.heartbeat(r.done)
	return nil
}

// Done is closed when the connection drops or Close is called.
func (r *RealtimeClient) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.closed
}

// Err returns the error that ended the read loop, if any.
func (r *RealtimeClient) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readErr
}

// Close sends a close frame and tears down the connection.
func (r *RealtimeClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	close(r.done)
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := r.conn.Close()
	r.conn = nil
	r.handlers = make(map[string]ChangeHandler)
	return err
}

// SubscribeTable joins realtime:public:<table> for every change event.
func (r *RealtimeClient) SubscribeTable(table string, handler ChangeHandler) error {
	if table == "" {
		return errors.New("table is required")
	}
	topic := "realtime:public:" + table

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return errors.New("realtime client is not connected")
	}
	r.handlers[topic] = handler

	payload := map[string]any{
		"config": map[string]any{
			"postgres_changes": []map[string]string{
				{"event": "*", "schema": "public", "table": table},
			},
		},
	}
	return r.sendLocked(topic, "phx_join", payload)
}

func (r *RealtimeClient) sendLocked(topic, event string, payload any) error {
	r.ref++
	ref := strconv.Itoa(r.ref)
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg := phxMessage{Topic: topic, Event: event, Payload: raw, Ref: &ref}
	if event == "phx_join" {
		msg.JoinRef = &ref
	}
	if err := r.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

func (r *RealtimeClient) readLoop(conn *websocket.Conn, closed chan struct{}) {
	defer close(closed)
	for {
		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			r.mu.Lock()
			if r.conn == conn {
				r.readErr = err
			}
			r.mu.Unlock()
			return
		}
		if event, ok := decodeChange(msg); ok {
			r.mu.Lock()
			handler := r.handlers[msg.Topic]
			r.mu.Unlock()
			if handler != nil {
				handler(event)
			}
		}
	}
}

// decodeChange accepts both the postgres_changes envelope and the legacy
// per-operation events.
func decodeChange(msg phxMessage) (ChangeEvent, bool) {
	switch msg.Event {
	case "postgres_changes":
		var payload struct {
			Data ChangeEvent `json:"data"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return ChangeEvent{}, false
		}
		payload.Data.Topic = msg.Topic
		return payload.Data, true
	case "INSERT", "UPDATE", "DELETE":
		var payload ChangeEvent
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return ChangeEvent{}, false
		}
		payload.Topic = msg.Topic
		payload.Type = msg.Event
		return payload, true
	}
	return ChangeEvent{}, false
}

func (r *RealtimeClient) heartbeat(done chan struct{}) {
	ticker := time.NewTicker(realtimeHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.conn != nil {
				_ = r.sendLocked("phoenix", "heartbeat", map[string]any{})
			}
			r.mu.Unlock()
		}
	}
}
