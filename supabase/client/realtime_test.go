package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRealtimeClient_URL(t *testing.T) {
	r := NewRealtimeClient("https://abc.supabase.co/", "key")
	assert.Equal(t, "wss://abc.supabase.co/realtime/v1/websocket?apikey=key&vsn=1.0.0", r.url)
}

func TestRealtimeClient_SubscribeTable(t *testing.T) {
	upgrader := websocket.Upgrader{}
	joined := make(chan phxMessage, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("apikey"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var join phxMessage
		require.NoError(t, conn.ReadJSON(&join))
		joined <- join

		change := map[string]any{
			"topic": join.Topic,
			"event": "postgres_changes",
			"payload": map[string]any{
				"data": map[string]any{
					"table":  "whatsapp_shares",
					"type":   "INSERT",
					"record": map[string]any{"status": "pending"},
				},
			},
			"ref": nil,
		}
		require.NoError(t, conn.WriteJSON(change))

		// Hold the connection until the client closes it.
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	client := NewRealtimeClient(server.URL, "key")
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	events := make(chan ChangeEvent, 1)
	require.NoError(t, client.SubscribeTable("whatsapp_shares", func(e ChangeEvent) { events <- e }))

	select {
	case join := <-joined:
		assert.Equal(t, "phx_join", join.Event)
		assert.Equal(t, "realtime:public:whatsapp_shares", join.Topic)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(join.Payload, &payload))
		assert.Contains(t, payload, "config")
	case <-time.After(2 * time.Second):
		t.Fatal("server never received join")
	}

	select {
	case e := <-events:
		assert.Equal(t, "INSERT", e.Type)
		assert.Equal(t, "whatsapp_shares", e.Table)
		assert.Equal(t, "pending", e.Record["status"])
	case <-time.After(2 * time.Second):
		t.Fatal("handler never received change")
	}
}

func TestRealtimeClient_SubscribeRequiresConnection(t *testing.T) {
	client := NewRealtimeClient("http://localhost", "key")
	assert.Error(t, client.SubscribeTable("sessions", func(ChangeEvent) {}))
}

func TestDecodeChange_Legacy(t *testing.T) {
	msg := phxMessage{Topic: "realtime:public:sessions", Event: "UPDATE", Payload: json.RawMessage(`{"table":"sessions","record":{"id":"s1"}}`)}
	e, ok := decodeChange(msg)
	require.True(t, ok)
	assert.Equal(t, "UPDATE", e.Type)
	assert.Equal(t, "s1", e.Record["id"])

	_, ok = decodeChange(phxMessage{Event: "phx_reply"})
	assert.False(t, ok)
}
