package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// NOTE: The hub tests construct Clients with a nil websocket.Conn and never
// take a path that writes to it. removeClient guards against nil.

func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(slog.Default(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     slog.Default(),
	}
}

func registered(hub *Hub, c *Client) func() bool {
	return func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)

	hub.register <- c1
	waitUntil(t, 500*time.Millisecond, registered(hub, c1), "client1 not registered in time")
	hub.register <- c2
	waitUntil(t, 500*time.Millisecond, registered(hub, c2), "client2 not registered in time")

	if hub.ClientCount() != 2 {
		t.Fatalf("expected 2 clients, got %d", hub.ClientCount())
	}

	msg := []byte(`{"type":"card_inserted","data":{"uid":"C1:98:CC:E4"}}`)

	// BroadcastBytes may drop when the queue is momentarily full; feed the
	// hub loop directly for a deterministic test.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}

	// Shutdown closes every client's send channel.
	for _, c := range []*Client{c1, c2} {
		if _, ok := <-c.send; ok {
			t.Fatalf("%s send channel still open after hub stop", c.remoteAddr)
		}
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 1, 8)
	go hub.Run(ctx)

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)

	hub.register <- slow
	waitUntil(t, 500*time.Millisecond, registered(hub, slow), "slow client not registered in time")
	hub.register <- fast
	waitUntil(t, 500*time.Millisecond, registered(hub, fast), "fast client not registered in time")

	// Pre-fill the slow client's buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"playback_changed","data":{"playing":false}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", got, msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// Drain the pre-filled message, then expect the channel to be closed.
	select {
	case <-slow.send:
	default:
	}
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	if hub.sendTo(slow, []byte("late")) {
		t.Fatalf("sendTo must refuse a removed client")
	}
}

func TestRunBroadcaster_CoalescesVolumeAndKeepsOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 16, 16)
	c := newTestClient(hub, "c", 16)
	hub.addClient(c)
	go hub.Run(ctx)

	src := make(chan StateBroadcast, 16)
	go RunBroadcaster(ctx, hub, src, slog.Default())

	now := time.Now()
	src <- BroadcastVolumeChanged{Volume: 10, At: now}
	src <- BroadcastVolumeChanged{Volume: 11, At: now}
	src <- BroadcastVolumeChanged{Volume: 12, At: now}
	src <- BroadcastCardInserted{UID: string(cardA), Track: 6, SessionID: "s1", At: now}

	read := func() envelope {
		t.Helper()
		select {
		case msg := <-c.send:
			var env struct {
				Type string          `json:"type"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(msg, &env); err != nil {
				t.Fatalf("bad frame %q: %v", msg, err)
			}
			var data map[string]any
			_ = json.Unmarshal(env.Data, &data)
			return envelope{Type: env.Type, Data: data}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for frame")
		}
		return envelope{}
	}

	// The pending volume is flushed ahead of the card event.
	vol := read()
	if vol.Type != "volume_changed" || vol.Data.(map[string]any)["volume"] != float64(12) {
		t.Fatalf("expected coalesced volume 12, got %+v", vol)
	}
	ins := read()
	if ins.Type != "card_inserted" {
		t.Fatalf("expected card_inserted, got %+v", ins)
	}
	data := ins.Data.(map[string]any)
	if data["uid"] != string(cardA) || data["track"] != float64(6) || data["mapped"] != true || data["session_id"] != "s1" {
		t.Fatalf("unexpected card_inserted payload %+v", data)
	}

	select {
	case extra := <-c.send:
		t.Fatalf("unexpected extra frame %s", extra)
	case <-time.After(2 * wsVolumeCoalesceWindow):
	}
}

func TestStateWS_SendsStateInitThenBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan Event, 4)
	// Stand-in for the daemon loop: answer snapshot requests.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if req, ok := ev.(RequestStateSnapshot); ok {
					req.Reply <- StateSnapshot{ActiveUID: string(cardA), Track: 6, Playing: true, Volume: 9, VolumeKnown: true}
				}
			}
		}
	}()

	srv := NewServer(slog.Default(), events, ServerConfig{})
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(newHTTPMux(events, srv, slog.Default()))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var init struct {
		Type string        `json:"type"`
		Data StateSnapshot `json:"data"`
	}
	if err := conn.ReadJSON(&init); err != nil {
		t.Fatalf("read state_init: %v", err)
	}
	if init.Type != "state_init" || init.Data.ActiveUID != string(cardA) || !init.Data.Playing || init.Data.Volume != 9 {
		t.Fatalf("unexpected state_init %+v", init)
	}

	waitUntil(t, time.Second, func() bool { return srv.Hub().ClientCount() == 1 }, "client not registered")

	msg, err := marshalEnvelope(wsOutboundEvent{Type: "card_removed", Data: wsCardRemovedData{UID: string(cardA)}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	srv.Hub().BroadcastBytes(msg)

	var next struct {
		Type string            `json:"type"`
		Data wsCardRemovedData `json:"data"`
	}
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if next.Type != "card_removed" || next.Data.UID != string(cardA) {
		t.Fatalf("unexpected broadcast %+v", next)
	}
}

func TestConvertBroadcast(t *testing.T) {
	ev, ok := convertBroadcast(BroadcastCardInserted{UID: string(cardB), Track: NoTrack})
	if !ok || ev.Type != "card_inserted" {
		t.Fatalf("unexpected conversion %+v", ev)
	}
	if ev.Data.(wsCardInsertedData).Mapped {
		t.Fatalf("unmapped card must report mapped=false")
	}

	for b, want := range map[StateBroadcast]string{
		BroadcastCardRemoved{}:     "card_removed",
		BroadcastPlaybackChanged{}: "playback_changed",
		BroadcastVolumeChanged{}:   "volume_changed",
		BroadcastPlayerStatus{}:    "player_status",
	} {
		ev, ok := convertBroadcast(b)
		if !ok || ev.Type != want {
			t.Errorf("convertBroadcast(%T) = %q, %v; want %q", b, ev.Type, ok, want)
		}
	}

	if _, ok := convertBroadcast(nil); ok {
		t.Fatalf("nil broadcast must not convert")
	}
}
