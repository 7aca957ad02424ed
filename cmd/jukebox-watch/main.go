package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"rfidjukebox/internal/discovery"
)

// jukebox-watch prints the daemon's state websocket stream. Without -ws it
// looks the daemon up over mDNS.

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	var (
		wsURL   = flag.String("ws", "", "State websocket URL (e.g. ws://jukebox.local:3001/ws); empty = discover via mDNS")
		service = flag.String("service", "_rfidjukebox._tcp", "mDNS service to browse")
		browse  = flag.Duration("browse-timeout", 3*time.Second, "mDNS browse timeout")
		raw     = flag.Bool("raw", false, "Print raw JSON frames")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	target := *wsURL
	if target == "" {
		found, err := discovery.Browse(ctx, *service, *browse)
		if err != nil {
			log.Printf("mDNS browse: %v", err)
		}
		if len(found) == 0 {
			log.Fatalf("no %s service found; pass -ws", *service)
		}
		if len(found) > 1 {
			for _, s := range found {
				log.Printf("found %s at %s", s.Name, s.WebsocketURL())
			}
			log.Printf("using the first one")
		}
		target = found[0].WebsocketURL()
	}

	u, err := url.Parse(target)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			if *raw {
				fmt.Printf("%s\n", message)
				continue
			}
			fmt.Println(formatMessage(message))
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatMessage renders one state frame as a single human-readable line.
func formatMessage(message []byte) string {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		return fmt.Sprintf("[TEXT] %s", message)
	}

	ts := ""
	if env.Ts != nil {
		ts = env.Ts.Local().Format("15:04:05.000") + " "
	}

	var data map[string]any
	_ = json.Unmarshal(env.Data, &data)

	switch env.Type {
	case "state_init":
		pretty, _ := json.MarshalIndent(data, "", "  ")
		return fmt.Sprintf("%s[STATE]\n%s", ts, pretty)
	case "card_inserted":
		label := ""
		if l, ok := data["label"].(string); ok && l != "" {
			label = fmt.Sprintf(" (%s)", l)
		}
		if mapped, _ := data["mapped"].(bool); !mapped {
			return fmt.Sprintf("%s[CARD] %v%s inserted, not in table", ts, data["uid"], label)
		}
		return fmt.Sprintf("%s[CARD] %v%s inserted -> track %v", ts, data["uid"], label, data["track"])
	case "card_removed":
		return fmt.Sprintf("%s[CARD] %v removed", ts, data["uid"])
	case "playback_changed":
		if playing, _ := data["playing"].(bool); playing {
			return fmt.Sprintf("%s[PLAY] track %v", ts, data["track"])
		}
		return fmt.Sprintf("%s[PAUSE]", ts)
	case "volume_changed":
		return fmt.Sprintf("%s[VOLUME] %v", ts, data["volume"])
	case "player_status":
		return fmt.Sprintf("%s[PLAYER] %v ready=%v", ts, data["backend"], data["ready"])
	default:
		return fmt.Sprintf("%s[%s] %s", ts, env.Type, env.Data)
	}
}
