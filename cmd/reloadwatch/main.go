// Command reloadwatch prints the reload events of a running hexcaster
// started with -listen.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/Stemt/hexcaster/internal/events"
	"github.com/Stemt/hexcaster/internal/supervisor"
)

const (
	reconnectBaseDelay = 250 * time.Millisecond
	reconnectMaxDelay  = 10 * time.Second
)

func main() {
	url := flag.String("url", "ws://127.0.0.1:7878/ws", "Event feed URL")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	watch(ctx, *url, os.Stdout)
}

// watch prints events from url until ctx is done, reconnecting with capped
// exponential backoff.
func watch(ctx context.Context, url string, out io.Writer) {
	delay := reconnectBaseDelay
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("ws dial error: %v (retry in %v)", err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}
		delay = reconnectBaseDelay

		stop := context.AfterFunc(ctx, func() { conn.Close() })
		err = readLoop(conn, out)
		stop()
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.Printf("ws disconnected: %v", err)
	}
}

type rawMessage struct {
	Type    events.MessageType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

func readLoop(conn *websocket.Conn, out io.Writer) error {
	for {
		var msg rawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Type {
		case events.MsgSnapshot:
			var p events.SnapshotPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				log.Printf("bad snapshot: %v", err)
				continue
			}
			if p.Last != nil {
				fmt.Fprintln(out, formatEvent(*p.Last))
			}
		case events.MsgEvent:
			var p events.EventPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				log.Printf("bad event: %v", err)
				continue
			}
			fmt.Fprintln(out, formatEvent(p.Event))
		}
	}
}

var (
	styleTime  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleKind  = lipgloss.NewStyle().Width(15)
	styleState = lipgloss.NewStyle().Width(11)
	styleErr   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))

	kindColors = map[supervisor.EventKind]lipgloss.Color{
		supervisor.EventBuilt:         lipgloss.Color("6"),
		supervisor.EventBuildFailed:   lipgloss.Color("3"),
		supervisor.EventLoaded:        lipgloss.Color("2"),
		supervisor.EventReloadStarted: lipgloss.Color("4"),
		supervisor.EventReloaded:      lipgloss.Color("10"),
		supervisor.EventLoadFailed:    lipgloss.Color("9"),
		supervisor.EventTerminated:    lipgloss.Color("5"),
	}
)

func formatEvent(ev supervisor.Event) string {
	kind := styleKind
	if c, ok := kindColors[ev.Kind]; ok {
		kind = kind.Foreground(c)
	}
	line := fmt.Sprintf("%s %s%s%s (loads %d, unloads %d)",
		styleTime.Render(ev.Time.Format("15:04:05.000")),
		kind.Render(string(ev.Kind)),
		styleState.Render(ev.State.String()),
		ev.Artifact, ev.Loads, ev.Unloads)
	if ev.Err != "" {
		line += styleErr.Render(": " + ev.Err)
	}
	return line
}
