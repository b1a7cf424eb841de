// Package bus carries score and identity change events off the
// tick-critical path. It embeds a NATS server and connects to it
// in-process, so publishing from the tick driver is a non-blocking enqueue
// and consumers (leaderboard, persistence) run fully decoupled.
package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Bus wraps an embedded NATS server and one in-process connection.
type Bus struct {
	srv  *server.Server
	conn *nats.Conn
}

// New starts an embedded NATS server and connects to it in-process. The
// server accepts no network listeners; all traffic stays inside the
// process.
func New() (*Bus, error) {
	srv, err := server.NewServer(&server.Options{
		ServerName: "arena-bus",
		DontListen: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded bus server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded bus server did not become ready")
	}

	conn, err := nats.Connect("", nats.InProcessServer(srv))
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connecting to embedded bus: %w", err)
	}
	return &Bus{srv: srv, conn: conn}, nil
}

// Publish marshals an event and publishes it on a subject. Errors are
// logged, never propagated: a lost event degrades bookkeeping, not the
// tick loop.
func (b *Bus) Publish(subject string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling %s event: %v", subject, err)
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		log.Printf("Error publishing %s event: %v", subject, err)
	}
}

// Subscribe registers a typed handler for a subject. Decode failures are
// logged and the event dropped.
func Subscribe[T any](b *Bus, subject string, handler func(T)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event T
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("Error decoding %s event: %v", subject, err)
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return sub, nil
}

// Flush waits for all published events to be processed by the server.
func (b *Bus) Flush() error {
	return b.conn.Flush()
}

// Close drains the connection and shuts the embedded server down.
func (b *Bus) Close() {
	if b.conn != nil {
		_ = b.conn.Drain()
		b.conn.Close()
	}
	if b.srv != nil {
		b.srv.Shutdown()
		b.srv.WaitForShutdown()
	}
}
