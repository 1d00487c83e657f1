package notify

import (
	"context"

	nats "github.com/nats-io/nats.go"
)

// NATSTransport implements Transport over a NATS connection.
type NATSTransport struct {
	conn *nats.Conn
}

// NewNATSTransport returns a Transport using the provided connection.
func NewNATSTransport(conn *nats.Conn) *NATSTransport {
	return &NATSTransport{conn: conn}
}

// Publish implements Transport.Publish. NATS subjects cannot contain the
// colon used in channel names, so channels are mapped to dotted subjects.
func (t *NATSTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.conn.Publish(subject(channel), payload)
}

func subject(channel string) string {
	b := []byte(channel)
	for i, c := range b {
		if c == ':' {
			b[i] = '.'
		}
	}
	return string(b)
}
