package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Channel names. Store- and user-addressed channels append the target id.
const (
	ChannelGlobal    = "notify:global"
	ChannelInventory = "notify:inventory"
	ChannelOrders    = "notify:orders"

	storeChannelPrefix = "notify:store:"
	userChannelPrefix  = "notify:user:"
)

// Type classifies a notification.
type Type string

const (
	TypeInfo    Type = "info"
	TypeWarning Type = "warning"
	TypeError   Type = "error"
	TypeSuccess Type = "success"
)

// Message is the envelope broadcast to subscribers.
type Message struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	StoreID   string         `json:"store_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Timestamp int64          `json:"timestamp"`
}

// Transport delivers a serialized envelope to one channel.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Notifier constructs envelopes and hands them to its transport. All publish
// paths are best-effort: serialization and transport failures are logged and
// the message is dropped, never surfaced to the caller.
type Notifier struct {
	transport Transport
}

// New returns a Notifier using the provided transport.
func New(transport Transport) *Notifier {
	return &Notifier{transport: transport}
}

// Publish sends msg on channel, filling in the id and timestamp when absent.
func (n *Notifier) Publish(ctx context.Context, channel string, msg Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("notify: marshal failed, dropping message", "channel", channel, "error", err)
		return
	}
	if err := n.transport.Publish(ctx, channel, payload); err != nil {
		slog.Warn("notify: publish failed, dropping message", "channel", channel, "error", err)
	}
}

// Global broadcasts to every subscriber.
func (n *Notifier) Global(ctx context.Context, typ Type, title, body string) {
	n.Publish(ctx, ChannelGlobal, Message{Type: typ, Title: title, Body: body})
}

// ToStore addresses a single store's subscribers.
func (n *Notifier) ToStore(ctx context.Context, storeID string, typ Type, title, body string) {
	n.Publish(ctx, storeChannelPrefix+storeID, Message{Type: typ, Title: title, Body: body, StoreID: storeID})
}

// ToUser addresses a single user's subscribers.
func (n *Notifier) ToUser(ctx context.Context, userID string, typ Type, title, body string) {
	n.Publish(ctx, userChannelPrefix+userID, Message{Type: typ, Title: title, Body: body, UserID: userID})
}

// InventoryAlert reports a stock level worth acting on.
func (n *Notifier) InventoryAlert(ctx context.Context, storeID, productID string, quantity int64) {
	n.Publish(ctx, ChannelInventory, Message{
		Type:    TypeWarning,
		Title:   "Low stock",
		Body:    "Product " + productID + " is running low",
		StoreID: storeID,
		Payload: map[string]any{"product_id": productID, "quantity": quantity},
	})
}

// OrderAlert reports an order state change.
func (n *Notifier) OrderAlert(ctx context.Context, storeID, orderID, status string) {
	n.Publish(ctx, ChannelOrders, Message{
		Type:    TypeInfo,
		Title:   "Order " + status,
		Body:    "Order " + orderID + " is now " + status,
		StoreID: storeID,
		Payload: map[string]any{"order_id": orderID, "status": status},
	})
}
