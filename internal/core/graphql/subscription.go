package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neilberkman/chatsync/internal/core/apperr"
	"github.com/neilberkman/chatsync/internal/core/models"
)

// graphql-transport-ws message types
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

const (
	subprotocol       = "graphql-transport-ws"
	subscriptionID    = "1"
	ackTimeout        = 10 * time.Second
	maxReconnectDelay = 30 * time.Second
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsConn serializes writes; gorilla connections allow one writer at a time
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) send(msg wsMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(msg)
}

func (w *wsConn) sendPayload(id, typ string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.send(wsMessage{ID: id, Type: typ, Payload: raw})
}

// SubscribeMessages streams transcript snapshots for conversationID. The
// first connection is made before returning; later drops reconnect with
// backoff until ctx ends. The channel closes when ctx ends or the server
// completes or rejects the subscription.
func (c *Client) SubscribeMessages(ctx context.Context, conversationID string) (<-chan []models.Message, error) {
	ws, err := c.open(ctx, conversationID)
	if err != nil {
		return nil, apperr.Remote("graphql.subscribe_messages", err)
	}
	out := make(chan []models.Message)
	go c.stream(ctx, ws, conversationID, out)
	return out, nil
}

// open dials, completes the connection_init handshake and subscribes
func (c *Client) open(ctx context.Context, conversationID string) (*wsConn, error) {
	initPayload := map[string]interface{}{}
	if c.tokens != nil {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		initPayload["headers"] = map[string]string{"Authorization": "Bearer " + token}
	}

	dialer := websocket.DefaultDialer
	if c.dialer != nil {
		dialer = c.dialer
	}
	d := *dialer
	d.Subprotocols = []string{subprotocol}
	conn, _, err := d.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.wsURL, err)
	}
	ws := &wsConn{conn: conn}

	if err := ws.sendPayload("", msgConnectionInit, initPayload); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connection_init: %w", err)
	}
	if err := awaitAck(ws); err != nil {
		conn.Close()
		return nil, err
	}

	sub := request{
		Query:         subscribeToMessagesSubscription,
		OperationName: "SubscribeToMessages",
		Variables:     map[string]interface{}{"chatId": conversationID},
	}
	if err := ws.sendPayload(subscriptionID, msgSubscribe, sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return ws, nil
}

func awaitAck(ws *wsConn) error {
	_ = ws.conn.SetReadDeadline(time.Now().Add(ackTimeout))
	defer ws.conn.SetReadDeadline(time.Time{})
	for {
		var msg wsMessage
		if err := ws.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("await connection_ack: %w", err)
		}
		switch msg.Type {
		case msgConnectionAck:
			return nil
		case msgPing:
			if err := ws.send(wsMessage{Type: msgPong}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unexpected %q before connection_ack", msg.Type)
		}
	}
}

func (c *Client) stream(ctx context.Context, ws *wsConn, conversationID string, out chan<- []models.Message) {
	defer close(out)
	delay := c.retry
	for {
		terminal := c.pump(ctx, ws, conversationID, out)
		if terminal || ctx.Err() != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			next, err := c.open(ctx, conversationID)
			if err == nil {
				ws = next
				delay = c.retry
				break
			}
			if ctx.Err() != nil {
				return
			}
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
		}
	}
}

// pump forwards snapshots until the connection drops. It reports whether
// the subscription ended for good.
func (c *Client) pump(ctx context.Context, ws *wsConn, conversationID string, out chan<- []models.Message) bool {
	stop := make(chan struct{})
	defer close(stop)
	defer ws.conn.Close()
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.send(wsMessage{ID: subscriptionID, Type: msgComplete})
			ws.conn.Close()
		case <-stop:
		}
	}()

	for {
		var msg wsMessage
		if err := ws.conn.ReadJSON(&msg); err != nil {
			return false
		}
		switch msg.Type {
		case msgPing:
			if err := ws.send(wsMessage{Type: msgPong}); err != nil {
				return false
			}
		case msgNext:
			if msg.ID != subscriptionID {
				continue
			}
			snapshot, err := decodeSnapshot(msg.Payload, conversationID)
			if err != nil {
				continue
			}
			select {
			case out <- snapshot:
			case <-ctx.Done():
				return true
			}
		case msgError, msgComplete:
			if msg.ID == subscriptionID {
				return true
			}
		}
	}
}

func decodeSnapshot(payload json.RawMessage, conversationID string) ([]models.Message, error) {
	var r response
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, err
	}
	if len(r.Errors) > 0 {
		return nil, r.Errors
	}
	var data struct {
		Messages []messageRow `json:"messages"`
	}
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return nil, err
	}
	return messagesFrom(data.Messages, conversationID), nil
}
