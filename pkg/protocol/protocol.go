package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/subscription"
)

// MessageType represents the type of Nostr protocol message
type MessageType string

const (
	MessageTypeEvent  MessageType = "EVENT"
	MessageTypeReq    MessageType = "REQ"
	MessageTypeClose  MessageType = "CLOSE"
	MessageTypeEOSE   MessageType = "EOSE"   // End of stored events
	MessageTypeOK     MessageType = "OK"     // Command result
	MessageTypeNotice MessageType = "NOTICE" // Human-readable message
	MessageTypeCount  MessageType = "COUNT"  // NIP-45 event counting
	MessageTypeClosed MessageType = "CLOSED" // NIP-45 count rejection
)

// DecodedMessage is the sum type every inbound client message decodes
// into. handleMessage type-switches over this instead of dispatching
// on the raw string tag, per spec.md §9's explicit requirement.
type DecodedMessage interface {
	isDecodedMessage()
}

// PublishMessage is an inbound EVENT.
type PublishMessage struct {
	Event *event.Event
}

// SubscribeMessage is an inbound REQ.
type SubscribeMessage struct {
	SubID   string
	Filters []*event.Filter
}

// UnsubscribeMessage is an inbound CLOSE.
type UnsubscribeMessage struct {
	SubID string
}

// CountMessage is an inbound COUNT.
type CountMessage struct {
	CountID string
	Filters []*event.Filter
}

func (PublishMessage) isDecodedMessage()     {}
func (SubscribeMessage) isDecodedMessage()   {}
func (UnsubscribeMessage) isDecodedMessage() {}
func (CountMessage) isDecodedMessage()       {}

// Handler processes decoded Nostr protocol messages.
type Handler interface {
	HandleEvent(ctx context.Context, c *Client, evt *event.Event) error
	HandleReq(ctx context.Context, c *Client, subID string, filters []*event.Filter) error
	HandleClose(ctx context.Context, c *Client, subID string) error
	HandleCount(ctx context.Context, c *Client, countID string, filters []*event.Filter) error
}

// Client represents a WebSocket client connection. Its subscription
// set is the authoritative per-id lookup the subscription engine's
// sender/backfill tasks are launched against (spec.md §4.6); the
// bounded queue and EOSE signal live in *subscription.Subscription,
// not here.
type Client struct {
	conn          *websocket.Conn
	handler       Handler
	subscriptions map[string]*subscription.Subscription
	subMu         sync.RWMutex
	sendCh        chan []byte
	closeCh       chan struct{}
	closeOnce     sync.Once
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, handler Handler) *Client {
	log.Printf("New connection from %s", conn.RemoteAddr())
	return &Client{
		conn:          conn,
		handler:       handler,
		subscriptions: make(map[string]*subscription.Subscription),
		sendCh:        make(chan []byte, 256),
		closeCh:       make(chan struct{}),
	}
}

// Start begins processing messages from the client
// This method blocks until the connection is closed
func (c *Client) Start(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		c.readPump(ctx)
	}()

	go func() {
		defer wg.Done()
		c.writePump(ctx)
	}()

	wg.Wait()
}

// readPump reads messages from the WebSocket connection
func (c *Client) readPump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		default:
		}

		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				// Don't log close 1005 (no status) as an error - it's a normal condition
				if !strings.Contains(err.Error(), "close 1005") {
					log.Printf("WebSocket read error: %v", err)
				}
			}
			return
		}

		if err := c.handleMessage(ctx, message); err != nil {
			log.Printf("Error handling message: %v", err)
			c.SendNotice(fmt.Sprintf("error: %v", err))
		}
	}
}

// writePump sends messages to the WebSocket connection
func (c *Client) writePump(ctx context.Context) {
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case message := <-c.sendCh:
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}
		}
	}
}

// decodeMessage parses a raw client frame into the sum type. A
// malformed frame (bad JSON, wrong arity, wrong element type) is a
// decode error, which the caller reports via NOTICE per spec.md §7's
// malformed-message category — it never reaches a Handler method.
func decodeMessage(raw []json.RawMessage) (DecodedMessage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	var msgType string
	if err := json.Unmarshal(raw[0], &msgType); err != nil {
		return nil, fmt.Errorf("invalid message type: %w", err)
	}

	switch MessageType(msgType) {
	case MessageTypeEvent:
		if len(raw) != 2 {
			return nil, fmt.Errorf("EVENT message must have 2 elements")
		}
		var evt event.Event
		if err := json.Unmarshal(raw[1], &evt); err != nil {
			return nil, fmt.Errorf("invalid event: %w", err)
		}
		return PublishMessage{Event: &evt}, nil

	case MessageTypeReq:
		if len(raw) < 2 {
			return nil, fmt.Errorf("REQ message must have at least 2 elements")
		}
		var subID string
		if err := json.Unmarshal(raw[1], &subID); err != nil {
			return nil, fmt.Errorf("invalid subscription ID: %w", err)
		}
		filters, err := decodeFilters(raw[2:])
		if err != nil {
			return nil, err
		}
		return SubscribeMessage{SubID: subID, Filters: filters}, nil

	case MessageTypeClose:
		if len(raw) != 2 {
			return nil, fmt.Errorf("CLOSE message must have 2 elements")
		}
		var subID string
		if err := json.Unmarshal(raw[1], &subID); err != nil {
			return nil, fmt.Errorf("invalid subscription ID: %w", err)
		}
		return UnsubscribeMessage{SubID: subID}, nil

	case MessageTypeCount:
		if len(raw) < 3 {
			return nil, fmt.Errorf("COUNT message must have at least 3 elements")
		}
		var countID string
		if err := json.Unmarshal(raw[1], &countID); err != nil {
			return nil, fmt.Errorf("invalid count ID: %w", err)
		}
		filters, err := decodeFilters(raw[2:])
		if err != nil {
			return nil, err
		}
		return CountMessage{CountID: countID, Filters: filters}, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", msgType)
	}
}

func decodeFilters(raw []json.RawMessage) ([]*event.Filter, error) {
	filters := make([]*event.Filter, 0, len(raw))
	for _, r := range raw {
		var filter event.Filter
		if err := json.Unmarshal(r, &filter); err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		filters = append(filters, &filter)
	}
	return filters, nil
}

// handleMessage decodes a single protocol frame and dispatches on the
// decoded sum type.
func (c *Client) handleMessage(ctx context.Context, message []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(message, &raw); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	msg, err := decodeMessage(raw)
	if err != nil {
		return err
	}

	switch m := msg.(type) {
	case PublishMessage:
		if err := c.handler.HandleEvent(ctx, c, m.Event); err != nil {
			c.SendOK(m.Event.ID, false, fmt.Sprintf("error: %v", err))
			return nil
		}
	case SubscribeMessage:
		return c.handler.HandleReq(ctx, c, m.SubID, m.Filters)
	case UnsubscribeMessage:
		return c.handler.HandleClose(ctx, c, m.SubID)
	case CountMessage:
		return c.handler.HandleCount(ctx, c, m.CountID, m.Filters)
	}
	return nil
}

// Subscribe registers sub under subID, cancelling and replacing any
// existing subscription with the same id first (spec.md §4.6 step 1).
// It returns the new subscription so the caller can launch its sender
// and backfill tasks.
func (c *Client) Subscribe(subID string, filters []*event.Filter, capacity int) *subscription.Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if existing, ok := c.subscriptions[subID]; ok {
		existing.Cancel()
	}

	sub := subscription.New(subID, filters, capacity)
	c.subscriptions[subID] = sub
	return sub
}

// Unsubscribe cancels and removes the subscription with the given id,
// if any. Idempotent.
func (c *Client) Unsubscribe(subID string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if sub, ok := c.subscriptions[subID]; ok {
		sub.Cancel()
		delete(c.subscriptions, subID)
	}
}

// Subscriptions returns a snapshot of the client's active
// subscriptions. Satisfies registry.Client.
func (c *Client) Subscriptions() []*subscription.Subscription {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	subs := make([]*subscription.Subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	return subs
}

// deliverFrame sends a subscription.Frame to the client as the
// matching wire message: EVENT for a matched event, EOSE for the
// end-of-stored-events marker.
func (c *Client) deliverFrame(f subscription.Frame) error {
	if f.EOSE {
		return c.SendEOSE(f.SubID)
	}
	return c.SendEvent(f.SubID, f.Event)
}

// RunSubscription launches sub's sender task against this client's
// connection. It blocks until sub is cancelled or the client
// disconnects; callers run it in its own goroutine.
func (c *Client) RunSubscription(sub *subscription.Subscription) {
	sub.Run(c.deliverFrame)
}

// SendEvent sends an event to the client for a subscription
func (c *Client) SendEvent(subID string, evt *event.Event) error {
	msg := []interface{}{MessageTypeEvent, subID, evt}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.closeCh:
		return fmt.Errorf("client closed")
	}
}

// SendEOSE sends an end-of-stored-events message
func (c *Client) SendEOSE(subID string) error {
	msg := []interface{}{MessageTypeEOSE, subID}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.closeCh:
		return fmt.Errorf("client closed")
	}
}

// SendOK sends an OK message in response to an EVENT
func (c *Client) SendOK(eventID string, accepted bool, message string) error {
	msg := []interface{}{MessageTypeOK, eventID, accepted, message}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.closeCh:
		return fmt.Errorf("client closed")
	}
}

// SendNotice sends a human-readable notice message
func (c *Client) SendNotice(message string) error {
	msg := []interface{}{MessageTypeNotice, message}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.closeCh:
		return fmt.Errorf("client closed")
	}
}

// Close closes the client connection and cancels every subscription
// it owns (spec.md §4.6 client-close semantics).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.conn.Close()

		c.subMu.Lock()
		for _, sub := range c.subscriptions {
			sub.Cancel()
		}
		c.subMu.Unlock()
	})
}

// RemoteAddr returns the remote address of the client
func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// SendCount sends a COUNT response to the client
func (c *Client) SendCount(countID string, count int, approximate bool) error {
	response := map[string]interface{}{
		"count": count,
	}
	if approximate {
		response["approximate"] = true
	}

	msg := []interface{}{MessageTypeCount, countID, response}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.closeCh:
		return fmt.Errorf("client closed")
	}
}

// SendClosed sends a CLOSED message to the client (NIP-45)
func (c *Client) SendClosed(countID string, reason string) error {
	msg := []interface{}{MessageTypeClosed, countID, reason}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	select {
	case c.sendCh <- data:
		return nil
	case <-c.closeCh:
		return fmt.Errorf("client closed")
	}
}
