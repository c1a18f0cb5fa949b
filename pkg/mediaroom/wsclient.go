package mediaroom

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/birchvoice/dialer/pkg/platform"
)

// ============================================
// MEDIA WEBSOCKET CLIENT
// Room control channel to the platform's media service
// ============================================

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 1 << 20
)

// frame is the media service's envelope for both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSClient speaks the media service's websocket protocol: it sends room
// control requests and decodes parameter snapshots into a channel, which a
// Bridge typically consumes.
type WSClient struct {
	url  string
	log  *zap.SugaredLogger
	sink chan<- RoomParams

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	closed bool
}

// NewWSClient creates a client that delivers parameter snapshots to sink.
func NewWSClient(log *zap.SugaredLogger, url string, sink chan<- RoomParams) *WSClient {
	return &WSClient{
		url:  url,
		log:  log,
		sink: sink,
	}
}

// Connect dials the media service and starts the read and keepalive loops.
func (c *WSClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dialing media service: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	runCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.closed = false
	c.mu.Unlock()

	c.log.Infof("[MediaWS] Connected to %s", c.url)

	go c.readPump(runCtx, conn)
	go c.pingLoop(runCtx, conn)
	return nil
}

// CreateRoom asks the media service to create and join a room.
func (c *WSClient) CreateRoom(req platform.CreateRoomRequest) error {
	return c.send("create_room", req)
}

// JoinRoom asks the media service to join an existing room.
func (c *WSClient) JoinRoom(req platform.JoinRoomRequest) error {
	return c.send("join_room", req)
}

// Leave tells the media service to drop out of the current room.
func (c *WSClient) Leave() error {
	return c.send("leave_room", nil)
}

// SetMicrophone toggles the local microphone.
func (c *WSClient) SetMicrophone(enabled bool) error {
	return c.send("set_microphone", map[string]bool{"enabled": enabled})
}

func (c *WSClient) send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.closed {
		return fmt.Errorf("media service not connected")
	}

	f := frame{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding %s frame: %w", event, err)
		}
		f.Data = data
	}

	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("sending %s frame: %w", event, err)
	}
	return nil
}

// readPump decodes inbound frames. Parameter frames become snapshots on the
// sink channel; everything else is logged and dropped.
func (c *WSClient) readPump(ctx context.Context, conn *websocket.Conn) {
	defer c.Close()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warnf("[MediaWS] Read error: %v", err)
			}
			return
		}

		switch f.Event {
		case "parameters", "room_update":
			var p RoomParams
			if err := json.Unmarshal(f.Data, &p); err != nil {
				c.log.Warnf("[MediaWS] Malformed parameter frame: %v", err)
				continue
			}
			select {
			case c.sink <- p:
			case <-ctx.Done():
				return
			}
		case "pong":
			// keepalive reply, nothing to do
		default:
			c.log.Debugf("[MediaWS] Ignoring frame event %q", f.Event)
		}
	}
}

func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				c.log.Warnf("[MediaWS] Ping failed: %v", err)
				return
			}
		}
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return c.conn.Close()
	}
	return nil
}
