package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// ReadWait is how long a silent client is kept. Heartbeats arrive far
	// more often than this.
	ReadWait = 5 * time.Minute
)

// Conn serialises writes to a gorilla connection, which allows a single
// concurrent writer.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Wrap takes ownership of an upgraded connection.
func Wrap(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// WriteEvent sends a Message frame.
func (c *Conn) WriteEvent(event Event, ref string, data any) error {
	return c.WriteTyped(Message{Event: event, Ref: ref, Data: data})
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(ref, code, errMsg string) error {
	return c.WriteTyped(ErrorResponse{Event: EventError, Ref: ref, Code: code, Error: errMsg})
}

// WriteRaw forwards an already encoded event, wrapped as a session event.
func (c *Conn) WriteRaw(payload string) error {
	return c.WriteTyped(Message{Event: EventSession, Data: json.RawMessage(payload)})
}

// ReadEnvelope reads one frame and decodes its action. It sets a read
// deadline.
func (c *Conn) ReadEnvelope() (*RequestEnvelope, error) {
	_ = c.ws.SetReadDeadline(time.Now().Add(ReadWait))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	env := &RequestEnvelope{Raw: data}
	if err := json.Unmarshal(data, env); err != nil {
		return env, err
	}
	return env, nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// IsUnexpectedClose reports whether err is an abnormal close.
func IsUnexpectedClose(err error) bool {
	return websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure)
}
