package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dynacraft.ai/internal/protocol"
)

// Client is the observer end of a server connection. Reads happen on the
// goroutine calling ReadLoop; writes may come from anywhere.
type Client struct {
	conn    *websocket.Conn
	Welcome protocol.WelcomeMsg

	wmu sync.Mutex
}

// Dial connects, sends hello and waits for WELCOME.
func Dial(ctx context.Context, url string, hello protocol.HelloMsg) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	if hello.Type == "" {
		hello.Type = protocol.TypeHello
	}
	if hello.ProtocolVersion == "" {
		hello.ProtocolVersion = protocol.Version
	}
	c := &Client{conn: conn}
	if err := c.writeText(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await WELCOME: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeWelcome {
		conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %q", msg)
	}
	if err := json.Unmarshal(msg, &c.Welcome); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) writeText(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Send writes an encoded frame. It matches world.ReplicaConfig.Send.
func (c *Client) Send(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *Client) Interact(msg protocol.InteractMsg) error {
	msg.Type = protocol.TypeInteract
	if msg.ProtocolVersion == "" {
		msg.ProtocolVersion = protocol.Version
	}
	return c.writeText(msg)
}

// ReadLoop dispatches incoming messages until the connection fails or ctx
// ends. Either callback may be nil.
func (c *Client) ReadLoop(ctx context.Context, onFrame func([]byte), onResult func(protocol.ResultMsg)) error {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()
	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		switch kind {
		case websocket.BinaryMessage:
			if onFrame != nil {
				onFrame(msg)
			}
		case websocket.TextMessage:
			var res protocol.ResultMsg
			if err := json.Unmarshal(msg, &res); err != nil || res.Type != protocol.TypeResult {
				continue
			}
			if onResult != nil {
				onResult(res)
			}
		}
	}
}

func (c *Client) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}
