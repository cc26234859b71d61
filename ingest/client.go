package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client sends turns to a running server, one at a time, waiting for each
// to be acknowledged.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to the ingest endpoint of sessionID. baseURL may use
// http(s) or ws(s).
func Dial(ctx context.Context, baseURL, sessionID string) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path += "/ws/sessions/" + url.PathEscape(sessionID)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %s", u, resp.Status)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", u, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) SendTurn(ctx context.Context, speaker, text string, ts time.Time) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		c.conn.SetReadDeadline(deadline)
	}

	err := c.conn.WriteJSON(Message{
		Type:      TypeTurn,
		Speaker:   speaker,
		Text:      text,
		Timestamp: ts,
	})
	if err != nil {
		return fmt.Errorf("failed to send turn: %w", err)
	}

	var reply Message
	if err := c.conn.ReadJSON(&reply); err != nil {
		return fmt.Errorf("failed to read reply: %w", err)
	}
	switch reply.Type {
	case TypeAck:
		return nil
	case TypeError:
		return errors.New(reply.Error)
	default:
		return fmt.Errorf("unexpected reply %q", reply.Type)
	}
}

func (c *Client) Close() error {
	err := c.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to send close message: %w", err)
	}
	return c.conn.Close()
}
