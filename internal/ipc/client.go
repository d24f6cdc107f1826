package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is a connection to a running daemon
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the daemon socket
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, reader: bufio.NewReader(conn)}
}

// Call sends one command and waits for its response. Pushed events that
// arrive first are skipped.
func (c *Client) Call(ctx context.Context, cmd CommandType, data interface{}) (*Response, error) {
	req, err := NewRequest(cmd, data)
	if err != nil {
		return nil, err
	}
	msg, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	if _, err := c.conn.Write(append(msg, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", cmd, err)
	}

	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if isPush(line) {
			continue
		}
		return DecodeResponse(line)
	}
}

// Next reads the next pushed event
func (c *Client) Next() (*PushMessage, error) {
	for {
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		if !isPush(line) {
			continue
		}
		var msg PushMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode push message: %w", err)
		}
		return &msg, nil
	}
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func isPush(line []byte) bool {
	var head struct {
		Type *string `json:"type"`
	}
	return json.Unmarshal(line, &head) == nil && head.Type != nil
}
