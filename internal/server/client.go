package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/andrei-cloud/anet"
	"github.com/andrei-cloud/go_pluginhost/internal/dispatch"
	"github.com/andrei-cloud/go_pluginhost/internal/errorcodes"
)

// Client forwards web requests to a remote node over a single pooled connection.
type Client struct {
	send  func(req *[]byte) ([]byte, error)
	close func()
}

// Dial connects a client to the node listening on addr.
func Dial(addr string, timeout time.Duration) *Client {
	factory := func(addr string) (anet.PoolItem, error) {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return nil, err
		}

		return conn, nil
	}

	pool := anet.NewPool(1, factory, addr, nil)
	broker := anet.NewBroker([]anet.Pool{pool}, 1, nil, nil)
	go broker.Start() //nolint:errcheck // stopped by Shutdown.

	return &Client{
		send: func(req *[]byte) ([]byte, error) { return broker.Send(req) },
		close: func() {
			broker.Close()
			pool.Close()
		},
	}
}

// HandleWebRequest sends in to the node and decodes its reply. Host errors reported
// by the node are returned as errorcodes.HostError values.
func (c *Client) HandleWebRequest(ctx context.Context, in dispatch.Inbound) (dispatch.Outbound, error) {
	if err := ctx.Err(); err != nil {
		return dispatch.Outbound{}, err
	}

	req, err := json.Marshal(in)
	if err != nil {
		return dispatch.Outbound{}, fmt.Errorf("encode request: %w", err)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := c.send(&req)
		done <- result{data, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return dispatch.Outbound{}, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return dispatch.Outbound{}, fmt.Errorf("send request: %w", res.err)
	}

	var reply Reply
	if err := json.Unmarshal(res.data, &reply); err != nil {
		return dispatch.Outbound{}, fmt.Errorf("decode reply: %w", err)
	}
	if reply.Code != errorcodes.Err00.Code {
		return dispatch.Outbound{}, errorcodes.Lookup(reply.Code)
	}
	if reply.Response == nil {
		return dispatch.Outbound{}, fmt.Errorf("decode reply: %w", errorcodes.Err10)
	}

	return *reply.Response, nil
}

// Shutdown stops the broker and closes pooled connections.
func (c *Client) Shutdown() {
	c.close()
}
