package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	errpkg "github.com/veranemoloko/tui-downloader/internal/errors"
)

const notificationBuffer = 64

// WSClient keeps one WebSocket to the daemon, correlating responses by id.
// A broken socket fails every in-flight call and the next call redials.
type WSClient struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer
	logger  *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	sess    *wsSession
	closed  bool
	notifCh chan Notification
}

type wsSession struct {
	conn    *websocket.Conn
	pending map[string]*waiter
	closed  bool
}

// waiter receives the reply for one request id. batch lists every id sent
// in the same frame.
type waiter struct {
	ch    chan response
	batch []string
}

func NewWSClient(url string, timeout time.Duration, logger *slog.Logger) *WSClient {
	return &WSClient{
		url:     url,
		timeout: timeout,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		logger:  logger,
		notifCh: make(chan Notification, notificationBuffer),
	}
}

// Notifications delivers daemon push events. Events are dropped when the
// consumer falls behind.
func (c *WSClient) Notifications() <-chan Notification {
	return c.notifCh
}

func (c *WSClient) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	req := newRequest(method, params)

	resps, err := c.exchange(ctx, req, []string{req.ID})
	var v json.RawMessage
	if err == nil {
		v, err = resps[0].value(req.ID)
	}

	observe(method, err)
	if err != nil {
		c.logger.Debug("rpc call failed", "method", method, "error", err)
		return nil, err
	}
	return v, nil
}

func (c *WSClient) CallBatch(ctx context.Context, reqs []Request) []Result {
	envs := newRequests(reqs)
	ids := make([]string, len(envs))
	for i, e := range envs {
		ids[i] = e.ID
	}

	var results []Result
	resps, err := c.exchange(ctx, envs, ids)
	if err != nil {
		c.logger.Debug("rpc batch failed", "size", len(reqs), "error", err)
		results = failAll(len(reqs), err)
	} else {
		results = match(envs, resps)
	}

	for i, r := range results {
		observe(reqs[i].Method, r.Err)
	}
	return results
}

// Close drops the socket. Further calls fail.
func (c *WSClient) Close() error {
	c.mu.Lock()
	c.closed = true
	s := c.sess
	c.mu.Unlock()

	if s != nil {
		c.drop(s)
	}
	return nil
}

func (c *WSClient) exchange(ctx context.Context, payload any, ids []string) ([]response, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	s, err := c.session(ctx)
	if err != nil {
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		return nil, err
	}

	waits := make([]chan response, len(ids))
	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return nil, errpkg.Unreachable(fmt.Errorf("connection closed"))
	}
	for i, id := range ids {
		waits[i] = make(chan response, 1)
		s.pending[id] = &waiter{ch: waits[i], batch: ids}
	}
	c.mu.Unlock()
	defer c.forget(s, ids)

	deadline, _ := ctx.Deadline()
	c.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(deadline)
	err = s.conn.WriteJSON(payload)
	c.writeMu.Unlock()
	if err != nil {
		c.drop(s)
		return nil, errpkg.Unreachable(err)
	}

	out := make([]response, len(ids))
	for i, ch := range waits {
		select {
		case resp, ok := <-ch:
			if !ok {
				return nil, errpkg.Unreachable(fmt.Errorf("connection closed"))
			}
			out[i] = resp
		case <-ctx.Done():
			if parent.Err() != nil {
				return nil, parent.Err()
			}
			return nil, errpkg.Unreachable(fmt.Errorf("no response within %s", c.timeout))
		}
	}
	return out, nil
}

func (c *WSClient) session(ctx context.Context) (*wsSession, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errpkg.ErrShuttingDown
	}
	if c.sess != nil {
		s := c.sess
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, errpkg.Unreachable(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		conn.Close()
		return nil, errpkg.ErrShuttingDown
	}
	if c.sess != nil {
		conn.Close()
		return c.sess, nil
	}
	s := &wsSession{conn: conn, pending: make(map[string]*waiter)}
	c.sess = s
	go c.readLoop(s)

	c.logger.Debug("websocket connected", "url", c.url)
	return s, nil
}

func (c *WSClient) readLoop(s *wsSession) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			c.logger.Debug("websocket read failed", "error", err)
			c.drop(s)
			return
		}
		c.dispatch(s, data)
	}
}

func (c *WSClient) dispatch(s *wsSession, data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var batch []response
		if err := json.Unmarshal(data, &batch); err != nil {
			c.logger.Warn("malformed batch response", "error", err)
			c.failPending(s, errpkg.Protocol("undecodable batch response: %v", err))
			return
		}
		var sent []string
		for _, r := range batch {
			if w := c.deliver(s, r); w != nil {
				sent = append(sent, w.batch...)
			}
		}
		// Ids of the same request frame the daemon left unanswered.
		for _, id := range sent {
			c.fail(s, id, errpkg.Protocol("batch response has no entry for %s", id))
		}
		return
	}

	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		c.logger.Warn("malformed response", "error", err)
		c.failPending(s, errpkg.Protocol("undecodable response: %v", err))
		return
	}
	if r.ID == "" && r.Method != "" {
		c.notify(r)
		return
	}
	c.deliver(s, r)
}

// deliver hands r to its waiter and returns that waiter, or nil when no
// call is waiting for r.ID.
func (c *WSClient) deliver(s *wsSession, r response) *waiter {
	c.mu.Lock()
	w, ok := s.pending[r.ID]
	if ok {
		delete(s.pending, r.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("response without waiter", "id", r.ID)
		return nil
	}
	w.ch <- r
	return w
}

// fail completes the call waiting for id, if any, with err.
func (c *WSClient) fail(s *wsSession, id string, err error) {
	c.mu.Lock()
	w, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	c.mu.Unlock()

	if ok {
		w.ch <- response{ID: id, err: err}
	}
}

// failPending completes every call on the session with err. The socket
// stays open since frames remain delimited.
func (c *WSClient) failPending(s *wsSession, err error) {
	c.mu.Lock()
	waiters := make(map[string]*waiter, len(s.pending))
	for id, w := range s.pending {
		waiters[id] = w
		delete(s.pending, id)
	}
	c.mu.Unlock()

	for id, w := range waiters {
		w.ch <- response{ID: id, err: err}
	}
}

func (c *WSClient) notify(r response) {
	var params []struct {
		GID string `json:"gid"`
	}
	_ = json.Unmarshal(r.Params, &params)

	n := Notification{Method: strings.TrimPrefix(r.Method, "aria2.")}
	if len(params) > 0 {
		n.GID = params[0].GID
	}

	select {
	case c.notifCh <- n:
	default:
		c.logger.Debug("notification dropped", "method", n.Method, "gid", n.GID)
	}
}

func (c *WSClient) forget(s *wsSession, ids []string) {
	c.mu.Lock()
	for _, id := range ids {
		delete(s.pending, id)
	}
	c.mu.Unlock()
}

func (c *WSClient) drop(s *wsSession) {
	c.mu.Lock()
	if s.closed {
		c.mu.Unlock()
		return
	}
	s.closed = true
	if c.sess == s {
		c.sess = nil
	}
	for id, w := range s.pending {
		close(w.ch)
		delete(s.pending, id)
	}
	c.mu.Unlock()

	s.conn.Close()
}
