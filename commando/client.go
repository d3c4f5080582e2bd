// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package commando

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lnpeer/lnsocket"
)

var (
	// ErrTimeout is returned when a call's deadline expires before the
	// terminal reply fragment arrives. Retried while retries remain.
	ErrTimeout = errors.New("commando: call timed out")

	// ErrTransportLost is returned to callers whose request was in
	// flight when the connection died. Retried while retries remain;
	// the retry waits for the reconnect.
	ErrTransportLost = errors.New("commando: transport lost")

	// ErrCancelled is returned when the client is closed while calls
	// are outstanding.
	ErrCancelled = errors.New("commando: client closed")

	// ErrReconnectExhausted is returned once the reconnect backoff has
	// given up. The client is unusable afterwards.
	ErrReconnectExhausted = errors.New("commando: reconnect attempts exhausted")

	// ErrRPCMalformed is returned when the assembled response does not
	// parse as JSON. Never retried.
	ErrRPCMalformed = errors.New("commando: malformed rpc response")
)

// CallOpts carries the per-call knobs. Retries is the number of
// additional attempts after the first.
type CallOpts struct {
	Timeout time.Duration
	Retries int
}

// DefaultCallOpts returns the stock per-call settings.
func DefaultCallOpts() CallOpts {
	return CallOpts{Timeout: 30 * time.Second, Retries: 3}
}

// WithTimeout returns a copy of o with the timeout replaced.
func (o CallOpts) WithTimeout(d time.Duration) CallOpts {
	o.Timeout = d
	return o
}

// WithRetries returns a copy of o with the retry budget replaced.
func (o CallOpts) WithRetries(n int) CallOpts {
	o.Retries = n
	return o
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// CallOpts are the defaults applied by Call.
	CallOpts CallOpts

	// Reconnect backoff: base delay, doubled per attempt up to Cap,
	// with ±20% jitter, giving up after Attempts tries.
	ReconnectAttempts int
	ReconnectBase     time.Duration
	ReconnectCap      time.Duration

	// Logger defaults to lnsocket.DefaultLogger.
	Logger *lnsocket.Logger

	// Dialer overrides how the client re-establishes its socket after
	// a transport loss. Defaults to redialing the original socket's
	// peer. Tests point this at a scripted peer.
	Dialer func(ctx context.Context) (*lnsocket.LNSocket, error)
}

// DefaultClientOptions returns the stock client settings.
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		CallOpts:          DefaultCallOpts(),
		ReconnectAttempts: 6,
		ReconnectBase:     500 * time.Millisecond,
		ReconnectCap:      30 * time.Second,
	}
}

// callResult is the single completion value of a pending call.
type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is the completion slot for one in-flight request. The
// reader appends fragments to buf and delivers exactly once through
// done; delivery never blocks the reader.
type pendingCall struct {
	buf  []byte
	done chan callResult
}

func (pc *pendingCall) deliver(r callResult) {
	select {
	case pc.done <- r:
	default:
	}
}

// Client multiplexes concurrent Commando calls over one LNSocket. A
// background reader owns the inbound half of the socket and the
// pending-call map; callers share the outbound half through the
// socket's write lock.
type Client struct {
	rune   string
	opts   *ClientOptions
	logger *lnsocket.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nextID atomic.Uint64

	mu           sync.Mutex
	sock         *lnsocket.LNSocket
	pending      map[uint64]*pendingCall
	reconnecting chan struct{} // non-nil while a reconnect is in flight
	reconnectErr error         // sticky once the backoff gives up
	closed       bool

	redial func(ctx context.Context) (*lnsocket.LNSocket, error)
}

// Spawn wraps an established socket in a Client authenticated by the
// given rune and starts the background reader. The client owns the
// socket from this point on.
func Spawn(sock *lnsocket.LNSocket, rune_ string, opts *ClientOptions) *Client {
	if opts == nil {
		opts = DefaultClientOptions()
	}
	if opts.CallOpts.Timeout <= 0 {
		opts.CallOpts.Timeout = DefaultCallOpts().Timeout
	}
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = 6
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 500 * time.Millisecond
	}
	if opts.ReconnectCap <= 0 {
		opts.ReconnectCap = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = lnsocket.DefaultLogger
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		rune:    rune_,
		opts:    opts,
		logger:  opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
		sock:    sock,
		pending: make(map[uint64]*pendingCall),
		redial:  opts.Dialer,
	}
	if c.redial == nil {
		c.redial = sock.Redial
	}

	c.wg.Add(1)
	go c.readLoop(sock)
	return c
}

// Call invokes method with the client's default CallOpts and returns
// the JSON result field.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return c.CallWithOpts(ctx, method, params, c.opts.CallOpts)
}

// CallWithOpts invokes method with explicit per-call settings. Each
// attempt uses a fresh request id; a call sees at most one success or
// one terminal error.
func (c *Client) CallWithOpts(ctx context.Context, method string, params interface{},
	opts CallOpts) (json.RawMessage, error) {

	if opts.Timeout <= 0 {
		opts.Timeout = c.opts.CallOpts.Timeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying %s after %v (attempt %d/%d)",
				method, lastErr, attempt+1, opts.Retries+1)
		}
		res, err := c.doCall(ctx, method, params, opts.Timeout)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retriable(err) {
			break
		}
	}
	return nil, lastErr
}

// retriable reports whether the failure may be resolved by submitting
// the request again. Errors the peer produced on purpose are not.
func retriable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransportLost)
}

// doCall performs a single attempt.
func (c *Client) doCall(ctx context.Context, method string, params interface{},
	timeout time.Duration) (json.RawMessage, error) {

	sock, err := c.waitSocket(ctx)
	if err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	pc := &pendingCall{done: make(chan callResult, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCancelled
	}
	c.pending[id] = pc
	c.mu.Unlock()

	raw, err := encodeCommand(id, method, params, c.rune)
	if err != nil {
		c.unregister(id)
		return nil, err
	}

	if err := sock.Send(raw); err != nil {
		c.unregister(id)
		c.connLost(sock, err)
		return nil, fmt.Errorf("%w: %v", ErrTransportLost, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-pc.done:
		return r.result, r.err
	case <-timer.C:
		c.unregister(id)
		return nil, ErrTimeout
	case <-ctx.Done():
		c.unregister(id)
		return nil, ctx.Err()
	case <-c.ctx.Done():
		c.unregister(id)
		return nil, ErrCancelled
	}
}

// waitSocket returns the live socket, blocking behind an in-flight
// reconnect if there is one.
func (c *Client) waitSocket(ctx context.Context) (*lnsocket.LNSocket, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrCancelled
		}
		if c.reconnectErr != nil {
			err := c.reconnectErr
			c.mu.Unlock()
			return nil, err
		}
		if ch := c.reconnecting; ch != nil {
			c.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.ctx.Done():
				return nil, ErrCancelled
			}
			continue
		}
		if c.sock != nil {
			sock := c.sock
			c.mu.Unlock()
			return sock, nil
		}
		c.mu.Unlock()
		return nil, ErrTransportLost
	}
}

func (c *Client) unregister(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop owns the inbound half of one socket generation. It exits
// when the socket dies; a reconnect starts a new loop on the new
// socket.
func (c *Client) readLoop(sock *lnsocket.LNSocket) {
	defer c.wg.Done()

	for {
		msg, err := sock.RecvMessage()
		if err != nil {
			c.connLost(sock, err)
			return
		}

		switch msg.Type {
		case lnsocket.MsgPong:
			// Keepalive noise.
		case lnsocket.MsgPing:
			ping, perr := lnsocket.ParsePing(msg.Payload)
			if perr != nil {
				c.logger.Debug("ignoring malformed ping: %v", perr)
				continue
			}
			pong := lnsocket.PongFor(ping)
			if serr := sock.SendMessage(lnsocket.Message{Type: lnsocket.MsgPong, Payload: pong.Encode()}); serr != nil {
				c.connLost(sock, serr)
				return
			}
		case MsgReplyCont, MsgReplyTerm:
			chunk, _, cerr := parseReplyChunk(msg)
			if cerr != nil {
				c.logger.Debug("ignoring malformed reply fragment: %v", cerr)
				continue
			}
			c.handleChunk(chunk)
		default:
			if msg.Even() {
				err := &lnsocket.UnknownRequiredMessageError{Type: msg.Type}
				c.logger.Error("%v", err)
				sock.Close()
				c.connLost(sock, err)
				return
			}
			c.logger.Debug("skipping odd message type %d", msg.Type)
		}
	}
}

// handleChunk appends a fragment to its slot and, on the terminal
// fragment, parses and delivers the assembled response.
func (c *Client) handleChunk(ch replyChunk) {
	c.mu.Lock()
	pc, ok := c.pending[ch.reqID]
	if !ok {
		c.mu.Unlock()
		c.logger.Debug("dropping fragment for unknown request %d", ch.reqID)
		return
	}
	pc.buf = append(pc.buf, ch.data...)
	if !ch.done {
		c.mu.Unlock()
		return
	}
	delete(c.pending, ch.reqID)
	buf := pc.buf
	c.mu.Unlock()

	var env rpcEnvelope
	if err := json.Unmarshal(buf, &env); err != nil {
		pc.deliver(callResult{err: fmt.Errorf("%w: %v", ErrRPCMalformed, err)})
		return
	}
	if env.Error != nil {
		pc.deliver(callResult{err: env.Error})
		return
	}
	pc.deliver(callResult{result: env.Result})
}

// connLost handles the death of a socket generation: every pending
// call fails with ErrTransportLost and a single reconnect starts.
func (c *Client) connLost(sock *lnsocket.LNSocket, err error) {
	c.mu.Lock()
	if c.closed || c.ctx.Err() != nil {
		c.failPendingLocked(ErrCancelled)
		c.mu.Unlock()
		return
	}
	if c.sock != sock {
		// A newer generation already took over.
		c.mu.Unlock()
		return
	}
	c.logger.Warn("connection lost: %v", err)
	c.sock = nil
	c.failPendingLocked(ErrTransportLost)
	c.startReconnectLocked()
	c.mu.Unlock()

	sock.Close()
}

func (c *Client) failPendingLocked(err error) {
	for id, pc := range c.pending {
		pc.deliver(callResult{err: err})
		delete(c.pending, id)
	}
}

func (c *Client) startReconnectLocked() {
	if c.reconnecting != nil || c.reconnectErr != nil {
		return
	}
	done := make(chan struct{})
	c.reconnecting = done
	c.wg.Add(1)
	go c.reconnectLoop(done)
}

// reconnectLoop redials with exponential backoff. Exactly one loop
// runs at a time; its completion is broadcast by closing done.
func (c *Client) reconnectLoop(done chan struct{}) {
	defer c.wg.Done()

	var lastErr error
	backoff := c.opts.ReconnectBase

	for attempt := 0; attempt < c.opts.ReconnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(jitter(backoff)):
			case <-c.ctx.Done():
				c.finishReconnect(done, ErrCancelled)
				return
			}
			backoff *= 2
			if backoff > c.opts.ReconnectCap {
				backoff = c.opts.ReconnectCap
			}
		}

		sock, err := c.redial(c.ctx)
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				sock.Close()
				c.finishReconnect(done, ErrCancelled)
				return
			}
			c.sock = sock
			c.reconnecting = nil
			c.wg.Add(1)
			go c.readLoop(sock)
			c.mu.Unlock()
			close(done)
			c.logger.Info("reconnected to %s after %d attempt(s)", sock.Addr(), attempt+1)
			return
		}

		lastErr = err
		c.logger.Warn("reconnect attempt %d/%d failed: %v", attempt+1, c.opts.ReconnectAttempts, err)
		if c.ctx.Err() != nil {
			c.finishReconnect(done, ErrCancelled)
			return
		}
	}

	c.finishReconnect(done, fmt.Errorf("%w: last error: %v", ErrReconnectExhausted, lastErr))
}

func (c *Client) finishReconnect(done chan struct{}, err error) {
	c.mu.Lock()
	c.reconnecting = nil
	c.reconnectErr = err
	c.mu.Unlock()
	close(done)
}

// jitter spreads d by ±20%.
func jitter(d time.Duration) time.Duration {
	f := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * f)
}

// Close shuts the client down: the socket closes, the reader exits,
// and every outstanding call completes with ErrCancelled.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sock := c.sock
	c.sock = nil
	c.failPendingLocked(ErrCancelled)
	c.mu.Unlock()

	c.cancel()
	var err error
	if sock != nil {
		err = sock.Close()
	}
	c.wg.Wait()
	return err
}
