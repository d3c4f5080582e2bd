// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package testutil

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/sync/errgroup"

	"github.com/lnpeer/lnsocket"
	"github.com/lnpeer/lnsocket/security/noise"
)

// Handler scripts a mock peer's reaction to one post-init message.
// Returning an error drops the connection.
type Handler func(pc *PeerConn, msg lnsocket.Message) error

// MockPeer is a scripted Lightning node on loopback: it accepts
// connections, runs the responder side of the BOLT #8 handshake,
// exchanges init, and hands every further message to its Handler.
type MockPeer struct {
	key     *secp256k1.PrivateKey
	handler Handler

	ln     net.Listener
	ctx    context.Context
	cancel context.CancelFunc
	grp    *errgroup.Group

	mu       sync.Mutex
	conns    []*PeerConn
	rawConns []net.Conn
}

// NewMockPeer starts a mock peer with a fresh identity key.
func NewMockPeer(handler Handler) (*MockPeer, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return NewMockPeerWithKey(key, handler)
}

// NewMockPeerWithKey starts a mock peer with a fixed identity key.
func NewMockPeerWithKey(key *secp256k1.PrivateKey, handler Handler) (*MockPeer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	grp, ctx := errgroup.WithContext(ctx)

	p := &MockPeer{
		key:     key,
		handler: handler,
		ln:      ln,
		ctx:     ctx,
		cancel:  cancel,
		grp:     grp,
	}
	p.grp.Go(p.acceptLoop)
	return p, nil
}

// Addr returns the peer's host:port.
func (p *MockPeer) Addr() string { return p.ln.Addr().String() }

// PubKey returns the peer's static public key.
func (p *MockPeer) PubKey() *secp256k1.PublicKey { return p.key.PubKey() }

// Close stops listening and drops every live connection, including
// ones still mid-handshake.
func (p *MockPeer) Close() {
	p.cancel()
	p.ln.Close()
	p.mu.Lock()
	for _, conn := range p.rawConns {
		conn.Close()
	}
	p.rawConns = nil
	p.conns = nil
	p.mu.Unlock()
	_ = p.grp.Wait()
}

// DropConnections closes live connections without stopping the
// listener, simulating a peer-side disconnect.
func (p *MockPeer) DropConnections() {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()
	for _, pc := range conns {
		pc.Close()
	}
}

func (p *MockPeer) acceptLoop() error {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return nil // listener closed
		}
		p.mu.Lock()
		p.rawConns = append(p.rawConns, conn)
		p.mu.Unlock()
		p.grp.Go(func() error {
			p.serve(conn)
			return nil
		})
	}
}

func (p *MockPeer) serve(conn net.Conn) {
	pc, err := AcceptPeerConn(conn, p.key)
	if err != nil {
		conn.Close()
		return
	}
	p.mu.Lock()
	p.conns = append(p.conns, pc)
	p.mu.Unlock()

	for {
		msg, err := pc.ReadMessage()
		if err != nil {
			pc.Close()
			return
		}
		if p.handler == nil {
			continue
		}
		if err := p.handler(pc, msg); err != nil {
			pc.Close()
			return
		}
	}
}

// PeerConn is the mock peer's side of one encrypted connection.
type PeerConn struct {
	conn net.Conn
	t    *noise.Transport

	wmu sync.Mutex
	rmu sync.Mutex

	// RemoteStatic is the client's identity learned in act three.
	RemoteStatic *secp256k1.PublicKey
}

// AcceptPeerConn runs the responder handshake and the init exchange on
// a freshly accepted connection.
func AcceptPeerConn(conn net.Conn, key *secp256k1.PrivateKey) (*PeerConn, error) {
	pc, err := RespondHandshake(conn, key)
	if err != nil {
		return nil, err
	}
	if err := pc.ExchangeInit(); err != nil {
		return nil, err
	}
	return pc, nil
}

// RespondHandshake runs only the responder side of the handshake,
// leaving the init exchange to the caller. Tests use it to script
// non-conforming init phases.
func RespondHandshake(conn net.Conn, key *secp256k1.PrivateKey) (*PeerConn, error) {
	hs, err := noise.NewResponder(key, nil)
	if err != nil {
		return nil, err
	}

	var actOne [noise.ActOneSize]byte
	if _, err := io.ReadFull(conn, actOne[:]); err != nil {
		return nil, fmt.Errorf("testutil: act one: %w", err)
	}
	if err := hs.ProcessActOne(actOne); err != nil {
		return nil, err
	}

	actTwo, err := hs.ActTwo()
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(actTwo[:]); err != nil {
		return nil, err
	}

	var actThree [noise.ActThreeSize]byte
	if _, err := io.ReadFull(conn, actThree[:]); err != nil {
		return nil, fmt.Errorf("testutil: act three: %w", err)
	}
	remoteStatic, err := hs.ProcessActThree(actThree)
	if err != nil {
		return nil, err
	}

	transport, err := hs.Transport()
	if err != nil {
		return nil, err
	}

	return &PeerConn{conn: conn, t: transport, RemoteStatic: remoteStatic}, nil
}

// ExchangeInit sends an empty init and reads until the client's init
// arrives.
func (pc *PeerConn) ExchangeInit() error {
	if err := pc.WriteMessage(lnsocket.Message{Type: lnsocket.MsgInit, Payload: lnsocket.Init{}.Encode()}); err != nil {
		return err
	}
	for {
		msg, err := pc.ReadMessage()
		if err != nil {
			return err
		}
		if msg.Type == lnsocket.MsgInit {
			return nil
		}
	}
}

// WriteMessage encrypts and writes one message.
func (pc *PeerConn) WriteMessage(m lnsocket.Message) error {
	pc.wmu.Lock()
	defer pc.wmu.Unlock()

	frame, err := pc.t.EncryptMessage(m.Encode())
	if err != nil {
		return err
	}
	_, err = pc.conn.Write(frame)
	return err
}

// WriteRaw writes pre-built bytes directly to the stream, bypassing
// the transport cipher. Tests use it to corrupt frames.
func (pc *PeerConn) WriteRaw(b []byte) error {
	pc.wmu.Lock()
	defer pc.wmu.Unlock()
	_, err := pc.conn.Write(b)
	return err
}

// ReadMessage reads and decrypts the next message.
func (pc *PeerConn) ReadMessage() (lnsocket.Message, error) {
	pc.rmu.Lock()
	defer pc.rmu.Unlock()

	var hdr [noise.LengthHeaderSize]byte
	if _, err := io.ReadFull(pc.conn, hdr[:]); err != nil {
		return lnsocket.Message{}, err
	}
	ln, err := pc.t.DecryptLength(hdr[:])
	if err != nil {
		return lnsocket.Message{}, err
	}
	body := make([]byte, int(ln)+noise.TagSize)
	if _, err := io.ReadFull(pc.conn, body); err != nil {
		return lnsocket.Message{}, err
	}
	payload, err := pc.t.DecryptMessage(body)
	if err != nil {
		return lnsocket.Message{}, err
	}
	return lnsocket.ParseMessage(payload)
}

// Close drops the connection and wipes the transport keys.
func (pc *PeerConn) Close() {
	// Closing the conn first unblocks a reader stuck in a read.
	pc.conn.Close()
	pc.wmu.Lock()
	pc.rmu.Lock()
	pc.t.Destroy()
	pc.rmu.Unlock()
	pc.wmu.Unlock()
}
