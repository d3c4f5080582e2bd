// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lnsocket establishes encrypted, authenticated message
// channels to Lightning Network nodes. A socket dials a peer directly
// or through a SOCKS5 proxy for onion endpoints, runs the BOLT #8
// Noise_XK handshake, exchanges BOLT #1 init, and then carries whole
// Lightning messages in both directions.
package lnsocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/lnpeer/lnsocket/proxy"
	"github.com/lnpeer/lnsocket/security/noise"
)

const defaultDialTimeout = 30 * time.Second

// LNSocket is an encrypted message channel to a single Lightning peer.
//
// Send may be called from any number of goroutines; each message is
// written atomically under an internal lock that also owns the
// outbound cipher half. Recv must be called from one goroutine at a
// time; the caller of Recv owns the inbound cipher half.
type LNSocket struct {
	logger      *Logger
	tor         *proxy.TorConfig
	dialTimeout time.Duration
	initMsg     Init

	ourKey   *secp256k1.PrivateKey
	theirPub *secp256k1.PublicKey
	addr     string
	opts     []Option

	conn      net.Conn
	transport *noise.Transport
	peerInit  Init

	wmu    sync.Mutex // serializes writes, owns the send cipher half
	rmu    sync.Mutex // owns the recv cipher half
	closed atomic.Bool
	failed atomic.Bool
}

// ConnectAndInit dials addr ("host:port"), runs the Noise_XK handshake
// authenticating the peer as theirPub, and exchanges init messages.
// Hosts ending in ".onion" are routed through the SOCKS5 proxy
// configured with WithTorConfig (default 127.0.0.1:9050); everything
// else connects directly.
func ConnectAndInit(ctx context.Context, ourKey *secp256k1.PrivateKey,
	theirPub *secp256k1.PublicKey, addr string, opts ...Option) (*LNSocket, error) {

	s := &LNSocket{
		logger:      DefaultLogger,
		dialTimeout: defaultDialTimeout,
		ourKey:      ourKey,
		theirPub:    theirPub,
		addr:        addr,
		opts:        opts,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ConnectAndInitWithTorConfig is ConnectAndInit with an explicit proxy
// override. A nil conf means direct connections only for non-onion
// hosts and the default proxy for onion hosts.
func ConnectAndInitWithTorConfig(ctx context.Context, ourKey *secp256k1.PrivateKey,
	theirPub *secp256k1.PublicKey, addr string, conf *proxy.TorConfig,
	opts ...Option) (*LNSocket, error) {

	if conf != nil {
		opts = append([]Option{WithTorConfig(conf)}, opts...)
	}
	return ConnectAndInit(ctx, ourKey, theirPub, addr, opts...)
}

// IsOnionHost reports whether host names a Tor onion service. Onion
// names are never resolved through DNS.
func IsOnionHost(host string) bool {
	return strings.HasSuffix(strings.ToLower(host), ".onion")
}

func (s *LNSocket) connect(ctx context.Context) error {
	host, portStr, err := net.SplitHostPort(s.addr)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrAddrParse, s.addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return fmt.Errorf("%w: bad port %q", ErrAddrParse, portStr)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()

	var conn net.Conn
	if IsOnionHost(host) {
		s.logger.Debug("dialing %s via socks5", s.addr)
		conn, err = proxy.Dial(dialCtx, s.tor, host, uint16(port))
	} else {
		var d net.Dialer
		conn, err = d.DialContext(dialCtx, "tcp", s.addr)
	}
	if err != nil {
		return fmt.Errorf("lnsocket: could not dial %q: %w", s.addr, err)
	}
	s.conn = conn

	if err := s.handshake(); err != nil {
		conn.Close()
		return err
	}
	if err := s.exchangeInit(); err != nil {
		conn.Close()
		s.transport.Destroy()
		return err
	}

	s.logger.Info("connected to %x@%s", s.theirPub.SerializeCompressed(), s.addr)
	return nil
}

// handshake drives the three-act Noise_XK exchange as initiator.
func (s *LNSocket) handshake() error {
	hs, err := noise.NewHandshake(s.ourKey, s.theirPub, nil)
	if err != nil {
		return fmt.Errorf("lnsocket: handshake init: %w", err)
	}

	actOne, err := hs.ActOne()
	if err != nil {
		return fmt.Errorf("lnsocket: %w", err)
	}
	if _, err := s.conn.Write(actOne[:]); err != nil {
		return fmt.Errorf("lnsocket: act one write: %w", err)
	}

	var actTwo [noise.ActTwoSize]byte
	if _, err := io.ReadFull(s.conn, actTwo[:]); err != nil {
		return fmt.Errorf("%w: act two: %v", ErrStreamClosed, err)
	}
	if err := hs.ProcessActTwo(actTwo); err != nil {
		return fmt.Errorf("lnsocket: %w", err)
	}

	actThree, err := hs.ActThree()
	if err != nil {
		return fmt.Errorf("lnsocket: %w", err)
	}
	if _, err := s.conn.Write(actThree[:]); err != nil {
		return fmt.Errorf("lnsocket: act three write: %w", err)
	}

	s.transport, err = hs.Transport()
	if err != nil {
		return fmt.Errorf("lnsocket: %w", err)
	}
	return nil
}

// exchangeInit sends our init and reads messages until the peer's init
// arrives. Other known messages are discarded; unknown odd types are
// skipped, unknown even types are fatal.
func (s *LNSocket) exchangeInit() error {
	if err := s.SendMessage(Message{Type: MsgInit, Payload: s.initMsg.Encode()}); err != nil {
		return err
	}

	for {
		msg, err := s.RecvMessage()
		if err != nil {
			if errors.Is(err, ErrStreamClosed) {
				return fmt.Errorf("%w: before init exchange completed", ErrStreamClosed)
			}
			return err
		}

		switch msg.Type {
		case MsgInit:
			peerInit, err := ParseInit(msg.Payload)
			if err != nil {
				return err
			}
			s.peerInit = peerInit
			return nil
		case MsgWarning, MsgError, MsgPing, MsgPong:
			s.logger.Debug("discarding type %d message before init", msg.Type)
		default:
			if msg.Even() {
				s.fail()
				return &UnknownRequiredMessageError{Type: msg.Type}
			}
			s.logger.Debug("skipping odd message type %d before init", msg.Type)
		}
	}
}

// Send encrypts and writes one whole Lightning message (type prefix
// included in raw).
func (s *LNSocket) Send(raw []byte) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	frame, err := s.transport.EncryptMessage(raw)
	if err != nil {
		return fmt.Errorf("lnsocket: %w", err)
	}
	if _, err := s.conn.Write(frame); err != nil {
		s.fail()
		return fmt.Errorf("lnsocket: write: %w", err)
	}
	return nil
}

// SendMessage encodes and sends m.
func (s *LNSocket) SendMessage(m Message) error {
	return s.Send(m.Encode())
}

// Recv reads and decrypts the next whole Lightning message.
func (s *LNSocket) Recv() ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrSocketClosed
	}

	s.rmu.Lock()
	defer s.rmu.Unlock()

	var hdr [noise.LengthHeaderSize]byte
	if _, err := io.ReadFull(s.conn, hdr[:]); err != nil {
		return nil, s.readErr(err)
	}
	ln, err := s.transport.DecryptLength(hdr[:])
	if err != nil {
		s.fail()
		return nil, fmt.Errorf("%w: %v", ErrTransportDecrypt, err)
	}

	body := make([]byte, int(ln)+noise.TagSize)
	if _, err := io.ReadFull(s.conn, body); err != nil {
		return nil, s.readErr(err)
	}
	payload, err := s.transport.DecryptMessage(body)
	if err != nil {
		s.fail()
		return nil, fmt.Errorf("%w: %v", ErrTransportDecrypt, err)
	}
	return payload, nil
}

// RecvMessage reads the next message and splits off its type.
func (s *LNSocket) RecvMessage() (Message, error) {
	raw, err := s.Recv()
	if err != nil {
		return Message{}, err
	}
	return ParseMessage(raw)
}

// Ping sends a BOLT #1 ping requesting numPongBytes echoed bytes.
func (s *LNSocket) Ping(numPongBytes uint16) error {
	return s.SendMessage(Message{Type: MsgPing, Payload: Ping{NumPongBytes: numPongBytes}.Encode()})
}

// readErr maps raw stream errors: EOF mid-frame is a closed stream,
// anything after Close is ErrSocketClosed.
func (s *LNSocket) readErr(err error) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	s.fail()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrStreamClosed
	}
	return fmt.Errorf("lnsocket: read: %w", err)
}

// fail marks the socket terminally broken. It does not wipe the
// transport keys: a decryption failure has already wiped them inside
// the transport, and otherwise they stay in place until Close.
func (s *LNSocket) fail() {
	s.failed.Store(true)
}

// Failed reports whether the socket hit a terminal transport error.
func (s *LNSocket) Failed() bool {
	return s.failed.Load()
}

// Close tears down the connection and wipes the transport keys. Safe
// to call multiple times and concurrently with Send/Recv.
func (s *LNSocket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	// Closing the conn first unblocks any reader stuck in a read.
	err := s.conn.Close()

	s.wmu.Lock()
	s.rmu.Lock()
	s.transport.Destroy()
	s.rmu.Unlock()
	s.wmu.Unlock()

	return err
}

// RemotePub returns the peer's static public key.
func (s *LNSocket) RemotePub() *secp256k1.PublicKey {
	return s.theirPub
}

// Addr returns the peer address this socket was dialed with.
func (s *LNSocket) Addr() string {
	return s.addr
}

// PeerInit returns the init message received from the peer.
func (s *LNSocket) PeerInit() Init {
	return s.peerInit
}

// Redial establishes a fresh socket to the same peer with the same
// key, address and options: a new TCP connection, a new handshake and
// a new init exchange. The receiver is left untouched.
func (s *LNSocket) Redial(ctx context.Context) (*LNSocket, error) {
	return ConnectAndInit(ctx, s.ourKey, s.theirPub, s.addr, s.opts...)
}
