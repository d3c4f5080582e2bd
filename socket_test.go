// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lnsocket_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lnpeer/lnsocket"
	"github.com/lnpeer/lnsocket/internal/testutil"
)

func newKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

// echoHandler reflects every post-init message back to the client.
func echoHandler(pc *testutil.PeerConn, msg lnsocket.Message) error {
	return pc.WriteMessage(msg)
}

func TestConnectAndInit(t *testing.T) {
	peer, err := testutil.NewMockPeer(nil)
	require.NoError(t, err)
	defer peer.Close()

	sock, err := lnsocket.ConnectAndInit(context.Background(), newKey(t), peer.PubKey(), peer.Addr(),
		lnsocket.WithLogger(lnsocket.DevNullLogger))
	require.NoError(t, err)
	defer sock.Close()

	assert.Equal(t, peer.Addr(), sock.Addr())
	assert.True(t, sock.RemotePub().IsEqual(peer.PubKey()))
	assert.False(t, sock.Failed())
}

func TestPingPongExchange(t *testing.T) {
	peer, err := testutil.NewMockPeer(func(pc *testutil.PeerConn, msg lnsocket.Message) error {
		if msg.Type != lnsocket.MsgPing {
			return nil
		}
		ping, err := lnsocket.ParsePing(msg.Payload)
		if err != nil {
			return err
		}
		return pc.WriteMessage(lnsocket.Message{
			Type:    lnsocket.MsgPong,
			Payload: lnsocket.PongFor(ping).Encode(),
		})
	})
	require.NoError(t, err)
	defer peer.Close()

	sock, err := lnsocket.ConnectAndInit(context.Background(), newKey(t), peer.PubKey(), peer.Addr(),
		lnsocket.WithLogger(lnsocket.DevNullLogger))
	require.NoError(t, err)
	defer sock.Close()

	require.NoError(t, sock.Ping(16))

	msg, err := sock.RecvMessage()
	require.NoError(t, err)
	require.Equal(t, lnsocket.MsgPong, msg.Type)
	// byteslen prefix plus the echoed zero bytes.
	assert.Len(t, msg.Payload, 2+16)
}

// TestRekeyStress sends enough messages to cross the 1000-operation
// key rotation several times in both directions.
func TestRekeyStress(t *testing.T) {
	peer, err := testutil.NewMockPeer(echoHandler)
	require.NoError(t, err)
	defer peer.Close()

	sock, err := lnsocket.ConnectAndInit(context.Background(), newKey(t), peer.PubKey(), peer.Addr(),
		lnsocket.WithLogger(lnsocket.DevNullLogger))
	require.NoError(t, err)
	defer sock.Close()

	const oddType = uint16(0x7fff)
	msg := lnsocket.Message{Type: oddType}
	for i := 0; i < 2050; i++ {
		require.NoError(t, sock.SendMessage(msg), "message %d", i)

		got, err := sock.RecvMessage()
		require.NoError(t, err, "message %d", i)
		require.Equal(t, oddType, got.Type, "message %d", i)
		require.Empty(t, got.Payload, "message %d", i)
	}
}

func TestUnknownEvenDuringInitFatal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	peerKey := newKey(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		pc, err := testutil.RespondHandshake(conn, peerKey)
		if err != nil {
			conn.Close()
			return
		}
		// An unknown even message instead of init.
		_ = pc.WriteMessage(lnsocket.Message{Type: 0x00aa})
	}()

	_, err = lnsocket.ConnectAndInit(context.Background(), newKey(t), peerKey.PubKey(), ln.Addr().String(),
		lnsocket.WithLogger(lnsocket.DevNullLogger))
	require.Error(t, err)
	var unknownErr *lnsocket.UnknownRequiredMessageError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, uint16(0x00aa), unknownErr.Type)
}

func TestUnknownOddDuringInitSkipped(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	peerKey := newKey(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		pc, err := testutil.RespondHandshake(conn, peerKey)
		if err != nil {
			conn.Close()
			return
		}
		// Odd chatter before init must be tolerated.
		_ = pc.WriteMessage(lnsocket.Message{Type: 0x00ab, Payload: []byte{1, 2, 3}})
		_ = pc.WriteMessage(lnsocket.Message{Type: lnsocket.MsgInit, Payload: lnsocket.Init{}.Encode()})
		for {
			if _, err := pc.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sock, err := lnsocket.ConnectAndInit(context.Background(), newKey(t), peerKey.PubKey(), ln.Addr().String(),
		lnsocket.WithLogger(lnsocket.DevNullLogger))
	require.NoError(t, err)
	sock.Close()
}

func TestEOFBeforeInit(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	peerKey := newKey(t)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		pc, err := testutil.RespondHandshake(conn, peerKey)
		if err != nil {
			conn.Close()
			return
		}
		// Drain the client's init so the close reaches the client as a
		// clean EOF rather than a reset over unread data.
		_, _ = pc.ReadMessage()
		conn.Close()
	}()

	_, err = lnsocket.ConnectAndInit(context.Background(), newKey(t), peerKey.PubKey(), ln.Addr().String(),
		lnsocket.WithLogger(lnsocket.DevNullLogger))
	require.ErrorIs(t, err, lnsocket.ErrStreamClosed)
}

func TestCorruptFramePoisonsSocket(t *testing.T) {
	corrupt := make(chan *testutil.PeerConn, 1)
	peer, err := testutil.NewMockPeer(func(pc *testutil.PeerConn, msg lnsocket.Message) error {
		select {
		case corrupt <- pc:
		default:
		}
		return nil
	})
	require.NoError(t, err)
	defer peer.Close()

	sock, err := lnsocket.ConnectAndInit(context.Background(), newKey(t), peer.PubKey(), peer.Addr(),
		lnsocket.WithLogger(lnsocket.DevNullLogger))
	require.NoError(t, err)
	defer sock.Close()

	// Kick the handler so we get the live PeerConn, then have it write
	// garbage that cannot authenticate.
	require.NoError(t, sock.SendMessage(lnsocket.Message{Type: 0x7fff}))
	pc := <-corrupt
	require.NoError(t, pc.WriteRaw(make([]byte, 64)))

	_, err = sock.Recv()
	require.ErrorIs(t, err, lnsocket.ErrTransportDecrypt)
	assert.True(t, sock.Failed())
}

func TestWrongRemoteKeyFailsHandshake(t *testing.T) {
	peer, err := testutil.NewMockPeer(nil)
	require.NoError(t, err)
	defer peer.Close()

	// Authenticating the peer under the wrong static key must fail in
	// act two.
	wrong := newKey(t).PubKey()
	_, err = lnsocket.ConnectAndInit(context.Background(), newKey(t), wrong, peer.Addr(),
		lnsocket.WithLogger(lnsocket.DevNullLogger))
	require.Error(t, err)
}

func TestAddrParseErrors(t *testing.T) {
	key := newKey(t)
	pub := newKey(t).PubKey()

	_, err := lnsocket.ConnectAndInit(context.Background(), key, pub, "no-port-here")
	assert.ErrorIs(t, err, lnsocket.ErrAddrParse)

	_, err = lnsocket.ConnectAndInit(context.Background(), key, pub, "host:not-a-port")
	assert.ErrorIs(t, err, lnsocket.ErrAddrParse)
}

func TestIsOnionHost(t *testing.T) {
	assert.True(t, lnsocket.IsOnionHost("3g2upl4pq6kufc4m.onion"))
	assert.True(t, lnsocket.IsOnionHost("EXAMPLE.ONION"))
	assert.False(t, lnsocket.IsOnionHost("example.com"))
	assert.False(t, lnsocket.IsOnionHost("onion.example.com"))
}

func TestSendAfterClose(t *testing.T) {
	peer, err := testutil.NewMockPeer(nil)
	require.NoError(t, err)
	defer peer.Close()

	sock, err := lnsocket.ConnectAndInit(context.Background(), newKey(t), peer.PubKey(), peer.Addr(),
		lnsocket.WithLogger(lnsocket.DevNullLogger))
	require.NoError(t, err)
	require.NoError(t, sock.Close())

	assert.ErrorIs(t, sock.SendMessage(lnsocket.Message{Type: 0x7fff}), lnsocket.ErrSocketClosed)
	_, err = sock.Recv()
	assert.ErrorIs(t, err, lnsocket.ErrSocketClosed)
}

func TestDialTimeout(t *testing.T) {
	// A non-routable address: the dial must respect the timeout.
	key := newKey(t)
	pub := newKey(t).PubKey()

	start := time.Now()
	_, err := lnsocket.ConnectAndInit(context.Background(), key, pub, "240.0.0.1:9735",
		lnsocket.WithDialTimeout(200*time.Millisecond))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
