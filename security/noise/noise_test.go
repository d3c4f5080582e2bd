// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package noise

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestECDHSymmetry(t *testing.T) {
	for i := 0; i < 8; i++ {
		a, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)
		b, err := secp256k1.GeneratePrivateKey()
		require.NoError(t, err)

		ab := ecdh(a, b.PubKey())
		ba := ecdh(b, a.PubKey())
		assert.Equal(t, ab, ba)
	}
}

func TestHKDF2Deterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{0x01}, KeySize)
	ikm := bytes.Repeat([]byte{0x02}, KeySize)

	a1, a2 := hkdf2(salt, ikm)
	b1, b2 := hkdf2(salt, ikm)
	assert.Equal(t, a1, b1)
	assert.Equal(t, a2, b2)
	assert.NotEqual(t, a1, a2)

	// Zero-length ikm is valid; the final transport derivation uses it.
	c1, c2 := hkdf2(salt, nil)
	assert.NotEqual(t, a1, c1)
	assert.NotEqual(t, c1, c2)
}

// pairedStates returns a sending half and a matching receiving half,
// the way a completed handshake would orient them.
func pairedStates() (*cipherState, *cipherState) {
	var key, ck [KeySize]byte
	for i := range key {
		key[i] = byte(i)
		ck[i] = byte(0xff - i)
	}
	send := &cipherState{key: key, ck: ck}
	recv := &cipherState{key: key, ck: ck}
	return send, recv
}

func TestCipherStateRoundTrip(t *testing.T) {
	send, recv := pairedStates()

	for i := 0; i < 64; i++ {
		msg := []byte(fmt.Sprintf("message-%d", i))
		ct := send.encrypt(nil, msg)
		pt, err := recv.decrypt(nil, ct)
		require.NoError(t, err)
		assert.Equal(t, msg, pt)
	}
	assert.Equal(t, uint64(64), send.nonce)
	assert.Equal(t, uint64(64), recv.nonce)
}

// TestCipherStateRekeyBoundary drives a paired state across several
// rotation boundaries. Rotation is per AEAD operation: the counter
// resets each time it reaches 1000.
func TestCipherStateRekeyBoundary(t *testing.T) {
	send, recv := pairedStates()

	msg := []byte("rotate me")
	const ops = 3500
	for i := 0; i < ops; i++ {
		ct := send.encrypt(nil, msg)
		pt, err := recv.decrypt(nil, ct)
		require.NoError(t, err, "op %d", i)
		require.Equal(t, msg, pt, "op %d", i)
	}

	assert.Equal(t, 3, send.rotations)
	assert.Equal(t, 3, recv.rotations)
	assert.Equal(t, uint64(500), send.nonce)
}

// TestTransportRekeyPerOperation pins the rekey rule to individual
// AEAD operations, not logical messages: 2050 messages are 4100
// operations per direction, crossing four rotation boundaries.
func TestTransportRekeyPerOperation(t *testing.T) {
	ti, tr := pairedTransports(t)

	payload := []byte{}
	for i := 0; i < 2050; i++ {
		frame, err := ti.EncryptMessage(payload)
		require.NoError(t, err)

		ln, err := tr.DecryptLength(frame[:LengthHeaderSize])
		require.NoError(t, err)
		pt, err := tr.DecryptMessage(frame[LengthHeaderSize : LengthHeaderSize+int(ln)+TagSize])
		require.NoError(t, err)
		require.Empty(t, pt)
	}

	assert.Equal(t, 4, ti.SendRotations())
	assert.Equal(t, 4, tr.RecvRotations())
}

func pairedTransports(t *testing.T) (*Transport, *Transport) {
	t.Helper()

	initiatorKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	responderKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)

	ini, err := NewHandshake(initiatorKey, responderKey.PubKey(), nil)
	require.NoError(t, err)
	rsp, err := NewResponder(responderKey, nil)
	require.NoError(t, err)

	actOne, err := ini.ActOne()
	require.NoError(t, err)
	require.NoError(t, rsp.ProcessActOne(actOne))
	actTwo, err := rsp.ActTwo()
	require.NoError(t, err)
	require.NoError(t, ini.ProcessActTwo(actTwo))
	actThree, err := ini.ActThree()
	require.NoError(t, err)
	_, err = rsp.ProcessActThree(actThree)
	require.NoError(t, err)

	ti, err := ini.Transport()
	require.NoError(t, err)
	tr, err := rsp.Transport()
	require.NoError(t, err)
	return ti, tr
}

// TestTransportBitFlip flips every byte of an encrypted frame in turn;
// each corruption must fail authentication.
func TestTransportBitFlip(t *testing.T) {
	for pos := 0; pos < LengthHeaderSize+5+TagSize; pos++ {
		ti, tr := pairedTransports(t)

		frame, err := ti.EncryptMessage([]byte("hello"))
		require.NoError(t, err)
		frame[pos] ^= 0x01

		ln, err := tr.DecryptLength(frame[:LengthHeaderSize])
		if pos < LengthHeaderSize {
			assert.ErrorIs(t, err, ErrAuth, "header byte %d", pos)
			continue
		}
		require.NoError(t, err)
		_, err = tr.DecryptMessage(frame[LengthHeaderSize : LengthHeaderSize+int(ln)+TagSize])
		assert.ErrorIs(t, err, ErrAuth, "body byte %d", pos)
	}
}

func TestTransportPoisonedAfterFailure(t *testing.T) {
	ti, tr := pairedTransports(t)

	frame, err := ti.EncryptMessage([]byte("hello"))
	require.NoError(t, err)
	frame[0] ^= 0x01

	_, err = tr.DecryptLength(frame[:LengthHeaderSize])
	require.ErrorIs(t, err, ErrAuth)

	// Everything after the failure reports the poisoned state.
	_, err = tr.DecryptLength(make([]byte, LengthHeaderSize))
	assert.ErrorIs(t, err, ErrPoisoned)
	_, err = tr.EncryptMessage([]byte("x"))
	assert.ErrorIs(t, err, ErrPoisoned)
}

func TestTransportPayloadTooLarge(t *testing.T) {
	ti, _ := pairedTransports(t)
	_, err := ti.EncryptMessage(make([]byte, MaxPayloadSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}
