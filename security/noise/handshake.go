// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package noise

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Handshake sizes and framing constants per BOLT #8.
const (
	// HandshakeVersion is the only version byte currently defined.
	HandshakeVersion = 0x00

	// ActOneSize is the size of the first handshake message.
	ActOneSize = 1 + PubKeySize + TagSize

	// ActTwoSize is the size of the second handshake message.
	ActTwoSize = 1 + PubKeySize + TagSize

	// ActThreeSize is the size of the third handshake message.
	ActThreeSize = 1 + PubKeySize + TagSize + TagSize
)

const (
	protocolName = "Noise_XK_secp256k1_ChaChaPoly_SHA256"
	prologue     = "lightning"
)

// hsState tracks handshake progress. Acts must be driven in order; a
// failed act is terminal.
type hsState int

const (
	hsUninit hsState = iota
	hsActOneSent
	hsActTwoReceived
	hsComplete
	hsFailed

	// Responder-side progress.
	hsActOneReceived
	hsActTwoSent
)

// Handshake holds the symmetric state of an in-flight Noise_XK
// handshake. A Handshake is single-use: it either completes and yields
// a Transport, or fails and wipes its key material.
type Handshake struct {
	initiator bool
	state     hsState

	ck [KeySize]byte // chaining key
	h  [KeySize]byte // running transcript hash

	localStatic    *secp256k1.PrivateKey
	localEphemeral *secp256k1.PrivateKey
	remoteStatic   *secp256k1.PublicKey
	remoteEphem    *secp256k1.PublicKey

	// tempK2 bridges act two and act three on both sides.
	tempK2 [KeySize]byte
}

// NewHandshake returns the initiator side of a handshake toward the
// peer identified by remoteStatic. If ephemeral is nil a fresh key is
// generated; tests inject a fixed one to pin the BOLT #8 vectors.
func NewHandshake(localStatic *secp256k1.PrivateKey, remoteStatic *secp256k1.PublicKey,
	ephemeral *secp256k1.PrivateKey) (*Handshake, error) {

	if ephemeral == nil {
		var err error
		ephemeral, err = secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
		}
	}

	hs := &Handshake{
		initiator:      true,
		localStatic:    localStatic,
		localEphemeral: ephemeral,
		remoteStatic:   remoteStatic,
	}
	hs.init(remoteStatic)
	return hs, nil
}

// NewResponder returns the responder side of a handshake. The public
// API of this library is client-only; the responder exists so the test
// suite can run complete handshakes against a scripted peer.
func NewResponder(localStatic *secp256k1.PrivateKey, ephemeral *secp256k1.PrivateKey) (*Handshake, error) {
	if ephemeral == nil {
		var err error
		ephemeral, err = secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
		}
	}

	hs := &Handshake{
		initiator:      false,
		localStatic:    localStatic,
		localEphemeral: ephemeral,
	}
	hs.init(localStatic.PubKey())
	return hs, nil
}

// init seeds the symmetric state. XK pre-shares the responder's static
// key, so it is mixed into the transcript before any act.
func (hs *Handshake) init(responderStatic *secp256k1.PublicKey) {
	hs.h = sha256.Sum256([]byte(protocolName))
	hs.ck = hs.h
	hs.h = mixHash(hs.h, []byte(prologue))
	hs.h = mixHash(hs.h, responderStatic.SerializeCompressed())
}

// fail wipes all secret state and marks the handshake terminal.
func (hs *Handshake) fail() {
	zero(hs.ck[:])
	zero(hs.tempK2[:])
	if hs.localEphemeral != nil {
		hs.localEphemeral.Zero()
	}
	hs.state = hsFailed
}

// ActOne produces the 50-byte first message:
// 0x00 || e.pub || tag.
func (hs *Handshake) ActOne() ([ActOneSize]byte, error) {
	var act [ActOneSize]byte
	if !hs.initiator || hs.state != hsUninit {
		return act, fmt.Errorf("%w: act one out of order", ErrHandshakeProtocol)
	}

	ePub := hs.localEphemeral.PubKey().SerializeCompressed()
	hs.h = mixHash(hs.h, ePub)

	ss := ecdh(hs.localEphemeral, hs.remoteStatic)
	ck, tempK1 := hkdf2(hs.ck[:], ss[:])
	zero(hs.ck[:])
	zero(ss[:])
	hs.ck = ck

	tag := aeadEncrypt(tempK1, 0, hs.h[:], nil)
	zero(tempK1[:])
	hs.h = mixHash(hs.h, tag)

	act[0] = HandshakeVersion
	copy(act[1:], ePub)
	copy(act[1+PubKeySize:], tag)

	hs.state = hsActOneSent
	return act, nil
}

// ProcessActTwo consumes the responder's 50-byte reply and advances to
// the point where ActThree can be produced.
func (hs *Handshake) ProcessActTwo(act [ActTwoSize]byte) error {
	if !hs.initiator || hs.state != hsActOneSent {
		return fmt.Errorf("%w: act two out of order", ErrHandshakeProtocol)
	}
	if act[0] != HandshakeVersion {
		hs.fail()
		return fmt.Errorf("%w: unknown handshake version %d", ErrHandshakeProtocol, act[0])
	}

	re, err := secp256k1.ParsePubKey(act[1 : 1+PubKeySize])
	if err != nil {
		hs.fail()
		return fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	hs.remoteEphem = re
	hs.h = mixHash(hs.h, act[1:1+PubKeySize])

	ss := ecdh(hs.localEphemeral, re)
	ck, tempK2 := hkdf2(hs.ck[:], ss[:])
	zero(hs.ck[:])
	zero(ss[:])
	hs.ck = ck
	hs.tempK2 = tempK2

	tag := act[1+PubKeySize:]
	if _, err := aeadDecrypt(hs.tempK2, 0, hs.h[:], tag); err != nil {
		hs.fail()
		return ErrHandshakeAuth
	}
	hs.h = mixHash(hs.h, tag)

	hs.state = hsActTwoReceived
	return nil
}

// ActThree produces the final 66-byte message, completing the
// handshake: 0x00 || enc(s.pub) || tag.
func (hs *Handshake) ActThree() ([ActThreeSize]byte, error) {
	var act [ActThreeSize]byte
	if !hs.initiator || hs.state != hsActTwoReceived {
		return act, fmt.Errorf("%w: act three out of order", ErrHandshakeProtocol)
	}

	sPub := hs.localStatic.PubKey().SerializeCompressed()
	ct := aeadEncrypt(hs.tempK2, 1, hs.h[:], sPub)
	hs.h = mixHash(hs.h, ct)

	ss := ecdh(hs.localStatic, hs.remoteEphem)
	ck, tempK3 := hkdf2(hs.ck[:], ss[:])
	zero(hs.ck[:])
	zero(ss[:])
	hs.ck = ck

	tag := aeadEncrypt(tempK3, 0, hs.h[:], nil)
	zero(tempK3[:])

	act[0] = HandshakeVersion
	copy(act[1:], ct)
	copy(act[1+len(ct):], tag)

	hs.state = hsComplete
	return act, nil
}

// ProcessActOne consumes the initiator's first message on the
// responder side.
func (hs *Handshake) ProcessActOne(act [ActOneSize]byte) error {
	if hs.initiator || hs.state != hsUninit {
		return fmt.Errorf("%w: act one out of order", ErrHandshakeProtocol)
	}
	if act[0] != HandshakeVersion {
		hs.fail()
		return fmt.Errorf("%w: unknown handshake version %d", ErrHandshakeProtocol, act[0])
	}

	re, err := secp256k1.ParsePubKey(act[1 : 1+PubKeySize])
	if err != nil {
		hs.fail()
		return fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	hs.remoteEphem = re
	hs.h = mixHash(hs.h, act[1:1+PubKeySize])

	ss := ecdh(hs.localStatic, re)
	ck, tempK1 := hkdf2(hs.ck[:], ss[:])
	zero(hs.ck[:])
	zero(ss[:])
	hs.ck = ck

	tag := act[1+PubKeySize:]
	if _, err := aeadDecrypt(tempK1, 0, hs.h[:], tag); err != nil {
		zero(tempK1[:])
		hs.fail()
		return ErrHandshakeAuth
	}
	zero(tempK1[:])
	hs.h = mixHash(hs.h, tag)

	hs.state = hsActOneReceived
	return nil
}

// ActTwo produces the responder's 50-byte reply.
func (hs *Handshake) ActTwo() ([ActTwoSize]byte, error) {
	var act [ActTwoSize]byte
	if hs.initiator || hs.state != hsActOneReceived {
		return act, fmt.Errorf("%w: act two out of order", ErrHandshakeProtocol)
	}

	ePub := hs.localEphemeral.PubKey().SerializeCompressed()
	hs.h = mixHash(hs.h, ePub)

	ss := ecdh(hs.localEphemeral, hs.remoteEphem)
	ck, tempK2 := hkdf2(hs.ck[:], ss[:])
	zero(hs.ck[:])
	zero(ss[:])
	hs.ck = ck
	hs.tempK2 = tempK2

	tag := aeadEncrypt(hs.tempK2, 0, hs.h[:], nil)
	hs.h = mixHash(hs.h, tag)

	act[0] = HandshakeVersion
	copy(act[1:], ePub)
	copy(act[1+PubKeySize:], tag)

	hs.state = hsActTwoSent
	return act, nil
}

// ProcessActThree consumes the initiator's final message, learning the
// initiator's static key and completing the handshake.
func (hs *Handshake) ProcessActThree(act [ActThreeSize]byte) (*secp256k1.PublicKey, error) {
	if hs.initiator || hs.state != hsActTwoSent {
		return nil, fmt.Errorf("%w: act three out of order", ErrHandshakeProtocol)
	}
	if act[0] != HandshakeVersion {
		hs.fail()
		return nil, fmt.Errorf("%w: unknown handshake version %d", ErrHandshakeProtocol, act[0])
	}

	ct := act[1 : 1+PubKeySize+TagSize]
	sPub, err := aeadDecrypt(hs.tempK2, 1, hs.h[:], ct)
	if err != nil {
		hs.fail()
		return nil, ErrHandshakeAuth
	}
	hs.h = mixHash(hs.h, ct)

	remoteStatic, err := secp256k1.ParsePubKey(sPub)
	if err != nil {
		hs.fail()
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	hs.remoteStatic = remoteStatic

	ss := ecdh(hs.localEphemeral, remoteStatic)
	ck, tempK3 := hkdf2(hs.ck[:], ss[:])
	zero(hs.ck[:])
	zero(ss[:])
	hs.ck = ck

	tag := act[1+PubKeySize+TagSize:]
	if _, err := aeadDecrypt(tempK3, 0, hs.h[:], tag); err != nil {
		zero(tempK3[:])
		hs.fail()
		return nil, ErrHandshakeAuth
	}
	zero(tempK3[:])

	hs.state = hsComplete
	return remoteStatic, nil
}

// Transport derives the two transport cipher halves from a completed
// handshake. The handshake's remaining secrets are consumed: the
// Handshake must not be reused afterwards.
func (hs *Handshake) Transport() (*Transport, error) {
	if hs.state != hsComplete {
		return nil, fmt.Errorf("%w: handshake not complete", ErrHandshakeProtocol)
	}

	// Final derivation uses a zero-length ikm.
	sk, rk := hkdf2(hs.ck[:], nil)

	t := &Transport{}
	if hs.initiator {
		t.send.key = sk
		t.recv.key = rk
	} else {
		t.send.key = rk
		t.recv.key = sk
	}
	t.send.ck = hs.ck
	t.recv.ck = hs.ck

	zero(hs.ck[:])
	zero(hs.tempK2[:])
	hs.localEphemeral.Zero()
	hs.state = hsFailed // single use

	return t, nil
}

// RemoteStatic returns the peer's static public key: the pre-shared
// key on the initiator side, the key learned in act three on the
// responder side.
func (hs *Handshake) RemoteStatic() *secp256k1.PublicKey {
	return hs.remoteStatic
}
