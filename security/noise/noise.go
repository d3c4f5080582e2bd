// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package noise implements the Lightning Network transport encryption
// as specified by BOLT #8: a Noise_XK handshake over secp256k1 followed
// by a ChaCha20-Poly1305 message cipher with per-direction key rotation.
// https://github.com/lightning/bolts/blob/master/08-transport.md
package noise

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of symmetric keys, chaining keys and the
	// running handshake hash.
	KeySize = 32

	// PubKeySize is the size of a compressed secp256k1 public key.
	PubKeySize = 33

	// TagSize is the size of a Poly1305 authentication tag.
	TagSize = 16

	// MaxPayloadSize is the largest plaintext a single transport
	// message can carry: the length prefix is a 16-bit integer.
	MaxPayloadSize = 65535

	// LengthHeaderSize is the size of the encrypted length prefix of a
	// transport message: 2 plaintext bytes plus the tag.
	LengthHeaderSize = 2 + TagSize

	// keyRotationInterval is the number of AEAD operations a cipher
	// half may perform before it must rotate its key.
	keyRotationInterval = 1000
)

var (
	// ErrAuth is returned when an AEAD tag fails to verify on a
	// transport message.
	ErrAuth = errors.New("noise: message authentication failed")

	// ErrHandshakeAuth is returned when an AEAD tag fails to verify
	// during one of the handshake acts.
	ErrHandshakeAuth = errors.New("noise: handshake authentication failed")

	// ErrHandshakeProtocol is returned on a malformed handshake act:
	// wrong length, wrong version byte, or acts driven out of order.
	ErrHandshakeProtocol = errors.New("noise: handshake protocol violation")

	// ErrCrypto is returned when a curve primitive rejects its input,
	// e.g. a public key that is not a point on secp256k1.
	ErrCrypto = errors.New("noise: invalid cryptographic input")

	// ErrPoisoned is returned once a transport has seen a decryption
	// failure; no further messages may be sent or received on it.
	ErrPoisoned = errors.New("noise: transport poisoned by earlier failure")

	// ErrPayloadTooLarge is returned for plaintexts over MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("noise: payload exceeds 65535 bytes")
)

// ecdh computes the BOLT #8 shared secret: the SHA-256 of the
// compressed serialization of priv*pub.
func ecdh(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) [KeySize]byte {
	var point, shared secp256k1.JacobianPoint
	pub.AsJacobian(&point)
	secp256k1.ScalarMultNonConst(&priv.Key, &point, &shared)
	shared.ToAffine()
	sp := secp256k1.NewPublicKey(&shared.X, &shared.Y)
	return sha256.Sum256(sp.SerializeCompressed())
}

// hkdf2 derives two 32-byte keys from salt and ikm with HKDF-SHA256,
// empty info. ikm may be empty; BOLT #8 derives the final transport
// keys from a zero-length ikm.
func hkdf2(salt, ikm []byte) (k1, k2 [KeySize]byte) {
	r := hkdf.New(sha256.New, ikm, salt, nil)
	// The reader cannot fail before 255*32 bytes.
	_, _ = io.ReadFull(r, k1[:])
	_, _ = io.ReadFull(r, k2[:])
	return k1, k2
}

// nonceBytes encodes a BOLT #8 AEAD nonce: 4 zero bytes followed by
// the little-endian 64-bit counter.
func nonceBytes(n uint64) [chacha20poly1305.NonceSize]byte {
	var nonce [chacha20poly1305.NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], n)
	return nonce
}

// aeadEncrypt seals plaintext with ChaCha20-Poly1305 under the given
// key, counter nonce and associated data, returning ciphertext||tag.
func aeadEncrypt(key [KeySize]byte, n uint64, ad, plaintext []byte) []byte {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		// Key size is fixed at compile time.
		panic("noise: " + err.Error())
	}
	nonce := nonceBytes(n)
	return aead.Seal(nil, nonce[:], plaintext, ad)
}

// aeadDecrypt opens ciphertext||tag. Tag mismatch reports ErrAuth.
func aeadDecrypt(key [KeySize]byte, n uint64, ad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		panic("noise: " + err.Error())
	}
	nonce := nonceBytes(n)
	plaintext, err := aead.Open(nil, nonce[:], ciphertext, ad)
	if err != nil {
		return nil, ErrAuth
	}
	return plaintext, nil
}

// mixHash returns SHA256(h || data), the Noise MixHash operation.
func mixHash(h [KeySize]byte, data []byte) [KeySize]byte {
	d := sha256.New()
	d.Write(h[:])
	d.Write(data)
	var out [KeySize]byte
	copy(out[:], d.Sum(nil))
	return out
}

// zero wipes b. Secret material is always wiped through this helper
// rather than left to the allocator.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// cipherState is one direction of the transport cipher: a symmetric
// key, its nonce counter, and the chaining key consumed by rotation.
type cipherState struct {
	key   [KeySize]byte
	ck    [KeySize]byte
	nonce uint64
	// rotations counts completed key rotations. Only read by tests.
	rotations int
}

// rotateIfNeeded rotates the key once the nonce counter reaches the
// rotation interval. Each half rotates independently.
func (cs *cipherState) rotateIfNeeded() {
	if cs.nonce < keyRotationInterval {
		return
	}
	ck, key := hkdf2(cs.ck[:], cs.key[:])
	zero(cs.ck[:])
	zero(cs.key[:])
	cs.ck = ck
	cs.key = key
	cs.nonce = 0
	cs.rotations++
}

// encrypt seals plaintext under the current key and nonce, then
// advances the nonce. One call is one AEAD operation.
func (cs *cipherState) encrypt(ad, plaintext []byte) []byte {
	cs.rotateIfNeeded()
	ct := aeadEncrypt(cs.key, cs.nonce, ad, plaintext)
	cs.nonce++
	return ct
}

// decrypt opens ciphertext under the current key and nonce, advancing
// the nonce only on success.
func (cs *cipherState) decrypt(ad, ciphertext []byte) ([]byte, error) {
	cs.rotateIfNeeded()
	pt, err := aeadDecrypt(cs.key, cs.nonce, ad, ciphertext)
	if err != nil {
		return nil, err
	}
	cs.nonce++
	return pt, nil
}

// destroy wipes the half's key material.
func (cs *cipherState) destroy() {
	zero(cs.key[:])
	zero(cs.ck[:])
	cs.nonce = 0
}
