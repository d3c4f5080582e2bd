// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package noise

import (
	"encoding/binary"
)

// Transport is the post-handshake cipher state: two independent
// halves, one per direction. A transport message on the wire is
//
//	LC(2+16) || C(N) || TM(16)
//
// where LC is the AEAD-sealed big-endian plaintext length and C||TM is
// the AEAD-sealed payload. Each seal or open consumes one nonce tick
// on its half; a logical message consumes two.
//
// Transport does no I/O and no locking. The owning socket must ensure
// each half has a single owner: the send half is used under the
// socket's write lock, the recv half only by the reader.
type Transport struct {
	send cipherState
	recv cipherState

	poisoned bool
}

// EncryptMessage seals one payload into a full wire frame.
func (t *Transport) EncryptMessage(payload []byte) ([]byte, error) {
	if t.poisoned {
		return nil, ErrPoisoned
	}
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	var ln [2]byte
	binary.BigEndian.PutUint16(ln[:], uint16(len(payload)))

	frame := make([]byte, 0, LengthHeaderSize+len(payload)+TagSize)
	frame = append(frame, t.send.encrypt(nil, ln[:])...)
	frame = append(frame, t.send.encrypt(nil, payload)...)
	return frame, nil
}

// DecryptLength opens the 18-byte length prefix of an incoming frame
// and returns the payload length that follows (excluding its tag).
func (t *Transport) DecryptLength(hdr []byte) (uint16, error) {
	if t.poisoned {
		return 0, ErrPoisoned
	}
	if len(hdr) != LengthHeaderSize {
		t.poison()
		return 0, ErrAuth
	}
	ln, err := t.recv.decrypt(nil, hdr)
	if err != nil {
		t.poison()
		return 0, err
	}
	return binary.BigEndian.Uint16(ln), nil
}

// DecryptMessage opens an encrypted payload of len+16 bytes read after
// a successful DecryptLength.
func (t *Transport) DecryptMessage(body []byte) ([]byte, error) {
	if t.poisoned {
		return nil, ErrPoisoned
	}
	payload, err := t.recv.decrypt(nil, body)
	if err != nil {
		t.poison()
		return nil, err
	}
	return payload, nil
}

// poison marks the transport unusable and wipes its keys. Any AEAD
// failure is unrecoverable: the nonce streams are out of step with the
// peer from that point on.
func (t *Transport) poison() {
	t.poisoned = true
	t.send.destroy()
	t.recv.destroy()
}

// Destroy wipes all transport key material.
func (t *Transport) Destroy() {
	t.poison()
}

// SendRotations and RecvRotations report completed key rotations on
// each half.
func (t *Transport) SendRotations() int { return t.send.rotations }
func (t *Transport) RecvRotations() int { return t.recv.rotations }
