// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lnsocket

import (
	"encoding/binary"
	"fmt"
)

// BOLT #1 message types handled by the socket core. Custom types such
// as the commando family live in their own packages.
const (
	MsgWarning uint16 = 1
	MsgInit    uint16 = 16
	MsgError   uint16 = 17
	MsgPing    uint16 = 18
	MsgPong    uint16 = 19
)

// Message is a raw Lightning wire message: a big-endian 16-bit type
// followed by a type-specific payload.
type Message struct {
	Type    uint16
	Payload []byte
}

// Even reports whether the message type is even. Peers must understand
// even types; odd types may be ignored ("it's OK to be odd").
func (m Message) Even() bool { return m.Type&1 == 0 }

// Encode returns the wire form of the message.
func (m Message) Encode() []byte {
	buf := make([]byte, 2+len(m.Payload))
	binary.BigEndian.PutUint16(buf, m.Type)
	copy(buf[2:], m.Payload)
	return buf
}

// ParseMessage splits raw wire bytes into type and payload.
func ParseMessage(b []byte) (Message, error) {
	if len(b) < 2 {
		return Message{}, fmt.Errorf("lnsocket: message too short: %d bytes", len(b))
	}
	return Message{
		Type:    binary.BigEndian.Uint16(b),
		Payload: b[2:],
	}, nil
}

// networksTLVType is the BOLT #1 init TLV carrying the chain hashes the
// node is interested in.
const networksTLVType = 1

// Init is the BOLT #1 init message: two feature vectors and an
// optional networks TLV.
type Init struct {
	GlobalFeatures []byte
	Features       []byte
	Networks       [][32]byte
}

// Encode serializes the init payload: gflen/global features,
// flen/features, then the TLV stream.
func (in Init) Encode() []byte {
	buf := make([]byte, 0, 4+len(in.GlobalFeatures)+len(in.Features)+2+32*len(in.Networks))

	var ln [2]byte
	binary.BigEndian.PutUint16(ln[:], uint16(len(in.GlobalFeatures)))
	buf = append(buf, ln[:]...)
	buf = append(buf, in.GlobalFeatures...)

	binary.BigEndian.PutUint16(ln[:], uint16(len(in.Features)))
	buf = append(buf, ln[:]...)
	buf = append(buf, in.Features...)

	if len(in.Networks) > 0 {
		buf = append(buf, networksTLVType, byte(32*len(in.Networks)))
		for _, chain := range in.Networks {
			buf = append(buf, chain[:]...)
		}
	}
	return buf
}

// ParseInit decodes an init payload. Unknown TLV records are skipped;
// a truncated payload is an error.
func ParseInit(payload []byte) (Init, error) {
	var in Init

	rest, gf, err := readLengthPrefixed(payload)
	if err != nil {
		return in, fmt.Errorf("lnsocket: bad init global features: %w", err)
	}
	rest, f, err := readLengthPrefixed(rest)
	if err != nil {
		return in, fmt.Errorf("lnsocket: bad init features: %w", err)
	}
	in.GlobalFeatures = gf
	in.Features = f

	for len(rest) > 0 {
		if len(rest) < 2 {
			return in, fmt.Errorf("lnsocket: truncated init TLV stream")
		}
		typ, ln := rest[0], int(rest[1])
		rest = rest[2:]
		if len(rest) < ln {
			return in, fmt.Errorf("lnsocket: truncated init TLV record %d", typ)
		}
		if typ == networksTLVType && ln%32 == 0 {
			for off := 0; off < ln; off += 32 {
				var chain [32]byte
				copy(chain[:], rest[off:off+32])
				in.Networks = append(in.Networks, chain)
			}
		}
		rest = rest[ln:]
	}
	return in, nil
}

func readLengthPrefixed(b []byte) (rest, val []byte, err error) {
	if len(b) < 2 {
		return nil, nil, fmt.Errorf("short length prefix")
	}
	ln := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+ln {
		return nil, nil, fmt.Errorf("value shorter than its length prefix")
	}
	return b[2+ln:], b[2 : 2+ln], nil
}

// Ping is the BOLT #1 ping message. NumPongBytes is the number of
// bytes the peer should echo back in its pong.
type Ping struct {
	NumPongBytes uint16
	Ignored      []byte
}

// Encode serializes the ping payload.
func (p Ping) Encode() []byte {
	buf := make([]byte, 4+len(p.Ignored))
	binary.BigEndian.PutUint16(buf, p.NumPongBytes)
	binary.BigEndian.PutUint16(buf[2:], uint16(len(p.Ignored)))
	copy(buf[4:], p.Ignored)
	return buf
}

// ParsePing decodes a ping payload.
func ParsePing(payload []byte) (Ping, error) {
	if len(payload) < 4 {
		return Ping{}, fmt.Errorf("lnsocket: ping payload too short")
	}
	ln := int(binary.BigEndian.Uint16(payload[2:]))
	if len(payload) < 4+ln {
		return Ping{}, fmt.Errorf("lnsocket: ping ignored bytes truncated")
	}
	return Ping{
		NumPongBytes: binary.BigEndian.Uint16(payload),
		Ignored:      payload[4 : 4+ln],
	}, nil
}

// Pong is the BOLT #1 pong message: byteslen ignored bytes.
type Pong struct {
	Ignored []byte
}

// Encode serializes the pong payload.
func (p Pong) Encode() []byte {
	buf := make([]byte, 2+len(p.Ignored))
	binary.BigEndian.PutUint16(buf, uint16(len(p.Ignored)))
	copy(buf[2:], p.Ignored)
	return buf
}

// PongFor builds the pong answering the given ping, echoing the
// requested number of zero bytes.
func PongFor(p Ping) Pong {
	return Pong{Ignored: make([]byte, p.NumPongBytes)}
}
