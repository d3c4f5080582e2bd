// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lnsocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEncodeParse(t *testing.T) {
	m := Message{Type: MsgPing, Payload: []byte{0x00, 0x08, 0x00, 0x00}}
	raw := m.Encode()
	assert.Equal(t, []byte{0x00, 0x12, 0x00, 0x08, 0x00, 0x00}, raw)

	got, err := ParseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = ParseMessage([]byte{0x01})
	assert.Error(t, err)
}

func TestMessageEven(t *testing.T) {
	assert.True(t, Message{Type: MsgInit}.Even())
	assert.True(t, Message{Type: MsgPing}.Even())
	assert.False(t, Message{Type: MsgWarning}.Even())
	assert.False(t, Message{Type: MsgPong}.Even())
}

func TestInitRoundTrip(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		raw := Init{}.Encode()
		assert.Equal(t, []byte{0, 0, 0, 0}, raw)

		in, err := ParseInit(raw)
		require.NoError(t, err)
		assert.Empty(t, in.GlobalFeatures)
		assert.Empty(t, in.Features)
		assert.Empty(t, in.Networks)
	})

	t.Run("features_and_networks", func(t *testing.T) {
		var chain [32]byte
		for i := range chain {
			chain[i] = byte(i)
		}
		orig := Init{
			GlobalFeatures: []byte{0x02},
			Features:       []byte{0xaa, 0x01},
			Networks:       [][32]byte{chain},
		}

		in, err := ParseInit(orig.Encode())
		require.NoError(t, err)
		assert.Equal(t, orig.GlobalFeatures, in.GlobalFeatures)
		assert.Equal(t, orig.Features, in.Features)
		require.Len(t, in.Networks, 1)
		assert.Equal(t, chain, in.Networks[0])
	})

	t.Run("unknown_tlv_skipped", func(t *testing.T) {
		raw := Init{Features: []byte{0x01}}.Encode()
		raw = append(raw, 0x07, 0x02, 0xde, 0xad)

		in, err := ParseInit(raw)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01}, in.Features)
		assert.Empty(t, in.Networks)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := ParseInit([]byte{0x00, 0x05, 0x01})
		assert.Error(t, err)

		raw := Init{}.Encode()
		raw = append(raw, 0x01, 0x40, 0x00)
		_, err = ParseInit(raw)
		assert.Error(t, err)
	})
}

func TestPingPong(t *testing.T) {
	p := Ping{NumPongBytes: 8, Ignored: []byte{1, 2, 3}}
	got, err := ParsePing(p.Encode())
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = ParsePing([]byte{0x00})
	assert.Error(t, err)

	pong := PongFor(Ping{NumPongBytes: 4})
	assert.Len(t, pong.Ignored, 4)
	assert.Equal(t, []byte{0x00, 0x04, 0, 0, 0, 0}, pong.Encode())
}
