// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package commando is a client for core-lightning's Commando protocol:
// JSON-RPC calls tunneled over the Lightning peer-to-peer transport,
// authenticated by a rune capability token.
package commando

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/lnpeer/lnsocket"
)

// Custom Lightning message types used by Commando.
const (
	// MsgCommand carries a request: a big-endian u64 request id
	// followed by the JSON command body.
	MsgCommand uint16 = 0x4c4f

	// MsgReplyCont carries a non-terminal response fragment.
	MsgReplyCont uint16 = 0x594b

	// MsgReplyTerm carries the final response fragment.
	MsgReplyTerm uint16 = 0x594d
)

// command is the JSON body of a request. The id is duplicated into the
// JSON as a string, as core-lightning echoes it in the response.
type command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Rune   string          `json:"rune"`
	ID     string          `json:"id"`
}

// encodeCommand builds the full wire message for one request.
func encodeCommand(id uint64, method string, params interface{}, rune_ string) ([]byte, error) {
	rawParams, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("commando: could not encode params: %w", err)
	}

	body, err := json.Marshal(command{
		Method: method,
		Params: rawParams,
		Rune:   rune_,
		ID:     strconv.FormatUint(id, 10),
	})
	if err != nil {
		return nil, fmt.Errorf("commando: could not encode command: %w", err)
	}

	msg := make([]byte, 0, 2+8+len(body))
	msg = binary.BigEndian.AppendUint16(msg, MsgCommand)
	msg = binary.BigEndian.AppendUint64(msg, id)
	msg = append(msg, body...)
	return msg, nil
}

// marshalParams accepts pre-encoded JSON, nil (encoded as an empty
// object), or any JSON-marshalable value.
func marshalParams(params interface{}) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(params)
	}
}

// replyChunk is one fragment of a response.
type replyChunk struct {
	reqID uint64
	data  []byte
	done  bool
}

// parseReplyChunk decodes a reply fragment from a raw message. The
// second return is false for non-commando types.
func parseReplyChunk(m lnsocket.Message) (replyChunk, bool, error) {
	if m.Type != MsgReplyCont && m.Type != MsgReplyTerm {
		return replyChunk{}, false, nil
	}
	if len(m.Payload) < 8 {
		return replyChunk{}, true, fmt.Errorf("commando: reply payload too short: %d bytes", len(m.Payload))
	}
	return replyChunk{
		reqID: binary.BigEndian.Uint64(m.Payload),
		data:  m.Payload[8:],
		done:  m.Type == MsgReplyTerm,
	}, true, nil
}

// rpcEnvelope is the JSON-RPC response object assembled from the
// reply fragments.
type rpcEnvelope struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is a JSON-RPC error returned by the peer. It is never
// retried: the peer saw and rejected the request.
type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("commando: rpc error %d: %s", e.Code, e.Message)
}
