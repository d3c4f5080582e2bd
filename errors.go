// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lnsocket

import (
	"errors"
	"fmt"
)

var (
	// ErrAddrParse is returned when a peer address cannot be split
	// into host and port, or the port is missing.
	ErrAddrParse = errors.New("lnsocket: invalid peer address")

	// ErrStreamClosed is returned when the underlying stream reaches
	// EOF in the middle of a frame, or before init was exchanged.
	ErrStreamClosed = errors.New("lnsocket: stream closed")

	// ErrTransportDecrypt is returned when a post-handshake frame
	// fails authentication. The socket is unusable afterwards.
	ErrTransportDecrypt = errors.New("lnsocket: transport decryption failed")

	// ErrSocketClosed is returned for operations on a closed socket.
	ErrSocketClosed = errors.New("lnsocket: socket closed")
)

// UnknownRequiredMessageError is returned when the peer sends an
// even-typed message this library does not understand. BOLT #1 makes
// unknown even types fatal to the connection.
type UnknownRequiredMessageError struct {
	Type uint16
}

func (e *UnknownRequiredMessageError) Error() string {
	return fmt.Sprintf("lnsocket: unknown required message type %d", e.Type)
}
