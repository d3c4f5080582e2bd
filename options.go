// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lnsocket

import (
	"time"

	"github.com/lnpeer/lnsocket/proxy"
)

// Option configures some aspect of an LNSocket.
type Option func(s *LNSocket)

// WithLogger sets a dedicated Logger for the socket.
func WithLogger(l *Logger) Option {
	return func(s *LNSocket) {
		s.logger = l
	}
}

// WithTorConfig routes onion hosts through the given SOCKS5 proxy
// instead of the default 127.0.0.1:9050.
func WithTorConfig(conf *proxy.TorConfig) Option {
	return func(s *LNSocket) {
		s.tor = conf
	}
}

// WithDialTimeout sets the maximum amount of time a dial will wait for
// the TCP connect to complete.
func WithDialTimeout(timeout time.Duration) Option {
	return func(s *LNSocket) {
		s.dialTimeout = timeout
	}
}

// WithFeatures sets the global and local feature vectors advertised in
// the init message. Both default to empty.
func WithFeatures(global, local []byte) Option {
	return func(s *LNSocket) {
		s.initMsg.GlobalFeatures = global
		s.initMsg.Features = local
	}
}

// WithNetworks sets the chain hashes advertised in the init networks
// TLV. No TLV is sent when empty.
func WithNetworks(chains ...[32]byte) Option {
	return func(s *LNSocket) {
		s.initMsg.Networks = chains
	}
}
