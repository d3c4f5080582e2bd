// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package proxy dials Lightning peers through a SOCKS5 proxy. Onion
// endpoints cannot be reached directly: the hostname is handed to the
// proxy verbatim (address type DOMAINNAME) and never resolved locally.
package proxy

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

const (
	socksVersion     = 0x05
	methodNoAuth     = 0x00
	cmdConnect       = 0x01
	atypIPv4         = 0x01
	atypDomain       = 0x03
	atypIPv6         = 0x04
	replySucceeded   = 0x00
	maxDomainNameLen = 255
)

// TorConfig locates the SOCKS5 proxy, normally a local Tor daemon.
type TorConfig struct {
	Host string
	Port uint16
}

// DefaultTorConfig returns the standard local Tor SOCKS endpoint.
func DefaultTorConfig() *TorConfig {
	return &TorConfig{Host: "127.0.0.1", Port: 9050}
}

// Addr returns the proxy's host:port.
func (c *TorConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

// Socks5Error reports a proxy-level failure: a refused method, a
// non-success reply, or a malformed exchange.
type Socks5Error struct {
	Reason string
}

func (e *Socks5Error) Error() string {
	return "proxy: socks5: " + e.Reason
}

// replyReason maps RFC 1928 reply codes to their names.
func replyReason(code byte) string {
	switch code {
	case 0x01:
		return "general SOCKS server failure"
	case 0x02:
		return "connection not allowed by ruleset"
	case 0x03:
		return "network unreachable"
	case 0x04:
		return "host unreachable"
	case 0x05:
		return "connection refused"
	case 0x06:
		return "TTL expired"
	case 0x07:
		return "command not supported"
	case 0x08:
		return "address type not supported"
	default:
		return fmt.Sprintf("unknown reply code %#02x", code)
	}
}

// Dial connects to host:port through the configured proxy using the
// CONNECT command. The returned connection is ready for the Lightning
// handshake. A nil conf uses DefaultTorConfig.
func Dial(ctx context.Context, conf *TorConfig, host string, port uint16) (net.Conn, error) {
	if conf == nil {
		conf = DefaultTorConfig()
	}
	if len(host) > maxDomainNameLen {
		return nil, &Socks5Error{Reason: fmt.Sprintf("hostname too long: %d bytes", len(host))}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", conf.Addr())
	if err != nil {
		return nil, fmt.Errorf("proxy: could not reach socks5 proxy at %s: %w", conf.Addr(), err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := connect(conn, host, port); err != nil {
		conn.Close()
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}

// connect runs the SOCKS5 greeting and CONNECT exchange on conn.
func connect(conn net.Conn, host string, port uint16) error {
	// Greeting: version 5, one method, no authentication.
	if _, err := conn.Write([]byte{socksVersion, 0x01, methodNoAuth}); err != nil {
		return fmt.Errorf("proxy: greeting write: %w", err)
	}

	var resp [2]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return &Socks5Error{Reason: fmt.Sprintf("short greeting reply: %v", err)}
	}
	if resp[0] != socksVersion {
		return &Socks5Error{Reason: fmt.Sprintf("unexpected version %#02x", resp[0])}
	}
	if resp[1] != methodNoAuth {
		return &Socks5Error{Reason: "proxy requires authentication"}
	}

	// CONNECT with a DOMAINNAME target.
	req := make([]byte, 0, 7+len(host))
	req = append(req, socksVersion, cmdConnect, 0x00, atypDomain, byte(len(host)))
	req = append(req, host...)
	var portBE [2]byte
	binary.BigEndian.PutUint16(portBE[:], port)
	req = append(req, portBE[:]...)

	if _, err := conn.Write(req); err != nil {
		return fmt.Errorf("proxy: connect write: %w", err)
	}

	var head [4]byte
	if _, err := io.ReadFull(conn, head[:]); err != nil {
		return &Socks5Error{Reason: fmt.Sprintf("short connect reply: %v", err)}
	}
	if head[0] != socksVersion {
		return &Socks5Error{Reason: fmt.Sprintf("unexpected version %#02x", head[0])}
	}
	if head[1] != replySucceeded {
		return &Socks5Error{Reason: replyReason(head[1])}
	}

	// Consume the bound address; its shape depends on the atyp.
	var bound int
	switch head[3] {
	case atypIPv4:
		bound = 4
	case atypIPv6:
		bound = 16
	case atypDomain:
		var ln [1]byte
		if _, err := io.ReadFull(conn, ln[:]); err != nil {
			return &Socks5Error{Reason: fmt.Sprintf("short bound address: %v", err)}
		}
		bound = int(ln[0])
	default:
		return &Socks5Error{Reason: fmt.Sprintf("unknown bound address type %#02x", head[3])}
	}
	if _, err := io.CopyN(io.Discard, conn, int64(bound)+2); err != nil {
		return &Socks5Error{Reason: fmt.Sprintf("short bound address: %v", err)}
	}

	return nil
}
