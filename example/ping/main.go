// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Example handshake check: connect to a Lightning node, exchange init,
// send a ping and wait for the pong.
//
//	ping -node 03f3c1...@ln.example.com:9735
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/lnpeer/lnsocket"
)

func main() {
	var (
		node    = flag.String("node", "", "peer as pubkey@host:port")
		timeout = flag.Duration("timeout", 30*time.Second, "overall timeout")
	)
	flag.Parse()

	if *node == "" {
		flag.Usage()
		os.Exit(2)
	}

	at := strings.IndexByte(*node, '@')
	if at < 0 {
		log.Fatal("bad -node: missing @ separator")
	}
	raw, err := hex.DecodeString((*node)[:at])
	if err != nil {
		log.Fatalf("bad -node pubkey: %v", err)
	}
	pubkey, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		log.Fatalf("bad -node pubkey: %v", err)
	}

	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		log.Fatalf("could not generate identity key: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	sock, err := lnsocket.ConnectAndInit(ctx, key, pubkey, (*node)[at+1:])
	if err != nil {
		log.Fatalf("could not connect: %v", err)
	}
	defer sock.Close()
	fmt.Printf("handshake + init completed in %v\n", time.Since(start))

	start = time.Now()
	if err := sock.Ping(16); err != nil {
		log.Fatalf("could not send ping: %v", err)
	}
	for {
		msg, err := sock.RecvMessage()
		if err != nil {
			log.Fatalf("read failed: %v", err)
		}
		if msg.Type == lnsocket.MsgPong {
			fmt.Printf("pong after %v (%d bytes)\n", time.Since(start), len(msg.Payload))
			return
		}
	}
}
