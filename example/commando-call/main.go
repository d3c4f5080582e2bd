// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Example commando client: connect to a core-lightning node and invoke
// an RPC method authenticated by a rune.
//
//	commando-call -node 03f3c1...@ln.example.com:9735 -rune <rune> -method getinfo
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/lnpeer/lnsocket"
	"github.com/lnpeer/lnsocket/commando"
)

func main() {
	var (
		node    = flag.String("node", "", "peer as pubkey@host:port")
		runeTok = flag.String("rune", "", "commando rune token")
		method  = flag.String("method", "getinfo", "RPC method to invoke")
		params  = flag.String("params", "{}", "RPC params as JSON")
		timeout = flag.Duration("timeout", 30*time.Second, "per-call timeout")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *node == "" || *runeTok == "" {
		flag.Usage()
		os.Exit(2)
	}

	pubkey, addr, err := splitNode(*node)
	if err != nil {
		log.Fatalf("bad -node: %v", err)
	}

	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		log.Fatalf("could not generate identity key: %v", err)
	}

	logger := lnsocket.DefaultLogger
	if *verbose {
		logger = lnsocket.NewLogger(lnsocket.LogLevelDebug)
	}

	ctx := context.Background()
	sock, err := lnsocket.ConnectAndInit(ctx, key, pubkey, addr, lnsocket.WithLogger(logger))
	if err != nil {
		log.Fatalf("could not connect: %v", err)
	}

	opts := commando.DefaultClientOptions()
	opts.CallOpts = commando.DefaultCallOpts().WithTimeout(*timeout)
	opts.Logger = logger
	client := commando.Spawn(sock, *runeTok, opts)
	defer client.Close()

	res, err := client.Call(ctx, *method, json.RawMessage(*params))
	if err != nil {
		log.Fatalf("%s failed: %v", *method, err)
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(res, &pretty); err == nil {
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Println(string(out))
		return
	}
	fmt.Println(string(res))
}

// splitNode parses "pubkey@host:port".
func splitNode(s string) (*secp256k1.PublicKey, string, error) {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return nil, "", fmt.Errorf("missing @ separator")
	}
	raw, err := hex.DecodeString(s[:at])
	if err != nil {
		return nil, "", fmt.Errorf("bad pubkey hex: %w", err)
	}
	pubkey, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, "", fmt.Errorf("bad pubkey: %w", err)
	}
	return pubkey, s[at+1:], nil
}
