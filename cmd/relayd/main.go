// Copyright (c) 2024 The Relay Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

// relayd runs the TCP broadcast relay as a foreground process. It exits 0
// on a clean interrupt-driven shutdown and non-zero when the server fails
// to come online.
package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaykit/relay"
	"github.com/relaykit/relay/pkg/logging"
	goPool "github.com/relaykit/relay/pkg/pool/goroutine"
)

const (
	defaultPort = 9090

	// livenessDelay is how long the supervisor waits before probing
	// whether the event worker came online.
	livenessDelay = time.Second
)

var errNotAlive = errors.New("relayd: server failed to come online")

func main() {
	defer logging.Cleanup()

	var (
		host      string
		port      int
		reusePort bool
	)

	rootCmd := &cobra.Command{
		Use:   "relayd",
		Short: "A single-process TCP relay that broadcasts every client's bytes to all other clients",
		Long: `relayd accepts many concurrent TCP clients on one IPv4 endpoint and
forwards whatever bytes a client sends, verbatim, to every other connected
client. A client closes its own session by sending the 6-byte "quit"
sentinel; the operator stops the server with an interrupt signal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(host, port, reusePort)
		},
	}

	rootCmd.Flags().StringVar(&host, "host", "", "IPv4 address or host name to bind, empty means 0.0.0.0")
	rootCmd.Flags().IntVarP(&port, "port", "p", defaultPort, "TCP port to bind")
	rootCmd.Flags().BoolVar(&reusePort, "reuseport", false, "set SO_REUSEPORT on the listener")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		logging.Cleanup()
		os.Exit(1)
	}
}

func serve(host string, port int, reusePort bool) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	srv, err := relay.NewServer(addr, relay.WithReusePort(reusePort))
	if err != nil {
		return err
	}

	pool := goPool.Default()
	defer pool.Release()

	// The original deployment polls liveness after a short delay rather
	// than synchronizing with worker startup.
	aliveCh := make(chan bool, 1)
	if err := pool.Submit(func() {
		time.Sleep(livenessDelay)
		aliveCh <- srv.Alive()
	}); err != nil {
		_ = srv.Stop()
		return err
	}

	if !<-aliveCh {
		_ = srv.Stop()
		return errNotAlive
	}
	logging.Infof("relayd serving on %s, press Ctrl-C (SIGINT) to exit", srv.Addr())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	logging.Infof("interrupt received, shutting down")
	return srv.Stop()
}
