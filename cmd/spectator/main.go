// Command spectator observes a running duel. Two independent modes are
// available: -ws connects to a host's browser-facing observer bridge
// (internal/observer) and prints each RoundEvent as JSON; -udp-host speaks
// the UDP Spectator role from spec.md §4.7 directly, printing each forwarded
// attack-round message as JSON as it arrives (HANDSHAKE_RESPONSE and
// GAME_OVER are not printed; chat lines go to stderr). Exactly one of the
// two must be given.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"duelforge/engine/internal/config"
	"duelforge/engine/internal/events"
	"duelforge/engine/internal/logging"
	"duelforge/engine/internal/message"
	"duelforge/engine/internal/peer"
	"duelforge/engine/internal/wire"
)

func main() {
	wsAddr := flag.String("ws", "", "observer bridge address, e.g. ws://127.0.0.1:34128/spectate")
	udpHost := flag.String("udp-host", "", "UDP address of the host to observe directly, via spec.md's Spectator role")
	name := flag.String("name", "spectator", "display name used for CHAT_MESSAGE in -udp-host mode")
	listenAddr := flag.String("listen", "", "UDP address to bind for -udp-host mode (overrides DUELFORGE_LISTEN_ADDR)")
	flag.Parse()

	if (*wsAddr == "") == (*udpHost == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -ws or -udp-host is required")
		os.Exit(1)
	}

	if *wsAddr != "" {
		runWebSocketSpectator(*wsAddr)
		return
	}
	runUDPSpectator(*udpHost, *listenAddr, *name)
}

func runWebSocketSpectator(addr string) {
	target := addr
	if !strings.HasPrefix(target, "ws://") && !strings.HasPrefix(target, "wss://") {
		target = "ws://" + target
	}

	conn, _, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to connect to observer bridge:", err)
		os.Exit(2)
	}
	defer conn.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		_ = conn.Close()
	}()

	enc := json.NewEncoder(os.Stdout)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			fmt.Fprintln(os.Stderr, "observer connection closed:", err)
			return
		}
		var event events.RoundEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			fmt.Fprintln(os.Stderr, "malformed round event:", err)
			continue
		}
		if err := enc.Encode(event); err != nil {
			fmt.Fprintln(os.Stderr, "encode error:", err)
			return
		}
	}
}

func runUDPSpectator(hostAddr, listenAddr, name string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logging.ReplaceGlobals(logger)

	enc := json.NewEncoder(os.Stdout)
	observe := func(kind message.Kind, msg wire.Message) {
		_ = enc.Encode(map[string]any{"kind": kind, "fields": map[string]string(msg)})
	}

	spectator, resolvedHost, err := peer.NewSpectator(name, cfg.ListenAddr, hostAddr,
		peer.WithLogger(logger),
		peer.WithObserveHandler(observe),
		peer.WithChatHandler(func(senderName, contentType, payload string) {
			fmt.Fprintf(os.Stderr, "[chat] %s (%s): %s\n", senderName, contentType, payload)
		}),
	)
	if err != nil {
		logger.Fatal("failed to start spectator listener", logging.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	handshakeCtx, handshakeCancel := context.WithTimeout(ctx, 5*time.Second)
	err = spectator.Handshake(handshakeCtx, resolvedHost, "")
	handshakeCancel()
	if err != nil {
		logger.Fatal("handshake failed", logging.Error(err))
	}
	logger.Info("attached as spectator", logging.String("host", resolvedHost.String()))

	if err := spectator.Run(ctx); err != nil && err != context.Canceled {
		logger.Warn("spectator session ended", logging.Error(err))
		return
	}
	logger.Info("spectator session complete")
}
