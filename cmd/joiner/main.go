// Command joiner connects to a running host and plays an interactive
// battle from stdin: each line is either a move name, "boost" to arm a
// defense boost for the next incoming attack, or "chat <message>".
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"duelforge/engine/internal/catalogue"
	"duelforge/engine/internal/config"
	"duelforge/engine/internal/logging"
	"duelforge/engine/internal/message"
	"duelforge/engine/internal/peer"
)

func main() {
	combatantName := flag.String("combatant", "", "catalogue name of the combatant this joiner plays")
	hostAddr := flag.String("host", "", "UDP address of the host to join")
	listenAddr := flag.String("listen", "", "UDP address to bind (overrides DUELFORGE_LISTEN_ADDR)")
	joinToken := flag.String("token", "", "join token, if the host requires one")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize structured logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logging.ReplaceGlobals(logger)

	if *combatantName == "" || *hostAddr == "" {
		logger.Fatal("both -combatant and -host are required")
	}

	cat, err := loadCatalogue(cfg)
	if err != nil {
		logger.Fatal("failed to load move catalogue", logging.Error(err))
	}
	local, ok := cat.Lookup(*combatantName)
	if !ok {
		logger.Fatal("unknown combatant", logging.String("combatant", *combatantName))
	}

	joiner, resolvedHost, err := peer.NewJoiner(cfg.ListenAddr, *hostAddr, local, cat, peer.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to start joiner listener", logging.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	handshakeCtx, handshakeCancel := context.WithTimeout(ctx, 5*time.Second)
	err = joiner.Handshake(handshakeCtx, resolvedHost, *joinToken)
	handshakeCancel()
	if err != nil {
		logger.Fatal("handshake failed", logging.Error(err))
	}
	logger.Info("handshake complete, battle starting", logging.String("combatant", local.Name))

	go runCommandLoop(ctx, joiner, logger)

	if err := joiner.Run(ctx); err != nil && err != context.Canceled {
		logger.Warn("joiner session ended", logging.Error(err))
		return
	}
	logger.Info("joiner session complete")
}

func runCommandLoop(ctx context.Context, p *peer.Peer, logger *logging.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case line == "boost":
			if err := p.ArmDefenseBoost(); err != nil {
				logger.Warn("failed to arm defense boost", logging.Error(err))
			}
		case strings.HasPrefix(line, "chat "):
			payload := strings.TrimSpace(strings.TrimPrefix(line, "chat "))
			if err := p.SendChat(message.ChatText, payload); err != nil {
				logger.Warn("failed to send chat message", logging.Error(err))
			}
		default:
			useAttackBoost := strings.HasSuffix(line, "!")
			moveName := strings.TrimSuffix(line, "!")
			if err := p.Attack(moveName, useAttackBoost); err != nil {
				logger.Warn("failed to issue attack", logging.Error(err))
			}
		}
	}
}

func loadCatalogue(cfg *config.Config) (catalogue.Catalogue, error) {
	if cfg.CataloguePath != "" {
		return catalogue.NewWithOverride(cfg.CataloguePath)
	}
	return catalogue.NewEmbedded()
}
