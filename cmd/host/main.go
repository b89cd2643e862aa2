// Command host runs the hosting side of a duel: it binds a UDP socket,
// waits for a joiner's handshake, and drives the battle to completion while
// optionally serving a spectator WebSocket bridge and operational HTTP
// endpoints.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duelforge/engine/internal/auth"
	"duelforge/engine/internal/catalogue"
	"duelforge/engine/internal/config"
	"duelforge/engine/internal/events"
	"duelforge/engine/internal/httpapi"
	"duelforge/engine/internal/logging"
	"duelforge/engine/internal/observer"
	"duelforge/engine/internal/peer"
	"duelforge/engine/internal/replay"
	"duelforge/engine/internal/session"
)

func main() {
	startedAt := time.Now()

	combatantName := flag.String("combatant", "", "catalogue name of the combatant this host plays")
	listenAddr := flag.String("listen", "", "UDP address to bind (overrides DUELFORGE_LISTEN_ADDR)")
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

	if *combatantName == "" {
		logger.Fatal("no combatant selected", logging.String("flag", "-combatant"))
	}

	cat, err := loadCatalogue(cfg)
	if err != nil {
		logger.Fatal("failed to load move catalogue", logging.Error(err))
	}
	local, ok := cat.Lookup(*combatantName)
	if !ok {
		logger.Fatal("unknown combatant", logging.String("combatant", *combatantName))
	}

	bus := events.NewBus()
	opts := []peer.Option{peer.WithEventBus(bus), peer.WithLogger(logger)}
	if cfg.JoinTokenSecret != "" {
		verifier, err := auth.NewHMACTokenVerifier(cfg.JoinTokenSecret, 30*time.Second)
		if err != nil {
			logger.Fatal("failed to build join token verifier", logging.Error(err))
		}
		opts = append(opts, peer.WithJoinVerifier(verifier))
	}

	host, err := peer.NewHost(cfg.ListenAddr, local, cat, opts...)
	if err != nil {
		logger.Fatal("failed to start host listener", logging.Error(err))
	}
	logger.Info("host listening", logging.String("addr", host.LocalAddr().String()), logging.String("combatant", local.Name))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var writer *replay.Writer
	var cleaner *replay.Cleaner
	if cfg.ReplayDirectory != "" {
		w, _, err := replay.NewWriter(cfg.ReplayDirectory, *combatantName, nil)
		if err != nil {
			logger.Warn("failed to open replay writer", logging.Error(err))
		} else {
			writer = w
			w.SetHeaderMetadata(fmt.Sprintf("%d", cfg.MatchSeed), local.Name, "")
			go recordReplay(ctx, bus, writer, logger)
		}

		cleaner = replay.NewCleaner(cfg.ReplayDirectory, replay.RetentionPolicy{
			MaxMatches: cfg.ReplayRetentionMatches,
			MaxAge:     cfg.ReplayRetentionAge,
		}, logger)
		go cleaner.Run(ctx, cfg.ReplayCleanupInterval)
	}

	bridge := observer.NewBridge(bus, observer.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		MaxClients:     cfg.MaxClients,
		PingInterval:   cfg.PingInterval,
	}, logger)
	go func() {
		if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("observer bridge stopped", logging.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/spectate", bridge)
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:      logger,
		Readiness:   hostReadiness{peer: host, startedAt: startedAt},
		Stats:       func() int { return bridge.ClientCount() },
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(cfg.ReplayDumpWindow, cfg.ReplayDumpBurst, nil),
		Replay: httpapi.ReplayDumperFunc(func(ctx context.Context) (string, error) {
			if writer == nil {
				return "", fmt.Errorf("no replay writer configured")
			}
			return writer.Directory(), nil
		}),
		ReplayStorage: func() replay.StorageStats {
			if cleaner == nil {
				return replay.StorageStats{}
			}
			return cleaner.Stats()
		},
	})
	handlers.Register(mux)
	httpServer := &http.Server{Addr: cfg.ObserverAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("observer http server stopped", logging.Error(err))
		}
	}()

	err = host.Run(ctx)
	_ = httpServer.Close()
	if writer != nil {
		_ = writer.Close()
	}
	if err != nil && err != context.Canceled {
		logger.Warn("host session ended", logging.Error(err))
		return
	}
	logger.Info("host session complete")
}

func eventPayload(event events.RoundEvent) ([]byte, error) {
	return json.Marshal(event)
}

func loadCatalogue(cfg *config.Config) (catalogue.Catalogue, error) {
	if cfg.CataloguePath != "" {
		return catalogue.NewWithOverride(cfg.CataloguePath)
	}
	return catalogue.NewEmbedded()
}

func recordReplay(ctx context.Context, bus *events.Bus, writer *replay.Writer, logger *logging.Logger) {
	ch, unsubscribe := bus.Subscribe(ctx)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			payload, err := eventPayload(event)
			if err != nil {
				logger.Warn("failed to encode replay event", logging.Error(err))
				continue
			}
			if err := writer.AppendEvent(event.Round, string(event.Type), payload); err != nil {
				logger.Warn("failed to append replay event", logging.Error(err))
			}
		}
	}
}

type hostReadiness struct {
	peer      *peer.Peer
	startedAt time.Time
}

func (r hostReadiness) Phase() session.Phase {
	s := r.peer.Session()
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.Phase
}

func (r hostReadiness) Uptime() time.Duration { return time.Since(r.startedAt) }
