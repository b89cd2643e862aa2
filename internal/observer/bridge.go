// Package observer republishes committed round outcomes from the event bus
// onto a WebSocket fan-out, so a spectator client never touches the UDP
// protocol directly. It is generalized from the teacher's broker/client
// WebSocket loop down to a read-only broadcast: spectators never send
// gameplay frames back, only keepalive control frames.
package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"duelforge/engine/internal/events"
	"duelforge/engine/internal/logging"
	"duelforge/engine/internal/networking"
)

const (
	writeWait          = 10 * time.Second
	pongWaitMultiplier = 2
	clientSendBacklog  = 64
)

// Always allow localhost for dev convenience, matching the teacher's broker.
var localHosts = map[string]struct{}{
	"127.0.0.1": {},
	"localhost": {},
	"::1":       {},
}

// Config controls the bridge's connection limits and keepalive cadence.
type Config struct {
	AllowedOrigins  []string
	MaxPayloadBytes int64
	MaxClients      int
	PingInterval    time.Duration
	// BandwidthLimitBytesPerSecond throttles the broadcast fan-out per
	// client; zero selects networking.DefaultBandwidthLimitBytesPerSecond.
	BandwidthLimitBytesPerSecond float64
}

// Bridge upgrades inbound HTTP requests to WebSocket connections and
// broadcasts every events.RoundEvent published on bus to every connected
// spectator, until ctx passed to Run is cancelled.
type Bridge struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	bus          *events.Bus
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	maxClients   int
	regulator    *networking.BandwidthRegulator
	log          *logging.Logger

	pending int
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

// NewBridge constructs a spectator bridge fed by bus.
func NewBridge(bus *events.Bus, cfg Config, log *logging.Logger) *Bridge {
	if log == nil {
		log = logging.L()
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	rate := cfg.BandwidthLimitBytesPerSecond
	br := &Bridge{
		clients:      make(map[*client]struct{}),
		bus:          bus,
		pingInterval: pingInterval,
		maxClients:   cfg.MaxClients,
		regulator:    networking.NewBandwidthRegulator(rate, nil),
		log:          log,
	}
	br.upgrader = websocket.Upgrader{
		CheckOrigin: br.checkOrigin(cfg.AllowedOrigins),
	}
	if cfg.MaxPayloadBytes > 0 {
		br.upgrader.ReadBufferSize = int(cfg.MaxPayloadBytes)
	}
	return br
}

func (br *Bridge) checkOrigin(allowed []string) func(*http.Request) bool {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		allowedSet[strings.ToLower(strings.TrimSpace(origin))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		parsed, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if _, ok := localHosts[parsed.Hostname()]; ok {
			return true
		}
		if len(allowedSet) == 0 {
			return true
		}
		_, ok := allowedSet[strings.ToLower(origin)]
		return ok
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the caller as
// a spectator. It returns once the connection's reader loop exits.
func (br *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	br.mu.Lock()
	if br.maxClients > 0 && len(br.clients)+br.pending >= br.maxClients {
		br.mu.Unlock()
		http.Error(w, "too many spectators", http.StatusServiceUnavailable)
		return
	}
	br.pending++
	br.mu.Unlock()

	conn, err := br.upgrader.Upgrade(w, r, nil)
	if err != nil {
		br.mu.Lock()
		br.pending--
		br.mu.Unlock()
		br.log.Warn("spectator upgrade failed", logging.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientSendBacklog), id: r.RemoteAddr}
	br.mu.Lock()
	br.pending--
	br.clients[c] = struct{}{}
	br.mu.Unlock()

	waitDuration := time.Duration(pongWaitMultiplier) * br.pingInterval
	_ = conn.SetReadDeadline(time.Now().Add(waitDuration))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(waitDuration))
	})

	done := make(chan struct{})
	go br.readLoop(c, waitDuration, done)
	br.writeLoop(c, done)
}

// readLoop drains and discards inbound frames; spectators are read-only but
// must still be pumped so pong control frames reach the pong handler above.
func (br *Bridge) readLoop(c *client, waitDuration time.Duration, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				br.log.Debug("spectator read deadline exceeded", logging.String("client", c.id))
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				br.log.Debug("spectator read error", logging.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(waitDuration))
	}
}

func (br *Bridge) writeLoop(c *client, done chan struct{}) {
	ticker := time.NewTicker(br.pingInterval)
	defer func() {
		ticker.Stop()
		br.deregister(c)
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-done:
			return
		case payload, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !br.regulator.Allow(c.id, len(payload)) {
				//1.- Drop the frame rather than block the fan-out goroutine on a
				// throttled client; a dropped event is not resent.
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				br.log.Warn("spectator write error", logging.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				br.log.Debug("spectator ping failed", logging.Error(err))
				return
			}
		}
	}
}

func (br *Bridge) deregister(c *client) {
	br.mu.Lock()
	defer br.mu.Unlock()
	if _, ok := br.clients[c]; ok {
		delete(br.clients, c)
		close(c.send)
	}
	br.regulator.Forget(c.id)
}

// Run subscribes to the event bus and fans every RoundEvent out to every
// connected spectator until ctx is cancelled.
func (br *Bridge) Run(ctx context.Context) error {
	if br.bus == nil {
		return errors.New("observer: bridge has no event bus")
	}
	ch, unsubscribe := br.bus.Subscribe(ctx)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(event)
			if err != nil {
				br.log.Warn("failed to marshal round event", logging.Error(err))
				continue
			}
			br.broadcast(payload)
		}
	}
}

func (br *Bridge) broadcast(payload []byte) {
	br.mu.RLock()
	defer br.mu.RUnlock()
	for c := range br.clients {
		select {
		case c.send <- payload:
		default:
			//1.- A spectator whose backlog is already full gets skipped for this
			// frame rather than stalling the shared fan-out loop.
		}
	}
}

// ClientCount reports the number of connected spectators, for diagnostics.
func (br *Bridge) ClientCount() int {
	br.mu.RLock()
	defer br.mu.RUnlock()
	return len(br.clients)
}
