// Package peer bootstraps one side of a match: it owns the UDP socket, the
// receive task, the dispatch-consumer goroutine, and the small
// driver-facing intent API (Attack, ArmDefenseBoost, SendChat) a cmd/*
// entrypoint drives interactively.
package peer

import (
	"context"
	"fmt"
	"net"
	"sync"

	"duelforge/engine/internal/auth"
	"duelforge/engine/internal/catalogue"
	"duelforge/engine/internal/combat"
	"duelforge/engine/internal/dispatch"
	"duelforge/engine/internal/events"
	"duelforge/engine/internal/logging"
	"duelforge/engine/internal/message"
	"duelforge/engine/internal/reliable"
	"duelforge/engine/internal/session"
	"duelforge/engine/internal/transport"
	"duelforge/engine/internal/wire"
)

// Option configures optional collaborators on a Peer at construction time.
type Option func(*Peer)

// WithEventBus routes committed round outcomes onto bus, for the observer
// bridge or replay recorder to subscribe to.
func WithEventBus(bus *events.Bus) Option {
	return func(p *Peer) { p.dispatcher.Events = bus }
}

// WithJoinVerifier rejects a Host's inbound HANDSHAKE_REQUEST unless it
// carries a join_token that verifies against v.
func WithJoinVerifier(v *auth.HMACTokenVerifier) Option {
	return func(p *Peer) { p.dispatcher.Verifier = v }
}

// WithLogger overrides the package-global logger for this peer's own log
// lines.
func WithLogger(log *logging.Logger) Option {
	return func(p *Peer) { p.log = log; p.dispatcher.Log = log }
}

// WithChatHandler is invoked for every accepted CHAT_MESSAGE.
func WithChatHandler(fn func(senderName, contentType, payload string)) Option {
	return func(p *Peer) { p.dispatcher.OnChat = fn }
}

// WithObserveHandler is invoked, on a spectator-role Peer only, for every
// forwarded message that is neither a chat message nor a phase-defining
// handshake/game-over message — i.e. the raw attack-round traffic spec.md
// §4.7 says a spectator passively observes.
func WithObserveHandler(fn func(kind message.Kind, msg wire.Message)) Option {
	return func(p *Peer) { p.dispatcher.OnObserve = fn }
}

// Peer owns one side's socket, reliable channel, and dispatcher, and runs
// the receive/dispatch goroutines that drive the session state machine.
type Peer struct {
	conn       *net.UDPConn
	queue      *reliable.ArrivalQueue
	channel    *reliable.Channel
	session    *session.Session
	dispatcher *dispatch.Dispatcher
	log        *logging.Logger

	done chan struct{}
	once sync.Once
}

func newPeer(conn *net.UDPConn, role session.Role, local *combat.CombatantStats, cat catalogue.Catalogue, opts []Option) *Peer {
	s := session.New(role)
	s.Local = local
	queue := reliable.NewArrivalQueue()
	p := &Peer{
		conn:    conn,
		queue:   queue,
		channel: reliable.NewChannel(conn, queue),
		session: s,
		log:     logging.L(),
		done:    make(chan struct{}),
	}
	p.dispatcher = &dispatch.Dispatcher{
		Session:   s,
		Catalogue: cat,
		Sender:    p.channel,
		Forward:   p.channel,
		Log:       p.log,
	}
	p.dispatcher.OnTerminate = p.onTerminate
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewHost opens a UDP listener and returns a Peer in the host role, which
// waits for an inbound HANDSHAKE_REQUEST before the battle can begin.
func NewHost(listenAddr string, local *combat.CombatantStats, cat catalogue.Catalogue, opts ...Option) (*Peer, error) {
	conn, err := transport.Listen(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("peer: host listen: %w", err)
	}
	return newPeer(conn, session.RoleHost, local, cat, opts), nil
}

// NewJoiner opens a UDP listener and returns a Peer in the joiner role
// together with hostAddr resolved to a UDP address. The initial
// HANDSHAKE_REQUEST is sent by Handshake, not by Run.
func NewJoiner(listenAddr, hostAddr string, local *combat.CombatantStats, cat catalogue.Catalogue, opts ...Option) (*Peer, *net.UDPAddr, error) {
	conn, err := transport.Listen(listenAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("peer: joiner listen: %w", err)
	}
	resolved, err := transport.ResolveAddr(hostAddr)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("peer: joiner resolve host: %w", err)
	}
	p := newPeer(conn, session.RoleJoiner, local, cat, opts)
	return p, resolved, nil
}

// NewSpectator opens a UDP listener and returns a Peer in the read-only
// spectator role (spec.md §4.7). It holds no combatant of its own; Run
// drives the same receive/dispatch loop, with Dispatcher.handleAsSpectator
// routing every message to observation instead of the battle state machine.
// name identifies the spectator as a CHAT_MESSAGE sender.
func NewSpectator(name, listenAddr, hostAddr string, opts ...Option) (*Peer, *net.UDPAddr, error) {
	conn, err := transport.Listen(listenAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("peer: spectator listen: %w", err)
	}
	resolved, err := transport.ResolveAddr(hostAddr)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("peer: spectator resolve host: %w", err)
	}
	p := newPeer(conn, session.RoleSpectator, nil, nil, opts)
	p.session.SpectatorName = name
	return p, resolved, nil
}

// Run starts the receive task and the dispatch-consumer goroutine and
// blocks until the battle terminates or ctx is cancelled.
func (p *Peer) Run(ctx context.Context) error {
	go p.receiveLoop()
	go p.dispatchLoop()
	select {
	case <-ctx.Done():
		p.Close()
		return ctx.Err()
	case <-p.done:
		return nil
	}
}

// Handshake sends the initial HANDSHAKE_REQUEST to the host and blocks
// until it is acknowledged. Joiner- and spectator-role Peers use it.
func (p *Peer) Handshake(ctx context.Context, hostAddr net.Addr, joinToken string) error {
	p.session.Mu.Lock()
	p.session.RemoteAddr = hostAddr
	p.session.Mu.Unlock()
	ok, err := p.channel.SendWithAck(ctx, message.NewHandshakeRequest(joinToken), hostAddr)
	if err != nil {
		return fmt.Errorf("peer: handshake: %w", err)
	}
	if !ok {
		return fmt.Errorf("peer: handshake: no response from %s", hostAddr)
	}
	return nil
}

// Attack issues this side's move for the current turn.
func (p *Peer) Attack(moveName string, useAttackBoost bool) error {
	addr := p.remoteAddr()
	if addr == nil {
		return fmt.Errorf("peer: no peer address known yet")
	}
	return p.dispatcher.IssueAttack(moveName, useAttackBoost, addr)
}

// ArmDefenseBoost marks a defense boost armed for the next incoming attack.
func (p *Peer) ArmDefenseBoost() error {
	return p.dispatcher.ArmDefenseBoost()
}

// SendChat emits a best-effort chat message to the peer.
func (p *Peer) SendChat(contentType message.ChatContentType, payload string) error {
	addr := p.remoteAddr()
	if addr == nil {
		return fmt.Errorf("peer: no peer address known yet")
	}
	p.dispatcher.SendChat(contentType, payload, addr)
	return nil
}

// Session exposes the underlying session for read-only inspection (e.g. a
// UI polling HP and phase). Callers must hold Session().Mu while reading.
func (p *Peer) Session() *session.Session { return p.session }

// LocalAddr reports the address this peer's socket is bound to.
func (p *Peer) LocalAddr() net.Addr { return p.conn.LocalAddr() }

func (p *Peer) remoteAddr() net.Addr {
	p.session.Mu.Lock()
	defer p.session.Mu.Unlock()
	return p.session.RemoteAddr
}

// Close shuts down the socket and unblocks both background goroutines.
func (p *Peer) Close() error {
	var closeErr error
	p.once.Do(func() {
		p.queue.Close()
		close(p.done)
		closeErr = p.conn.Close()
	})
	return closeErr
}

func (p *Peer) onTerminate() {
	_ = p.Close()
}

// receiveLoop blocks on socket reads, ACKs every non-ACK message inline,
// and pushes every decoded datagram onto the arrival queue unconditionally
// — including ACKs and duplicates, which the dispatch-consumer filters.
func (p *Peer) receiveLoop() {
	buf := make([]byte, transport.MaxDatagramSize)
	for {
		n, addr, err := p.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-p.done:
				return
			default:
				p.log.Debug("receive loop stopping", logging.Error(err))
				return
			}
		}
		msg := wire.Decode(buf[:n])
		if msg.Type() != string(message.KindAck) {
			if seq, err := message.SequenceNumber(msg); err == nil {
				if err := reliable.AckInline(p.conn, addr, seq); err != nil {
					p.log.Warn("failed to send inline ack", logging.Error(err))
				}
			}
		}
		p.queue.Push(reliable.Arrival{Msg: msg, From: addr})
	}
}

// dispatchLoop is the single consumer draining the arrival queue in order,
// silently discarding ACK-typed entries and messages whose sequence number it
// has already accepted from the same sender address.
func (p *Peer) dispatchLoop() {
	lastSeqFrom := make(map[string]uint64)
	for {
		arrival, ok := p.queue.Pop()
		if !ok {
			return
		}
		if arrival.Msg.Type() == string(message.KindAck) {
			continue
		}
		if seq, err := message.SequenceNumber(arrival.Msg); err == nil {
			sender := ""
			if arrival.From != nil {
				sender = arrival.From.String()
			}
			p.session.Mu.Lock()
			duplicate := seq <= lastSeqFrom[sender]
			if !duplicate {
				lastSeqFrom[sender] = seq
				p.session.LastInboundSeq = seq
			}
			p.session.Mu.Unlock()
			if duplicate {
				continue
			}
		}
		p.dispatcher.Handle(arrival.Msg, arrival.From)
	}
}
