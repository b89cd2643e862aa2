// Package dispatch maps inbound message kind x session phase to state
// updates and outbound responses: the handshake/setup bootstrap and the
// four-message attack-round sub-protocol.
package dispatch

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"

	"duelforge/engine/internal/auth"
	"duelforge/engine/internal/catalogue"
	"duelforge/engine/internal/combat"
	"duelforge/engine/internal/events"
	"duelforge/engine/internal/logging"
	"duelforge/engine/internal/message"
	"duelforge/engine/internal/session"
	"duelforge/engine/internal/wire"
)

// Sender is the subset of *reliable.Channel the dispatcher needs to emit
// responses without blocking the receive thread.
type Sender interface {
	SendReliable(msg wire.Message, addr net.Addr, onResult func(ok bool, err error))
}

// Forwarder best-effort mirrors a copy of an already-emitted message to a
// read-only observer. Unlike Sender, a Forwarder participates in no
// ack/retry cycle — spec.md §4.7 spectators merely observe.
type Forwarder interface {
	ForwardBestEffort(msg wire.Message, addr net.Addr)
}

// Dispatcher drives one peer's session state machine from inbound
// messages. It is safe for use by a single dispatch-consumer goroutine;
// Session.Mu additionally guards fields the driver-facing API also reads.
type Dispatcher struct {
	Session   *session.Session
	Catalogue catalogue.Catalogue
	Sender    Sender
	Forward   Forwarder               // nil disables spectator fan-out
	Verifier    *auth.HMACTokenVerifier // nil means no join token is required
	Events      *events.Bus             // nil disables event publication
	Log         *logging.Logger
	OnChat      func(senderName, contentType, payload string)
	OnObserve   func(kind message.Kind, msg wire.Message) // spectator-role only
	OnTerminate func()
}

// Handle processes one validated, de-duplicated inbound message. It never
// returns an error to its caller: malformed or out-of-phase messages are
// logged and dropped, matching the protocol's error-handling policy.
func (d *Dispatcher) Handle(msg wire.Message, from net.Addr) {
	kind, err := message.Validate(msg)
	if err != nil {
		d.log().Warn("dropping malformed message", logging.Error(err))
		return
	}

	d.Session.Mu.Lock()
	defer d.Session.Mu.Unlock()

	if d.Session.Role == session.RoleSpectator {
		d.handleAsSpectator(kind, msg)
		return
	}

	switch kind {
	case message.KindHandshakeRequest:
		d.handleHandshakeRequest(msg, from)
	case message.KindHandshakeResponse:
		d.handleHandshakeResponse(msg, from)
	case message.KindBattleSetup:
		d.handleBattleSetup(msg, from)
	case message.KindAttackAnnounce:
		d.handleAttackAnnounce(msg, from)
	case message.KindDefenseAnnounce:
		d.handleDefenseAnnounce(from)
	case message.KindCalculationReport:
		d.handleCalculationReport(msg, from)
	case message.KindCalculationConfirm:
		d.handleCalculationConfirm(from)
	case message.KindResolutionRequest:
		d.handleResolutionRequest(msg, from)
	case message.KindGameOver:
		d.handleGameOver(msg)
	case message.KindChatMessage:
		d.handleChatMessage(msg)
	default:
		d.log().Warn("dropping message with no registered handler", logging.String("kind", string(kind)))
	}
}

// emit sends msg reliably to addr and best-effort mirrors a copy to every
// attached spectator (spec.md §4.7), so observers see the same attack-round
// traffic the opponent does without participating in its ack/retry cycle.
func (d *Dispatcher) emit(msg wire.Message, addr net.Addr, label string) {
	d.Sender.SendReliable(msg, addr, d.logResult(label))
	if d.Forward == nil {
		return
	}
	for _, spectator := range d.Session.Spectators {
		d.Forward.ForwardBestEffort(msg, spectator)
	}
}

func (d *Dispatcher) log() *logging.Logger {
	if d.Log != nil {
		return d.Log
	}
	return logging.L()
}

func (d *Dispatcher) handleHandshakeRequest(msg wire.Message, from net.Addr) {
	s := d.Session
	if s.Role != session.RoleHost {
		d.log().Warn("dropping HANDSHAKE_REQUEST: not hosting")
		return
	}
	if s.Phase != session.PhaseHandshaking {
		//1.- A HANDSHAKE_REQUEST arriving after this host's own joiner handshake
		// has already progressed is a spectator attaching per spec.md §4.7,
		// which is always auto-accepted regardless of any configured join token.
		d.attachSpectator(from)
		return
	}
	if d.Verifier != nil {
		if _, err := d.Verifier.Verify(msg["join_token"]); err != nil {
			d.log().Warn("rejecting handshake: invalid join token", logging.Error(err))
			return
		}
	}
	s.RemoteAddr = from
	if s.RNG == nil {
		s.SeedRNG(newSeed())
	}
	s.TransitionTo(session.PhaseSetup)
	d.Sender.SendReliable(message.NewHandshakeResponse(s.Seed), from, d.logResult("HANDSHAKE_RESPONSE"))
	d.sendOwnSetup(from)
	d.maybeEnterBattle()
}

// attachSpectator registers a read-only observer and replies with the
// match's seed so a spectator joining mid-session can store it for parity,
// even though it never computes damage of its own. The reply travels over
// the same best-effort forwarding path as every later mirrored message, so
// a spectator's entire inbound sequence space comes from one counter instead
// of splicing in a number from the host's ack-tracked channel to the joiner.
func (d *Dispatcher) attachSpectator(from net.Addr) {
	s := d.Session
	s.AddSpectator(from)
	response := message.NewHandshakeResponse(s.Seed)
	if d.Forward != nil {
		d.Forward.ForwardBestEffort(response, from)
		return
	}
	d.Sender.SendReliable(response, from, d.logResult("HANDSHAKE_RESPONSE"))
}

// handleAsSpectator implements spec.md §4.7: a spectator performs only the
// handshake, then passively consumes whatever the host forwards. It holds
// no Local/Remote combatant view and never advances the battle state
// machine itself.
func (d *Dispatcher) handleAsSpectator(kind message.Kind, msg wire.Message) {
	s := d.Session
	switch kind {
	case message.KindHandshakeResponse:
		if seed, err := strconv.ParseInt(msg["seed"], 10, 64); err == nil {
			//1.- Stored for parity with the Host/Joiner handshake; a spectator
			// never consults it since it computes no damage of its own.
			s.Seed = seed
		}
		s.TransitionTo(session.PhaseWaitingForMove)
	case message.KindGameOver:
		d.finishGame(msg["winner"], msg["loser"])
	case message.KindChatMessage:
		d.handleChatMessage(msg)
	default:
		if d.OnObserve != nil {
			d.OnObserve(kind, msg)
		}
	}
}

func (d *Dispatcher) handleHandshakeResponse(msg wire.Message, from net.Addr) {
	s := d.Session
	if s.Role != session.RoleJoiner || s.Phase != session.PhaseHandshaking {
		d.log().Warn("dropping out-of-phase HANDSHAKE_RESPONSE", logging.String("phase", string(s.Phase)))
		return
	}
	seed, err := strconv.ParseInt(msg["seed"], 10, 64)
	if err != nil {
		d.log().Warn("dropping HANDSHAKE_RESPONSE with unparseable seed", logging.Error(err))
		return
	}
	s.RemoteAddr = from
	s.SeedRNG(seed)
	s.TransitionTo(session.PhaseSetup)
	d.sendOwnSetup(from)
	d.maybeEnterBattle()
}

// sendOwnSetup emits this side's BATTLE_SETUP exactly once.
func (d *Dispatcher) sendOwnSetup(addr net.Addr) {
	s := d.Session
	if s.SetupSent || s.Local == nil {
		return
	}
	s.SetupSent = true
	setup := message.NewBattleSetup("direct", s.Local.Name, s.Boosts.AttackRemaining, s.Boosts.DefenseRemaining)
	d.emit(setup, addr, "BATTLE_SETUP")
}

func (d *Dispatcher) handleBattleSetup(msg wire.Message, from net.Addr) {
	s := d.Session
	//1.- Tolerate BATTLE_SETUP arriving before this side's own handshake step
	// has been processed: the two reliable sends race independently and
	// datagram order between them is not guaranteed.
	if s.Phase != session.PhaseHandshaking && s.Phase != session.PhaseSetup {
		d.log().Warn("dropping out-of-phase BATTLE_SETUP", logging.String("phase", string(s.Phase)))
		return
	}
	remote, ok := d.Catalogue.Lookup(msg["pokemon_name"])
	if !ok {
		d.log().Warn("dropping BATTLE_SETUP for unknown combatant", logging.String("pokemon_name", msg["pokemon_name"]))
		return
	}
	attackRemaining, defenseRemaining, err := message.ParseBoosts(msg["stat_boosts"])
	if err != nil {
		d.log().Warn("dropping BATTLE_SETUP with malformed stat_boosts", logging.Error(err))
		return
	}
	s.Remote = remote
	s.RemoteView = combat.BoostLedger{AttackRemaining: attackRemaining, DefenseRemaining: defenseRemaining}
	s.RemoteAddr = from
	d.sendOwnSetup(from)
	d.maybeEnterBattle()
}

// maybeEnterBattle transitions waiting_for_move once both this side's own
// handshake step has completed (phase reached setup) and the peer's
// combatant is known. The two conditions race independently, so either
// handleHandshake* or handleBattleSetup may be the one that satisfies it.
func (d *Dispatcher) maybeEnterBattle() {
	s := d.Session
	if s.Phase != session.PhaseSetup || s.Local == nil || s.Remote == nil {
		return
	}
	s.TransitionTo(session.PhaseWaitingForMove)
	s.IsMyTurn = s.Role == session.RoleHost
}

func (d *Dispatcher) handleAttackAnnounce(msg wire.Message, from net.Addr) {
	s := d.Session
	if s.Phase != session.PhaseWaitingForMove || s.IsMyTurn {
		d.log().Warn("dropping out-of-turn ATTACK_ANNOUNCE")
		return
	}
	s.TransitionTo(session.PhaseProcessingTurn)

	//1.- A defender cannot see whether the attacker spent an attack boost this
	// round; only its own defense-boost arming is known locally.
	defenseBoostApplied := s.Boosts.ConsumeArmedDefense()
	move, ok := s.Remote.MoveByName(msg["move_name"])
	if !ok {
		move = combat.Move{Name: msg["move_name"]}
	}

	result := combat.ResolveDamage(s.Remote, s.Local, move, false, defenseBoostApplied)
	s.Pending = &session.PendingAttack{
		Attacker:        s.Remote.Clone(),
		Defender:        s.Local.Clone(),
		Move:            move,
		Damage:          result.Damage,
		RemainingHP:     result.RemainingHP,
		LocalReportSent: true,
	}
	d.emit(message.NewDefenseAnnounce(), from, "DEFENSE_ANNOUNCE")
	report := message.NewCalculationReport(s.Remote.Name, move.Name, s.Remote.CurrentHP, result.Damage, result.RemainingHP, result.Status)
	d.emit(report, from, "CALCULATION_REPORT")
}

func (d *Dispatcher) handleDefenseAnnounce(from net.Addr) {
	s := d.Session
	if s.Phase != session.PhaseProcessingTurn || !s.IsMyTurn || s.Pending == nil {
		d.log().Warn("dropping unexpected DEFENSE_ANNOUNCE")
		return
	}
	//1.- The attacker cannot see whether the defender armed a defense boost
	// this round; only its own attack-boost usage is known locally.
	result := combat.ResolveDamage(s.Pending.Attacker, s.Pending.Defender, s.Pending.Move, s.Boosts.AttackAppliedThisTurn, false)
	s.Pending.Damage = result.Damage
	s.Pending.RemainingHP = result.RemainingHP
	s.Pending.LocalReportSent = true

	report := message.NewCalculationReport(s.Pending.Attacker.Name, s.Pending.Move.Name, s.Pending.Attacker.CurrentHP, result.Damage, result.RemainingHP, result.Status)
	d.emit(report, from, "CALCULATION_REPORT")
	d.maybeReconcile(from)
}

func (d *Dispatcher) handleCalculationReport(msg wire.Message, from net.Addr) {
	s := d.Session
	if s.Phase != session.PhaseProcessingTurn || s.Pending == nil {
		d.log().Warn("dropping unexpected CALCULATION_REPORT")
		return
	}
	remainingHealth, _ := strconv.Atoi(msg["remaining_health"])
	damageDealt, _ := strconv.Atoi(msg["damage_dealt"])
	defenderHP, _ := strconv.Atoi(msg["defender_hp_remaining"])
	s.Pending.RemoteReport = &session.RemoteReport{
		Attacker:            msg["attacker"],
		MoveUsed:            msg["move_used"],
		RemainingHealth:     remainingHealth,
		DamageDealt:         damageDealt,
		DefenderHPRemaining: defenderHP,
		StatusMessage:       msg["status_message"],
	}
	d.maybeReconcile(from)
}

// maybeReconcile runs once this side has both emitted its own report and
// received the peer's. Only the attacker decides CONFIRM vs RESOLUTION.
func (d *Dispatcher) maybeReconcile(from net.Addr) {
	s := d.Session
	if s.Pending == nil || !s.Pending.LocalReportSent || s.Pending.RemoteReport == nil {
		return
	}
	if !s.IsMyTurn {
		return
	}
	remote := s.Pending.RemoteReport
	if remote.DamageDealt == s.Pending.Damage && remote.DefenderHPRemaining == s.Pending.RemainingHP {
		d.emit(message.NewCalculationConfirm(), from, "CALCULATION_CONFIRM")
	} else {
		resolution := message.NewResolutionRequest(s.Pending.Attacker.Name, s.Pending.Move.Name, s.Pending.Damage, s.Pending.RemainingHP)
		d.emit(resolution, from, "RESOLUTION_REQUEST")
	}
	//1.- The attacker's own round is settled the moment it decides CONFIRM or
	// RESOLUTION; it does not wait for a reply to advance its own turn state.
	d.commitPending(from)
}

func (d *Dispatcher) handleCalculationConfirm(from net.Addr) {
	s := d.Session
	if s.Phase != session.PhaseProcessingTurn || s.IsMyTurn || s.Pending == nil {
		d.log().Warn("dropping unexpected CALCULATION_CONFIRM")
		return
	}
	d.commitPending(from)
}

func (d *Dispatcher) handleResolutionRequest(msg wire.Message, from net.Addr) {
	s := d.Session
	if s.Phase != session.PhaseProcessingTurn || s.IsMyTurn || s.Pending == nil {
		d.log().Warn("dropping unexpected RESOLUTION_REQUEST")
		return
	}
	damageDealt, err1 := strconv.Atoi(msg["damage_dealt"])
	defenderHP, err2 := strconv.Atoi(msg["defender_hp_remaining"])
	if err1 != nil || err2 != nil {
		d.log().Warn("dropping RESOLUTION_REQUEST with unparseable values")
		return
	}
	//1.- Adopt the attacker's authoritative values in place of this side's own computation.
	s.Pending.Damage = damageDealt
	s.Pending.RemainingHP = defenderHP
	d.commitPending(from)
}

// commitPending applies the settled damage to whichever combatant received
// it this round, resets per-turn boost flags, publishes the round event,
// and either ends the battle or flips the turn. Both the attacker (on
// deciding CONFIRM/RESOLUTION) and the defender (on receiving it) call this
// independently; s.IsMyTurn tells each side which of its own two combatant
// views — Local or Remote — was on the receiving end of the attack.
func (d *Dispatcher) commitPending(from net.Addr) {
	s := d.Session
	pending := s.Pending
	target := s.Local
	if s.IsMyTurn {
		target = s.Remote
	}
	target.CurrentHP = pending.RemainingHP
	s.Boosts.ResetTurnFlags()

	if d.Events != nil {
		d.Events.Publish(events.RoundEvent{
			Type:                events.TypeRoundResolved,
			Attacker:            pending.Attacker.Name,
			MoveUsed:            pending.Move.Name,
			DamageDealt:         pending.Damage,
			DefenderHPRemaining: pending.RemainingHP,
		})
	}

	s.Pending = nil

	if target.IsFainted() {
		winner, loser := pending.Attacker.Name, target.Name
		if s.IsMyTurn {
			winner, loser = s.Local.Name, target.Name
			//1.- Only the attacker announces the outcome; the defender reaches the
			// same conclusion locally once it processes CONFIRM/RESOLUTION itself.
			d.emit(message.NewGameOver(winner, loser), from, "GAME_OVER")
		}
		d.finishGame(winner, loser)
		return
	}
	s.TransitionTo(session.PhaseWaitingForMove)
	s.FlipTurn()
}

func (d *Dispatcher) handleGameOver(msg wire.Message) {
	d.finishGame(msg["winner"], msg["loser"])
}

func (d *Dispatcher) finishGame(winner, loser string) {
	s := d.Session
	s.TransitionTo(session.PhaseTerminated)
	if d.Events != nil {
		d.Events.Publish(events.RoundEvent{Type: events.TypeGameOver, Winner: winner, Loser: loser})
	}
	if d.OnTerminate != nil {
		d.OnTerminate()
	}
}

// IssueAttack is the driver-facing entry point for this side choosing to
// attack on its own turn. It validates turn ownership, optionally spends an
// attack boost, seeds the pending-attack bookkeeping this side's own
// DEFENSE_ANNOUNCE handler will later complete, and emits ATTACK_ANNOUNCE.
func (d *Dispatcher) IssueAttack(moveName string, useAttackBoost bool, addr net.Addr) error {
	d.Session.Mu.Lock()
	defer d.Session.Mu.Unlock()
	s := d.Session
	if s.Phase != session.PhaseWaitingForMove || !s.IsMyTurn {
		return fmt.Errorf("dispatch: cannot attack outside of this side's own turn")
	}
	move, ok := s.Local.MoveByName(moveName)
	if !ok {
		return fmt.Errorf("dispatch: %q is not a known move", moveName)
	}
	if useAttackBoost {
		if err := s.Boosts.ConsumeAttackBoost(); err != nil {
			return err
		}
	}
	s.TransitionTo(session.PhaseProcessingTurn)
	s.Pending = &session.PendingAttack{Attacker: s.Local.Clone(), Defender: s.Remote.Clone(), Move: move}
	d.emit(message.NewAttackAnnounce(move.Name), addr, "ATTACK_ANNOUNCE")
	return nil
}

// ArmDefenseBoost marks a defense boost as armed for whatever attack lands
// on this side's next incoming turn.
func (d *Dispatcher) ArmDefenseBoost() error {
	d.Session.Mu.Lock()
	defer d.Session.Mu.Unlock()
	return d.Session.Boosts.ArmDefense()
}

// SendChat emits a best-effort CHAT_MESSAGE; delivery outcome does not
// affect session state.
func (d *Dispatcher) SendChat(contentType message.ChatContentType, payload string, addr net.Addr) {
	d.Session.Mu.Lock()
	name := d.Session.DisplayName()
	d.Session.Mu.Unlock()
	d.Sender.SendReliable(message.NewChatMessage(name, contentType, payload), addr, d.logResult("CHAT_MESSAGE"))
}

func (d *Dispatcher) handleChatMessage(msg wire.Message) {
	if d.OnChat == nil {
		return
	}
	payload := msg["message_text"]
	if msg["content_type"] == string(message.ChatSticker) {
		payload = msg["sticker_data"]
	}
	d.OnChat(msg["sender_name"], msg["content_type"], payload)
}

func (d *Dispatcher) logResult(kind string) func(bool, error) {
	return func(ok bool, err error) {
		if err != nil {
			d.log().Error("send failed", logging.String("kind", kind), logging.Error(err))
			return
		}
		if !ok {
			d.log().Warn("delivery exhausted retries", logging.String("kind", kind))
		}
	}
}

// newSeed produces a fresh match seed for the host to share in
// HANDSHAKE_RESPONSE. It is not cryptographic; the seed only needs to be
// reproducible once shared, not secret.
func newSeed() int64 {
	return rand.Int63()
}
