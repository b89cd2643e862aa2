// Package session holds the per-peer state machine data: phase, turn
// ownership, boost ledgers, and the attack pending reconciliation.
package session

import (
	"math/rand"
	"net"
	"sync"

	"duelforge/engine/internal/combat"
)

// Phase is a session's position in the handshake -> setup -> attack-round ->
// termination lifecycle.
type Phase string

const (
	PhaseHandshaking    Phase = "handshaking"
	PhaseSetup          Phase = "setup"
	PhaseWaitingForMove Phase = "waiting_for_move"
	PhaseProcessingTurn Phase = "processing_turn"
	PhaseTerminated     Phase = "terminated"
)

// Role identifies which of the two parties (or the read-only observer) a
// session belongs to.
type Role string

const (
	RoleHost      Role = "host"
	RoleJoiner    Role = "joiner"
	RoleSpectator Role = "spectator"
)

// PendingAttack is the in-flight attack round's working state, held on both
// sides between ATTACK_ANNOUNCE and its eventual CONFIRM or RESOLUTION.
type PendingAttack struct {
	Attacker    *combat.CombatantStats
	Defender    *combat.CombatantStats
	Move        combat.Move
	Damage      int
	RemainingHP int
	// LocalReportSent/RemoteReport track whether this side has emitted
	// its own CALCULATION_REPORT and received the peer's, so the dispatcher
	// knows when reconciliation can run.
	LocalReportSent bool
	RemoteReport    *RemoteReport
}

// RemoteReport captures the peer's CALCULATION_REPORT values for comparison
// against this side's own computation.
type RemoteReport struct {
	Attacker            string
	MoveUsed            string
	RemainingHealth     int
	DamageDealt         int
	DefenderHPRemaining int
	StatusMessage       string
}

// Session is the mutable state machine for one peer's view of a battle. All
// access beyond construction must hold Mu, since the receive task's
// dispatch-consumer goroutine and the driver-facing API both touch it.
type Session struct {
	Mu sync.Mutex

	Role       Role
	Phase      Phase
	IsMyTurn   bool
	Seed       int64
	RNG        *rand.Rand
	RemoteAddr net.Addr

	Local      *combat.CombatantStats
	Remote     *combat.CombatantStats
	Boosts     combat.BoostLedger
	RemoteView combat.BoostLedger // best-effort view of the opponent's ledger, from BATTLE_SETUP
	SetupSent  bool
	Pending    *PendingAttack

	// SpectatorName names a RoleSpectator session for CHAT_MESSAGE, which has
	// no Local combatant to draw a display name from.
	SpectatorName string

	// Spectators holds the addresses of attached read-only observers (spec.md
	// §4.7); only meaningful on a Host session. Each completed an automatic
	// handshake after the Host's own joiner handshake reached Setup or later.
	Spectators []net.Addr

	LastInboundSeq uint64
}

// AddSpectator registers addr as an attached observer, ignoring duplicate
// attaches from the same address. Callers must hold Mu.
func (s *Session) AddSpectator(addr net.Addr) {
	for _, existing := range s.Spectators {
		if existing.String() == addr.String() {
			return
		}
	}
	s.Spectators = append(s.Spectators, addr)
}

// New constructs a session in the handshaking phase for the given role.
func New(role Role) *Session {
	return &Session{
		Role:    role,
		Phase:   PhaseHandshaking,
		Boosts:  combat.NewBoostLedger(),
	}
}

// SeedRNG initialises the shared-seed PRNG. Both peers must call this with
// the identical seed (carried in HANDSHAKE_RESPONSE) before any damage
// calculation, even though the current formula does not consult it.
func (s *Session) SeedRNG(seed int64) {
	s.Seed = seed
	s.RNG = rand.New(rand.NewSource(seed))
}

// TransitionTo moves the session to a new phase. Callers must hold Mu.
func (s *Session) TransitionTo(phase Phase) {
	s.Phase = phase
}

// FlipTurn hands turn ownership to the other side. Callers must hold Mu.
func (s *Session) FlipTurn() {
	s.IsMyTurn = !s.IsMyTurn
}

// DisplayName returns the combatant name for a Host/Joiner session, or the
// configured SpectatorName for a RoleSpectator session, which has no
// combatant of its own to name a CHAT_MESSAGE sender with.
func (s *Session) DisplayName() string {
	if s.Local != nil {
		return s.Local.Name
	}
	return s.SpectatorName
}

// BattleOver reports whether either combatant has fainted.
func (s *Session) BattleOver() (winner, loser *combat.CombatantStats, over bool) {
	switch {
	case s.Local != nil && s.Local.IsFainted():
		return s.Remote, s.Local, true
	case s.Remote != nil && s.Remote.IsFainted():
		return s.Local, s.Remote, true
	default:
		return nil, nil, false
	}
}
