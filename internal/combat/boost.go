package combat

import "fmt"

// boostAllowance is the number of attack-boost and defense-boost uses each
// side is granted per battle.
const boostAllowance = 5

// ErrNoBoostsRemaining is returned when a side tries to use a boost it has
// already exhausted.
var ErrNoBoostsRemaining = fmt.Errorf("combat: no boosts remaining")

// BoostLedger tracks one side's remaining attack/defense boost uses and the
// per-turn flags that govern whether the next exchange applies them.
//
// Defense boosts are two-phase: ArmDefense marks intent without spending
// the counter, and ConsumeArmedDefense spends it only once an incoming
// attack actually arrives this turn.
type BoostLedger struct {
	AttackRemaining        int
	DefenseRemaining       int
	AttackAppliedThisTurn  bool
	DefenseArmed           bool
	DefenseAppliedThisTurn bool
}

// NewBoostLedger returns a ledger with the full per-battle allowance.
func NewBoostLedger() BoostLedger {
	return BoostLedger{AttackRemaining: boostAllowance, DefenseRemaining: boostAllowance}
}

// ConsumeAttackBoost spends one attack boost for the attack about to be
// announced.
func (b *BoostLedger) ConsumeAttackBoost() error {
	if b.AttackRemaining <= 0 {
		return ErrNoBoostsRemaining
	}
	b.AttackRemaining--
	b.AttackAppliedThisTurn = true
	return nil
}

// ArmDefense marks a defense boost as armed for the next incoming attack.
// The counter is not decremented until ConsumeArmedDefense actually spends
// it.
func (b *BoostLedger) ArmDefense() error {
	if b.DefenseRemaining <= 0 {
		return ErrNoBoostsRemaining
	}
	b.DefenseArmed = true
	return nil
}

// ConsumeArmedDefense spends the armed defense boost, if any, reporting
// whether it was applied.
func (b *BoostLedger) ConsumeArmedDefense() bool {
	if !b.DefenseArmed {
		return false
	}
	b.DefenseArmed = false
	if b.DefenseRemaining <= 0 {
		return false
	}
	b.DefenseRemaining--
	b.DefenseAppliedThisTurn = true
	return true
}

// ResetTurnFlags clears the per-turn applied flags once a round has
// resolved, leaving the remaining counters and arming state untouched.
func (b *BoostLedger) ResetTurnFlags() {
	b.AttackAppliedThisTurn = false
	b.DefenseAppliedThisTurn = false
}
