package combat

import (
	"fmt"
	"math"
	"strings"
)

// boostMultiplier is applied to the attack or defense stat in play whenever
// the corresponding boost was consumed for this exchange.
const boostMultiplier = 1.5

// DamageResult is the outcome of one side's independent computation of an
// attack round. Both peers compute this using their own local knowledge and
// compare reports; see internal/dispatch for the reconciliation protocol.
type DamageResult struct {
	Damage      int
	RemainingHP int
	Status      string
}

// ResolveDamage computes the damage a move inflicts and the narrated status
// line, given each side's boost state for this exchange.
//
// The move's effective element is the attacker's primary type, not the
// move's own catalogue element — a deliberate wire-compatibility quirk
// carried over from the source protocol: the category/type-multiplier
// lookup uses attacker.PrimaryType throughout.
func ResolveDamage(attacker, defender *CombatantStats, move Move, attackBoostApplied, defenseBoostApplied bool) DamageResult {
	effectiveType := strings.ToLower(attacker.PrimaryType)

	var atk, def float64
	if CategoryFor(effectiveType) == CategoryPhysical {
		atk, def = float64(attacker.PhysicalAttack), float64(defender.PhysicalDefense)
	} else {
		atk, def = float64(attacker.SpecialAttack), float64(defender.SpecialDefense)
	}
	if attackBoostApplied {
		atk *= boostMultiplier
	}
	if defenseBoostApplied {
		def *= boostMultiplier
	}
	if def <= 0 {
		def = 1
	}

	multiplier := 1.0
	if defender.TypeMultipliers != nil {
		if m, ok := defender.TypeMultipliers[effectiveType]; ok {
			multiplier = m
		}
	}

	raw := (atk * multiplier) / def
	damage := int(math.RoundToEven(raw))
	if damage <= 0 && multiplier > 0 {
		damage = 1
	}
	if damage < 0 {
		damage = 0
	}

	remaining := defender.CurrentHP - damage
	if remaining < 0 {
		remaining = 0
	}

	return DamageResult{
		Damage:      damage,
		RemainingHP: remaining,
		Status:      statusMessage(attacker.Name, move.Name, multiplier),
	}
}

func statusMessage(attackerName, moveName string, multiplier float64) string {
	base := fmt.Sprintf("%s used %s!", attackerName, moveName)
	switch {
	case multiplier == 0:
		return base + " It had no effect..."
	case multiplier > 0 && multiplier < 1:
		return base + " It's not very effective..."
	case multiplier > 1:
		return base + " It was super effective!"
	default:
		return base
	}
}
