package message

import (
	"fmt"
	"strconv"
	"strings"

	"duelforge/engine/internal/wire"
)

// SerializeBoosts encodes remaining attack/defense boost counts for the
// BATTLE_SETUP stat_boosts field, e.g. "atk:5,def:3".
func SerializeBoosts(attackRemaining, defenseRemaining int) string {
	return fmt.Sprintf("atk:%d,def:%d", attackRemaining, defenseRemaining)
}

// ParseBoosts decodes a stat_boosts field produced by SerializeBoosts.
func ParseBoosts(raw string) (attackRemaining, defenseRemaining int, err error) {
	attackRemaining, defenseRemaining = -1, -1
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		kv := strings.SplitN(part, ":", 2)
		if len(kv) != 2 {
			continue
		}
		n, convErr := strconv.Atoi(strings.TrimSpace(kv[1]))
		if convErr != nil {
			return 0, 0, fmt.Errorf("message: stat_boosts value %q is not an integer", kv[1])
		}
		switch strings.TrimSpace(kv[0]) {
		case "atk":
			attackRemaining = n
		case "def":
			defenseRemaining = n
		}
	}
	if attackRemaining < 0 || defenseRemaining < 0 {
		return 0, 0, fmt.Errorf("message: stat_boosts %q missing atk or def", raw)
	}
	return attackRemaining, defenseRemaining, nil
}

// NewHandshakeRequest builds a HANDSHAKE_REQUEST. joinToken may be empty
// when the host has not configured a join secret.
func NewHandshakeRequest(joinToken string) wire.Message {
	msg := wire.New(string(KindHandshakeRequest))
	if joinToken != "" {
		msg["join_token"] = joinToken
	}
	return msg
}

// NewHandshakeResponse builds a HANDSHAKE_RESPONSE carrying the host's seed.
func NewHandshakeResponse(seed int64) wire.Message {
	msg := wire.New(string(KindHandshakeResponse))
	msg["seed"] = strconv.FormatInt(seed, 10)
	return msg
}

// NewBattleSetup builds a BATTLE_SETUP announcing the sender's chosen
// combatant and remaining boost counts.
func NewBattleSetup(communicationMode, pokemonName string, attackRemaining, defenseRemaining int) wire.Message {
	msg := wire.New(string(KindBattleSetup))
	msg["communication_mode"] = communicationMode
	msg["pokemon_name"] = pokemonName
	msg["stat_boosts"] = SerializeBoosts(attackRemaining, defenseRemaining)
	return msg
}

// NewAttackAnnounce builds an ATTACK_ANNOUNCE naming the move used.
func NewAttackAnnounce(moveName string) wire.Message {
	msg := wire.New(string(KindAttackAnnounce))
	msg["move_name"] = moveName
	return msg
}

// NewDefenseAnnounce builds a bare DEFENSE_ANNOUNCE.
func NewDefenseAnnounce() wire.Message {
	return wire.New(string(KindDefenseAnnounce))
}

// NewCalculationReport builds a CALCULATION_REPORT describing one side's
// locally computed outcome of the in-flight attack round.
func NewCalculationReport(attacker, moveUsed string, remainingHealth, damageDealt, defenderHPRemaining int, statusMessage string) wire.Message {
	msg := wire.New(string(KindCalculationReport))
	msg["attacker"] = attacker
	msg["move_used"] = moveUsed
	msg["remaining_health"] = strconv.Itoa(remainingHealth)
	msg["damage_dealt"] = strconv.Itoa(damageDealt)
	msg["defender_hp_remaining"] = strconv.Itoa(defenderHPRemaining)
	msg["status_message"] = statusMessage
	return msg
}

// NewCalculationConfirm builds a bare CALCULATION_CONFIRM.
func NewCalculationConfirm() wire.Message {
	return wire.New(string(KindCalculationConfirm))
}

// NewResolutionRequest builds a RESOLUTION_REQUEST carrying the attacker's
// authoritative values for the defender to adopt.
func NewResolutionRequest(attacker, moveUsed string, damageDealt, defenderHPRemaining int) wire.Message {
	msg := wire.New(string(KindResolutionRequest))
	msg["attacker"] = attacker
	msg["move_used"] = moveUsed
	msg["damage_dealt"] = strconv.Itoa(damageDealt)
	msg["defender_hp_remaining"] = strconv.Itoa(defenderHPRemaining)
	return msg
}

// NewGameOver builds a GAME_OVER naming the winner and loser.
func NewGameOver(winner, loser string) wire.Message {
	msg := wire.New(string(KindGameOver))
	msg["winner"] = winner
	msg["loser"] = loser
	return msg
}

// ChatContentType enumerates the content_type values CHAT_MESSAGE may carry.
type ChatContentType string

const (
	ChatText    ChatContentType = "TEXT"
	ChatSticker ChatContentType = "STICKER"
)

// NewChatMessage builds a CHAT_MESSAGE. For ChatText, payload fills
// message_text; for ChatSticker, it fills sticker_data.
func NewChatMessage(senderName string, contentType ChatContentType, payload string) wire.Message {
	msg := wire.New(string(KindChatMessage))
	msg["sender_name"] = senderName
	msg["content_type"] = string(contentType)
	switch contentType {
	case ChatSticker:
		msg["sticker_data"] = payload
	default:
		msg["message_text"] = payload
	}
	return msg
}

// NewAck builds an ACK for the given sequence number. ACK messages never
// carry a sequence_number of their own.
func NewAck(ackNumber uint64) wire.Message {
	msg := wire.New(string(KindAck))
	msg["ack_number"] = strconv.FormatUint(ackNumber, 10)
	return msg
}
