// Package message defines the wire message-kind registry: required fields,
// validation, and typed builders layered over internal/wire's text codec.
package message

import (
	"fmt"
	"strconv"
	"strings"

	"duelforge/engine/internal/wire"
)

// Kind identifies a message_type value from the registry.
type Kind string

const (
	KindHandshakeRequest  Kind = "HANDSHAKE_REQUEST"
	KindHandshakeResponse Kind = "HANDSHAKE_RESPONSE"
	KindBattleSetup       Kind = "BATTLE_SETUP"
	KindAttackAnnounce    Kind = "ATTACK_ANNOUNCE"
	KindDefenseAnnounce   Kind = "DEFENSE_ANNOUNCE"
	KindCalculationReport Kind = "CALCULATION_REPORT"
	KindCalculationConfirm Kind = "CALCULATION_CONFIRM"
	KindResolutionRequest Kind = "RESOLUTION_REQUEST"
	KindGameOver          Kind = "GAME_OVER"
	KindChatMessage       Kind = "CHAT_MESSAGE"
	KindAck               Kind = "ACK"
)

// requiredFields lists the fields (beyond message_type) a well-formed
// message of each kind must carry. sequence_number is required on every
// kind except ACK, which instead requires ack_number and carries none of
// its own.
var requiredFields = map[Kind][]string{
	KindHandshakeRequest:  {},
	KindHandshakeResponse: {"seed"},
	KindBattleSetup:       {"communication_mode", "pokemon_name", "stat_boosts"},
	KindAttackAnnounce:    {"move_name"},
	KindDefenseAnnounce:   {},
	KindCalculationReport: {"attacker", "move_used", "remaining_health", "damage_dealt", "defender_hp_remaining", "status_message"},
	KindCalculationConfirm: {},
	KindResolutionRequest: {"attacker", "move_used", "damage_dealt", "defender_hp_remaining"},
	KindGameOver:          {"winner", "loser"},
	KindChatMessage:       {"sender_name", "content_type"},
	KindAck:               {"ack_number"},
}

// ErrUnknownKind is returned by Validate when message_type names no
// registered kind.
var ErrUnknownKind = fmt.Errorf("message: unknown message_type")

// ErrMissingField is wrapped by Validate to name the first missing field.
var ErrMissingField = fmt.Errorf("message: missing required field")

// Validate checks a decoded message against the registry: message_type must
// be present and known, all of that kind's required fields must be present
// and non-empty, and numeric fields must parse. It returns the message's
// Kind on success.
func Validate(msg wire.Message) (Kind, error) {
	raw := msg.Type()
	if raw == "" {
		return "", fmt.Errorf("message: message_type is required")
	}
	kind := Kind(raw)
	required, ok := requiredFields[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, raw)
	}
	for _, field := range required {
		if strings.TrimSpace(msg[field]) == "" {
			return "", fmt.Errorf("%w: %q missing field %q", ErrMissingField, raw, field)
		}
	}
	if kind != KindAck {
		if _, err := SequenceNumber(msg); err != nil {
			return "", err
		}
	}
	switch kind {
	case KindHandshakeResponse:
		if _, err := strconv.ParseInt(msg["seed"], 10, 64); err != nil {
			return "", fmt.Errorf("message: seed must be an integer: %w", err)
		}
	case KindCalculationReport:
		if err := validateInts(msg, "remaining_health", "damage_dealt", "defender_hp_remaining"); err != nil {
			return "", err
		}
	case KindResolutionRequest:
		if err := validateInts(msg, "damage_dealt", "defender_hp_remaining"); err != nil {
			return "", err
		}
	case KindAck:
		if _, err := strconv.ParseUint(msg["ack_number"], 10, 64); err != nil {
			return "", fmt.Errorf("message: ack_number must be an unsigned integer: %w", err)
		}
	}
	return kind, nil
}

func validateInts(msg wire.Message, fields ...string) error {
	for _, f := range fields {
		if _, err := strconv.Atoi(msg[f]); err != nil {
			return fmt.Errorf("message: field %q must be an integer: %w", f, err)
		}
	}
	return nil
}

// SequenceNumber extracts and parses the sequence_number field, which every
// non-ACK message on the wire must carry.
func SequenceNumber(msg wire.Message) (uint64, error) {
	raw := msg["sequence_number"]
	if raw == "" {
		return 0, fmt.Errorf("message: sequence_number is required")
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("message: sequence_number must be an unsigned integer: %w", err)
	}
	return seq, nil
}

// AckNumber extracts and parses the ack_number field of an ACK message.
func AckNumber(msg wire.Message) (uint64, bool) {
	raw := msg["ack_number"]
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
