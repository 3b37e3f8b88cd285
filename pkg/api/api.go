// Package api defines the application message contract carried over the
// two peer-to-peer data channels.
//
// Each message is a JSON-encoded "packet" of the following structure:
//
//	t - (required) one of the predefined unique packet types;
//	p - (optional) packet payload with arbitrary data.
//
// The transport core routes packets by type only and never interprets the
// payload; the game/UI layer unwraps it into the typed structures below.
//
// Example:
//
//	{"t":20,"p":{"attacker":"wN","defender":"bQ","square":"d5"}}
package api

import (
	"github.com/goccy/go-json"
)

// Channel names of the two logical streams over the direct connection.
const (
	// ChannelAuthoritative is reliable and ordered: turn state and
	// control messages, delivered exactly in send order.
	ChannelAuthoritative = "authoritative"
	// ChannelTelemetry is unreliable and unordered with zero
	// retransmits: high-frequency position and combat updates that
	// may be dropped or reordered silently.
	ChannelTelemetry = "telemetry"
)

type PT uint8

type In struct {
	T       PT              `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"` // should be json.RawMessage for 2-pass unmarshal
}

type Out struct {
	T       PT  `json:"t"`
	Payload any `json:"p,omitempty"`
}

// Packet codes:
//
//	1x - turn (authoritative) codes
//	2x - fight mode (authoritative) codes
//	3x - control (authoritative) codes
//	4x - telemetry codes
const (
	TurnMove    PT = 10
	TurnState   PT = 11
	FightStart  PT = 20
	FightResult PT = 21
	ErrorNotice PT = 30
	Snapshot    PT = 40
	CombatEvent PT = 41
)

func (p PT) String() string {
	switch p {
	case TurnMove:
		return "TurnMove"
	case TurnState:
		return "TurnState"
	case FightStart:
		return "FightStart"
	case FightResult:
		return "FightResult"
	case ErrorNotice:
		return "ErrorNotice"
	case Snapshot:
		return "Snapshot"
	case CombatEvent:
		return "CombatEvent"
	default:
		return "Unknown"
	}
}

// Authoritative channel payloads.
type (
	// MoveRequest is one chess move in algebraic square coordinates.
	MoveRequest struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	// TurnStateNotice carries the full board after a move, so a late
	// joiner or a desynced peer can resynchronize from any single packet.
	TurnStateNotice struct {
		Board []string `json:"board"`
		Next  string   `json:"next"`
	}
	// FightStartNotice switches both peers into the shootout mode
	// triggered by a capture attempt.
	FightStartNotice struct {
		Attacker string `json:"attacker"`
		Defender string `json:"defender"`
		Square   string `json:"square"`
	}
	// FightResultNotice resolves the shootout and resyncs the board.
	FightResultNotice struct {
		Winner string   `json:"winner"`
		Board  []string `json:"board"`
	}
	ErrorPayload struct {
		Message string `json:"message"`
	}
)

// Telemetry channel payloads. Every message is a full-state snapshot, never
// a delta, since the channel may drop or reorder anything.
type (
	SnapshotPayload struct {
		Pos    [3]float32 `json:"pos"`
		Yaw    float32    `json:"yaw"`
		Pitch  float32    `json:"pitch"`
		Health int        `json:"hp"`
		TS     int64      `json:"ts"`
	}
	// CombatEventPayload is a discrete timestamped event; duplicates are
	// possible and must be idempotent at the consumer.
	CombatEventPayload struct {
		Kind string `json:"kind"`
		TS   int64  `json:"ts"`
	}
)

func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}

func UnwrapChecked[T any](bytes []byte, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	return Unwrap[T](bytes), nil
}
