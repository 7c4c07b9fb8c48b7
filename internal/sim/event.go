package sim

import (
	"encoding/json"
	"time"
)

// EventType enum for event classification
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeSpawn
	EventTypeSpawnRejected
	EventTypeGrant
	EventTypeYield
	EventTypeGrantDropped
	EventTypeZoneEnter
	EventTypeZoneExit
	EventTypeComplete
	EventTypeCloseCall
	EventTypeInvariantViolation
)

// EventVersion for backwards compatibility in replay
const EventVersion uint8 = 1

// Event is the core event structure for the event log
type Event struct {
	Version   uint8           `json:"version"`   // Schema version
	Type      EventType       `json:"type"`      // Event type
	Timestamp int64           `json:"timestamp"` // Unix nano
	Sequence  uint64          `json:"sequence"`  // Monotonic sequence
	TickNum   uint64          `json:"tickNum"`   // Tick this occurred in
	VehicleID uint64          `json:"vehicleId"` // Source vehicle (for rate limiting), 0 for none
	Payload   json.RawMessage `json:"payload"`   // JSON-encoded payload
}

// String returns human-readable event type
func (t EventType) String() string {
	switch t {
	case EventTypeSpawn:
		return "spawn"
	case EventTypeSpawnRejected:
		return "spawn_rejected"
	case EventTypeGrant:
		return "grant"
	case EventTypeYield:
		return "yield"
	case EventTypeGrantDropped:
		return "grant_dropped"
	case EventTypeZoneEnter:
		return "zone_enter"
	case EventTypeZoneExit:
		return "zone_exit"
	case EventTypeComplete:
		return "complete"
	case EventTypeCloseCall:
		return "close_call"
	case EventTypeInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// MarshalText encodes the event type by name.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Typed payloads for different event types

// SpawnPayload contains spawn details
type SpawnPayload struct {
	Direction Direction `json:"direction"`
	Turn      Turn      `json:"turn"`
	Tier      Tier      `json:"tier"`
}

// GrantPayload contains the tier and path size of a committed reservation
type GrantPayload struct {
	Tier  Tier `json:"tier"`
	Cells int  `json:"cells"`
	Tries int  `json:"tries"`
}

// YieldPayload names the tier a vehicle slowed to after losing a contest
type YieldPayload struct {
	Tier Tier `json:"tier"`
}

// ZonePayload contains zone entry/exit details
type ZonePayload struct {
	Tier  Tier    `json:"tier"`
	Dwell float64 `json:"dwell,omitempty"` // ticks, exit only
}

// CloseCallPayload contains the follower's gap to its leader
type CloseCallPayload struct {
	Leader uint64  `json:"leader"`
	Gap    float64 `json:"gap"`
}

// ViolationPayload contains an overlapping pair of reservations
type ViolationPayload struct {
	Message string `json:"message"`
}

// EncodePayload marshals a payload to JSON bytes
func EncodePayload(payload interface{}) json.RawMessage {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, tickNum, vehicleID uint64, payload interface{}) Event {
	return Event{
		Version:   EventVersion,
		Type:      eventType,
		Timestamp: time.Now().UnixNano(),
		TickNum:   tickNum,
		VehicleID: vehicleID,
		Payload:   EncodePayload(payload),
	}
}
