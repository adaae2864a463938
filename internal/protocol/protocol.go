package protocol

import "encoding/json"

const Version = "1.0"

// JSON control message types. Replication traffic travels in binary frames.
const (
	TypeHello    = "HELLO"
	TypeWelcome  = "WELCOME"
	TypeInteract = "INTERACT"
	TypeResult   = "RESULT"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// HELLO (observer -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ObserverName    string `json:"observer_name"`
	// Occupant is the player this observer acts for, if any.
	Occupant string `json:"occupant,omitempty"`
	MaxQueue int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> observer)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ObserverID      string      `json:"observer_id"`
	Occupant        string      `json:"occupant,omitempty"`
	WorldParams     WorldParams `json:"world_params"`
}

type WorldParams struct {
	TickRateHz  int    `json:"tick_rate_hz"`
	ChunkSize   int    `json:"chunk_size"`
	Compression string `json:"compression"`
}

// Interaction actions. Driving inputs are not interactions: the controller
// sends them as FIELDS frames.
const (
	ActMount    = "MOUNT"
	ActDismount = "DISMOUNT"
	ActDoor     = "DOOR"
)

// INTERACT (observer -> server)
type InteractMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Object          string `json:"object"`
	Action          string `json:"action"`
	Seat            *uint8 `json:"seat,omitempty"`
	Open            bool   `json:"open,omitempty"`
}

// RESULT (server -> observer)
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}
