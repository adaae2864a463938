package world

import (
	"github.com/google/uuid"

	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/protocol"
	"dynacraft.ai/internal/sim/spatial"
)

// SeatEntry is one journaled mount or dismount.
type SeatEntry struct {
	Tick        uint64 `json:"tick"`
	Object      string `json:"object"`
	Definition  string `json:"definition"`
	Kind        string `json:"kind"`
	Seat        uint8  `json:"seat"`
	Occupant    string `json:"occupant"`
	Controlling bool   `json:"controlling,omitempty"`
}

// RegionEntry is journaled when a region becomes available.
type RegionEntry struct {
	Tick    uint64           `json:"tick"`
	Chunk   spatial.ChunkPos `json:"chunk"`
	Flushed int              `json:"flushed"`
}

// Journal receives world events. Implementations must not block.
type Journal interface {
	WriteSeat(SeatEntry)
	WriteRegion(RegionEntry)
}

// ObjectStore persists object records. Implementations must not block.
type ObjectStore interface {
	Put(rec tagstore.Record) error
	Delete(id string) error
}

type SpawnRequest struct {
	Definition string
	Position   [3]float64
	YawSteps   int
	Resp       chan SpawnResponse
}

type SpawnResponse struct {
	ID  uuid.UUID
	Err error
}

type despawnReq struct {
	id   uuid.UUID
	resp chan error
}

// ObserverJoinRequest registers an observer connection. Out receives encoded
// frames and is closed by the world when the observer is dropped.
type ObserverJoinRequest struct {
	Name     string
	Occupant uuid.UUID // zero for spectators
	Out      chan []byte
	Resp     chan ObserverJoinResponse
}

type ObserverJoinResponse struct {
	ObserverID string
	Welcome    protocol.WelcomeMsg
}

type InteractRequest struct {
	ObserverID string
	Msg        protocol.InteractMsg
	Resp       chan protocol.ResultMsg
}

// InboundFrame is a binary frame received from an observer.
type InboundFrame struct {
	ObserverID string
	Frame      protocol.Frame
}

type reloadReq struct {
	resp chan ReloadResult
}

// ReloadResult lists the definitions that changed and the module failures
// the reload caused.
type ReloadResult struct {
	Changed  []string
	Failures []string
	Err      error
}
