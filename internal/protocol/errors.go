package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Object routing.
	ErrObjectNotFound = "E_OBJECT_NOT_FOUND"
	ErrNotLoaded      = "E_NOT_LOADED"

	// Interaction layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrNoPermission  = "E_NO_PERMISSION"
	ErrSeatFull      = "E_SEAT_FULL"
	ErrAlreadySeated = "E_ALREADY_SEATED"
	ErrUnknownSeat   = "E_UNKNOWN_SEAT"
	ErrNotSeated     = "E_NOT_SEATED"
	ErrRateLimit     = "E_RATE_LIMIT"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrObjectNotFound:  {},
	ErrNotLoaded:       {},
	ErrBadRequest:      {},
	ErrNoPermission:    {},
	ErrSeatFull:        {},
	ErrAlreadySeated:   {},
	ErrUnknownSeat:     {},
	ErrNotSeated:       {},
	ErrRateLimit:       {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
