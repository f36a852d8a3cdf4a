package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Activity layer.
	ErrLocationNotFound   = "E_LOCATION_NOT_FOUND"
	ErrActivityUnresolved = "E_ACTIVITY_UNRESOLVED"
	ErrMovementFailed     = "E_MOVEMENT_FAILED"
	ErrInvalidTransition  = "E_INVALID_TRANSITION"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:    {},
	ErrLocationNotFound:   {},
	ErrActivityUnresolved: {},
	ErrMovementFailed:     {},
	ErrInvalidTransition:  {},
	ErrInternal:           {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
