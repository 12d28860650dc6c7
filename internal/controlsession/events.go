package controlsession

import "github.com/xreal-go/glasses/internal/xrerr"

// KeyType is the closed set of physical buttons the device reports key
// events for.
type KeyType uint32

const (
	KeyFrontTopBottomSingle KeyType = 1
	KeyFrontRockerButton    KeyType = 2
	KeyVolumeRocker         KeyType = 3
	KeyTopSingle            KeyType = 4
)

// KeyAction is the closed set of key transitions.
type KeyAction uint32

const (
	KeyDown KeyAction = 1
	KeyUp   KeyAction = 2
)

// KeyStateEvent is the decoded payload of a MagicKeyStateChange inbound
// message: exactly 64 bytes, three little-endian u32s at offsets 0/4/8.
type KeyStateEvent struct {
	KeyType      KeyType
	Action       KeyAction
	DeviceTimeNs uint64
}

// UnknownEvent is any inbound message this client doesn't model: either a
// non-key-state magic, or a key-state-shaped magic whose payload didn't
// match the expected shape and was classified as unknown rather than
// dropped.
type UnknownEvent struct {
	Magic   Magic
	Payload []byte
}

// Event is published for every inbound message the reader task sees that
// isn't a resolved transaction response: either a decoded KeyStateEvent or
// an UnknownEvent, modeled as a tagged union via two optional fields
// rather than an interface, since there are exactly two shapes and no
// third is expected.
type Event struct {
	KeyState *KeyStateEvent
	Unknown  *UnknownEvent
}

func decodeKeyStateEvent(payload []byte) (KeyStateEvent, error) {
	if len(payload) != 64 {
		return KeyStateEvent{}, xrerr.Newf(xrerr.ProtocolError, nil, "controlsession: key-state payload is %d bytes, want 64", len(payload))
	}
	keyType := leUint32(payload[0:4])
	state := leUint32(payload[4:8])
	deviceTime := uint64(leUint32(payload[8:12]))

	kt := KeyType(keyType)
	switch kt {
	case KeyFrontTopBottomSingle, KeyFrontRockerButton, KeyVolumeRocker, KeyTopSingle:
	default:
		return KeyStateEvent{}, xrerr.Newf(xrerr.ProtocolError, nil, "controlsession: unknown key type %d", keyType)
	}

	action := KeyAction(state)
	switch action {
	case KeyDown, KeyUp:
	default:
		return KeyStateEvent{}, xrerr.Newf(xrerr.ProtocolError, nil, "controlsession: unknown key state %d", state)
	}

	return KeyStateEvent{KeyType: kt, Action: action, DeviceTimeNs: deviceTime}, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
