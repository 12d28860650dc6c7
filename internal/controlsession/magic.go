package controlsession

// Magic is the 16-bit control-command identifier carried in every control
// header. The set is closed; values outside it are still framed and
// delivered (as an unknown inbound event) rather than rejected, since the
// device may emit events this client doesn't yet model.
type Magic uint16

const (
	MagicSetScene        Magic = 0x2829
	MagicSetDisplayInput Magic = 0x2822
	MagicSetBrightness   Magic = 0x271C
	MagicSetDimmer       Magic = 0x2727
	MagicGetConfig       Magic = 0x271F
	MagicGetSoftwareVer  Magic = 0x271D
	MagicGetDSPVersion   Magic = 0x272D
	MagicGetID           Magic = 0x2729
	MagicKeyStateChange  Magic = 0x272E
)
