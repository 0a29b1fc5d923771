// Package wire implements the 9P2000.u wire codec: framing and typed
// encode/decode of protocol messages over a byte cursor.
//
// Every multi-byte integer on the wire is little-endian, matching the
// 9P2000 wire format (this is the opposite byte order from ONC RPC/XDR,
// which is why this package does not reuse an XDR decoder: a 9P field
// reader built around XDR's big-endian stream primitives would need to
// byte-swap every call).
package wire

// MessageType identifies one of the 13 9P2000.u T/R pairs, plus Rerror.
type MessageType uint8

// Message type constants, per RFC-less but universally implemented 9P2000.
const (
	Tversion MessageType = 100
	Rversion MessageType = 101
	Tauth    MessageType = 102
	Rauth    MessageType = 103
	Tattach  MessageType = 104
	Rattach  MessageType = 105
	Terror   MessageType = 106 // illegal on the wire, never sent
	Rerror   MessageType = 107
	Tflush   MessageType = 108
	Rflush   MessageType = 109
	Twalk    MessageType = 110
	Rwalk    MessageType = 111
	Topen    MessageType = 112
	Ropen    MessageType = 113
	Tcreate  MessageType = 114
	Rcreate  MessageType = 115
	Tread    MessageType = 116
	Rread    MessageType = 117
	Twrite   MessageType = 118
	Rwrite   MessageType = 119
	Tclunk   MessageType = 120
	Rclunk   MessageType = 121
	Tremove  MessageType = 122
	Rremove  MessageType = 123
	Tstat    MessageType = 124
	Rstat    MessageType = 125
	Twstat   MessageType = 126
	Rwstat   MessageType = 127
)

// String returns a human-readable name for a message type, used in logs
// and error messages.
func (t MessageType) String() string {
	switch t {
	case Tversion:
		return "Tversion"
	case Rversion:
		return "Rversion"
	case Tauth:
		return "Tauth"
	case Rauth:
		return "Rauth"
	case Tattach:
		return "Tattach"
	case Rattach:
		return "Rattach"
	case Terror:
		return "Terror"
	case Rerror:
		return "Rerror"
	case Tflush:
		return "Tflush"
	case Rflush:
		return "Rflush"
	case Twalk:
		return "Twalk"
	case Rwalk:
		return "Rwalk"
	case Topen:
		return "Topen"
	case Ropen:
		return "Ropen"
	case Tcreate:
		return "Tcreate"
	case Rcreate:
		return "Rcreate"
	case Tread:
		return "Tread"
	case Rread:
		return "Rread"
	case Twrite:
		return "Twrite"
	case Rwrite:
		return "Rwrite"
	case Tclunk:
		return "Tclunk"
	case Rclunk:
		return "Rclunk"
	case Tremove:
		return "Tremove"
	case Rremove:
		return "Rremove"
	case Tstat:
		return "Tstat"
	case Rstat:
		return "Rstat"
	case Twstat:
		return "Twstat"
	case Rwstat:
		return "Rwstat"
	default:
		return "unknown"
	}
}

// Reserved tag/fid sentinel values.
const (
	// NoTag marks a request that carries no meaningful tag (only ever
	// used by the first Tversion of a connection).
	NoTag uint16 = 0xFFFF

	// NoFID marks "no auth fid" in Tattach.
	NoFID uint32 = 0xFFFFFFFF
)

// QID type bits.
const (
	QTDir  uint8 = 0x80
	QTFile uint8 = 0x00
)

// VersionString is the only protocol version this server negotiates.
const VersionString = "9P2000.u"

// HeaderSize is the fixed 7-byte message header: size(4) + type(1) + tag(2).
const HeaderSize = 7
