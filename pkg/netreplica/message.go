package netreplica

// NetPeerMessageType is the 8-bit message-type enum that begins every
// datagram (§6). Values below are the protocol messages the core must
// understand; the transport layer (peer.go) owns the handshake messages.
type NetPeerMessageType uint8

const (
	// Transport / handshake (§4.3) — carry the user payload bitstream.
	MsgConnectRequest NetPeerMessageType = iota
	MsgConnectResponse
	MsgDisconnectNotice
	MsgAck
	MsgInterrupt

	// Ping/pong (§4.2, §6).
	MsgNetHostPing
	MsgNetHostPong

	// Discovery / master registry (§4.7, §4.8, §6).
	MsgNetHostPublish
	MsgNetHostRecordList

	// Replication (§4.4, §6).
	MsgNetSpawn
	MsgNetClone
	MsgNetForget
	MsgNetDestroy

	// Event dispatch (§4.9 / §6).
	MsgNetEvent

	// User management (§4.5, §6).
	MsgNetUserAddRequest
	MsgNetUserAddResponse
	MsgNetUserRemoveRequest

	// Level/game lifecycle (§4.5, §4.6, §6).
	MsgNetLevelLoadStarted
	MsgNetLevelLoadFinished
	MsgNetGameLoadStarted
	MsgNetGameLoadFinished
)

func (t NetPeerMessageType) String() string {
	names := [...]string{
		"ConnectRequest", "ConnectResponse", "DisconnectNotice", "Ack", "Interrupt",
		"NetHostPing", "NetHostPong",
		"NetHostPublish", "NetHostRecordList",
		"NetSpawn", "NetClone", "NetForget", "NetDestroy",
		"NetEvent",
		"NetUserAddRequest", "NetUserAddResponse", "NetUserRemoveRequest",
		"NetLevelLoadStarted", "NetLevelLoadFinished", "NetGameLoadStarted", "NetGameLoadFinished",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "Unknown"
}

// DeliveryMode selects how a message is queued on a Link (§4.3:
// reliable-ordered, reliable-unordered, unreliable).
type DeliveryMode uint8

const (
	DeliveryUnreliable DeliveryMode = iota
	DeliveryReliableUnordered
	DeliveryReliableOrdered
)

// ChannelID is a small transport-level message-channel id, distinct from
// a replication NetChannel (§4.3).
type ChannelID uint8

// Message is one logical unit of wire traffic: a type tag plus its
// bit-packed payload.
type Message struct {
	Type NetPeerMessageType
	Data *BitStream
}

// NewMessage starts a message with an empty payload stream.
func NewMessage(t NetPeerMessageType) Message {
	return Message{Type: t, Data: NewBitStream()}
}

// Encode serializes the full datagram: one byte of message type followed
// by the payload bytes.
func (m Message) Encode() []byte {
	raw := make([]byte, 0, 1+len(m.Data.Bytes()))
	raw = append(raw, byte(m.Type))
	raw = append(raw, m.Data.Bytes()...)
	return raw
}

// DecodeMessage parses the leading type byte and wraps the remainder as
// a BitStream positioned at the start for payload reads. Per §7, an
// unknown type is the caller's responsibility to log-once-and-discard;
// DecodeMessage itself never fails on an unrecognized type value, only
// on a too-short datagram.
func DecodeMessage(raw []byte) (Message, error) {
	if len(raw) < 1 {
		return Message{}, ErrNotEnoughBits
	}
	return Message{
		Type: NetPeerMessageType(raw[0]),
		Data: NewBitStreamFromBytes(raw[1:]),
	}, nil
}
