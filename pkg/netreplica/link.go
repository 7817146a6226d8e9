package netreplica

import (
	"net"
	"sync"
)

// LinkStatus is the connection lifecycle state of a Link (§3).
type LinkStatus uint8

const (
	LinkUnspecified LinkStatus = iota
	LinkConnecting
	LinkConnected
	LinkDisconnected
)

func (s LinkStatus) String() string {
	switch s {
	case LinkConnecting:
		return "Connecting"
	case LinkConnected:
		return "Connected"
	case LinkDisconnected:
		return "Disconnected"
	default:
		return "Unspecified"
	}
}

// DisconnectReason distinguishes a clean shutdown from an error-driven one (§7).
type DisconnectReason uint8

const (
	DisconnectUnspecified DisconnectReason = iota
	DisconnectRequested
	DisconnectTimeout
	DisconnectError
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectRequested:
		return "requested"
	case DisconnectTimeout:
		return "timeout"
	case DisconnectError:
		return "error"
	default:
		return "unspecified"
	}
}

// maxPartialSendBuffer is the warning threshold from §5: "A warning is
// raised if that buffer exceeds 64 KiB."
const maxPartialSendBuffer = 64 * 1024

// pendingReliable is one reliable-ordered message awaiting ack, plus an
// optional notification hook (§4.3 receipts, used by the master server
// to know when NetHostRecordList has reached the client).
type pendingReliable struct {
	id      uint32
	payload []byte
	onAck   func()
}

// Link is a point-to-point association with one remote peer (§3).
// Owned by the peer that created it; destroyed after a grace period
// following disconnect (§4.3).
type Link struct {
	mu sync.Mutex

	RemoteAddr    *net.UDPAddr
	RemotePeerID  NetPeerID
	Status        LinkStatus
	ConnectPayload []byte

	// partialSend holds bytes that didn't fit in one OS send call and
	// will be retried next tick (§5: the core's send is non-blocking).
	partialSend []byte

	nextReliableID uint32
	unacked        []pendingReliable

	disconnectGraceUntilMs int64
	disconnectReason       DisconnectReason

	onNotify func(level NotifyLevel, title, message string)
}

// NewLink creates a Link in the Unspecified status; the caller
// transitions it to Connecting/Connected as the handshake proceeds.
func NewLink(addr *net.UDPAddr) *Link {
	return &Link{RemoteAddr: addr, Status: LinkUnspecified}
}

// QueuePartialSend appends bytes that the OS socket couldn't accept in
// one call. Raises a warning via notify once the buffer exceeds 64KiB,
// but never drops data or blocks (§5).
func (l *Link) QueuePartialSend(data []byte, notify func(NotifyLevel, string, string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partialSend = append(l.partialSend, data...)
	if len(l.partialSend) > maxPartialSendBuffer && notify != nil {
		notify(NotifyWarning, "Link send buffer overflow", "partial-send buffer exceeds 64 KiB")
	}
}

// PartialSendLen reports how many bytes are currently buffered awaiting
// retry, for callers that report send-backlog depth (§5).
func (l *Link) PartialSendLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.partialSend)
}

// DrainPartialSend returns and clears the buffered bytes, for the
// transport to retry on the next tick.
func (l *Link) DrainPartialSend() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.partialSend) == 0 {
		return nil
	}
	out := l.partialSend
	l.partialSend = nil
	return out
}

// EnqueueReliable assigns a receipt id to a reliable-ordered payload and
// tracks it until Ack(id) fires onAck (§4.3 "receipts... carry a
// sender-chosen id").
func (l *Link) EnqueueReliable(payload []byte, onAck func()) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextReliableID++
	id := l.nextReliableID
	l.unacked = append(l.unacked, pendingReliable{id: id, payload: payload, onAck: onAck})
	return id
}

// Ack marks a reliable message delivered, firing its onAck callback.
func (l *Link) Ack(id uint32) {
	l.mu.Lock()
	var cb func()
	for i, p := range l.unacked {
		if p.id == id {
			cb = p.onAck
			l.unacked = append(l.unacked[:i], l.unacked[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// BeginDisconnect starts the grace period after which the link may be
// destroyed (§4.3).
func (l *Link) BeginDisconnect(reason DisconnectReason, nowMs, graceMs int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Status = LinkDisconnected
	l.disconnectReason = reason
	l.disconnectGraceUntilMs = nowMs + graceMs
}

// GraceExpired reports whether the disconnect grace period has elapsed,
// meaning the transport may now destroy this link.
func (l *Link) GraceExpired(nowMs int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Status == LinkDisconnected && nowMs >= l.disconnectGraceUntilMs
}
