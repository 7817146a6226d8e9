package netreplica

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// moduleVersion labels the netreplica_info build-info gauge.
const moduleVersion = "0.1.0"

// PeerRole is the peer's role in the distributed system (§3).
type PeerRole uint8

const (
	RoleUnspecified PeerRole = iota
	RoleClient
	RoleServer
	RoleOffline
	RoleMasterServer
)

func (r PeerRole) String() string {
	switch r {
	case RoleClient:
		return "Client"
	case RoleServer:
		return "Server"
	case RoleOffline:
		return "Offline"
	case RoleMasterServer:
		return "MasterServer"
	default:
		return "Unspecified"
	}
}

// PeerOpenOptions configures Open (§4.5).
type PeerOpenOptions struct {
	Role        PeerRole
	Port        int
	ProjectGuid uint64

	// Tuning carries the overridable tunables (port-retry count,
	// disconnect grace, ping interval, ...); zero fields fall back to
	// the package defaults via Options.WithDefaults (§6 "Options...
	// the embedder can override").
	Tuning Options
}

// pendingConnect is a queued outbound connect request (§4.3).
type pendingConnect struct {
	addr    *net.UDPAddr
	payload []byte
}

// ConnectResult is delivered to the initiator once a connect-response
// arrives, or immediately on local failure (§4.3 "received-response").
type ConnectResult struct {
	Link     *Link
	Accepted bool
	Payload  []byte
}

// ConnectRequestEvent is delivered to the responder-side application
// handler, which must set Accept and may set ResponsePayload (§4.3
// "received-request").
type ConnectRequestEvent struct {
	RemoteAddr *net.UDPAddr
	Payload    []byte
	Accept     bool
	ResponsePayload []byte
}

// Peer is the top-level network endpoint (§3). It owns the UDP socket,
// the link set, the replicator, and the per-role state machine. Per §9's
// removal of deep inheritance, Peer *owns* a Replicator by composition
// rather than NetPeer deriving from it.
type Peer struct {
	mu sync.Mutex

	Role        PeerRole
	GUID        uint64
	ProjectGuid uint64

	conn *net.UDPConn
	port int

	links      map[string]*Link // keyed by RemoteAddr.String()
	linksByID  map[NetPeerID]*Link
	nextPeerID NetPeerID

	pendingConnects []pendingConnect
	connecting      map[string]bool // addr -> true while Connecting (idempotence, §8)

	hostPortRangeStart int
	hostPortRangeEnd   int
	nextManagerID      uint32

	Replicator *Replicator
	Ctx        *EngineContext
	Metrics    *Metrics
	tuning     Options

	// Ping is constructed on Open, bound to this Peer as its PingSender,
	// using the resolved tuning's ping interval. MasterServer is
	// constructed only when Open is called with RoleMasterServer.
	Ping         *PingManager
	MasterServer *MasterServerRegistry

	Users  *UserRegistry
	Spaces map[NetObjectID]*NetSpace

	// Hooks the embedding engine sets to drive the handshake (§4.3).
	OnConnectRequest  func(*ConnectRequestEvent)
	OnConnectResult   func(ConnectResult)
	OnDisconnected    func(*Link, DisconnectReason)

	// receivingByLink tracks, per remote peer id, whether a game-clone
	// handshake is still in progress: set by the server's StartGameClone
	// and the client's ApplyGameLoadStarted (§4.5 "marks itself as
	// receiving").
	receivingByLink map[NetPeerID]bool
	pendingUserAdds map[NetPeerID][]pendingUserAdd

	gameStarted bool

	graceMs int64
	closed  bool
}

// NewPeer constructs an unopened Peer bound to the given engine context.
// It builds one Metrics instance for the Peer's lifetime, shared
// explicitly with every collaborator it constructs (Replicator now;
// PingManager/MasterServerRegistry once Open resolves their tuning).
func NewPeer(ctx *EngineContext) *Peer {
	p := &Peer{
		links:              make(map[string]*Link),
		linksByID:          make(map[NetPeerID]*Link),
		connecting:         make(map[string]bool),
		hostPortRangeStart: 0,
		hostPortRangeEnd:   0,
		Ctx:                ctx,
		Metrics:            NewMetrics(moduleVersion, runtime.Version()),
		nextPeerID:         1,
		Users:              NewUserRegistry(),
		Spaces:             make(map[NetObjectID]*NetSpace),
		receivingByLink:    make(map[NetPeerID]bool),
		pendingUserAdds:    make(map[NetPeerID][]pendingUserAdd),
	}
	p.Replicator = NewReplicator(p, p.Metrics)
	return p
}

func randomGUID64() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

// Open validates role, binds the UDP socket trying port..port+retries,
// sets the role, and chooses a random GUID (§4.5).
func (p *Peer) Open(opts PeerOpenOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return ErrAlreadyOpen
	}
	if opts.Role == RoleUnspecified {
		return NewScriptError("Open", "role must not be Unspecified")
	}

	tuning := opts.Tuning.WithDefaults()

	var conn *net.UDPConn
	var boundPort int
	var lastErr error
	for port := opts.Port; port <= opts.Port+tuning.PortRetries; port++ {
		c, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
		if err == nil {
			conn = c
			boundPort = port
			break
		}
		lastErr = err
	}
	if conn == nil {
		return fmt.Errorf("%w: %v", ErrNoPortAvailable, lastErr)
	}

	p.conn = conn
	p.port = boundPort
	p.Role = opts.Role
	p.ProjectGuid = opts.ProjectGuid
	p.tuning = tuning
	p.graceMs = tuning.DisconnectGraceMs

	p.GUID = randomGUID64()

	p.Replicator.role = opts.Role
	p.Ping = NewPingManager(p.nextManagerIDFor(), opts.ProjectGuid, p, tuning, p.Metrics)
	if opts.Role == RoleMasterServer {
		p.MasterServer = NewMasterServerRegistry(tuning.SameIPHostRecordCap, tuning.HostRecordLifetimeMs, p.Metrics)
	}

	slog.Info("netreplica: peer opened", "role", opts.Role, "port", boundPort, "guid", p.GUID)
	return nil
}

// IsOpen reports whether the socket is bound.
func (p *Peer) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.closed
}

// HostPortRange returns the configured inclusive scan range for host
// discovery pings sent to a port-0 target (§4.2, §6).
func (p *Peer) HostPortRange() (start, end int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hostPortRangeStart, p.hostPortRangeEnd
}

func (p *Peer) SetHostPortRange(start, end int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hostPortRangeStart, p.hostPortRangeEnd = start, end
}

// Send writes msg to addr directly (not via a Link), used by the ping
// manager and master registry (§4.2, §4.8). Non-blocking: unsent bytes
// are queued rather than the call blocking (§5).
func (p *Peer) Send(addr *net.UDPAddr, msg Message) error {
	p.mu.Lock()
	conn := p.conn
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPeerClosed
	}
	if conn == nil {
		return ErrNotOpen
	}
	_, err := conn.WriteToUDP(msg.Encode(), addr)
	return err
}

// nextManagerIDFor is consumed by PingManager construction (§4.2: "a
// manager id assigned at construction").
func (p *Peer) nextManagerIDFor() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextManagerID++
	return p.nextManagerID
}

// Connect enqueues an outbound connect request (§4.3). Issuing a second
// connect to the same address while the first is still Connecting is
// ignored with a warning (§8 "Handshake idempotence").
func (p *Peer) Connect(addr *net.UDPAddr, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPeerClosed
	}
	key := addr.String()
	if p.connecting[key] {
		p.Ctx.notify(NotifyWarning, "Duplicate connect", "a connect to "+key+" is already pending")
		return ErrLinkExists
	}
	if l, ok := p.links[key]; ok && l.Status == LinkConnected {
		return ErrLinkExists
	}
	p.connecting[key] = true
	p.pendingConnects = append(p.pendingConnects, pendingConnect{addr: addr, payload: payload})
	return nil
}

// TickConnects processes queued outbound connects: allocates a link,
// transitions to Connecting, sends the connect-request (§4.3).
func (p *Peer) TickConnects(send func(*Link, []byte)) {
	p.mu.Lock()
	pending := p.pendingConnects
	p.pendingConnects = nil
	p.mu.Unlock()

	for _, pc := range pending {
		link := NewLink(pc.addr)
		link.Status = LinkConnecting
		link.ConnectPayload = pc.payload

		p.mu.Lock()
		p.links[pc.addr.String()] = link
		p.mu.Unlock()

		msg := NewMessage(MsgConnectRequest)
		msg.Data.WriteString(string(pc.payload))
		if send != nil {
			send(link, msg.Encode())
		}
	}
}

// ReceiveConnectResponse applies an accept/deny decision from the remote
// peer and fires OnConnectResult exactly once (§4.3).
func (p *Peer) ReceiveConnectResponse(addr *net.UDPAddr, accepted bool, payload []byte) {
	p.mu.Lock()
	key := addr.String()
	link, ok := p.links[key]
	delete(p.connecting, key)
	p.mu.Unlock()

	if !ok {
		return
	}
	if accepted {
		link.Status = LinkConnected
		p.mu.Lock()
		link.RemotePeerID = p.nextPeerID
		p.nextPeerID++
		p.linksByID[link.RemotePeerID] = link
		p.mu.Unlock()
		p.recordLinkOpened()
	} else {
		p.mu.Lock()
		delete(p.links, key)
		p.mu.Unlock()
		p.recordLinkClosed("denied")
	}
	if p.OnConnectResult != nil {
		p.OnConnectResult(ConnectResult{Link: link, Accepted: accepted, Payload: payload})
	}
}

// ReceiveConnectRequest runs the responder side of the handshake: invoke
// the application handler, then accept (allocate link, send response,
// transition Connected) or deny (send response, drop) (§4.3).
func (p *Peer) ReceiveConnectRequest(addr *net.UDPAddr, payload []byte, send func(*net.UDPAddr, []byte)) {
	evt := &ConnectRequestEvent{RemoteAddr: addr, Payload: payload}
	if p.OnConnectRequest != nil {
		p.OnConnectRequest(evt)
	}

	resp := NewMessage(MsgConnectResponse)
	resp.Data.WriteBool(evt.Accept)
	resp.Data.WriteString(string(evt.ResponsePayload))

	if evt.Accept {
		link := NewLink(addr)
		link.Status = LinkConnected
		p.mu.Lock()
		link.RemotePeerID = p.nextPeerID
		p.nextPeerID++
		p.links[addr.String()] = link
		p.linksByID[link.RemotePeerID] = link
		p.mu.Unlock()
		p.recordLinkOpened()
	} else {
		p.recordLinkClosed("denied")
	}
	if send != nil {
		send(addr, resp.Encode())
	}
}

// recordLinkOpened/recordLinkClosed track link lifecycle metrics, keyed
// by the Peer's own role (§9 "the teacher wires its metrics through one
// service-level owner").
func (p *Peer) recordLinkOpened() {
	if p.Metrics == nil {
		return
	}
	role := p.Role.String()
	p.Metrics.LinksOpenedTotal.WithLabelValues(role).Inc()
	p.Metrics.ConnectedLinks.WithLabelValues(role).Inc()
}

func (p *Peer) recordLinkClosed(reason string) {
	if p.Metrics == nil {
		return
	}
	p.Metrics.LinksClosedTotal.WithLabelValues(reason).Inc()
}

// Disconnect starts the grace-period teardown for a link (§4.3).
func (p *Peer) Disconnect(link *Link, reason DisconnectReason, nowMs int64) {
	link.BeginDisconnect(reason, nowMs, p.graceMs)
}

// TickDisconnects destroys any link whose grace period has expired,
// firing OnDisconnected exactly once per link (§4.3).
func (p *Peer) TickDisconnects(nowMs int64) {
	p.mu.Lock()
	var expired []*Link
	for key, l := range p.links {
		if l.GraceExpired(nowMs) {
			expired = append(expired, l)
			delete(p.links, key)
			delete(p.linksByID, l.RemotePeerID)
		}
	}
	p.mu.Unlock()

	for _, l := range expired {
		if p.Metrics != nil {
			p.Metrics.ConnectedLinks.WithLabelValues(p.Role.String()).Dec()
		}
		p.recordLinkClosed(l.disconnectReason.String())
		if p.OnDisconnected != nil {
			p.OnDisconnected(l, l.disconnectReason)
		}
	}
}

// LinkByPeerID looks up a link by the remote peer id assigned at accept time.
func (p *Peer) LinkByPeerID(id NetPeerID) (*Link, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.linksByID[id]
	return l, ok
}

// Links returns a snapshot of every link this peer owns.
func (p *Peer) Links() []*Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Link, 0, len(p.links))
	for _, l := range p.links {
		out = append(out, l)
	}
	return out
}

// Close cancels all in-flight activity and forgets every replica in the
// reverse of the open-time emplace order (§5 "Cancellation").
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.pendingConnects = nil
	p.connecting = make(map[string]bool)
	p.links = make(map[string]*Link)
	p.linksByID = make(map[NetPeerID]*Link)
	p.receivingByLink = make(map[NetPeerID]bool)
	p.pendingUserAdds = make(map[NetPeerID][]pendingUserAdd)
	ping := p.Ping
	conn := p.conn
	p.mu.Unlock()

	if ping != nil {
		ping.CancelAll()
	}

	// Forget every replica in reverse of the order it was emplaced: ids
	// are acquired monotonically, so descending by id approximates
	// reverse emplace order without the Replicator tracking a separate
	// history (§5 "Cancellation").
	live := p.Replicator.Arena().All()
	sort.Slice(live, func(i, j int) bool { return live[i].ID > live[j].ID })
	for _, r := range live {
		p.Replicator.Forget(r)
	}

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// SendTo implements the Transport interface the Replicator uses to route
// serialized streams (spawn/clone/forget/destroy) to specific peers.
func (p *Peer) SendTo(route Route, msg Message) {
	for _, id := range route {
		link, ok := p.LinkByPeerID(id)
		if !ok || link.Status != LinkConnected {
			continue
		}
		encoded := msg.Encode()
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn == nil {
			continue
		}
		if _, err := conn.WriteToUDP(encoded, link.RemoteAddr); err != nil {
			link.QueuePartialSend(encoded, p.Ctx.notify)
			if p.Metrics != nil {
				p.Metrics.PartialSendBufferBytes.WithLabelValues(link.RemoteAddr.String()).Set(float64(link.PartialSendLen()))
			}
			continue
		}
		if p.Metrics != nil {
			p.Metrics.BytesSentTotal.WithLabelValues(msg.Type.String()).Add(float64(len(encoded)))
		}
	}
}

// ApplyInbound decodes one received datagram, logging and discarding it
// once if its type tag falls outside the recognized protocol range
// rather than handing an unrecognized type further down the pipeline
// (§7 "an unknown type is the caller's responsibility to log-once-and-
// discard").
func (p *Peer) ApplyInbound(raw []byte) (Message, error) {
	msg, err := DecodeMessage(raw)
	if err != nil {
		return Message{}, err
	}
	if msg.Type > MsgNetGameLoadFinished {
		slog.Warn("netreplica: discarding datagram with unknown message type", "type", uint8(msg.Type))
		return Message{}, ErrUnknownMessageType
	}
	return msg, nil
}

// SendToOne sends msg to exactly one connected peer, reporting
// ErrLinkNotFound rather than silently doing nothing when id has no
// Connected link (§7 "Programmer errors").
func (p *Peer) SendToOne(id NetPeerID, msg Message) error {
	link, ok := p.LinkByPeerID(id)
	if !ok || link.Status != LinkConnected {
		return ErrLinkNotFound
	}
	p.SendTo(Route{id}, msg)
	return nil
}

// Broadcast routes msg to every Connected link.
func (p *Peer) Broadcast(msg Message) {
	p.mu.Lock()
	var ids []NetPeerID
	for id := range p.linksByID {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	p.SendTo(Route(ids), msg)
}
