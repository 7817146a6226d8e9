package netreplica

import (
	"math/rand/v2"
	"net"
	"sync"

	"golang.org/x/time/rate"
)

// PingKind selects what a ping is for (§4.2, §4.8): a plain host-discovery
// probe, or a master-server "refresh this host's record" request.
type PingKind uint8

const (
	PingKindHostDiscovery PingKind = iota
	PingKindMasterServerRefreshHost
)

func (k PingKind) String() string {
	if k == PingKindMasterServerRefreshHost {
		return "master_server_refresh"
	}
	return "host_discovery"
}

// PingSender is what the ping manager needs from its owning Peer to put
// bytes on the wire; kept minimal so tests can supply a fake.
type PingSender interface {
	Send(addr *net.UDPAddr, msg Message) error
}

// PendingHostPing is one outstanding ping_host() call (§4.2).
type PendingHostPing struct {
	ID         uint32
	ManagerID  uint32
	Kind       PingKind
	Targets    []*net.UDPAddr
	TimeoutMs  int64
	Payload    []byte
	CreatedMs  int64
	LastSendMs int64
	attemptID  uint32
}

// targetKey groups targets+kind so a repeat ping_host call to the same
// set replaces the prior ping rather than running both alongside it.
func targetKey(targets []*net.UDPAddr, kind PingKind) string {
	s := ""
	for _, t := range targets {
		s += t.String() + ";"
	}
	return s + string(rune(kind))
}

// PingManager owns a set of in-flight host pings and the random-stride id
// generator shared by ping ids and attempt ids; its manager id is supplied
// by the caller (§4.2, grounded in original_source's
// AcquireNextRandomIncrementalId).
// Multiple managers share one Peer; a received pong is routed only to the
// manager whose id matches, so LAN discovery and master-server refresh
// traffic never cross-deliver.
type PingManager struct {
	mu sync.Mutex

	managerID uint32
	rng       *rand.Rand
	nextID    uint32

	pings map[uint32]*PendingHostPing
	byKey map[string]uint32

	sender  PingSender
	limiter *rate.Limiter
	metrics *Metrics

	pingIntervalMs    int64
	projectGuid       uint64
	hostPortRangeStart int
	hostPortRangeEnd   int

	OnTimeout func(ping *PendingHostPing)
	OnPong    func(ping *PendingHostPing, fromAddr *net.UDPAddr, payload *BitStream)
}

// NewPingManager constructs a manager with a fresh random-stride id
// generator seeded from managerID (deterministic in tests, distinct
// across managers on the same peer). opts' zero fields fall back to the
// package defaults (notably PingIntervalMs); metrics may be nil.
func NewPingManager(managerID uint32, projectGuid uint64, sender PingSender, opts Options, metrics *Metrics) *PingManager {
	opts = opts.WithDefaults()
	return &PingManager{
		managerID:      managerID,
		rng:            rand.New(rand.NewPCG(uint64(managerID), projectGuid)),
		pings:          make(map[uint32]*PendingHostPing),
		byKey:          make(map[string]uint32),
		sender:         sender,
		limiter:        rate.NewLimiter(rate.Limit(50), 50),
		metrics:        metrics,
		pingIntervalMs: opts.PingIntervalMs,
		projectGuid:    projectGuid,
	}
}

// acquireNextRandomIncrementalID advances by a small random stride rather
// than a pure increment, matching original_source's
// PingManager::AcquireNextRandomIncrementalId ("blunt predictive spam").
func (m *PingManager) acquireNextRandomIncrementalID() uint32 {
	m.nextID += uint32(m.rng.IntN(1024)) + 1
	return m.nextID
}

// PingHost enqueues (or replaces) a ping to targets and returns its id
// (§4.2). Re-issuing with identical targets and kind cancels the prior
// ping rather than running both.
func (m *PingManager) PingHost(targets []*net.UDPAddr, kind PingKind, timeoutMs int64, payload []byte, nowMs int64) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := targetKey(targets, kind)
	if old, ok := m.byKey[key]; ok {
		delete(m.pings, old)
	}

	id := m.acquireNextRandomIncrementalID()
	p := &PendingHostPing{
		ID:        id,
		ManagerID: m.managerID,
		Kind:      kind,
		Targets:   targets,
		TimeoutMs: timeoutMs,
		Payload:   payload,
		CreatedMs: nowMs,
	}
	m.pings[id] = p
	m.byKey[key] = id
	return id
}

// Cancel drops a pending ping without firing a timeout.
func (m *PingManager) Cancel(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pings, id)
}

// CancelAll drops every pending ping without firing a timeout, used when
// the owning peer is shutting down (§5 "Cancellation").
func (m *PingManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pings = make(map[uint32]*PendingHostPing)
	m.byKey = make(map[string]uint32)
}

// SetHostPortRange configures the inclusive port range a port-0 target is
// expanded across on send (§6 "a client... probes every port in the
// range").
func (m *PingManager) SetHostPortRange(start, end int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hostPortRangeStart, m.hostPortRangeEnd = start, end
}

// Tick resends due pings and fires timeouts (§4.2).
func (m *PingManager) Tick(nowMs int64) {
	m.mu.Lock()
	var toSend []*PendingHostPing
	var timedOut []*PendingHostPing
	for id, p := range m.pings {
		if nowMs-p.CreatedMs >= p.TimeoutMs {
			timedOut = append(timedOut, p)
			delete(m.pings, id)
			continue
		}
		if p.attemptID == 0 || nowMs-p.LastSendMs >= m.pingIntervalMs {
			p.LastSendMs = nowMs
			p.attemptID = m.acquireNextRandomIncrementalID()
			toSend = append(toSend, p)
		}
	}
	portStart, portEnd := m.hostPortRangeStart, m.hostPortRangeEnd
	m.mu.Unlock()

	for _, p := range timedOut {
		if m.metrics != nil {
			m.metrics.PingsTimedOutTotal.WithLabelValues(p.Kind.String()).Inc()
		}
		if m.OnTimeout != nil {
			m.OnTimeout(p)
		}
	}
	for _, p := range toSend {
		m.send(p, portStart, portEnd)
	}
}

func (m *PingManager) send(p *PendingHostPing, portStart, portEnd int) {
	if m.sender == nil {
		return
	}
	for _, target := range p.Targets {
		ports := []int{target.Port}
		if target.Port == 0 && portEnd >= portStart {
			ports = make([]int, 0, portEnd-portStart+1)
			for port := portStart; port <= portEnd; port++ {
				ports = append(ports, port)
			}
		}
		for _, port := range ports {
			if !m.limiter.Allow() {
				continue
			}
			addr := &net.UDPAddr{IP: target.IP, Port: port}
			msg := NewMessage(MsgNetHostPing)
			msg.Data.WriteUint64(m.projectGuid)
			msg.Data.WriteUint32(p.ID)
			msg.Data.WriteUint32(p.attemptID)
			msg.Data.WriteUint32(p.ManagerID)
			msg.Data.WriteVarUint(uint64(len(p.Payload)))
			for _, b := range p.Payload {
				msg.Data.WriteUint8(b)
			}
			_ = m.sender.Send(addr, msg)
			if m.metrics != nil {
				m.metrics.PingsSentTotal.WithLabelValues(p.Kind.String()).Inc()
			}
		}
	}
}

// ReceivePong dispatches an inbound pong to the matching manager/ping;
// pongs addressed to a different manager id are silently ignored (§4.2
// "a received pong is dispatched only to the manager whose id matches").
func (m *PingManager) ReceivePong(fromAddr *net.UDPAddr, managerID, pingID, attemptID uint32, payload *BitStream) {
	if managerID != m.managerID {
		return
	}
	m.mu.Lock()
	p, ok := m.pings[pingID]
	m.mu.Unlock()
	if !ok {
		return
	}
	_ = attemptID
	if m.OnPong != nil {
		m.OnPong(p, fromAddr, payload)
	}
}
