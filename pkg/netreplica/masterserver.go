package netreplica

import (
	"strconv"
	"sync"
)

// DefaultSameIPHostRecordLimit and DefaultHostRecordLifetimeMs are the
// tuning constants a master server applies to every project (§4.8).
// Defaults chosen to bound abuse from one address without needing a
// persisted config (the ambient-stack decision in SPEC_FULL.md).
const (
	DefaultSameIPHostRecordLimit   = 4
	DefaultHostRecordLifetimeMs    = 30_000
	DefaultHostPublishIntervalMs   = 5_000

	// MaxBasicHostInfoLen is the §6 wire bound on a published host's
	// basic info: violations are errors, not silent truncation.
	MaxBasicHostInfoLen = 480
)

// recordKey identifies one host record: a project's registry is
// partitioned by its own guid, so two unrelated games publishing from
// the same IP never collide (§4.8 "per-project-guid map from IP to record").
type recordKey struct {
	ProjectGuid uint64
	IP          string
}

// HostRecord is one server's published presence on the master (§4.8).
type HostRecord struct {
	ProjectGuid uint64
	IP          string
	BasicInfo   []byte
	AgeMs       int64
}

// MasterServerRegistry is the data a peer opened in the MasterServer
// role owns: every live HostRecord plus the per-IP count used to enforce
// the same-IP cap (§4.8).
type MasterServerRegistry struct {
	mu sync.Mutex

	records  map[recordKey]*HostRecord
	ipCounts map[string]int
	metrics  *Metrics

	IPCap      int
	LifetimeMs int64

	OnExpired func(rec *HostRecord)
}

// NewMasterServerRegistry constructs an empty registry with the given
// per-IP cap and record lifetime. metrics may be nil.
func NewMasterServerRegistry(ipCap int, lifetimeMs int64, metrics *Metrics) *MasterServerRegistry {
	return &MasterServerRegistry{
		records:    make(map[recordKey]*HostRecord),
		ipCounts:   make(map[string]int),
		metrics:    metrics,
		IPCap:      ipCap,
		LifetimeMs: lifetimeMs,
	}
}

// recordHeldGauge refreshes the held-records gauge. Caller must hold m.mu.
func (m *MasterServerRegistry) recordHeldGauge() {
	if m.metrics == nil {
		return
	}
	m.metrics.HostRecordsHeld.Set(float64(len(m.records)))
}

// Publish applies an inbound NetHostPublish: refreshes an existing
// record's age and basic info, or inserts a new one subject to the
// per-IP cap. The k+1-th publish for a capped IP is rejected silently by
// the caller (§8 "Master-server cap") — Publish just reports the error.
func (m *MasterServerRegistry) Publish(projectGuid uint64, ip string, basicInfo []byte) error {
	if len(basicInfo) > MaxBasicHostInfoLen {
		return ErrBasicHostInfoTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey{ProjectGuid: projectGuid, IP: ip}
	if rec, ok := m.records[key]; ok {
		rec.BasicInfo = basicInfo
		rec.AgeMs = 0
		return nil
	}
	if m.IPCap > 0 && m.ipCounts[ip] >= m.IPCap {
		return ErrHostRecordLimitReached
	}
	m.records[key] = &HostRecord{ProjectGuid: projectGuid, IP: ip, BasicInfo: basicInfo}
	m.ipCounts[ip]++
	m.recordHeldGauge()
	return nil
}

// RemoveHost removes one project's record for ip. Resolves §9's open
// question: membership is checked (plain map comma-ok) before any
// dereference, returning ErrHostNotFound on a miss instead of risking a
// nil-pointer fault on an absent record.
func (m *MasterServerRegistry) RemoveHost(projectGuid uint64, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey{ProjectGuid: projectGuid, IP: ip}
	rec, ok := m.records[key]
	if !ok {
		return ErrHostNotFound
	}
	delete(m.records, key)
	m.decrementIPCount(rec.IP)
	m.recordHeldGauge()
	return nil
}

func (m *MasterServerRegistry) decrementIPCount(ip string) {
	m.ipCounts[ip]--
	if m.ipCounts[ip] <= 0 {
		delete(m.ipCounts, ip)
	}
}

// Tick advances every record's age by deltaMs, expiring (and firing
// OnExpired for) any record past LifetimeMs (§4.8).
func (m *MasterServerRegistry) Tick(deltaMs int64) {
	m.mu.Lock()
	var expired []*HostRecord
	for key, rec := range m.records {
		rec.AgeMs += deltaMs
		if rec.AgeMs > m.LifetimeMs {
			expired = append(expired, rec)
			delete(m.records, key)
			m.decrementIPCount(rec.IP)
		}
	}
	if len(expired) > 0 {
		m.recordHeldGauge()
	}
	m.mu.Unlock()

	for _, rec := range expired {
		if m.metrics != nil {
			m.metrics.HostRecordsExpired.WithLabelValues(strconv.FormatUint(rec.ProjectGuid, 10)).Inc()
		}
		if m.OnExpired != nil {
			m.OnExpired(rec)
		}
	}
}

// RecordsForProject returns every live record for one project guid, used
// both to answer a refresh ping and to build a NetHostRecordList (§4.8).
func (m *MasterServerRegistry) RecordsForProject(projectGuid uint64) []*HostRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*HostRecord
	for key, rec := range m.records {
		if key.ProjectGuid == projectGuid {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out
}

// Lookup returns the record for one (projectGuid, ip) pair, used to
// answer a MasterServerRefreshHost ping with a NetHostRefresh payload
// reconstructed from the stored record (§4.8).
func (m *MasterServerRegistry) Lookup(projectGuid uint64, ip string) (*HostRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey{ProjectGuid: projectGuid, IP: ip}]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// EncodeHostRecordList serializes the NetHostRecordList payload: a u32
// count followed by (ip, u32 size, bytes) per record (§6).
func EncodeHostRecordList(records []*HostRecord) Message {
	msg := NewMessage(MsgNetHostRecordList)
	msg.Data.WriteUint32(uint32(len(records)))
	for _, rec := range records {
		msg.Data.WriteString(rec.IP)
		msg.Data.WriteUint32(uint32(len(rec.BasicInfo)))
		for _, b := range rec.BasicInfo {
			msg.Data.WriteUint8(b)
		}
	}
	return msg
}

// DecodeHostRecordList is the receive-side counterpart, used by a client
// subscribing to a master server.
func DecodeHostRecordList(in *BitStream) ([]HostRecord, error) {
	count, err := in.ReadUint32()
	if err != nil {
		return nil, err
	}
	out := make([]HostRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		ip, err := in.ReadString(0)
		if err != nil {
			return nil, err
		}
		n, err := in.ReadUint32()
		if err != nil {
			return nil, err
		}
		info := make([]byte, n)
		for j := range info {
			b, err := in.ReadUint8()
			if err != nil {
				return nil, err
			}
			info[j] = b
		}
		out = append(out, HostRecord{IP: ip, BasicInfo: info})
	}
	return out, nil
}

// SendHostRecordListOnAccept sends the reliable NetHostRecordList to a
// newly accepted link and disconnects it once delivery is acknowledged,
// matching §4.8's "registers the message's receipt id so that when
// delivery is acknowledged the link is disconnected" (used when the
// master server's only job for this connection was the one-shot list).
func (m *MasterServerRegistry) SendHostRecordListOnAccept(peer *Peer, link *Link, projectGuid uint64, nowMs int64) {
	records := m.RecordsForProject(projectGuid)
	msg := EncodeHostRecordList(records)
	receiptID := link.EnqueueReliable(msg.Encode(), func() {
		peer.Disconnect(link, DisconnectRequested, nowMs)
	})
	_ = receiptID
	peer.SendTo(Route{link.RemotePeerID}, msg)
}
