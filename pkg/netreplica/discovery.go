package netreplica

import (
	"net"
	"sync"
)

// DiscoveryNetwork selects whether a request probes LAN broadcast
// addresses directly or routes through subscribed master servers (§4.7).
type DiscoveryNetwork uint8

const (
	NetworkLAN DiscoveryNetwork = iota
	NetworkInternet
)

// RefreshStage is a request's progress toward full host information (§4.7).
type RefreshStage uint8

const (
	StageUnresponding RefreshStage = iota
	StageIndirectBasicHostInfo
	StageDirectBasicHostInfo
	StageExtraHostInfo
)

func (s RefreshStage) String() string {
	switch s {
	case StageIndirectBasicHostInfo:
		return "IndirectBasicHostInfo"
	case StageDirectBasicHostInfo:
		return "DirectBasicHostInfo"
	case StageExtraHostInfo:
		return "ExtraHostInfo"
	default:
		return "Unresponding"
	}
}

// RespondingHostData is what's known about one host that has answered at
// least one ping, keyed by its real IP (§4.7).
type RespondingHostData struct {
	IP        string
	RTTMs     int64
	BasicInfo []byte
	ExtraInfo []byte
	Stage     RefreshStage
}

// requestBase holds the fields common to single- and multi-host requests.
type requestBase struct {
	AllowDiscovery bool
	GetExtraInfo   bool
	RemoveStale    bool
	PingID         uint32
	CreatedMs      int64
	TimeoutMs      int64
}

// SingleHostRequest probes exactly one IP (§4.7).
//
// MarkResponseReceived resolves §9's open question: the original stored
// `!isFirstResponse`, inverted relative to its name and to the
// multi-host variant. Here the caller passes whether this is genuinely
// the first response; a true value sets the flag, which then stays set —
// NetHostDiscovered fires on the first response, not the last.
type SingleHostRequest struct {
	requestBase
	IP                    net.IP
	receivedFirstResponse bool
}

// MarkResponseReceived records whether this call represents the first
// response this request has seen.
func (r *SingleHostRequest) MarkResponseReceived(isFirstResponse bool) {
	if isFirstResponse {
		r.receivedFirstResponse = true
	}
}

// MultiHostRequest probes a fixed set of expected hosts (§4.7).
type MultiHostRequest struct {
	requestBase
	Expected  map[string]bool // ip -> responded
	firstSeen map[string]bool
}

// MarkResponseReceived records a per-IP "first response" flag, matching
// §4.7's "for multi-host requests the first response is judged per IP."
func (r *MultiHostRequest) MarkResponseReceived(ip string, isFirstResponse bool) {
	if r.firstSeen == nil {
		r.firstSeen = make(map[string]bool)
	}
	if isFirstResponse {
		r.firstSeen[ip] = true
	}
	r.Expected[ip] = true
}

// complete reports whether every expected IP has responded.
func (r *MultiHostRequest) complete() bool {
	for _, responded := range r.Expected {
		if !responded {
			return false
		}
	}
	return true
}

// DiscoveryManager is the common base both LAN and Internet discovery
// share (§4.7): a PingManager plus the set of open host requests and the
// responding-host-data table they populate.
type DiscoveryManager struct {
	mu sync.Mutex

	Network DiscoveryNetwork
	Pings   *PingManager

	hostData map[string]*RespondingHostData // real host ip -> data
	single   map[uint32]*SingleHostRequest
	multi    map[uint32]*MultiHostRequest

	OnHostDiscovered    func(ip string, data *RespondingHostData)
	OnHostRefreshed     func(ip string, data *RespondingHostData)
	OnHostListDiscovered func(ips []string)
	OnHostListRefreshed  func(ips []string)
}

// NewDiscoveryManager constructs a manager for the given network kind,
// backed by its own PingManager instance.
func NewDiscoveryManager(network DiscoveryNetwork, pings *PingManager) *DiscoveryManager {
	return &DiscoveryManager{
		Network:  network,
		Pings:    pings,
		hostData: make(map[string]*RespondingHostData),
		single:   make(map[uint32]*SingleHostRequest),
		multi:    make(map[uint32]*MultiHostRequest),
	}
}

// RequestSingleHost starts probing one IP (§4.7).
func (d *DiscoveryManager) RequestSingleHost(ip net.IP, port int, allowDiscovery, getExtraInfo, removeStale bool, timeoutMs, nowMs int64, payload []byte) uint32 {
	addr := &net.UDPAddr{IP: ip, Port: port}
	pingID := d.Pings.PingHost([]*net.UDPAddr{addr}, PingKindHostDiscovery, timeoutMs, payload, nowMs)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.single[pingID] = &SingleHostRequest{
		requestBase: requestBase{
			AllowDiscovery: allowDiscovery,
			GetExtraInfo:   getExtraInfo,
			RemoveStale:    removeStale,
			PingID:         pingID,
			CreatedMs:      nowMs,
			TimeoutMs:      timeoutMs,
		},
		IP: ip,
	}
	return pingID
}

// RequestMultiHost starts probing a known set of expected hosts (§4.7).
func (d *DiscoveryManager) RequestMultiHost(targets []*net.UDPAddr, allowDiscovery, getExtraInfo, removeStale bool, timeoutMs, nowMs int64, payload []byte) uint32 {
	pingID := d.Pings.PingHost(targets, PingKindHostDiscovery, timeoutMs, payload, nowMs)

	expected := make(map[string]bool, len(targets))
	for _, t := range targets {
		expected[t.IP.String()] = false
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.multi[pingID] = &MultiHostRequest{
		requestBase: requestBase{
			AllowDiscovery: allowDiscovery,
			GetExtraInfo:   getExtraInfo,
			RemoveStale:    removeStale,
			PingID:         pingID,
			CreatedMs:      nowMs,
			TimeoutMs:      timeoutMs,
		},
		Expected: expected,
	}
	return pingID
}

// ReceivePong processes one inbound pong (§4.7): updates or inserts the
// responding-host entry, fires NetHostDiscovered/Refreshed on the first
// response for a request, and checks for request completion.
//
// masterOrigin/realIP let a master-server-relayed refresh ("unwrap
// master-server refreshes to yield the real host IP") be distinguished
// from a direct reply; when masterOrigin is true realIP is used as the
// responding-host key instead of fromAddr.
func (d *DiscoveryManager) ReceivePong(pingID uint32, fromAddr *net.UDPAddr, basicInfo, extraInfo []byte, masterOrigin bool, realIP net.IP, rttMs int64) {
	ip := fromAddr.IP
	if masterOrigin {
		ip = realIP
	}
	key := ip.String()

	d.mu.Lock()
	data, existed := d.hostData[key]
	if !existed {
		data = &RespondingHostData{IP: key}
		d.hostData[key] = data
	}
	data.RTTMs = rttMs
	data.BasicInfo = basicInfo
	if extraInfo != nil {
		data.ExtraInfo = extraInfo
		data.Stage = StageExtraHostInfo
	} else if masterOrigin {
		if data.Stage < StageIndirectBasicHostInfo {
			data.Stage = StageIndirectBasicHostInfo
		}
	} else if data.Stage < StageDirectBasicHostInfo {
		data.Stage = StageDirectBasicHostInfo
	}

	var fireDiscovered, fireRefreshed bool

	if single, ok := d.single[pingID]; ok {
		wasFirstForRequest := !single.receivedFirstResponse
		single.MarkResponseReceived(wasFirstForRequest)
		if wasFirstForRequest {
			if existed {
				fireRefreshed = true
			} else {
				fireDiscovered = true
			}
		}
	}
	if multi, ok := d.multi[pingID]; ok {
		wasFirstForIP := !multi.Expected[key]
		multi.MarkResponseReceived(key, wasFirstForIP)
		if wasFirstForIP {
			if existed {
				fireRefreshed = true
			} else {
				fireDiscovered = true
			}
		}
	}
	d.mu.Unlock()

	if fireDiscovered && d.OnHostDiscovered != nil {
		d.OnHostDiscovered(key, data)
	}
	if fireRefreshed && d.OnHostRefreshed != nil {
		d.OnHostRefreshed(key, data)
	}
}

// TickCompletions checks every open request for completion — all
// expected hosts responded, the single target responded, or the request
// timed out — and fires OnHostListDiscovered for each, pruning any
// expected IP that never responded when RemoveStale was set (§4.7, §8
// "Host-list freshness").
func (d *DiscoveryManager) TickCompletions(nowMs int64) {
	d.mu.Lock()
	var completedSingle []*SingleHostRequest
	for id, s := range d.single {
		if s.receivedFirstResponse || nowMs-s.CreatedMs >= s.TimeoutMs {
			completedSingle = append(completedSingle, s)
			delete(d.single, id)
		}
	}
	var completedMulti []*MultiHostRequest
	for id, m := range d.multi {
		if m.complete() || nowMs-m.CreatedMs >= m.TimeoutMs {
			completedMulti = append(completedMulti, m)
			delete(d.multi, id)
		}
	}
	d.mu.Unlock()

	for _, s := range completedSingle {
		if s.RemoveStale && !s.receivedFirstResponse {
			d.removeHostData(s.IP.String())
		}
		if d.OnHostListDiscovered != nil {
			d.OnHostListDiscovered([]string{s.IP.String()})
		}
	}
	for _, m := range completedMulti {
		var fresh []string
		for ip, responded := range m.Expected {
			if responded {
				fresh = append(fresh, ip)
			} else if m.RemoveStale {
				d.removeHostData(ip)
			}
		}
		if d.OnHostListDiscovered != nil {
			d.OnHostListDiscovered(fresh)
		}
	}
}

func (d *DiscoveryManager) removeHostData(ip string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.hostData, ip)
}

// HostData returns a snapshot of everything currently known to have
// responded.
func (d *DiscoveryManager) HostData() map[string]*RespondingHostData {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]*RespondingHostData, len(d.hostData))
	for k, v := range d.hostData {
		cp := *v
		out[k] = &cp
	}
	return out
}

// Cancel clears pending pings, open requests, and responding-host data,
// resetting the manager to idle (§4.7 "Cancellation").
func (d *DiscoveryManager) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.single {
		d.Pings.Cancel(id)
	}
	for id := range d.multi {
		d.Pings.Cancel(id)
	}
	d.single = make(map[uint32]*SingleHostRequest)
	d.multi = make(map[uint32]*MultiHostRequest)
	d.hostData = make(map[string]*RespondingHostData)
}
