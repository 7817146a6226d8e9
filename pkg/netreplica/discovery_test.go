package netreplica

import (
	"net"
	"testing"
)

func TestSingleHostRequestFiresDiscoveredOnFirstResponseOnly(t *testing.T) {
	sender := &recordingSender{}
	pm := NewPingManager(1, 7, sender, Options{}, nil)
	d := NewDiscoveryManager(NetworkLAN, pm)

	var discoveredCount, refreshedCount int
	d.OnHostDiscovered = func(ip string, data *RespondingHostData) { discoveredCount++ }
	d.OnHostRefreshed = func(ip string, data *RespondingHostData) { refreshedCount++ }

	ip := net.IPv4(10, 0, 0, 5)
	pingID := d.RequestSingleHost(ip, 7000, true, false, true, 5000, 0, nil)
	addr := &net.UDPAddr{IP: ip, Port: 7000}

	d.ReceivePong(pingID, addr, []byte("HELLO"), nil, false, nil, 12)
	d.ReceivePong(pingID, addr, []byte("HELLO"), nil, false, nil, 9)

	if discoveredCount != 1 {
		t.Fatalf("expected exactly one NetHostDiscovered, got %d", discoveredCount)
	}
	if refreshedCount != 0 {
		t.Fatalf("a single request's second response must not fire refreshed, got %d", refreshedCount)
	}
}

func TestHostListFreshnessRemovesStaleOnTimeout(t *testing.T) {
	sender := &recordingSender{}
	pm := NewPingManager(1, 7, sender, Options{}, nil)
	d := NewDiscoveryManager(NetworkLAN, pm)

	respond := net.IPv4(10, 0, 0, 1)
	stale := net.IPv4(10, 0, 0, 2)
	targets := []*net.UDPAddr{
		{IP: respond, Port: 7000},
		{IP: stale, Port: 7000},
	}
	pingID := d.RequestMultiHost(targets, true, false, true, 100, 0, nil)
	d.ReceivePong(pingID, &net.UDPAddr{IP: respond, Port: 7000}, []byte("ok"), nil, false, nil, 5)

	var listedHosts []string
	d.OnHostListDiscovered = func(ips []string) { listedHosts = ips }

	d.TickCompletions(150) // past the 100ms timeout

	if len(listedHosts) != 1 || listedHosts[0] != respond.String() {
		t.Fatalf("expected only the responding host in the final list, got %v", listedHosts)
	}
	data := d.HostData()
	if _, ok := data[stale.String()]; ok {
		t.Fatalf("stale host must be removed from responding-host data")
	}
	if _, ok := data[respond.String()]; !ok {
		t.Fatalf("responding host must remain present")
	}
}

func TestMultiHostRequestCompletesWhenAllRespond(t *testing.T) {
	sender := &recordingSender{}
	pm := NewPingManager(1, 7, sender, Options{}, nil)
	d := NewDiscoveryManager(NetworkLAN, pm)

	a := net.IPv4(10, 0, 0, 1)
	b := net.IPv4(10, 0, 0, 2)
	targets := []*net.UDPAddr{{IP: a, Port: 7000}, {IP: b, Port: 7000}}
	pingID := d.RequestMultiHost(targets, true, false, false, 5000, 0, nil)

	d.ReceivePong(pingID, &net.UDPAddr{IP: a, Port: 7000}, nil, nil, false, nil, 1)
	d.ReceivePong(pingID, &net.UDPAddr{IP: b, Port: 7000}, nil, nil, false, nil, 1)

	var completed bool
	d.OnHostListDiscovered = func(ips []string) { completed = len(ips) == 2 }
	d.TickCompletions(10) // well before timeout, but every expected host responded

	if !completed {
		t.Fatalf("request should complete once every expected host has responded")
	}
}
