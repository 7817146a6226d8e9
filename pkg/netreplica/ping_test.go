package netreplica

import (
	"net"
	"testing"
)

type recordingSender struct {
	sent []struct {
		addr *net.UDPAddr
		msg  Message
	}
}

func (s *recordingSender) Send(addr *net.UDPAddr, msg Message) error {
	s.sent = append(s.sent, struct {
		addr *net.UDPAddr
		msg  Message
	}{addr, msg})
	return nil
}

func TestPingManagerReissueReplacesPriorPing(t *testing.T) {
	sender := &recordingSender{}
	m := NewPingManager(1, 42, sender, Options{}, nil)
	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7000}

	first := m.PingHost([]*net.UDPAddr{target}, PingKindHostDiscovery, 5000, nil, 0)
	second := m.PingHost([]*net.UDPAddr{target}, PingKindHostDiscovery, 5000, nil, 0)

	if _, ok := m.pings[first]; ok {
		t.Fatalf("first ping should have been replaced by the reissue")
	}
	if _, ok := m.pings[second]; !ok {
		t.Fatalf("second ping should be the one tracked")
	}
	if len(m.pings) != 1 {
		t.Fatalf("expected exactly one pending ping after reissue, got %d", len(m.pings))
	}
}

func TestPingManagerTimesOutAndDrops(t *testing.T) {
	sender := &recordingSender{}
	m := NewPingManager(1, 42, sender, Options{}, nil)
	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7000}
	id := m.PingHost([]*net.UDPAddr{target}, PingKindHostDiscovery, 100, nil, 0)

	var timedOut uint32
	m.OnTimeout = func(p *PendingHostPing) { timedOut = p.ID }

	m.Tick(50) // not yet due
	if timedOut != 0 {
		t.Fatalf("timeout fired too early")
	}
	m.Tick(150)
	if timedOut != id {
		t.Fatalf("expected timeout for ping %d, got %d", id, timedOut)
	}
	if _, ok := m.pings[id]; ok {
		t.Fatalf("timed out ping should be dropped")
	}
}

func TestPingManagerExpandsPortZeroAcrossRange(t *testing.T) {
	sender := &recordingSender{}
	m := NewPingManager(1, 42, sender, Options{}, nil)
	m.SetHostPortRange(7000, 7002)
	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
	m.PingHost([]*net.UDPAddr{target}, PingKindHostDiscovery, 5000, nil, 0)

	m.Tick(0)

	if len(sender.sent) != 3 {
		t.Fatalf("expected 3 sends (one per port in range), got %d", len(sender.sent))
	}
	seen := map[int]bool{}
	for _, s := range sender.sent {
		seen[s.addr.Port] = true
	}
	for p := 7000; p <= 7002; p++ {
		if !seen[p] {
			t.Fatalf("expected a send to port %d", p)
		}
	}
}

func TestPingManagerIgnoresPongForWrongManager(t *testing.T) {
	sender := &recordingSender{}
	m := NewPingManager(1, 42, sender, Options{}, nil)
	target := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7000}
	id := m.PingHost([]*net.UDPAddr{target}, PingKindHostDiscovery, 5000, nil, 0)

	var delivered bool
	m.OnPong = func(p *PendingHostPing, from *net.UDPAddr, payload *BitStream) { delivered = true }

	m.ReceivePong(target, 2 /* wrong manager */, id, 1, nil)
	if delivered {
		t.Fatalf("pong for a different manager id must not be delivered")
	}
	m.ReceivePong(target, 1, id, 1, nil)
	if !delivered {
		t.Fatalf("pong for the correct manager id should be delivered")
	}
}
