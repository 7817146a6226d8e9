package netreplica

import (
	"net"
	"testing"
)

func TestPeerOpenBindsWithinPortRetryRange(t *testing.T) {
	blocker, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		t.Fatalf("failed to reserve a port for the test: %v", err)
	}
	defer blocker.Close()
	busyPort := blocker.LocalAddr().(*net.UDPAddr).Port

	p := NewPeer(nil)
	err = p.Open(PeerOpenOptions{Role: RoleServer, Port: busyPort, Tuning: Options{PortRetries: 3}})
	if err != nil {
		t.Fatalf("Open should have found a free port within the retry range: %v", err)
	}
	defer p.Close()

	if !p.IsOpen() {
		t.Fatalf("peer should report open after a successful Open")
	}
	if p.port == busyPort {
		t.Fatalf("peer bound the already-busy port %d", busyPort)
	}
}

func TestPeerOpenRejectsUnspecifiedRole(t *testing.T) {
	p := NewPeer(nil)
	if err := p.Open(PeerOpenOptions{Port: 0}); err == nil {
		t.Fatalf("expected an error opening with RoleUnspecified")
	}
}

func TestPeerOpenTwiceFails(t *testing.T) {
	p := NewPeer(nil)
	if err := p.Open(PeerOpenOptions{Role: RoleClient, Port: 0}); err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	defer p.Close()
	if err := p.Open(PeerOpenOptions{Role: RoleClient, Port: 0}); err != ErrAlreadyOpen {
		t.Fatalf("expected ErrAlreadyOpen, got %v", err)
	}
}

func TestPeerConnectIsIdempotentWhileConnecting(t *testing.T) {
	p := NewPeer(&EngineContext{})
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}

	if err := p.Connect(addr, []byte("hello")); err != nil {
		t.Fatalf("first connect should succeed: %v", err)
	}
	if err := p.Connect(addr, []byte("hello again")); err != ErrLinkExists {
		t.Fatalf("expected ErrLinkExists for a duplicate in-flight connect, got %v", err)
	}
}

func TestPeerConnectResponseTransitionsLinkAndAssignsPeerID(t *testing.T) {
	p := NewPeer(nil)
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}
	_ = p.Connect(addr, []byte("payload"))

	var sent [][]byte
	p.TickConnects(func(l *Link, data []byte) { sent = append(sent, data) })
	if len(sent) != 1 {
		t.Fatalf("expected one connect-request send, got %d", len(sent))
	}

	var result ConnectResult
	p.OnConnectResult = func(r ConnectResult) { result = r }
	p.ReceiveConnectResponse(addr, true, []byte("welcome"))

	if !result.Accepted {
		t.Fatalf("expected an accepted connect result")
	}
	if result.Link.Status != LinkConnected {
		t.Fatalf("link should be Connected after an accepted response, got %v", result.Link.Status)
	}
	if _, ok := p.LinkByPeerID(result.Link.RemotePeerID); !ok {
		t.Fatalf("accepted link should be indexed by its assigned peer id")
	}
}

func TestPeerCloseForgetsEveryLiveReplica(t *testing.T) {
	p := NewPeer(nil)
	if err := p.Open(PeerOpenOptions{Role: RoleOffline, Port: 0}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var forgottenOrder []NetObjectID
	p.Replicator.OnEvent = func(id string, r *Replica) {
		if id == "NetObjectOffline" {
			forgottenOrder = append(forgottenOrder, r.ID)
		}
	}

	r1, _ := p.Replicator.Spawn(SpawnOptions{Role: RolePlain}, nil)
	r2, _ := p.Replicator.Spawn(SpawnOptions{Role: RolePlain}, nil)

	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, ok := p.Replicator.Arena().Get(r1.ID); ok {
		t.Fatalf("expected replica %d forgotten on Close", r1.ID)
	}
	if _, ok := p.Replicator.Arena().Get(r2.ID); ok {
		t.Fatalf("expected replica %d forgotten on Close", r2.ID)
	}
	if len(forgottenOrder) != 2 || forgottenOrder[0] != r2.ID || forgottenOrder[1] != r1.ID {
		t.Fatalf("expected replicas forgotten in reverse emplace order, got %v", forgottenOrder)
	}
}

func TestPeerSendAfterCloseReturnsErrPeerClosed(t *testing.T) {
	p := NewPeer(nil)
	if err := p.Open(PeerOpenOptions{Role: RoleClient, Port: 0}); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Send(&net.UDPAddr{Port: 1}, NewMessage(MsgNetHostPing)); err != ErrPeerClosed {
		t.Fatalf("expected ErrPeerClosed after Close, got %v", err)
	}
}

func TestPeerSendToOneReportsMissingLink(t *testing.T) {
	p := NewPeer(nil)
	if err := p.SendToOne(NetPeerID(7), NewMessage(MsgNetGameLoadStarted)); err != ErrLinkNotFound {
		t.Fatalf("expected ErrLinkNotFound for an unknown peer id, got %v", err)
	}
}

func TestPeerTickDisconnectsFiresAfterGraceExpires(t *testing.T) {
	p := NewPeer(nil)
	p.graceMs = 500
	link := NewLink(&net.UDPAddr{Port: 1})
	link.Status = LinkConnected
	link.RemotePeerID = 5
	p.links["k"] = link
	p.linksByID[5] = link

	var fired DisconnectReason
	var firedOK bool
	p.OnDisconnected = func(l *Link, r DisconnectReason) { firedOK = true; fired = r }

	p.Disconnect(link, DisconnectRequested, 1000)
	p.TickDisconnects(1000) // still within grace
	if firedOK {
		t.Fatalf("disconnect fired before the grace period elapsed")
	}

	p.TickDisconnects(1000 + p.graceMs + 1)
	if !firedOK || fired != DisconnectRequested {
		t.Fatalf("expected a disconnect callback with DisconnectRequested after grace elapsed")
	}
	if _, ok := p.LinkByPeerID(5); ok {
		t.Fatalf("link should have been removed once its grace period expired")
	}
}
