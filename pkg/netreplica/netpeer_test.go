package netreplica

import "testing"

func TestAddUserOnOfflinePeerGrantsImmediately(t *testing.T) {
	p := NewPeer(&EngineContext{})
	p.Role = RoleOffline

	var got *UserAddRequestEvent
	p.AddUser([]byte("hello"), func(e *UserAddRequestEvent) { got = e })

	if got == nil || string(got.Payload) != "hello" {
		t.Fatalf("expected local handler invoked with payload, got %#v", got)
	}
	if len(p.Users.users) != 1 {
		t.Fatalf("expected one user registered, got %d", len(p.Users.users))
	}
}

func TestAddUserOnClientQueuesPendingEntry(t *testing.T) {
	p := NewPeer(&EngineContext{})
	p.Role = RoleClient

	p.AddUser([]byte("payload"), nil)

	if len(p.pendingUserAdds[ReservedServerPeerID]) != 1 {
		t.Fatalf("expected one pending user-add entry queued for the server")
	}
}

func TestApplyUserAddResponseDrainsPendingAndFiresCallback(t *testing.T) {
	p := NewPeer(&EngineContext{})
	p.Role = RoleClient
	p.AddUser([]byte("a"), nil)
	p.AddUser([]byte("b"), nil)

	var got UserAddResponseEvent
	p.ApplyUserAddResponse(true, 7, func(e UserAddResponseEvent) { got = e })

	if len(p.pendingUserAdds[ReservedServerPeerID]) != 1 {
		t.Fatalf("expected one pending entry to remain after draining one response")
	}
	if !got.Granted || got.UserID != 7 {
		t.Fatalf("expected granted response with user id 7, got %#v", got)
	}
}

func TestRemoveUserOnServerDestroysDirectly(t *testing.T) {
	p := NewPeer(&EngineContext{})
	p.Role = RoleServer
	u := p.Users.AddUser(1)

	obj := &Replica{ID: 42}
	p.Replicator.arena.Insert(obj)
	p.Users.SetOwner(obj, u.ID)

	if err := p.RemoveUser(u.ID, nil); err != nil {
		t.Fatalf("RemoveUser failed: %v", err)
	}
	if obj.Owner != 0 {
		t.Fatalf("expected owned object released after user removal")
	}
}

func TestGameLoadFinishedClearsReceivingAndDelayedAttachments(t *testing.T) {
	p := NewPeer(&EngineContext{})
	p.Role = RoleClient
	p.ApplyGameLoadStarted()

	space := NewNetSpace(1)
	p.Spaces[1] = space
	child := &Replica{ID: 7, Parent: 5}
	p.Replicator.arena.Insert(child)
	space.ObjectArrived(p.Replicator.arena, child, func(c, parent *Replica) {})

	called := false
	p.ApplyGameLoadFinished(func() { called = true })

	if p.IsReceiving(ReservedServerPeerID) {
		t.Fatalf("expected receiving flag cleared after game load finished")
	}
	if space.PendingAttachmentCount() != 0 {
		t.Fatalf("expected delayed attachments cleared at game-clone completion")
	}
	if !called {
		t.Fatalf("expected onGameStarted callback invoked")
	}
	if !p.gameStarted {
		t.Fatalf("expected gameStarted flag set")
	}
}

func TestGameLoadFinishedDestroysStillOfflineEmplacedObjects(t *testing.T) {
	p := NewPeer(&EngineContext{})
	p.Role = RoleClient

	offline := &Replica{ID: 3, Emplace: EmplaceInfo{IsEmplaced: true}, Online: false}
	online := &Replica{ID: 4, Emplace: EmplaceInfo{IsEmplaced: true}, Online: true}
	p.Replicator.arena.Insert(offline)
	p.Replicator.arena.Insert(online)

	p.ApplyGameLoadFinished(nil)

	if _, ok := p.Replicator.arena.Get(3); ok {
		t.Fatalf("expected still-offline emplaced object to be destroyed")
	}
	if _, ok := p.Replicator.arena.Get(4); !ok {
		t.Fatalf("expected online emplaced object to survive")
	}
}
