package netreplica

import "log/slog"

// pendingUserAdd is one AddUser call awaiting the server's response
// (§4.5 "On client the request is forwarded to the server and a pending
// entry is queued").
type pendingUserAdd struct {
	payload []byte
}

// UserAddRequestEvent is delivered to the application on the
// server/offline side; the handler may deny by leaving Granted false
// (§4.5 "received user-add-request").
type UserAddRequestEvent struct {
	FromPeer NetPeerID
	Payload  []byte
	Granted  bool

	// OwnedObject, if set by the handler, becomes the new NetUser's
	// object-tree owner (§4.6). Left nil, the user is granted with no
	// owned object.
	OwnedObject *Replica
}

// UserAddResponseEvent is delivered to a client by ApplyUserAddResponse
// once the server has answered its AddUser call (§4.5 "received
// user-add-response"). A server/offline AddUser does not deliver it.
type UserAddResponseEvent struct {
	Granted bool
	UserID  NetUserID
}

// AddUser implements §4.5's "User add". On Server/Offline the request is
// processed immediately via onLocalHandler; on Client it is forwarded
// to the server link and queued pending a response.
func (p *Peer) AddUser(payload []byte, onLocalHandler func(*UserAddRequestEvent)) {
	if p.Role == RoleServer || p.Role == RoleOffline {
		evt := &UserAddRequestEvent{Payload: payload, Granted: true}
		if onLocalHandler != nil {
			onLocalHandler(evt)
		}
		if !evt.Granted {
			return
		}
		user := p.Users.AddUser(ReservedServerPeerID)
		if evt.OwnedObject != nil {
			p.Users.SetOwner(evt.OwnedObject, user.ID)
		}
		return
	}

	p.mu.Lock()
	p.pendingUserAdds[ReservedServerPeerID] = append(p.pendingUserAdds[ReservedServerPeerID], pendingUserAdd{payload: payload})
	p.mu.Unlock()

	msg := NewMessage(MsgNetUserAddRequest)
	msg.Data.WriteString(string(payload))
	p.SendTo(Route{ReservedServerPeerID}, msg)
}

// ApplyUserAddRequest is the server-side wire handler for an inbound
// NetUserAddRequest: it runs the application handler, assigns a
// NetUserId on grant, and replies.
func (p *Peer) ApplyUserAddRequest(fromPeer NetPeerID, payload []byte, onHandler func(*UserAddRequestEvent)) {
	evt := &UserAddRequestEvent{FromPeer: fromPeer, Payload: payload, Granted: true}
	if onHandler != nil {
		onHandler(evt)
	}

	resp := NewMessage(MsgNetUserAddResponse)
	resp.Data.WriteBool(evt.Granted)
	if evt.Granted {
		user := p.Users.AddUser(fromPeer)
		if evt.OwnedObject != nil {
			p.Users.SetOwner(evt.OwnedObject, user.ID)
		}
		resp.Data.WriteUint64(uint64(user.ID))
	}
	p.SendTo(Route{fromPeer}, resp)
}

// ApplyUserAddResponse is the client-side wire handler, firing the local
// "received user-add-response" event for the oldest pending request.
func (p *Peer) ApplyUserAddResponse(granted bool, userID NetUserID, onResponse func(UserAddResponseEvent)) {
	p.mu.Lock()
	pending := p.pendingUserAdds[ReservedServerPeerID]
	if len(pending) > 0 {
		p.pendingUserAdds[ReservedServerPeerID] = pending[1:]
	}
	p.mu.Unlock()

	if onResponse != nil {
		onResponse(UserAddResponseEvent{Granted: granted, UserID: userID})
	}
}

// RemoveUser implements §4.5's "Remove user": on Server/Offline the
// NetUser is destroyed directly (releasing its owned objects); on Client
// the request is forwarded to the server.
func (p *Peer) RemoveUser(id NetUserID, payload []byte) error {
	if p.Role == RoleServer || p.Role == RoleOffline {
		return p.Users.RemoveUser(id, p.Replicator.arena)
	}
	msg := NewMessage(MsgNetUserRemoveRequest)
	msg.Data.WriteUint64(uint64(id))
	msg.Data.WriteString(string(payload))
	p.SendTo(Route{ReservedServerPeerID}, msg)
	return nil
}

// StartGameClone runs the server half of §4.5's "Game clone": send
// NetGameLoadStarted, the caller clones the game/space cogs and invokes
// StartLevelLoad/FinishLevelLoad per space, then FinishGameClone sends
// NetGameLoadFinished.
func (p *Peer) StartGameClone(toPeer NetPeerID) error {
	p.mu.Lock()
	p.receivingByLink[toPeer] = true
	p.mu.Unlock()
	return p.SendToOne(toPeer, NewMessage(MsgNetGameLoadStarted))
}

// FinishGameClone closes out the clone stream by clearing the receiving
// mark StartGameClone set and sending NetGameLoadFinished; the receiver's
// ApplyGameLoadFinished fires its game-started callback (§4.5).
func (p *Peer) FinishGameClone(toPeer NetPeerID) error {
	p.mu.Lock()
	delete(p.receivingByLink, toPeer)
	p.mu.Unlock()
	return p.SendToOne(toPeer, NewMessage(MsgNetGameLoadFinished))
}

// ApplyGameLoadStarted marks this (client) peer as receiving a clone.
func (p *Peer) ApplyGameLoadStarted() {
	p.mu.Lock()
	p.receivingByLink[ReservedServerPeerID] = true
	p.mu.Unlock()
}

// ApplyGameLoadFinished implements the client-side completion of §4.5's
// game clone: destroy any still-offline emplaced objects, process every
// space's queued delayed-parent attachments, and fire onGameStarted: it
// is posted to Ctx.Dispatch when the peer has one, and invoked
// immediately otherwise.
func (p *Peer) ApplyGameLoadFinished(onGameStarted func()) {
	p.mu.Lock()
	delete(p.receivingByLink, ReservedServerPeerID)
	p.mu.Unlock()

	for _, r := range p.Replicator.arena.All() {
		if r.Emplace.IsEmplaced && !r.Online {
			p.Replicator.arena.Remove(r.ID)
		}
	}
	for _, space := range p.Spaces {
		space.ClearDelayedAttachments()
	}

	p.gameStarted = true
	if p.Ctx != nil {
		slog.Info("netreplica: game clone finished", "peer_guid", p.GUID)
	}
	if onGameStarted != nil {
		if p.Ctx != nil && p.Ctx.Dispatch != nil {
			p.Ctx.Dispatch.Post(onGameStarted)
		} else {
			onGameStarted()
		}
	}
}

// IsReceiving reports whether a clone involving fromPeer is still in
// progress.
func (p *Peer) IsReceiving(fromPeer NetPeerID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receivingByLink[fromPeer]
}
