package netreplica

import "sync"

// NetUser is a logical participant with its own id and owned-object set
// (§3, §4.5).
type NetUser struct {
	ID           NetUserID
	AdderPeerID  NetPeerID
	OwnedObjects map[NetObjectID]struct{}
}

// UserRegistry owns every live NetUser on a peer, plus the global and
// per-adder-peer lookup tables §4.5 describes ("inserts into the
// added-users tables (global, per-adder-peer)").
type UserRegistry struct {
	mu sync.Mutex

	ids         *IDStore[NetUserID]
	users       map[NetUserID]*NetUser
	byAdderPeer map[NetPeerID]map[NetUserID]struct{}

	// OnUserLostOwnership / OnUserAcquiredOwnership fire on the user side
	// of an ownership change; OnOwnerChanged fires on the object side
	// (§4.5 "fires NetUserLostObjectOwnership / NetUserAcquiredObjectOwnership
	// on the respective users and NetUserOwnerChanged on the object").
	OnUserLostOwnership     func(user NetUserID, obj *Replica)
	OnUserAcquiredOwnership func(user NetUserID, obj *Replica)
	OnOwnerChanged          func(obj *Replica, previous, current NetUserID)
}

// NewUserRegistry constructs an empty registry.
func NewUserRegistry() *UserRegistry {
	return &UserRegistry{
		ids:         NewIDStore[NetUserID](0),
		users:       make(map[NetUserID]*NetUser),
		byAdderPeer: make(map[NetPeerID]map[NetUserID]struct{}),
	}
}

// AddUser implements the server/offline path of §4.5's "User add": a
// NetUserId is assigned and the user is inserted into both the global
// and per-adder-peer tables. The caller is responsible for having
// already run the application's "received user-add-request" handler
// that created the backing NetUser cog.
func (u *UserRegistry) AddUser(adderPeerID NetPeerID) *NetUser {
	u.mu.Lock()
	defer u.mu.Unlock()

	id := u.ids.Acquire()
	user := &NetUser{ID: id, AdderPeerID: adderPeerID, OwnedObjects: make(map[NetObjectID]struct{})}
	u.users[id] = user
	if u.byAdderPeer[adderPeerID] == nil {
		u.byAdderPeer[adderPeerID] = make(map[NetUserID]struct{})
	}
	u.byAdderPeer[adderPeerID][id] = struct{}{}
	return user
}

// Get looks up a user by id.
func (u *UserRegistry) Get(id NetUserID) (*NetUser, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[id]
	return user, ok
}

// UsersAddedBy returns every NetUserID added through a given peer, used
// when that peer disconnects and every user it added must be removed.
func (u *UserRegistry) UsersAddedBy(peerID NetPeerID) []NetUserID {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]NetUserID, 0, len(u.byAdderPeer[peerID]))
	for id := range u.byAdderPeer[peerID] {
		out = append(out, id)
	}
	return out
}

// RemoveUser destroys the NetUser, releasing every object it owned
// (clearing NetUserOwnerUserId on each, §8 "Ownership release") and
// freeing its id back to the store (§4.5 "Remove user").
func (u *UserRegistry) RemoveUser(id NetUserID, arena *ReplicaArena) error {
	u.mu.Lock()
	user, ok := u.users[id]
	if !ok {
		u.mu.Unlock()
		return ErrUserNotFound
	}
	delete(u.users, id)
	delete(u.byAdderPeer[user.AdderPeerID], id)
	u.ids.Release(id)
	owned := make([]NetObjectID, 0, len(user.OwnedObjects))
	for objID := range user.OwnedObjects {
		owned = append(owned, objID)
	}
	u.mu.Unlock()

	for _, objID := range owned {
		r, ok := arena.Get(objID)
		if !ok {
			continue
		}
		prev := r.Owner
		r.Owner = 0
		if u.OnOwnerChanged != nil {
			u.OnOwnerChanged(r, prev, 0)
		}
	}
	return nil
}

// SetOwner changes r's owner, updating both owned-sets and firing the
// three events §4.5 describes: lost-ownership on the previous owner,
// acquired-ownership on the new owner, and owner-changed on the object
// itself. On a server this also replicates through the built-in NetObject
// channel's NetUserOwnerUserId property — that replication is the
// channel's normal detect/apply path, not special-cased here.
func (u *UserRegistry) SetOwner(r *Replica, newOwner NetUserID) {
	u.mu.Lock()
	prev := r.Owner
	if prev == newOwner {
		u.mu.Unlock()
		return
	}
	if prevUser, ok := u.users[prev]; ok {
		delete(prevUser.OwnedObjects, r.ID)
	}
	r.Owner = newOwner
	if newUser, ok := u.users[newOwner]; ok {
		newUser.OwnedObjects[r.ID] = struct{}{}
	}
	u.mu.Unlock()

	if prev != 0 && u.OnUserLostOwnership != nil {
		u.OnUserLostOwnership(prev, r)
	}
	if newOwner != 0 && u.OnUserAcquiredOwnership != nil {
		u.OnUserAcquiredOwnership(newOwner, r)
	}
	if u.OnOwnerChanged != nil {
		u.OnOwnerChanged(r, prev, newOwner)
	}
}
