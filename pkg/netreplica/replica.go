package netreplica

import "sync"

// RoleKind is the tagged union selecting a replica's derived dispatch
// behavior, replacing the NetObject/NetPeer/NetSpace/NetUser inheritance
// chain from the original implementation (§9 design notes: "deep/virtual
// inheritance... replace with composition").
type RoleKind uint8

const (
	RolePlain RoleKind = iota
	RolePeer
	RoleSpace
	RoleUser
)

func (r RoleKind) onlineEventID() string {
	switch r {
	case RolePeer:
		return "NetGameOnline"
	case RoleSpace:
		return "NetSpaceOnline"
	case RoleUser:
		return "NetUserOnline"
	default:
		return "NetObjectOnline"
	}
}

func (r RoleKind) offlineEventID() string {
	switch r {
	case RolePeer:
		return "NetGameOffline"
	case RoleSpace:
		return "NetSpaceOffline"
	case RoleUser:
		return "NetUserOffline"
	default:
		return "NetObjectOffline"
	}
}

// EmplaceInfo records how a pre-existing local object was bound to a
// server-authoritative replica id (§4.4 Emplace).
type EmplaceInfo struct {
	IsEmplaced bool
	Context    string // "GameSetup" or "NetSpace_<id>_Level_<level>"
	LocalID    uint64 // the (emplaceContext, emplaceId) lookup key's id half
}

// Replica is a game object replicated across peers (§3 NetObject). All
// cross-references are ids (Parent, owner, authority client, family tree
// membership) rather than pointers, so replicas live in a flat arena
// keyed by NetObjectID (§9 "cyclic graphs... re-architect as... lookup is
// arena.get(id)").
type Replica struct {
	ID            NetObjectID
	Cog           CogID
	CreateContext NetObjectID // space this lives in; 0 if this *is* a space
	ReplicaType   ArchetypeID
	Channels      []*Channel
	FamilyTreeID  FamilyTreeID
	Owner         NetUserID // 0 means unowned
	Role          RoleKind
	Parent        NetObjectID // 0 means unparented
	Emplace       EmplaceInfo

	Online     bool
	controlled bool // true on the peer with authority to spawn/destroy this replica
}

// Channel looks up a channel by name.
func (r *Replica) Channel(name string) (*Channel, bool) {
	for _, c := range r.Channels {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// IsLive mirrors §9's resolution of the IsValid open question: a replica
// is valid ("live") whenever it still exists locally, independent of
// whether its owning peer is currently reachable. Reachability is a
// separate, explicit concern (see the Online field, and Link.Status for
// links).
func (r *Replica) IsLive() bool {
	return r.ID != 0
}

// ReplicaArena owns every live replica on a peer, keyed by id.
type ReplicaArena struct {
	mu       sync.RWMutex
	replicas map[NetObjectID]*Replica
}

func NewReplicaArena() *ReplicaArena {
	return &ReplicaArena{replicas: make(map[NetObjectID]*Replica)}
}

func (a *ReplicaArena) Insert(r *Replica) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replicas[r.ID] = r
}

func (a *ReplicaArena) Get(id NetObjectID) (*Replica, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.replicas[id]
	return r, ok
}

func (a *ReplicaArena) Remove(id NetObjectID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.replicas, id)
}

func (a *ReplicaArena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.replicas)
}

// All returns a snapshot slice of every live replica, safe to range over
// while the arena is mutated concurrently.
func (a *ReplicaArena) All() []*Replica {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Replica, 0, len(a.replicas))
	for _, r := range a.replicas {
		out = append(out, r)
	}
	return out
}
