package netreplica

import (
	"fmt"
	"log/slog"
	"sync"
)

// Route lists the NetPeerIDs a message should be routed to. An empty
// Route reaches no peer; Broadcast, which takes no Route, is the call
// that reaches every connected peer.
type Route []NetPeerID

// Transport is everything the Replicator needs from its owning Peer to
// move spawn/clone/forget/destroy streams across the wire. Peer
// implements this; tests may supply a recording fake instead (§9 "Peer
// owns Replicator by composition, not the reverse").
type Transport interface {
	SendTo(route Route, msg Message)
	Broadcast(msg Message)
}

// emplaceKey identifies a pre-existing local object bound to a
// server-assigned id (§4.4 Emplace: "(emplaceContext, emplaceId) ->
// NetObjectID").
type emplaceKey struct {
	context string
	localID uint64
}

// Replicator owns the full set of live replicas on one Peer and performs
// the spawn/clone/forget/destroy/emplace/interrupt operations against
// them (§3, §4.4). It never reaches for a NetPeer/NetSpace/NetUser base
// class; RoleKind on each Replica selects the derived behavior instead
// (§9).
type Replicator struct {
	mu sync.Mutex

	transport Transport
	arena     *ReplicaArena
	families  *FamilyTreeRegistry
	objectIDs *IDStore[NetObjectID]
	metrics   *Metrics

	role PeerRole

	emplaced map[emplaceKey]NetObjectID

	// OnEvent delivers lifecycle notifications (NetObjectOnline,
	// NetGameOffline, ...) to the embedding engine (§4.4, §4.9).
	OnEvent func(eventID string, r *Replica)
}

// NewReplicator constructs a Replicator bound to transport. Called once
// from Peer's constructor; transport is the Peer itself. metrics may be
// nil, in which case spawn/destroy counters are simply not recorded.
func NewReplicator(transport Transport, metrics *Metrics) *Replicator {
	return &Replicator{
		transport: transport,
		arena:     NewReplicaArena(),
		families:  NewFamilyTreeRegistry(),
		objectIDs: NewIDStore[NetObjectID](0),
		emplaced:  make(map[emplaceKey]NetObjectID),
		metrics:   metrics,
	}
}

// Get looks up a live replica by id, reporting ErrReplicaNotFound if
// none is currently tracked (§4.4).
func (rep *Replicator) Get(id NetObjectID) (*Replica, error) {
	r, ok := rep.arena.Get(id)
	if !ok {
		return nil, ErrReplicaNotFound
	}
	return r, nil
}

// recordSpawn increments the spawn counter and refreshes the live-replica
// gauge; via labels the spawn path (spawn, family, clone, emplace).
func (rep *Replicator) recordSpawn(via string) {
	if rep.metrics == nil {
		return
	}
	rep.metrics.ReplicasSpawnedTotal.WithLabelValues(via).Inc()
	rep.metrics.LiveReplicas.Set(float64(rep.arena.Len()))
}

// recordDestroy increments the destroy counter and refreshes the
// live-replica gauge; via labels the removal path (destroy, forget,
// applied).
func (rep *Replicator) recordDestroy(via string) {
	if rep.metrics == nil {
		return
	}
	rep.metrics.ReplicasDestroyedTotal.WithLabelValues(via).Inc()
	rep.metrics.LiveReplicas.Set(float64(rep.arena.Len()))
}

// Arena exposes the underlying replica store, e.g. for NetSpace/NetUser
// code that needs to enumerate live replicas.
func (rep *Replicator) Arena() *ReplicaArena { return rep.arena }

// Families exposes the family-tree registry.
func (rep *Replicator) Families() *FamilyTreeRegistry { return rep.families }

// SpawnOptions describes a single replica to create (§4.4 Spawn/Clone).
type SpawnOptions struct {
	Cog           CogID
	CreateContext NetObjectID
	ReplicaType   ArchetypeID
	Role          RoleKind
	Parent        NetObjectID
}

// Spawn creates one standalone replica (no family tree) and broadcasts
// its creation stream to route. Used for objects outside any family
// tree (§4.4); level-emplaced geometry goes through Emplace instead.
func (rep *Replicator) Spawn(opts SpawnOptions, route Route) (*Replica, error) {
	if opts.Role != RolePlain && opts.Role != RoleSpace && opts.Role != RoleUser && opts.Role != RolePeer {
		return nil, NewScriptError("Spawn", "unrecognized RoleKind")
	}
	id := rep.objectIDs.Acquire()
	r := &Replica{
		ID:            id,
		Cog:           opts.Cog,
		CreateContext: opts.CreateContext,
		ReplicaType:   opts.ReplicaType,
		Role:          opts.Role,
		Parent:        opts.Parent,
		controlled:    true,
	}
	rep.arena.Insert(r)
	rep.recordSpawn("spawn")

	msg := NewMessage(MsgNetSpawn)
	writeSpawnHeader(msg.Data, r, 0)
	rep.transport.SendTo(route, msg)

	rep.handleNetObjectOnline(r)
	return r, nil
}

// SpawnFamily creates an ancestor plus its descendants as one family
// tree, allocating exactly one FamilyTreeID for the whole group, and
// broadcasts a single depth-first pre-order stream so a receiver can
// recreate the entire subtree from one message (§4.4, §8).
func (rep *Replicator) SpawnFamily(ancestor SpawnOptions, descendants []SpawnOptions, route Route) (*Replica, []*Replica, error) {
	ancestorID := rep.objectIDs.Acquire()
	root := &Replica{
		ID:            ancestorID,
		Cog:           ancestor.Cog,
		CreateContext: ancestor.CreateContext,
		ReplicaType:   ancestor.ReplicaType,
		Role:          ancestor.Role,
		controlled:    true,
	}
	rep.arena.Insert(root)
	rep.recordSpawn("family")

	members := make([]*Replica, 0, len(descendants))
	memberIDs := make([]NetObjectID, 0, len(descendants))
	for _, d := range descendants {
		id := rep.objectIDs.Acquire()
		child := &Replica{
			ID:            id,
			Cog:           d.Cog,
			CreateContext: d.CreateContext,
			ReplicaType:   d.ReplicaType,
			Role:          d.Role,
			Parent:        d.Parent,
			controlled:    true,
		}
		rep.arena.Insert(child)
		rep.recordSpawn("family")
		members = append(members, child)
		memberIDs = append(memberIDs, id)
	}

	tree := rep.families.Create(ancestorID, memberIDs)
	root.FamilyTreeID = tree.ID
	for _, m := range members {
		m.FamilyTreeID = tree.ID
	}

	msg := NewMessage(MsgNetSpawn)
	msg.Data.WriteVarUint(uint64(tree.ID))
	writeSpawnHeader(msg.Data, root, 1+uint32(len(members)))
	for _, m := range members {
		writeSpawnHeader(msg.Data, m, 0)
	}
	rep.transport.SendTo(route, msg)

	rep.handleNetObjectOnline(root)
	for _, m := range members {
		rep.handleNetObjectOnline(m)
	}
	return root, members, nil
}

// writeSpawnHeader serializes one member's identification info in the
// depth-first pre-order format (§4.4): id, create context, replica type,
// parent id, a 2-bit role, and a count that is the family's total member
// count (ancestor included) for the ancestor and 0 for everyone else.
func writeSpawnHeader(out *BitStream, r *Replica, descendantCount uint32) {
	out.WriteVarUint(uint64(r.ID))
	out.WriteVarUint(uint64(r.CreateContext))
	out.WriteVarUint(uint64(r.ReplicaType))
	out.WriteVarUint(uint64(r.Parent))
	out.WriteBits(uint64(r.Role), 2)
	out.WriteVarUint(uint64(descendantCount))
}

// CloneFamily is the client-side counterpart of SpawnFamily: it binds
// server-assigned ids (read from a received spawn stream) to freshly
// instantiated local cogs via Resources.Instantiate, rather than
// allocating new ids locally (§4.4 Clone).
func (rep *Replicator) CloneFamily(ctx *EngineContext, in *BitStream) (*Replica, []*Replica, error) {
	treeIDRaw, err := in.ReadVarUint()
	if err != nil {
		return nil, nil, err
	}
	root, count, err := readSpawnHeader(in)
	if err != nil {
		return nil, nil, err
	}
	members := make([]*Replica, 0, count)
	for i := uint64(0); i < count-1; i++ {
		m, _, err := readSpawnHeader(in)
		if err != nil {
			return nil, nil, err
		}
		members = append(members, m)
	}

	memberIDs := make([]NetObjectID, 0, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.ID)
	}
	tree := rep.families.CreateWithID(FamilyTreeID(treeIDRaw), root.ID, memberIDs)
	root.FamilyTreeID = tree.ID
	for _, m := range members {
		m.FamilyTreeID = tree.ID
	}

	rep.objectIDs.MarkLive(root.ID)
	rep.arena.Insert(root)
	rep.recordSpawn("clone")
	rep.instantiateCog(ctx, root)
	for _, m := range members {
		rep.objectIDs.MarkLive(m.ID)
		rep.arena.Insert(m)
		rep.recordSpawn("clone")
		rep.instantiateCog(ctx, m)
	}

	rep.handleNetObjectOnline(root)
	for _, m := range members {
		rep.handleNetObjectOnline(m)
	}
	return root, members, nil
}

func readSpawnHeader(in *BitStream) (*Replica, uint64, error) {
	id, err := in.ReadVarUint()
	if err != nil {
		return nil, 0, err
	}
	createContext, err := in.ReadVarUint()
	if err != nil {
		return nil, 0, err
	}
	archetype, err := in.ReadVarUint()
	if err != nil {
		return nil, 0, err
	}
	parent, err := in.ReadVarUint()
	if err != nil {
		return nil, 0, err
	}
	roleBits, err := in.ReadBits(2)
	if err != nil {
		return nil, 0, err
	}
	count, err := in.ReadVarUint()
	if err != nil {
		return nil, 0, err
	}
	r := &Replica{
		ID:            NetObjectID(id),
		CreateContext: NetObjectID(createContext),
		ReplicaType:   ArchetypeID(archetype),
		Parent:        NetObjectID(parent),
		Role:          RoleKind(roleBits),
	}
	return r, count, nil
}

func (rep *Replicator) instantiateCog(ctx *EngineContext, r *Replica) {
	if ctx == nil || ctx.Resources == nil {
		return
	}
	var inSpace CogID
	if r.CreateContext != 0 {
		if owner, ok := rep.arena.Get(r.CreateContext); ok {
			inSpace = owner.Cog
		}
	}
	cog, err := ctx.Resources.Instantiate(r.ReplicaType, inSpace)
	if err != nil {
		ctx.notify(NotifyWarning, "Clone failed", fmt.Sprintf("could not instantiate archetype for replica %d: %v", r.ID, err))
		return
	}
	r.Cog = cog
}

// Forget removes the local tracking for r without telling any peer —
// used when a replica leaves this peer's area of interest rather than
// being authoritatively destroyed (§4.4 "Forget vs Destroy").
func (rep *Replicator) Forget(r *Replica) {
	rep.handleNetObjectOffline(r)
	rep.arena.Remove(r.ID)
	rep.recordDestroy("forget")
}

// Destroy authoritatively removes r everywhere: fires offline events,
// releases its id, and broadcasts MsgNetDestroy to route (§4.4).
func (rep *Replicator) Destroy(r *Replica, route Route) {
	rep.handleNetObjectOffline(r)
	rep.arena.Remove(r.ID)
	rep.objectIDs.Release(r.ID)
	rep.recordDestroy("destroy")

	msg := NewMessage(MsgNetDestroy)
	msg.Data.WriteVarUint(uint64(r.ID))
	rep.transport.SendTo(route, msg)
}

// ApplyDestroy is the receive-side counterpart of Destroy.
func (rep *Replicator) ApplyDestroy(in *BitStream) error {
	id, err := in.ReadVarUint()
	if err != nil {
		return err
	}
	r, ok := rep.arena.Get(NetObjectID(id))
	if !ok {
		return nil
	}
	rep.handleNetObjectOffline(r)
	rep.arena.Remove(r.ID)
	rep.recordDestroy("applied")
	return nil
}

// Emplace binds a pre-existing, cog-initialized local object (one not
// created by Spawn/Clone — e.g. level geometry placed in the editor) to
// a server-authoritative replica id, keyed by (emplaceContext,
// emplaceId) so both sides agree which local object a given id refers to
// (§4.4 Emplace).
func (rep *Replicator) Emplace(context string, localID uint64, serverID NetObjectID, cog CogID, archetype ArchetypeID) (*Replica, error) {
	rep.mu.Lock()
	key := emplaceKey{context: context, localID: localID}
	if existing, ok := rep.emplaced[key]; ok && existing != serverID {
		rep.mu.Unlock()
		return nil, ErrEmplaceContextMismatch
	}
	rep.emplaced[key] = serverID
	rep.mu.Unlock()

	rep.objectIDs.MarkLive(serverID)
	r := &Replica{
		ID:            serverID,
		Cog:           cog,
		ReplicaType:   archetype,
		Role:          RolePlain,
		Emplace:       EmplaceInfo{IsEmplaced: true, Context: context, LocalID: localID},
	}
	rep.arena.Insert(r)
	rep.recordSpawn("emplace")
	rep.handleNetObjectOnline(r)
	return r, nil
}

// clearOwner strips ownership from r and fires NetUserLostObjectOwnership
// (§4.6, called from handleNetObjectOffline on server/offline roles).
func (rep *Replicator) clearOwner(r *Replica) {
	if r.Owner == 0 {
		return
	}
	r.Owner = 0
	rep.fireEvent("NetUserLostObjectOwnership", r)
}

// Interrupt sends an MsgInterrupt carrying id to route (§4.4
// "Interrupt"). It only sends the message; no local stream state is
// cancelled.
func (rep *Replicator) Interrupt(id NetObjectID, route Route) {
	msg := NewMessage(MsgInterrupt)
	msg.Data.WriteVarUint(uint64(id))
	rep.transport.SendTo(route, msg)
	slog.Debug("netreplica: interrupt sent", "replica", id)
}
