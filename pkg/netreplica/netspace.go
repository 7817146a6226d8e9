package netreplica

import "sync"

// NetSpace is a replicated container of net-objects corresponding to one
// game "space"/"scene" (§3). It owns the delayed-attachment bookkeeping
// described in §4.6.
type NetSpace struct {
	ID              NetObjectID
	LevelResourceID ArchetypeID

	mu sync.Mutex
	// readyChildToParent and parentToReadyChildren are kept consistent as
	// a pair (§4.6 invariant): every child key here has exactly one entry
	// in its declared parent's set, and vice versa.
	readyChildToParent    map[NetObjectID]NetObjectID
	parentToReadyChildren map[NetObjectID]map[NetObjectID]struct{}
}

// NewNetSpace constructs an empty space.
func NewNetSpace(id NetObjectID) *NetSpace {
	return &NetSpace{
		ID:                    id,
		readyChildToParent:    make(map[NetObjectID]NetObjectID),
		parentToReadyChildren: make(map[NetObjectID]map[NetObjectID]struct{}),
	}
}

// ObjectArrived handles one object's declared Parent as it comes online
// during a clone stream (§4.6): if the parent already exists and is
// online, attach immediately; otherwise queue the pair in both delayed
// maps until the parent itself comes online.
func (s *NetSpace) ObjectArrived(arena *ReplicaArena, child *Replica, onAttach func(child, parent *Replica)) {
	if child.Parent == 0 {
		return
	}
	if parent, ok := arena.Get(child.Parent); ok && parent.Online {
		onAttach(child, parent)
		return
	}

	s.mu.Lock()
	s.readyChildToParent[child.ID] = child.Parent
	if s.parentToReadyChildren[child.Parent] == nil {
		s.parentToReadyChildren[child.Parent] = make(map[NetObjectID]struct{})
	}
	s.parentToReadyChildren[child.Parent][child.ID] = struct{}{}
	s.mu.Unlock()
}

// ObjectOnline fulfills and removes every delayed entry whose parent is
// newlyOnline, attaching each ready child (§4.6 "when any object comes
// online, the space fulfills and removes every entry whose delayed-parent
// is that new object").
func (s *NetSpace) ObjectOnline(arena *ReplicaArena, newlyOnline *Replica, onAttach func(child, parent *Replica)) {
	s.mu.Lock()
	ready := s.parentToReadyChildren[newlyOnline.ID]
	delete(s.parentToReadyChildren, newlyOnline.ID)
	children := make([]NetObjectID, 0, len(ready))
	for childID := range ready {
		children = append(children, childID)
		delete(s.readyChildToParent, childID)
	}
	s.mu.Unlock()

	for _, childID := range children {
		if child, ok := arena.Get(childID); ok {
			onAttach(child, newlyOnline)
		}
	}
}

// ObjectDestroyed removes a pending child's own delayed-attachment entry
// when it is destroyed before its parent arrives (§4.6 invariant: "on
// object destruction the ready-child entry is removed").
func (s *NetSpace) ObjectDestroyed(id NetObjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.readyChildToParent[id]
	if !ok {
		return
	}
	delete(s.readyChildToParent, id)
	if set := s.parentToReadyChildren[parent]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(s.parentToReadyChildren, parent)
		}
	}
}

// ClearDelayedAttachments empties both maps, called at game-clone
// completion (§4.6 invariant: "the whole map is cleared at game-clone
// completion").
func (s *NetSpace) ClearDelayedAttachments() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyChildToParent = make(map[NetObjectID]NetObjectID)
	s.parentToReadyChildren = make(map[NetObjectID]map[NetObjectID]struct{})
}

// PendingAttachmentCount reports how many children are still waiting on
// a parent, used by tests asserting the maps end up empty (§8 "Delayed
// attachment").
func (s *NetSpace) PendingAttachmentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readyChildToParent)
}

// StartLevelLoad sends NetLevelLoadStarted followed by an interrupt
// barrier (§4.6): the barrier guarantees a receiver only applies the
// clones that follow once it has loaded the named level (§5 "Ordering").
func (rep *Replicator) StartLevelLoad(space *NetSpace, levelID ArchetypeID, route Route) {
	space.LevelResourceID = levelID

	started := NewMessage(MsgNetLevelLoadStarted)
	started.Data.WriteVarUint(uint64(space.ID))
	started.Data.WriteUint64(uint64(levelID))
	rep.transport.SendTo(route, started)

	rep.transport.SendTo(route, NewMessage(MsgInterrupt))
}

// FinishLevelLoad closes out a level-clone stream with NetLevelLoadFinished.
func (rep *Replicator) FinishLevelLoad(space *NetSpace, route Route) {
	finished := NewMessage(MsgNetLevelLoadFinished)
	finished.Data.WriteVarUint(uint64(space.ID))
	rep.transport.SendTo(route, finished)
}

// ApplyLevelLoadFinished implements the client-side half of §4.6:
// destroy any object in the space that is emplaced but never came
// online (it must have been destroyed on the server before the clone).
func (rep *Replicator) ApplyLevelLoadFinished(space *NetSpace) {
	for _, r := range rep.arena.All() {
		if r.CreateContext == space.ID && r.Emplace.IsEmplaced && !r.Online {
			rep.arena.Remove(r.ID)
		}
	}
}
