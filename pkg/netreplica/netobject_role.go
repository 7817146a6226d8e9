package netreplica

// handleNetObjectOnline implements §4.4 "Online/offline events":
// sets the online flag, fires NetObjectOnline, then the event id
// appropriate to the derived role.
func (rep *Replicator) handleNetObjectOnline(r *Replica) {
	r.Online = true
	rep.fireEvent("NetObjectOnline", r)
	if id := r.Role.onlineEventID(); id != "NetObjectOnline" {
		rep.fireEvent(id, r)
	}
}

// handleNetObjectOffline implements the symmetric teardown: fire the
// offline event before clearing the online flag; on server/offline
// roles also clear the owner; remove from its family tree, erasing the
// tree once empty (§4.4).
func (rep *Replicator) handleNetObjectOffline(r *Replica) {
	if id := r.Role.offlineEventID(); id != "NetObjectOffline" {
		rep.fireEvent(id, r)
	}
	rep.fireEvent("NetObjectOffline", r)
	r.Online = false

	if rep.role == RoleServer || rep.role == RoleOffline {
		if r.Owner != 0 {
			rep.clearOwner(r)
		}
	}

	if r.FamilyTreeID != 0 {
		rep.families.Forget(r.FamilyTreeID, r.ID)
	}
}

// fireEvent is the hook point for delivering lifecycle events to the
// embedding engine; tests may override it via Replicator.OnEvent.
func (rep *Replicator) fireEvent(eventID string, r *Replica) {
	if rep.OnEvent != nil {
		rep.OnEvent(eventID, r)
	}
}
