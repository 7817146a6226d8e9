package netreplica

import "testing"

// TestFamilyTreeIntegrity is the concrete scenario from §8: spawning a
// cog with n descendants allocates exactly one family-tree id; forgetting
// a proper subset leaves the rest intact; forgetting all erases the tree.
func TestFamilyTreeIntegrity(t *testing.T) {
	reg := NewFamilyTreeRegistry()

	ancestor := NetObjectID(1)
	children := []NetObjectID{2, 3}
	tree := reg.Create(ancestor, children)

	if reg.MemberCount(tree.ID) != 3 {
		t.Fatalf("expected 3 members (ancestor+2 children), got %d", reg.MemberCount(tree.ID))
	}

	reg.Forget(tree.ID, children[0])
	if reg.MemberCount(tree.ID) != 2 {
		t.Fatalf("forgetting one member should leave 2, got %d", reg.MemberCount(tree.ID))
	}
	if _, ok := reg.Get(tree.ID); !ok {
		t.Fatalf("tree should still exist after partial forget")
	}

	reg.Forget(tree.ID, children[1])
	reg.Forget(tree.ID, ancestor)
	if _, ok := reg.Get(tree.ID); ok {
		t.Fatalf("tree should be erased once every member is forgotten")
	}
}

func TestFamilyTreeClientSideBindsToServerID(t *testing.T) {
	reg := NewFamilyTreeRegistry()
	tree := reg.CreateWithID(42, 100, []NetObjectID{101, 102})
	if tree.ID != 42 {
		t.Fatalf("client-side tree must use the server-assigned id, got %d", tree.ID)
	}
	if reg.MemberCount(42) != 3 {
		t.Fatalf("expected 3 members, got %d", reg.MemberCount(42))
	}
}
