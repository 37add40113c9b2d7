package server

import (
	"testing"

	"imsim/protocol"
)

func TestTrackerIndexesStayConsistent(t *testing.T) {
	tr := NewConnectionTracker()
	tr.Track(1, 10, "alice")
	tr.Track(2, 20, "bob")

	for _, c := range []struct {
		id     protocol.ConnID
		avatar AvatarHandle
		name   string
	}{{1, 10, "alice"}, {2, 20, "bob"}} {
		if h, ok := tr.AvatarOf(c.id); !ok || h != c.avatar {
			t.Fatalf("AvatarOf(%d) = %d,%v", c.id, h, ok)
		}
		if n, ok := tr.NameOf(c.id); !ok || n != c.name {
			t.Fatalf("NameOf(%d) = %q,%v", c.id, n, ok)
		}
		if id, ok := tr.IDOf(c.name); !ok || id != c.id {
			t.Fatalf("IDOf(%q) = %d,%v", c.name, id, ok)
		}
	}
	if ids := tr.IDs(); len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("IDs = %v", ids)
	}
}

func TestTrackerDropOnce(t *testing.T) {
	tr := NewConnectionTracker()
	tr.Track(1, 10, "alice")

	h, name, ok := tr.Drop(1)
	if !ok || h != 10 || name != "alice" {
		t.Fatalf("Drop = %d,%q,%v", h, name, ok)
	}
	if _, _, ok := tr.Drop(1); ok {
		t.Fatalf("second drop must report nothing")
	}
	if _, ok := tr.IDOf("alice"); ok {
		t.Fatalf("name index not cleared")
	}
	if tr.Len() != 0 {
		t.Fatalf("len = %d", tr.Len())
	}
}

func TestTrackerDropUntracked(t *testing.T) {
	tr := NewConnectionTracker()
	tr.Track(1, 10, "alice")
	if _, _, ok := tr.Drop(7); ok {
		t.Fatalf("dropping an unknown id succeeded")
	}
	if tr.Len() != 1 {
		t.Fatalf("unrelated entry removed")
	}
}

func TestTrackerOverwrite(t *testing.T) {
	tr := NewConnectionTracker()
	tr.Track(1, 10, "alice")
	tr.Track(1, 11, "alicia")

	if _, ok := tr.IDOf("alice"); ok {
		t.Fatalf("stale name left behind")
	}
	if h, _ := tr.AvatarOf(1); h != 11 {
		t.Fatalf("avatar = %d, want 11", h)
	}
	if tr.Len() != 1 {
		t.Fatalf("len = %d", tr.Len())
	}
}

func TestIDGenMonotonic(t *testing.T) {
	var g idGen
	prev := g.Next()
	for i := 0; i < 100; i++ {
		next := g.Next()
		if next <= prev {
			t.Fatalf("id %d after %d", next, prev)
		}
		prev = next
	}
}
