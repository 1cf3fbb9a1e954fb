package blocktree

import "testing"

func TestLookupTable(t *testing.T) {
	lt := newLookupTable(4)
	lt.insert(100, 2)
	if idx, ok := lt.lookup(100); !ok || idx != 2 {
		t.Fatalf("lookup(100) = (%d, %v), want (2, true)", idx, ok)
	}
	lt.delete(100)
	if _, ok := lt.lookup(100); ok {
		t.Fatalf("lookup(100) after delete still found")
	}
}

func TestFreeStackLIFO(t *testing.T) {
	fs := newFreeStack(3)
	tests := []int{0, 1, 2}
	for _, want := range tests {
		if fs.empty() {
			t.Fatalf("freeStack unexpectedly empty before popping %d", want)
		}
		if got := fs.pop(); got != want {
			t.Errorf("pop() = %d, want %d", got, want)
		}
	}
	if !fs.empty() {
		t.Fatalf("freeStack should be empty after popping all slots")
	}
	fs.push(1)
	if fs.empty() || fs.pop() != 1 {
		t.Fatalf("push/pop round trip failed")
	}
}

func TestIntrusiveListOrdering(t *testing.T) {
	l := newIntrusiveList(4)
	l.pushFront(0)
	l.pushFront(1)
	l.pushFront(2)
	// order should now be 2, 1, 0 (head to tail)
	if l.head != 2 || l.tail != 0 {
		t.Fatalf("head=%d tail=%d, want head=2 tail=0", l.head, l.tail)
	}
	l.moveToFront(0)
	if l.head != 0 {
		t.Fatalf("head after moveToFront(0) = %d, want 0", l.head)
	}
	if l.tail != 1 {
		t.Fatalf("tail after moveToFront(0) = %d, want 1", l.tail)
	}
	l.remove(2)
	if l.head != 0 {
		t.Fatalf("head after remove(2) = %d, want 0", l.head)
	}
}

func TestOwnerDirtySet(t *testing.T) {
	d := newOwnerDirtySet()
	d.insert(1, 10)
	d.insert(1, 11)
	d.insert(2, 20)

	set := d.lookup(1)
	if len(set) != 2 {
		t.Fatalf("lookup(1) size = %d, want 2", len(set))
	}

	d.removeBlock(1, 10)
	set = d.lookup(1)
	if len(set) != 1 {
		t.Fatalf("lookup(1) size after removeBlock = %d, want 1", len(set))
	}

	d.removeBlock(1, 11)
	if d.lookup(1) != nil {
		t.Fatalf("lookup(1) should be nil once owner's set empties")
	}

	d.deleteOwner(2)
	if d.lookup(2) != nil {
		t.Fatalf("lookup(2) after deleteOwner should be nil")
	}
}
