package blocktree

import (
	"bytes"
	"testing"

	"github.com/gjbauer/blocktree/storage/device"
)

func newTestTree(t *testing.T, totalBlocks uint64, poolCapacity int) *BTree {
	t.Helper()
	dev := device.NewMemDevice(totalBlocks)
	pool := NewPool(dev, poolCapacity)
	bitmap, err := NewBitmap(pool, 1, totalBlocks)
	if err != nil {
		t.Fatalf("NewBitmap() error = %v", err)
	}
	tree, err := NewBTree(pool, bitmap, 1)
	if err != nil {
		t.Fatalf("NewBTree() error = %v", err)
	}
	return tree
}

func TestBTreeSearchMissingKey(t *testing.T) {
	tree := newTestTree(t, 64, 16)
	if _, found, err := tree.Search(42); err != nil || found {
		t.Fatalf("Search() on empty tree = (_, %v, %v), want (_, false, nil)", found, err)
	}
}

func TestBTreeInsertAndSearch(t *testing.T) {
	tree := newTestTree(t, 64, 16)

	tests := []struct {
		key, value uint64
	}{
		{1, 100}, {2, 200}, {3, 300}, {4, 400},
	}
	for _, tt := range tests {
		if err := tree.Insert(tt.key, tt.value); err != nil {
			t.Fatalf("Insert(%d, %d) error = %v", tt.key, tt.value, err)
		}
	}
	for _, tt := range tests {
		v, found, err := tree.Search(tt.key)
		if err != nil || !found {
			t.Fatalf("Search(%d) = (_, %v, %v), want (_, true, nil)", tt.key, found, err)
		}
		if v != tt.value {
			t.Errorf("Search(%d) = %d, want %d", tt.key, v, tt.value)
		}
	}
}

func TestBTreeInsertOverwritesExistingKey(t *testing.T) {
	tree := newTestTree(t, 64, 16)
	if err := tree.Insert(1, 100); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := tree.Insert(1, 999); err != nil {
		t.Fatalf("Insert() overwrite error = %v", err)
	}
	v, found, err := tree.Search(1)
	if err != nil || !found || v != 999 {
		t.Fatalf("Search(1) = (%d, %v, %v), want (999, true, nil)", v, found, err)
	}
}

func TestBTreeSplitAcrossManyInserts(t *testing.T) {
	tree := newTestTree(t, 256, 64)

	const n = 64
	for i := uint64(1); i <= n; i++ {
		if err := tree.Insert(i, i*10); err != nil {
			t.Fatalf("Insert(%d) error = %v", i, err)
		}
	}
	for i := uint64(1); i <= n; i++ {
		v, found, err := tree.Search(i)
		if err != nil || !found {
			t.Fatalf("Search(%d) after many inserts = (_, %v, %v)", i, found, err)
		}
		if v != i*10 {
			t.Errorf("Search(%d) = %d, want %d", i, v, i*10)
		}
	}

	min, err := tree.FindMinimum()
	if err != nil || min != 1 {
		t.Errorf("FindMinimum() = (%d, %v), want (1, nil)", min, err)
	}
	max, err := tree.FindMaximum()
	if err != nil || max != n {
		t.Errorf("FindMaximum() = (%d, %v), want (%d, nil)", max, err, n)
	}
}

func TestBTreeDeleteRemovesKey(t *testing.T) {
	tree := newTestTree(t, 64, 16)
	for i := uint64(1); i <= 4; i++ {
		tree.Insert(i, i)
	}
	if err := tree.Delete(2); err != nil {
		t.Fatalf("Delete(2) error = %v", err)
	}
	if _, found, _ := tree.Search(2); found {
		t.Errorf("Search(2) after Delete(2) found = true, want false")
	}
	for _, key := range []uint64{1, 3, 4} {
		if _, found, _ := tree.Search(key); !found {
			t.Errorf("Search(%d) after unrelated delete found = false, want true", key)
		}
	}
}

func TestBTreeDeleteAbsentKeyIsNoop(t *testing.T) {
	tree := newTestTree(t, 64, 16)
	tree.Insert(1, 1)
	if err := tree.Delete(999); err != nil {
		t.Fatalf("Delete() of absent key error = %v", err)
	}
	if _, found, _ := tree.Search(1); !found {
		t.Fatalf("Search(1) after no-op delete found = false, want true")
	}
}

func TestBTreeDeleteDrivesUnderflowAndMerge(t *testing.T) {
	tree := newTestTree(t, 256, 64)

	const n = 40
	for i := uint64(1); i <= n; i++ {
		tree.Insert(i, i)
	}
	for i := uint64(1); i <= n-2; i++ {
		if err := tree.Delete(i); err != nil {
			t.Fatalf("Delete(%d) error = %v", i, err)
		}
	}
	for i := uint64(1); i <= n-2; i++ {
		if _, found, _ := tree.Search(i); found {
			t.Errorf("Search(%d) after deletion found = true, want false", i)
		}
	}
	for _, key := range []uint64{n - 1, n} {
		v, found, err := tree.Search(key)
		if err != nil || !found || v != key {
			t.Errorf("Search(%d) = (%d, %v, %v), want (%d, true, nil)", key, v, found, err, key)
		}
	}
}

func TestBTreePrintIncludesEveryKey(t *testing.T) {
	tree := newTestTree(t, 256, 64)
	for i := uint64(1); i <= 20; i++ {
		tree.Insert(i, i)
	}
	var buf bytes.Buffer
	if err := tree.Print(&buf); err != nil {
		t.Fatalf("Print() error = %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("Print() produced no output")
	}
}
