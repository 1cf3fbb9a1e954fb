package blocktree

import (
	"fmt"
	"io"
)

// BTree is an ordered 64-bit key/value map stored as a chain of fixed
// nodes, one per block, read and written through a Pool. Search,
// Insert and Delete are grounded on original_source/btr.c's
// btree_search/btree_insert/btree_delete and their split/borrow/merge
// helpers, reworked into a single consistent invariant throughout: every
// node — leaf or internal — pairs each of its NumKeys keys one-to-one
// with a Children slot, and a key always equals the maximum key reachable
// through its paired child (or, for a leaf, is the key of the pair
// itself). That invariant is what lets separator keys be propagated
// directly from a child's own maximum after any mutation, instead of
// re-descending with find_maximum the way the original does.
type BTree struct {
	pool   *Pool
	bitmap *Bitmap
	owner  uint64
	root   uint64
}

// pathEntry is one step of a root-to-leaf descent: the node itself, its
// pool slot (kept pinned for the duration of the operation), and the
// index within its parent's Children array that led here (-1 for the
// root).
type pathEntry struct {
	node      *Node
	idx       int
	childSlot int
}

// NewBTree creates an empty tree: a single, freshly allocated leaf acting
// as the root.
func NewBTree(pool *Pool, bitmap *Bitmap, owner uint64) (*BTree, error) {
	t := &BTree{pool: pool, bitmap: bitmap, owner: owner}
	root, idx, err := t.allocateNode(true)
	if err != nil {
		return nil, err
	}
	t.root = root.BlockNumber
	t.commit(idx, root)
	t.pool.Unpin(idx)
	return t, nil
}

// OpenBTree wraps an existing on-disk tree whose root already lives at
// rootBlock.
func OpenBTree(pool *Pool, bitmap *Bitmap, owner uint64, rootBlock uint64) *BTree {
	return &BTree{pool: pool, bitmap: bitmap, owner: owner, root: rootBlock}
}

// Root reports the block number of the tree's current root node.
func (t *BTree) Root() uint64 { return t.root }

func (t *BTree) allocateNode(isLeaf bool) (*Node, int, error) {
	blockNumber, err := t.bitmap.Alloc()
	if err != nil {
		return nil, 0, err
	}
	idx, err := t.pool.NewBlock(t.owner, blockNumber)
	if err != nil {
		t.bitmap.Free(blockNumber)
		return nil, 0, err
	}
	node := NewNode(blockNumber, isLeaf)
	t.pool.Pin(idx)
	return node, idx, nil
}

func (t *BTree) freeNode(node *Node, idx int) {
	t.pool.Unpin(idx)
	t.pool.Discard(node.BlockNumber)
	t.bitmap.Free(node.BlockNumber)
}

// load reads and pins the node at blockNumber.
func (t *BTree) load(blockNumber uint64) (*Node, int, error) {
	idx, err := t.pool.GetBlock(t.owner, blockNumber)
	if err != nil {
		return nil, 0, err
	}
	buf := t.pool.Pin(idx)
	node, err := DecodeNode(buf, blockNumber)
	if err != nil {
		t.pool.Unpin(idx)
		return nil, 0, err
	}
	return node, idx, nil
}

// commit writes node's current in-memory state back into its pinned pool
// slot and marks it dirty. It does not unpin; callers decide when the
// node is no longer needed.
func (t *BTree) commit(idx int, node *Node) {
	buf := t.pool.entries[idx].data
	copy(buf, node.Encode())
	t.pool.MarkDirty(idx, BlockTypeBTreeNode)
}

// maxKey returns a node's own maximum key: for both leaves and internal
// nodes under this layout, that is simply its last key slot.
func (n *Node) maxKey() uint64 {
	if n.NumKeys == 0 {
		return 0
	}
	return n.Keys[n.NumKeys-1]
}

func (n *Node) leafInsert(key, value uint64) {
	i := 0
	for i < int(n.NumKeys) && n.Keys[i] < key {
		i++
	}
	if i < int(n.NumKeys) && n.Keys[i] == key {
		n.Children[i] = value
		return
	}
	for j := int(n.NumKeys); j > i; j-- {
		n.Keys[j] = n.Keys[j-1]
		n.Children[j] = n.Children[j-1]
	}
	n.Keys[i] = key
	n.Children[i] = value
	n.NumKeys++
}

func (n *Node) leafSearch(key uint64) (uint64, bool) {
	for i := 0; i < int(n.NumKeys); i++ {
		if n.Keys[i] == key {
			return n.Children[i], true
		}
	}
	return 0, false
}

func (n *Node) leafDelete(key uint64) bool {
	for i := 0; i < int(n.NumKeys); i++ {
		if n.Keys[i] == key {
			for j := i; j < int(n.NumKeys)-1; j++ {
				n.Keys[j] = n.Keys[j+1]
				n.Children[j] = n.Children[j+1]
			}
			n.NumKeys--
			n.Keys[n.NumKeys] = 0
			n.Children[n.NumKeys] = 0
			return true
		}
	}
	return false
}

// childSlotForKey finds which child subtree key belongs in: the first
// child whose separator is >= key, or the last child if key exceeds every
// separator.
func (n *Node) childSlotForKey(key uint64) int {
	for i := 0; i < int(n.NumKeys); i++ {
		if key <= n.Keys[i] {
			return i
		}
	}
	return int(n.NumKeys) - 1
}

func (n *Node) internalInsertAt(pos int, sepKey, childBlock uint64) {
	for j := int(n.NumKeys); j > pos; j-- {
		n.Keys[j] = n.Keys[j-1]
		n.Children[j] = n.Children[j-1]
	}
	n.Keys[pos] = sepKey
	n.Children[pos] = childBlock
	n.NumKeys++
}

func (n *Node) internalDeleteAt(pos int) {
	for j := pos; j < int(n.NumKeys)-1; j++ {
		n.Keys[j] = n.Keys[j+1]
		n.Children[j] = n.Children[j+1]
	}
	n.NumKeys--
	n.Keys[n.NumKeys] = 0
	n.Children[n.NumKeys] = 0
}

// descend walks from the root to the leaf that owns key, pinning every
// node along the way. Callers must unpin every entry once done.
func (t *BTree) descend(key uint64) ([]pathEntry, error) {
	var path []pathEntry
	block := t.root
	slot := -1
	for {
		node, idx, err := t.load(block)
		if err != nil {
			return nil, err
		}
		path = append(path, pathEntry{node: node, idx: idx, childSlot: slot})
		if node.IsLeaf {
			return path, nil
		}
		slot = node.childSlotForKey(key)
		block = node.Children[slot]
	}
}

func (t *BTree) unpinPath(path []pathEntry) {
	for _, e := range path {
		t.pool.Unpin(e.idx)
	}
}

// Search returns the value stored under key, if present.
func (t *BTree) Search(key uint64) (uint64, bool, error) {
	block := t.root
	for {
		node, idx, err := t.load(block)
		if err != nil {
			return 0, false, err
		}
		if node.IsLeaf {
			v, ok := node.leafSearch(key)
			t.pool.Unpin(idx)
			return v, ok, nil
		}
		next := node.Children[node.childSlotForKey(key)]
		t.pool.Unpin(idx)
		block = next
	}
}

// Insert adds key/value, overwriting the value if key is already present.
//
// Every node's Keys array has exactly MaxKeys slots with no spare room for
// a transient overflow entry, so a node must never be inserted into while
// already holding MaxKeys entries. Insert therefore walks the descent path
// top-down and pre-splits any node found already full *before* touching
// it, the same order original_source/btr.c's btree_insert_nonfull uses
// against its child before recursing into it. By the time the loop
// reaches the leaf, every node on the path — including the leaf itself —
// is guaranteed to have room for one more entry.
func (t *BTree) Insert(key, value uint64) error {
	path, err := t.descend(key)
	if err != nil {
		return err
	}
	defer func() { t.unpinPath(path) }()

	for i := 0; i < len(path); i++ {
		if path[i].node.NumKeys == MaxKeys {
			newPath, err := t.splitFullNode(path, i, key)
			if err != nil {
				return err
			}
			path = newPath
		}
	}

	leaf := path[len(path)-1]
	leaf.node.leafInsert(key, value)
	t.commit(leaf.idx, leaf.node)
	return t.propagateSeparator(path, len(path)-1)
}

// propagateSeparator walks upward from path[i], updating each ancestor's
// separator for the child it descended through to that child's current
// maximum. It stops as soon as an ancestor's separator is already
// correct, since nothing above it can be stale either.
func (t *BTree) propagateSeparator(path []pathEntry, i int) error {
	for i > 0 {
		child := path[i]
		parent := path[i-1]
		newSep := child.node.maxKey()
		if parent.node.Keys[child.childSlot] == newSep {
			return nil
		}
		parent.node.Keys[child.childSlot] = newSep
		t.commit(parent.idx, parent.node)
		i--
	}
	return nil
}

// splitFullNode splits the already-full node at path[i] (NumKeys ==
// MaxKeys) into two MinKeys-sized halves before anything is inserted into
// it, inserting the new separator into its parent (guaranteed non-full at
// this point, since the walk in Insert processes path top-down) or
// building a new root if path[i] was the root. It returns the path
// rewritten to reflect whichever half now leads to key, with childSlot
// corrected on the entry immediately below the split so the rest of the
// walk still lines up with the tree's actual layout.
func (t *BTree) splitFullNode(path []pathEntry, i int, key uint64) ([]pathEntry, error) {
	node := path[i].node
	idx := path[i].idx

	right, rightIdx, err := t.allocateNode(node.IsLeaf)
	if err != nil {
		return nil, err
	}

	mid := MinKeys
	right.NumKeys = node.NumKeys - uint16(mid)
	for k := 0; k < int(right.NumKeys); k++ {
		right.Keys[k] = node.Keys[mid+k]
		right.Children[k] = node.Children[mid+k]
	}
	for k := mid; k < int(node.NumKeys); k++ {
		node.Keys[k] = 0
		node.Children[k] = 0
	}
	node.NumKeys = uint16(mid)

	right.RightSibling = node.RightSibling
	right.LeftSibling = node.BlockNumber
	if node.RightSibling != 0 {
		oldRight, oldRightIdx, err := t.load(node.RightSibling)
		if err != nil {
			t.pool.Unpin(rightIdx)
			return nil, err
		}
		oldRight.LeftSibling = right.BlockNumber
		t.commit(oldRightIdx, oldRight)
		t.pool.Unpin(oldRightIdx)
	}
	node.RightSibling = right.BlockNumber
	right.Parent = node.Parent

	if !right.IsLeaf {
		for k := 0; k < int(right.NumKeys); k++ {
			if err := t.reparent(right.Children[k], right.BlockNumber); err != nil {
				t.pool.Unpin(rightIdx)
				return nil, err
			}
		}
	}

	t.commit(idx, node)
	t.commit(rightIdx, right)

	if i == 0 {
		if err := t.newRoot(node, idx, right, rightIdx); err != nil {
			return nil, err
		}
		rootNode, rootIdx, err := t.load(t.root)
		if err != nil {
			return nil, err
		}

		newPath := make([]pathEntry, len(path)+1)
		newPath[0] = pathEntry{node: rootNode, idx: rootIdx, childSlot: -1}
		if key <= node.maxKey() {
			newPath[1] = pathEntry{node: node, idx: idx, childSlot: 0}
			t.pool.Unpin(rightIdx)
		} else {
			newPath[1] = pathEntry{node: right, idx: rightIdx, childSlot: 1}
			t.pool.Unpin(idx)
		}
		copy(newPath[2:], path[1:])
		if len(newPath) > 2 {
			newPath[2].childSlot = newPath[1].node.childSlotForKey(key)
		}
		return newPath, nil
	}

	parent := path[i-1]
	parent.node.Keys[path[i].childSlot] = node.maxKey()
	parent.node.internalInsertAt(path[i].childSlot+1, right.maxKey(), right.BlockNumber)
	t.commit(parent.idx, parent.node)

	newPath := make([]pathEntry, len(path))
	copy(newPath, path)
	if key <= node.maxKey() {
		newPath[i] = pathEntry{node: node, idx: idx, childSlot: path[i].childSlot}
		t.pool.Unpin(rightIdx)
	} else {
		newPath[i] = pathEntry{node: right, idx: rightIdx, childSlot: path[i].childSlot + 1}
		t.pool.Unpin(idx)
	}
	if i+1 < len(newPath) {
		newPath[i+1].childSlot = newPath[i].node.childSlotForKey(key)
	}
	return newPath, nil
}

// newRoot builds a fresh internal root over left and right, used both
// when the tree's actual root overflows and split in two.
func (t *BTree) newRoot(left *Node, leftIdx int, right *Node, rightIdx int) error {
	root, rootIdx, err := t.allocateNode(false)
	if err != nil {
		return err
	}
	defer t.pool.Unpin(rootIdx)

	root.NumKeys = 2
	root.Keys[0] = left.maxKey()
	root.Children[0] = left.BlockNumber
	root.Keys[1] = right.maxKey()
	root.Children[1] = right.BlockNumber

	left.Parent = root.BlockNumber
	right.Parent = root.BlockNumber
	t.commit(leftIdx, left)
	t.commit(rightIdx, right)
	t.commit(rootIdx, root)

	t.root = root.BlockNumber
	return nil
}

// reparent loads childBlock solely to update its Parent pointer, used
// after moving a child from one internal node to another during a split
// or merge.
func (t *BTree) reparent(childBlock uint64, newParent uint64) error {
	child, idx, err := t.load(childBlock)
	if err != nil {
		return err
	}
	child.Parent = newParent
	t.commit(idx, child)
	t.pool.Unpin(idx)
	return nil
}

// Delete removes key if present. Deleting an absent key is a no-op.
func (t *BTree) Delete(key uint64) error {
	path, err := t.descend(key)
	if err != nil {
		return err
	}
	defer t.unpinPath(path)

	leaf := path[len(path)-1]
	if !leaf.node.leafDelete(key) {
		return nil
	}

	if len(path) == 1 {
		// the root is itself a leaf; no underflow handling applies.
		t.commit(leaf.idx, leaf.node)
		return nil
	}

	t.commit(leaf.idx, leaf.node)
	if leaf.node.NumKeys >= MinKeys {
		return t.propagateSeparator(path, len(path)-1)
	}
	return t.rebalance(path, len(path)-1)
}

// rebalance repairs the underflowed node at path[i] by borrowing a pair
// from an adjacent same-parent sibling, or, failing that, merging with
// one. Grounded on original_source/btr.c's btree_borrow_left/
// btree_borrow_right/btree_merge_children, restricted here to siblings
// sharing the same parent (the original's left_sibling/right_sibling
// pointers span the whole level, but only same-parent neighbors are safe
// to rebalance against without touching a second parent).
func (t *BTree) rebalance(path []pathEntry, i int) error {
	node := path[i].node
	idx := path[i].idx
	parent := path[i-1]
	slot := path[i].childSlot

	if slot > 0 {
		leftBlock := parent.node.Children[slot-1]
		left, leftIdx, err := t.load(leftBlock)
		if err != nil {
			return err
		}
		if left.NumKeys > MinKeys {
			borrowed := int(left.NumKeys) - 1
			bKey, bVal := left.Keys[borrowed], left.Children[borrowed]
			left.Keys[borrowed] = 0
			left.Children[borrowed] = 0
			left.NumKeys--

			for j := int(node.NumKeys); j > 0; j-- {
				node.Keys[j] = node.Keys[j-1]
				node.Children[j] = node.Children[j-1]
			}
			node.Keys[0] = bKey
			node.Children[0] = bVal
			node.NumKeys++

			parent.node.Keys[slot-1] = left.maxKey()
			parent.node.Keys[slot] = node.maxKey()
			t.commit(leftIdx, left)
			t.commit(idx, node)
			t.commit(parent.idx, parent.node)
			t.pool.Unpin(leftIdx)

			if !node.IsLeaf {
				if err := t.reparent(bVal, node.BlockNumber); err != nil {
					return err
				}
			}
			return t.propagateSeparator(path, i-1)
		}
		t.pool.Unpin(leftIdx)
	}

	if slot < int(parent.node.NumKeys)-1 {
		rightBlock := parent.node.Children[slot+1]
		right, rightIdx, err := t.load(rightBlock)
		if err != nil {
			return err
		}
		if right.NumKeys > MinKeys {
			bKey, bVal := right.Keys[0], right.Children[0]
			for j := 0; j < int(right.NumKeys)-1; j++ {
				right.Keys[j] = right.Keys[j+1]
				right.Children[j] = right.Children[j+1]
			}
			right.NumKeys--
			right.Keys[right.NumKeys] = 0
			right.Children[right.NumKeys] = 0

			node.Keys[node.NumKeys] = bKey
			node.Children[node.NumKeys] = bVal
			node.NumKeys++

			parent.node.Keys[slot] = node.maxKey()
			t.commit(rightIdx, right)
			t.commit(idx, node)
			t.commit(parent.idx, parent.node)
			t.pool.Unpin(rightIdx)

			if !node.IsLeaf {
				if err := t.reparent(bVal, node.BlockNumber); err != nil {
					return err
				}
			}
			return t.propagateSeparator(path, i-1)
		}
		t.pool.Unpin(rightIdx)
	}

	return t.mergeUp(path, i)
}

// mergeUp merges the underflowed node at path[i] into an adjacent
// same-parent sibling, frees the emptied node's block, removes its entry
// from the parent, and recurses upward if the parent itself now
// underflows (or collapses the root if it is left with a single child).
func (t *BTree) mergeUp(path []pathEntry, i int) error {
	node := path[i].node
	idx := path[i].idx
	parent := path[i-1]
	slot := path[i].childSlot

	var survivorNode *Node
	var removedSlot int

	if slot > 0 {
		leftBlock := parent.node.Children[slot-1]
		left, leftIdx, err := t.load(leftBlock)
		if err != nil {
			return err
		}
		for k := 0; k < int(node.NumKeys); k++ {
			left.Keys[int(left.NumKeys)+k] = node.Keys[k]
			left.Children[int(left.NumKeys)+k] = node.Children[k]
		}
		if !node.IsLeaf {
			for k := 0; k < int(node.NumKeys); k++ {
				if err := t.reparent(node.Children[k], left.BlockNumber); err != nil {
					return err
				}
			}
		}
		left.NumKeys += node.NumKeys
		left.RightSibling = node.RightSibling
		if node.RightSibling != 0 {
			if err := t.fixLeftSibling(node.RightSibling, left.BlockNumber); err != nil {
				return err
			}
		}
		t.commit(leftIdx, left)
		t.pool.Unpin(leftIdx)
		survivorNode = left
		removedSlot = slot
		t.freeNode(node, idx)
	} else {
		rightBlock := parent.node.Children[slot+1]
		right, rightIdx, err := t.load(rightBlock)
		if err != nil {
			return err
		}
		for k := 0; k < int(right.NumKeys); k++ {
			node.Keys[int(node.NumKeys)+k] = right.Keys[k]
			node.Children[int(node.NumKeys)+k] = right.Children[k]
		}
		if !node.IsLeaf {
			for k := 0; k < int(right.NumKeys); k++ {
				if err := t.reparent(right.Children[k], node.BlockNumber); err != nil {
					return err
				}
			}
		}
		node.NumKeys += right.NumKeys
		node.RightSibling = right.RightSibling
		if right.RightSibling != 0 {
			if err := t.fixLeftSibling(right.RightSibling, node.BlockNumber); err != nil {
				return err
			}
		}
		t.commit(idx, node)
		survivorNode = node
		removedSlot = slot + 1
		t.freeNode(right, rightIdx)
	}

	parent.node.internalDeleteAt(removedSlot)
	survivorSlot := removedSlot
	if removedSlot > 0 {
		survivorSlot = removedSlot - 1
	}
	parent.node.Keys[survivorSlot] = survivorNode.maxKey()
	t.commit(parent.idx, parent.node)

	if i == 1 && parent.node.NumKeys == 1 {
		return t.collapseRoot(parent)
	}
	if parent.node.NumKeys < MinKeys && i > 1 {
		return t.rebalance(path, i-1)
	}
	return t.propagateSeparator(path, i-1)
}

// fixLeftSibling loads the node that used to sit to the right of a
// merged-away block and repoints its LeftSibling at the merge survivor.
func (t *BTree) fixLeftSibling(block uint64, newLeft uint64) error {
	n, idx, err := t.load(block)
	if err != nil {
		return err
	}
	n.LeftSibling = newLeft
	t.commit(idx, n)
	t.pool.Unpin(idx)
	return nil
}

// collapseRoot replaces an internal root left with a single child by
// absorbing that child's contents directly into the root's own block,
// keeping the root's block number stable. Grounded on
// original_source/btr.c's btree_promote_root.
func (t *BTree) collapseRoot(root pathEntry) error {
	child, childIdx, err := t.load(root.node.Children[0])
	if err != nil {
		return err
	}
	blockNumber := root.node.BlockNumber
	*root.node = *child
	root.node.BlockNumber = blockNumber
	root.node.Parent = 0

	if !root.node.IsLeaf {
		for k := 0; k < int(root.node.NumKeys); k++ {
			if err := t.reparent(root.node.Children[k], blockNumber); err != nil {
				return err
			}
		}
	}
	t.commit(root.idx, root.node)
	t.freeNode(child, childIdx)
	return nil
}

// FindMinimum returns the smallest key stored in the tree.
func (t *BTree) FindMinimum() (uint64, error) {
	block := t.root
	for {
		node, idx, err := t.load(block)
		if err != nil {
			return 0, err
		}
		if node.IsLeaf {
			t.pool.Unpin(idx)
			if node.NumKeys == 0 {
				return 0, newErr(ErrNotFound, "tree is empty", nil)
			}
			return node.Keys[0], nil
		}
		next := node.Children[0]
		t.pool.Unpin(idx)
		block = next
	}
}

// FindMaximum returns the largest key stored in the tree.
func (t *BTree) FindMaximum() (uint64, error) {
	node, idx, err := t.load(t.root)
	if err != nil {
		return 0, err
	}
	t.pool.Unpin(idx)
	if node.IsLeaf && node.NumKeys == 0 {
		return 0, newErr(ErrNotFound, "tree is empty", nil)
	}
	return node.maxKey(), nil
}

// Depth follows the leftmost child chain from the root to a leaf,
// counting levels crossed.
func (t *BTree) Depth() (int, error) {
	block := t.root
	depth := 0
	for {
		node, idx, err := t.load(block)
		if err != nil {
			return 0, err
		}
		if node.IsLeaf {
			t.pool.Unpin(idx)
			return depth, nil
		}
		next := node.Children[0]
		t.pool.Unpin(idx)
		block = next
		depth++
	}
}

// Height is an alias for Depth measured from the root: the number of
// edges from the root to the shallowest leaf reached by always
// descending the leftmost child, matching original_source/btr.c's
// btree_find_height.
func (t *BTree) Height() (int, error) {
	return t.Depth()
}

// Print writes an indented dump of the tree to w: block number, node
// kind, keys, children and parent at each level, exactly as
// original_source/btr.c's btree_print does.
func (t *BTree) Print(w io.Writer) error {
	return t.printNode(w, t.root, 0)
}

func (t *BTree) printNode(w io.Writer, block uint64, level int) error {
	node, idx, err := t.load(block)
	if err != nil {
		return err
	}
	defer t.pool.Unpin(idx)

	kind := "INTERNAL"
	if node.IsLeaf {
		kind = "LEAF"
	}
	fmt.Fprintf(w, "%*sBlock %d: %s keys=%v children=%v parent=%d\n",
		level*2, "", node.BlockNumber, kind,
		node.Keys[:node.NumKeys], node.Children[:node.NumKeys], node.Parent)

	if !node.IsLeaf {
		for k := 0; k < int(node.NumKeys); k++ {
			if err := t.printNode(w, node.Children[k], level+1); err != nil {
				return err
			}
		}
	}
	return nil
}
