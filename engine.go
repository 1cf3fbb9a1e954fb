package blocktree

import (
	"io"

	"github.com/gjbauer/blocktree/interfaces"
	"github.com/gjbauer/blocktree/storage/device"
)

// rootOwner is the fixed owner id the engine uses when marking B-tree
// nodes dirty. Non-goals exclude multi-tenant/multi-inode tracking for
// this engine (there is exactly one tree per image), so every node is
// attributed to the same owner. The engine only dirties B-tree nodes and
// the bitmap page, neither of which is a BlockTypeData block, so the pool
// never records them on the owner's dirty list: Fsync(rootOwner) writes
// none of them back, and Sync() is what flushes them.
const rootOwner uint64 = 1

// superBlockNumber is the second reserved block (after the bitmap in block 0)
// and holds just enough state to reopen an existing image: the B-tree's
// current root block number.
const superBlockNumber uint64 = 1

// Engine is the top-level programmatic API: a block device, the
// allocation bitmap, the buffer pool, and the B-tree over them, wired
// together the way the retrieved teacher wires a BufMgr and a BLTree
// behind one embedding-facing entry point.
//
// An Engine is not safe for concurrent use: callers sharing one across
// goroutines must serialize access themselves.
type Engine struct {
	dev    interfaces.BlockDevice
	pool   *Pool
	bitmap *Bitmap
	tree   *BTree
}

// Init creates a brand-new image at path with the given total block
// count (including the bitmap block, the superblock, and however many
// blocks the B-tree eventually grows into), and returns an Engine over
// it with an empty tree. poolCapacity of 0 lets the pool size itself from
// host RAM.
func Init(path string, totalBlocks uint64, poolCapacity int) (*Engine, error) {
	dev, err := device.Create(path, totalBlocks)
	if err != nil {
		return nil, newErr(ErrIO, "create image", err)
	}
	return initEngine(dev, poolCapacity)
}

// InitMem is Init's in-memory counterpart, used by tests: no backing
// file, a RAM-resident device.MemDevice instead.
func InitMem(totalBlocks uint64, poolCapacity int) (*Engine, error) {
	return initEngine(device.NewMemDevice(totalBlocks), poolCapacity)
}

func initEngine(dev interfaces.BlockDevice, poolCapacity int) (*Engine, error) {
	pool := NewPool(dev, poolCapacity)
	bitmap, err := NewBitmap(pool, rootOwner, dev.TotalBlocks())
	if err != nil {
		return nil, err
	}

	// block 1 is reserved for the superblock; mark it used up front so
	// the B-tree's own root allocation can never collide with it.
	if dev.TotalBlocks() > 1 {
		if err := bitmap.Reserve(1); err != nil {
			return nil, err
		}
	}

	tree, err := NewBTree(pool, bitmap, rootOwner)
	if err != nil {
		return nil, err
	}

	e := &Engine{dev: dev, pool: pool, bitmap: bitmap, tree: tree}
	if err := e.writeMetaBlocks(); err != nil {
		return nil, err
	}
	return e, nil
}

// Open reopens an existing image at path, reconstructing the bitmap and
// B-tree root from blocks 0 and 1.
func Open(path string, poolCapacity int) (*Engine, error) {
	dev, err := device.Open(path)
	if err != nil {
		return nil, newErr(ErrIO, "open image", err)
	}
	return openEngine(dev, poolCapacity)
}

func openEngine(dev interfaces.BlockDevice, poolCapacity int) (*Engine, error) {
	pool := NewPool(dev, poolCapacity)
	bitmap := OpenBitmap(pool, rootOwner, dev.TotalBlocks())

	superPage := make([]byte, BlockSize)
	if err := dev.ReadBlock(superBlockNumber, superPage); err != nil {
		return nil, newErr(ErrIO, "read superblock", err)
	}
	rootBlock := decodeSuperBlock(superPage)

	tree := OpenBTree(pool, bitmap, rootOwner, rootBlock)
	return &Engine{dev: dev, pool: pool, bitmap: bitmap, tree: tree}, nil
}

func decodeSuperBlock(page []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(page[i]) << (8 * i)
	}
	return v
}

func encodeSuperBlock(rootBlock uint64) []byte {
	page := make([]byte, BlockSize)
	for i := 0; i < 8; i++ {
		page[i] = byte(rootBlock >> (8 * i))
	}
	return page
}

// writeMetaBlocks persists the superblock (the tree's current root) directly
// to the device, bypassing the pool: it is the one piece of state an image
// reopen needs, so it is written after every mutation rather than waiting
// on the next Sync/Fsync. The bitmap's block 0, unlike the superblock, is
// pool-managed like any other block (see bitmap.go) and rides the same
// dirty-list/LRU/eviction path as B-tree nodes, written back by Sync or on
// eviction (not by Fsync, since it is not a BlockTypeData block).
func (e *Engine) writeMetaBlocks() error {
	if err := e.dev.WriteBlock(superBlockNumber, encodeSuperBlock(e.tree.Root())); err != nil {
		return newErr(ErrIO, "write superblock", err)
	}
	return nil
}

// Search looks up key, returning its value and whether it was found.
func (e *Engine) Search(key uint64) (uint64, bool, error) {
	return e.tree.Search(key)
}

// Insert adds key/value to the tree, overwriting any existing value for
// key.
func (e *Engine) Insert(key, value uint64) error {
	if err := e.tree.Insert(key, value); err != nil {
		return err
	}
	return e.writeMetaBlocks()
}

// Delete removes key from the tree, if present.
func (e *Engine) Delete(key uint64) error {
	if err := e.tree.Delete(key); err != nil {
		return err
	}
	return e.writeMetaBlocks()
}

// Print dumps the tree structure to w.
func (e *Engine) Print(w io.Writer) error {
	return e.tree.Print(w)
}

// FindMinimum, FindMaximum, Depth and Height expose the B-tree's
// diagnostic helpers directly, recovered from original_source/btr.c.
func (e *Engine) FindMinimum() (uint64, error) { return e.tree.FindMinimum() }
func (e *Engine) FindMaximum() (uint64, error) { return e.tree.FindMaximum() }
func (e *Engine) Depth() (int, error)           { return e.tree.Depth() }
func (e *Engine) Height() (int, error)          { return e.tree.Height() }

// Fsync writes back every BlockTypeData block dirtied under the engine's
// single owner. B-tree nodes and the bitmap page are not BlockTypeData
// blocks, so Fsync does not write them back; Sync does.
func (e *Engine) Fsync() error {
	return e.pool.Fsync(rootOwner)
}

// Sync writes back every dirty block in the pool.
func (e *Engine) Sync() error {
	return e.pool.Sync()
}

// Close syncs and releases the underlying device.
func (e *Engine) Close() error {
	return e.pool.Close()
}
