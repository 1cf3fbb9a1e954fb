package blocktree

import (
	"fmt"
	"syscall"

	"github.com/gjbauer/blocktree/interfaces"
)

// entry is one slot of the buffer pool: a single cached page plus its
// bookkeeping (dirty bit, pin count, owner, and list linkage). Grounded on
// the original's struct cache_entry_t (page_data, dirty_bit, pin_count,
// block_number, inode_number, lru_pos, gdl_pos) in cache.h.
type entry struct {
	blockNumber uint64
	owner       uint64
	data        []byte
	dirty       bool
	pinCount    int
	blockType   BlockTypeTag
}

// Pool is the write-back buffer pool sitting between the B-tree and the
// raw block device: PageIn/PageOut style access grounded on the
// retrieved teacher's BufMgr (bufmgr.go), LRU eviction and dirty
// bookkeeping grounded on original_source/cache.c's get_block/write_block/
// cache_fsync/cache_sync.
type Pool struct {
	dev interfaces.BlockDevice

	entries []entry
	lookup  *lookupTable
	free    *freeStack
	lru     *intrusiveList
	dirty   *ownerDirtySet
	gdl     *intrusiveList
}

// defaultPoolCapacity mirrors alloc_cache()'s sysinfo()-based sizing
// policy in original_source/cache.c verbatim: under 2GB RAM, a flat 64MB
// cache; between 2 and 16GB, an eighth of total RAM; above that, the
// smaller of 2*1024*1024 pages (8GB) or an eighth of RAM. Returns a number of
// BlockSize pages.
func defaultPoolCapacity() int {
	var info syscall.Sysinfo_t
	if err := syscall.Sysinfo(&info); err != nil {
		return (64 * 1024 * 1024) / BlockSize
	}
	totalRAM := uint64(info.Totalram) * uint64(info.Unit)
	gbRAM := totalRAM / (1024 * 1024 * 1024)

	const blockSize = uint64(BlockSize)
	var cacheBlocks uint64
	switch {
	case gbRAM < 2:
		cacheBlocks = (64 * 1024 * 1024) / blockSize
	case gbRAM <= 16:
		cacheBlocks = totalRAM / (8 * blockSize)
	default:
		eighth := totalRAM / (8 * blockSize)
		cap2GB := uint64(2 * 1024 * 1024)
		if cap2GB < eighth {
			cacheBlocks = cap2GB
		} else {
			cacheBlocks = eighth
		}
	}
	if cacheBlocks < 16 {
		cacheBlocks = 16
	}
	return int(cacheBlocks)
}

// NewPool builds a buffer pool over dev. If capacity is 0, the pool sizes
// itself from available system RAM the way alloc_cache() does; tests pass
// an explicit capacity for determinism.
func NewPool(dev interfaces.BlockDevice, capacity int) *Pool {
	if capacity <= 0 {
		capacity = defaultPoolCapacity()
	}
	total := dev.TotalBlocks()
	if uint64(capacity) > total {
		capacity = int(total)
	}
	if capacity < 1 {
		capacity = 1
	}
	return &Pool{
		dev:     dev,
		entries: make([]entry, capacity),
		lookup:  newLookupTable(capacity),
		free:    newFreeStack(capacity),
		lru:     newIntrusiveList(capacity),
		dirty:   newOwnerDirtySet(),
		gdl:     newIntrusiveList(capacity),
	}
}

// Capacity reports how many blocks the pool can hold resident at once.
func (p *Pool) Capacity() int { return len(p.entries) }

// evictOne makes room for a new entry by writing back and discarding the
// least recently used unpinned slot, walking from the LRU tail toward the
// head past any pinned slots. It fails with ErrCacheExhausted when every
// resident slot is pinned.
func (p *Pool) evictOne() (int, error) {
	victim := p.lru.tail
	for victim != -1 && p.entries[victim].pinCount > 0 {
		victim = p.lru.links[victim].prev
	}
	if victim == -1 {
		return 0, newErr(ErrCacheExhausted, "no evictable page: every slot pinned", nil)
	}
	e := &p.entries[victim]
	if e.dirty {
		if err := p.dev.WriteBlock(e.blockNumber, e.data); err != nil {
			return 0, newErr(ErrIO, fmt.Sprintf("writeback block %d during eviction", e.blockNumber), err)
		}
		if e.blockType == BlockTypeData {
			p.dirty.removeBlock(e.owner, e.blockNumber)
		}
		p.gdl.remove(victim)
		e.dirty = false
	}
	p.lru.remove(victim)
	p.lookup.delete(e.blockNumber)
	*e = entry{}
	return victim, nil
}

// GetBlock returns the slot index holding blockNumber, loading it from
// the device and evicting an LRU victim if necessary. Equivalent to the
// original's get_block, minus the instrumentation prints.
func (p *Pool) GetBlock(owner, blockNumber uint64) (int, error) {
	if idx, ok := p.lookup.lookup(blockNumber); ok {
		p.lru.moveToFront(idx)
		return idx, nil
	}

	var idx int
	if p.free.empty() {
		victim, err := p.evictOne()
		if err != nil {
			return 0, err
		}
		idx = victim
	} else {
		idx = p.free.pop()
	}

	buf := make([]byte, BlockSize)
	if err := p.dev.ReadBlock(blockNumber, buf); err != nil {
		p.free.push(idx)
		return 0, newErr(ErrIO, fmt.Sprintf("read block %d", blockNumber), err)
	}

	p.entries[idx] = entry{blockNumber: blockNumber, owner: owner, data: buf}
	p.lookup.insert(blockNumber, idx)
	p.lru.pushFront(idx)
	return idx, nil
}

// Pin increments the slot's pin count, keeping it from being evicted, and
// returns its page buffer. Every Pin must be matched with an Unpin.
func (p *Pool) Pin(idx int) []byte {
	p.entries[idx].pinCount++
	p.lru.moveToFront(idx)
	return p.entries[idx].data
}

// Unpin decrements the slot's pin count.
func (p *Pool) Unpin(idx int) {
	if p.entries[idx].pinCount > 0 {
		p.entries[idx].pinCount--
	}
}

// MarkDirty flags the slot as dirty and records it on the per-owner and
// global dirty lists, mirroring write_block's bookkeeping in cache.c.
// blockType is the informational tag spec.md §6 describes; only
// BlockTypeData blocks are tracked per-owner, matching the original's
// "if (block_type==BLOCK_TYPE_DATA) dl_insert(...)" guard.
func (p *Pool) MarkDirty(idx int, blockType BlockTypeTag) {
	e := &p.entries[idx]
	e.blockType = blockType
	if !e.dirty {
		e.dirty = true
		p.gdl.pushFront(idx)
	} else {
		p.gdl.moveToFront(idx)
	}
	if blockType == BlockTypeData {
		p.dirty.insert(e.owner, e.blockNumber)
	}
}

// NewBlock allocates a brand-new pool slot for a freshly-allocated block
// number, bypassing the device read since the caller is about to
// populate it in full (the pool-level analogue of the teacher's NewPage).
func (p *Pool) NewBlock(owner, blockNumber uint64) (int, error) {
	var idx int
	if p.free.empty() {
		victim, err := p.evictOne()
		if err != nil {
			return 0, err
		}
		idx = victim
	} else {
		idx = p.free.pop()
	}
	p.entries[idx] = entry{blockNumber: blockNumber, owner: owner, data: make([]byte, BlockSize)}
	p.lookup.insert(blockNumber, idx)
	p.lru.pushFront(idx)
	return idx, nil
}

// Discard drops a slot from the pool without writing it back, used after
// a block has been freed back to the allocator and its cached contents no
// longer matter.
func (p *Pool) Discard(blockNumber uint64) {
	idx, ok := p.lookup.lookup(blockNumber)
	if !ok {
		return
	}
	e := &p.entries[idx]
	if e.dirty {
		if e.blockType == BlockTypeData {
			p.dirty.removeBlock(e.owner, e.blockNumber)
		}
		p.gdl.remove(idx)
	}
	p.lru.remove(idx)
	p.lookup.delete(blockNumber)
	*e = entry{}
	p.free.push(idx)
}

// Fsync writes back every dirty BlockTypeData block recorded for owner, the
// pool-level analogue of cache_fsync. Dirty blocks of any other type are
// never on the per-owner list and are left for Sync.
func (p *Pool) Fsync(owner uint64) error {
	set := p.dirty.lookup(owner)
	if set == nil {
		return nil
	}
	blocks := make([]uint64, 0, len(set))
	for b := range set {
		blocks = append(blocks, b)
	}
	for _, b := range blocks {
		idx, ok := p.lookup.lookup(b)
		if !ok {
			continue
		}
		e := &p.entries[idx]
		if err := p.dev.WriteBlock(e.blockNumber, e.data); err != nil {
			return newErr(ErrIO, fmt.Sprintf("fsync block %d", e.blockNumber), err)
		}
		e.dirty = false
		p.gdl.remove(idx)
		p.dirty.removeBlock(owner, b)
	}
	return nil
}

// Sync writes back every dirty block in the pool regardless of owner, the
// pool-level analogue of cache_sync.
func (p *Pool) Sync() error {
	for p.gdl.head != -1 {
		idx := p.gdl.head
		e := &p.entries[idx]
		if err := p.dev.WriteBlock(e.blockNumber, e.data); err != nil {
			return newErr(ErrIO, fmt.Sprintf("sync block %d", e.blockNumber), err)
		}
		p.gdl.remove(idx)
		e.dirty = false
		if e.blockType == BlockTypeData {
			p.dirty.removeBlock(e.owner, e.blockNumber)
		}
	}
	return nil
}

// Close syncs every dirty block and releases the underlying device.
func (p *Pool) Close() error {
	if err := p.Sync(); err != nil {
		return err
	}
	return p.dev.Close()
}
