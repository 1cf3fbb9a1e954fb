package blocktree

import "fmt"

// bitmapBlockNumber is the fixed block holding the allocation bitmap.
const bitmapBlockNumber uint64 = 0

// wordsPerBlock is how many uint64 words fit in one block's bitmap page.
const wordsPerBlock = BlockSize / 8

// Bitmap is the block allocator: one bit per block, packed into
// little-endian 64-bit words, resident in block 0 of the device. Grounded
// directly on original_source/bitmap.c's bitmap_get/bitmap_put (the same
// word/bit-offset arithmetic) and disk.c's alloc_page/free_page (lowest
// numbered free block wins, block 0 itself is always marked used since it
// holds the bitmap).
//
// Bitmap keeps no copy of the page: every Alloc/Free/InUse fetches block 0
// through pool.GetBlock, pins it, mutates the bytes in place, marks it
// dirty through pool.MarkDirty when changed, and unpins, the same pattern
// btree.go's load/commit use for every other block.
type Bitmap struct {
	pool  *Pool
	owner uint64
	bits  int
}

// NewBitmap allocates block 0 fresh through the pool and initializes an
// empty bitmap covering totalBlocks bits, with block 0 pre-marked used (it
// holds the bitmap itself).
func NewBitmap(pool *Pool, owner uint64, totalBlocks uint64) (*Bitmap, error) {
	nWords := (int(totalBlocks) + 63) / 64
	if nWords > wordsPerBlock {
		return nil, newErr(ErrCorrupt,
			fmt.Sprintf("bitmap for %d blocks needs %d words, only %d fit in one block", totalBlocks, nWords, wordsPerBlock), nil)
	}
	idx, err := pool.NewBlock(owner, bitmapBlockNumber)
	if err != nil {
		return nil, err
	}
	b := &Bitmap{pool: pool, owner: owner, bits: int(totalBlocks)}
	buf := pool.Pin(idx)
	b.put(buf, 0, true)
	pool.MarkDirty(idx, BlockTypeBitmap)
	pool.Unpin(idx)
	return b, nil
}

// OpenBitmap wraps the bitmap page of an already-populated image. The page
// itself is read lazily, through the pool, the first time Alloc/Free/InUse
// touches it.
func OpenBitmap(pool *Pool, owner uint64, totalBlocks uint64) *Bitmap {
	return &Bitmap{pool: pool, owner: owner, bits: int(totalBlocks)}
}

// withPage pins block 0, hands its bytes to fn, marks the block dirty if
// fn reports a mutation, and unpins.
func (b *Bitmap) withPage(fn func(buf []byte) (dirty bool, err error)) error {
	idx, err := b.pool.GetBlock(b.owner, bitmapBlockNumber)
	if err != nil {
		return err
	}
	buf := b.pool.Pin(idx)
	dirty, ferr := fn(buf)
	if dirty {
		b.pool.MarkDirty(idx, BlockTypeBitmap)
	}
	b.pool.Unpin(idx)
	return ferr
}

func readWordAt(buf []byte, byteOff int) uint64 {
	var w uint64
	for k := 0; k < 8; k++ {
		w |= uint64(buf[byteOff+k]) << (8 * k)
	}
	return w
}

func writeWordAt(buf []byte, byteOff int, w uint64) {
	for k := 0; k < 8; k++ {
		buf[byteOff+k] = byte(w >> (8 * k))
	}
}

func (b *Bitmap) get(buf []byte, bit int) bool {
	w := readWordAt(buf, (bit/64)*8)
	return (w & (uint64(1) << uint(bit%64))) != 0
}

func (b *Bitmap) put(buf []byte, bit int, v bool) {
	off := (bit / 64) * 8
	w := readWordAt(buf, off)
	mask := uint64(1) << uint(bit%64)
	if v {
		w |= mask
	} else {
		w &^= mask
	}
	writeWordAt(buf, off, w)
}

// Alloc finds the lowest-numbered free block, marks it used, and returns
// it. It returns ErrNoSpace if every block is in use.
func (b *Bitmap) Alloc() (uint64, error) {
	var result uint64
	err := b.withPage(func(buf []byte) (bool, error) {
		for i := 0; i < b.bits; i++ {
			if !b.get(buf, i) {
				b.put(buf, i, true)
				result = uint64(i)
				return true, nil
			}
		}
		return false, newErr(ErrNoSpace, "no free blocks", nil)
	})
	return result, err
}

// Free marks blockNumber as unused. Freeing block 0 (which permanently
// holds the bitmap) or an out-of-range block is rejected.
func (b *Bitmap) Free(blockNumber uint64) error {
	if blockNumber == 0 {
		return newErr(ErrOutOfRange, "block 0 holds the bitmap and cannot be freed", nil)
	}
	if blockNumber >= uint64(b.bits) {
		return newErr(ErrOutOfRange, fmt.Sprintf("block %d out of range [0,%d)", blockNumber, b.bits), nil)
	}
	return b.withPage(func(buf []byte) (bool, error) {
		b.put(buf, int(blockNumber), false)
		return true, nil
	})
}

// Reserve marks blockNumber used directly, for blocks the engine claims
// for itself (the superblock) rather than ones allocated through the
// B-tree's normal allocateNode path.
func (b *Bitmap) Reserve(blockNumber uint64) error {
	if blockNumber >= uint64(b.bits) {
		return newErr(ErrOutOfRange, fmt.Sprintf("block %d out of range [0,%d)", blockNumber, b.bits), nil)
	}
	return b.withPage(func(buf []byte) (bool, error) {
		b.put(buf, int(blockNumber), true)
		return true, nil
	})
}

// InUse reports whether blockNumber is currently allocated.
func (b *Bitmap) InUse(blockNumber uint64) (bool, error) {
	if blockNumber >= uint64(b.bits) {
		return false, nil
	}
	var result bool
	err := b.withPage(func(buf []byte) (bool, error) {
		result = b.get(buf, int(blockNumber))
		return false, nil
	})
	return result, err
}
