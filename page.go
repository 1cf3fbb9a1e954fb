package blocktree

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BlockSize is the fixed page size of the whole storage core; it matches
// storage/device.BlockSize (kept as an independent constant here so this
// package never needs to import the device package just for a number).
const BlockSize = 4096

// MaxKeys is the B-tree fan-out: the maximum number of keys a node holds.
const MaxKeys = 4

// MinKeys is the underflow threshold: the minimum number of keys a
// non-root node must hold after any completed operation.
const MinKeys = MaxKeys / 2

// BlockTypeTag is the informational one-byte tag a block may carry. The
// core does not rely on it for correctness (spec §6); the pool consults
// it only to decide whether a dirtied block belongs on a per-owner dirty
// list (see Pool.MarkDirty).
type BlockTypeTag uint8

const (
	BlockTypeData BlockTypeTag = iota
	BlockTypeBTreeNode
	BlockTypeBitmap
	BlockTypeInode
	BlockTypeSuper
)

// Node is a single B-tree node: one block's worth of fixed-layout data.
// Leaves and internal nodes share this exact layout (spec §9 redesign
// flag: adopt the "leaves carry MAX_KEYS pairs" model, not the
// single-pair variant) — for a leaf, Children[i] holds the value
// associated with Keys[i] instead of a child block number.
type Node struct {
	BlockNumber  uint64
	IsLeaf       bool
	NumKeys      uint16
	Keys         [MaxKeys]uint64
	Children     [MaxKeys + 1]uint64
	Parent       uint64
	LeftSibling  uint64
	RightSibling uint64
}

// nodeWireSize is the exact serialized size of a Node's fields before
// zero-padding out to BlockSize, matching the layout spec.md §6 lays out:
// u64 block_number; u8 is_leaf; u16 num_keys; u64 keys[4]; u64 children[5];
// u64 parent; u64 left_sibling; u64 right_sibling.
const nodeWireSize = 8 + 1 + 2 + 8*MaxKeys + 8*(MaxKeys+1) + 8 + 8 + 8

func init() {
	if nodeWireSize > BlockSize {
		panic(fmt.Sprintf("node wire size %d exceeds block size %d", nodeWireSize, BlockSize))
	}
}

// NewNode zero-initializes a node for the given block number.
func NewNode(blockNumber uint64, isLeaf bool) *Node {
	return &Node{BlockNumber: blockNumber, IsLeaf: isLeaf}
}

// Encode serializes the node into a BlockSize-length page, zero-padded.
func (n *Node) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(BlockSize)

	binary.Write(buf, binary.LittleEndian, n.BlockNumber)
	var leaf uint8
	if n.IsLeaf {
		leaf = 1
	}
	binary.Write(buf, binary.LittleEndian, leaf)
	binary.Write(buf, binary.LittleEndian, n.NumKeys)
	binary.Write(buf, binary.LittleEndian, n.Keys)
	binary.Write(buf, binary.LittleEndian, n.Children)
	binary.Write(buf, binary.LittleEndian, n.Parent)
	binary.Write(buf, binary.LittleEndian, n.LeftSibling)
	binary.Write(buf, binary.LittleEndian, n.RightSibling)

	out := make([]byte, BlockSize)
	copy(out, buf.Bytes())
	return out
}

// DecodeNode deserializes a node from a BlockSize-length page. It verifies
// the node's self-reported block_number matches expectedBlock; a mismatch
// means the page is corrupt (spec §6).
func DecodeNode(page []byte, expectedBlock uint64) (*Node, error) {
	if len(page) != BlockSize {
		return nil, newErr(ErrCorrupt, fmt.Sprintf("page length %d != %d", len(page), BlockSize), nil)
	}
	r := bytes.NewReader(page)
	n := &Node{}

	var leaf uint8
	binary.Read(r, binary.LittleEndian, &n.BlockNumber)
	binary.Read(r, binary.LittleEndian, &leaf)
	binary.Read(r, binary.LittleEndian, &n.NumKeys)
	binary.Read(r, binary.LittleEndian, &n.Keys)
	binary.Read(r, binary.LittleEndian, &n.Children)
	binary.Read(r, binary.LittleEndian, &n.Parent)
	binary.Read(r, binary.LittleEndian, &n.LeftSibling)
	binary.Read(r, binary.LittleEndian, &n.RightSibling)
	n.IsLeaf = leaf != 0

	if n.BlockNumber != expectedBlock {
		return nil, newErr(ErrCorrupt,
			fmt.Sprintf("node self-address %d != expected block %d", n.BlockNumber, expectedBlock), nil)
	}
	if n.NumKeys > MaxKeys {
		return nil, newErr(ErrCorrupt, fmt.Sprintf("num_keys %d exceeds MaxKeys %d", n.NumKeys, MaxKeys), nil)
	}
	return n, nil
}
