package device

import (
	"fmt"

	"github.com/dsnet/golib/memfile"

	"github.com/gjbauer/blocktree/interfaces"
)

// MemDevice is an in-memory BlockDevice backed by dsnet/golib/memfile,
// standing in for FileDevice in tests the same way the retrieved teacher's
// own ParentPageDummy/ParentBufMgrDummy stood in for a real host buffer
// pool: no file descriptors, deterministic, and trivially inspectable.
type MemDevice struct {
	f           *memfile.File
	totalBlocks uint64
}

// NewMemDevice allocates a zero-filled in-memory device of blockCount
// blocks.
func NewMemDevice(blockCount uint64) *MemDevice {
	buf := make([]byte, blockCount*BlockSize)
	return &MemDevice{
		f:           memfile.New(buf),
		totalBlocks: blockCount,
	}
}

func (d *MemDevice) TotalBlocks() uint64 { return d.totalBlocks }

func (d *MemDevice) ReadBlock(blockNumber uint64, out []byte) error {
	if blockNumber >= d.totalBlocks {
		return fmt.Errorf("memdevice: block %d out of range [0,%d)", blockNumber, d.totalBlocks)
	}
	if len(out) != BlockSize {
		return fmt.Errorf("memdevice: read buffer must be %d bytes, got %d", BlockSize, len(out))
	}
	n, err := d.f.ReadAt(out, int64(blockNumber)*BlockSize)
	if err != nil || n != BlockSize {
		return fmt.Errorf("memdevice: read block %d: %w", blockNumber, err)
	}
	return nil
}

func (d *MemDevice) WriteBlock(blockNumber uint64, in []byte) error {
	if blockNumber >= d.totalBlocks {
		return fmt.Errorf("memdevice: block %d out of range [0,%d)", blockNumber, d.totalBlocks)
	}
	if len(in) != BlockSize {
		return fmt.Errorf("memdevice: write buffer must be %d bytes, got %d", BlockSize, len(in))
	}
	n, err := d.f.WriteAt(in, int64(blockNumber)*BlockSize)
	if err != nil || n != BlockSize {
		return fmt.Errorf("memdevice: write block %d: %w", blockNumber, err)
	}
	return nil
}

func (d *MemDevice) Close() error {
	return d.f.Close()
}

// Bytes exposes the backing buffer directly, so a caller can inspect the
// device's bytes without going through ReadBlock.
func (d *MemDevice) Bytes() []byte {
	return d.f.Bytes()
}

var _ interfaces.BlockDevice = (*MemDevice)(nil)
