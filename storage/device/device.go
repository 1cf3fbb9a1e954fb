// Package device provides BlockDevice implementations: a real,
// direct-I/O-backed file device for production use, and an in-memory
// device for tests. Both satisfy interfaces.BlockDevice.
package device

import (
	"fmt"
	"os"

	"github.com/ncw/directio"

	"github.com/gjbauer/blocktree/interfaces"
)

// BlockSize is the fixed page size the whole storage core is built around.
const BlockSize = 4096

// FileDevice is a fixed-size block device backed by a raw image file.
// It opens the file with O_DIRECT where the platform and filesystem allow
// it, bypassing the kernel's own page cache: the buffer pool above this
// device is the only cache the engine wants, and double-caching through
// the OS as well would waste memory for nothing. When O_DIRECT cannot be
// used (short files, non-Linux targets, filesystems that reject it) it
// falls back to an ordinary buffered *os.File.
type FileDevice struct {
	file        *os.File
	totalBlocks uint64
	direct      bool
}

// Open opens path as a block device. The file must already exist and its
// size must be a positive multiple of BlockSize.
func Open(path string) (*FileDevice, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("device: stat %s: %w", path, err)
	}
	size := info.Size()
	if size <= 0 || size%BlockSize != 0 {
		return nil, fmt.Errorf("device: %s size %d is not a positive multiple of %d", path, size, BlockSize)
	}

	f, direct, err := openDirectOrBuffered(path)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", path, err)
	}

	return &FileDevice{
		file:        f,
		totalBlocks: uint64(size) / BlockSize,
		direct:      direct,
	}, nil
}

func openDirectOrBuffered(path string) (*os.File, bool, error) {
	if f, err := directio.OpenFile(path, os.O_RDWR, 0644); err == nil {
		return f, true, nil
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	return f, false, err
}

// Create makes a fresh image file of the given block count, zero-filled,
// and opens it as a FileDevice.
func Create(path string, blockCount uint64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("device: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(blockCount * BlockSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("device: truncate %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("device: close %s after create: %w", path, err)
	}
	return Open(path)
}

func (d *FileDevice) TotalBlocks() uint64 { return d.totalBlocks }

func (d *FileDevice) ReadBlock(blockNumber uint64, out []byte) error {
	if blockNumber >= d.totalBlocks {
		return fmt.Errorf("device: block %d out of range [0,%d)", blockNumber, d.totalBlocks)
	}
	if len(out) != BlockSize {
		return fmt.Errorf("device: read buffer must be %d bytes, got %d", BlockSize, len(out))
	}
	buf := out
	if d.direct {
		buf = directio.AlignedBlock(BlockSize)
	}
	n, err := d.file.ReadAt(buf, int64(blockNumber)*BlockSize)
	if err != nil || n != BlockSize {
		return fmt.Errorf("device: read block %d: %w", blockNumber, err)
	}
	if d.direct {
		copy(out, buf)
	}
	return nil
}

func (d *FileDevice) WriteBlock(blockNumber uint64, in []byte) error {
	if blockNumber >= d.totalBlocks {
		return fmt.Errorf("device: block %d out of range [0,%d)", blockNumber, d.totalBlocks)
	}
	if len(in) != BlockSize {
		return fmt.Errorf("device: write buffer must be %d bytes, got %d", BlockSize, len(in))
	}
	buf := in
	if d.direct {
		buf = directio.AlignedBlock(BlockSize)
		copy(buf, in)
	}
	n, err := d.file.WriteAt(buf, int64(blockNumber)*BlockSize)
	if err != nil || n != BlockSize {
		return fmt.Errorf("device: write block %d: %w", blockNumber, err)
	}
	return nil
}

func (d *FileDevice) Close() error {
	return d.file.Close()
}

var _ interfaces.BlockDevice = (*FileDevice)(nil)
