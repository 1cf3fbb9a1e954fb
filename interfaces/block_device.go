// Package interfaces holds the collaborator boundary the storage core
// depends on but does not implement itself: the raw block device. Real
// implementations live under storage/device; the core only ever talks to
// this interface, the same separation the retrieved teacher used to keep
// its buffer manager decoupled from the host's page storage.
package interfaces

// BlockDevice is a fixed-size block store. Implementations expose no
// caching and no partial-page I/O: every Read/Write moves exactly one
// BlockSize-aligned block.
type BlockDevice interface {
	// TotalBlocks reports how many blocks the device currently holds.
	TotalBlocks() uint64

	// ReadBlock copies one block's worth of bytes into out. len(out) must
	// equal the device's block size.
	ReadBlock(blockNumber uint64, out []byte) error

	// WriteBlock copies in into the given block. len(in) must equal the
	// device's block size.
	WriteBlock(blockNumber uint64, in []byte) error

	// Close flushes and releases any resources held by the device.
	Close() error
}
