package blocks

// BlockSize is the size of the data unit used by histfs.
const BlockSize = 4096 // 4 KiB

// AddressSize is the on-disk size of a block address.
const AddressSize = 4

const (
	// SlotsPerIndexBlock is the number of address slots in an index block, including the trailer.
	SlotsPerIndexBlock = BlockSize / AddressSize

	// DataSlots is the number of addressable data slots in an index block.
	DataSlots = SlotsPerIndexBlock - 1

	// TrailerSlot is the slot reserved for the version chain pointer.
	TrailerSlot = SlotsPerIndexBlock - 1

	// MaxFileSize is the largest file size representable by a single index block.
	MaxFileSize = int64(DataSlots) * BlockSize
)

// BlockAddress is the address (index) of the block on the device. Address 0 is occupied by the superblock,
// so in every other context it means "not allocated".
type BlockAddress uint32

// NoBlock is used in index slots which are not backed by any block.
const NoBlock BlockAddress = 0

// Hash represents hash.
type Hash uint64

// Reader reads raw blocks.
type Reader interface {
	ReadBlock(address BlockAddress, p []byte) error
}

// Writer writes raw blocks.
type Writer interface {
	WriteBlock(address BlockAddress, p []byte) error
}

// ReadWriter reads and writes raw blocks.
type ReadWriter interface {
	Reader
	Writer
}

// Allocator hands out and takes back block addresses.
type Allocator interface {
	Allocate() (BlockAddress, error)
	Free(address BlockAddress) error
	NFree() uint64
}

const (
	// InodeSize is the on-disk size of the inode record.
	InodeSize = 64

	// InodesPerBlock is the number of inode records stored in one block of inode table.
	InodesPerBlock = BlockSize / InodeSize

	// BitsPerBlock is the number of allocation bits stored in one block of bitmap.
	BitsPerBlock = BlockSize * 8
)
