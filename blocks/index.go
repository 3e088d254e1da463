package blocks

import (
	"fmt"

	"github.com/outofforest/photon"
	"github.com/pkg/errors"

	"github.com/outofforest/histfs/errs"
)

// TrailerKind is the enum representing the role of index block in the version chain.
type TrailerKind byte

// Trailer kinds.
const (
	// Unversioned means the file has never been written, so there is no chain yet.
	Unversioned TrailerKind = iota

	// Root marks the oldest version in the chain.
	Root

	// Previous means the trailer points to the index block of the previous version.
	Previous
)

// rootSentinel is the on-disk representation of the Root trailer.
const rootSentinel int32 = -1

// Trailer is the version chain link stored in the last slot of index block.
type Trailer struct {
	Kind     TrailerKind
	Previous BlockAddress
}

// UnversionedTrailer returns trailer of the file which has never been written.
func UnversionedTrailer() Trailer {
	return Trailer{Kind: Unversioned}
}

// RootTrailer returns trailer of the oldest version.
func RootTrailer() Trailer {
	return Trailer{Kind: Root}
}

// PreviousTrailer returns trailer linking to the previous version.
func PreviousTrailer(address BlockAddress) Trailer {
	return Trailer{Kind: Previous, Previous: address}
}

func (t Trailer) String() string {
	switch t.Kind {
	case Unversioned:
		return "unversioned"
	case Root:
		return "root"
	default:
		return fmt.Sprintf("previous(%d)", t.Previous)
	}
}

func (t Trailer) encode() (int32, error) {
	switch t.Kind {
	case Unversioned:
		return 0, nil
	case Root:
		return rootSentinel, nil
	case Previous:
		if t.Previous == NoBlock || t.Previous > 1<<31-1 {
			return 0, errors.Errorf("invalid previous version address %d", t.Previous)
		}
		return int32(t.Previous), nil
	default:
		return 0, errors.Errorf("unknown trailer kind %d", t.Kind)
	}
}

func decodeTrailer(v int32) (Trailer, error) {
	switch {
	case v == 0:
		return UnversionedTrailer(), nil
	case v == rootSentinel:
		return RootTrailer(), nil
	case v > 0:
		return PreviousTrailer(BlockAddress(v)), nil
	default:
		return Trailer{}, errors.Wrapf(errs.ErrCorruptChain, "invalid trailer value %d", v)
	}
}

// IndexBlock maps logical blocks of one file version to physical blocks.
type IndexBlock struct {
	Slots   [DataSlots]BlockAddress
	Trailer Trailer
}

// Allocated returns the number of allocated data slots.
func (ib *IndexBlock) Allocated() int {
	var n int
	for _, a := range ib.Slots {
		if a != NoBlock {
			n++
		}
	}
	return n
}

// Each calls fn for every allocated data slot, in the slot order.
func (ib *IndexBlock) Each(fn func(slot int, address BlockAddress) error) error {
	for i, a := range ib.Slots {
		if a == NoBlock {
			continue
		}
		if err := fn(i, a); err != nil {
			return err
		}
	}
	return nil
}

// rawIndex is the on-disk layout of index block.
type rawIndex struct {
	Slots   [DataSlots]BlockAddress
	Trailer int32
}

// EncodeIndex serializes index block into the block-sized buffer.
func EncodeIndex(ib IndexBlock, p []byte) error {
	if len(p) != BlockSize {
		return errors.Errorf("invalid size of index block buffer: %d", len(p))
	}
	trailer, err := ib.Trailer.encode()
	if err != nil {
		return err
	}
	raw := photon.NewFromBytes[rawIndex](p)
	raw.V.Slots = ib.Slots
	raw.V.Trailer = trailer
	return nil
}

// DecodeIndex deserializes index block from the block-sized buffer.
func DecodeIndex(p []byte) (IndexBlock, error) {
	if len(p) != BlockSize {
		return IndexBlock{}, errors.Errorf("invalid size of index block buffer: %d", len(p))
	}
	raw := photon.NewFromBytes[rawIndex](p)
	trailer, err := decodeTrailer(raw.V.Trailer)
	if err != nil {
		return IndexBlock{}, err
	}
	return IndexBlock{
		Slots:   raw.V.Slots,
		Trailer: trailer,
	}, nil
}

// ReadIndex reads index block stored at address.
func ReadIndex(dev Reader, address BlockAddress) (IndexBlock, error) {
	p := make([]byte, BlockSize)
	if err := dev.ReadBlock(address, p); err != nil {
		return IndexBlock{}, errs.IO("read index", uint32(address), err)
	}
	ib, err := DecodeIndex(p)
	if err != nil {
		return IndexBlock{}, errors.WithMessagef(err, "index block %d", address)
	}
	return ib, nil
}

// WriteIndex stores index block at address.
func WriteIndex(dev Writer, address BlockAddress, ib IndexBlock) error {
	p := make([]byte, BlockSize)
	if err := EncodeIndex(ib, p); err != nil {
		return err
	}
	return errs.IO("write index", uint32(address), dev.WriteBlock(address, p))
}

// Zero writes zeros to the block.
func Zero(dev Writer, address BlockAddress) error {
	return errs.IO("zero", uint32(address), dev.WriteBlock(address, make([]byte, BlockSize)))
}
