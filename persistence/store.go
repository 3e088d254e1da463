package persistence

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/histfs/blocks"
)

// Store represents persistent storage.
type Store struct {
	mu sync.Mutex

	dev        Dev
	superblock Superblock
}

// OpenStore opens the persistent store.
func OpenStore(dev Dev) (*Store, error) {
	sb, err := loadSuperblock(dev)
	if err != nil {
		return nil, err
	}
	if err := validateSuperblock(dev, sb); err != nil {
		return nil, err
	}

	return &Store{
		dev:        dev,
		superblock: sb,
	}, nil
}

// Superblock returns the layout of the device.
func (s *Store) Superblock() Superblock {
	return s.superblock
}

// ReadBlock reads raw block bytes from the addressed block.
func (s *Store) ReadBlock(address blocks.BlockAddress, p []byte) error {
	if len(p) == 0 || len(p) > blocks.BlockSize {
		return errors.Errorf("invalid size of output buffer: %d", len(p))
	}
	if uint32(address) >= s.superblock.NBlocks {
		return errors.Errorf("block %d does not exist", address)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.dev.Seek(int64(address)*blocks.BlockSize, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.ReadFull(s.dev, p); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// WriteBlock writes raw block bytes to the addressed block.
func (s *Store) WriteBlock(address blocks.BlockAddress, p []byte) error {
	if len(p) == 0 || len(p) > blocks.BlockSize {
		return errors.Errorf("invalid size of input buffer: %d", len(p))
	}
	if address == 0 || uint32(address) >= s.superblock.NBlocks {
		return errors.Errorf("block %d can't be written", address)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.dev.Seek(int64(address)*blocks.BlockSize, io.SeekStart); err != nil {
		return errors.WithStack(err)
	}
	if _, err := s.dev.Write(p); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// Sync forces data to be written to the dev.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return errors.WithStack(s.dev.Sync())
}

func validateSuperblock(dev Dev, sb Superblock) error {
	if sb.Magic != histfsSubject {
		return errors.New("device does not contain histfs storage system")
	}

	if checksum := sb.ComputeChecksum(); checksum != sb.Checksum {
		return errors.Errorf("checksum mismatch for the superblock, computed: %x, stored: %x",
			checksum, sb.Checksum)
	}

	if int64(sb.NBlocks)*blocks.BlockSize > dev.Size() {
		return errors.Errorf("superblock declares %d blocks but device holds only %d",
			sb.NBlocks, dev.Size()/blocks.BlockSize)
	}
	if sb.InodeTableStart != 1 ||
		sb.BitmapStart != sb.InodeTableStart+blocks.BlockAddress(sb.InodeTableBlocks) ||
		sb.DataStart != sb.BitmapStart+blocks.BlockAddress(sb.BitmapBlocks) ||
		uint32(sb.DataStart) >= sb.NBlocks {
		return errors.New("superblock describes inconsistent layout")
	}

	return nil
}
