// Package chain walks the version chain formed by index block trailers. Version 0 is the newest one.
package chain

import (
	"github.com/pkg/errors"

	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/errs"
)

// Result is the outcome of the walk.
type Result struct {
	// Address is the index block where the walk stopped.
	Address blocks.BlockAddress

	// Steps is the number of trailers followed.
	Steps uint32

	// ShortBy is the number of steps which could not be done because the oldest version was reached.
	ShortBy uint32
}

// Exhausted tells if the oldest version was reached before the requested one.
func (r Result) Exhausted() bool {
	return r.ShortBy > 0
}

// Walk follows n trailers starting from head.
func Walk(dev blocks.Reader, head blocks.BlockAddress, n uint32) (Result, error) {
	address := head
	for i := uint32(0); i < n; i++ {
		ib, err := blocks.ReadIndex(dev, address)
		if err != nil {
			return Result{}, err
		}
		if ib.Trailer.Kind != blocks.Previous {
			return Result{Address: address, Steps: i, ShortBy: n - i}, nil
		}
		address = ib.Trailer.Previous
	}
	return Result{Address: address, Steps: n}, nil
}

// List returns index blocks of all the versions, from the newest to the oldest.
func List(dev blocks.Reader, head blocks.BlockAddress) ([]blocks.BlockAddress, error) {
	visited := map[blocks.BlockAddress]struct{}{}
	var versions []blocks.BlockAddress

	for address := head; ; {
		if _, exists := visited[address]; exists {
			return nil, errors.Wrapf(errs.ErrCorruptChain, "cycle detected at index block %d", address)
		}
		visited[address] = struct{}{}
		versions = append(versions, address)

		ib, err := blocks.ReadIndex(dev, address)
		if err != nil {
			return nil, err
		}

		switch ib.Trailer.Kind {
		case blocks.Root:
			return versions, nil
		case blocks.Unversioned:
			if len(versions) > 1 {
				return nil, errors.Wrapf(errs.ErrCorruptChain,
					"index block %d of older version has never been versioned", address)
			}
			return versions, nil
		default:
			address = ib.Trailer.Previous
		}
	}
}

// Position returns the version number of the index block.
func Position(dev blocks.Reader, head, target blocks.BlockAddress) (uint32, error) {
	versions, err := List(dev, head)
	if err != nil {
		return 0, err
	}
	for i, address := range versions {
		if address == target {
			return uint32(i), nil
		}
	}
	return 0, errors.Wrapf(errs.ErrCorruptChain, "index block %d is not part of the chain starting at %d",
		target, head)
}
