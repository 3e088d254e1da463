// Package version implements commands switching the version of a file visible to reads and writes.
package version

import (
	"fmt"

	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/chain"
	"github.com/outofforest/histfs/inode"
)

// Kind is the enum representing the kind of state.
type Kind byte

// State kinds.
const (
	// Active means the newest version is used and the file is writable.
	Active Kind = iota

	// Pinned means reads see the selected version.
	Pinned
)

// State is the version state of open file.
type State struct {
	Kind    Kind
	Version uint32
}

// ActiveState returns active state.
func ActiveState() State {
	return State{Kind: Active}
}

// PinnedState returns state pinned to version n.
func PinnedState(n uint32) State {
	return State{Kind: Pinned, Version: n}
}

func (s State) String() string {
	if s.Kind == Active {
		return "active"
	}
	return fmt.Sprintf("pinned(%d)", s.Version)
}

// StateOf derives state from the persisted record.
func StateOf(dev blocks.Reader, rec *inode.Record) (State, error) {
	if rec.IndexBlock == rec.LastIndexBlock && rec.CanWrite {
		return ActiveState(), nil
	}
	n, err := chain.Position(dev, rec.LastIndexBlock, rec.IndexBlock)
	if err != nil {
		return State{}, err
	}
	return PinnedState(n), nil
}
