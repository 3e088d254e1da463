package version

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/chain"
	"github.com/outofforest/histfs/errs"
	"github.com/outofforest/histfs/inode"
)

// Command is the code of version-control command.
type Command uint32

// Command codes.
const (
	CmdChangeVersion  Command = 0
	CmdRestoreVersion Command = 1
	CmdReleaseVersion Command = 2
)

// ErrUnknownCommand is returned if command code is not supported.
var ErrUnknownCommand = errors.New("unknown version command")

// Controller executes version-control commands.
type Controller struct {
	dev    blocks.ReadWriter
	alloc  blocks.Allocator
	inodes inode.Store
	logger *slog.Logger
}

// New creates new controller.
func New(dev blocks.ReadWriter, alloc blocks.Allocator, inodes inode.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		dev:    dev,
		alloc:  alloc,
		inodes: inodes,
		logger: logger,
	}
}

// Select makes version n visible to reads. Writes are allowed only if n is 0.
func (c *Controller) Select(rec *inode.Record, state *State, n int64) error {
	if err := validate(rec, n); err != nil {
		return err
	}

	before := *rec
	rec.CanWrite = false
	if err := c.inodes.Persist(rec); err != nil {
		*rec = before
		return err
	}

	result, err := chain.Walk(c.dev, rec.LastIndexBlock, uint32(n))
	if err == nil && result.Exhausted() {
		err = errors.Wrapf(&errs.VersionError{Requested: n, Max: result.Steps},
			"chain of inode %d holds fewer versions than recorded", rec.Ino)
	}
	if err != nil {
		c.restore(rec, before)
		return err
	}

	rec.IndexBlock = result.Address
	rec.CanWrite = n == 0
	if err := c.inodes.Persist(rec); err != nil {
		c.restore(rec, before)
		return err
	}

	*state = PinnedState(uint32(n))
	c.logger.Info("Version selected", "ino", rec.Ino, "version", n, "indexBlock", rec.IndexBlock)
	return nil
}

// Release makes the newest version active again.
func (c *Controller) Release(rec *inode.Record, state *State) error {
	before := *rec
	rec.IndexBlock = rec.LastIndexBlock
	rec.CanWrite = true
	if err := c.inodes.Persist(rec); err != nil {
		*rec = before
		return err
	}

	*state = ActiveState()
	c.logger.Info("Version released", "ino", rec.Ino, "indexBlock", rec.IndexBlock)
	return nil
}

// RestoreAndPrune makes version n the newest one, discarding all the newer versions together with their
// blocks. If chain ends before version n, the oldest version becomes the newest one and PartialPruneError
// is returned.
func (c *Controller) RestoreAndPrune(rec *inode.Record, state *State, n int64) error {
	if err := validate(rec, n); err != nil {
		return err
	}

	target := rec.LastIndexBlock
	var pruned []blocks.IndexBlock
	var prunedAddresses []blocks.BlockAddress
	for uint32(len(pruned)) < uint32(n) {
		ib, err := blocks.ReadIndex(c.dev, target)
		if err != nil {
			return err
		}
		if ib.Trailer.Kind != blocks.Previous {
			break
		}
		pruned = append(pruned, ib)
		prunedAddresses = append(prunedAddresses, target)
		target = ib.Trailer.Previous
	}
	exhausted := uint32(len(pruned)) < uint32(n)

	// Size stays as it is, it is attribute of the inode, not of the version.
	before := *rec
	rec.IndexBlock = target
	rec.LastIndexBlock = target
	rec.CanWrite = true
	if exhausted {
		rec.NbVersions = 0
	} else {
		rec.NbVersions -= uint32(len(pruned))
	}
	if len(pruned) > 0 {
		rec.Incomplete = false
	}
	if err := c.inodes.Persist(rec); err != nil {
		*rec = before
		return err
	}
	*state = ActiveState()

	// Pruned versions are unreachable now, failures below leak space only.
	var freed int
	for i, ib := range pruned {
		count, err := c.discard(prunedAddresses[i], ib)
		freed += count
		if err != nil {
			return err
		}
	}

	c.logger.Info("Versions pruned", "ino", rec.Ino, "pruned", len(pruned), "versions", rec.NbVersions,
		"freedBlocks", freed)

	if exhausted {
		return errors.WithStack(&errs.PartialPruneError{Requested: uint32(n), Reached: uint32(len(pruned))})
	}
	return nil
}

// Dispatch executes command with the textual argument, the way control channel passes it.
func (c *Controller) Dispatch(rec *inode.Record, state *State, cmd Command, arg string) error {
	n, err := strconv.ParseInt(strings.TrimSpace(arg), 0, 32)
	if err != nil {
		return errors.Wrapf(errs.ErrInvalidVersion, "malformed version %q", arg)
	}

	switch cmd {
	case CmdChangeVersion:
		return c.Select(rec, state, n)
	case CmdRestoreVersion:
		return c.RestoreAndPrune(rec, state, n)
	case CmdReleaseVersion:
		return c.Release(rec, state)
	default:
		return errors.Wrapf(ErrUnknownCommand, "command %d", cmd)
	}
}

func (c *Controller) discard(address blocks.BlockAddress, ib blocks.IndexBlock) (int, error) {
	var freed int
	err := ib.Each(func(slot int, data blocks.BlockAddress) error {
		if err := c.release(data); err != nil {
			return err
		}
		freed++
		return nil
	})
	if err != nil {
		return freed, err
	}
	if err := c.release(address); err != nil {
		return freed, err
	}
	return freed + 1, nil
}

func (c *Controller) release(address blocks.BlockAddress) error {
	if err := blocks.Zero(c.dev, address); err != nil {
		return err
	}
	return c.alloc.Free(address)
}

func (c *Controller) restore(rec *inode.Record, before inode.Record) {
	*rec = before
	if err := c.inodes.Persist(rec); err != nil {
		c.logger.Error("Restoring metadata failed", "ino", rec.Ino, "error", err)
	}
}

func validate(rec *inode.Record, n int64) error {
	if n < 0 || n > int64(rec.NbVersions) {
		return errors.WithStack(&errs.VersionError{Requested: n, Max: rec.NbVersions})
	}
	return nil
}
