// Package report describes version chains of files for inspection. It never modifies anything.
package report

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"

	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/chain"
	"github.com/outofforest/histfs/errs"
	"github.com/outofforest/histfs/inode"
)

// Options configures the report.
type Options struct {
	// Details adds active index block and flags.
	Details bool

	// Digests adds content digest of every version.
	Digests bool
}

// File describes the version chain of one file.
type File struct {
	Ino        inode.Ino
	NbVersions uint32
	Size       uint64

	// Chain lists index blocks from the newest to the oldest version.
	Chain []blocks.BlockAddress

	Active     blocks.BlockAddress
	CanWrite   bool
	Incomplete bool

	// Digests are computed only if requested, one per chain entry.
	Digests []string
}

// Reporter builds reports.
type Reporter struct {
	dev    blocks.Reader
	inodes inode.Store
}

// New creates new reporter.
func New(dev blocks.Reader, inodes inode.Store) *Reporter {
	return &Reporter{
		dev:    dev,
		inodes: inodes,
	}
}

// Chain returns index blocks of the file, from the newest to the oldest, and the number of versions.
func (r *Reporter) Chain(ino inode.Ino) ([]blocks.BlockAddress, uint32, error) {
	rec, err := r.inodes.Load(ino)
	if err != nil {
		return nil, 0, err
	}
	versions, err := chain.List(r.dev, rec.LastIndexBlock)
	if err != nil {
		return nil, 0, err
	}
	return versions, rec.NbVersions, nil
}

// Build describes all the files.
func (r *Reporter) Build(opts Options) ([]File, error) {
	var files []File
	err := r.inodes.Range(func(rec inode.Record) error {
		versions, err := chain.List(r.dev, rec.LastIndexBlock)
		if err != nil {
			return errors.WithMessagef(err, "inode %d", rec.Ino)
		}

		f := File{
			Ino:        rec.Ino,
			NbVersions: rec.NbVersions,
			Size:       rec.Size,
			Chain:      versions,
			Active:     rec.IndexBlock,
			CanWrite:   rec.CanWrite,
			Incomplete: rec.Incomplete,
		}
		if opts.Digests {
			for _, address := range versions {
				digest, err := r.digest(address)
				if err != nil {
					return err
				}
				f.Digests = append(f.Digests, digest)
			}
		}

		files = append(files, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// digest hashes the slot numbers and contents of all the data blocks of the version.
func (r *Reporter) digest(indexAddress blocks.BlockAddress) (string, error) {
	ib, err := blocks.ReadIndex(r.dev, indexAddress)
	if err != nil {
		return "", err
	}

	data := make([]byte, 0, ib.Allocated()*(blocks.AddressSize+blocks.BlockSize))
	p := make([]byte, blocks.BlockSize)
	err = ib.Each(func(slot int, address blocks.BlockAddress) error {
		if err := r.dev.ReadBlock(address, p); err != nil {
			return errs.IO("read data", uint32(address), err)
		}
		data = binary.LittleEndian.AppendUint32(data, uint32(slot))
		data = append(data, p...)
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", xxh3.Hash128(data).Bytes()), nil
}

// Line formats the file the way debugfs presents it.
func Line(f File, opts Options) string {
	addresses := make([]string, 0, len(f.Chain))
	for _, address := range f.Chain {
		addresses = append(addresses, fmt.Sprint(address))
	}

	line := fmt.Sprintf("inode:%d | versions:%d | index blocks:{%s}", f.Ino, len(f.Chain),
		strings.Join(addresses, ","))
	if opts.Details {
		line += fmt.Sprintf(" | active:%d | writable:%t | incomplete:%t", f.Active, f.CanWrite, f.Incomplete)
	}
	if opts.Digests {
		line += fmt.Sprintf(" | digests:{%s}", strings.Join(f.Digests, ","))
	}
	return line
}

// Write prints one line per file.
func Write(w io.Writer, files []File, opts Options) error {
	for _, f := range files {
		if _, err := fmt.Fprintln(w, Line(f, opts)); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}
