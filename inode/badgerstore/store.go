// Package badgerstore keeps inode records in badger instead of the inode table of the device.
package badgerstore

import (
	"encoding/binary"
	"log/slog"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"

	"github.com/outofforest/histfs/blocks"
	"github.com/outofforest/histfs/errs"
	"github.com/outofforest/histfs/inode"
)

var _ inode.Store = &Store{}

var keyPrefix = []byte("inode/")

// Config is the configuration of the store.
type Config struct {
	// Dir is the badger directory. Empty dir means in-memory database.
	Dir     string
	NInodes uint32
	Logger  *slog.Logger
}

// Store is the inode store backed by badger.
type Store struct {
	db      *badger.DB
	nInodes uint32
}

// Open opens the store.
func Open(config Config) (*Store, error) {
	if config.NInodes == 0 {
		return nil, errors.New("number of inodes must be positive")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := badger.DefaultOptions(config.Dir).
		WithLogger(newLogger(logger.WithGroup("badger"))).
		WithLoggingLevel(badger.WARNING)
	if config.Dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &Store{
		db:      db,
		nInodes: config.NInodes,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return errors.WithStack(s.db.Close())
}

// Create takes a free inode and persists the record in it.
func (s *Store) Create(rec *inode.Record) error {
	if !rec.InUse() {
		return errors.New("record of new inode must have mode set")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for ino := inode.Ino(1); uint32(ino) <= s.nInodes; ino++ {
			_, err := txn.Get(key(ino))
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return errors.WithStack(err)
			}

			rec.Ino = ino
			return set(txn, rec)
		}
		return errors.Wrapf(errs.ErrNoInode, "all %d inodes are in use", s.nInodes)
	})
}

// Load loads the record of existing file.
func (s *Store) Load(ino inode.Ino) (inode.Record, error) {
	if err := s.validate(ino); err != nil {
		return inode.Record{}, err
	}

	var rec inode.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(ino))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errors.Wrapf(errs.ErrNoInode, "inode %d is free", ino)
			}
			return errors.WithStack(err)
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return errors.WithStack(err)
		}
		rec, err = inode.Decode(ino, value)
		return err
	})
	return rec, err
}

// Persist stores the record.
func (s *Store) Persist(rec *inode.Record) error {
	if err := s.validate(rec.Ino); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return set(txn, rec)
	})
}

// Free releases the inode.
func (s *Store) Free(ino inode.Ino) error {
	if err := s.validate(ino); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return errors.WithStack(txn.Delete(key(ino)))
	})
}

// Range calls fn for every inode in use.
func (s *Store) Range(fn func(rec inode.Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			ino := inode.Ino(binary.BigEndian.Uint32(item.Key()[len(keyPrefix):]))
			value, err := item.ValueCopy(nil)
			if err != nil {
				return errors.WithStack(err)
			}
			rec, err := inode.Decode(ino, value)
			if err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) validate(ino inode.Ino) error {
	if ino == 0 || uint32(ino) > s.nInodes {
		return errors.Wrapf(errs.ErrNoInode, "inode %d is out of range [1, %d]", ino, s.nInodes)
	}
	return nil
}

func set(txn *badger.Txn, rec *inode.Record) error {
	if !rec.InUse() {
		return errors.WithStack(txn.Delete(key(rec.Ino)))
	}

	value := make([]byte, blocks.InodeSize)
	if err := rec.Encode(value); err != nil {
		return err
	}
	return errors.WithStack(txn.Set(key(rec.Ino), value))
}

// key is big-endian so iteration goes in ascending inode order.
func key(ino inode.Ino) []byte {
	k := make([]byte, len(keyPrefix)+4)
	copy(k, keyPrefix)
	binary.BigEndian.PutUint32(k[len(keyPrefix):], uint32(ino))
	return k
}
