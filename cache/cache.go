// Package cache keeps recently used blocks in memory. Writes go straight to the device, so cache never holds
// anything which is not persisted.
package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"

	"github.com/outofforest/histfs/blocks"
)

var _ blocks.ReadWriter = &Cache{}

// Config is the configuration of the cache.
type Config struct {
	Capacity uint64
	TTL      time.Duration
}

// Cache is the write-through block cache.
type Cache struct {
	dev    blocks.ReadWriter
	blocks *ttlcache.Cache[blocks.BlockAddress, []byte]
}

// New creates new cache. Expired blocks are removed in the background until Stop is called.
func New(dev blocks.ReadWriter, config Config) *Cache {
	if config.Capacity == 0 {
		config.Capacity = DefaultCapacity
	}
	if config.TTL == 0 {
		config.TTL = DefaultTTL
	}

	c := &Cache{
		dev: dev,
		blocks: ttlcache.New[blocks.BlockAddress, []byte](
			ttlcache.WithTTL[blocks.BlockAddress, []byte](config.TTL),
			ttlcache.WithCapacity[blocks.BlockAddress, []byte](config.Capacity),
		),
	}
	go c.blocks.Start()

	return c
}

// ReadBlock reads block from cache or from device if it is not cached.
func (c *Cache) ReadBlock(address blocks.BlockAddress, p []byte) error {
	if len(p) != blocks.BlockSize {
		return errors.Errorf("invalid size of output buffer: %d", len(p))
	}

	if item := c.blocks.Get(address); item != nil {
		copy(p, item.Value())
		return nil
	}

	if err := c.dev.ReadBlock(address, p); err != nil {
		return err
	}

	c.blocks.Set(address, clone(p), ttlcache.DefaultTTL)
	return nil
}

// WriteBlock writes block to the device and updates cached copy.
func (c *Cache) WriteBlock(address blocks.BlockAddress, p []byte) error {
	if len(p) != blocks.BlockSize {
		return errors.Errorf("invalid size of input buffer: %d", len(p))
	}

	if err := c.dev.WriteBlock(address, p); err != nil {
		// Content on the device is unknown now.
		c.blocks.Delete(address)
		return err
	}

	c.blocks.Set(address, clone(p), ttlcache.DefaultTTL)
	return nil
}

// Forget drops the block from cache.
func (c *Cache) Forget(address blocks.BlockAddress) {
	c.blocks.Delete(address)
}

// Len returns the number of cached blocks.
func (c *Cache) Len() int {
	return c.blocks.Len()
}

// Metrics returns hit and miss counters.
func (c *Cache) Metrics() ttlcache.Metrics {
	return c.blocks.Metrics()
}

// Stop stops the expiration loop and drops all the blocks.
func (c *Cache) Stop() {
	c.blocks.Stop()
	c.blocks.DeleteAll()
}

func clone(p []byte) []byte {
	b := make([]byte, len(p))
	copy(b, p)
	return b
}
