//go:build test

package cache

import "time"

const (
	// DefaultCapacity is the number of blocks kept in cache when capacity is not configured.
	DefaultCapacity = 2

	// DefaultTTL is the time after which unused block is dropped from cache.
	DefaultTTL = time.Minute
)
