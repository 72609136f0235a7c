package wire

import "time"

// Option-negotiation limits, RFC 2348 (blksize) and RFC 2349 (timeout).
const (
	MinBlksize     = 8
	MaxBlksize     = 65464
	DefaultBlksize = 512

	MinTimeout     = 1 * time.Second
	MaxTimeout     = 255 * time.Second
	DefaultTimeout = 3 * time.Second
)
