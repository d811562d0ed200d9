// Package counter provides the hardware counter that read and write paths
// use to account for bytes touched. Counters are cheap enough to pass down
// every hot path; a nil counter disables accounting.
package counter

import "sync/atomic"

// HardwareCounter accumulates bytes accessed by storage operations. It is
// mandatory on insert/update paths and optional on reads. All methods are
// safe on a nil receiver.
type HardwareCounter struct {
	vectorIORead   atomic.Uint64
	vectorIOWrite  atomic.Uint64
	payloadIORead  atomic.Uint64
	payloadIOWrite atomic.Uint64
}

// New returns a fresh counter.
func New() *HardwareCounter {
	return &HardwareCounter{}
}

// IncrVectorIORead records n bytes of vector data read.
func (c *HardwareCounter) IncrVectorIORead(n int) {
	if c == nil {
		return
	}
	c.vectorIORead.Add(uint64(n))
}

// IncrVectorIOWrite records n bytes of vector data written.
func (c *HardwareCounter) IncrVectorIOWrite(n int) {
	if c == nil {
		return
	}
	c.vectorIOWrite.Add(uint64(n))
}

// IncrPayloadIORead records n bytes of payload/index data read.
func (c *HardwareCounter) IncrPayloadIORead(n int) {
	if c == nil {
		return
	}
	c.payloadIORead.Add(uint64(n))
}

// IncrPayloadIOWrite records n bytes of payload/index data written.
func (c *HardwareCounter) IncrPayloadIOWrite(n int) {
	if c == nil {
		return
	}
	c.payloadIOWrite.Add(uint64(n))
}

// VectorIORead returns the accumulated vector read bytes.
func (c *HardwareCounter) VectorIORead() uint64 {
	if c == nil {
		return 0
	}
	return c.vectorIORead.Load()
}

// VectorIOWrite returns the accumulated vector write bytes.
func (c *HardwareCounter) VectorIOWrite() uint64 {
	if c == nil {
		return 0
	}
	return c.vectorIOWrite.Load()
}

// PayloadIORead returns the accumulated payload read bytes.
func (c *HardwareCounter) PayloadIORead() uint64 {
	if c == nil {
		return 0
	}
	return c.payloadIORead.Load()
}

// PayloadIOWrite returns the accumulated payload write bytes.
func (c *HardwareCounter) PayloadIOWrite() uint64 {
	if c == nil {
		return 0
	}
	return c.payloadIOWrite.Load()
}
