package rhi

import (
	"fmt"
	"time"
)

// QueueType is the kind of work a queue accepts.
type QueueType uint8

const (
	QueueGraphics QueueType = iota
	QueueCompute
	QueueTransfer
	QueuePresent
)

// String returns the queue type name.
func (t QueueType) String() string {
	switch t {
	case QueueGraphics:
		return "Graphics"
	case QueueCompute:
		return "Compute"
	case QueueTransfer:
		return "Transfer"
	case QueuePresent:
		return "Present"
	default:
		return fmt.Sprintf("QueueType(%d)", uint8(t))
	}
}

// Accepts reports whether a queue of type t may execute command buffers of
// type c. Graphics and present queues accept everything, compute queues
// accept compute and transfer work, transfer queues only transfer work.
func (t QueueType) Accepts(c CommandBufferType) bool {
	switch t {
	case QueueGraphics, QueuePresent:
		return c != CommandBufferBundle
	case QueueCompute:
		return c == CommandBufferCompute || c == CommandBufferTransfer
	case QueueTransfer:
		return c == CommandBufferTransfer
	}
	return false
}

// QueueCapabilities are the kinds of work a queue family supports.
type QueueCapabilities uint32

const (
	QueueCapabilityGraphics QueueCapabilities = 1 << 0
	QueueCapabilityCompute  QueueCapabilities = 1 << 1
	QueueCapabilityTransfer QueueCapabilities = 1 << 2
	QueueCapabilityPresent  QueueCapabilities = 1 << 3
)

// Contains reports whether every bit of f is set in c.
func (c QueueCapabilities) Contains(f QueueCapabilities) bool { return c&f == f }

// Union returns c | f.
func (c QueueCapabilities) Union(f QueueCapabilities) QueueCapabilities { return c | f }

// Intersect returns c & f.
func (c QueueCapabilities) Intersect(f QueueCapabilities) QueueCapabilities { return c & f }

// String returns the flag names joined by "|".
func (c QueueCapabilities) String() string {
	return flagString(uint32(c), []string{"Graphics", "Compute", "Transfer", "Present"})
}

// QueueFamilyProperties describes a family of queues of an adapter.
type QueueFamilyProperties struct {
	Index        uint32
	Type         QueueType
	Capabilities QueueCapabilities
	QueueCount   uint32
}

// QueueInfo identifies a queue.
type QueueInfo struct {
	Type   QueueType
	Family uint32
	Index  uint32
}

// String returns "Graphics[0.0]" style identifiers.
func (i QueueInfo) String() string {
	return fmt.Sprintf("%s[%d.%d]", i.Type, i.Family, i.Index)
}

// SubmitInfo is one batch of command buffers with its synchronization.
type SubmitInfo struct {
	CommandBuffers   []CommandBuffer
	WaitSemaphores   []SemaphoreSubmit
	SignalSemaphores []SemaphoreSubmit
	// Fence, when set, is advanced once the batch retires.
	Fence Fence
}

// Queue is an ordered submission stream. Batches on one queue retire in
// submission order.
type Queue interface {
	Info() QueueInfo
	Type() QueueType

	// Submit validates the batch and queues it for execution. It returns the
	// value Fence reaches when the batch retires, or 0 without a fence.
	Submit(info SubmitInfo) (uint64, error)

	// WaitIdle blocks until every batch submitted so far has retired.
	WaitIdle(timeout time.Duration) error

	NativeHandle() NativeHandle
}
