package rhi

import "time"

// Infinite is a timeout that never elapses.
const Infinite time.Duration = -1

// FenceType says which side signals a fence.
type FenceType uint8

const (
	// FenceGPUToCPU fences are signalled by queue submissions and waited on the CPU.
	FenceGPUToCPU FenceType = iota
	// FenceCPUToGPU fences are signalled on the CPU.
	FenceCPUToGPU
)

// String returns the fence type name.
func (t FenceType) String() string {
	if t == FenceCPUToGPU {
		return "CPUToGPU"
	}
	return "GPUToCPU"
}

// FenceDesc describes a fence.
type FenceDesc struct {
	Label string
	Type  FenceType
	// Signaled creates the fence with value 1.
	Signaled bool
}

// FenceStatus is a non-blocking view of a fence.
type FenceStatus uint8

const (
	// FenceUnsignaled means no value has been reached since the last reset.
	FenceUnsignaled FenceStatus = iota
	// FenceSignaled means the fence value is non-zero and no submission is pending on it.
	FenceSignaled
	// FencePending means a submission will signal the fence.
	FencePending
)

// String returns the status name.
func (s FenceStatus) String() string {
	switch s {
	case FenceSignaled:
		return "Signaled"
	case FencePending:
		return "Pending"
	default:
		return "Unsignaled"
	}
}

// Fence is a CPU-observable monotonic counter advanced by queue submissions.
type Fence interface {
	Desc() FenceDesc

	// GetValue returns the current value.
	GetValue() uint64

	// Signal raises the value from the CPU. Lower values are ignored.
	Signal(value uint64) error

	// Wait blocks until the value reaches at least value or timeout elapses.
	// A negative timeout waits forever.
	Wait(value uint64, timeout time.Duration) error

	// Reset returns the value to zero. It fails while a submission will signal the fence.
	Reset() error

	Status() FenceStatus
	NativeHandle() NativeHandle
	Destroy()
}

// SemaphoreType selects binary or timeline semantics.
type SemaphoreType uint8

const (
	SemaphoreBinary SemaphoreType = iota
	SemaphoreTimeline
)

// String returns "Binary" or "Timeline".
func (t SemaphoreType) String() string {
	if t == SemaphoreTimeline {
		return "Timeline"
	}
	return "Binary"
}

// SemaphoreDesc describes a semaphore.
type SemaphoreDesc struct {
	Label string
	Type  SemaphoreType
	// InitialValue is the starting value of a timeline semaphore.
	InitialValue uint64
}

// Semaphore orders GPU work across submissions and queues.
//
// A binary semaphore pairs exactly one signal with one wait. A timeline
// semaphore carries a non-decreasing value any number of waiters observe.
type Semaphore interface {
	Desc() SemaphoreDesc
	Type() SemaphoreType

	// GetValue returns the current timeline value, or 1 for a signalled
	// binary semaphore and 0 otherwise.
	GetValue() uint64

	// Signal sets a timeline value from the CPU. The value must be greater
	// than the current one.
	Signal(value uint64) error

	// Wait blocks until a timeline value reaches value. Binary semaphores
	// can only be waited on by queue submissions.
	Wait(value uint64, timeout time.Duration) error

	NativeHandle() NativeHandle
	Destroy()
}

// SemaphoreSubmit pairs a semaphore with the value a submission waits for
// or signals. Value is ignored for binary semaphores.
type SemaphoreSubmit struct {
	Semaphore Semaphore
	Value     uint64
}

// EventDesc describes an event.
type EventDesc struct {
	Label string
	// ManualReset events stay set until Reset. Auto-reset events clear when
	// a Wait returns.
	ManualReset bool
	Signaled    bool
}

// Event is a boolean flag set from the CPU or from executed command buffers.
type Event interface {
	Desc() EventDesc
	Set() error
	Reset() error
	GetStatus() bool

	// Wait blocks until the event is set.
	Wait(timeout time.Duration) error

	NativeHandle() NativeHandle
	Destroy()
}
