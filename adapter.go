package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// AdapterType classifies an adapter.
type AdapterType uint8

const (
	AdapterUnknown AdapterType = iota
	AdapterDiscrete
	AdapterIntegrated
	AdapterSoftware
	AdapterCPU
)

// String returns the adapter type name.
func (t AdapterType) String() string {
	switch t {
	case AdapterDiscrete:
		return "Discrete"
	case AdapterIntegrated:
		return "Integrated"
	case AdapterSoftware:
		return "Software"
	case AdapterCPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// UnifiedMemory reports whether adapters of this type share memory with the CPU.
func (t AdapterType) UnifiedMemory() bool {
	return t == AdapterIntegrated || t == AdapterSoftware || t == AdapterCPU
}

// AdapterTypeOf maps a driver device type to an AdapterType.
func AdapterTypeOf(t gputypes.DeviceType) AdapterType {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return AdapterDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return AdapterIntegrated
	case gputypes.DeviceTypeVirtualGPU:
		return AdapterSoftware
	case gputypes.DeviceTypeCPU:
		return AdapterCPU
	default:
		return AdapterUnknown
	}
}

// AdapterInfo identifies an adapter.
type AdapterInfo struct {
	Name     string
	Vendor   string
	VendorID uint32
	DeviceID uint32
	Type     AdapterType
	Driver   string
	Backend  gputypes.Backend
}

// String returns "Name (Type, Backend)".
func (i AdapterInfo) String() string {
	return fmt.Sprintf("%s (%s, %s)", i.Name, i.Type, i.Backend)
}

// Adapter is a physical or virtual GPU. Adapters are immutable and are not
// owned by the devices created from them.
type Adapter interface {
	Info() AdapterInfo
	Limits() gputypes.Limits
	Features() gputypes.Features
	QueueFamilies() []QueueFamilyProperties
	MemoryTypes() []MemoryTypeInfo
	NativeHandle() NativeHandle
}
