package wgpu

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// Queue family indices. Every family is multiplexed onto the single HAL queue.
const (
	familyGraphics = 0
	familyCompute  = 1
	familyTransfer = 2

	// queuesPerFamily is the number of queues a device may request per family.
	queuesPerFamily = 4
)

// Memory type indices, one per rhi.MemoryType except Custom.
const (
	typeDefault  = 0
	typeUpload   = 1
	typeReadback = 2
)

// Heap indices. Unified memory adapters only use heapDevice.
const (
	heapDevice = 0
	heapHost   = 1
)

// Adapter is an adapter exposed by a HAL instance.
type Adapter struct {
	backend  *Backend
	exposed  hal.ExposedAdapter
	info     rhi.AdapterInfo
	families []rhi.QueueFamilyProperties
	memory   []rhi.MemoryTypeInfo
}

// Compile-time check.
var _ rhi.Adapter = (*Adapter)(nil)

func newAdapter(b *Backend, exposed hal.ExposedAdapter) *Adapter {
	info := rhi.AdapterInfo{
		Name:     exposed.Info.Name,
		Vendor:   exposed.Info.Vendor,
		VendorID: exposed.Info.VendorID,
		DeviceID: exposed.Info.DeviceID,
		Type:     rhi.AdapterTypeOf(exposed.Info.DeviceType),
		Driver:   exposed.Info.Driver,
		Backend:  exposed.Info.Backend,
	}
	if b.variant == gputypes.BackendEmpty && info.Type == rhi.AdapterUnknown {
		info.Type = rhi.AdapterSoftware
	}

	a := &Adapter{backend: b, exposed: exposed, info: info}
	a.families = queueFamilies(exposed.Capabilities.DownlevelCapabilities.Flags&hal.DownlevelFlagsComputeShaders != 0)
	a.memory = memoryTypes(info.Type.UnifiedMemory(), rhi.DefaultHeapSize, rhi.DefaultHeapSize)
	return a
}

// queueFamilies describes the graphics, compute and transfer families.
// Adapters without compute shaders expose no compute family.
func queueFamilies(compute bool) []rhi.QueueFamilyProperties {
	graphics := rhi.QueueCapabilityGraphics | rhi.QueueCapabilityTransfer | rhi.QueueCapabilityPresent
	if compute {
		graphics |= rhi.QueueCapabilityCompute
	}
	families := []rhi.QueueFamilyProperties{
		{Index: familyGraphics, Type: rhi.QueueGraphics, Capabilities: graphics, QueueCount: queuesPerFamily},
	}
	if compute {
		families = append(families, rhi.QueueFamilyProperties{
			Index: familyCompute, Type: rhi.QueueCompute,
			Capabilities: rhi.QueueCapabilityCompute | rhi.QueueCapabilityTransfer, QueueCount: queuesPerFamily,
		})
	}
	return append(families, rhi.QueueFamilyProperties{
		Index: familyTransfer, Type: rhi.QueueTransfer,
		Capabilities: rhi.QueueCapabilityTransfer, QueueCount: queuesPerFamily,
	})
}

// memoryTypes describes the Default, Upload and Readback types. On unified
// memory adapters all three live in the device heap and Default memory is
// host visible.
func memoryTypes(unified bool, deviceHeap, hostHeap uint64) []rhi.MemoryTypeInfo {
	host := rhi.MemoryPropertyHostVisible | rhi.MemoryPropertyHostCoherent
	types := []rhi.MemoryTypeInfo{
		{Index: typeDefault, Type: rhi.MemoryTypeDefault, Properties: rhi.MemoryPropertyDeviceLocal, HeapIndex: heapDevice, HeapSize: deviceHeap},
		{Index: typeUpload, Type: rhi.MemoryTypeUpload, Properties: host, HeapIndex: heapHost, HeapSize: hostHeap},
		{Index: typeReadback, Type: rhi.MemoryTypeReadback, Properties: host | rhi.MemoryPropertyHostCached, HeapIndex: heapHost, HeapSize: hostHeap},
	}
	if unified {
		for i := range types {
			types[i].Properties |= rhi.MemoryPropertyDeviceLocal | host
			types[i].HeapIndex = heapDevice
			types[i].HeapSize = deviceHeap
		}
	}
	for i := range types {
		types[i].Available = types[i].HeapSize
	}
	return types
}

// Info returns the adapter identification.
func (a *Adapter) Info() rhi.AdapterInfo { return a.info }

// Limits returns the best limits the adapter supports.
func (a *Adapter) Limits() gputypes.Limits { return a.exposed.Capabilities.Limits }

// Features returns the optional features the adapter supports.
func (a *Adapter) Features() gputypes.Features { return a.exposed.Features }

// QueueFamilies returns the queue families a device may request queues from.
func (a *Adapter) QueueFamilies() []rhi.QueueFamilyProperties {
	return append([]rhi.QueueFamilyProperties(nil), a.families...)
}

// MemoryTypes returns the memory types with default heap budgets.
func (a *Adapter) MemoryTypes() []rhi.MemoryTypeInfo {
	return append([]rhi.MemoryTypeInfo(nil), a.memory...)
}

// NativeHandle returns the HAL adapter.
func (a *Adapter) NativeHandle() rhi.NativeHandle {
	return halHandle(a.info.Backend, rhi.HandleAdapter, a.exposed.Adapter)
}

// family returns the family serving queues of type t.
func (a *Adapter) family(t rhi.QueueType) (rhi.QueueFamilyProperties, bool) {
	if t == rhi.QueuePresent {
		t = rhi.QueueGraphics
	}
	for _, f := range a.families {
		if f.Type == t {
			return f, true
		}
	}
	return rhi.QueueFamilyProperties{}, false
}
