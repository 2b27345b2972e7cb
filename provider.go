package rhi

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
)

// deviceProvider exposes a Device to libraries that consume
// gpucontext.DeviceProvider.
type deviceProvider struct {
	device Device
	queue  Queue
	format gputypes.TextureFormat
}

// Compile-time check.
var _ gpucontext.DeviceProvider = (*deviceProvider)(nil)

// NewDeviceProvider wraps d as a gpucontext.DeviceProvider. Queue returns
// the first graphics queue of d, or its first queue of any type. format is
// the preferred surface format and may be TextureFormatUndefined for
// headless devices.
func NewDeviceProvider(d Device, format gputypes.TextureFormat) gpucontext.DeviceProvider {
	p := &deviceProvider{device: d, format: format}
	if q, err := d.GetQueue(QueueGraphics, 0); err == nil {
		p.queue = q
	} else if qs := d.Queues(); len(qs) > 0 {
		p.queue = qs[0]
	}
	return p
}

func (p *deviceProvider) Device() gpucontext.Device { return p.device }

func (p *deviceProvider) Queue() gpucontext.Queue { return p.queue }

func (p *deviceProvider) SurfaceFormat() gputypes.TextureFormat { return p.format }

func (p *deviceProvider) Adapter() gpucontext.Adapter { return p.device.Adapter() }

func (p *deviceProvider) AdapterInfo() gpucontext.AdapterInfo {
	info := p.device.Adapter().Info()
	return gpucontext.AdapterInfo{Name: info.Name, Type: gpucontextAdapterType(info.Type)}
}

func gpucontextAdapterType(t AdapterType) gpucontext.AdapterType {
	switch t {
	case AdapterDiscrete:
		return gpucontext.AdapterTypeDiscrete
	case AdapterIntegrated:
		return gpucontext.AdapterTypeIntegrated
	case AdapterSoftware, AdapterCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}
