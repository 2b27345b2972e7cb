package wgpu

import (
	"errors"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

// halCode maps a HAL error to the code reported for it. fallback is used
// for errors that carry no specific meaning.
func halCode(err error, fallback rhi.ErrorCode) rhi.ErrorCode {
	switch {
	case errors.Is(err, hal.ErrDeviceLost):
		return rhi.DeviceLost
	case errors.Is(err, hal.ErrDeviceOutOfMemory):
		return rhi.OutOfMemory
	case errors.Is(err, hal.ErrTimeout), errors.Is(err, hal.ErrNotReady):
		return rhi.TimeoutError
	case errors.Is(err, hal.ErrZeroArea):
		return rhi.InvalidArgument
	case errors.Is(err, hal.ErrInvalidMapRange):
		return rhi.ResourceMapFailed
	case errors.Is(err, hal.ErrBackendNotFound):
		return rhi.AdapterNotFound
	}
	return fallback
}

// wrap converts a HAL error into an *rhi.Error, keeping it reachable
// through errors.Is. Device loss is recorded on d.
func (d *Device) wrap(err error, fallback rhi.ErrorCode, what string) error {
	if err == nil {
		return nil
	}
	code := halCode(err, fallback)
	if code == rhi.DeviceLost {
		d.markLost(err)
	}
	return rhi.Errorf(code, "%s: %w", what, err)
}
