package rhi

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorCodeString(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{InvalidOperation, "InvalidOperation"},
		{DeviceLost, "DeviceLost"},
		{InvalidBufferCount, "InvalidBufferCount"},
		{TimeoutError, "TimeoutError"},
		{VulkanError, "VulkanError"},
		{VulkanError + 4, "VulkanError+4"},
		{DX12Error + 9999, "DX12Error+9999"},
		{ErrorCode(777), "ErrorCode(777)"},
	}
	for _, tt := range tests {
		if got := tt.code.String(); got != tt.want {
			t.Errorf("ErrorCode(%d).String() = %q, want %q", int32(tt.code), got, tt.want)
		}
	}
}

func TestErrorCodeLayout(t *testing.T) {
	// Numeric values are part of the public contract.
	tests := []struct {
		code ErrorCode
		want int32
	}{
		{OutOfMemory, 5},
		{AdapterNotFound, 1002},
		{PresentFailed, 2005},
		{ResourceUnmapFailed, 3002},
		{TimeoutError, 4001},
		{DX12Error, 10000},
		{VulkanError, 20000},
		{MetalError, 30000},
	}
	for _, tt := range tests {
		if int32(tt.code) != tt.want {
			t.Errorf("%s = %d, want %d", tt.code, int32(tt.code), tt.want)
		}
	}
}

func TestBackendCode(t *testing.T) {
	tests := []struct {
		base   ErrorCode
		native int32
		want   ErrorCode
	}{
		{VulkanError, 4, VulkanError + 4},
		{VulkanError, -4, VulkanError + 4},
		{MetalError, 12345, MetalError + 2345},
		{DX12Error, 0, DX12Error},
	}
	for _, tt := range tests {
		got := BackendCode(tt.base, tt.native)
		if got != tt.want {
			t.Errorf("BackendCode(%s, %d) = %s, want %s", tt.base, tt.native, got, tt.want)
		}
		if !got.IsBackend() {
			t.Errorf("%s.IsBackend() = false", got)
		}
	}
	if InvalidArgument.IsBackend() {
		t.Error("InvalidArgument.IsBackend() = true")
	}
}

func TestErrorCodeCategory(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want Category
	}{
		{Success, CategoryNone},
		{InvalidArgument, CategoryContract},
		{InvalidOperation, CategoryContract},
		{OutOfMemory, CategoryExhaustion},
		{TimeoutError, CategoryTransient},
		{SyncError, CategoryTransient},
		{DeviceLost, CategoryFatal},
		{DeviceNotCompatible, CategoryFatal},
		{MetalError + 1, CategoryBackend},
		{ResourceCreateFailed, CategoryOther},
	}
	for _, tt := range tests {
		if got := tt.code.Category(); got != tt.want {
			t.Errorf("%s.Category() = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	if got := NewError(SyncError, "").Error(); got != "rhi: SyncError" {
		t.Errorf("Error() = %q", got)
	}
	if got := NewError(InvalidArgument, "size is zero").Error(); got != "rhi: InvalidArgument: size is zero" {
		t.Errorf("Error() = %q", got)
	}
}

func TestErrorfWraps(t *testing.T) {
	err := Errorf(ResourceMapFailed, "map %q: %w", "vb", io.ErrUnexpectedEOF)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("errors.Is(err, io.ErrUnexpectedEOF) = false")
	}
	if err.Code != ResourceMapFailed {
		t.Errorf("Code = %s, want ResourceMapFailed", err.Code)
	}
	if got := Errorf(Unknown, "no wrap").Unwrap(); got != nil {
		t.Errorf("Unwrap() = %v, want nil", got)
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("submit: %w", NewError(TimeoutError, "fence 3"))
	if !errors.Is(err, ErrCode(TimeoutError)) {
		t.Error("errors.Is(err, ErrCode(TimeoutError)) = false")
	}
	if errors.Is(err, ErrCode(SyncError)) {
		t.Error("errors.Is(err, ErrCode(SyncError)) = true")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, Success},
		{"coded", NewError(OutOfMemory, "pool"), OutOfMemory},
		{"wrapped", fmt.Errorf("outer: %w", NewError(DeviceLost, "")), DeviceLost},
		{"plain", errors.New("plain"), Unknown},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("%s: CodeOf() = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestRetryableAndFatal(t *testing.T) {
	if !IsRetryable(NewError(TimeoutError, "")) {
		t.Error("IsRetryable(TimeoutError) = false")
	}
	if IsRetryable(NewError(InvalidArgument, "")) {
		t.Error("IsRetryable(InvalidArgument) = true")
	}
	if !IsFatal(fmt.Errorf("x: %w", NewError(DeviceLost, ""))) {
		t.Error("IsFatal(DeviceLost) = false")
	}
	if IsFatal(nil) {
		t.Error("IsFatal(nil) = true")
	}
}

func TestErrDestroyed(t *testing.T) {
	err := ErrDestroyed("buffer")
	if err.Code != InvalidOperation {
		t.Errorf("Code = %s, want InvalidOperation", err.Code)
	}
	if err.Message != "buffer has been destroyed" {
		t.Errorf("Message = %q", err.Message)
	}
}
