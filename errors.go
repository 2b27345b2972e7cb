package rhi

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the class of a failed operation.
//
// The numeric layout is stable: generic codes occupy 0-999, device lifecycle
// 1000-1999, presentation 2000-2999, resources 3000-3999 and synchronization
// 4000-4999. Ranges starting at 10000, 20000 and 30000 are reserved for
// backend passthrough codes (see [BackendCode]).
type ErrorCode int32

// Generic codes.
const (
	Success          ErrorCode = 0
	Unknown          ErrorCode = 1
	InvalidArgument  ErrorCode = 2
	InvalidOperation ErrorCode = 3
	NotImplemented   ErrorCode = 4
	OutOfMemory      ErrorCode = 5
)

// Device lifecycle codes.
const (
	DeviceLost          ErrorCode = 1000
	DeviceNotCompatible ErrorCode = 1001
	AdapterNotFound     ErrorCode = 1002
)

// Presentation codes.
const (
	SwapChainCreateFailed ErrorCode = 2000
	InvalidSurfaceFormat  ErrorCode = 2001
	InvalidPresentMode    ErrorCode = 2002
	InvalidBufferCount    ErrorCode = 2003
	ResizeBuffersFailed   ErrorCode = 2004
	PresentFailed         ErrorCode = 2005
)

// Resource codes.
const (
	ResourceCreateFailed ErrorCode = 3000
	ResourceMapFailed    ErrorCode = 3001
	ResourceUnmapFailed  ErrorCode = 3002
)

// Synchronization codes.
const (
	SyncError    ErrorCode = 4000
	TimeoutError ErrorCode = 4001
)

// Backend passthrough bases.
const (
	DX12Error   ErrorCode = 10000
	VulkanError ErrorCode = 20000
	MetalError  ErrorCode = 30000

	backendRangeSize = 10000
)

var codeNames = map[ErrorCode]string{
	Success:               "Success",
	Unknown:               "Unknown",
	InvalidArgument:       "InvalidArgument",
	InvalidOperation:      "InvalidOperation",
	NotImplemented:        "NotImplemented",
	OutOfMemory:           "OutOfMemory",
	DeviceLost:            "DeviceLost",
	DeviceNotCompatible:   "DeviceNotCompatible",
	AdapterNotFound:       "AdapterNotFound",
	SwapChainCreateFailed: "SwapChainCreateFailed",
	InvalidSurfaceFormat:  "InvalidSurfaceFormat",
	InvalidPresentMode:    "InvalidPresentMode",
	InvalidBufferCount:    "InvalidBufferCount",
	ResizeBuffersFailed:   "ResizeBuffersFailed",
	PresentFailed:         "PresentFailed",
	ResourceCreateFailed:  "ResourceCreateFailed",
	ResourceMapFailed:     "ResourceMapFailed",
	ResourceUnmapFailed:   "ResourceUnmapFailed",
	SyncError:             "SyncError",
	TimeoutError:          "TimeoutError",
	DX12Error:             "DX12Error",
	VulkanError:           "VulkanError",
	MetalError:            "MetalError",
}

// String returns the code name, e.g. "InvalidOperation".
// Backend passthrough codes render as "VulkanError+<native>".
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	if base, ok := c.backendBase(); ok {
		return fmt.Sprintf("%s+%d", codeNames[base], c-base)
	}
	return fmt.Sprintf("ErrorCode(%d)", int32(c))
}

// backendBase returns the passthrough range c belongs to, if any.
func (c ErrorCode) backendBase() (ErrorCode, bool) {
	for _, base := range []ErrorCode{DX12Error, VulkanError, MetalError} {
		if c >= base && c < base+backendRangeSize {
			return base, true
		}
	}
	return 0, false
}

// BackendCode builds a passthrough code from a backend base
// ([DX12Error], [VulkanError] or [MetalError]) and a native result value.
// Native values outside the range are folded into it.
func BackendCode(base ErrorCode, native int32) ErrorCode {
	if native < 0 {
		native = -native
	}
	return base + ErrorCode(native%backendRangeSize)
}

// IsBackend reports whether c lies in a backend passthrough range.
func (c ErrorCode) IsBackend() bool {
	_, ok := c.backendBase()
	return ok
}

// Category groups error codes by how a caller should react.
type Category int

const (
	// CategoryNone is the category of Success.
	CategoryNone Category = iota
	// CategoryContract marks caller bugs. Never retried.
	CategoryContract
	// CategoryExhaustion marks resource exhaustion. Recoverable by freeing.
	CategoryExhaustion
	// CategoryTransient marks waits that may be retried with a fresh timeout.
	CategoryTransient
	// CategoryFatal marks device loss. Every object of the device must be discarded.
	CategoryFatal
	// CategoryBackend marks passthrough codes kept for diagnostics.
	CategoryBackend
	// CategoryOther covers every remaining code.
	CategoryOther
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "None"
	case CategoryContract:
		return "Contract"
	case CategoryExhaustion:
		return "Exhaustion"
	case CategoryTransient:
		return "Transient"
	case CategoryFatal:
		return "Fatal"
	case CategoryBackend:
		return "Backend"
	default:
		return "Other"
	}
}

// Category classifies the code.
func (c ErrorCode) Category() Category {
	switch c {
	case Success:
		return CategoryNone
	case InvalidArgument, InvalidOperation:
		return CategoryContract
	case OutOfMemory:
		return CategoryExhaustion
	case TimeoutError, SyncError:
		return CategoryTransient
	case DeviceLost, DeviceNotCompatible:
		return CategoryFatal
	}
	if c.IsBackend() {
		return CategoryBackend
	}
	return CategoryOther
}

// Error is the failure half of every fallible operation.
//
// Only Code is authoritative; Message is diagnostic text and must not be
// parsed for control flow.
type Error struct {
	Code    ErrorCode
	Message string

	cause error
}

// NewError creates an error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an error with a formatted message. A %w verb keeps the
// wrapped error reachable through [errors.Unwrap] without changing the code.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Code: code, Message: wrapped.Error(), cause: errors.Unwrap(wrapped)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return "rhi: " + e.Code.String()
	}
	return "rhi: " + e.Code.String() + ": " + e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error carrying the same code, so that
// errors.Is(err, rhi.ErrCode(rhi.TimeoutError)) works across messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// ErrCode returns a message-less error usable as an [errors.Is] target.
func ErrCode(code ErrorCode) error { return &Error{Code: code} }

// CodeOf extracts the code from err. A nil error yields Success and an error
// that carries no code yields Unknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// IsRetryable reports whether retrying the same wait with a fresh timeout
// is meaningful.
func IsRetryable(err error) bool {
	return CodeOf(err).Category() == CategoryTransient
}

// IsFatal reports whether err means the owning device must be discarded.
func IsFatal(err error) bool {
	return CodeOf(err).Category() == CategoryFatal
}

// ErrDestroyed returns the error reported when an object of the given kind
// is used after it, or its owning device, was destroyed.
func ErrDestroyed(kind string) *Error {
	return NewError(InvalidOperation, kind+" has been destroyed")
}
