// Package rhi provides a render hardware interface for Go.
//
// # Overview
//
// rhi is one object model for issuing GPU work (resource creation, command
// recording, submission and presentation) without depending on which
// graphics driver executes it. Concrete backends register themselves with
// the backend package; the conforming implementation in backend/wgpu runs
// on every gogpu/wgpu HAL driver (Vulkan, Metal, DX12, GLES and the
// software rasterizer).
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/rhi"
//		"github.com/gogpu/rhi/backend"
//		_ "github.com/gogpu/rhi/backend/wgpu"
//	)
//
//	b, err := backend.InitDefault()
//	adapters, err := b.EnumerateAdapters()
//	dev, err := b.CreateDevice(adapters[0], rhi.DefaultDeviceDesc())
//	defer dev.Destroy()
//
//	q, _ := dev.GetQueue(rhi.QueueGraphics, 0)
//	pool, _ := dev.CreateCommandPool(rhi.CommandPoolDesc{Type: rhi.CommandBufferGraphics})
//	cmds, _ := pool.AllocateCommandBuffers(rhi.CommandBufferAllocateInfo{Count: 1})
//
//	cmd := cmds[0]
//	cmd.Begin()
//	cmd.TransitionState(buf, rhi.StateCopyDest)
//	cmd.CopyBuffer(staging, buf, rhi.BufferCopyRegion{Size: 256})
//	cmd.End()
//
//	fence, _ := dev.CreateFence(rhi.FenceDesc{})
//	v, _ := q.Submit(rhi.SubmitInfo{CommandBuffers: cmds, Fence: fence})
//	fence.Wait(v, time.Second)
//
// # Errors
//
// Every fallible operation returns an *Error carrying an [ErrorCode] from a
// closed set. Only the code is authoritative; use [CodeOf] or
// errors.Is(err, ErrCode(code)) to branch on it. [Result] and [Then] offer
// a value-or-error container for chaining steps that stops at the first
// failure and propagates it unchanged.
//
// # Resource States
//
// Buffers and textures carry a tracked [ResourceState] per subresource.
// Transitions are recorded into command buffers and take effect when the
// submission that carries them retires. Recording validates that every use
// matches the state the buffer will see, and submission re-checks the
// assumptions against work queued earlier.
//
// # Synchronization
//
// Within one queue, batches retire in submission order. Across queues only
// semaphores order work. Every blocking call takes a timeout and fails with
// TimeoutError when it elapses; the error is retryable.
//
// # Logging
//
// The package is silent by default. Call [SetLogger] to route diagnostics
// to a slog.Logger; backends registered through [PropagateLogger] receive
// the same logger.
package rhi
