// Package wgpu implements the rhi object model on the gogpu/wgpu HAL.
//
// The backend registers itself as "wgpu" when imported. It drives whichever
// HAL backends the binary links in (Vulkan, Metal, DX12, GLES or the pure Go
// software rasterizer), so a program picks its drivers with blank imports:
//
//	import (
//	    _ "github.com/gogpu/rhi/backend/wgpu"
//	    _ "github.com/gogpu/wgpu/hal/software"
//	)
//
// # Architecture Overview
//
// Recording never touches the HAL. A CommandBuffer validates each command
// against the resource states it assumes, stores a closure for it and
// records the assumed states in a per-buffer tracker.
//
//	Record (validate, track) -> Submit (verify, project) -> Worker (encode, submit, retire)
//
// Queue.Submit checks every buffer of the batch against the projected
// states left by earlier submissions, stages semaphore and fence tickets and
// hands the batch to the queue's worker goroutine. The worker waits for the
// batch's semaphores, replays the closures into a pooled HAL encoder,
// submits, polls for completion and then commits the states, signals
// semaphores and fences and runs deferred releases.
//
// Every rhi queue shares the single HAL queue of the device. Submissions
// are serialized through it, while ordering between rhi queues follows only
// from semaphores.
//
// # Resource lifetime
//
// Destroy marks an object dead at once. Its HAL object is released when
// every queue has retired the batches submitted before the destroy, so
// in-flight work never sees freed memory.
//
// # Emulated features
//
// Push constants are stored in a uniform buffer bound as an extra bind group
// after the pipeline's descriptor set layouts; shaders declare them as
// var<uniform> at that group, binding 0. Bundles are replayed inside the
// executing render pass. Swap chains render into their own textures and copy
// the presented one to the surface on the queue worker.
package wgpu
