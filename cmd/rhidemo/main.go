// Command rhidemo renders a triangle offscreen through rhi and writes the
// result as a BMP image.
package main

import (
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/allbackends"
	"golang.org/x/image/bmp"
	"golang.org/x/text/language"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend"
	_ "github.com/gogpu/rhi/backend/wgpu"
)

const triangleWGSL = `
struct Push {
    color: vec4<f32>,
}
@group(0) @binding(0) var<uniform> push: Push;

@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> @builtin(position) vec4<f32> {
    var pos = array<vec2<f32>, 3>(
        vec2<f32>(0.0, 0.7),
        vec2<f32>(-0.7, -0.7),
        vec2<f32>(0.7, -0.7),
    );
    return vec4<f32>(pos[idx], 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return push.color;
}
`

// rowAlignment is the row pitch granularity of texture to buffer copies.
const rowAlignment = 256

func main() {
	var (
		name    = flag.String("backend", "", "backend name (default: best available, or $RHI_BACKEND)")
		width   = flag.Int("width", 640, "image width")
		height  = flag.Int("height", 480, "image height")
		output  = flag.String("output", "demo.bmp", "output file")
		lang    = flag.String("lang", "en", "language of error descriptions")
		verbose = flag.Bool("v", false, "log rhi activity to stderr")
	)
	flag.Parse()

	if *verbose {
		rhi.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	tag, err := language.Parse(*lang)
	if err != nil {
		tag = language.English
	}

	img, info, err := render(*name, uint32(*width), uint32(*height))
	if err != nil {
		log.Fatalf("render failed: %v (%s)", err, rhi.Describe(rhi.CodeOf(err), tag))
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("Failed to create output: %v", err)
	}
	if err := bmp.Encode(f, img); err != nil {
		_ = f.Close()
		log.Fatalf("Failed to encode: %v", err)
	}
	if err := f.Close(); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}
	log.Printf("Demo saved to %s (%dx%d) on %s\n", *output, *width, *height, info)
}

func openBackend(name string) (backend.Backend, error) {
	if name == "" {
		b, err := backend.InitDefault()
		return b, backend.AsError(err)
	}
	b, err := backend.Init(name)
	return b, backend.AsError(err)
}

func render(name string, width, height uint32) (*image.RGBA, rhi.AdapterInfo, error) {
	if width == 0 || height == 0 {
		return nil, rhi.AdapterInfo{}, rhi.NewError(rhi.InvalidArgument, "image size must be positive")
	}
	b, err := openBackend(name)
	if err != nil {
		return nil, rhi.AdapterInfo{}, err
	}
	defer b.Close()

	adapters, err := b.EnumerateAdapters()
	if err != nil {
		return nil, rhi.AdapterInfo{}, err
	}
	if len(adapters) == 0 {
		return nil, rhi.AdapterInfo{}, rhi.NewError(rhi.AdapterNotFound, "backend "+b.Name()+" has no adapters")
	}
	info := adapters[0].Info()
	d, err := b.CreateDevice(adapters[0], rhi.DefaultDeviceDesc())
	if err != nil {
		return nil, info, err
	}
	defer d.Destroy()

	img, err := drawTriangle(d, width, height)
	return img, info, err
}

func drawTriangle(d rhi.Device, width, height uint32) (*image.RGBA, error) {
	q, err := d.GetQueue(rhi.QueueGraphics, 0)
	if err != nil {
		return nil, err
	}

	target, err := d.CreateTexture(rhi.TextureDesc{
		Label:  "target",
		Type:   rhi.TextureType2D,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Width:  width,
		Height: height,
		Usage:  rhi.TextureUsageRenderTarget | rhi.TextureUsageTransferSrc,
	})
	if err != nil {
		return nil, err
	}
	view, err := target.CreateView(rhi.TextureViewDesc{Label: "target"})
	if err != nil {
		return nil, err
	}

	pitch := (width*4 + rowAlignment - 1) / rowAlignment * rowAlignment
	readback, err := d.CreateBuffer(rhi.BufferDesc{
		Label:      "readback",
		Size:       uint64(pitch) * uint64(height),
		Usage:      rhi.BufferUsageTransferDst,
		MemoryType: rhi.MemoryTypeReadback,
	})
	if err != nil {
		return nil, err
	}

	pipeline, err := createPipeline(d)
	if err != nil {
		return nil, err
	}

	pool, err := d.CreateCommandPool(rhi.CommandPoolDesc{Label: "demo", Type: rhi.CommandBufferGraphics})
	if err != nil {
		return nil, err
	}
	cmds, err := pool.AllocateCommandBuffers(rhi.CommandBufferAllocateInfo{
		Level: rhi.CommandBufferPrimary,
		Count: 1,
		Usage: rhi.CommandBufferOneTimeSubmit,
	})
	if err != nil {
		return nil, err
	}
	cmd := cmds[0]

	color := make([]byte, 16)
	for i, c := range []float32{1, 0.55, 0.1, 1} {
		binary.LittleEndian.PutUint32(color[i*4:], math.Float32bits(c))
	}

	err = errors.Join(
		cmd.Begin(),
		cmd.TransitionLayout(target, rhi.AllSubresources, rhi.StateRenderTarget),
		cmd.BeginRenderPass(rhi.RenderPassDesc{
			Label: "triangle",
			ColorAttachments: []rhi.RenderPassColorAttachment{{
				View:       view,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: gputypes.Color{R: 0.1, G: 0.15, B: 0.3, A: 1},
			}},
		}),
		cmd.SetPipelineState(pipeline),
		cmd.SetViewport(rhi.Viewport{Width: float32(width), Height: float32(height), MaxDepth: 1}),
		cmd.SetScissor(rhi.Scissor{Width: width, Height: height}),
		cmd.PushConstants(0, color),
		cmd.Draw(3, 1, 0, 0),
		cmd.EndRenderPass(),
		cmd.TransitionLayout(target, rhi.AllSubresources, rhi.StateCopySource),
		cmd.CopyTextureToBuffer(target, readback, rhi.BufferTextureCopyRegion{
			BytesPerRow: pitch,
			Size:        rhi.Extent3D{Width: width, Height: height, Depth: 1},
		}),
		cmd.End(),
	)
	if err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}

	fence, err := d.CreateFence(rhi.FenceDesc{Label: "frame"})
	if err != nil {
		return nil, err
	}
	v, err := q.Submit(rhi.SubmitInfo{CommandBuffers: []rhi.CommandBuffer{cmd}, Fence: fence})
	if err != nil {
		return nil, err
	}
	if err := fence.Wait(v, 10*time.Second); err != nil {
		return nil, err
	}

	data, err := readback.Map()
	if err != nil {
		return nil, err
	}
	defer func() { _ = readback.Unmap() }()

	img := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))
	for y := range int(height) {
		row := data[y*int(pitch):]
		copy(img.Pix[y*img.Stride:(y+1)*img.Stride], row[:width*4])
	}
	return img, nil
}

func createPipeline(d rhi.Device) (rhi.PipelineState, error) {
	vs, err := d.CreateShader(rhi.ShaderDesc{
		Label:    "triangle vs",
		Stage:    gputypes.ShaderStageVertex,
		Language: rhi.ShaderLanguageWGSL,
		Source:   triangleWGSL,
	})
	if err != nil {
		return nil, err
	}
	defer vs.Destroy()
	fs, err := d.CreateShader(rhi.ShaderDesc{
		Label:    "triangle fs",
		Stage:    gputypes.ShaderStageFragment,
		Language: rhi.ShaderLanguageWGSL,
		Source:   triangleWGSL,
	})
	if err != nil {
		return nil, err
	}
	defer fs.Destroy()

	return d.CreatePipelineState(rhi.PipelineStateDesc{
		Label:            "triangle",
		Kind:             rhi.PipelineGraphics,
		Shaders:          []rhi.Shader{vs, fs},
		PushConstantSize: 16,
		ColorFormats:     []gputypes.TextureFormat{gputypes.TextureFormatRGBA8Unorm},
		Topology:         gputypes.PrimitiveTopologyTriangleList,
	})
}
