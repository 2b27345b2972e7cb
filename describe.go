package rhi

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Languages with a description catalog. The first entry is the fallback.
var describeLanguages = []language.Tag{language.English, language.SimplifiedChinese}

var (
	describeCatalog = catalog.NewBuilder(catalog.Fallback(language.English))
	describeMatcher = language.NewMatcher(describeLanguages)
)

var descriptions = map[ErrorCode][2]string{
	Success:               {"the operation completed successfully", "操作成功"},
	Unknown:               {"an unknown error occurred", "未知错误"},
	InvalidArgument:       {"an argument was invalid", "无效参数"},
	InvalidOperation:      {"the operation is not valid in the current state", "无效操作"},
	NotImplemented:        {"the operation is not implemented", "功能未实现"},
	OutOfMemory:           {"out of memory or pool capacity", "内存不足"},
	DeviceLost:            {"the device was lost", "设备丢失"},
	DeviceNotCompatible:   {"the device is not compatible", "设备不兼容"},
	AdapterNotFound:       {"no suitable adapter was found", "未找到适配器"},
	SwapChainCreateFailed: {"the swap chain could not be created", "交换链创建失败"},
	InvalidSurfaceFormat:  {"the surface format is not supported", "无效的表面格式"},
	InvalidPresentMode:    {"the present mode is not supported", "无效的呈现模式"},
	InvalidBufferCount:    {"the back buffer count is out of range", "无效的缓冲区数量"},
	ResizeBuffersFailed:   {"the swap chain buffers could not be resized", "调整缓冲区大小失败"},
	PresentFailed:         {"presentation failed", "呈现失败"},
	ResourceCreateFailed:  {"the resource could not be created", "资源创建失败"},
	ResourceMapFailed:     {"the resource could not be mapped", "资源映射失败"},
	ResourceUnmapFailed:   {"the resource could not be unmapped", "资源取消映射失败"},
	SyncError:             {"a synchronization error occurred", "同步错误"},
	TimeoutError:          {"the wait timed out", "超时错误"},
	DX12Error:             {"the DirectX 12 backend reported an error", "DirectX 12 错误"},
	VulkanError:           {"the Vulkan backend reported an error", "Vulkan 错误"},
	MetalError:            {"the Metal backend reported an error", "Metal 错误"},
}

func init() {
	for code, text := range descriptions {
		key := code.String()
		for i, tag := range describeLanguages {
			if err := describeCatalog.SetString(tag, key, text[i]); err != nil {
				panic(err)
			}
		}
	}
}

// Describe returns a human-readable description of code in the language
// closest to tag. English is used when no catalog matches. Backend
// passthrough codes are described by their range.
func Describe(code ErrorCode, tag language.Tag) string {
	if base, ok := code.backendBase(); ok {
		code = base
	}
	_, idx, _ := describeMatcher.Match(tag)
	p := message.NewPrinter(describeLanguages[idx], message.Catalog(describeCatalog))
	return p.Sprintf(code.String())
}

// Describe returns the English description of the error code.
func (c ErrorCode) Describe() string {
	return Describe(c, language.English)
}
