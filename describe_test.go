package rhi

import (
	"testing"

	"golang.org/x/text/language"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		code ErrorCode
		tag  language.Tag
		want string
	}{
		{TimeoutError, language.English, "the wait timed out"},
		{TimeoutError, language.SimplifiedChinese, "超时错误"},
		{DeviceLost, language.MustParse("zh-CN"), "设备丢失"},
		{DeviceLost, language.German, "the device was lost"},
		{VulkanError + 3, language.English, "the Vulkan backend reported an error"},
	}
	for _, tt := range tests {
		if got := Describe(tt.code, tt.tag); got != tt.want {
			t.Errorf("Describe(%s, %s) = %q, want %q", tt.code, tt.tag, got, tt.want)
		}
	}
}

func TestDescribeEveryCode(t *testing.T) {
	for code := range descriptions {
		if got := code.Describe(); got == "" || got == code.String() {
			t.Errorf("%s.Describe() = %q, want a description", code, got)
		}
	}
}
