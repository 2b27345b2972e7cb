package rhi

import "testing"

func TestSubresourceRangeResolve(t *testing.T) {
	tests := []struct {
		name string
		r    SubresourceRange
		want SubresourceRange
		ok   bool
	}{
		{"all", AllSubresources, SubresourceRange{MipLevelCount: 4, ArrayLayerCount: 6}, true},
		{"tail mips", SubresourceRange{BaseMipLevel: 2}, SubresourceRange{BaseMipLevel: 2, MipLevelCount: 2, ArrayLayerCount: 6}, true},
		{"one layer", SubresourceRange{BaseArrayLayer: 5, ArrayLayerCount: 1},
			SubresourceRange{MipLevelCount: 4, BaseArrayLayer: 5, ArrayLayerCount: 1}, true},
		{"base past end", SubresourceRange{BaseMipLevel: 4}, SubresourceRange{}, false},
		{"count past end", SubresourceRange{BaseArrayLayer: 4, ArrayLayerCount: 3}, SubresourceRange{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.r.Resolve(4, 6)
			if !tt.ok {
				if CodeOf(err) != InvalidArgument {
					t.Fatalf("Resolve() error = %v, want InvalidArgument", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTextureDescNormalized(t *testing.T) {
	d := TextureDesc{Width: 8, Height: 8}.Normalized()
	if d.Depth != 1 || d.MipLevels != 1 || d.ArraySize != 1 || d.SampleCount != 1 {
		t.Errorf("Normalized() = %+v", d)
	}
	d = TextureDesc{Width: 8, Height: 8, MipLevels: 3, ArraySize: 6}.Normalized()
	if d.MipLevels != 3 || d.ArraySize != 6 {
		t.Errorf("Normalized() changed explicit counts: %+v", d)
	}
}

func TestTextureAllowedStates(t *testing.T) {
	d := TextureDesc{Usage: TextureUsageTransferSrc}
	if s := d.AllowedStates(); s != StateCopySource|StateResolveSource {
		t.Errorf("AllowedStates() = %s", s)
	}
	if s := (TextureDesc{}).AllowedStates(); s != StateCommon {
		t.Errorf("AllowedStates() without usage = %s, want Common", s)
	}
}

func TestDescriptorSetLayoutDesc(t *testing.T) {
	d := DescriptorSetLayoutDesc{Ranges: []DescriptorRange{
		{Type: DescriptorTypeUniformBuffer, Binding: 0},
		{Type: DescriptorTypeSampledTexture, Binding: 2, Count: 4},
		{Type: DescriptorTypeUniformBuffer, Binding: 8, Count: 2},
	}}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	counts := d.DescriptorCounts()
	if counts[DescriptorTypeUniformBuffer] != 3 || counts[DescriptorTypeSampledTexture] != 4 {
		t.Errorf("DescriptorCounts() = %v", counts)
	}
	if r, ok := d.Range(5); !ok || r.Type != DescriptorTypeSampledTexture {
		t.Errorf("Range(5) = %+v, %v", r, ok)
	}
	if _, ok := d.Range(6); ok {
		t.Error("Range(6) found a range in a gap")
	}
}
