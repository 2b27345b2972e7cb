package track

import (
	"testing"

	"github.com/gogpu/rhi"
)

type key int

func common(mips, layers uint32) func() *States {
	return func() *States { return NewStates(mips, layers, rhi.StateCommon) }
}

func TestTransitionSameStateIsNoop(t *testing.T) {
	tr := New[key]()
	full := rhi.SubresourceRange{MipLevelCount: 1, ArrayLayerCount: 1}

	if got := tr.Transition(1, common(1, 1), full, rhi.StateCopyDest); len(got) != 1 {
		t.Fatalf("first Transition() = %v, want one barrier", got)
	}
	if got := tr.Transition(1, common(1, 1), full, rhi.StateCopyDest); len(got) != 0 {
		t.Errorf("repeated Transition() = %v, want none", got)
	}
}

func TestTransitionBarrierStates(t *testing.T) {
	tr := New[key]()
	full := rhi.SubresourceRange{MipLevelCount: 1, ArrayLayerCount: 1}
	tr.Transition(1, common(1, 1), full, rhi.StateCopyDest)

	got := tr.Transition(1, common(1, 1), full, rhi.StateShaderResource)
	if len(got) != 1 {
		t.Fatalf("Transition() = %v, want one barrier", got)
	}
	if got[0].Before != rhi.StateCopyDest || got[0].After != rhi.StateShaderResource {
		t.Errorf("barrier = %v, want CopyDest -> ShaderResource", got[0])
	}
}

func TestPartialRangeLeavesHeterogeneous(t *testing.T) {
	tr := New[key]()
	base := common(3, 2)
	mip0 := rhi.SubresourceRange{BaseMipLevel: 0, MipLevelCount: 1, ArrayLayerCount: 2}
	all := rhi.SubresourceRange{MipLevelCount: 3, ArrayLayerCount: 2}

	if got := tr.Transition(1, base, mip0, rhi.StateRenderTarget); len(got) != 1 {
		t.Fatalf("Transition(mip 0) = %v, want one merged barrier", got)
	}
	e, _ := tr.Lookup(1)
	if _, uniform := e.Current().Range(all); uniform {
		t.Error("Range(all) uniform after partial transition")
	}
	if s, uniform := e.Current().Range(mip0); !uniform || s != rhi.StateRenderTarget {
		t.Errorf("Range(mip0) = %v, %v, want RenderTarget, true", s, uniform)
	}

	// Unifying produces one barrier per distinct before-state run.
	got := tr.Transition(1, base, all, rhi.StateShaderResource)
	if len(got) != 3 {
		t.Fatalf("Transition(all) = %v, want 3 barriers", got)
	}
	if got[0].Before != rhi.StateRenderTarget || got[1].Before != rhi.StateCommon {
		t.Errorf("barriers = %v", got)
	}
	if s, uniform := e.Current().Range(all); !uniform || s != rhi.StateShaderResource {
		t.Errorf("Range(all) = %v, %v, want ShaderResource, true", s, uniform)
	}
}

func TestRequire(t *testing.T) {
	tr := New[key]()
	full := rhi.SubresourceRange{MipLevelCount: 1, ArrayLayerCount: 1}
	upload := func() *States { return NewStates(1, 1, rhi.StateGenericRead) }

	if _, ok := tr.Require(1, upload, full, rhi.StateCopySource); !ok {
		t.Error("Require(CopySource) on GenericRead failed")
	}
	m, ok := tr.Require(2, common(1, 1), full, rhi.StateCopyDest)
	if ok {
		t.Fatal("Require(CopyDest) on Common succeeded")
	}
	if m.Actual != rhi.StateCommon || m.Assumed != rhi.StateCopyDest {
		t.Errorf("mismatch = %+v", m)
	}
}

func TestVerifyAndApply(t *testing.T) {
	tr := New[key]()
	base := common(1, 2)
	layer1 := rhi.SubresourceRange{MipLevelCount: 1, BaseArrayLayer: 1, ArrayLayerCount: 1}
	tr.Transition(1, base, layer1, rhi.StateCopyDest)
	e, _ := tr.Lookup(1)

	projected := NewStates(1, 2, rhi.StateCommon)
	// Layer 0 was never touched, so a change there is not a mismatch.
	projected.Set(rhi.SubresourceRange{MipLevelCount: 1, ArrayLayerCount: 1}, rhi.StateShaderResource)
	if m, ok := e.Verify(projected); !ok {
		t.Fatalf("Verify() mismatch %+v", m)
	}

	e.Apply(projected)
	if got := projected.Get(0, 1); got != rhi.StateCopyDest {
		t.Errorf("projected layer 1 = %v, want CopyDest", got)
	}
	if got := projected.Get(0, 0); got != rhi.StateShaderResource {
		t.Errorf("projected layer 0 = %v, want ShaderResource", got)
	}

	projected.Set(layer1, rhi.StateRenderTarget)
	m, ok := e.Verify(projected)
	if ok {
		t.Fatal("Verify() succeeded after layer 1 changed")
	}
	if m.Layer != 1 || m.Assumed != rhi.StateCommon || m.Actual != rhi.StateRenderTarget {
		t.Errorf("mismatch = %+v", m)
	}
}

func TestTrackerOrderAndReset(t *testing.T) {
	tr := New[key]()
	full := rhi.SubresourceRange{MipLevelCount: 1, ArrayLayerCount: 1}
	for _, k := range []key{3, 1, 2, 1} {
		tr.Transition(k, common(1, 1), full, rhi.StateCopySource)
	}
	keys := tr.Keys()
	if len(keys) != 3 || keys[0] != 3 || keys[1] != 1 || keys[2] != 2 {
		t.Errorf("Keys() = %v, want [3 1 2]", keys)
	}
	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("Len() = %d after Reset", tr.Len())
	}
}
