package backend

import (
	"errors"
	"slices"
	"testing"

	"github.com/gogpu/rhi"
)

// fakeBackend is a minimal Backend for registry tests.
type fakeBackend struct {
	name    string
	initErr error
	inited  bool
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Init() error {
	if b.initErr != nil {
		return b.initErr
	}
	b.inited = true
	return nil
}

func (b *fakeBackend) Close() { b.inited = false }

func (b *fakeBackend) EnumerateAdapters() ([]rhi.Adapter, error) {
	if !b.inited {
		return nil, ErrNotInitialized
	}
	return nil, nil
}

func (b *fakeBackend) CreateDevice(rhi.Adapter, rhi.DeviceDesc) (rhi.Device, error) {
	return nil, ErrNotInitialized
}

// withRegistry swaps in a fresh registry for the duration of the test.
func withRegistry(t *testing.T, names ...string) {
	t.Helper()
	if got := Available(); len(got) != 0 {
		t.Fatalf("registry not empty at test start: %v", got)
	}
	for _, name := range names {
		Register(name, func() Backend { return &fakeBackend{name: name} })
	}
	t.Cleanup(func() {
		for _, name := range names {
			Unregister(name)
		}
	})
}

func TestRegisterAndGet(t *testing.T) {
	withRegistry(t, "custom")

	if !IsRegistered("custom") {
		t.Fatal("IsRegistered(custom) = false")
	}
	b := Get("custom")
	if b == nil || b.Name() != "custom" {
		t.Fatalf("Get(custom) = %v", b)
	}
	if Get("missing") != nil {
		t.Error("Get(missing) != nil")
	}
}

func TestAvailablePriorityOrder(t *testing.T) {
	withRegistry(t, "zzz", BackendSoftware, BackendVulkan, "aaa")

	want := []string{BackendVulkan, BackendSoftware, "aaa", "zzz"}
	if got := Available(); !slices.Equal(got, want) {
		t.Errorf("Available() = %v, want %v", got, want)
	}
}

func TestDefaultPrefersPriority(t *testing.T) {
	withRegistry(t, BackendSoftware, BackendGLES)
	t.Setenv(EnvBackend, "")

	if got := Default(); got == nil || got.Name() != BackendGLES {
		t.Errorf("Default() = %v, want %s", got, BackendGLES)
	}
}

func TestDefaultSkipsUnavailable(t *testing.T) {
	withRegistry(t, BackendSoftware)
	t.Setenv(EnvBackend, "")
	Register(BackendVulkan, func() Backend { return nil })
	t.Cleanup(func() { Unregister(BackendVulkan) })

	if got := Default(); got == nil || got.Name() != BackendSoftware {
		t.Errorf("Default() = %v, want %s", got, BackendSoftware)
	}
}

func TestDefaultEnvOverride(t *testing.T) {
	withRegistry(t, BackendSoftware, BackendVulkan)
	t.Setenv(EnvBackend, BackendSoftware)

	if got := Default(); got == nil || got.Name() != BackendSoftware {
		t.Errorf("Default() = %v, want %s", got, BackendSoftware)
	}

	t.Setenv(EnvBackend, "missing")
	if got := Default(); got != nil {
		t.Errorf("Default() = %v, want nil for unknown override", got)
	}
}

func TestInitDefault(t *testing.T) {
	t.Setenv(EnvBackend, "")
	if _, err := InitDefault(); !errors.Is(err, ErrBackendNotAvailable) {
		t.Fatalf("InitDefault() on empty registry error = %v, want %v", err, ErrBackendNotAvailable)
	}

	withRegistry(t, BackendSoftware)
	b, err := InitDefault()
	if err != nil {
		t.Fatalf("InitDefault() error = %v", err)
	}
	defer b.Close()
	if _, err := b.EnumerateAdapters(); err != nil {
		t.Errorf("EnumerateAdapters() after Init error = %v", err)
	}
}

func TestInitPropagatesError(t *testing.T) {
	boom := errors.New("driver failed")
	Register("broken", func() Backend { return &fakeBackend{name: "broken", initErr: boom} })
	t.Cleanup(func() { Unregister("broken") })

	if _, err := Init("broken"); !errors.Is(err, boom) {
		t.Errorf("Init(broken) error = %v, want %v", err, boom)
	}
	if _, err := Init("missing"); !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("Init(missing) error = %v, want %v", err, ErrBackendNotAvailable)
	}
}

func TestMustDefaultPanics(t *testing.T) {
	t.Setenv(EnvBackend, "")
	defer func() {
		if recover() == nil {
			t.Error("MustDefault() did not panic on empty registry")
		}
	}()
	MustDefault()
}

func TestAsError(t *testing.T) {
	tests := []struct {
		err  error
		want rhi.ErrorCode
	}{
		{ErrBackendNotAvailable, rhi.AdapterNotFound},
		{ErrNotInitialized, rhi.InvalidOperation},
		{errors.New("other"), rhi.Unknown},
	}
	for _, tt := range tests {
		if got := rhi.CodeOf(AsError(tt.err)); got != tt.want {
			t.Errorf("CodeOf(AsError(%v)) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if !errors.Is(AsError(ErrBackendNotAvailable), ErrBackendNotAvailable) {
		t.Error("AsError lost the sentinel")
	}
}
