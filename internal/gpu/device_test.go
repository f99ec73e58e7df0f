//go:build !nogpu

package gpu

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// createNoopDevice creates a noop device and queue for testing.
// Returns the device, queue, and a cleanup function.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

// newTestDevice builds an initialized sort Device on the noop backend.
func newTestDevice(t *testing.T, config DispatcherConfig) (*Device, func()) {
	t.Helper()
	device, queue, cleanup := createNoopDevice(t)

	dispatcher, err := NewSortDispatcher(device, config)
	if err != nil {
		cleanup()
		t.Fatalf("NewSortDispatcher: %v", err)
	}
	if err := dispatcher.Init(); err != nil {
		cleanup()
		t.Fatalf("Init: %v", err)
	}
	offsets := NewOffsetStorage(device)
	if err := offsets.Init(); err != nil {
		dispatcher.Close()
		cleanup()
		t.Fatalf("offsets Init: %v", err)
	}
	dev := NewDevice("noop", device, queue, dispatcher, offsets, 0)
	return dev, func() {
		offsets.Shutdown()
		dispatcher.Close()
		cleanup()
	}
}

func newTestBuffers(t *testing.T, device hal.Device, n int) gpusort.Buffers {
	t.Helper()
	var bufs gpusort.Buffers
	for i := range 2 {
		k, err := NewBuffer(device, "keys", n)
		if err != nil {
			t.Fatal(err)
		}
		v, err := NewBuffer(device, "values", n)
		if err != nil {
			t.Fatal(err)
		}
		bufs.Keys[i], bufs.Values[i] = k, v
	}
	t.Cleanup(func() {
		for i := range 2 {
			bufs.Keys[i].(*Buffer).Destroy(device)
			bufs.Values[i].(*Buffer).Destroy(device)
		}
	})
	return bufs
}

// =============================================================================
// Dispatcher Tests
// =============================================================================

func TestSortDispatcherInit(t *testing.T) {
	device, _, cleanup := createNoopDevice(t)
	defer cleanup()

	d, err := NewSortDispatcher(device, DispatcherConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Initialized() {
		t.Error("dispatcher should not be initialized before Init")
	}
	if err := d.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := d.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	for i := gpusort.Stage(0); i < gpusort.StageCount; i++ {
		if d.pipelines[i] == nil {
			t.Errorf("no pipeline for %s", i)
		}
	}

	d.Close()
	if d.Initialized() {
		t.Error("dispatcher should not be initialized after Close")
	}
	if _, _, err := d.stagePipeline(gpusort.StageSpine); !errors.Is(err, gpusort.ErrNotInitialized) {
		t.Errorf("stagePipeline after Close = %v", err)
	}
}

func TestSortDispatcherRejectsMismatchedVariants(t *testing.T) {
	device, _, cleanup := createNoopDevice(t)
	defer cleanup()

	_, err := NewSortDispatcher(device, DispatcherConfig{
		Downsweep: gpusort.KernelVariant{RequiresBufferWorkaround: true},
	})
	if !errors.Is(err, gpusort.ErrVariantMismatch) {
		t.Errorf("err = %v, want ErrVariantMismatch", err)
	}
}

func TestBindGroupLayoutParamsBinding(t *testing.T) {
	workaround := gpusort.KernelVariant{RequiresBufferWorkaround: true}
	for _, stage := range []gpusort.Stage{gpusort.StageUpsweep, gpusort.StageDownsweep} {
		uniform := stageBindGroupLayoutEntries(stage, gpusort.KernelVariant{})
		if uniform[0].Buffer.Type != gputypes.BufferBindingTypeUniform {
			t.Errorf("%s: binding 0 = %v, want uniform", stage, uniform[0].Buffer.Type)
		}
		storage := stageBindGroupLayoutEntries(stage, workaround)
		if storage[0].Buffer.Type != gputypes.BufferBindingTypeReadOnlyStorage {
			t.Errorf("%s: binding 0 = %v, want read-only storage", stage, storage[0].Buffer.Type)
		}
		if len(uniform) != len(storage) {
			t.Errorf("%s: variants bind %d and %d entries", stage, len(uniform), len(storage))
		}
	}
	if n := len(stageBindGroupLayoutEntries(gpusort.StageClearOffsets, workaround)); n != 1 {
		t.Errorf("clear_offsets binds %d entries, want 1", n)
	}
	if n := len(stageBindGroupLayoutEntries(gpusort.StageSpine, gpusort.KernelVariant{})); n != 2 {
		t.Errorf("spine binds %d entries, want 2", n)
	}
}

// =============================================================================
// Offset Storage Tests
// =============================================================================

func TestOffsetStorageLifecycle(t *testing.T) {
	device, _, cleanup := createNoopDevice(t)
	defer cleanup()

	s := NewOffsetStorage(device)
	if _, _, err := s.buffers(); !errors.Is(err, gpusort.ErrNotInitialized) {
		t.Errorf("buffers before Init = %v", err)
	}
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	if err := s.Init(); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if !s.Initialized() {
		t.Error("storage should be initialized")
	}
	s.Shutdown()
	s.Shutdown()
	if s.Initialized() {
		t.Error("storage should not be initialized after Shutdown")
	}
}

// =============================================================================
// Device Tests
// =============================================================================

func TestDeviceSortRecordsAndSubmits(t *testing.T) {
	for _, workaround := range []bool{false, true} {
		v := gpusort.KernelVariant{RequiresBufferWorkaround: workaround}
		dev, cleanup := newTestDevice(t, DispatcherConfig{Upsweep: v, Downsweep: v})

		bufs := newTestBuffers(t, dev.HalDevice(), 5000)
		s := gpusort.NewSorter(dev, gpusort.WithLabel("test"))
		result, sub, err := s.Sort(bufs, 0, 0x00FF00FF, 5000)
		if err != nil {
			t.Fatalf("workaround=%v: Sort: %v", workaround, err)
		}
		if result != 0 {
			t.Errorf("four passes should land in slot 0, got %d", result)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := sub.Wait(ctx); err != nil {
			t.Errorf("Wait: %v", err)
		}
		if err := sub.Wait(ctx); err != nil {
			t.Errorf("second Wait: %v", err)
		}
		cancel()
		cleanup()
	}
}

func TestEncoderSharesParamsWithinPass(t *testing.T) {
	dev, cleanup := newTestDevice(t, DispatcherConfig{})
	defer cleanup()
	bufs := newTestBuffers(t, dev.HalDevice(), 100)

	enc, err := dev.BeginSort("params")
	if err != nil {
		t.Fatal(err)
	}
	e := enc.(*encoder)
	p := gpusort.NewParams(100)
	for pass := range 2 {
		p.RadixShift = uint32(pass * gpusort.RadixBits)
		if err := enc.ClearOffsets(); err != nil {
			t.Fatal(err)
		}
		if err := enc.Upsweep(p, bufs.Keys[0]); err != nil {
			t.Fatal(err)
		}
		if err := enc.Spine(); err != nil {
			t.Fatal(err)
		}
		if err := enc.Downsweep(p, bufs.Slot(0), bufs.Slot(1)); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(e.res.writes); n != 2 {
		t.Errorf("parameter writes = %d, want one per pass", n)
	}
	if n := len(e.res.bindGroups); n != 8 {
		t.Errorf("bind groups = %d, want 8", n)
	}
	for i, w := range e.res.writes {
		if len(w.data) != paramsBufferSize {
			t.Errorf("write %d is %d bytes", i, len(w.data))
		}
		got, err := gpusort.ParamsFromBytes(w.data)
		if err != nil {
			t.Fatal(err)
		}
		if got.RadixShift != uint32(i*gpusort.RadixBits) || got.GroupCount != p.GroupCount {
			t.Errorf("write %d decodes to %v", i, got)
		}
	}
	enc.Discard()
	if err := enc.Spine(); !errors.Is(err, gpusort.ErrEncoderClosed) {
		t.Errorf("Spine after Discard = %v", err)
	}
}

func TestEncoderRejectsForeignBuffer(t *testing.T) {
	dev, cleanup := newTestDevice(t, DispatcherConfig{})
	defer cleanup()

	enc, err := dev.BeginSort("foreign")
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Discard()
	if err := enc.Upsweep(gpusort.NewParams(10), fakeBuffer(10)); !errors.Is(err, gpusort.ErrForeignBuffer) {
		t.Errorf("err = %v, want ErrForeignBuffer", err)
	}
	short, err := NewBuffer(dev.HalDevice(), "short", 5)
	if err != nil {
		t.Fatal(err)
	}
	defer short.Destroy(dev.HalDevice())
	if err := enc.Upsweep(gpusort.NewParams(10), short); !errors.Is(err, gpusort.ErrBufferTooSmall) {
		t.Errorf("err = %v, want ErrBufferTooSmall", err)
	}
}

func TestBeginSortAfterShutdown(t *testing.T) {
	dev, cleanup := newTestDevice(t, DispatcherConfig{})
	defer cleanup()

	dev.offsets.Shutdown()
	if _, err := dev.BeginSort("late"); !errors.Is(err, gpusort.ErrNotInitialized) {
		t.Errorf("err = %v, want ErrNotInitialized", err)
	}
}

func TestReadOffsets(t *testing.T) {
	dev, cleanup := newTestDevice(t, DispatcherConfig{})
	defer cleanup()

	hist, spine, err := dev.ReadOffsets(context.Background())
	if err != nil {
		t.Fatalf("ReadOffsets: %v", err)
	}
	// The noop backend reads back zeros, which is a consistent empty pass.
	if hist.Total() != 0 {
		t.Errorf("histogram total = %d", hist.Total())
	}
	if err := spine.CheckSpine(&hist); err != nil {
		t.Error(err)
	}
}

func TestSubmissionWaitCanceled(t *testing.T) {
	dev, cleanup := newTestDevice(t, DispatcherConfig{})
	defer cleanup()

	enc, err := dev.BeginSort("cancel")
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Spine(); err != nil {
		t.Fatal(err)
	}
	sub, err := enc.Submit()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sub.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
	if err := sub.Wait(context.Background()); err != nil {
		t.Errorf("Wait after cancel = %v", err)
	}
}

// failingQueue is a queue whose WriteBuffer always fails, as Vulkan does
// for a buffer that is not host-visible.
type failingQueue struct {
	hal.Queue
	err error
}

func (q failingQueue) WriteBuffer(hal.Buffer, uint64, []byte) error { return q.err }

// stalledQueue is a queue that never completes a submission.
type stalledQueue struct {
	hal.Queue
}

func (stalledQueue) PollCompleted() uint64 { return 0 }

func TestWriteBufferErrorPropagates(t *testing.T) {
	dev, cleanup := newTestDevice(t, DispatcherConfig{})
	defer cleanup()
	errWrite := errors.New("buffer is not mapped")
	failing := NewDevice("failing", dev.device, failingQueue{Queue: dev.queue, err: errWrite},
		dev.dispatcher, dev.offsets, 0)

	buf, err := NewBuffer(dev.HalDevice(), "failing", 16)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Destroy(dev.HalDevice())

	before := dev.queue.PollCompleted()
	if err := failing.Upload(context.Background(), buf, []uint32{1, 2, 3}); !errors.Is(err, errWrite) {
		t.Errorf("Upload = %v, want %v", err, errWrite)
	}

	enc, err := failing.BeginSort("failing")
	if err != nil {
		t.Fatal(err)
	}
	e := enc.(*encoder)
	if err := enc.ClearOffsets(); err != nil {
		t.Fatal(err)
	}
	if err := enc.Upsweep(gpusort.NewParams(16), buf); err != nil {
		t.Fatal(err)
	}
	if _, err := enc.Submit(); !errors.Is(err, errWrite) {
		t.Errorf("Submit = %v, want %v", err, errWrite)
	}
	if after := dev.queue.PollCompleted(); after != before {
		t.Errorf("failed writes reached the queue: index %d -> %d", before, after)
	}
	if len(e.res.buffers) != 0 || len(e.res.bindGroups) != 0 || e.res.cmdBuf != nil {
		t.Error("failed Submit should release its resources")
	}
}

func TestSubmissionWaitTimeout(t *testing.T) {
	dev, cleanup := newTestDevice(t, DispatcherConfig{})
	defer cleanup()
	stalled := NewDevice("stalled", dev.device, stalledQueue{Queue: dev.queue},
		dev.dispatcher, dev.offsets, 10*time.Millisecond)

	enc, err := stalled.BeginSort("stalled")
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Spine(); err != nil {
		t.Fatal(err)
	}
	sub, err := enc.Submit()
	if err != nil {
		t.Fatal(err)
	}
	if err := sub.Wait(context.Background()); !errors.Is(err, ErrSubmitTimeout) {
		t.Errorf("Wait = %v, want ErrSubmitTimeout", err)
	}
	if err := sub.Wait(context.Background()); !errors.Is(err, ErrSubmitTimeout) {
		t.Errorf("second Wait = %v, want ErrSubmitTimeout", err)
	}
}

func TestWordsBytesRoundTrip(t *testing.T) {
	words := []uint32{0, 1, 0xDEADBEEF, 0xFFFFFFFF}
	b := WordsToBytes(words)
	if len(b) != 16 || b[8] != 0xEF || b[11] != 0xDE {
		t.Fatalf("WordsToBytes = %x", b)
	}
	got := BytesToWords(b)
	for i := range words {
		if got[i] != words[i] {
			t.Errorf("word %d = %#x, want %#x", i, got[i], words[i])
		}
	}
}

type fakeBuffer int

func (f fakeBuffer) Len() int { return int(f) }

// =============================================================================
// Shader Tests
// =============================================================================

func TestShaderSourceVariants(t *testing.T) {
	for i := gpusort.Stage(0); i < gpusort.StageCount; i++ {
		for _, workaround := range []bool{false, true} {
			src, err := ShaderSource(i, gpusort.KernelVariant{RequiresBufferWorkaround: workaround})
			if err != nil {
				t.Fatalf("%s: %v", i, err)
			}
			if strings.Contains(src, paramsBindingPlaceholder) {
				t.Errorf("%s: placeholder left in source", i)
			}
			if !hasParams(i) {
				continue
			}
			want := paramsUniformDecl
			if workaround {
				want = paramsStorageDecl
			}
			if !strings.Contains(src, want) {
				t.Errorf("%s workaround=%v: missing %q", i, workaround, want)
			}
		}
	}
	if _, err := ShaderSource(gpusort.StageCount, gpusort.KernelVariant{}); err == nil {
		t.Error("ShaderSource for an unknown stage should fail")
	}
}

// TestShaderConstantsMatch keeps the WGSL constants in step with the Go
// constants.
func TestShaderConstantsMatch(t *testing.T) {
	checks := map[string][]string{
		"upsweep":   {"THREAD_COUNT: u32 = 128u", "KEYS_PER_LOOP: u32 = 8u", "TILE_SIZE: u32 = 1024u", "DIGIT_COUNT: u32 = 16u"},
		"downsweep": {"THREAD_COUNT: u32 = 128u", "KEYS_PER_LOOP: u32 = 8u", "TILE_SIZE: u32 = 1024u", "DIGIT_COUNT: u32 = 16u"},
		"spine":     {"THREAD_COUNT: u32 = 128u", "MAX_GROUP_COUNT: u32 = 64u", "ENTRIES_PER_LANE: u32 = 8u"},
	}
	sources := map[string]string{
		"upsweep":   upsweepShaderSource,
		"downsweep": downsweepShaderSource,
		"spine":     spineShaderSource,
	}
	if gpusort.ThreadCount != 128 || gpusort.TileSize != 1024 || gpusort.MaxGroupCount != 64 || gpusort.DigitCount != 16 {
		t.Fatal("Go constants changed; update the WGSL kernels")
	}
	for name, wants := range checks {
		for _, want := range wants {
			if !strings.Contains(sources[name], want) {
				t.Errorf("%s.wgsl: missing %q", name, want)
			}
		}
	}
}

func TestShaderCompilation(t *testing.T) {
	for i := gpusort.Stage(0); i < gpusort.StageCount; i++ {
		for _, workaround := range []bool{false, true} {
			src, err := ShaderSource(i, gpusort.KernelVariant{RequiresBufferWorkaround: workaround})
			if err != nil {
				t.Fatal(err)
			}
			spirv, err := CompileSPIRV(src)
			if err != nil {
				// The HAL accepts WGSL directly, so a naga frontend gap is
				// not a kernel bug.
				t.Skipf("Skipping: naga cannot compile %s (workaround=%v): %v", i, workaround, err)
			}
			if len(spirv) == 0 {
				t.Fatalf("%s: SPIR-V output is empty", i)
			}
			if spirv[0] != 0x07230203 {
				t.Errorf("%s: invalid SPIR-V magic: 0x%08X, want 0x07230203", i, spirv[0])
			}
		}
	}
}

func TestCompileSPIRVCachedReusesWords(t *testing.T) {
	src, err := ShaderSource(gpusort.StageSpine, gpusort.KernelVariant{})
	if err != nil {
		t.Fatal(err)
	}
	first, err := CompileSPIRVCached(src)
	if err != nil {
		t.Skipf("Skipping: naga cannot compile spine: %v", err)
	}
	second, err := CompileSPIRVCached(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) == 0 || &first[0] != &second[0] {
		t.Error("second compile of the same source should return the cached words")
	}
}

func TestSPIRVInitLogsCacheStats(t *testing.T) {
	orig := gpusort.Logger()
	t.Cleanup(func() { gpusort.SetLogger(orig) })
	var logs bytes.Buffer
	gpusort.SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))

	device, _, cleanup := createNoopDevice(t)
	defer cleanup()
	d, err := NewSortDispatcher(device, DispatcherConfig{SPIRV: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Init(); err != nil {
		t.Skipf("Skipping: naga cannot compile the kernels: %v", err)
	}
	defer d.Close()

	out := logs.String()
	for _, want := range []string{"spirvCached=", "spirvHits=", "spirvMisses="} {
		if !strings.Contains(out, want) {
			t.Errorf("init log missing %q:\n%s", want, out)
		}
	}
}

// =============================================================================
// Transfer Tests
// =============================================================================

func TestUploadDownload(t *testing.T) {
	dev, cleanup := newTestDevice(t, DispatcherConfig{})
	defer cleanup()
	ctx := context.Background()

	buf, err := NewBuffer(dev.HalDevice(), "transfer", 64)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Destroy(dev.HalDevice())

	if err := dev.Upload(ctx, buf, make([]uint32, 64)); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := dev.Upload(ctx, buf, make([]uint32, 65)); !errors.Is(err, gpusort.ErrBufferTooSmall) {
		t.Errorf("oversized Upload = %v", err)
	}
	got, err := dev.Download(ctx, buf, 16)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(got) != 16 {
		t.Errorf("Download returned %d words, want 16", len(got))
	}
	if _, err := dev.Download(ctx, buf, 65); !errors.Is(err, gpusort.ErrBufferTooSmall) {
		t.Errorf("oversized Download = %v", err)
	}
	if _, err := dev.Download(ctx, fakeBuffer(4), 1); !errors.Is(err, gpusort.ErrForeignBuffer) {
		t.Errorf("foreign Download = %v", err)
	}
}
