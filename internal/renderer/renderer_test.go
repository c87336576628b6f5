package renderer

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"go.uber.org/mock/gomock"
)

func TestRecreateSwapChainRestoresResources(t *testing.T) {
	rig := newTestRig(t)
	rig.allowChainResources()
	rig.buildChain(t)

	before := rig.r.allocations.live
	for kind, want := range map[resourceKind]int{resourceFramebuffer: 3, resourceImageView: 5, resourceMemory: 2} {
		if got := before[kind]; got != want {
			t.Fatalf("first generation holds %d of kind %d, want %d", got, kind, want)
		}
	}

	rig.window.resized = true
	rig.dev.EXPECT().DeviceWaitIdle().Return(core1_0.VKSuccess, nil).Times(1)

	if err := rig.r.recreateSwapChain(); err != nil {
		t.Fatal(err)
	}

	if after := rig.r.allocations.live; after != before {
		t.Errorf("live resources changed across recreate: %v, want %v", after, before)
	}
	for kind, want := range map[string]int{"framebuffer": 3, "image view": 5, "image": 2, "memory": 2} {
		if got := rig.destroyed[kind]; got != want {
			t.Errorf("destroyed %d %s, want %d", got, kind, want)
		}
	}
	if rig.swapchain.created != 2 || rig.swapchain.destroyed != 1 {
		t.Errorf("swap chains created %d destroyed %d, want 2 and 1", rig.swapchain.created, rig.swapchain.destroyed)
	}
	if rig.window.resized {
		t.Error("recreate left the resize flag set")
	}
}

func TestRecreateSwapChainRejectsFormatChange(t *testing.T) {
	rig := newTestRig(t)
	rig.allowChainResources()
	rig.buildChain(t)

	rig.surface.formats = []khr_surface.SurfaceFormat{
		{Format: core1_0.FormatR8G8B8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
	}
	rig.dev.EXPECT().DeviceWaitIdle().Return(core1_0.VKSuccess, nil)

	err := rig.r.recreateSwapChain()
	if !errors.Is(err, ErrFormatUnsupported) {
		t.Fatalf("recreate with a new surface format returned %v, want ErrFormatUnsupported", err)
	}
}

func TestDrawFrameOutOfDateAcquire(t *testing.T) {
	rig := newTestRig(t)
	rig.allowChainResources()
	rig.buildChain(t)
	frame := rig.readyFrame(0)

	rig.swapchain.acquireResult = khr_swapchain.VKErrorOutOfDate

	// No ResetFences, ResetCommandBuffer or QueueSubmit is expected, so any
	// of them fails the test.
	gomock.InOrder(
		rig.dev.EXPECT().WaitForFences(true, common.NoTimeout, frame.inFlight).DoAndReturn(
			func(bool, time.Duration, ...core1_0.Fence) (common.VkResult, error) {
				rig.record("wait")
				return core1_0.VKSuccess, nil
			}),
		rig.dev.EXPECT().DeviceWaitIdle().DoAndReturn(
			func() (common.VkResult, error) {
				rig.record("idle")
				return core1_0.VKSuccess, nil
			}),
	)

	if err := rig.r.drawFrame(); err != nil {
		t.Fatal(err)
	}

	if want := []string{"wait", "acquire", "idle"}; !reflect.DeepEqual(rig.calls, want) {
		t.Errorf("calls = %v, want %v", rig.calls, want)
	}
	if rig.r.currentFrame != 0 {
		t.Errorf("currentFrame = %d after a skipped frame, want 0", rig.r.currentFrame)
	}
	if len(rig.swapchain.presented) != 0 {
		t.Error("skipped frame was presented")
	}
	if rig.swapchain.created != 2 {
		t.Errorf("swap chain created %d times, want 2", rig.swapchain.created)
	}
	if rig.window.consumed != 1 {
		t.Errorf("resize flag consumed %d times, want 1", rig.window.consumed)
	}
}

func TestDrawFrameOrder(t *testing.T) {
	rig := newTestRig(t)
	rig.allowChainResources()
	rig.allowRecording()
	rig.buildChain(t)
	frame := rig.readyFrame(0)

	rig.swapchain.acquireIndex = 2

	uniformsZero := func() bool {
		for _, b := range frame.uniforms.data {
			if b != 0 {
				return false
			}
		}
		return true
	}

	var submitted []core1_0.SubmitInfo
	gomock.InOrder(
		rig.dev.EXPECT().WaitForFences(true, common.NoTimeout, frame.inFlight).DoAndReturn(
			func(bool, time.Duration, ...core1_0.Fence) (common.VkResult, error) {
				rig.record("wait")
				if !uniformsZero() {
					t.Error("uniforms written before the fence wait")
				}
				return core1_0.VKSuccess, nil
			}),
		rig.dev.EXPECT().ResetFences(frame.inFlight).DoAndReturn(
			func(...core1_0.Fence) (common.VkResult, error) {
				rig.record("reset fence")
				if !uniformsZero() {
					t.Error("uniforms written before the fence reset")
				}
				return core1_0.VKSuccess, nil
			}),
		rig.dev.EXPECT().ResetCommandBuffer(frame.commandBuffer, core1_0.CommandBufferResetFlags(0)).DoAndReturn(
			func(core1_0.CommandBuffer, core1_0.CommandBufferResetFlags) (common.VkResult, error) {
				rig.record("reset commands")
				if uniformsZero() {
					t.Error("uniforms not written before recording")
				}
				return core1_0.VKSuccess, nil
			}),
		rig.dev.EXPECT().QueueSubmit(rig.r.graphicsQueue, &frame.inFlight, gomock.Any()).DoAndReturn(
			func(_ core1_0.Queue, _ *core1_0.Fence, infos ...core1_0.SubmitInfo) (common.VkResult, error) {
				rig.record("submit")
				submitted = infos
				return core1_0.VKSuccess, nil
			}),
	)

	if err := rig.r.drawFrame(); err != nil {
		t.Fatal(err)
	}

	want := []string{"wait", "acquire", "reset fence", "reset commands", "submit", "present"}
	if !reflect.DeepEqual(rig.calls, want) {
		t.Errorf("calls = %v, want %v", rig.calls, want)
	}

	if len(submitted) != 1 {
		t.Fatalf("submitted %d batches, want 1", len(submitted))
	}
	submit := submitted[0]
	if !reflect.DeepEqual(submit.WaitSemaphores, []core1_0.Semaphore{frame.imageAvailable}) {
		t.Error("submit does not wait on the image-available semaphore")
	}
	if !reflect.DeepEqual(submit.WaitDstStageMask, []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput}) {
		t.Errorf("submit waits at %v, want color attachment output", submit.WaitDstStageMask)
	}
	if !reflect.DeepEqual(submit.SignalSemaphores, []core1_0.Semaphore{frame.renderFinished}) {
		t.Error("submit does not signal the render-finished semaphore")
	}
	if !reflect.DeepEqual(submit.CommandBuffers, []core1_0.CommandBuffer{frame.commandBuffer}) {
		t.Error("submit does not carry the slot's command buffer")
	}

	if len(rig.swapchain.presented) != 1 {
		t.Fatalf("presented %d times, want 1", len(rig.swapchain.presented))
	}
	present := rig.swapchain.presented[0]
	if !reflect.DeepEqual(present.ImageIndices, []int{2}) {
		t.Errorf("presented images %v, want the acquired index 2", present.ImageIndices)
	}
	if !reflect.DeepEqual(present.WaitSemaphores, []core1_0.Semaphore{frame.renderFinished}) {
		t.Error("present does not wait on the render-finished semaphore")
	}
	if rig.r.currentFrame != 1 {
		t.Errorf("currentFrame = %d, want 1", rig.r.currentFrame)
	}
}

func TestDrawFramePresentRecreate(t *testing.T) {
	for _, tc := range []struct {
		name          string
		resized       bool
		presentResult common.VkResult
		wantRecreate  bool
	}{
		{name: "optimal", presentResult: core1_0.VKSuccess},
		{name: "resize pending", resized: true, presentResult: core1_0.VKSuccess, wantRecreate: true},
		{name: "suboptimal", presentResult: khr_swapchain.VKSuboptimal, wantRecreate: true},
		{name: "out of date", presentResult: khr_swapchain.VKErrorOutOfDate, wantRecreate: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rig := newTestRig(t)
			rig.allowChainResources()
			rig.allowRecording()
			rig.buildChain(t)
			frame := rig.readyFrame(0)

			rig.window.resized = tc.resized
			rig.swapchain.presentResult = tc.presentResult

			rig.dev.EXPECT().WaitForFences(true, common.NoTimeout, frame.inFlight).Return(core1_0.VKSuccess, nil)
			rig.dev.EXPECT().ResetFences(frame.inFlight).Return(core1_0.VKSuccess, nil)
			rig.dev.EXPECT().ResetCommandBuffer(frame.commandBuffer, core1_0.CommandBufferResetFlags(0)).Return(core1_0.VKSuccess, nil)
			rig.dev.EXPECT().QueueSubmit(rig.r.graphicsQueue, &frame.inFlight, gomock.Any()).Return(core1_0.VKSuccess, nil)

			idle := 0
			if tc.wantRecreate {
				idle = 1
			}
			rig.dev.EXPECT().DeviceWaitIdle().Return(core1_0.VKSuccess, nil).Times(idle)

			if err := rig.r.drawFrame(); err != nil {
				t.Fatal(err)
			}

			if want := 1 + idle; rig.swapchain.created != want {
				t.Errorf("swap chain created %d times, want %d", rig.swapchain.created, want)
			}
			if rig.window.resized {
				t.Error("resize flag still set after the frame")
			}
			if rig.r.currentFrame != 1 {
				t.Errorf("currentFrame = %d, want 1", rig.r.currentFrame)
			}
		})
	}
}

func TestMainLoopStops(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	for _, tc := range []struct {
		name    string
		ctx     context.Context
		closing bool
	}{
		{name: "interrupted", ctx: cancelled},
		{name: "window closed", ctx: context.Background(), closing: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rig := newTestRig(t)
			rig.window.closing = tc.closing
			rig.dev.EXPECT().DeviceWaitIdle().Return(core1_0.VKSuccess, nil).Times(1)

			if err := rig.r.mainLoop(tc.ctx); err != nil {
				t.Fatal(err)
			}
			if rig.window.polls != 0 {
				t.Errorf("polled %d times, want 0", rig.window.polls)
			}
		})
	}
}

func TestSetupFailuresAreMarked(t *testing.T) {
	cause := errors.New("device lost")

	for _, tc := range []struct {
		name  string
		setup func(rig *testRig)
		run   func(r *Renderer) error
		kind  error
	}{
		{
			name:  "swap chain",
			setup: func(rig *testRig) { rig.swapchain.createErr = cause },
			run:   func(r *Renderer) error { return r.createSwapchain() },
			kind:  ErrSwapchainCreateFailed,
		},
		{
			name: "command pool",
			setup: func(rig *testRig) {
				rig.dev.EXPECT().CreateCommandPool(gomock.Any(), gomock.Any()).Return(core1_0.CommandPool{}, core1_0.VKErrorOutOfDeviceMemory, cause)
			},
			run:  func(r *Renderer) error { return r.createCommandPool() },
			kind: ErrCommandPoolFailed,
		},
		{
			name: "command buffers",
			setup: func(rig *testRig) {
				rig.dev.EXPECT().AllocateCommandBuffers(gomock.Any()).Return(nil, core1_0.VKErrorOutOfDeviceMemory, cause)
			},
			run: func(r *Renderer) error {
				_, err := r.allocateCommandBuffers(2)
				return err
			},
			kind: ErrCommandPoolFailed,
		},
		{
			name: "render pass",
			setup: func(rig *testRig) {
				rig.allowChainResources()
				rig.dev.EXPECT().CreateRenderPass(gomock.Any(), gomock.Any()).Return(core1_0.RenderPass{}, core1_0.VKErrorUnknown, cause)
			},
			run:  func(r *Renderer) error { return r.createRenderPass() },
			kind: ErrPipelineCreateFailed,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rig := newTestRig(t)
			tc.setup(rig)

			err := tc.run(rig.r)
			if !errors.Is(err, tc.kind) {
				t.Errorf("error %v is not marked %v", err, tc.kind)
			}
			if !errors.Is(err, cause) {
				t.Errorf("error %v lost its cause", err)
			}
		})
	}
}
