package renderer

import (
	"io"
	"log/slog"
	"testing"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/core/v3/mocks"
	"github.com/vkngwrapper/core/v3/mocks/mocks1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/tutorial/internal/assets"
	"github.com/vkngwrapper/tutorial/internal/config"
	"github.com/vkngwrapper/tutorial/internal/window"
	"go.uber.org/mock/gomock"
)

type fakeWindow struct {
	width, height int
	closing       bool
	resized       bool

	polls    int
	consumed int
}

var _ window.Window = (*fakeWindow)(nil)

func (w *fakeWindow) ProcAddr() unsafe.Pointer             { return nil }
func (w *fakeWindow) RequiredInstanceExtensions() []string { return nil }

func (w *fakeWindow) CreateSurface(core1_0.Instance, khr_surface.ExtensionDriver) (khr_surface.Surface, error) {
	return khr_surface.Surface{}, errors.New("fake window has no surface")
}

func (w *fakeWindow) FramebufferSize() (int, int) { return w.width, w.height }
func (w *fakeWindow) PollEvents()                 { w.polls++ }
func (w *fakeWindow) WaitEvents()                 {}
func (w *fakeWindow) ShouldClose() bool           { return w.closing }
func (w *fakeWindow) Resized() bool               { return w.resized }
func (w *fakeWindow) Destroy()                    {}

func (w *fakeWindow) ConsumeResize() bool {
	w.consumed++
	resized := w.resized
	w.resized = false
	return resized
}

// fakeSurfaceDriver answers the swap chain support queries. Anything else
// panics on the nil embedded driver.
type fakeSurfaceDriver struct {
	khr_surface.ExtensionDriver

	capabilities khr_surface.SurfaceCapabilities
	formats      []khr_surface.SurfaceFormat
	presentModes []khr_surface.PresentMode
}

func (d *fakeSurfaceDriver) GetPhysicalDeviceSurfaceCapabilities(khr_surface.Surface, core1_0.PhysicalDevice) (*khr_surface.SurfaceCapabilities, common.VkResult, error) {
	capabilities := d.capabilities
	return &capabilities, core1_0.VKSuccess, nil
}

func (d *fakeSurfaceDriver) GetPhysicalDeviceSurfaceFormats(khr_surface.Surface, core1_0.PhysicalDevice) ([]khr_surface.SurfaceFormat, common.VkResult, error) {
	return d.formats, core1_0.VKSuccess, nil
}

func (d *fakeSurfaceDriver) GetPhysicalDeviceSurfacePresentModes(khr_surface.Surface, core1_0.PhysicalDevice) ([]khr_surface.PresentMode, common.VkResult, error) {
	return d.presentModes, core1_0.VKSuccess, nil
}

// fakeSwapchainDriver hands out dummy swap chains and scripted acquire and
// present results.
type fakeSwapchainDriver struct {
	khr_swapchain.ExtensionDriver

	device core1_0.Device
	record func(string)

	images    int
	createErr error

	acquireIndex  int
	acquireResult common.VkResult
	presentResult common.VkResult

	created   int
	destroyed int
	presented []khr_swapchain.PresentInfo
}

func (d *fakeSwapchainDriver) CreateSwapchain(_ *loader.AllocationCallbacks, options khr_swapchain.SwapchainCreateInfo) (khr_swapchain.Swapchain, common.VkResult, error) {
	if d.createErr != nil {
		return khr_swapchain.Swapchain{}, core1_0.VKErrorUnknown, d.createErr
	}
	d.created++
	return khr_swapchain.NewDummySwapchain(d.device), core1_0.VKSuccess, nil
}

func (d *fakeSwapchainDriver) GetSwapchainImages(khr_swapchain.Swapchain) ([]core1_0.Image, common.VkResult, error) {
	images := make([]core1_0.Image, d.images)
	for i := range images {
		images[i] = mocks.NewDummyImage(d.device)
	}
	return images, core1_0.VKSuccess, nil
}

func (d *fakeSwapchainDriver) DestroySwapchain(khr_swapchain.Swapchain, *loader.AllocationCallbacks) {
	d.destroyed++
}

func (d *fakeSwapchainDriver) AcquireNextImage(_ khr_swapchain.Swapchain, _ time.Duration, _ *core1_0.Semaphore, _ *core1_0.Fence) (int, common.VkResult, error) {
	d.record("acquire")
	if d.acquireResult == khr_swapchain.VKErrorOutOfDate {
		return 0, d.acquireResult, errors.New("swap chain out of date")
	}
	return d.acquireIndex, d.acquireResult, nil
}

func (d *fakeSwapchainDriver) QueuePresent(_ core1_0.Queue, o khr_swapchain.PresentInfo) (common.VkResult, error) {
	d.record("present")
	d.presented = append(d.presented, o)
	return d.presentResult, nil
}

// testRig is a renderer wired to gomock drivers and fakes, sized as an
// 800x600 window with a three image swap chain.
type testRig struct {
	r *Renderer

	device    core1_0.Device
	dev       *mocks1_0.MockCoreDeviceDriver
	inst      *mocks1_0.MockCoreInstanceDriver
	surface   *fakeSurfaceDriver
	swapchain *fakeSwapchainDriver
	window    *fakeWindow

	calls     []string
	destroyed map[string]int
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	ctrl := gomock.NewController(t)
	instance := mocks.NewDummyInstance(common.Vulkan1_2, nil)
	device := mocks.NewDummyDevice(common.Vulkan1_2, nil)

	rig := &testRig{
		device: device,
		dev:    mocks1_0.NewMockCoreDeviceDriver(ctrl),
		inst:   mocks1_0.NewMockCoreInstanceDriver(ctrl),
		surface: &fakeSurfaceDriver{
			capabilities: khr_surface.SurfaceCapabilities{
				MinImageCount:  2,
				MaxImageCount:  3,
				CurrentExtent:  core1_0.Extent2D{Width: 800, Height: 600},
				MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
				MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
			},
			formats: []khr_surface.SurfaceFormat{
				{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
			},
			presentModes: []khr_surface.PresentMode{khr_surface.PresentModeFIFO},
		},
		window:    &fakeWindow{width: 800, height: 600},
		destroyed: map[string]int{},
	}
	rig.swapchain = &fakeSwapchainDriver{
		device: device,
		record: rig.record,
		images: 3,
	}

	cfg := config.Default()
	cfg.Particles = false
	r := New(cfg, rig.window, &assets.Bundle{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.deviceDriver = rig.dev
	r.instanceDriver = rig.inst
	r.surfaceExtension = rig.surface
	r.swapchainExtension = rig.swapchain
	r.physicalDevice = mocks.NewDummyPhysicalDevice(instance, common.Vulkan1_2)
	r.queueFamilies = QueueFamilyIndices{GraphicsFamily: intPtr(0), PresentFamily: intPtr(0), ComputeFamily: intPtr(0)}
	r.msaaSamples = core1_0.Samples4
	r.graphicsQueue = mocks.NewDummyQueue(device)
	r.presentQueue = r.graphicsQueue
	r.computeQueue = r.graphicsQueue
	rig.r = r

	return rig
}

func (rig *testRig) record(call string) {
	rig.calls = append(rig.calls, call)
}

// allowChainResources lets the device create and destroy everything a swap
// chain generation owns, counting the destroys.
func (rig *testRig) allowChainResources() {
	device := rig.device

	rig.inst.EXPECT().GetPhysicalDeviceMemoryProperties(gomock.Any()).Return(&core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{{PropertyFlags: core1_0.MemoryPropertyDeviceLocal}},
	}).AnyTimes()
	rig.inst.EXPECT().GetPhysicalDeviceFormatProperties(gomock.Any(), gomock.Any()).Return(&core1_0.FormatProperties{
		OptimalTilingFeatures: core1_0.FormatFeatureDepthStencilAttachment,
	}).AnyTimes()

	rig.dev.EXPECT().CreateImage(gomock.Any(), gomock.Any()).DoAndReturn(
		func(*loader.AllocationCallbacks, core1_0.ImageCreateInfo) (core1_0.Image, common.VkResult, error) {
			return mocks.NewDummyImage(device), core1_0.VKSuccess, nil
		}).AnyTimes()
	rig.dev.EXPECT().GetImageMemoryRequirements(gomock.Any()).Return(&core1_0.MemoryRequirements{
		Size:           4096,
		Alignment:      256,
		MemoryTypeBits: 1,
	}).AnyTimes()
	rig.dev.EXPECT().AllocateMemory(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ *loader.AllocationCallbacks, o core1_0.MemoryAllocateInfo) (core1_0.DeviceMemory, common.VkResult, error) {
			return mocks.NewDummyDeviceMemory(device, o.AllocationSize), core1_0.VKSuccess, nil
		}).AnyTimes()
	rig.dev.EXPECT().BindImageMemory(gomock.Any(), gomock.Any(), 0).Return(core1_0.VKSuccess, nil).AnyTimes()
	rig.dev.EXPECT().CreateImageView(gomock.Any(), gomock.Any()).DoAndReturn(
		func(*loader.AllocationCallbacks, core1_0.ImageViewCreateInfo) (core1_0.ImageView, common.VkResult, error) {
			return mocks.NewDummyImageView(device), core1_0.VKSuccess, nil
		}).AnyTimes()
	rig.dev.EXPECT().CreateFramebuffer(gomock.Any(), gomock.Any()).DoAndReturn(
		func(*loader.AllocationCallbacks, core1_0.FramebufferCreateInfo) (core1_0.Framebuffer, common.VkResult, error) {
			return mocks.NewDummyFramebuffer(device), core1_0.VKSuccess, nil
		}).AnyTimes()

	rig.dev.EXPECT().DestroyFramebuffer(gomock.Any(), gomock.Any()).Do(
		func(core1_0.Framebuffer, *loader.AllocationCallbacks) { rig.destroyed["framebuffer"]++ }).AnyTimes()
	rig.dev.EXPECT().DestroyImageView(gomock.Any(), gomock.Any()).Do(
		func(core1_0.ImageView, *loader.AllocationCallbacks) { rig.destroyed["image view"]++ }).AnyTimes()
	rig.dev.EXPECT().DestroyImage(gomock.Any(), gomock.Any()).Do(
		func(core1_0.Image, *loader.AllocationCallbacks) { rig.destroyed["image"]++ }).AnyTimes()
	rig.dev.EXPECT().FreeMemory(gomock.Any(), gomock.Any()).Do(
		func(core1_0.DeviceMemory, *loader.AllocationCallbacks) { rig.destroyed["memory"]++ }).AnyTimes()
}

// allowRecording accepts the draw commands of recordCommandBuffer.
func (rig *testRig) allowRecording() {
	rig.dev.EXPECT().BeginCommandBuffer(gomock.Any(), gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
	rig.dev.EXPECT().CmdBeginRenderPass(gomock.Any(), core1_0.SubpassContentsInline, gomock.Any()).Return(nil).AnyTimes()
	rig.dev.EXPECT().CmdSetViewport(gomock.Any(), gomock.Any()).AnyTimes()
	rig.dev.EXPECT().CmdSetScissor(gomock.Any(), gomock.Any()).AnyTimes()
	rig.dev.EXPECT().CmdBindPipeline(gomock.Any(), core1_0.PipelineBindPointGraphics, gomock.Any()).AnyTimes()
	rig.dev.EXPECT().CmdBindVertexBuffers(gomock.Any(), 0, gomock.Any(), gomock.Any()).AnyTimes()
	rig.dev.EXPECT().CmdBindIndexBuffer(gomock.Any(), gomock.Any(), 0, core1_0.IndexTypeUInt32).AnyTimes()
	rig.dev.EXPECT().CmdBindDescriptorSets(gomock.Any(), core1_0.PipelineBindPointGraphics, gomock.Any(), 0, gomock.Any(), gomock.Any()).AnyTimes()
	rig.dev.EXPECT().CmdDrawIndexed(gomock.Any(), rig.r.indexCount, 1, gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()
	rig.dev.EXPECT().CmdEndRenderPass(gomock.Any()).AnyTimes()
	rig.dev.EXPECT().EndCommandBuffer(gomock.Any()).Return(core1_0.VKSuccess, nil).AnyTimes()
}

// buildChain creates the first swap chain generation and the render pass
// that later generations must stay compatible with.
func (rig *testRig) buildChain(t *testing.T) {
	t.Helper()
	if err := rig.r.buildSwapchain(); err != nil {
		t.Fatal(err)
	}
	rig.r.renderPass = mocks.NewDummyRenderPass(rig.device)
}

// readyFrame gives slot i its sync objects, command buffer and a host
// uniform buffer.
func (rig *testRig) readyFrame(i int) *frameSlot {
	frame := &rig.r.frames[i]
	frame.commandBuffer = mocks.NewDummyCommandBuffer(mocks.NewDummyCommandPool(rig.device), rig.device)
	frame.imageAvailable = mocks.NewDummySemaphore(rig.device)
	frame.renderFinished = mocks.NewDummySemaphore(rig.device)
	frame.inFlight = mocks.NewDummyFence(rig.device)

	size := int(unsafe.Sizeof(UniformBlock{}))
	frame.uniforms = mappedBuffer{size: size, data: make([]byte, size)}
	return frame
}
