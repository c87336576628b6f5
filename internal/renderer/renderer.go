// Package renderer draws a textured, depth-tested, multisampled mesh into a
// window with Vulkan, optionally overlaid with compute-driven particles.
package renderer

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/tutorial/internal/assets"
	"github.com/vkngwrapper/tutorial/internal/config"
	"github.com/vkngwrapper/tutorial/internal/window"
)

type Renderer struct {
	cfg    config.Config
	window window.Window
	bundle *assets.Bundle
	logger *slog.Logger
	debug  debugSink

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver
	deviceDriver   core1_0.CoreDeviceDriver

	debugDriver      ext_debug_utils.ExtensionDriver
	debugMessenger   ext_debug_utils.DebugUtilsMessenger
	surfaceExtension khr_surface.ExtensionDriver
	surface          khr_surface.Surface

	physicalDevice core1_0.PhysicalDevice
	properties     *core1_0.PhysicalDeviceProperties
	features       core1_0.PhysicalDeviceFeatures
	queueFamilies  QueueFamilyIndices
	msaaSamples    core1_0.SampleCountFlags

	graphicsQueue core1_0.Queue
	computeQueue  core1_0.Queue
	presentQueue  core1_0.Queue

	swapchainExtension khr_swapchain.ExtensionDriver
	chain              swapchainBundle

	renderPass          core1_0.RenderPass
	descriptorSetLayout core1_0.DescriptorSetLayout
	descriptorPool      core1_0.DescriptorPool
	pipelineLayout      core1_0.PipelineLayout
	graphicsPipeline    core1_0.Pipeline
	pipelineCache       core1_0.PipelineCache

	commandPool core1_0.CommandPool

	frames       []frameSlot
	currentFrame int
	startTime    time.Duration

	vertexBuffer       core1_0.Buffer
	vertexBufferMemory core1_0.DeviceMemory
	indexBuffer        core1_0.Buffer
	indexBufferMemory  core1_0.DeviceMemory
	indexCount         int

	texture   textureObject
	particles particleSystem

	allocations allocationTracker
}

// New prepares a renderer for win. The renderer owns win from here on and
// destroys it when Run returns.
func New(cfg config.Config, win window.Window, bundle *assets.Bundle, logger *slog.Logger) *Renderer {
	debugOptions := &slog.HandlerOptions{Level: cfg.LogLevel}

	return &Renderer{
		cfg:    cfg,
		window: win,
		bundle: bundle,
		logger: logger,
		debug: debugSink{
			out:  slog.New(slog.NewTextHandler(os.Stdout, debugOptions)).With("source", "validation"),
			errs: slog.New(slog.NewTextHandler(os.Stderr, debugOptions)).With("source", "validation"),
		},
		msaaSamples: core1_0.Samples1,
		frames:      make([]frameSlot, config.MaxFramesInFlight),
		allocations: allocationTracker{logger: logger},
	}
}

// Run initializes Vulkan, renders until the window closes or ctx is done and
// tears every resource down again, including after a failed initialization.
func (r *Renderer) Run(ctx context.Context) (err error) {
	defer func() {
		if cleanupErr := r.cleanup(); err == nil {
			err = cleanupErr
		}
	}()

	err = r.initVulkan()
	if err != nil {
		return err
	}

	return r.mainLoop(ctx)
}

func (r *Renderer) initVulkan() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"create instance", r.createInstance},
		{"set up debug messenger", r.setupDebugMessenger},
		{"create surface", r.createSurface},
		{"pick physical device", r.pickPhysicalDevice},
		{"create logical device", r.createLogicalDevice},
		{"create pipeline cache", r.createPipelineCache},
		{"create swap chain", r.createSwapchain},
		{"create image views", r.createImageViews},
		{"create render pass", r.createRenderPass},
		{"create descriptor set layout", r.createDescriptorSetLayout},
		{"create graphics pipeline", r.createGraphicsPipeline},
		{"create command pool", r.createCommandPool},
		{"create color resources", r.createColorResources},
		{"create depth resources", r.createDepthResources},
		{"create framebuffers", r.createFramebuffers},
		{"create texture image", func() error { return r.createTextureImage(r.bundle.Texture) }},
		{"create texture image view", r.createTextureImageView},
		{"create texture sampler", r.createSampler},
		{"create vertex buffer", r.createVertexBuffer},
		{"create index buffer", r.createIndexBuffer},
		{"create uniform buffers", r.createUniformBuffers},
		{"create descriptor pool", r.createDescriptorPool},
		{"create descriptor sets", r.createDescriptorSets},
		{"init particles", r.initParticles},
		{"create command buffers", r.createCommandBuffers},
		{"create sync objects", r.createSyncObjects},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			return errors.Wrap(err, step.name)
		}
	}

	r.startTime = hrtime.Now()
	r.logger.Info("renderer initialized",
		"vertices", len(r.bundle.Mesh.Vertices),
		"indices", r.indexCount,
		"allocations", r.allocations.count(resourceMemory))
	return nil
}

func (r *Renderer) mainLoop(ctx context.Context) error {
	for !r.window.ShouldClose() && ctx.Err() == nil {
		r.window.PollEvents()
		if r.window.ShouldClose() {
			break
		}

		// A minimized window has nothing to present to.
		width, height := r.window.FramebufferSize()
		if width == 0 || height == 0 {
			r.window.WaitEvents()
			continue
		}

		err := r.drawFrame()
		if err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		r.logger.Info("interrupted, shutting down")
	}

	_, err := r.deviceDriver.DeviceWaitIdle()
	if err != nil {
		return errors.Wrap(err, "wait for device idle")
	}
	return nil
}
