package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

func chooseSurfaceFormat(availableFormats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, preferred := range []core1_0.Format{core1_0.FormatR8G8B8A8SRGB, core1_0.FormatB8G8R8A8SRGB} {
		for _, format := range availableFormats {
			if format.Format == preferred && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
				return format
			}
		}
	}

	return availableFormats[0]
}

func choosePresentMode(availablePresentModes []khr_surface.PresentMode) khr_surface.PresentMode {
	for _, preferred := range []khr_surface.PresentMode{khr_surface.PresentModeMailbox, khr_surface.PresentModeFIFORelaxed} {
		for _, presentMode := range availablePresentModes {
			if presentMode == preferred {
				return presentMode
			}
		}
	}

	return khr_surface.PresentModeFIFO
}

// chooseExtent uses the surface's fixed extent when it has one, otherwise
// clamps the framebuffer size into the supported range.
func chooseExtent(capabilities *khr_surface.SurfaceCapabilities, width, height int) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	if width < capabilities.MinImageExtent.Width {
		width = capabilities.MinImageExtent.Width
	}
	if width > capabilities.MaxImageExtent.Width {
		width = capabilities.MaxImageExtent.Width
	}
	if height < capabilities.MinImageExtent.Height {
		height = capabilities.MinImageExtent.Height
	}
	if height > capabilities.MaxImageExtent.Height {
		height = capabilities.MaxImageExtent.Height
	}

	return core1_0.Extent2D{Width: width, Height: height}
}

// chooseImageCount asks for one image more than the minimum. A maximum of 0
// means unbounded.
func chooseImageCount(minImageCount, maxImageCount int) int {
	imageCount := minImageCount + 1
	if maxImageCount > 0 && maxImageCount < imageCount {
		imageCount = maxImageCount
	}
	return imageCount
}

func imageSharing(indices QueueFamilyIndices) (core1_0.SharingMode, []int) {
	if *indices.GraphicsFamily != *indices.PresentFamily {
		return core1_0.SharingModeConcurrent, []int{*indices.GraphicsFamily, *indices.PresentFamily}
	}
	return core1_0.SharingModeExclusive, nil
}

var depthFormatCandidates = []core1_0.Format{
	core1_0.FormatD32SignedFloat,
	core1_0.FormatD32SignedFloatS8UnsignedInt,
	core1_0.FormatD24UnsignedNormalizedS8UnsignedInt,
}

func supportedFormat(formats []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags, properties func(core1_0.Format) *core1_0.FormatProperties) (core1_0.Format, error) {
	for _, format := range formats {
		props := properties(format)

		if tiling == core1_0.ImageTilingLinear && (props.LinearTilingFeatures&features) == features {
			return format, nil
		} else if tiling == core1_0.ImageTilingOptimal && (props.OptimalTilingFeatures&features) == features {
			return format, nil
		}
	}

	return 0, errors.Wrapf(ErrFormatUnsupported, "no format for tiling %s, features %s", tiling, features)
}

func (r *Renderer) formatProperties(format core1_0.Format) *core1_0.FormatProperties {
	return r.instanceDriver.GetPhysicalDeviceFormatProperties(r.physicalDevice, format)
}

func (r *Renderer) findDepthFormat() (core1_0.Format, error) {
	return supportedFormat(depthFormatCandidates,
		core1_0.ImageTilingOptimal,
		core1_0.FormatFeatureDepthStencilAttachment,
		r.formatProperties)
}

// swapchainBundle is one generation of the swap chain and everything sized
// to it.
type swapchainBundle struct {
	swapchain   khr_swapchain.Swapchain
	format      core1_0.Format
	colorSpace  khr_surface.ColorSpace
	presentMode khr_surface.PresentMode
	extent      core1_0.Extent2D

	images       []core1_0.Image
	imageViews   []core1_0.ImageView
	framebuffers []core1_0.Framebuffer

	colorImage       core1_0.Image
	colorImageMemory core1_0.DeviceMemory
	colorImageView   core1_0.ImageView

	depthFormat      core1_0.Format
	depthImage       core1_0.Image
	depthImageMemory core1_0.DeviceMemory
	depthImageView   core1_0.ImageView
}

func (r *Renderer) createSwapchain() error {
	if r.swapchainExtension == nil {
		r.swapchainExtension = khr_swapchain.CreateExtensionDriverFromCoreDriver(r.deviceDriver)
	}

	swapchainSupport, err := r.querySwapChainSupport(r.physicalDevice)
	if err != nil {
		return errors.Wrap(err, "query swap chain support")
	}
	if len(swapchainSupport.Formats) == 0 || len(swapchainSupport.PresentModes) == 0 {
		return errors.Wrap(ErrFormatUnsupported, "surface reports no formats or present modes")
	}

	surfaceFormat := chooseSurfaceFormat(swapchainSupport.Formats)
	presentMode := choosePresentMode(swapchainSupport.PresentModes)
	width, height := r.window.FramebufferSize()
	extent := chooseExtent(swapchainSupport.Capabilities, width, height)
	imageCount := chooseImageCount(swapchainSupport.Capabilities.MinImageCount, swapchainSupport.Capabilities.MaxImageCount)

	// The render pass and pipelines outlive the chain, so the format must not
	// change between generations.
	if r.renderPass.Initialized() && surfaceFormat.Format != r.chain.format {
		return errors.Wrapf(ErrFormatUnsupported, "surface format changed from %s to %s", r.chain.format, surfaceFormat.Format)
	}

	sharingMode, queueFamilyIndices := imageSharing(r.queueFamilies)

	swapchain, _, err := r.swapchainExtension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: r.surface,

		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   swapchainSupport.Capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	})
	if err != nil {
		return fail(err, ErrSwapchainCreateFailed, "create swap chain")
	}

	r.chain.swapchain = swapchain
	r.chain.format = surfaceFormat.Format
	r.chain.colorSpace = surfaceFormat.ColorSpace
	r.chain.presentMode = presentMode
	r.chain.extent = extent

	r.logger.Debug("swap chain created",
		"format", surfaceFormat.Format,
		"presentMode", presentMode,
		"width", extent.Width,
		"height", extent.Height,
		"images", imageCount)
	return nil
}

func (r *Renderer) createImageViews() error {
	images, _, err := r.swapchainExtension.GetSwapchainImages(r.chain.swapchain)
	if err != nil {
		return fail(err, ErrSwapchainCreateFailed, "get swap chain images")
	}
	r.chain.images = images

	for _, image := range images {
		view, err := r.createImageView(image, r.chain.format, core1_0.ImageAspectColor, 1)
		if err != nil {
			return err
		}

		r.chain.imageViews = append(r.chain.imageViews, view)
	}

	return nil
}

func (r *Renderer) createColorResources() error {
	var err error
	r.chain.colorImage, r.chain.colorImageMemory, err = r.createImage(imageSpec{
		width:      r.chain.extent.Width,
		height:     r.chain.extent.Height,
		mipLevels:  1,
		samples:    r.msaaSamples,
		format:     r.chain.format,
		tiling:     core1_0.ImageTilingOptimal,
		usage:      core1_0.ImageUsageTransientAttachment | core1_0.ImageUsageColorAttachment,
		properties: core1_0.MemoryPropertyDeviceLocal,
	})
	if err != nil {
		return err
	}

	r.chain.colorImageView, err = r.createImageView(r.chain.colorImage, r.chain.format, core1_0.ImageAspectColor, 1)
	return err
}

func (r *Renderer) createDepthResources() error {
	depthFormat, err := r.findDepthFormat()
	if err != nil {
		return err
	}
	r.chain.depthFormat = depthFormat

	r.chain.depthImage, r.chain.depthImageMemory, err = r.createImage(imageSpec{
		width:      r.chain.extent.Width,
		height:     r.chain.extent.Height,
		mipLevels:  1,
		samples:    r.msaaSamples,
		format:     depthFormat,
		tiling:     core1_0.ImageTilingOptimal,
		usage:      core1_0.ImageUsageTransientAttachment | core1_0.ImageUsageDepthStencilAttachment,
		properties: core1_0.MemoryPropertyDeviceLocal,
	})
	if err != nil {
		return err
	}

	r.chain.depthImageView, err = r.createImageView(r.chain.depthImage, depthFormat, core1_0.ImageAspectDepth, 1)
	return err
}

func (r *Renderer) createFramebuffers() error {
	for _, imageView := range r.chain.imageViews {
		framebuffer, _, err := r.deviceDriver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass: r.renderPass,
			Layers:     1,
			Attachments: []core1_0.ImageView{
				r.chain.colorImageView,
				r.chain.depthImageView,
				imageView,
			},
			Width:  r.chain.extent.Width,
			Height: r.chain.extent.Height,
		})
		if err != nil {
			return fail(err, ErrSwapchainCreateFailed, "create framebuffer")
		}

		r.allocations.add(resourceFramebuffer)
		r.chain.framebuffers = append(r.chain.framebuffers, framebuffer)
	}

	return nil
}

// buildSwapchain creates a full chain generation. The render pass must
// already exist.
func (r *Renderer) buildSwapchain() error {
	if err := r.createSwapchain(); err != nil {
		return err
	}
	if err := r.createImageViews(); err != nil {
		return err
	}
	if err := r.createColorResources(); err != nil {
		return err
	}
	if err := r.createDepthResources(); err != nil {
		return err
	}
	return r.createFramebuffers()
}

func (r *Renderer) cleanupSwapChain() {
	for _, framebuffer := range r.chain.framebuffers {
		r.deviceDriver.DestroyFramebuffer(framebuffer, nil)
		r.allocations.release(resourceFramebuffer)
	}
	r.chain.framebuffers = nil

	r.destroyImageView(&r.chain.colorImageView)
	r.destroyImage(&r.chain.colorImage, &r.chain.colorImageMemory)

	r.destroyImageView(&r.chain.depthImageView)
	r.destroyImage(&r.chain.depthImage, &r.chain.depthImageMemory)

	for i := range r.chain.imageViews {
		r.destroyImageView(&r.chain.imageViews[i])
	}
	r.chain.imageViews = nil
	r.chain.images = nil

	if r.chain.swapchain.Initialized() {
		r.swapchainExtension.DestroySwapchain(r.chain.swapchain, nil)
		r.chain.swapchain = khr_swapchain.Swapchain{}
	}
}

// recreateSwapChain blocks while the window has no drawable area, then
// rebuilds the chain and everything sized to it.
func (r *Renderer) recreateSwapChain() error {
	width, height := r.window.FramebufferSize()
	for width == 0 || height == 0 {
		if r.window.ShouldClose() {
			return nil
		}
		r.window.WaitEvents()
		width, height = r.window.FramebufferSize()
	}

	_, err := r.deviceDriver.DeviceWaitIdle()
	if err != nil {
		return errors.Wrap(err, "wait for device idle")
	}

	// The new chain is sized to the current framebuffer, which covers any
	// resize reported so far.
	r.window.ConsumeResize()
	r.cleanupSwapChain()

	err = r.buildSwapchain()
	if err != nil {
		return errors.Wrap(err, "recreate swap chain")
	}

	r.logger.Info("swap chain recreated",
		"width", r.chain.extent.Width,
		"height", r.chain.extent.Height,
		"imageViews", r.allocations.count(resourceImageView),
		"framebuffers", r.allocations.count(resourceFramebuffer),
		"allocations", r.allocations.count(resourceMemory))
	return nil
}
