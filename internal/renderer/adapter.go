package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

var deviceExtensions = []string{khr_swapchain.ExtensionName}

// QueueFamilyIndices is the {graphics, compute, present} triple. Graphics
// and compute always name the same family.
type QueueFamilyIndices struct {
	GraphicsFamily *int
	ComputeFamily  *int
	PresentFamily  *int
}

func (i *QueueFamilyIndices) IsComplete() bool {
	return i.GraphicsFamily != nil && i.ComputeFamily != nil && i.PresentFamily != nil
}

// UniqueFamilies lists each family once, graphics first.
func (i *QueueFamilyIndices) UniqueFamilies() []int {
	families := []int{*i.GraphicsFamily}
	if *i.ComputeFamily != *i.GraphicsFamily {
		families = append(families, *i.ComputeFamily)
	}
	if *i.PresentFamily != *i.GraphicsFamily && *i.PresentFamily != *i.ComputeFamily {
		families = append(families, *i.PresentFamily)
	}
	return families
}

type queueFamilySupport struct {
	flags   core1_0.QueueFlags
	present bool
}

func selectQueueFamilies(families []queueFamilySupport) QueueFamilyIndices {
	var indices QueueFamilyIndices

	for idx, family := range families {
		if (family.flags&core1_0.QueueGraphics) != 0 && (family.flags&core1_0.QueueCompute) != 0 {
			graphics := idx
			indices.GraphicsFamily = &graphics
			indices.ComputeFamily = &graphics
			break
		}
	}

	if indices.GraphicsFamily != nil && families[*indices.GraphicsFamily].present {
		present := *indices.GraphicsFamily
		indices.PresentFamily = &present
		return indices
	}

	for idx, family := range families {
		if family.present {
			present := idx
			indices.PresentFamily = &present
			break
		}
	}

	return indices
}

type SwapChainSupportDetails struct {
	Capabilities *khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

// adapterCaps is what inspection learned about one physical device.
type adapterCaps struct {
	properties *core1_0.PhysicalDeviceProperties

	name       string
	deviceType core1_0.PhysicalDeviceType

	maxImageDimension2D  int
	maxSamplerAnisotropy float32
	// sampleCounts is the intersection of the color and depth framebuffer
	// sample masks.
	sampleCounts core1_0.SampleCountFlags

	geometryShader     bool
	swapchainExtension bool
	queues             QueueFamilyIndices
	formatCount        int
	presentModeCount   int
}

func deviceTypeBase(deviceType core1_0.PhysicalDeviceType) int {
	switch deviceType {
	case core1_0.PhysicalDeviceTypeDiscreteGPU:
		return 1000
	case core1_0.PhysicalDeviceTypeIntegratedGPU:
		return 500
	case core1_0.PhysicalDeviceTypeVirtualGPU:
		return 250
	case core1_0.PhysicalDeviceTypeCPU:
		return 100
	}
	return 0
}

// scoreAdapter returns 0 for an unusable adapter.
func scoreAdapter(caps adapterCaps) int {
	if !caps.geometryShader || !caps.swapchainExtension || !caps.queues.IsComplete() {
		return 0
	}
	// Surface support is only queried once the swapchain extension is known.
	if caps.formatCount == 0 || caps.presentModeCount == 0 {
		return 0
	}

	score := deviceTypeBase(caps.deviceType)
	score += caps.maxImageDimension2D
	score += 10 * int(caps.maxSamplerAnisotropy)
	score += 10 * int(maxUsableSampleCount(caps.sampleCounts))
	return score
}

// pickAdapter returns the index of the highest score; the earliest wins ties.
func pickAdapter(scores []int) (int, error) {
	best := -1
	bestScore := 0
	for i, score := range scores {
		if score > bestScore {
			best = i
			bestScore = score
		}
	}

	if best < 0 {
		return -1, errors.Wrapf(ErrNoSuitableDevice, "%d adapters enumerated, none usable", len(scores))
	}
	return best, nil
}

var sampleCountsDescending = []core1_0.SampleCountFlags{
	core1_0.Samples64,
	core1_0.Samples32,
	core1_0.Samples16,
	core1_0.Samples8,
	core1_0.Samples4,
	core1_0.Samples2,
}

func maxUsableSampleCount(counts core1_0.SampleCountFlags) core1_0.SampleCountFlags {
	for _, count := range sampleCountsDescending {
		if (counts & count) != 0 {
			return count
		}
	}
	return core1_0.Samples1
}

func (r *Renderer) findQueueFamilies(device core1_0.PhysicalDevice) (QueueFamilyIndices, error) {
	queueFamilies := r.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)

	support := make([]queueFamilySupport, 0, len(queueFamilies))
	for queueFamilyIdx, queueFamily := range queueFamilies {
		supported, _, err := r.surfaceExtension.GetPhysicalDeviceSurfaceSupport(r.surface, device, queueFamilyIdx)
		if err != nil {
			return QueueFamilyIndices{}, err
		}

		support = append(support, queueFamilySupport{
			flags:   queueFamily.QueueFlags,
			present: supported,
		})
	}

	return selectQueueFamilies(support), nil
}

func (r *Renderer) querySwapChainSupport(device core1_0.PhysicalDevice) (SwapChainSupportDetails, error) {
	var details SwapChainSupportDetails
	var err error

	details.Capabilities, _, err = r.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(r.surface, device)
	if err != nil {
		return details, err
	}

	details.Formats, _, err = r.surfaceExtension.GetPhysicalDeviceSurfaceFormats(r.surface, device)
	if err != nil {
		return details, err
	}

	details.PresentModes, _, err = r.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(r.surface, device)
	return details, err
}

func (r *Renderer) checkDeviceExtensionSupport(device core1_0.PhysicalDevice) (bool, error) {
	extensions, _, err := r.instanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return false, err
	}

	for _, extension := range deviceExtensions {
		_, hasExtension := extensions[extension]
		if !hasExtension {
			return false, nil
		}
	}

	return true, nil
}

func (r *Renderer) inspectAdapter(device core1_0.PhysicalDevice) (adapterCaps, error) {
	var caps adapterCaps

	properties, err := r.instanceDriver.GetPhysicalDeviceProperties(device)
	if err != nil {
		return caps, err
	}
	features := r.instanceDriver.GetPhysicalDeviceFeatures(device)

	caps.properties = properties
	caps.name = properties.DriverName
	caps.deviceType = properties.DriverType
	caps.maxImageDimension2D = properties.Limits.MaxImageDimension2D
	caps.maxSamplerAnisotropy = properties.Limits.MaxSamplerAnisotropy
	caps.sampleCounts = properties.Limits.FramebufferColorSampleCounts & properties.Limits.FramebufferDepthSampleCounts
	caps.geometryShader = features.GeometryShader

	caps.queues, err = r.findQueueFamilies(device)
	if err != nil {
		return caps, err
	}

	caps.swapchainExtension, err = r.checkDeviceExtensionSupport(device)
	if err != nil {
		return caps, err
	}

	if caps.swapchainExtension {
		swapChainSupport, err := r.querySwapChainSupport(device)
		if err != nil {
			return caps, err
		}
		caps.formatCount = len(swapChainSupport.Formats)
		caps.presentModeCount = len(swapChainSupport.PresentModes)
	}

	return caps, nil
}

func (r *Renderer) pickPhysicalDevice() error {
	physicalDevices, _, err := r.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return errors.Wrap(err, "enumerate physical devices")
	}

	candidates := make([]adapterCaps, len(physicalDevices))
	scores := make([]int, len(physicalDevices))
	for i, device := range physicalDevices {
		candidates[i], err = r.inspectAdapter(device)
		if err != nil {
			return errors.Wrap(err, "inspect physical device")
		}
		scores[i] = scoreAdapter(candidates[i])
		r.logger.Debug("adapter scored", "name", candidates[i].name, "type", candidates[i].deviceType, "score", scores[i])
	}

	chosen, err := pickAdapter(scores)
	if err != nil {
		return err
	}

	caps := candidates[chosen]
	r.physicalDevice = physicalDevices[chosen]
	r.properties = caps.properties
	r.queueFamilies = caps.queues
	r.allocations.limit = caps.properties.Limits.MaxMemoryAllocationCount
	r.msaaSamples = maxUsableSampleCount(caps.sampleCounts)
	r.logger.Info("adapter selected", "name", caps.name, "score", scores[chosen], "msaa", r.msaaSamples)

	return nil
}
