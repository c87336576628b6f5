package renderer

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
)

func queueCreateInfos(families []int) []core1_0.DeviceQueueCreateInfo {
	queuePriority := float32(1.0)

	var infos []core1_0.DeviceQueueCreateInfo
	for _, queueFamily := range families {
		infos = append(infos, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}
	return infos
}

// enabledFeatures requests only what the adapter supports.
func enabledFeatures(supported *core1_0.PhysicalDeviceFeatures) *core1_0.PhysicalDeviceFeatures {
	return &core1_0.PhysicalDeviceFeatures{
		SamplerAnisotropy: supported.SamplerAnisotropy,
		SampleRateShading: supported.SampleRateShading,
	}
}

func (r *Renderer) createLogicalDevice() error {
	indices := r.queueFamilies

	extensionNames := append([]string(nil), deviceExtensions...)

	// Required by MoltenVK and other portability drivers when advertised.
	extensions, _, err := r.instanceDriver.EnumerateDeviceExtensionProperties(r.physicalDevice)
	if err != nil {
		return fail(err, ErrDeviceCreateFailed, "enumerate device extensions")
	}
	if _, supported := extensions[khr_portability_subset.ExtensionName]; supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	features := enabledFeatures(r.instanceDriver.GetPhysicalDeviceFeatures(r.physicalDevice))
	r.features = *features

	device, _, err := r.instanceDriver.CreateDevice(r.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queueCreateInfos(indices.UniqueFamilies()),
		EnabledFeatures:       features,
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return fail(err, ErrDeviceCreateFailed, "create logical device")
	}

	r.deviceDriver, err = r.instanceDriver.BuildDeviceDriver(device)
	if err != nil {
		return fail(err, ErrDeviceCreateFailed, "load device driver")
	}

	r.graphicsQueue = r.deviceDriver.GetQueue(*indices.GraphicsFamily, 0)
	r.computeQueue = r.deviceDriver.GetQueue(*indices.ComputeFamily, 0)
	r.presentQueue = r.deviceDriver.GetQueue(*indices.PresentFamily, 0)

	r.logger.Debug("logical device created",
		"graphicsFamily", *indices.GraphicsFamily,
		"presentFamily", *indices.PresentFamily,
		"anisotropy", features.SamplerAnisotropy,
		"sampleShading", features.SampleRateShading)
	return nil
}
