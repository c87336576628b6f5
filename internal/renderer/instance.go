package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/tutorial/internal/config"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}

// instanceExtensions appends the optional extensions to the windowing
// layer's required list, failing on the first required extension the loader
// does not offer. Validation makes debug utils required too.
func instanceExtensions(required []string, available map[string]struct{}, validation bool) ([]string, bool, error) {
	if validation {
		required = append(required[:len(required):len(required)], ext_debug_utils.ExtensionName)
	}

	var names []string
	for _, ext := range required {
		if _, ok := available[ext]; !ok {
			return nil, false, errors.Wrapf(ErrMissingExtension, "instance extension %s", ext)
		}
		names = append(names, ext)
	}

	_, portability := available[khr_portability_enumeration.ExtensionName]
	if portability {
		names = append(names, khr_portability_enumeration.ExtensionName)
	}

	return names, portability, nil
}

func checkValidationLayers(available map[string]struct{}) error {
	for _, layer := range validationLayers {
		if _, ok := available[layer]; !ok {
			return errors.WithHint(
				errors.Wrapf(ErrValidationLayerUnavailable, "layer %s", layer),
				"install the LunarG Vulkan SDK or build with -tags release")
		}
	}
	return nil
}

func keySet[T any](m map[string]T) map[string]struct{} {
	set := make(map[string]struct{}, len(m))
	for k := range m {
		set[k] = struct{}{}
	}
	return set
}

func (r *Renderer) createInstance() error {
	var err error
	r.globalDriver, err = core.CreateDriverFromProcAddr(r.window.ProcAddr())
	if err != nil {
		return errors.Wrap(err, "load vulkan driver")
	}

	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    r.cfg.Title,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "No Engine",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	extensions, _, err := r.globalDriver.AvailableExtensions()
	if err != nil {
		return errors.Wrap(err, "enumerate instance extensions")
	}
	available := keySet(extensions)

	if config.EnableValidationLayers {
		layers, _, err := r.globalDriver.AvailableLayers()
		if err != nil {
			return errors.Wrap(err, "enumerate instance layers")
		}

		if err := checkValidationLayers(keySet(layers)); err != nil {
			return err
		}
		instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, validationLayers...)

		// Enabled layers may provide extensions of their own.
		for _, layer := range validationLayers {
			layerExtensions, _, err := r.globalDriver.AvailableExtensionsForLayer(layer)
			if err != nil {
				return errors.Wrapf(err, "enumerate extensions of layer %s", layer)
			}
			for name := range layerExtensions {
				available[name] = struct{}{}
			}
		}

		// Covers messages emitted during vkCreateInstance itself.
		instanceOptions.Next = r.debugMessengerOptions()
	}

	var portability bool
	instanceOptions.EnabledExtensionNames, portability, err = instanceExtensions(
		r.window.RequiredInstanceExtensions(),
		available,
		config.EnableValidationLayers)
	if err != nil {
		return err
	}
	if portability {
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	instance, _, err := r.globalDriver.CreateInstance(nil, instanceOptions)
	if err != nil {
		return errors.Wrap(err, "create instance")
	}

	r.instanceDriver, err = r.globalDriver.BuildInstanceDriver(instance)
	if err != nil {
		return errors.Wrap(err, "load instance driver")
	}

	r.logger.Debug("instance created", "extensions", instanceOptions.EnabledExtensionNames, "layers", instanceOptions.EnabledLayerNames)
	return nil
}

func (r *Renderer) createSurface() error {
	r.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(r.instanceDriver)

	surface, err := r.window.CreateSurface(r.instanceDriver.Instance(), r.surfaceExtension)
	if err != nil {
		return fail(err, ErrSurfaceCreateFailed, "create surface")
	}

	r.surface = surface
	return nil
}
