package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

// cleanup releases everything in reverse creation order. It is safe to call
// after a partial initialization: every handle is checked before it is
// destroyed and zeroed afterwards.
func (r *Renderer) cleanup() error {
	var errs error

	if r.deviceDriver != nil {
		_, err := r.deviceDriver.DeviceWaitIdle()
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "wait for device idle"))
		}

		r.destroyDeviceObjects()

		// The cache is read back before the device that owns it goes away.
		if err := r.savePipelineCache(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
		if r.pipelineCache.Initialized() {
			r.deviceDriver.DestroyPipelineCache(r.pipelineCache, nil)
			r.pipelineCache = core1_0.PipelineCache{}
		}

		if r.commandPool.Initialized() {
			r.deviceDriver.DestroyCommandPool(r.commandPool, nil)
			r.commandPool = core1_0.CommandPool{}
		}

		r.logLeaks()

		r.deviceDriver.DestroyDevice(nil)
		r.deviceDriver = nil
	}

	if r.debugMessenger.Initialized() {
		r.debugDriver.DestroyDebugUtilsMessenger(r.debugMessenger, nil)
		r.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if r.surface.Initialized() {
		r.surfaceExtension.DestroySurface(r.surface, nil)
		r.surface = khr_surface.Surface{}
	}

	if r.instanceDriver != nil {
		r.instanceDriver.DestroyInstance(nil)
		r.instanceDriver = nil
	}

	if r.window != nil {
		r.window.Destroy()
		r.window = nil
	}

	return errs
}

func (r *Renderer) destroyDeviceObjects() {
	r.cleanupSwapChain()
	r.destroyParticles()
	r.destroyTexture()

	for i := range r.frames {
		r.destroyMappedBuffer(&r.frames[i].uniforms)
	}

	if r.descriptorPool.Initialized() {
		r.deviceDriver.DestroyDescriptorPool(r.descriptorPool, nil)
		r.descriptorPool = core1_0.DescriptorPool{}
	}
	if r.descriptorSetLayout.Initialized() {
		r.deviceDriver.DestroyDescriptorSetLayout(r.descriptorSetLayout, nil)
		r.descriptorSetLayout = core1_0.DescriptorSetLayout{}
	}

	r.destroyBuffer(&r.indexBuffer, &r.indexBufferMemory)
	r.destroyBuffer(&r.vertexBuffer, &r.vertexBufferMemory)

	if r.graphicsPipeline.Initialized() {
		r.deviceDriver.DestroyPipeline(r.graphicsPipeline, nil)
		r.graphicsPipeline = core1_0.Pipeline{}
	}
	if r.pipelineLayout.Initialized() {
		r.deviceDriver.DestroyPipelineLayout(r.pipelineLayout, nil)
		r.pipelineLayout = core1_0.PipelineLayout{}
	}
	if r.renderPass.Initialized() {
		r.deviceDriver.DestroyRenderPass(r.renderPass, nil)
		r.renderPass = core1_0.RenderPass{}
	}

	r.destroySyncObjects()
}

// logLeaks reports tracked resources that outlived their owners.
func (r *Renderer) logLeaks() {
	for _, kind := range []resourceKind{resourceMemory, resourceImageView, resourceFramebuffer} {
		if live := r.allocations.count(kind); live != 0 {
			r.logger.Warn("resource leaked", "kind", kind, "live", live)
		}
	}
}
