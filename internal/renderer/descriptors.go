package renderer

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

func graphicsPoolSizes(frames int) []core1_0.DescriptorPoolSize {
	return []core1_0.DescriptorPoolSize{
		{
			Type:            core1_0.DescriptorTypeUniformBuffer,
			DescriptorCount: frames,
		},
		{
			Type:            core1_0.DescriptorTypeCombinedImageSampler,
			DescriptorCount: frames,
		},
	}
}

// Each compute set reads last frame's particles and writes this frame's.
func computePoolSizes(frames int) []core1_0.DescriptorPoolSize {
	return []core1_0.DescriptorPoolSize{
		{
			Type:            core1_0.DescriptorTypeUniformBuffer,
			DescriptorCount: frames,
		},
		{
			Type:            core1_0.DescriptorTypeStorageBuffer,
			DescriptorCount: 2 * frames,
		},
	}
}

// previousFrame is the slot submitted just before slot i. Written as
// (i + frames - 1) so that slot 0 wraps to frames-1 instead of underflowing.
func previousFrame(i, frames int) int {
	return (i + frames - 1) % frames
}

func (r *Renderer) createDescriptorSetLayout() error {
	var err error
	r.descriptorSetLayout, _, err = r.deviceDriver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,

				StageFlags: core1_0.StageVertex,
			},
			{
				Binding:         1,
				DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,

				StageFlags: core1_0.StageFragment,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create descriptor set layout")
	}

	return nil
}

func (r *Renderer) createDescriptorPool() error {
	var err error
	r.descriptorPool, _, err = r.deviceDriver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets:   len(r.frames),
		PoolSizes: graphicsPoolSizes(len(r.frames)),
	})
	if err != nil {
		return errors.Wrap(err, "create descriptor pool")
	}
	return nil
}

func (r *Renderer) allocateDescriptorSets(pool core1_0.DescriptorPool, layout core1_0.DescriptorSetLayout) ([]core1_0.DescriptorSet, error) {
	allocLayouts := make([]core1_0.DescriptorSetLayout, len(r.frames))
	for i := range allocLayouts {
		allocLayouts[i] = layout
	}

	sets, _, err := r.deviceDriver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     allocLayouts,
	})
	if err != nil {
		return nil, errors.Wrap(err, "allocate descriptor sets")
	}
	return sets, nil
}

func (r *Renderer) createDescriptorSets() error {
	sets, err := r.allocateDescriptorSets(r.descriptorPool, r.descriptorSetLayout)
	if err != nil {
		return err
	}

	for i := range r.frames {
		r.frames[i].descriptorSet = sets[i]

		err = r.deviceDriver.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
			{
				DstSet:          sets[i],
				DstBinding:      0,
				DstArrayElement: 0,

				DescriptorType: core1_0.DescriptorTypeUniformBuffer,

				BufferInfo: []core1_0.DescriptorBufferInfo{
					{
						Buffer: r.frames[i].uniforms.buffer,
						Offset: 0,
						Range:  int(unsafe.Sizeof(UniformBlock{})),
					},
				},
			},
			{
				DstSet:          sets[i],
				DstBinding:      1,
				DstArrayElement: 0,

				DescriptorType: core1_0.DescriptorTypeCombinedImageSampler,

				ImageInfo: []core1_0.DescriptorImageInfo{
					{
						ImageView:   r.texture.view,
						Sampler:     r.texture.sampler,
						ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
					},
				},
			},
		}, nil)
		if err != nil {
			return errors.Wrapf(err, "write descriptor set %d", i)
		}
	}

	return nil
}
