package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

func (r *Renderer) createCommandPool() error {
	// Graphics and compute share a family, so one pool serves both queues.
	pool, _, err := r.deviceDriver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: *r.queueFamilies.GraphicsFamily,
	})
	if err != nil {
		return fail(err, ErrCommandPoolFailed, "create command pool")
	}
	r.commandPool = pool

	return nil
}

func (r *Renderer) allocateCommandBuffers(count int) ([]core1_0.CommandBuffer, error) {
	buffers, _, err := r.deviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        r.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, fail(err, ErrCommandPoolFailed, "allocate %d command buffers", count)
	}
	return buffers, nil
}

func (r *Renderer) beginSingleTimeCommands() (core1_0.CommandBuffer, error) {
	buffers, err := r.allocateCommandBuffers(1)
	if err != nil {
		return core1_0.CommandBuffer{}, err
	}

	buffer := buffers[0]
	_, err = r.deviceDriver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		r.deviceDriver.FreeCommandBuffers(buffer)
		return core1_0.CommandBuffer{}, errors.Wrap(err, "begin single-time commands")
	}
	return buffer, nil
}

// endSingleTimeCommands submits buffer on the graphics queue, waits for the
// queue to drain and frees buffer whether or not the submit succeeded.
func (r *Renderer) endSingleTimeCommands(buffer core1_0.CommandBuffer) error {
	defer r.deviceDriver.FreeCommandBuffers(buffer)

	_, err := r.deviceDriver.EndCommandBuffer(buffer)
	if err != nil {
		return errors.Wrap(err, "end single-time commands")
	}

	_, err = r.deviceDriver.QueueSubmit(r.graphicsQueue, nil,
		core1_0.SubmitInfo{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	)
	if err != nil {
		return errors.Wrap(err, "submit single-time commands")
	}

	_, err = r.deviceDriver.QueueWaitIdle(r.graphicsQueue)
	if err != nil {
		return errors.Wrap(err, "wait for single-time commands")
	}

	return nil
}

func (r *Renderer) copyBuffer(srcBuffer core1_0.Buffer, dstBuffer core1_0.Buffer, size int) error {
	buffer, err := r.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	err = r.deviceDriver.CmdCopyBuffer(buffer, srcBuffer, dstBuffer,
		core1_0.BufferCopy{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      size,
		},
	)
	if err != nil {
		r.deviceDriver.FreeCommandBuffers(buffer)
		return errors.Wrap(err, "record buffer copy")
	}

	return r.endSingleTimeCommands(buffer)
}
