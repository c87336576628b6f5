package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// frameSlot is everything one in-flight frame owns. Nothing in a slot is
// touched by the host until its inFlight fence has signaled.
type frameSlot struct {
	commandBuffer  core1_0.CommandBuffer
	imageAvailable core1_0.Semaphore
	renderFinished core1_0.Semaphore
	inFlight       core1_0.Fence

	uniforms      mappedBuffer
	descriptorSet core1_0.DescriptorSet

	computeCommandBuffer core1_0.CommandBuffer
	computeFinished      core1_0.Semaphore
	computeFence         core1_0.Fence
	params               mappedBuffer
	storage              core1_0.Buffer
	storageMemory        core1_0.DeviceMemory
	computeSet           core1_0.DescriptorSet
}

func nextFrame(current, frames int) int {
	return (current + 1) % frames
}

type swapchainStatus int

const (
	swapchainOptimal swapchainStatus = iota
	swapchainSuboptimal
	swapchainOutOfDate
)

// classifySwapchainResult separates the recoverable swap chain results of
// acquire and present from real failures.
func classifySwapchainResult(res common.VkResult, err error) (swapchainStatus, error) {
	switch {
	case res == khr_swapchain.VKErrorOutOfDate:
		return swapchainOutOfDate, nil
	case err != nil:
		return swapchainOptimal, err
	case res == khr_swapchain.VKSuboptimal:
		return swapchainSuboptimal, nil
	}
	return swapchainOptimal, nil
}

func presentNeedsRecreate(status swapchainStatus, resized bool) bool {
	return status != swapchainOptimal || resized
}

func (r *Renderer) createCommandBuffers() error {
	buffers, err := r.allocateCommandBuffers(len(r.frames))
	if err != nil {
		return err
	}
	for i := range r.frames {
		r.frames[i].commandBuffer = buffers[i]
	}

	if !r.particlesEnabled() {
		return nil
	}

	buffers, err = r.allocateCommandBuffers(len(r.frames))
	if err != nil {
		return err
	}
	for i := range r.frames {
		r.frames[i].computeCommandBuffer = buffers[i]
	}
	return nil
}

func (r *Renderer) createSemaphore() (core1_0.Semaphore, error) {
	semaphore, _, err := r.deviceDriver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return core1_0.Semaphore{}, errors.Wrap(err, "create semaphore")
	}
	return semaphore, nil
}

// Fences start signaled so the first wait on each slot returns at once.
func (r *Renderer) createSignaledFence() (core1_0.Fence, error) {
	fence, _, err := r.deviceDriver.CreateFence(nil, core1_0.FenceCreateInfo{
		Flags: core1_0.FenceCreateSignaled,
	})
	if err != nil {
		return core1_0.Fence{}, errors.Wrap(err, "create fence")
	}
	return fence, nil
}

func (r *Renderer) createSyncObjects() error {
	var err error
	for i := range r.frames {
		frame := &r.frames[i]

		if frame.imageAvailable, err = r.createSemaphore(); err != nil {
			return err
		}
		if frame.renderFinished, err = r.createSemaphore(); err != nil {
			return err
		}
		if frame.inFlight, err = r.createSignaledFence(); err != nil {
			return err
		}

		if !r.particlesEnabled() {
			continue
		}
		if frame.computeFinished, err = r.createSemaphore(); err != nil {
			return err
		}
		if frame.computeFence, err = r.createSignaledFence(); err != nil {
			return err
		}
	}

	return nil
}

func (r *Renderer) recordCommandBuffer(frame *frameSlot, imageIndex int) error {
	buffer := frame.commandBuffer

	_, err := r.deviceDriver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{})
	if err != nil {
		return errors.Wrap(err, "begin command buffer")
	}

	err = r.deviceDriver.CmdBeginRenderPass(buffer, core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  r.renderPass,
			Framebuffer: r.chain.framebuffers[imageIndex],
			RenderArea: core1_0.Rect2D{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: r.chain.extent,
			},
			ClearValues: []core1_0.ClearValue{
				core1_0.ClearValueFloat{0, 0, 0, 1},
				core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
			},
		})
	if err != nil {
		return errors.Wrap(err, "begin render pass")
	}

	r.deviceDriver.CmdSetViewport(buffer, core1_0.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(r.chain.extent.Width),
		Height:   float32(r.chain.extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	r.deviceDriver.CmdSetScissor(buffer, core1_0.Rect2D{
		Offset: core1_0.Offset2D{X: 0, Y: 0},
		Extent: r.chain.extent,
	})

	r.deviceDriver.CmdBindPipeline(buffer, core1_0.PipelineBindPointGraphics, r.graphicsPipeline)
	r.deviceDriver.CmdBindVertexBuffers(buffer, 0, []core1_0.Buffer{r.vertexBuffer}, []int{0})
	r.deviceDriver.CmdBindIndexBuffer(buffer, r.indexBuffer, 0, core1_0.IndexTypeUInt32)
	r.deviceDriver.CmdBindDescriptorSets(buffer, core1_0.PipelineBindPointGraphics, r.pipelineLayout, 0, []core1_0.DescriptorSet{
		frame.descriptorSet,
	}, nil)
	r.deviceDriver.CmdDrawIndexed(buffer, r.indexCount, 1, 0, 0, 0)

	if r.particlesEnabled() {
		r.recordParticleOverlay(buffer, frame)
	}

	r.deviceDriver.CmdEndRenderPass(buffer)

	_, err = r.deviceDriver.EndCommandBuffer(buffer)
	if err != nil {
		return errors.Wrap(err, "end command buffer")
	}
	return nil
}

func (r *Renderer) drawFrame() error {
	frame := &r.frames[r.currentFrame]

	_, err := r.deviceDriver.WaitForFences(true, common.NoTimeout, frame.inFlight)
	if err != nil {
		return errors.Wrap(err, "wait for frame fence")
	}

	imageIndex, res, err := r.swapchainExtension.AcquireNextImage(r.chain.swapchain, common.NoTimeout, &frame.imageAvailable, nil)
	status, err := classifySwapchainResult(res, err)
	if err != nil {
		return errors.Wrap(err, "acquire swap chain image")
	}
	if status == swapchainOutOfDate {
		// The fence stays signaled so the retry does not wait forever.
		return r.recreateSwapChain()
	}

	waitSemaphores := []core1_0.Semaphore{frame.imageAvailable}
	waitStages := []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput}

	// Compute is submitted only after a successful acquire, so its signal is
	// always consumed by this frame's graphics submit.
	if r.particlesEnabled() {
		if err := r.submitCompute(frame); err != nil {
			return err
		}
		waitSemaphores = append(waitSemaphores, frame.computeFinished)
		waitStages = append(waitStages, core1_0.PipelineStageVertexInput)
	}

	_, err = r.deviceDriver.ResetFences(frame.inFlight)
	if err != nil {
		return errors.Wrap(err, "reset frame fence")
	}

	err = r.updateUniformBuffer(frame)
	if err != nil {
		return err
	}

	_, err = r.deviceDriver.ResetCommandBuffer(frame.commandBuffer, 0)
	if err != nil {
		return errors.Wrap(err, "reset command buffer")
	}

	err = r.recordCommandBuffer(frame, imageIndex)
	if err != nil {
		return err
	}

	_, err = r.deviceDriver.QueueSubmit(r.graphicsQueue, &frame.inFlight,
		core1_0.SubmitInfo{
			WaitSemaphores:   waitSemaphores,
			WaitDstStageMask: waitStages,
			CommandBuffers:   []core1_0.CommandBuffer{frame.commandBuffer},
			SignalSemaphores: []core1_0.Semaphore{frame.renderFinished},
		},
	)
	if err != nil {
		return errors.Wrap(err, "submit draw")
	}

	res, err = r.swapchainExtension.QueuePresent(r.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{frame.renderFinished},
		Swapchains:     []khr_swapchain.Swapchain{r.chain.swapchain},
		ImageIndices:   []int{imageIndex},
	})
	status, err = classifySwapchainResult(res, err)
	if err != nil {
		return errors.Wrap(err, "present")
	}

	r.currentFrame = nextFrame(r.currentFrame, len(r.frames))

	if presentNeedsRecreate(status, r.window.Resized()) {
		return r.recreateSwapChain()
	}
	return nil
}

func (r *Renderer) destroySyncObjects() {
	for i := range r.frames {
		frame := &r.frames[i]

		for _, fence := range []*core1_0.Fence{&frame.inFlight, &frame.computeFence} {
			if fence.Initialized() {
				r.deviceDriver.DestroyFence(*fence, nil)
				*fence = core1_0.Fence{}
			}
		}

		for _, semaphore := range []*core1_0.Semaphore{&frame.imageAvailable, &frame.renderFinished, &frame.computeFinished} {
			if semaphore.Initialized() {
				r.deviceDriver.DestroySemaphore(*semaphore, nil)
				*semaphore = core1_0.Semaphore{}
			}
		}
	}
}
