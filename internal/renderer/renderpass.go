package renderer

import (
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

const (
	colorAttachment = iota
	depthAttachment
	resolveAttachment
)

// renderPassInfo describes a single subpass rendering into a multisampled
// color and depth target, resolving into the presentable swap chain image.
func renderPassInfo(colorFormat, depthFormat core1_0.Format, samples core1_0.SampleCountFlags) core1_0.RenderPassCreateInfo {
	return core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			colorAttachment: {
				Format:         colorFormat,
				Samples:        samples,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutColorAttachmentOptimal,
			},
			depthAttachment: {
				Format:         depthFormat,
				Samples:        samples,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpDontCare,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			},
			resolveAttachment: {
				Format:         colorFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpDontCare,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: colorAttachment,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
				ResolveAttachments: []core1_0.AttachmentReference{
					{
						Attachment: resolveAttachment,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
				DepthStencilAttachment: &core1_0.AttachmentReference{
					Attachment: depthAttachment,
					Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	}
}

func (r *Renderer) createRenderPass() error {
	depthFormat, err := r.findDepthFormat()
	if err != nil {
		return err
	}

	renderPass, _, err := r.deviceDriver.CreateRenderPass(nil, renderPassInfo(r.chain.format, depthFormat, r.msaaSamples))
	if err != nil {
		return fail(err, ErrPipelineCreateFailed, "create render pass")
	}

	r.renderPass = renderPass
	return nil
}
