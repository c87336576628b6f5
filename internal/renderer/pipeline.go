package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
)

const minSampleShading = 0.2

const colorWriteAll = core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha

// fixedState is the non-shader part of a graphics pipeline.
type fixedState struct {
	vertexInput   *core1_0.PipelineVertexInputStateCreateInfo
	inputAssembly *core1_0.PipelineInputAssemblyStateCreateInfo
	viewport      *core1_0.PipelineViewportStateCreateInfo
	rasterization *core1_0.PipelineRasterizationStateCreateInfo
	multisample   *core1_0.PipelineMultisampleStateCreateInfo
	depthStencil  *core1_0.PipelineDepthStencilStateCreateInfo
	colorBlend    *core1_0.PipelineColorBlendStateCreateInfo
	dynamic       *core1_0.PipelineDynamicStateCreateInfo
}

// Viewport and scissor are set while recording, so one viewport/scissor
// slot is declared with no contents.
func dynamicViewportState() (*core1_0.PipelineViewportStateCreateInfo, *core1_0.PipelineDynamicStateCreateInfo) {
	return &core1_0.PipelineViewportStateCreateInfo{
			Viewports: []core1_0.Viewport{{}},
			Scissors:  []core1_0.Rect2D{{}},
		}, &core1_0.PipelineDynamicStateCreateInfo{
			DynamicStates: []core1_0.DynamicState{core1_0.DynamicStateViewport, core1_0.DynamicStateScissor},
		}
}

func meshFixedState(samples core1_0.SampleCountFlags, sampleShading bool) fixedState {
	viewport, dynamic := dynamicViewportState()

	multisample := &core1_0.PipelineMultisampleStateCreateInfo{
		RasterizationSamples: samples,
		MinSampleShading:     1.0,
	}
	if sampleShading {
		multisample.SampleShadingEnable = true
		multisample.MinSampleShading = minSampleShading
	}

	return fixedState{
		vertexInput: &core1_0.PipelineVertexInputStateCreateInfo{
			VertexBindingDescriptions:   vertexBindingDescription(),
			VertexAttributeDescriptions: vertexAttributeDescriptions(),
		},
		inputAssembly: &core1_0.PipelineInputAssemblyStateCreateInfo{
			Topology:               core1_0.PrimitiveTopologyTriangleList,
			PrimitiveRestartEnable: false,
		},
		viewport: viewport,
		rasterization: &core1_0.PipelineRasterizationStateCreateInfo{
			DepthClampEnable:        false,
			RasterizerDiscardEnable: false,

			PolygonMode: core1_0.PolygonModeFill,
			CullMode:    core1_0.CullModeBack,
			FrontFace:   core1_0.FrontFaceCounterClockwise,

			DepthBiasEnable: false,

			LineWidth: 1.0,
		},
		multisample: multisample,
		// Required because the render pass always carries a depth attachment.
		depthStencil: &core1_0.PipelineDepthStencilStateCreateInfo{
			DepthTestEnable:       true,
			DepthWriteEnable:      true,
			DepthCompareOp:        core1_0.CompareOpLess,
			DepthBoundsTestEnable: false,
			StencilTestEnable:     false,
		},
		colorBlend: &core1_0.PipelineColorBlendStateCreateInfo{
			LogicOpEnabled: false,
			LogicOp:        core1_0.LogicOpCopy,

			BlendConstants: [4]float32{0, 0, 0, 0},
			Attachments: []core1_0.PipelineColorBlendAttachmentState{
				{
					BlendEnabled:   false,
					ColorWriteMask: colorWriteAll,
				},
			},
		},
		dynamic: dynamic,
	}
}

// particleFixedState draws particles as unculled points over the mesh,
// ignoring depth.
func particleFixedState(samples core1_0.SampleCountFlags) fixedState {
	state := meshFixedState(samples, false)

	state.vertexInput = &core1_0.PipelineVertexInputStateCreateInfo{
		VertexBindingDescriptions:   particleBindingDescription(),
		VertexAttributeDescriptions: particleAttributeDescriptions(),
	}
	state.inputAssembly = &core1_0.PipelineInputAssemblyStateCreateInfo{
		Topology: core1_0.PrimitiveTopologyPointList,
	}
	state.rasterization.CullMode = 0
	state.depthStencil = &core1_0.PipelineDepthStencilStateCreateInfo{
		DepthTestEnable:  false,
		DepthWriteEnable: false,
		DepthCompareOp:   core1_0.CompareOpAlways,
	}
	return state
}

func (s fixedState) createInfo(stages []core1_0.PipelineShaderStageCreateInfo, layout core1_0.PipelineLayout, renderPass core1_0.RenderPass) core1_0.GraphicsPipelineCreateInfo {
	return core1_0.GraphicsPipelineCreateInfo{
		Stages:             stages,
		VertexInputState:   s.vertexInput,
		InputAssemblyState: s.inputAssembly,
		ViewportState:      s.viewport,
		RasterizationState: s.rasterization,
		MultisampleState:   s.multisample,
		DepthStencilState:  s.depthStencil,
		ColorBlendState:    s.colorBlend,
		DynamicState:       s.dynamic,
		Layout:             layout,
		RenderPass:         renderPass,
		Subpass:            0,
		BasePipelineIndex:  -1,
	}
}

func (r *Renderer) createShaderModule(code []uint32, name string) (core1_0.ShaderModule, error) {
	module, _, err := r.deviceDriver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return core1_0.ShaderModule{}, fail(err, ErrShaderModuleFailed, "create %s shader module", name)
	}
	return module, nil
}

// graphicsStages builds a vertex+fragment stage pair. The returned release
// func destroys whichever modules were created.
func (r *Renderer) graphicsStages(vertCode, fragCode []uint32) ([]core1_0.PipelineShaderStageCreateInfo, func(), error) {
	vertShader, err := r.createShaderModule(vertCode, "vertex")
	if err != nil {
		return nil, func() {}, err
	}

	fragShader, err := r.createShaderModule(fragCode, "fragment")
	if err != nil {
		r.deviceDriver.DestroyShaderModule(vertShader, nil)
		return nil, func() {}, err
	}

	release := func() {
		r.deviceDriver.DestroyShaderModule(fragShader, nil)
		r.deviceDriver.DestroyShaderModule(vertShader, nil)
	}

	return []core1_0.PipelineShaderStageCreateInfo{
		{
			Stage:  core1_0.StageVertex,
			Module: vertShader,
			Name:   "main",
		},
		{
			Stage:  core1_0.StageFragment,
			Module: fragShader,
			Name:   "main",
		},
	}, release, nil
}

func (r *Renderer) createGraphicsPipelineFrom(info core1_0.GraphicsPipelineCreateInfo, name string) (core1_0.Pipeline, error) {
	start := hrtime.Now()
	pipelines, _, err := r.deviceDriver.CreateGraphicsPipelines(r.pipelineCachePtr(), nil, info)
	if err != nil {
		return core1_0.Pipeline{}, fail(err, ErrPipelineCreateFailed, "create %s pipeline", name)
	}

	r.logger.Debug("pipeline created", "pipeline", name, "elapsed", hrtime.Now()-start)
	return pipelines[0], nil
}

func (r *Renderer) createGraphicsPipeline() error {
	stages, release, err := r.graphicsStages(r.bundle.VertexShader, r.bundle.FragmentShader)
	defer release()
	if err != nil {
		return err
	}

	r.pipelineLayout, _, err = r.deviceDriver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{
			r.descriptorSetLayout,
		},
	})
	if err != nil {
		return fail(err, ErrPipelineCreateFailed, "create graphics pipeline layout")
	}

	state := meshFixedState(r.msaaSamples, r.features.SampleRateShading)
	r.graphicsPipeline, err = r.createGraphicsPipelineFrom(state.createInfo(stages, r.pipelineLayout, r.renderPass), "graphics")
	return err
}

func (r *Renderer) createParticlePipeline() error {
	stages, release, err := r.graphicsStages(r.bundle.ParticleVertexShader, r.bundle.ParticleFragmentShader)
	defer release()
	if err != nil {
		return err
	}

	r.particles.overlayLayout, _, err = r.deviceDriver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{})
	if err != nil {
		return fail(err, ErrPipelineCreateFailed, "create particle pipeline layout")
	}

	state := particleFixedState(r.msaaSamples)
	r.particles.graphicsPipeline, err = r.createGraphicsPipelineFrom(state.createInfo(stages, r.particles.overlayLayout, r.renderPass), "particle")
	if err != nil {
		return errors.Wrap(err, "particle overlay")
	}
	return nil
}
