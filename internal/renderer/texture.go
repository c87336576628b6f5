package renderer

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/tutorial/internal/assets"
)

const textureFormat = core1_0.FormatR8G8B8A8SRGB

type textureObject struct {
	image     core1_0.Image
	memory    core1_0.DeviceMemory
	view      core1_0.ImageView
	sampler   core1_0.Sampler
	mipLevels int
}

// mipLevelCount includes the base level, so a 512x512 image has 10 levels
// ending at 1x1.
func mipLevelCount(width, height int) int {
	return int(math.Floor(math.Log2(math.Max(float64(width), float64(height))))) + 1
}

func nextMipExtent(dim int) int {
	if dim > 1 {
		return dim / 2
	}
	return 1
}

type layoutTransition struct {
	srcAccess, dstAccess core1_0.AccessFlags
	srcStage, dstStage   core1_0.PipelineStageFlags
}

func transitionFor(oldLayout, newLayout core1_0.ImageLayout) (layoutTransition, error) {
	switch {
	case oldLayout == core1_0.ImageLayoutUndefined && newLayout == core1_0.ImageLayoutTransferDstOptimal:
		return layoutTransition{
			srcAccess: 0,
			dstAccess: core1_0.AccessTransferWrite,
			srcStage:  core1_0.PipelineStageTopOfPipe,
			dstStage:  core1_0.PipelineStageTransfer,
		}, nil
	case oldLayout == core1_0.ImageLayoutTransferDstOptimal && newLayout == core1_0.ImageLayoutTransferSrcOptimal:
		return layoutTransition{
			srcAccess: core1_0.AccessTransferWrite,
			dstAccess: core1_0.AccessTransferRead,
			srcStage:  core1_0.PipelineStageTransfer,
			dstStage:  core1_0.PipelineStageTransfer,
		}, nil
	case oldLayout == core1_0.ImageLayoutTransferSrcOptimal && newLayout == core1_0.ImageLayoutShaderReadOnlyOptimal:
		return layoutTransition{
			srcAccess: core1_0.AccessTransferRead,
			dstAccess: core1_0.AccessShaderRead,
			srcStage:  core1_0.PipelineStageTransfer,
			dstStage:  core1_0.PipelineStageFragmentShader,
		}, nil
	case oldLayout == core1_0.ImageLayoutTransferDstOptimal && newLayout == core1_0.ImageLayoutShaderReadOnlyOptimal:
		return layoutTransition{
			srcAccess: core1_0.AccessTransferWrite,
			dstAccess: core1_0.AccessShaderRead,
			srcStage:  core1_0.PipelineStageTransfer,
			dstStage:  core1_0.PipelineStageFragmentShader,
		}, nil
	}

	return layoutTransition{}, errors.AssertionFailedf("unsupported layout transition: %s -> %s", oldLayout, newLayout)
}

type mipCommandKind int

const (
	mipBarrier mipCommandKind = iota
	mipBlit
)

// mipCommand is one step of mip generation. Barriers move level between
// layouts; blits downsample level-1 into level.
type mipCommand struct {
	kind  mipCommandKind
	level int

	oldLayout core1_0.ImageLayout
	newLayout core1_0.ImageLayout

	srcWidth, srcHeight int
	dstWidth, dstHeight int
}

// planMipChain expects every level in TRANSFER_DST with level 0 filled and
// leaves every level in SHADER_READ_ONLY.
func planMipChain(width, height, mipLevels int) []mipCommand {
	var plan []mipCommand

	mipWidth := width
	mipHeight := height
	for i := 1; i < mipLevels; i++ {
		nextMipWidth := nextMipExtent(mipWidth)
		nextMipHeight := nextMipExtent(mipHeight)

		plan = append(plan,
			mipCommand{
				kind:      mipBarrier,
				level:     i - 1,
				oldLayout: core1_0.ImageLayoutTransferDstOptimal,
				newLayout: core1_0.ImageLayoutTransferSrcOptimal,
			},
			mipCommand{
				kind:      mipBlit,
				level:     i,
				srcWidth:  mipWidth,
				srcHeight: mipHeight,
				dstWidth:  nextMipWidth,
				dstHeight: nextMipHeight,
			},
			mipCommand{
				kind:      mipBarrier,
				level:     i - 1,
				oldLayout: core1_0.ImageLayoutTransferSrcOptimal,
				newLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
			},
		)

		mipWidth = nextMipWidth
		mipHeight = nextMipHeight
	}

	// The last level was only ever written to.
	return append(plan, mipCommand{
		kind:      mipBarrier,
		level:     mipLevels - 1,
		oldLayout: core1_0.ImageLayoutTransferDstOptimal,
		newLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
	})
}

func colorSubresource(level int) core1_0.ImageSubresourceLayers {
	return core1_0.ImageSubresourceLayers{
		AspectMask:     core1_0.ImageAspectColor,
		MipLevel:       level,
		BaseArrayLayer: 0,
		LayerCount:     1,
	}
}

func (r *Renderer) cmdTransition(buffer core1_0.CommandBuffer, image core1_0.Image, oldLayout, newLayout core1_0.ImageLayout, baseLevel, levelCount int) error {
	transition, err := transitionFor(oldLayout, newLayout)
	if err != nil {
		return err
	}

	return r.deviceDriver.CmdPipelineBarrier(buffer, transition.srcStage, transition.dstStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			OldLayout:           oldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               image,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   baseLevel,
				LevelCount:     levelCount,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			SrcAccessMask: transition.srcAccess,
			DstAccessMask: transition.dstAccess,
		},
	})
}

func (r *Renderer) recordMipCommand(buffer core1_0.CommandBuffer, image core1_0.Image, cmd mipCommand) error {
	if cmd.kind == mipBarrier {
		return r.cmdTransition(buffer, image, cmd.oldLayout, cmd.newLayout, cmd.level, 1)
	}

	return r.deviceDriver.CmdBlitImage(buffer, image, core1_0.ImageLayoutTransferSrcOptimal, image, core1_0.ImageLayoutTransferDstOptimal, []core1_0.ImageBlit{
		{
			SrcSubresource: colorSubresource(cmd.level - 1),
			SrcOffsets: [2]core1_0.Offset3D{
				{X: 0, Y: 0, Z: 0},
				{X: cmd.srcWidth, Y: cmd.srcHeight, Z: 1},
			},

			DstSubresource: colorSubresource(cmd.level),
			DstOffsets: [2]core1_0.Offset3D{
				{X: 0, Y: 0, Z: 0},
				{X: cmd.dstWidth, Y: cmd.dstHeight, Z: 1},
			},
		},
	}, core1_0.FilterLinear)
}

// checkLinearBlit fails unless optimally tiled images of format can be
// blitted with a linear filter, which mip generation relies on.
func checkLinearBlit(format core1_0.Format, properties func(core1_0.Format) *core1_0.FormatProperties) error {
	if (properties(format).OptimalTilingFeatures & core1_0.FormatFeatureSampledImageFilterLinear) == 0 {
		return errors.Wrapf(ErrLinearBlitUnsupported, "texture image format %s", format)
	}
	return nil
}

// stagedImageUpload moves every level of image to TRANSFER_DST and copies
// pixels into level 0.
func (r *Renderer) stagedImageUpload(pixels []byte, image core1_0.Image, width, height, mipLevels int) error {
	stagingBuffer, stagingMemory, err := r.createBuffer(len(pixels), core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return err
	}
	defer r.destroyBuffer(&stagingBuffer, &stagingMemory)

	err = writeData(r.deviceDriver, stagingMemory, 0, pixels)
	if err != nil {
		return err
	}

	buffer, err := r.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	err = r.cmdTransition(buffer, image, core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal, 0, mipLevels)
	if err != nil {
		r.deviceDriver.FreeCommandBuffers(buffer)
		return err
	}

	err = r.deviceDriver.CmdCopyBufferToImage(buffer, stagingBuffer, image, core1_0.ImageLayoutTransferDstOptimal,
		core1_0.BufferImageCopy{
			BufferOffset:      0,
			BufferRowLength:   0,
			BufferImageHeight: 0,

			ImageSubresource: colorSubresource(0),
			ImageOffset:      core1_0.Offset3D{X: 0, Y: 0, Z: 0},
			ImageExtent:      core1_0.Extent3D{Width: width, Height: height, Depth: 1},
		},
	)
	if err != nil {
		r.deviceDriver.FreeCommandBuffers(buffer)
		return errors.Wrap(err, "record buffer to image copy")
	}

	return r.endSingleTimeCommands(buffer)
}

func (r *Renderer) generateMipmaps(image core1_0.Image, width, height, mipLevels int) error {
	buffer, err := r.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	for _, cmd := range planMipChain(width, height, mipLevels) {
		if err := r.recordMipCommand(buffer, image, cmd); err != nil {
			r.deviceDriver.FreeCommandBuffers(buffer)
			return errors.Wrapf(err, "record mip level %d", cmd.level)
		}
	}

	return r.endSingleTimeCommands(buffer)
}

func (r *Renderer) createTextureImage(img *assets.Image) error {
	if img.Channels != 4 || !img.Valid() {
		return errors.AssertionFailedf("texture must be packed RGBA8, got %dx%d with %d channels", img.Width, img.Height, img.Channels)
	}

	err := checkLinearBlit(textureFormat, r.formatProperties)
	if err != nil {
		return err
	}

	r.texture.mipLevels = mipLevelCount(img.Width, img.Height)
	r.texture.image, r.texture.memory, err = r.createImage(imageSpec{
		width:      img.Width,
		height:     img.Height,
		mipLevels:  r.texture.mipLevels,
		samples:    core1_0.Samples1,
		format:     textureFormat,
		tiling:     core1_0.ImageTilingOptimal,
		usage:      core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled,
		properties: core1_0.MemoryPropertyDeviceLocal,
	})
	if err != nil {
		return err
	}

	err = r.stagedImageUpload(img.Pixels, r.texture.image, img.Width, img.Height, r.texture.mipLevels)
	if err != nil {
		return err
	}

	err = r.generateMipmaps(r.texture.image, img.Width, img.Height, r.texture.mipLevels)
	if err != nil {
		return err
	}

	r.logger.Debug("texture uploaded", "width", img.Width, "height", img.Height, "mipLevels", r.texture.mipLevels)
	return nil
}

func (r *Renderer) createTextureImageView() error {
	var err error
	r.texture.view, err = r.createImageView(r.texture.image, textureFormat, core1_0.ImageAspectColor, r.texture.mipLevels)
	return err
}

// samplerInfo falls back to isotropic filtering when the device lacks
// anisotropy.
func samplerInfo(mipLevels int, anisotropy bool, maxAnisotropy float32) core1_0.SamplerCreateInfo {
	info := core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		AnisotropyEnable: false,
		MaxAnisotropy:    1.0,

		BorderColor:             core1_0.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: false,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
		MinLod:     0,
		MaxLod:     float32(mipLevels),
	}

	if anisotropy {
		info.AnisotropyEnable = true
		info.MaxAnisotropy = maxAnisotropy
	}
	return info
}

func (r *Renderer) createSampler() error {
	var err error
	r.texture.sampler, _, err = r.deviceDriver.CreateSampler(nil, samplerInfo(
		r.texture.mipLevels,
		r.features.SamplerAnisotropy,
		r.properties.Limits.MaxSamplerAnisotropy))
	if err != nil {
		return errors.Wrap(err, "create texture sampler")
	}
	return nil
}

func (r *Renderer) destroyTexture() {
	if r.texture.sampler.Initialized() {
		r.deviceDriver.DestroySampler(r.texture.sampler, nil)
		r.texture.sampler = core1_0.Sampler{}
	}
	r.destroyImageView(&r.texture.view)
	r.destroyImage(&r.texture.image, &r.texture.memory)
}
