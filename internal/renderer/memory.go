package renderer

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// findMemoryTypeIndex returns the first memory type allowed by typeFilter
// whose flags contain every requested property.
func findMemoryTypeIndex(types []core1_0.MemoryPropertyFlags, typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for i, flags := range types {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (flags&properties) == properties {
			return i, nil
		}
	}

	return -1, errors.Wrapf(ErrNoMemoryType, "filter %#x, properties %s", typeFilter, properties)
}

func (r *Renderer) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := r.instanceDriver.GetPhysicalDeviceMemoryProperties(r.physicalDevice)

	types := make([]core1_0.MemoryPropertyFlags, len(memProperties.MemoryTypes))
	for i, memoryType := range memProperties.MemoryTypes {
		types[i] = memoryType.PropertyFlags
	}

	return findMemoryTypeIndex(types, typeFilter, properties)
}

type resourceKind int

const (
	resourceMemory resourceKind = iota
	resourceImageView
	resourceFramebuffer
	resourceKindCount
)

func (k resourceKind) String() string {
	switch k {
	case resourceMemory:
		return "memory"
	case resourceImageView:
		return "image view"
	case resourceFramebuffer:
		return "framebuffer"
	}
	return "unknown"
}

// allocationTracker counts live resources. Every vkAllocateMemory call
// counts against the driver's maxMemoryAllocationCount, so crossing it is
// logged once.
type allocationTracker struct {
	live   [resourceKindCount]int
	limit  int
	warned bool
	logger *slog.Logger
}

func (t *allocationTracker) add(kind resourceKind) {
	t.live[kind]++

	if kind == resourceMemory && t.limit > 0 && t.live[kind] >= t.limit && !t.warned {
		t.warned = true
		t.logger.Warn("live memory allocations reached the device limit",
			"live", t.live[kind],
			"limit", t.limit)
	}
}

func (t *allocationTracker) release(kind resourceKind) {
	if t.live[kind] > 0 {
		t.live[kind]--
	}
}

func (t *allocationTracker) count(kind resourceKind) int {
	return t.live[kind]
}

func (r *Renderer) allocateMemory(requirements *core1_0.MemoryRequirements, properties core1_0.MemoryPropertyFlags) (core1_0.DeviceMemory, error) {
	memoryTypeIndex, err := r.findMemoryType(requirements.MemoryTypeBits, properties)
	if err != nil {
		return core1_0.DeviceMemory{}, err
	}

	memory, _, err := r.deviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return core1_0.DeviceMemory{}, fail(err, ErrAllocationFailed, "allocate %d bytes from memory type %d", requirements.Size, memoryTypeIndex)
	}

	r.allocations.add(resourceMemory)
	return memory, nil
}

func (r *Renderer) freeMemory(memory *core1_0.DeviceMemory) {
	if memory.Initialized() {
		r.deviceDriver.FreeMemory(*memory, nil)
		*memory = core1_0.DeviceMemory{}
		r.allocations.release(resourceMemory)
	}
}

func (r *Renderer) createBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (core1_0.Buffer, core1_0.DeviceMemory, error) {
	buffer, _, err := r.deviceDriver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, fail(err, ErrBufferCreateFailed, "create %d byte buffer", size)
	}

	memRequirements := r.deviceDriver.GetBufferMemoryRequirements(buffer)
	memory, err := r.allocateMemory(memRequirements, properties)
	if err != nil {
		r.deviceDriver.DestroyBuffer(buffer, nil)
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	_, err = r.deviceDriver.BindBufferMemory(buffer, memory, 0)
	if err != nil {
		r.deviceDriver.DestroyBuffer(buffer, nil)
		r.freeMemory(&memory)
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, fail(err, ErrBufferCreateFailed, "bind buffer memory")
	}

	return buffer, memory, nil
}

func (r *Renderer) destroyBuffer(buffer *core1_0.Buffer, memory *core1_0.DeviceMemory) {
	if buffer.Initialized() {
		r.deviceDriver.DestroyBuffer(*buffer, nil)
		*buffer = core1_0.Buffer{}
	}
	r.freeMemory(memory)
}

type imageSpec struct {
	width, height int
	mipLevels     int
	samples       core1_0.SampleCountFlags
	format        core1_0.Format
	tiling        core1_0.ImageTiling
	usage         core1_0.ImageUsageFlags
	properties    core1_0.MemoryPropertyFlags
}

func (r *Renderer) createImage(spec imageSpec) (core1_0.Image, core1_0.DeviceMemory, error) {
	image, _, err := r.deviceDriver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  spec.width,
			Height: spec.height,
			Depth:  1,
		},
		MipLevels:     spec.mipLevels,
		ArrayLayers:   1,
		Format:        spec.format,
		Tiling:        spec.tiling,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         spec.usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       spec.samples,
	})
	if err != nil {
		return core1_0.Image{}, core1_0.DeviceMemory{}, fail(err, ErrImageCreateFailed, "create %dx%d %s image", spec.width, spec.height, spec.format)
	}

	memReqs := r.deviceDriver.GetImageMemoryRequirements(image)
	imageMemory, err := r.allocateMemory(memReqs, spec.properties)
	if err != nil {
		r.deviceDriver.DestroyImage(image, nil)
		return core1_0.Image{}, core1_0.DeviceMemory{}, err
	}

	_, err = r.deviceDriver.BindImageMemory(image, imageMemory, 0)
	if err != nil {
		r.deviceDriver.DestroyImage(image, nil)
		r.freeMemory(&imageMemory)
		return core1_0.Image{}, core1_0.DeviceMemory{}, fail(err, ErrImageCreateFailed, "bind image memory")
	}

	return image, imageMemory, nil
}

func (r *Renderer) destroyImage(image *core1_0.Image, memory *core1_0.DeviceMemory) {
	if image.Initialized() {
		r.deviceDriver.DestroyImage(*image, nil)
		*image = core1_0.Image{}
	}
	r.freeMemory(memory)
}

func (r *Renderer) createImageView(image core1_0.Image, format core1_0.Format, aspect core1_0.ImageAspectFlags, mipLevels int) (core1_0.ImageView, error) {
	imageView, _, err := r.deviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     mipLevels,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return core1_0.ImageView{}, fail(err, ErrImageCreateFailed, "create %s image view", format)
	}

	r.allocations.add(resourceImageView)
	return imageView, nil
}

func (r *Renderer) destroyImageView(view *core1_0.ImageView) {
	if view.Initialized() {
		r.deviceDriver.DestroyImageView(*view, nil)
		*view = core1_0.ImageView{}
		r.allocations.release(resourceImageView)
	}
}

// encode serializes data the way the driver expects to see it in memory.
func encode(data any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, common.ByteOrder, data); err != nil {
		return nil, errors.Wrap(err, "encode buffer contents")
	}
	return buf.Bytes(), nil
}

func writeData(driver core1_0.DeviceDriver, memory core1_0.DeviceMemory, offset int, data any) error {
	encoded, err := encode(data)
	if err != nil {
		return err
	}

	memoryPtr, _, err := driver.MapMemory(memory, offset, len(encoded), 0)
	if err != nil {
		return errors.Wrap(err, "map memory")
	}
	defer driver.UnmapMemory(memory)

	copy(unsafe.Slice((*byte)(memoryPtr), len(encoded)), encoded)
	return nil
}

// mappedBuffer is a host-visible, host-coherent buffer that stays mapped
// for its whole lifetime.
type mappedBuffer struct {
	buffer core1_0.Buffer
	memory core1_0.DeviceMemory
	size   int
	data   []byte
}

func (r *Renderer) createMappedBuffer(size int, usage core1_0.BufferUsageFlags) (mappedBuffer, error) {
	buffer, memory, err := r.createBuffer(size, usage, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return mappedBuffer{}, err
	}

	ptr, _, err := r.deviceDriver.MapMemory(memory, 0, size, 0)
	if err != nil {
		r.destroyBuffer(&buffer, &memory)
		return mappedBuffer{}, errors.Wrap(err, "map persistent buffer")
	}

	return mappedBuffer{
		buffer: buffer,
		memory: memory,
		size:   size,
		data:   unsafe.Slice((*byte)(ptr), size),
	}, nil
}

func (b *mappedBuffer) write(data any) error {
	encoded, err := encode(data)
	if err != nil {
		return err
	}
	if len(encoded) > b.size {
		return errors.AssertionFailedf("write of %d bytes into %d byte mapped buffer", len(encoded), b.size)
	}

	copy(b.data, encoded)
	return nil
}

func (r *Renderer) destroyMappedBuffer(b *mappedBuffer) {
	if b.memory.Initialized() && b.data != nil {
		r.deviceDriver.UnmapMemory(b.memory)
		b.data = nil
	}
	r.destroyBuffer(&b.buffer, &b.memory)
}

// stagedUpload copies data into a new device-local buffer through a
// temporary host-visible staging buffer.
func (r *Renderer) stagedUpload(data any, usage core1_0.BufferUsageFlags) (core1_0.Buffer, core1_0.DeviceMemory, error) {
	bufferSize := binary.Size(data)
	if bufferSize <= 0 {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, errors.AssertionFailedf("staged upload of %T has no fixed size", data)
	}

	stagingBuffer, stagingBufferMemory, err := r.createBuffer(bufferSize, core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}
	defer r.destroyBuffer(&stagingBuffer, &stagingBufferMemory)

	err = writeData(r.deviceDriver, stagingBufferMemory, 0, data)
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	buffer, memory, err := r.createBuffer(bufferSize, core1_0.BufferUsageTransferDst|usage, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	err = r.copyBuffer(stagingBuffer, buffer, bufferSize)
	if err != nil {
		r.destroyBuffer(&buffer, &memory)
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, err
	}

	return buffer, memory, nil
}
