package renderer

import (
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
)

type UniformBlock struct {
	Model mgl32.Mat4
	View  mgl32.Mat4
	Proj  mgl32.Mat4
}

const (
	fieldOfView = 45.0
	nearPlane   = 0.1
	farPlane    = 10.0
)

// zeroToOneDepth remaps OpenGL clip-space depth [-1, 1] to Vulkan's [0, 1].
var zeroToOneDepth = mgl32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

func projection(extent core1_0.Extent2D) mgl32.Mat4 {
	aspectRatio := float32(extent.Width) / float32(extent.Height)

	proj := zeroToOneDepth.Mul4(mgl32.Perspective(mgl32.DegToRad(fieldOfView), aspectRatio, nearPlane, farPlane))
	// Vulkan's clip-space Y points down.
	proj.Set(1, 1, -proj.At(1, 1))
	return proj
}

// uniformBlockAt spins the model a quarter turn per second around Z.
func uniformBlockAt(seconds float64, extent core1_0.Extent2D) UniformBlock {
	timePeriod := math.Mod(seconds, 4.0)

	return UniformBlock{
		Model: mgl32.HomogRotate3DZ(float32(timePeriod * math.Pi / 2.0)),
		View: mgl32.LookAtV(
			mgl32.Vec3{2, 2, 2},
			mgl32.Vec3{0, 0, 0},
			mgl32.Vec3{0, 0, 1},
		),
		Proj: projection(extent),
	}
}

func (r *Renderer) createUniformBuffers() error {
	bufferSize := int(unsafe.Sizeof(UniformBlock{}))

	for i := range r.frames {
		buffer, err := r.createMappedBuffer(bufferSize, core1_0.BufferUsageUniformBuffer)
		if err != nil {
			return err
		}
		r.frames[i].uniforms = buffer
	}

	return nil
}

func (r *Renderer) updateUniformBuffer(frame *frameSlot) error {
	seconds := (hrtime.Now() - r.startTime).Seconds()
	ubo := uniformBlockAt(seconds, r.chain.extent)
	return frame.uniforms.write(&ubo)
}
