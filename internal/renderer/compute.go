package renderer

import (
	"math"
	"math/rand"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/tutorial/internal/config"
)

// Particle matches the storage buffer layout the compute shader reads and
// writes, and doubles as the overlay vertex.
type Particle struct {
	Position mgl32.Vec2
	Velocity mgl32.Vec2
	Color    mgl32.Vec4
}

// ParticleParams is the compute uniform block, padded to 16 bytes.
type ParticleParams struct {
	DeltaTime float32
	_         [3]float32
}

const (
	particleSpawnRadius = 0.25
	particleSpeed       = 0.00025
)

type particleSystem struct {
	count int

	descriptorSetLayout core1_0.DescriptorSetLayout
	descriptorPool      core1_0.DescriptorPool
	computeLayout       core1_0.PipelineLayout
	computePipeline     core1_0.Pipeline

	overlayLayout    core1_0.PipelineLayout
	graphicsPipeline core1_0.Pipeline

	lastTime time.Duration
}

// seedParticles scatters particles uniformly over a disc, moving outward
// from the center. aspect is width/height and keeps the disc round on
// screen.
func seedParticles(rng *rand.Rand, count int, aspect float32) []Particle {
	particles := make([]Particle, count)
	for i := range particles {
		radius := particleSpawnRadius * math.Sqrt(rng.Float64())
		theta := rng.Float64() * 2 * math.Pi

		direction := mgl32.Vec2{float32(math.Cos(theta)) / aspect, float32(math.Sin(theta))}

		particles[i] = Particle{
			Position: direction.Mul(float32(radius)),
			Velocity: direction.Normalize().Mul(particleSpeed),
			Color:    mgl32.Vec4{rng.Float32(), rng.Float32(), rng.Float32(), 1},
		}
	}
	return particles
}

func dispatchGroupCount(particleCount int) int {
	return particleCount / config.ParticleWorkgroupSize
}

func (r *Renderer) particlesEnabled() bool {
	return r.cfg.Particles
}

func (r *Renderer) createShaderStorageBuffers() error {
	r.particles.count = r.cfg.ParticleCount

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	aspect := float32(r.chain.extent.Width) / float32(r.chain.extent.Height)
	particles := seedParticles(rng, r.particles.count, aspect)

	// Every slot starts from the same state.
	for i := range r.frames {
		var err error
		r.frames[i].storage, r.frames[i].storageMemory, err = r.stagedUpload(particles,
			core1_0.BufferUsageStorageBuffer|core1_0.BufferUsageVertexBuffer)
		if err != nil {
			return errors.Wrapf(err, "upload particles for frame %d", i)
		}
	}

	return nil
}

func (r *Renderer) createComputeUniformBuffers() error {
	bufferSize := int(unsafe.Sizeof(ParticleParams{}))

	for i := range r.frames {
		buffer, err := r.createMappedBuffer(bufferSize, core1_0.BufferUsageUniformBuffer)
		if err != nil {
			return err
		}
		r.frames[i].params = buffer
	}

	return nil
}

func (r *Renderer) createComputeDescriptorSetLayout() error {
	var err error
	r.particles.descriptorSetLayout, _, err = r.deviceDriver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageCompute,
			},
			{
				Binding:         1,
				DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageCompute,
			},
			{
				Binding:         2,
				DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageCompute,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create compute descriptor set layout")
	}
	return nil
}

func (r *Renderer) createComputeDescriptorPool() error {
	var err error
	r.particles.descriptorPool, _, err = r.deviceDriver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets:   len(r.frames),
		PoolSizes: computePoolSizes(len(r.frames)),
	})
	if err != nil {
		return errors.Wrap(err, "create compute descriptor pool")
	}
	return nil
}

func (r *Renderer) createComputeDescriptorSets() error {
	sets, err := r.allocateDescriptorSets(r.particles.descriptorPool, r.particles.descriptorSetLayout)
	if err != nil {
		return err
	}

	storageSize := r.particles.count * int(unsafe.Sizeof(Particle{}))
	for i := range r.frames {
		r.frames[i].computeSet = sets[i]
		previous := r.frames[previousFrame(i, len(r.frames))]

		err = r.deviceDriver.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
			{
				DstSet:         sets[i],
				DstBinding:     0,
				DescriptorType: core1_0.DescriptorTypeUniformBuffer,
				BufferInfo: []core1_0.DescriptorBufferInfo{
					{
						Buffer: r.frames[i].params.buffer,
						Offset: 0,
						Range:  int(unsafe.Sizeof(ParticleParams{})),
					},
				},
			},
			{
				DstSet:         sets[i],
				DstBinding:     1,
				DescriptorType: core1_0.DescriptorTypeStorageBuffer,
				BufferInfo: []core1_0.DescriptorBufferInfo{
					{
						Buffer: previous.storage,
						Offset: 0,
						Range:  storageSize,
					},
				},
			},
			{
				DstSet:         sets[i],
				DstBinding:     2,
				DescriptorType: core1_0.DescriptorTypeStorageBuffer,
				BufferInfo: []core1_0.DescriptorBufferInfo{
					{
						Buffer: r.frames[i].storage,
						Offset: 0,
						Range:  storageSize,
					},
				},
			},
		}, nil)
		if err != nil {
			return errors.Wrapf(err, "write compute descriptor set %d", i)
		}
	}

	return nil
}

func (r *Renderer) createComputePipeline() error {
	computeShader, err := r.createShaderModule(r.bundle.ComputeShader, "compute")
	if err != nil {
		return err
	}
	defer r.deviceDriver.DestroyShaderModule(computeShader, nil)

	// The layout has to exist before the pipeline that references it.
	r.particles.computeLayout, _, err = r.deviceDriver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{r.particles.descriptorSetLayout},
	})
	if err != nil {
		return fail(err, ErrPipelineCreateFailed, "create compute pipeline layout")
	}

	start := hrtime.Now()
	pipelines, _, err := r.deviceDriver.CreateComputePipelines(r.pipelineCachePtr(), nil, core1_0.ComputePipelineCreateInfo{
		Stage: core1_0.PipelineShaderStageCreateInfo{
			Stage:  core1_0.StageCompute,
			Module: computeShader,
			Name:   "main",
		},
		Layout:            r.particles.computeLayout,
		BasePipelineIndex: -1,
	})
	if err != nil {
		return fail(err, ErrPipelineCreateFailed, "create compute pipeline")
	}
	r.particles.computePipeline = pipelines[0]

	r.logger.Debug("pipeline created", "pipeline", "compute", "elapsed", hrtime.Now()-start)
	return nil
}

func (r *Renderer) initParticles() error {
	if !r.particlesEnabled() {
		return nil
	}

	steps := []func() error{
		r.createShaderStorageBuffers,
		r.createComputeUniformBuffers,
		r.createComputeDescriptorSetLayout,
		r.createComputeDescriptorPool,
		r.createComputeDescriptorSets,
		r.createComputePipeline,
		r.createParticlePipeline,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return errors.Wrap(err, "init particles")
		}
	}

	r.particles.lastTime = hrtime.Now()
	r.logger.Info("particles enabled", "count", r.particles.count, "workgroups", dispatchGroupCount(r.particles.count))
	return nil
}

func (r *Renderer) recordComputeCommandBuffer(frame *frameSlot) error {
	buffer := frame.computeCommandBuffer

	_, err := r.deviceDriver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{})
	if err != nil {
		return errors.Wrap(err, "begin compute command buffer")
	}

	r.deviceDriver.CmdBindPipeline(buffer, core1_0.PipelineBindPointCompute, r.particles.computePipeline)
	r.deviceDriver.CmdBindDescriptorSets(buffer, core1_0.PipelineBindPointCompute, r.particles.computeLayout, 0, []core1_0.DescriptorSet{
		frame.computeSet,
	}, nil)

	// Orders this dispatch after the previous slot's dispatch that wrote its input.
	err = r.deviceDriver.CmdPipelineBarrier(buffer,
		core1_0.PipelineStageComputeShader, core1_0.PipelineStageComputeShader, 0,
		[]core1_0.MemoryBarrier{{
			SrcAccessMask: core1_0.AccessShaderWrite | core1_0.AccessShaderRead,
			DstAccessMask: core1_0.AccessShaderRead | core1_0.AccessShaderWrite,
		}}, nil, nil)
	if err != nil {
		return errors.Wrap(err, "record particle barrier")
	}

	r.deviceDriver.CmdDispatch(buffer, dispatchGroupCount(r.particles.count), 1, 1)

	_, err = r.deviceDriver.EndCommandBuffer(buffer)
	if err != nil {
		return errors.Wrap(err, "end compute command buffer")
	}
	return nil
}

// submitCompute advances slot frame's particles by the time since the last
// dispatch and signals frame.computeFinished.
func (r *Renderer) submitCompute(frame *frameSlot) error {
	_, err := r.deviceDriver.WaitForFences(true, common.NoTimeout, frame.computeFence)
	if err != nil {
		return errors.Wrap(err, "wait for compute fence")
	}

	now := hrtime.Now()
	params := ParticleParams{DeltaTime: float32((now - r.particles.lastTime).Seconds() * 1000)}
	r.particles.lastTime = now
	err = frame.params.write(&params)
	if err != nil {
		return err
	}

	_, err = r.deviceDriver.ResetFences(frame.computeFence)
	if err != nil {
		return errors.Wrap(err, "reset compute fence")
	}

	_, err = r.deviceDriver.ResetCommandBuffer(frame.computeCommandBuffer, 0)
	if err != nil {
		return errors.Wrap(err, "reset compute command buffer")
	}

	err = r.recordComputeCommandBuffer(frame)
	if err != nil {
		return err
	}

	_, err = r.deviceDriver.QueueSubmit(r.computeQueue, &frame.computeFence,
		core1_0.SubmitInfo{
			CommandBuffers:   []core1_0.CommandBuffer{frame.computeCommandBuffer},
			SignalSemaphores: []core1_0.Semaphore{frame.computeFinished},
		},
	)
	if err != nil {
		return errors.Wrap(err, "submit compute")
	}
	return nil
}

func (r *Renderer) recordParticleOverlay(buffer core1_0.CommandBuffer, frame *frameSlot) {
	r.deviceDriver.CmdBindPipeline(buffer, core1_0.PipelineBindPointGraphics, r.particles.graphicsPipeline)
	r.deviceDriver.CmdBindVertexBuffers(buffer, 0, []core1_0.Buffer{frame.storage}, []int{0})
	r.deviceDriver.CmdDraw(buffer, r.particles.count, 1, 0, 0)
}

func (r *Renderer) destroyParticles() {
	if r.particles.graphicsPipeline.Initialized() {
		r.deviceDriver.DestroyPipeline(r.particles.graphicsPipeline, nil)
		r.particles.graphicsPipeline = core1_0.Pipeline{}
	}
	if r.particles.overlayLayout.Initialized() {
		r.deviceDriver.DestroyPipelineLayout(r.particles.overlayLayout, nil)
		r.particles.overlayLayout = core1_0.PipelineLayout{}
	}

	for i := range r.frames {
		r.destroyBuffer(&r.frames[i].storage, &r.frames[i].storageMemory)
		r.destroyMappedBuffer(&r.frames[i].params)
	}

	if r.particles.descriptorPool.Initialized() {
		r.deviceDriver.DestroyDescriptorPool(r.particles.descriptorPool, nil)
		r.particles.descriptorPool = core1_0.DescriptorPool{}
	}
	if r.particles.descriptorSetLayout.Initialized() {
		r.deviceDriver.DestroyDescriptorSetLayout(r.particles.descriptorSetLayout, nil)
		r.particles.descriptorSetLayout = core1_0.DescriptorSetLayout{}
	}
	if r.particles.computePipeline.Initialized() {
		r.deviceDriver.DestroyPipeline(r.particles.computePipeline, nil)
		r.particles.computePipeline = core1_0.Pipeline{}
	}
	if r.particles.computeLayout.Initialized() {
		r.deviceDriver.DestroyPipelineLayout(r.particles.computeLayout, nil)
		r.particles.computeLayout = core1_0.PipelineLayout{}
	}
}
