package renderer

import (
	"math"
	"math/rand"
	"testing"
	"unsafe"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/mocks"
	"go.uber.org/mock/gomock"
)

func TestParticleLayout(t *testing.T) {
	if size := unsafe.Sizeof(Particle{}); size != 32 {
		t.Errorf("Particle is %d bytes, want 32", size)
	}
	if size := unsafe.Sizeof(ParticleParams{}); size != 16 {
		t.Errorf("ParticleParams is %d bytes, want 16", size)
	}
}

func TestDispatchGroupCount(t *testing.T) {
	for count, want := range map[int]int{256: 1, 4096: 16, 8192: 32} {
		if got := dispatchGroupCount(count); got != want {
			t.Errorf("dispatchGroupCount(%d) = %d, want %d", count, got, want)
		}
	}
}

func TestSeedParticles(t *testing.T) {
	const aspect = 800.0 / 600.0

	particles := seedParticles(rand.New(rand.NewSource(1)), 1024, aspect)
	if len(particles) != 1024 {
		t.Fatalf("%d particles, want 1024", len(particles))
	}

	for i, p := range particles {
		// Undo the aspect correction to measure in a round disc.
		x := float64(p.Position.X()) * aspect
		y := float64(p.Position.Y())
		if r := math.Hypot(x, y); r > particleSpawnRadius+1e-6 {
			t.Fatalf("particle %d at radius %v, outside %v", i, r, particleSpawnRadius)
		}

		if speed := float64(p.Velocity.Len()); math.Abs(speed-particleSpeed) > 1e-9 {
			t.Fatalf("particle %d speed %v, want %v", i, speed, particleSpeed)
		}

		// Velocity points away from the center.
		if p.Position.Dot(p.Velocity) < 0 {
			t.Fatalf("particle %d moves inward", i)
		}

		if p.Color.W() != 1 {
			t.Fatalf("particle %d alpha %v, want 1", i, p.Color.W())
		}
	}

	again := seedParticles(rand.New(rand.NewSource(1)), 1024, aspect)
	for i := range particles {
		if particles[i] != again[i] {
			t.Fatalf("particle %d differs between runs with the same seed", i)
		}
	}
}

func TestRecordComputeCommandBufferBarrier(t *testing.T) {
	rig := newTestRig(t)
	rig.r.particles.count = 4096
	frame := &rig.r.frames[0]
	frame.computeCommandBuffer = mocks.NewDummyCommandBuffer(mocks.NewDummyCommandPool(rig.device), rig.device)
	buffer := frame.computeCommandBuffer

	gomock.InOrder(
		rig.dev.EXPECT().BeginCommandBuffer(buffer, gomock.Any()).Return(core1_0.VKSuccess, nil),
		rig.dev.EXPECT().CmdBindPipeline(buffer, core1_0.PipelineBindPointCompute, gomock.Any()),
		rig.dev.EXPECT().CmdBindDescriptorSets(buffer, core1_0.PipelineBindPointCompute, gomock.Any(), 0, gomock.Any(), gomock.Any()),
		rig.dev.EXPECT().CmdPipelineBarrier(buffer,
			core1_0.PipelineStageComputeShader, core1_0.PipelineStageComputeShader, core1_0.DependencyFlags(0),
			[]core1_0.MemoryBarrier{{
				SrcAccessMask: core1_0.AccessShaderWrite | core1_0.AccessShaderRead,
				DstAccessMask: core1_0.AccessShaderRead | core1_0.AccessShaderWrite,
			}}, gomock.Nil(), gomock.Nil()).Return(nil),
		rig.dev.EXPECT().CmdDispatch(buffer, 16, 1, 1),
		rig.dev.EXPECT().EndCommandBuffer(buffer).Return(core1_0.VKSuccess, nil),
	)

	if err := rig.r.recordComputeCommandBuffer(frame); err != nil {
		t.Fatal(err)
	}
}
