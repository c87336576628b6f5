package renderer

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/tutorial/internal/assets"
)

func vertexBindingDescription() []core1_0.VertexInputBindingDescription {
	v := assets.Vertex{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(v)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func vertexAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	v := assets.Vertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Color)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.TexCoord)),
		},
	}
}

func particleBindingDescription() []core1_0.VertexInputBindingDescription {
	p := Particle{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(p)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

// Velocity is only read by the compute shader.
func particleAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	p := Particle{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(p.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32A32SignedFloat,
			Offset:   int(unsafe.Offsetof(p.Color)),
		},
	}
}

func (r *Renderer) createVertexBuffer() error {
	var err error
	r.vertexBuffer, r.vertexBufferMemory, err = r.stagedUpload(r.bundle.Mesh.Vertices, core1_0.BufferUsageVertexBuffer)
	if err != nil {
		return errors.Wrap(err, "upload vertices")
	}
	return nil
}

func (r *Renderer) createIndexBuffer() error {
	var err error
	r.indexBuffer, r.indexBufferMemory, err = r.stagedUpload(r.bundle.Mesh.Indices, core1_0.BufferUsageIndexBuffer)
	if err != nil {
		return errors.Wrap(err, "upload indices")
	}
	r.indexCount = len(r.bundle.Mesh.Indices)
	return nil
}
