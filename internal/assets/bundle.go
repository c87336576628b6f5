package assets

import (
	"context"
	"io/fs"

	"golang.org/x/sync/errgroup"
)

type Paths struct {
	VertexShader   string
	FragmentShader string
	Texture        string
	Mesh           string
	Material       string

	// Particle shaders are only read when Particles is set.
	Particles              bool
	ComputeShader          string
	ParticleVertexShader   string
	ParticleFragmentShader string
}

// Bundle is everything read from disk before the device is touched.
type Bundle struct {
	VertexShader   []uint32
	FragmentShader []uint32
	Texture        *Image
	Mesh           *Mesh

	ComputeShader          []uint32
	ParticleVertexShader   []uint32
	ParticleFragmentShader []uint32
}

// LoadBundle reads and decodes every asset concurrently. The first failure
// cancels the remaining loads.
func LoadBundle(ctx context.Context, fsys fs.FS, paths Paths) (*Bundle, error) {
	group, ctx := errgroup.WithContext(ctx)
	bundle := &Bundle{}

	shader := func(name string, dst *[]uint32) {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			code, err := LoadShader(fsys, name)
			if err != nil {
				return err
			}
			*dst = code
			return nil
		})
	}

	shader(paths.VertexShader, &bundle.VertexShader)
	shader(paths.FragmentShader, &bundle.FragmentShader)
	if paths.Particles {
		shader(paths.ComputeShader, &bundle.ComputeShader)
		shader(paths.ParticleVertexShader, &bundle.ParticleVertexShader)
		shader(paths.ParticleFragmentShader, &bundle.ParticleFragmentShader)
	}

	group.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		texture, err := LoadTexture(fsys, paths.Texture)
		if err != nil {
			return err
		}
		bundle.Texture = texture
		return nil
	})

	group.Go(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		mesh, err := LoadMesh(fsys, paths.Mesh, paths.Material)
		if err != nil {
			return err
		}
		bundle.Mesh = mesh
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return bundle, nil
}
