// Package config holds the runtime settings of the rasterizer and binds them
// to command line flags.
package config

import (
	"flag"
	"io/fs"
	"log/slog"
	"math/bits"

	"github.com/cockroachdb/errors"
)

// MaxFramesInFlight is the number of frames that may be recorded and
// submitted before the host waits on the oldest one.
const MaxFramesInFlight = 2

// ParticleWorkgroupSize must match local_size_x in the compute shader.
const ParticleWorkgroupSize = 256

type Config struct {
	Width  int
	Height int
	Title  string

	// AssetDir is the root every other asset path is resolved against.
	AssetDir     string
	TexturePath  string
	MeshPath     string
	MaterialPath string

	VertexShaderPath           string
	FragmentShaderPath         string
	ComputeShaderPath          string
	ParticleVertexShaderPath   string
	ParticleFragmentShaderPath string

	Particles     bool
	ParticleCount int

	// PipelineCachePath is empty when no pipeline cache should be persisted.
	PipelineCachePath string

	LogLevel slog.Level
}

func Default() Config {
	return Config{
		Width:  800,
		Height: 600,
		Title:  "Vulkan",

		AssetDir:     "assets",
		TexturePath:  "textures/viking_room.png",
		MeshPath:     "meshes/viking_room.obj",
		MaterialPath: "meshes/viking_room.mtl",

		VertexShaderPath:           "shaders/vert.spv",
		FragmentShaderPath:         "shaders/frag.spv",
		ComputeShaderPath:          "shaders/comp.spv",
		ParticleVertexShaderPath:   "shaders/particle_vert.spv",
		ParticleFragmentShaderPath: "shaders/particle_frag.spv",

		Particles:     false,
		ParticleCount: 4096,

		LogLevel: slog.LevelInfo,
	}
}

// Bind registers every setting on flags, using the current values as defaults.
func (c *Config) Bind(flags *flag.FlagSet) {
	flags.IntVar(&c.Width, "width", c.Width, "initial window width in pixels")
	flags.IntVar(&c.Height, "height", c.Height, "initial window height in pixels")
	flags.StringVar(&c.Title, "title", c.Title, "window title")
	flags.StringVar(&c.AssetDir, "assets", c.AssetDir, "directory containing shaders, textures and meshes")
	flags.StringVar(&c.TexturePath, "texture", c.TexturePath, "texture path relative to the asset directory")
	flags.StringVar(&c.MeshPath, "mesh", c.MeshPath, "OBJ mesh path relative to the asset directory")
	flags.StringVar(&c.MaterialPath, "material", c.MaterialPath, "MTL path relative to the asset directory, empty for none")
	flags.BoolVar(&c.Particles, "particles", c.Particles, "run the compute particle simulation")
	flags.IntVar(&c.ParticleCount, "particle-count", c.ParticleCount, "number of particles, a power of two multiple of 256")
	flags.StringVar(&c.PipelineCachePath, "pipeline-cache", c.PipelineCachePath, "file used to persist the pipeline cache")
	flags.TextVar(&c.LogLevel, "log-level", c.LogLevel, "log level (DEBUG, INFO, WARN, ERROR)")
}

func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Newf("window size must be positive, got %dx%d", c.Width, c.Height)
	}

	if c.MaterialPath != "" && !fs.ValidPath(c.MaterialPath) {
		return errors.Newf("material path %q must be relative to the asset directory", c.MaterialPath)
	}

	if c.AssetDir == "" {
		return errors.New("asset directory must not be empty")
	}

	for name, p := range map[string]string{
		"texture":                c.TexturePath,
		"mesh":                   c.MeshPath,
		"vertex shader":          c.VertexShaderPath,
		"fragment shader":        c.FragmentShaderPath,
		"compute shader":         c.ComputeShaderPath,
		"particle vertex shader": c.ParticleVertexShaderPath,
		"particle frag shader":   c.ParticleFragmentShaderPath,
	} {
		if p == "" {
			return errors.Newf("%s path must not be empty", name)
		}
		if !fs.ValidPath(p) {
			return errors.Newf("%s path %q must be relative to the asset directory", name, p)
		}
	}

	if c.Particles {
		if c.ParticleCount < ParticleWorkgroupSize || bits.OnesCount(uint(c.ParticleCount)) != 1 {
			return errors.Newf("particle count must be a power of two no smaller than %d, got %d", ParticleWorkgroupSize, c.ParticleCount)
		}
	}

	return nil
}
