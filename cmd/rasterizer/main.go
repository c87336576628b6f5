package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/tutorial/internal/assets"
	"github.com/vkngwrapper/tutorial/internal/config"
	"github.com/vkngwrapper/tutorial/internal/renderer"
	"github.com/vkngwrapper/tutorial/internal/window"
)

// SDL and the Vulkan surface must stay on the main thread.
func init() {
	runtime.LockOSThread()
}

func run(args []string) error {
	cfg := config.Default()

	flags := flag.NewFlagSet("rasterizer", flag.ContinueOnError)
	cfg.Bind(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	// Interrupts end the render loop so the renderer can release the device.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bundle, err := assets.LoadBundle(ctx, os.DirFS(cfg.AssetDir), assets.Paths{
		VertexShader:   cfg.VertexShaderPath,
		FragmentShader: cfg.FragmentShaderPath,
		Texture:        cfg.TexturePath,
		Mesh:           cfg.MeshPath,
		Material:       cfg.MaterialPath,

		Particles:              cfg.Particles,
		ComputeShader:          cfg.ComputeShaderPath,
		ParticleVertexShader:   cfg.ParticleVertexShaderPath,
		ParticleFragmentShader: cfg.ParticleFragmentShaderPath,
	})
	if err != nil {
		return errors.Wrapf(err, "load assets from %s", cfg.AssetDir)
	}
	logger.Debug("assets loaded", "dir", cfg.AssetDir, "particles", cfg.Particles)

	win, err := window.NewSDL(cfg.Title, cfg.Width, cfg.Height)
	if err != nil {
		return err
	}

	return renderer.New(cfg, win, bundle, logger).Run(ctx)
}

func main() {
	err := run(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}
