// Package window provides the native surface, framebuffer size and event pump
// the renderer draws into.
package window

import (
	"unsafe"

	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
)

// Window is everything the renderer needs from the windowing layer.
type Window interface {
	// ProcAddr returns vkGetInstanceProcAddr as resolved by the windowing
	// library's Vulkan loader.
	ProcAddr() unsafe.Pointer
	RequiredInstanceExtensions() []string
	CreateSurface(instance core1_0.Instance, surfaceDriver khr_surface.ExtensionDriver) (khr_surface.Surface, error)

	// FramebufferSize is the drawable size in pixels; zero while minimized.
	FramebufferSize() (width, height int)

	PollEvents()
	// WaitEvents blocks until at least one event has been handled.
	WaitEvents()
	ShouldClose() bool
	// Resized reports whether a resize happened since the last
	// ConsumeResize without clearing it.
	Resized() bool
	// ConsumeResize reports whether a resize happened since the last call
	// and clears the flag.
	ConsumeResize() bool

	Destroy()
}
