package window

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
)

// SDL is a resizable SDL2 window with Vulkan support. All methods must be
// called from the thread that created it.
type SDL struct {
	window *sdl.Window

	closing   bool
	resized   bool
	minimized bool
}

var _ Window = (*SDL)(nil)

func NewSDL(title string, width, height int) (*SDL, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "init sdl")
	}

	window, err := sdl.CreateWindow(title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(width), int32(height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "create window")
	}

	return &SDL{window: window}, nil
}

func (w *SDL) ProcAddr() unsafe.Pointer {
	return sdl.VulkanGetVkGetInstanceProcAddr()
}

func (w *SDL) RequiredInstanceExtensions() []string {
	return w.window.VulkanGetInstanceExtensions()
}

func (w *SDL) CreateSurface(instance core1_0.Instance, surfaceDriver khr_surface.ExtensionDriver) (khr_surface.Surface, error) {
	return vkng_sdl2.CreateSurface(instance, surfaceDriver, w.window)
}

func (w *SDL) FramebufferSize() (int, int) {
	if w.minimized || (w.window.GetFlags()&sdl.WINDOW_MINIMIZED) != 0 {
		return 0, 0
	}
	width, height := w.window.VulkanGetDrawableSize()
	return int(width), int(height)
}

func (w *SDL) handleEvent(event sdl.Event) {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		w.closing = true
	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_CLOSE:
			w.closing = true
		case sdl.WINDOWEVENT_MINIMIZED:
			w.minimized = true
		case sdl.WINDOWEVENT_RESTORED, sdl.WINDOWEVENT_MAXIMIZED:
			w.minimized = false
			w.resized = true
		case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
			w.resized = true
		}
	}
}

func (w *SDL) PollEvents() {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		w.handleEvent(event)
	}
}

func (w *SDL) WaitEvents() {
	if event := sdl.WaitEvent(); event != nil {
		w.handleEvent(event)
	}
	w.PollEvents()
}

func (w *SDL) ShouldClose() bool {
	return w.closing
}

func (w *SDL) Resized() bool {
	return w.resized
}

func (w *SDL) ConsumeResize() bool {
	resized := w.resized
	w.resized = false
	return resized
}

func (w *SDL) Destroy() {
	if w.window != nil {
		w.window.Destroy()
		w.window = nil
	}
	sdl.Quit()
}
