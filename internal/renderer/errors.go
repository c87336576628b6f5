package renderer

import "github.com/cockroachdb/errors"

// Setup errors.
var (
	ErrNoSuitableDevice           = errors.New("no suitable device")
	ErrMissingExtension           = errors.New("missing extension")
	ErrValidationLayerUnavailable = errors.New("validation layer unavailable")
	ErrSurfaceCreateFailed        = errors.New("surface creation failed")
	ErrDeviceCreateFailed         = errors.New("device creation failed")
	ErrPipelineCreateFailed       = errors.New("pipeline creation failed")
	ErrNoMemoryType               = errors.New("no suitable memory type")
	ErrLinearBlitUnsupported      = errors.New("linear blit unsupported")
	ErrFormatUnsupported          = errors.New("format unsupported")
	ErrSwapchainCreateFailed      = errors.New("swap chain creation failed")
)

// Resource errors.
var (
	ErrAllocationFailed   = errors.New("allocation failed")
	ErrShaderModuleFailed = errors.New("shader module creation failed")
	ErrBufferCreateFailed = errors.New("buffer creation failed")
	ErrImageCreateFailed  = errors.New("image creation failed")
	ErrCommandPoolFailed  = errors.New("command pool allocation failed")
)

// fail wraps a driver error with context and marks it with the taxonomy
// sentinel so callers can test it with errors.Is.
func fail(err error, kind error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), kind)
}
