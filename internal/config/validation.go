//go:build !release

package config

// EnableValidationLayers loads VK_LAYER_KHRONOS_validation and installs the
// debug messenger. Build with -tags release to turn it off.
const EnableValidationLayers = true
