//go:build release

package config

const EnableValidationLayers = false
