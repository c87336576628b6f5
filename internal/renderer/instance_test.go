package renderer

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
)

func set(names ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, name := range names {
		s[name] = struct{}{}
	}
	return s
}

func TestInstanceExtensions(t *testing.T) {
	required := []string{"VK_KHR_surface", "VK_KHR_xlib_surface"}

	tests := []struct {
		name            string
		available       map[string]struct{}
		validation      bool
		wantNames       []string
		wantPortability bool
		wantErr         bool
	}{
		{
			name:      "required only",
			available: set("VK_KHR_surface", "VK_KHR_xlib_surface"),
			wantNames: required,
		},
		{
			name:       "with validation",
			available:  set("VK_KHR_surface", "VK_KHR_xlib_surface", ext_debug_utils.ExtensionName),
			validation: true,
			wantNames:  append(append([]string(nil), required...), ext_debug_utils.ExtensionName),
		},
		{
			name:            "portability",
			available:       set("VK_KHR_surface", "VK_KHR_xlib_surface", khr_portability_enumeration.ExtensionName),
			wantNames:       append(append([]string(nil), required...), khr_portability_enumeration.ExtensionName),
			wantPortability: true,
		},
		{
			name:      "missing required",
			available: set("VK_KHR_surface"),
			wantErr:   true,
		},
		{
			name:       "validation without debug utils",
			available:  set("VK_KHR_surface", "VK_KHR_xlib_surface"),
			validation: true,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, portability, err := instanceExtensions(required, tt.available, tt.validation)
			if tt.wantErr {
				if !errors.Is(err, ErrMissingExtension) {
					t.Fatalf("err = %v, want ErrMissingExtension", err)
				}
				if len(required) != 2 {
					t.Errorf("required list modified: %v", required)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(names, ",") != strings.Join(tt.wantNames, ",") {
				t.Errorf("names = %v, want %v", names, tt.wantNames)
			}
			if portability != tt.wantPortability {
				t.Errorf("portability = %v, want %v", portability, tt.wantPortability)
			}
		})
	}
}

func TestCheckValidationLayers(t *testing.T) {
	if err := checkValidationLayers(set("VK_LAYER_KHRONOS_validation")); err != nil {
		t.Errorf("available layer rejected: %v", err)
	}

	err := checkValidationLayers(set("VK_LAYER_LUNARG_api_dump"))
	if !errors.Is(err, ErrValidationLayerUnavailable) {
		t.Fatalf("err = %v, want ErrValidationLayerUnavailable", err)
	}
	if len(errors.GetAllHints(err)) == 0 {
		t.Error("missing layer error carries no hint")
	}
}

func TestKeySet(t *testing.T) {
	got := keySet(map[string]int{"a": 1, "b": 2})
	if len(got) != 2 {
		t.Fatalf("keySet() has %d keys, want 2", len(got))
	}
	if _, ok := got["a"]; !ok {
		t.Error("key a missing")
	}
}

func TestDebugLevel(t *testing.T) {
	tests := []struct {
		severity ext_debug_utils.DebugUtilsMessageSeverityFlags
		want     slog.Level
	}{
		{ext_debug_utils.SeverityError, slog.LevelError},
		{ext_debug_utils.SeverityWarning, slog.LevelWarn},
		{ext_debug_utils.SeverityInfo, slog.LevelInfo},
		{ext_debug_utils.SeverityVerbose, slog.LevelDebug},
	}

	for _, tt := range tests {
		if got := debugLevel(tt.severity); got != tt.want {
			t.Errorf("debugLevel(%s) = %s, want %s", tt.severity, got, tt.want)
		}
	}
}

func TestDebugSinkRouting(t *testing.T) {
	var out, errs bytes.Buffer
	options := &slog.HandlerOptions{Level: slog.LevelDebug}
	sink := debugSink{
		out:  slog.New(slog.NewTextHandler(&out, options)),
		errs: slog.New(slog.NewTextHandler(&errs, options)),
	}

	abort := sink.callback(ext_debug_utils.TypeValidation, ext_debug_utils.SeverityError,
		&ext_debug_utils.DebugUtilsMessengerCallbackData{Message: "broken"})
	if abort {
		t.Error("callback asked to abort the call")
	}
	sink.callback(ext_debug_utils.TypeGeneral, ext_debug_utils.SeverityWarning,
		&ext_debug_utils.DebugUtilsMessengerCallbackData{Message: "suspicious"})

	if !strings.Contains(errs.String(), "broken") || strings.Contains(out.String(), "broken") {
		t.Errorf("error message routed wrong: out=%q errs=%q", out.String(), errs.String())
	}
	if !strings.Contains(out.String(), "suspicious") || strings.Contains(errs.String(), "suspicious") {
		t.Errorf("warning routed wrong: out=%q errs=%q", out.String(), errs.String())
	}
}

func TestEnabledFeatures(t *testing.T) {
	got := enabledFeatures(&core1_0.PhysicalDeviceFeatures{
		SamplerAnisotropy: true,
		SampleRateShading: false,
		GeometryShader:    true,
	})

	if !got.SamplerAnisotropy || got.SampleRateShading {
		t.Errorf("features = anisotropy %v, sample shading %v", got.SamplerAnisotropy, got.SampleRateShading)
	}
	if got.GeometryShader {
		t.Error("enabled a feature that was not asked for")
	}
}

func TestQueueCreateInfos(t *testing.T) {
	infos := queueCreateInfos([]int{0, 2})
	if len(infos) != 2 {
		t.Fatalf("%d queue create infos, want 2", len(infos))
	}
	for i, family := range []int{0, 2} {
		if infos[i].QueueFamilyIndex != family || len(infos[i].QueuePriorities) != 1 || infos[i].QueuePriorities[0] != 1 {
			t.Errorf("info %d = %+v", i, infos[i])
		}
	}
}
