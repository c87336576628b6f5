package renderer

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/tutorial/internal/config"
)

// debugSink routes validation-layer messages: errors to errs (stderr), the
// rest to out (stdout).
type debugSink struct {
	out  *slog.Logger
	errs *slog.Logger
}

func debugLevel(severity ext_debug_utils.DebugUtilsMessageSeverityFlags) slog.Level {
	switch {
	case severity&ext_debug_utils.SeverityError != 0:
		return slog.LevelError
	case severity&ext_debug_utils.SeverityWarning != 0:
		return slog.LevelWarn
	case severity&ext_debug_utils.SeverityInfo != 0:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func (s debugSink) logger(level slog.Level) *slog.Logger {
	if level >= slog.LevelError {
		return s.errs
	}
	return s.out
}

// callback never aborts the call that triggered the message.
func (s debugSink) callback(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := debugLevel(severity)
	s.logger(level).Log(context.Background(), level, data.Message,
		"type", msgType,
		"id", data.MessageIDName)
	return false
}

func (r *Renderer) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning | ext_debug_utils.SeverityVerbose,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    r.debug.callback,
	}
}

func (r *Renderer) setupDebugMessenger() error {
	if !config.EnableValidationLayers {
		return nil
	}

	var err error
	r.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(r.instanceDriver)
	r.debugMessenger, _, err = r.debugDriver.CreateDebugUtilsMessenger(nil, r.debugMessengerOptions())
	if err != nil {
		return errors.Wrap(err, "create debug messenger")
	}

	return nil
}
