package log

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const serviceName = "ucm-sync"

//nolint:gochecknoglobals
var Logger zerolog.Logger

// Init replaces the global logger with one tagged with the instance id and
// sets the global level. Unknown levels fall back to info.
func Init(appID string, levelStr string) {
	zerolog.SetGlobalLevel(ParseLevel(levelStr))

	Logger = zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", serviceName).
		Str("app_id", appID).
		Logger()
}

func ParseLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(levelStr) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

//nolint:gochecknoinits
func init() {
	if isTestSilentMode() {
		Logger = zerolog.New(io.Discard)
		zerolog.SetGlobalLevel(zerolog.Disabled)
		return
	}
	Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func isTestSilentMode() bool {
	return isTestMode() &&
		(os.Getenv("TEST_SILENT") == "1" || os.Getenv("TEST_SILENT") == "true")
}

func isTestMode() bool {
	for _, arg := range os.Args {
		if strings.Contains(arg, "test") || strings.HasSuffix(arg, ".test") {
			return true
		}
	}
	return false
}
