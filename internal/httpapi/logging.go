package httpapi

import (
	"net/http"
	"os"

	"github.com/rs/zerolog"
)

// zlog is an optional structured logger. If unset, request logging is off.
var zlog *zerolog.Logger

// SetLogger installs a structured logger used by the HTTP layer.
func SetLogger(l zerolog.Logger) { zlog = &l }

// LogLevel controls per-request logging behavior.
type LogLevel int

const (
	LevelOff LogLevel = iota
	LevelError
	LevelInfo
	LevelDebug
)

func parseLevel(s string) LogLevel {
	switch s {
	case "off", "":
		return LevelOff
	case "error":
		return LevelError
	case "info":
		return LevelInfo
	case "debug":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// global default, read once
var defaultLogLevel = parseLevel(os.Getenv("ANNOTD_LOG_REQUESTS"))

// SetDefaultLogLevel overrides the request log level used when a request
// carries no override.
func SetDefaultLogLevel(s string) { defaultLogLevel = parseLevel(s) }

// requestLogLevel honours the X-Log-Level header. The query string is left
// alone since it carries annotation parameters.
func requestLogLevel(r *http.Request) LogLevel {
	if v := r.Header.Get("X-Log-Level"); v != "" {
		return parseLevel(v)
	}
	return defaultLogLevel
}

// logEvent returns a zerolog event at lvl when both the logger and the
// request level allow it, or nil. zerolog events are nil-safe.
func logEvent(r *http.Request, lvl LogLevel) *zerolog.Event {
	if zlog == nil || requestLogLevel(r) < lvl {
		return nil
	}
	switch lvl {
	case LevelError:
		return zlog.Error()
	case LevelDebug:
		return zlog.Debug()
	}
	return zlog.Info()
}
