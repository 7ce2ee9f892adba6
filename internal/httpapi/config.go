package httpapi

import "time"

// maxBodyBytes controls the maximum allowed request body size for annotate
// requests. Documents can be large; default is 64 MiB.
var maxBodyBytes int64 = 64 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 64 << 20
		return
	}
	maxBodyBytes = n
}

// annotateTimeout bounds a single annotate request. Zero means no additional
// timeout beyond server/connection timeouts.
var annotateTimeout time.Duration

// SetAnnotateTimeout sets the annotate timeout (0 disables).
func SetAnnotateTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	annotateTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
