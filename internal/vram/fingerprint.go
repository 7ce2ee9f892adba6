package vram

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"

	"annotd/internal/params"
)

// Fingerprint digests the refined values of cfg, leaving out the parameters
// named in ignore. The raw slot is excluded so that two requests with the
// same effective configuration share a profile regardless of how they were
// spelled on the wire.
func Fingerprint(cfg *params.Configuration, ignore ...string) string {
	vals := cfg.Values()
	plain := make(map[string]any, len(vals))
	for k, v := range vals {
		if slices.Contains(ignore, k) {
			continue
		}
		plain[k] = v.Interface()
	}
	// encoding/json sorts map keys, which makes the encoding canonical.
	b, err := json.Marshal(plain)
	if err != nil {
		b = []byte(fmt.Sprint(plain))
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}
