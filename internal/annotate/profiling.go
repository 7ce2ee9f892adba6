package annotate

import (
	"context"
	"runtime"
	"time"

	"annotd/internal/vram"
	"annotd/pkg/types"
)

// hardware collects the host facts recorded when hwFetch is set.
func hardware(ctx context.Context, dev vram.Device) *types.Hardware {
	hw := &types.Hardware{OS: runtime.GOOS, Arch: runtime.GOARCH, CPUs: runtime.NumCPU()}
	if dev == nil {
		return hw
	}
	if mem, err := dev.Memory(ctx); err == nil {
		hw.GPU = mem.Name
		hw.GPUMemoryBytes = mem.Total
	}
	return hw
}

// profile stamps running time and hardware facts onto views.
func profile(views []*types.View, elapsed time.Duration, hw *types.Hardware, withTime bool) {
	if !withTime && hw == nil {
		return
	}
	for _, v := range views {
		if v.Metadata.AppProfiling == nil {
			v.Metadata.AppProfiling = &types.AppProfiling{}
		}
		if withTime {
			v.Metadata.AppProfiling.RunningTime = elapsed.String()
		}
		if hw != nil {
			h := *hw
			v.Metadata.AppProfiling.Hardware = &h
		}
	}
}
