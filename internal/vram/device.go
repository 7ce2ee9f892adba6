package vram

import (
	"context"
	"sync"
	"sync/atomic"
)

// Memory is a point-in-time view of accelerator memory, in bytes.
// Allocated is what this process holds; Reserved is what the device has
// handed out overall, which is never less than Allocated on real hardware.
type Memory struct {
	Name      string
	Total     uint64
	Allocated uint64
	Reserved  uint64
}

// Available is the capacity left after subtracting the larger of the
// allocated and reserved figures.
func (m Memory) Available() uint64 {
	used := max(m.Allocated, m.Reserved)
	if used >= m.Total {
		return 0
	}
	return m.Total - used
}

// Device reports accelerator memory and tracks the peak usage of the
// current process between ResetPeak and Peak.
type Device interface {
	Memory(ctx context.Context) (Memory, error)
	ResetPeak(ctx context.Context) error
	Peak(ctx context.Context) (uint64, error)
}

// Static is a Device with fixed figures. Analysis code (or a test) reports
// usage through Observe; Peak returns the largest value seen since the last
// ResetPeak.
type Static struct {
	mu   sync.Mutex
	mem  Memory
	peak atomic.Uint64
}

func NewStatic(name string, total, allocated, reserved uint64) *Static {
	return &Static{mem: Memory{Name: name, Total: total, Allocated: allocated, Reserved: reserved}}
}

func (s *Static) Memory(context.Context) (Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mem, nil
}

// SetUsage replaces the allocated and reserved figures.
func (s *Static) SetUsage(allocated, reserved uint64) {
	s.mu.Lock()
	s.mem.Allocated, s.mem.Reserved = allocated, reserved
	s.mu.Unlock()
}

func (s *Static) ResetPeak(context.Context) error {
	s.peak.Store(0)
	return nil
}

func (s *Static) Peak(context.Context) (uint64, error) { return s.peak.Load(), nil }

// Observe raises the tracked peak to n if n is larger.
func (s *Static) Observe(n uint64) { ratchetAtomic(&s.peak, n) }

func ratchetAtomic(a *atomic.Uint64, n uint64) {
	for {
		cur := a.Load()
		if n <= cur || a.CompareAndSwap(cur, n) {
			return
		}
	}
}
