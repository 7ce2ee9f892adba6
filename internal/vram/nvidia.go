package vram

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	mib                   = 1 << 20
	defaultSampleInterval = 200 * time.Millisecond
	nvidiaSMIQueryTimeout = 5 * time.Second
)

// runFunc executes a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// NvidiaSMI reads device memory through the nvidia-smi CLI. Per-process
// usage is sampled in the background between ResetPeak and Peak.
type NvidiaSMI struct {
	bin      string
	index    int
	pid      int
	interval time.Duration
	run      runFunc

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	peak atomic.Uint64
}

// NewNvidiaSMI builds a device for GPU index using the given binary.
func NewNvidiaSMI(bin string, index int) *NvidiaSMI {
	return &NvidiaSMI{bin: bin, index: index, pid: os.Getpid(), interval: defaultSampleInterval, run: execRun}
}

// Detect returns an NvidiaSMI device for GPU 0 when nvidia-smi is on PATH
// and answers a query, and nil otherwise.
func Detect(ctx context.Context) Device {
	bin, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return nil
	}
	d := NewNvidiaSMI(bin, 0)
	if _, err := d.Memory(ctx); err != nil {
		return nil
	}
	return d
}

func (d *NvidiaSMI) query(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, nvidiaSMIQueryTimeout)
	defer cancel()
	out, err := d.run(ctx, d.bin, append([]string{"--id=" + strconv.Itoa(d.index)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi: %w", err)
	}
	return out, nil
}

func (d *NvidiaSMI) Memory(ctx context.Context) (Memory, error) {
	out, err := d.query(ctx, "--query-gpu=name,memory.total,memory.used", "--format=csv,noheader,nounits")
	if err != nil {
		return Memory{}, err
	}
	m, err := parseGPUQuery(out)
	if err != nil {
		return Memory{}, err
	}
	own, err := d.processUsage(ctx)
	if err != nil {
		return Memory{}, err
	}
	m.Allocated = own
	return m, nil
}

func (d *NvidiaSMI) processUsage(ctx context.Context) (uint64, error) {
	out, err := d.query(ctx, "--query-compute-apps=pid,used_memory", "--format=csv,noheader,nounits")
	if err != nil {
		return 0, err
	}
	return parseComputeApps(out, d.pid)
}

func (d *NvidiaSMI) ResetPeak(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopSamplerLocked()
	cur, err := d.processUsage(ctx)
	if err != nil {
		return err
	}
	d.peak.Store(cur)
	d.stop, d.done = make(chan struct{}), make(chan struct{})
	go d.sample(d.stop, d.done)
	return nil
}

func (d *NvidiaSMI) Peak(ctx context.Context) (uint64, error) {
	d.mu.Lock()
	d.stopSamplerLocked()
	d.mu.Unlock()
	if cur, err := d.processUsage(ctx); err == nil {
		ratchetAtomic(&d.peak, cur)
	}
	return d.peak.Load(), nil
}

func (d *NvidiaSMI) stopSamplerLocked() {
	if d.stop == nil {
		return
	}
	close(d.stop)
	<-d.done
	d.stop, d.done = nil, nil
}

func (d *NvidiaSMI) sample(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(d.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if cur, err := d.processUsage(context.Background()); err == nil {
				ratchetAtomic(&d.peak, cur)
			}
		}
	}
}

// parseGPUQuery parses "name, total_mib, used_mib".
func parseGPUQuery(out []byte) (Memory, error) {
	line := strings.TrimSpace(firstLine(string(out)))
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return Memory{}, fmt.Errorf("nvidia-smi: unexpected gpu query output %q", line)
	}
	total, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return Memory{}, fmt.Errorf("nvidia-smi: total memory: %w", err)
	}
	used, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 64)
	if err != nil {
		return Memory{}, fmt.Errorf("nvidia-smi: used memory: %w", err)
	}
	return Memory{Name: strings.TrimSpace(fields[0]), Total: total * mib, Reserved: used * mib}, nil
}

// parseComputeApps sums the MiB used by pid across "pid, used_mib" lines.
func parseComputeApps(out []byte, pid int) (uint64, error) {
	var sum uint64
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "No running") {
			continue
		}
		p, u, ok := strings.Cut(line, ",")
		if !ok {
			return 0, fmt.Errorf("nvidia-smi: unexpected compute-apps line %q", line)
		}
		if strings.TrimSpace(p) != strconv.Itoa(pid) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(u), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("nvidia-smi: used memory: %w", err)
		}
		sum += n * mib
	}
	return sum, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
