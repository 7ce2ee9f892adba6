// Package vram implements best-effort admission control for work bound by
// accelerator memory. Each request is fingerprinted by its refined
// configuration; the first request for a fingerprint is admitted against a
// conservative share of device capacity and later ones against the recorded
// historical peak plus a margin. Recorded peaks only ever go up.
package vram

import (
	"context"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"annotd/internal/params"
)

// Source tags where an estimate came from.
type Source string

const (
	SourceConservative Source = "conservative-first-request"
	SourceHistorical   Source = "historical"
)

const (
	// ConservativeFraction is the share of total capacity assumed by a
	// request with no recorded profile.
	ConservativeFraction = 0.8
	// HistoricalMargin scales a recorded peak.
	HistoricalMargin = 1.2
)

type Estimate struct {
	Bytes  uint64
	Source Source
}

// Options configure a Controller. A zero MinBytes or a nil Device yields a
// disabled controller whose Admit always succeeds without side effects.
type Options struct {
	App      string
	MinBytes uint64
	Device   Device
	Store    ProfileStore
	// Ignore names parameters that do not affect memory use, such as output
	// formatting flags. They are left out of the fingerprint.
	Ignore []string
	Logger zerolog.Logger
}

type Controller struct {
	app      string
	minBytes uint64
	device   Device
	store    ProfileStore
	ignore   []string
	log      zerolog.Logger
}

func New(o Options) *Controller {
	return &Controller{
		app:      o.App,
		minBytes: o.MinBytes,
		device:   o.Device,
		store:    o.Store,
		ignore:   append([]string(nil), o.Ignore...),
		log:      o.Logger.With().Str("component", "vram").Logger(),
	}
}

// Enabled reports whether admission decisions are made at all.
func (c *Controller) Enabled() bool {
	return c != nil && c.minBytes > 0 && c.device != nil
}

func (c *Controller) Device() Device {
	if c == nil {
		return nil
	}
	return c.device
}

// Fingerprint keys the profile of cfg, skipping the ignored parameters.
func (c *Controller) Fingerprint(cfg *params.Configuration) string {
	if c == nil {
		return Fingerprint(cfg)
	}
	return Fingerprint(cfg, c.ignore...)
}

// Estimate predicts the memory a request with fingerprint fp will need.
// Store failures are logged and fall back to the conservative estimate.
func (c *Controller) Estimate(ctx context.Context, fp string, mem Memory) Estimate {
	if c.store != nil {
		peak, ok, err := c.store.Load(ctx, c.app, fp)
		switch {
		case err != nil:
			c.log.Warn().Err(err).Str("fingerprint", fp).Msg("profile read failed; estimating conservatively")
		case ok:
			return Estimate{Bytes: uint64(float64(peak) * HistoricalMargin), Source: SourceHistorical}
		}
	}
	return Estimate{Bytes: uint64(float64(mem.Total) * ConservativeFraction), Source: SourceConservative}
}

// Check admits est iff it fits in the memory currently available.
func Check(est Estimate, mem Memory) error {
	avail := mem.Available()
	if est.Bytes > avail {
		return &InsufficientError{Required: est.Bytes, Available: avail, Source: est.Source}
	}
	return nil
}

// Admit decides whether the request configured by cfg may run. On success
// the returned Ticket (nil when the controller is disabled) must be recorded
// once the work finishes, whether it failed or not.
func (c *Controller) Admit(ctx context.Context, cfg *params.Configuration) (*Ticket, error) {
	if !c.Enabled() {
		return nil, nil
	}
	fp := c.Fingerprint(cfg)
	mem, err := c.device.Memory(ctx)
	if err != nil {
		// Availability over optimality: an unreadable device does not block work.
		c.log.Warn().Err(err).Msg("device memory read failed; admitting without a check")
		admissionsTotal.WithLabelValues("unchecked", "none").Inc()
		return c.ticket(ctx, fp, Estimate{}), nil
	}
	est := c.Estimate(ctx, fp, mem)
	lastEstimateBytes.Set(float64(est.Bytes))
	if err := Check(est, mem); err != nil {
		admissionsTotal.WithLabelValues("rejected", string(est.Source)).Inc()
		c.log.Info().
			Str("fingerprint", fp).
			Str("source", string(est.Source)).
			Str("required", humanize.IBytes(est.Bytes)).
			Str("available", humanize.IBytes(mem.Available())).
			Msg("admission rejected")
		return nil, err
	}
	admissionsTotal.WithLabelValues("admitted", string(est.Source)).Inc()
	c.log.Debug().
		Str("fingerprint", fp).
		Str("source", string(est.Source)).
		Str("estimate", humanize.IBytes(est.Bytes)).
		Str("device", mem.Name).
		Msg("admitted")
	return c.ticket(ctx, fp, est), nil
}

func (c *Controller) ticket(ctx context.Context, fp string, est Estimate) *Ticket {
	if err := c.device.ResetPeak(ctx); err != nil {
		c.log.Warn().Err(err).Msg("reset peak failed")
	}
	return &Ticket{c: c, fingerprint: fp, estimate: est}
}

// Record ratchets the stored profile for fp up to peak. Errors are logged and
// swallowed. A zero peak is never stored since it would disable future checks.
func (c *Controller) Record(ctx context.Context, fp string, peak uint64) bool {
	if c == nil || c.store == nil || peak == 0 {
		return false
	}
	updated, err := c.store.Ratchet(ctx, c.app, fp, peak)
	switch {
	case err != nil:
		profileUpdatesTotal.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Str("fingerprint", fp).Msg("profile write failed")
		return false
	case updated:
		profileUpdatesTotal.WithLabelValues("updated").Inc()
		c.log.Debug().Str("fingerprint", fp).Uint64("peak_bytes", peak).Msg("profile raised")
	default:
		profileUpdatesTotal.WithLabelValues("unchanged").Inc()
	}
	return updated
}

// Ticket is an admitted request. All methods are safe on a nil Ticket.
type Ticket struct {
	c           *Controller
	fingerprint string
	estimate    Estimate
	peak        uint64
	recorded    bool
}

func (t *Ticket) Fingerprint() string {
	if t == nil {
		return ""
	}
	return t.fingerprint
}

func (t *Ticket) Estimate() Estimate {
	if t == nil {
		return Estimate{}
	}
	return t.estimate
}

// Record reads the peak reached since admission and ratchets the profile.
// Only the first call has any effect; it returns the observed peak.
func (t *Ticket) Record(ctx context.Context) uint64 {
	if t == nil {
		return 0
	}
	if t.recorded {
		return t.peak
	}
	t.recorded = true
	peak, err := t.c.device.Peak(ctx)
	if err != nil {
		t.c.log.Warn().Err(err).Msg("peak read failed")
		return 0
	}
	t.peak = peak
	t.c.Record(ctx, t.fingerprint, peak)
	return peak
}
