package annotate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"annotd/internal/appmeta"
	"annotd/internal/params"
	"annotd/internal/vram"
	"annotd/pkg/types"
)

// Universal parameters every service accepts in addition to its own.
const (
	ParamPretty      = "pretty"
	ParamRunningTime = "runningTime"
	ParamHWFetch     = "hwFetch"
)

// UniversalParameters are appended to each service's declared parameters.
var UniversalParameters = []params.Parameter{
	{
		Name:        ParamPretty,
		Type:        params.TypeBoolean,
		Default:     false,
		Description: "The JSON body of the response will be indented with two spaces.",
	},
	{
		Name:        ParamRunningTime,
		Type:        params.TypeBoolean,
		Default:     false,
		Description: "The running time of the analysis will be recorded in the view metadata.",
	},
	{
		Name:        ParamHWFetch,
		Type:        params.TypeBoolean,
		Default:     false,
		Description: "The hardware information (architecture, GPU and memory) will be recorded in the view metadata.",
	},
}

// Defaults applied when corresponding Options fields are unset.
const defaultMaxWait = 30 * time.Second

// Analyzer is the developer-supplied analysis. It may add views to doc (via
// NewView) and return doc, or return a different document.
type Analyzer interface {
	Annotate(ctx context.Context, doc *types.Document, cfg *params.Configuration) (*types.Document, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, doc *types.Document, cfg *params.Configuration) (*types.Document, error)

func (f AnalyzerFunc) Annotate(ctx context.Context, doc *types.Document, cfg *params.Configuration) (*types.Document, error) {
	return f(ctx, doc, cfg)
}

// Options encapsulates all tunables for Orchestrator construction.
type Options struct {
	Metadata *appmeta.Metadata
	Analyzer Analyzer
	// Device enables accelerator admission when the metadata declares a
	// nonzero minimum. Nil disables it.
	Device vram.Device
	Store  vram.ProfileStore
	// CheckLocations rejects documents whose local source files are missing.
	CheckLocations bool
	// MaxWait bounds how long an invocation waits for the accelerator slot.
	MaxWait   time.Duration
	Publisher EventPublisher
	Logger    zerolog.Logger
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Orchestrator sequences refinement, admission, execution and
// instrumentation for one service. It is safe for concurrent use; when
// admission is enabled, invocations run one at a time so that each peak
// measurement belongs to a single invocation.
type Orchestrator struct {
	meta      *appmeta.Metadata
	analyzer  Analyzer
	refiner   *params.Refiner
	vram      *vram.Controller
	device    vram.Device
	checkLocs bool
	maxWait   time.Duration
	pub       EventPublisher
	log       zerolog.Logger
	now       func() time.Time

	// slot is a single in-flight token used while admission is enabled.
	slot chan struct{}
}

// New validates the metadata, appends the universal parameters, and builds
// the refinement and admission machinery.
func New(o Options) (*Orchestrator, error) {
	if o.Metadata == nil {
		return nil, errors.New("annotate: metadata is required")
	}
	if o.Analyzer == nil {
		return nil, errors.New("annotate: analyzer is required")
	}
	meta := o.Metadata.Clone()
	var universal []string
	for _, up := range UniversalParameters {
		if !declares(meta, up.Name) {
			meta.Parameters = append(meta.Parameters, up)
			universal = append(universal, up.Name)
		}
	}
	for _, w := range meta.Normalize() {
		o.Logger.Warn().Str("app", meta.Identifier).Msg(w)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	set, err := meta.ParamSet()
	if err != nil {
		return nil, err
	}
	m := &Orchestrator{
		meta:      meta,
		analyzer:  o.Analyzer,
		refiner:   params.NewRefiner(set),
		device:    o.Device,
		checkLocs: o.CheckLocations,
		maxWait:   o.MaxWait,
		pub:       o.Publisher,
		log:       o.Logger.With().Str("app", meta.Identifier).Logger(),
		now:       o.Now,
	}
	if m.maxWait <= 0 {
		m.maxWait = defaultMaxWait
	}
	if m.pub == nil {
		m.pub = noopPublisher{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.vram = vram.New(vram.Options{
		App:      meta.Identifier,
		MinBytes: meta.GPUMemMinBytes(),
		Device:   o.Device,
		Store:    o.Store,
		// output flags do not change memory use; an app that declares its
		// own parameter under one of these names keeps it in the key
		Ignore: universal,
		Logger: o.Logger,
	})
	if m.vram.Enabled() {
		m.slot = make(chan struct{}, 1)
	}
	return m, nil
}

func declares(m *appmeta.Metadata, name string) bool {
	for _, p := range m.Parameters {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Metadata returns the service metadata including universal parameters.
func (m *Orchestrator) Metadata() *appmeta.Metadata { return m.meta.Clone() }

// Refine turns caller input into a configuration without running anything.
func (m *Orchestrator) Refine(in params.Input) (*params.Configuration, error) {
	return m.refiner.Refine(in)
}

// Fingerprint returns the memory profile key for cfg.
func (m *Orchestrator) Fingerprint(cfg *params.Configuration) string {
	return m.vram.Fingerprint(cfg)
}

// AdmissionEnabled reports whether requests pass through VRAM admission.
func (m *Orchestrator) AdmissionEnabled() bool { return m.vram.Enabled() }

// DeviceName returns the accelerator name, or "" without a device.
func (m *Orchestrator) DeviceName(ctx context.Context) string {
	if m.device == nil {
		return ""
	}
	mem, err := m.device.Memory(ctx)
	if err != nil {
		return ""
	}
	return mem.Name
}

// acquire reserves the single in-flight slot. Returns a release func to be
// deferred. It is a no-op when admission is disabled.
func (m *Orchestrator) acquire(ctx context.Context) (func(), error) {
	if m.slot == nil {
		return func() {}, nil
	}
	t := time.NewTimer(m.maxWait)
	defer t.Stop()
	select {
	case m.slot <- struct{}{}:
		return func() { <-m.slot }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-t.C:
		return func() {}, &tooBusyError{app: m.meta.Identifier}
	}
}
