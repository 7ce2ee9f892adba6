package annotate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"annotd/internal/common/fsutil"
	"annotd/internal/params"
	"annotd/pkg/types"
)

// Output is the result of an invocation that reached execution. Status is
// StatusOK or StatusInternal; in the latter case Document carries a trailing
// error view instead of propagating the failure.
type Output struct {
	Document     *types.Document
	Status       Status
	InvocationID string
	// Pretty is the refined value of the pretty parameter.
	Pretty bool
}

// Serialize encodes the output document, indented when requested.
func (o *Output) Serialize() ([]byte, error) { return o.Document.Serialize(o.Pretty) }

// Annotate runs one invocation: refine the input, check document locations,
// pass admission, execute the analyzer, and instrument the result.
//
// Errors before execution are returned as-is and classified with Classify.
// Failures inside the analyzer, including panics, are absorbed into an
// Output with StatusInternal.
func (m *Orchestrator) Annotate(ctx context.Context, doc *types.Document, in params.Input) (*Output, error) {
	id := uuid.NewString()
	log := m.log.With().Str("invocation", id).Logger()
	start := m.now()
	m.pub.Publish(Event{Name: EventStart, Invocation: id})

	if doc == nil {
		doc = &types.Document{Documents: []types.SourceDocument{}, Views: []*types.View{}}
	}

	cfg, err := m.refiner.Refine(in)
	if err != nil {
		log.Debug().Err(err).Msg("configuration rejected")
		m.fail(id, err)
		return nil, err
	}
	if m.checkLocs {
		if err := checkLocations(doc); err != nil {
			log.Debug().Err(err).Msg("document check failed")
			m.fail(id, err)
			return nil, err
		}
	}

	release, err := m.acquire(ctx)
	if err != nil {
		m.fail(id, err)
		return nil, err
	}
	defer release()

	ticket, err := m.vram.Admit(ctx, cfg)
	if err != nil {
		m.pub.Publish(Event{Name: EventAdmissionRejected, Invocation: id, Fields: map[string]any{"error": err.Error()}})
		m.fail(id, err)
		return nil, err
	}

	inv := &invocation{id: id, app: m.meta.Identifier, cfg: cfg, now: m.now}
	prior := make(map[string]bool, len(doc.Views))
	for _, vid := range doc.ViewIDs() {
		prior[vid] = true
	}

	execStart := m.now()
	result, execErr := m.execute(withInvocation(ctx, inv), doc, cfg)
	elapsed := m.now().Sub(execStart)
	// the peak is recorded even when the request was canceled mid-execution
	peak := ticket.Record(context.WithoutCancel(ctx))

	if result == nil {
		result = doc
	}
	out := &Output{Document: result, Status: StatusOK, InvocationID: id, Pretty: cfg.Bool(ParamPretty)}

	if execErr != nil {
		m.errorView(inv, result, execErr, append(unrecognizedWarnings(cfg), inv.takeWarnings()...))
		out.Status = StatusInternal
		log.Error().Err(execErr).Msg("analysis failed")
		m.pub.Publish(Event{Name: EventError, Invocation: id, Fields: map[string]any{
			"error":      execErr.Error(),
			"peak_bytes": peak,
		}})
		return out, nil
	}

	var fresh []*types.View
	for _, v := range result.Views {
		if !prior[v.ID] {
			fresh = append(fresh, v)
		}
	}
	var hw *types.Hardware
	if cfg.Bool(ParamHWFetch) {
		hw = hardware(ctx, m.device)
	}
	profile(fresh, elapsed, hw, cfg.Bool(ParamRunningTime))

	warnings := unrecognizedWarnings(cfg)
	warnings = append(warnings, inv.takeWarnings()...)
	if len(warnings) > 0 {
		v := &types.View{}
		inv.sign(v)
		v.Metadata.Warnings = warnings
		result.AddView(v)
	}

	log.Info().
		Dur("elapsed", m.now().Sub(start)).
		Int("views", len(fresh)).
		Int("warnings", len(warnings)).
		Msg("annotated")
	m.pub.Publish(Event{Name: EventDone, Invocation: id, Fields: map[string]any{
		"elapsed":    elapsed,
		"views":      len(fresh),
		"peak_bytes": peak,
	}})
	return out, nil
}

func (m *Orchestrator) fail(id string, err error) {
	m.pub.Publish(Event{Name: EventError, Invocation: id, Fields: map[string]any{
		"error":  err.Error(),
		"status": Classify(err).String(),
	}})
}

// execute calls the analyzer, converting a panic into an error.
func (m *Orchestrator) execute(ctx context.Context, doc *types.Document, cfg *params.Configuration) (res *types.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return m.analyzer.Annotate(ctx, doc, cfg)
}

// errorView appends a signed view describing err in place of annotations.
func (m *Orchestrator) errorView(inv *invocation, doc *types.Document, err error, warnings []string) {
	v := &types.View{}
	inv.sign(v)
	trace := fmt.Sprintf("%+v", err)
	if st, ok := err.(stackTracer); ok {
		trace = st.StackTrace()
	}
	v.Metadata.Error = &types.ViewError{Message: describe(err), StackTrace: trace}
	if len(warnings) > 0 {
		v.Metadata.Warnings = warnings
	}
	doc.AddView(v)
}

// describe renders err as "<kind>: <message>". The kind is the Go type of
// the error, or of the recovered value for a panic.
func describe(err error) string {
	var pe *panicError
	if errors.As(err, &pe) {
		return fmt.Sprintf("panic %s: %v", typeName(pe.value), pe.value)
	}
	return typeName(err) + ": " + err.Error()
}

func typeName(v any) string { return strings.TrimPrefix(fmt.Sprintf("%T", v), "*") }

func unrecognizedWarnings(cfg *params.Configuration) []string {
	names := cfg.Unrecognized()
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, fmt.Sprintf("parameter %q is not recognized and was ignored", n))
	}
	return out
}

// checkLocations verifies that local source documents exist. Remote
// locations (any scheme other than file) are not checked.
func checkLocations(doc *types.Document) error {
	for _, sd := range doc.Documents {
		loc := sd.Properties.Location
		if loc == "" {
			continue
		}
		path := loc
		if strings.Contains(loc, "://") {
			u, err := url.Parse(loc)
			if err != nil || u.Scheme != "file" {
				continue
			}
			path = u.Path
		}
		if !fsutil.PathExists(path) {
			return ErrNotFound(sd.Properties.ID, loc)
		}
	}
	return nil
}
