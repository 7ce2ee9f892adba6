package annotate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"annotd/internal/params"
	"annotd/pkg/types"
)

// invocation is the per-request state reachable from analyzer code.
type invocation struct {
	id  string
	app string
	cfg *params.Configuration
	now func() time.Time

	mu       sync.Mutex
	warnings []string
}

type invocationKey struct{}

func withInvocation(ctx context.Context, inv *invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, inv)
}

func invocationFrom(ctx context.Context) *invocation {
	inv, _ := ctx.Value(invocationKey{}).(*invocation)
	return inv
}

// InvocationID returns the id of the invocation running under ctx, or "".
func InvocationID(ctx context.Context) string {
	if inv := invocationFrom(ctx); inv != nil {
		return inv.id
	}
	return ""
}

// NewView appends a view to doc signed with the running invocation: the
// service identity, a timestamp, the raw parameters as supplied, and the
// refined configuration. Outside an invocation the view only gets a
// timestamp.
func NewView(ctx context.Context, doc *types.Document) *types.View {
	inv := invocationFrom(ctx)
	v := &types.View{}
	if inv == nil {
		v.Metadata.Timestamp = time.Now().UTC()
	} else {
		inv.sign(v)
	}
	return doc.AddView(v)
}

func (inv *invocation) sign(v *types.View) {
	v.Metadata.Timestamp = inv.now().UTC()
	v.Metadata.App = inv.app
	v.Metadata.Parameters = inv.cfg.Raw()
	vals := inv.cfg.Values()
	conf := make(map[string]any, len(vals))
	for k, val := range vals {
		conf[k] = val.Interface()
	}
	v.Metadata.AppConfiguration = conf
}

// Warn records an advisory warning for the running invocation. Warnings are
// attached to the output in a trailing view and never fail the request.
func Warn(ctx context.Context, msg string) {
	inv := invocationFrom(ctx)
	if inv == nil {
		return
	}
	inv.mu.Lock()
	inv.warnings = append(inv.warnings, msg)
	inv.mu.Unlock()
}

// Warnf is Warn with formatting.
func Warnf(ctx context.Context, format string, args ...any) {
	Warn(ctx, fmt.Sprintf(format, args...))
}

func (inv *invocation) takeWarnings() []string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := inv.warnings
	inv.warnings = nil
	return out
}
