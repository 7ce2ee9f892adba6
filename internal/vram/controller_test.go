package vram

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotd/internal/params"
)

const gib = uint64(1) << 30

func testConfig(t *testing.T, mode string) *params.Configuration {
	t.Helper()
	set, err := params.NewSet(params.Parameter{Name: "mode", Type: params.TypeString})
	require.NoError(t, err)
	cfg, err := params.NewRefiner(set).Refine(params.RawParams{"mode": {mode}})
	require.NoError(t, err)
	return cfg
}

func newController(dev Device, store ProfileStore) *Controller {
	return New(Options{App: "http://apps.example.org/whisper/v1", MinBytes: 1, Device: dev, Store: store, Logger: zerolog.Nop()})
}

func TestEstimate_ConservativeWithoutProfile(t *testing.T) {
	c := newController(NewStatic("gpu", 24*gib, 0, 0), NewFileStore(t.TempDir()))
	est := c.Estimate(context.Background(), "abc", Memory{Total: 24 * gib})
	total := 24 * gib
	assert.Equal(t, uint64(float64(total)*0.8), est.Bytes)
	assert.Equal(t, SourceConservative, est.Source)
}

func TestEstimate_HistoricalWithProfile(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()
	c := newController(NewStatic("gpu", 24*gib, 0, 0), store)
	_, err := store.Ratchet(ctx, c.app, "abc", 3*gib)
	require.NoError(t, err)

	est := c.Estimate(ctx, "abc", Memory{Total: 24 * gib})
	peak := 3 * gib
	assert.Equal(t, uint64(float64(peak)*1.2), est.Bytes)
	assert.Equal(t, SourceHistorical, est.Source)
}

type failingStore struct{}

func (failingStore) Load(context.Context, string, string) (uint64, bool, error) {
	return 0, false, errors.New("disk on fire")
}

func (failingStore) Ratchet(context.Context, string, string, uint64) (bool, error) {
	return false, errors.New("disk on fire")
}

func TestEstimate_StoreErrorFallsBackToConservative(t *testing.T) {
	c := newController(NewStatic("gpu", 10*gib, 0, 0), failingStore{})
	est := c.Estimate(context.Background(), "abc", Memory{Total: 10 * gib})
	assert.Equal(t, SourceConservative, est.Source)
	assert.Equal(t, uint64(8*gib), est.Bytes)
	// write errors are swallowed
	assert.False(t, c.Record(context.Background(), "abc", gib))
}

func TestCheck_AdmissionBoundary(t *testing.T) {
	mem := Memory{Total: 8 * gib, Allocated: 6 * gib}
	require.Equal(t, 2*gib, mem.Available())

	err := Check(Estimate{Bytes: 6 * gib, Source: SourceHistorical}, mem)
	require.Error(t, err)
	assert.True(t, IsInsufficient(err))
	var ie *InsufficientError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 6*gib, ie.Required)
	assert.Equal(t, 2*gib, ie.Available)
	assert.Contains(t, ie.Error(), "2.0 GiB available")

	assert.NoError(t, Check(Estimate{Bytes: gib + gib/2}, mem))
	assert.NoError(t, Check(Estimate{Bytes: 2 * gib}, mem), "equal to available is admitted")
}

func TestMemory_AvailableUsesLargerOfAllocatedAndReserved(t *testing.T) {
	assert.Equal(t, 3*gib, Memory{Total: 8 * gib, Allocated: 2 * gib, Reserved: 5 * gib}.Available())
	assert.Equal(t, uint64(0), Memory{Total: 4 * gib, Reserved: 5 * gib}.Available())
}

func TestAdmit_DisabledIsNoop(t *testing.T) {
	c := New(Options{App: "x", Device: NewStatic("gpu", gib, gib, gib), Logger: zerolog.Nop()})
	assert.False(t, c.Enabled())
	tk, err := c.Admit(context.Background(), testConfig(t, "fast"))
	require.NoError(t, err)
	assert.Nil(t, tk)
	assert.Equal(t, uint64(0), tk.Record(context.Background()))

	var nilc *Controller
	assert.False(t, nilc.Enabled())
}

func TestAdmit_FirstRequestConservativeThenHistorical(t *testing.T) {
	ctx := context.Background()
	dev := NewStatic("gpu", 10*gib, 0, 0)
	store := NewFileStore(t.TempDir())
	c := newController(dev, store)
	cfg := testConfig(t, "fast")

	tk, err := c.Admit(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, tk)
	assert.Equal(t, SourceConservative, tk.Estimate().Source)
	assert.Equal(t, Fingerprint(cfg), tk.Fingerprint())

	dev.Observe(2 * gib)
	assert.Equal(t, 2*gib, tk.Record(ctx))
	assert.Equal(t, 2*gib, tk.Record(ctx), "second record is a no-op")

	peak, ok, err := store.Load(ctx, c.app, tk.Fingerprint())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2*gib, peak)

	// the profile now drives the estimate, and the device is busy enough that
	// only the historical estimate fits
	dev.SetUsage(6*gib, 6*gib)
	tk, err = c.Admit(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, SourceHistorical, tk.Estimate().Source)
	recorded := 2 * gib
	assert.Equal(t, uint64(float64(recorded)*1.2), tk.Estimate().Bytes)

	// a different configuration has no profile and is rejected
	_, err = c.Admit(ctx, testConfig(t, "slow"))
	assert.True(t, IsInsufficient(err))
}

func TestAdmit_ResetsPeak(t *testing.T) {
	ctx := context.Background()
	dev := NewStatic("gpu", 10*gib, 0, 0)
	dev.Observe(5 * gib)
	c := newController(dev, NewFileStore(t.TempDir()))
	tk, err := c.Admit(ctx, testConfig(t, "fast"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tk.Record(ctx))
}

type brokenDevice struct{ *Static }

func (brokenDevice) Memory(context.Context) (Memory, error) { return Memory{}, errors.New("no driver") }

func TestAdmit_DeviceReadFailureAdmits(t *testing.T) {
	c := newController(brokenDevice{NewStatic("gpu", 0, 0, 0)}, NewFileStore(t.TempDir()))
	tk, err := c.Admit(context.Background(), testConfig(t, "fast"))
	require.NoError(t, err)
	assert.NotNil(t, tk)
}

func TestFingerprint_StableAndIgnoresRaw(t *testing.T) {
	set, err := params.NewSet(
		params.Parameter{Name: "mode", Type: params.TypeString},
		params.Parameter{Name: "verbose", Type: params.TypeBoolean, Default: false},
	)
	require.NoError(t, err)
	r := params.NewRefiner(set)

	a, err := r.Refine(params.RawParams{"mode": {"fast"}})
	require.NoError(t, err)
	b, err := r.Refine(params.RawParams{"mode": {"fast", "ignored"}, "verbose": {"f"}})
	require.NoError(t, err)
	c, err := r.Refine(params.RawParams{"mode": {"slow"}})
	require.NoError(t, err)

	assert.Len(t, Fingerprint(a), 16)
	assert.Equal(t, Fingerprint(a), Fingerprint(a))
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}

func TestFingerprint_IgnoresNamedParameters(t *testing.T) {
	set, err := params.NewSet(
		params.Parameter{Name: "mode", Type: params.TypeString},
		params.Parameter{Name: "pretty", Type: params.TypeBoolean, Default: false},
	)
	require.NoError(t, err)
	r := params.NewRefiner(set)
	a, err := r.Refine(params.RawParams{"mode": {"fast"}})
	require.NoError(t, err)
	b, err := r.Refine(params.RawParams{"mode": {"fast"}, "pretty": {"true"}})
	require.NoError(t, err)

	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
	assert.Equal(t, Fingerprint(a, "pretty"), Fingerprint(b, "pretty"))

	c := New(Options{App: "x", Ignore: []string{"pretty"}, Logger: zerolog.Nop()})
	assert.Equal(t, c.Fingerprint(a), c.Fingerprint(b))
}
