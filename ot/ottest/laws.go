// Package ottest is a property-test harness for ot.Service implementations.
// Each Check function draws random states and ops from a Generator and
// verifies one algebraic law by comparing resulting states with Equivalent.
package ottest

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kevinxiao27/wavesync/ot"
)

// Generator produces random states and ops applicable to them.
type Generator[D, O any] interface {
	State(r *rand.Rand) D
	// Op returns an op that applies cleanly to d.
	Op(r *rand.Rand, d D) O
	Clone(d D) D
}

// Config controls how many samples each law draws.
type Config struct {
	Iterations int
	Seed       int64
}

func (c Config) withDefaults() Config {
	if c.Iterations <= 0 {
		c.Iterations = 500
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

type harness[D, O any] struct {
	t   *testing.T
	app ot.Applier[D, O]
	gen Generator[D, O]
}

func (h harness[D, O]) apply(d D, ops ...O) D {
	h.t.Helper()
	out := h.gen.Clone(d)
	for _, op := range ops {
		require.NoError(h.t, h.app.Apply(op, out), "apply %v", op)
	}
	return out
}

func (h harness[D, O]) equivalent(want, got D, msg string, args ...any) {
	h.t.Helper()
	if !h.app.Equivalent(want, got) {
		args = append(args, want, got)
		h.t.Fatalf(msg+": want %v, got %v", args...)
	}
}

// CheckRoundTrip verifies apply(asOperation(d), initialState()) ≡ d.
func CheckRoundTrip[D, O any](t *testing.T, svc interface {
	ot.Applier[D, O]
	ot.Snapshotter[D, O]
}, gen Generator[D, O], cfg Config) {
	t.Helper()
	cfg = cfg.withDefaults()
	r := rand.New(rand.NewSource(cfg.Seed))
	h := harness[D, O]{t: t, app: svc, gen: gen}
	for i := 0; i < cfg.Iterations; i++ {
		d := gen.State(r)
		got := svc.InitialState()
		require.NoError(t, svc.Apply(svc.AsOperation(d), got))
		h.equivalent(d, got, "round trip #%d", i)
	}
}

// CheckInversion verifies apply(invert(op), apply(op, d)) ≡ d.
func CheckInversion[D, O any](t *testing.T, svc interface {
	ot.Applier[D, O]
	ot.Inverter[O]
}, gen Generator[D, O], cfg Config) {
	t.Helper()
	cfg = cfg.withDefaults()
	r := rand.New(rand.NewSource(cfg.Seed))
	h := harness[D, O]{t: t, app: svc, gen: gen}
	for i := 0; i < cfg.Iterations; i++ {
		d := gen.State(r)
		op := gen.Op(r, d)
		got := h.apply(d, op, svc.Invert(op))
		h.equivalent(d, got, "inversion #%d of %v", i, op)
	}
}

// CheckComposition verifies that compose(compose(c, b), a) has the same
// effect as a, b, c applied in order, and that composition is associative.
// Samples whose ops do not compose are skipped, but at least a quarter of
// the samples must be checked.
func CheckComposition[D, O any](t *testing.T, svc interface {
	ot.Applier[D, O]
	ot.Composer[O]
}, gen Generator[D, O], cfg Config) {
	t.Helper()
	cfg = cfg.withDefaults()
	r := rand.New(rand.NewSource(cfg.Seed))
	h := harness[D, O]{t: t, app: svc, gen: gen}
	checked := 0
	for i := 0; i < cfg.Iterations; i++ {
		d := gen.State(r)
		a := gen.Op(r, d)
		da := h.apply(d, a)
		b := gen.Op(r, da)
		dab := h.apply(da, b)
		c := gen.Op(r, dab)
		want := h.apply(dab, c)

		ba, err := svc.Compose(b, a)
		if errors.Is(err, ot.ErrNotComposable) {
			continue
		}
		require.NoError(t, err)
		left, err := svc.Compose(c, ba)
		if errors.Is(err, ot.ErrNotComposable) {
			continue
		}
		require.NoError(t, err)
		cb, err := svc.Compose(c, b)
		require.NoError(t, err, "compose(c, b) failed where compose(c, compose(b, a)) succeeded")
		right, err := svc.Compose(cb, a)
		require.NoError(t, err)

		h.equivalent(want, h.apply(d, left), "compose(compose(c,b),a) #%d", i)
		h.equivalent(want, h.apply(d, right), "compose(c,compose(b,a)) #%d", i)
		checked++
	}
	require.GreaterOrEqual(t, checked, cfg.Iterations/4, "too few composable samples")
}

// CheckDiamond verifies that for concurrent a and b derived from d, with
// (a', b') = transform(a, b), apply(b', apply(a, d)) ≡ apply(a', apply(b, d)).
func CheckDiamond[D, O any](t *testing.T, svc interface {
	ot.Applier[D, O]
	ot.Transformer[O]
}, gen Generator[D, O], cfg Config) {
	t.Helper()
	cfg = cfg.withDefaults()
	r := rand.New(rand.NewSource(cfg.Seed))
	h := harness[D, O]{t: t, app: svc, gen: gen}
	for i := 0; i < cfg.Iterations; i++ {
		d := gen.State(r)
		a := gen.Op(r, d)
		b := gen.Op(r, d)
		ap, bp, err := svc.Transform(a, b)
		require.NoError(t, err, "transform(%v, %v)", a, b)
		left := h.apply(d, a, bp)
		right := h.apply(d, b, ap)
		h.equivalent(left, right, "diamond #%d a=%v b=%v", i, a, b)
	}
}

// CheckTransformCompose verifies that transforming a composed op against a
// third op matches transforming each component and recomposing.
func CheckTransformCompose[D, O any](t *testing.T, svc interface {
	ot.Applier[D, O]
	ot.Composer[O]
	ot.Transformer[O]
}, gen Generator[D, O], cfg Config) {
	t.Helper()
	cfg = cfg.withDefaults()
	r := rand.New(rand.NewSource(cfg.Seed))
	h := harness[D, O]{t: t, app: svc, gen: gen}
	checked := 0
	for i := 0; i < cfg.Iterations; i++ {
		d := gen.State(r)
		b1 := gen.Op(r, d)
		b2 := gen.Op(r, h.apply(d, b1))
		c := gen.Op(r, d)

		composed, err := svc.Compose(b2, b1)
		if errors.Is(err, ot.ErrNotComposable) {
			continue
		}
		require.NoError(t, err)

		xp, cx, err := svc.Transform(composed, c)
		require.NoError(t, err)
		b1p, c1, err := svc.Transform(b1, c)
		require.NoError(t, err)
		b2p, c2, err := svc.Transform(b2, c1)
		require.NoError(t, err)

		afterC := h.apply(d, c)
		h.equivalent(h.apply(afterC, b1p, b2p), h.apply(afterC, xp),
			"client side #%d", i)
		afterB := h.apply(d, b1, b2)
		h.equivalent(h.apply(afterB, c2), h.apply(afterB, cx),
			"server side #%d", i)
		checked++
	}
	require.GreaterOrEqual(t, checked, cfg.Iterations/4, "too few composable samples")
}

// CheckAll runs every law against a full service.
func CheckAll[D, O any](t *testing.T, svc ot.Service[D, O], gen Generator[D, O], cfg Config) {
	t.Run("RoundTrip", func(t *testing.T) { CheckRoundTrip[D, O](t, svc, gen, cfg) })
	t.Run("Inversion", func(t *testing.T) { CheckInversion[D, O](t, svc, gen, cfg) })
	t.Run("Composition", func(t *testing.T) { CheckComposition[D, O](t, svc, gen, cfg) })
	t.Run("Diamond", func(t *testing.T) { CheckDiamond[D, O](t, svc, gen, cfg) })
	t.Run("TransformCompose", func(t *testing.T) { CheckTransformCompose[D, O](t, svc, gen, cfg) })
}
