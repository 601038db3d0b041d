// Package ot defines the operational-transform algebra consumed by the sync
// engine. Concrete edit types live in their own packages; ot only states the
// contract and the errors every implementation reports.
package ot

import "github.com/pkg/errors"

var (
	// ErrInapplicable is returned by Apply when an op cannot legally apply to
	// the given state.
	ErrInapplicable = errors.New("ot: operation is not applicable")
	// ErrNotComposable is returned by Compose for pairs that have no single-op
	// composition.
	ErrNotComposable = errors.New("ot: operations cannot be composed")
	// ErrTransform signals a contract violation inside Transform. It always
	// indicates real divergence and must not be absorbed by callers.
	ErrTransform = errors.New("ot: transform failed")
)

// Applier applies ops to mutable state and compares states semantically.
type Applier[D, O any] interface {
	Apply(op O, d D) error
	Equivalent(a, b D) bool
}

// Composer merges two consecutive ops into one. Compose must be associative.
type Composer[O any] interface {
	Compose(later, earlier O) (O, error)
}

// Inverter produces the op that undoes op.
type Inverter[O any] interface {
	Invert(op O) O
}

// Transformer derives the bottom two sides of the OT diamond for concurrent
// ops. The server op takes priority when the two conflict.
type Transformer[O any] interface {
	Transform(client, server O) (O, O, error)
}

// Snapshotter converts between a state and the op that builds it from the
// initial state.
type Snapshotter[D, O any] interface {
	AsOperation(d D) O
	InitialState() D
}

// Service is the full transform service for state type D and edit type O.
type Service[D, O any] interface {
	Applier[D, O]
	Composer[O]
	Inverter[O]
	Transformer[O]
	Snapshotter[D, O]
}
