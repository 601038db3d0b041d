// Package compact shrinks a run of same-author edits before it is sent or
// merged back into a queue.
package compact

import (
	"github.com/pkg/errors"

	"github.com/kevinxiao27/wavesync/ot"
)

// Rules is the slice of an edit algebra the compactor needs.
type Rules[O any] interface {
	// Target reports whether op edits content and, if so, which unit
	// (document, sub-document) it touches.
	Target(op O) (string, bool)
	Compose(later, earlier O) (O, error)
}

// Optimise composes consecutive content edits on the same unit into one
// edit. Edits that are not content edits, or that change target, end the
// current run and are passed through in order. The input is assumed to come
// from a single author.
func Optimise[O any](ops []O, rules Rules[O]) ([]O, error) {
	out := make([]O, 0, len(ops))
	var (
		acc     O
		unit    string
		pending bool
	)
	flush := func() {
		if pending {
			out = append(out, acc)
			pending = false
		}
	}
	for _, op := range ops {
		target, ok := rules.Target(op)
		if !ok {
			flush()
			out = append(out, op)
			continue
		}
		if pending && target == unit {
			composed, err := rules.Compose(op, acc)
			if err == nil {
				acc = composed
				continue
			}
			if !errors.Is(err, ot.ErrNotComposable) {
				return nil, err
			}
		}
		flush()
		acc, unit, pending = op, target, true
	}
	flush()
	return out, nil
}
