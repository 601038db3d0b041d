package wavelet

import (
	"reflect"

	"github.com/pkg/errors"

	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/ot"
	"github.com/kevinxiao27/wavesync/textop"
)

// Algebra is the transform service for wavelet ops. It carries no state.
type Algebra struct{}

func (Algebra) Apply(op Op, w *Wavelet) error {
	return Apply(op, w)
}

func (Algebra) Equivalent(a, b *Wavelet) bool {
	return Equivalent(a, b)
}

// Compose merges two document edits by the same author on the same
// document. The server counts the result as a single version. Every other
// pair reports ot.ErrNotComposable.
func (Algebra) Compose(later, earlier Op) (Op, error) {
	if earlier.Kind != DocEdit || later.Kind != DocEdit || earlier.DocID != later.DocID {
		return Op{}, errors.Wrapf(ot.ErrNotComposable, "%v after %v", later, earlier)
	}
	if earlier.Author() != later.Author() {
		return Op{}, errors.Wrapf(ot.ErrNotComposable, "authors %s and %s differ", later.Author(), earlier.Author())
	}
	ctx := Context{
		Author:           earlier.Author(),
		VersionIncrement: 1,
		Signed:           later.Context.Signed,
	}
	return NewDocOp(ctx, earlier.DocID, textop.Compact(earlier.Patch, later.Patch)...), nil
}

func (Algebra) Invert(op Op) Op {
	switch op.Kind {
	case DocEdit:
		return op.withPatch(op.Patch.Invert())
	case AddParticipant:
		op.Kind = RemoveParticipant
	case RemoveParticipant:
		op.Kind = AddParticipant
	}
	return op
}

// Transform rebases a client op and a concurrent server op over each other.
// Identical participant changes cancel out; an add racing a remove of the
// same participant cannot come from a common state and is an error.
func (Algebra) Transform(client, server Op) (Op, Op, error) {
	switch {
	case client.Kind == DocEdit && server.Kind == DocEdit && client.DocID == server.DocID:
		cp, sp, err := textop.TransformPatch(client.Patch, server.Patch)
		if err != nil {
			return Op{}, Op{}, errors.Wrapf(err, "document %s", client.DocID)
		}
		return client.withPatch(cp), server.withPatch(sp), nil
	case isParticipantOp(client) && isParticipantOp(server) && client.Participant == server.Participant:
		if client.Kind != server.Kind {
			return Op{}, Op{}, errors.Wrapf(ot.ErrTransform, "concurrent %v and %v", client, server)
		}
		return client.nullified(), server.nullified(), nil
	}
	return client, server, nil
}

func isParticipantOp(op Op) bool {
	return op.Kind == AddParticipant || op.Kind == RemoveParticipant
}

// TransformDeltas transforms two op sequences against each other. The
// returned sequences have the same lengths as the inputs.
func (a Algebra) TransformDeltas(client, server []Op) ([]Op, []Op, error) {
	cNew, sNew := make([]Op, len(client)), make([]Op, len(server))
	copy(cNew, client)
	for i, sOp := range server {
		for j, cOp := range cNew {
			var err error
			if cNew[j], sOp, err = a.Transform(cOp, sOp); err != nil {
				return nil, nil, err
			}
		}
		sNew[i] = sOp
	}
	return cNew, sNew, nil
}

// Target reports the document a content edit modifies.
func (Algebra) Target(op Op) (string, bool) {
	if op.Kind != DocEdit {
		return "", false
	}
	return op.DocID, true
}

// VersionUpdate returns the version-only stand-in for op.
func (Algebra) VersionUpdate(op Op, signed *types.HashedVersion) Op {
	return NewVersionUpdate(op.Author(), op.Context.VersionIncrement, signed)
}

// Same reports whether two op sequences carry the same edits by the same
// authors, ignoring signed versions.
func (Algebra) Same(a, b []Op) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Author() != y.Author() || x.Kind != y.Kind || x.DocID != y.DocID ||
			x.Participant != y.Participant || x.Context.VersionIncrement != y.Context.VersionIncrement {
			return false
		}
		if !reflect.DeepEqual(x.Patch.Encode(), y.Patch.Encode()) {
			return false
		}
	}
	return true
}
