package wavelet

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"

	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/ot"
)

// Wavelet is the state ops apply to.
type Wavelet struct {
	Docs         map[string]string
	Participants mapset.Set[types.Author]
	// Version is the server version the content reflects, not counting
	// local edits still waiting for an ack. It does not take part in
	// Equivalent.
	Version int64
}

func New() *Wavelet {
	return &Wavelet{
		Docs:         make(map[string]string),
		Participants: mapset.NewThreadUnsafeSet[types.Author](),
	}
}

// Clone returns a deep copy of w.
func (w *Wavelet) Clone() *Wavelet {
	c := &Wavelet{
		Docs:         make(map[string]string, len(w.Docs)),
		Participants: w.Participants.Clone(),
		Version:      w.Version,
	}
	for id, text := range w.Docs {
		c.Docs[id] = text
	}
	return c
}

// Text returns the content of document id, empty when it does not exist.
func (w *Wavelet) Text(id string) string {
	return w.Docs[id]
}

func (w *Wavelet) String() string {
	ids := make([]string, 0, len(w.Docs))
	for id := range w.Docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	s := fmt.Sprintf("v%d participants=%v", w.Version, w.Participants.ToSlice())
	for _, id := range ids {
		s += fmt.Sprintf(" %s=%q", id, w.Docs[id])
	}
	return s
}

// Apply applies an edit the server has sequenced. A signed version update
// sets the version it carries; every other op adds its increment.
func Apply(op Op, w *Wavelet) error {
	if err := applyContent(op, w); err != nil {
		return err
	}
	if op.Kind == VersionUpdate && op.Context.Signed != nil {
		w.Version = op.Context.Signed.Version
	} else {
		w.Version += op.Context.VersionIncrement
	}
	return nil
}

// ApplyLocal applies an edit made on this replica. The version does not move
// until the server acknowledges the edit.
func ApplyLocal(op Op, w *Wavelet) error {
	return applyContent(op, w)
}

// applyContent leaves w untouched when op is inapplicable.
func applyContent(op Op, w *Wavelet) error {
	switch op.Kind {
	case DocEdit:
		text, err := op.Patch.Apply(w.Docs[op.DocID])
		if err != nil {
			return errors.Wrapf(err, "document %s", op.DocID)
		}
		if text == "" {
			delete(w.Docs, op.DocID)
		} else {
			w.Docs[op.DocID] = text
		}
	case AddParticipant:
		if !w.Participants.Add(op.Participant) {
			return errors.Wrapf(ot.ErrInapplicable, "%s is already a participant", op.Participant)
		}
	case RemoveParticipant:
		if !w.Participants.Contains(op.Participant) {
			return errors.Wrapf(ot.ErrInapplicable, "%s is not a participant", op.Participant)
		}
		w.Participants.Remove(op.Participant)
	case NoOp, VersionUpdate:
	default:
		return errors.Wrapf(ot.ErrInapplicable, "unknown op kind %q", op.Kind)
	}
	return nil
}

// Equivalent compares document content and participants.
func Equivalent(a, b *Wavelet) bool {
	if len(a.Docs) != len(b.Docs) || !a.Participants.Equal(b.Participants) {
		return false
	}
	for id, text := range a.Docs {
		if other, ok := b.Docs[id]; !ok || other != text {
			return false
		}
	}
	return true
}
