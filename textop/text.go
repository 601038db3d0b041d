// Package textop implements OT over plain text: insertions and deletions at
// byte offsets, grouped into patches.
package textop

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/kevinxiao27/wavesync/ot"
	"github.com/kevinxiao27/wavesync/util"
)

// Op is a single text operation.
type Op interface {
	Encode() string
	Apply(s string) (string, error)
	Invert() Op
}

// Insert represents a text insertion.
type Insert struct {
	Pos   int
	Value string
}

func (op *Insert) Encode() string {
	return fmt.Sprintf("i,%d,%s", op.Pos, op.Value)
}

func (op *Insert) Apply(s string) (string, error) {
	if op.Pos < 0 || op.Pos > len(s) {
		return "", errors.Wrapf(ot.ErrInapplicable, "insert at %d out of bounds (len %d)", op.Pos, len(s))
	}
	if !runeBoundary(s, op.Pos) {
		return "", errors.Wrapf(ot.ErrInapplicable, "insert at %d splits a character", op.Pos)
	}
	if !utf8.ValidString(op.Value) {
		return "", errors.Wrapf(ot.ErrInapplicable, "insert at %d of invalid UTF-8 %q", op.Pos, op.Value)
	}
	return s[:op.Pos] + op.Value + s[op.Pos:], nil
}

func (op *Insert) Invert() Op {
	return &Delete{Pos: op.Pos, Value: op.Value}
}

func (op *Insert) String() string { return op.Encode() }

// Delete represents a text deletion. Value is the deleted text, which makes
// deletes invertible and lets Apply check that the document still holds it.
type Delete struct {
	Pos   int
	Value string
}

func (op *Delete) Encode() string {
	return fmt.Sprintf("d,%d,%s", op.Pos, op.Value)
}

func (op *Delete) Apply(s string) (string, error) {
	end := op.Pos + len(op.Value)
	if op.Pos < 0 || end > len(s) {
		return "", errors.Wrapf(ot.ErrInapplicable, "delete [%d,%d) out of bounds (len %d)", op.Pos, end, len(s))
	}
	if !runeBoundary(s, op.Pos) || !runeBoundary(s, end) {
		return "", errors.Wrapf(ot.ErrInapplicable, "delete [%d,%d) splits a character", op.Pos, end)
	}
	if s[op.Pos:end] != op.Value {
		return "", errors.Wrapf(ot.ErrInapplicable, "delete at %d expected %q, found %q", op.Pos, op.Value, s[op.Pos:end])
	}
	return s[:op.Pos] + s[end:], nil
}

func (op *Delete) Invert() Op {
	return &Insert{Pos: op.Pos, Value: op.Value}
}

func (op *Delete) String() string { return op.Encode() }

func (op *Delete) end() int { return op.Pos + len(op.Value) }

// runeBoundary reports whether byte offset pos of s starts a character or
// ends s. Offsets inside a character would not survive the JSON wire.
func runeBoundary(s string, pos int) bool {
	return pos == len(s) || utf8.RuneStart(s[pos])
}

// DecodeOp returns an Op given an encoded op.
func DecodeOp(s string) (Op, error) {
	parts := strings.SplitN(s, ",", 3)
	if len(parts) < 3 {
		return nil, errors.Errorf("failed to parse op: %s", s)
	}
	pos, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse op position: %s", s)
	}
	switch t := parts[0]; t {
	case "i":
		return &Insert{pos, parts[2]}, nil
	case "d":
		return &Delete{pos, parts[2]}, nil
	default:
		return nil, errors.Errorf("unknown op type: %s", t)
	}
}

// Patch is an ordered sequence of ops applied one after another.
type Patch []Op

func (p Patch) Encode() []string {
	strs := make([]string, len(p))
	for i, v := range p {
		strs[i] = v.Encode()
	}
	return strs
}

func DecodePatch(strs []string) (Patch, error) {
	p := make(Patch, len(strs))
	for i, v := range strs {
		op, err := DecodeOp(v)
		if err != nil {
			return nil, err
		}
		p[i] = op
	}
	return p, nil
}

func (p Patch) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Encode())
}

func (p *Patch) UnmarshalJSON(b []byte) error {
	var strs []string
	if err := json.Unmarshal(b, &strs); err != nil {
		return err
	}
	decoded, err := DecodePatch(strs)
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// Apply applies every op of p to s in order.
func (p Patch) Apply(s string) (string, error) {
	for _, op := range p {
		var err error
		if s, err = op.Apply(s); err != nil {
			return "", err
		}
	}
	return s, nil
}

// Invert returns the patch undoing p.
func (p Patch) Invert() Patch {
	inv := make(Patch, len(p))
	for i, op := range p {
		inv[len(p)-1-i] = op.Invert()
	}
	return inv
}

// transformInsertDelete derives the bottom two sides of the OT diamond, where
// the top two sides are an insert and a delete.
func transformInsertDelete(a *Insert, b *Delete) (ap, bp Op) {
	if a.Pos <= b.Pos {
		// Insert before delete. Delete shifts forward.
		return a, &Delete{b.Pos + len(a.Value), b.Value}
	} else if a.Pos >= b.end() {
		// Insert after delete. Insert shifts backward.
		return &Insert{a.Pos - len(b.Value), a.Value}, b
	}
	// Insert inside the delete range. Delete expands to include the insert,
	// and insert collapses to nothing.
	at := a.Pos - b.Pos
	return &Insert{b.Pos, ""}, &Delete{b.Pos, b.Value[:at] + a.Value + b.Value[at:]}
}

// transformDeleteDelete removes the overlap of two deletions from both.
func transformDeleteDelete(a, b *Delete) (ap, bp Op) {
	if a.end() <= b.Pos {
		return a, &Delete{b.Pos - len(a.Value), b.Value}
	} else if b.end() <= a.Pos {
		return &Delete{a.Pos - len(b.Value), a.Value}, b
	}
	pos := util.MinInt(a.Pos, b.Pos)
	from, to := util.MaxInt(a.Pos, b.Pos), util.MinInt(a.end(), b.end())
	return &Delete{pos, a.Value[:from-a.Pos] + a.Value[to-a.Pos:]},
		&Delete{pos, b.Value[:from-b.Pos] + b.Value[to-b.Pos:]}
}

// Transform derives the bottom two sides of the OT diamond. In other words, it
// transforms (a, b) into (a', b'). Assumes b takes priority over a, e.g. for
// insert-insert conflicts.
func Transform(a, b Op) (ap, bp Op, err error) {
	switch ai := a.(type) {
	case *Insert:
		switch bi := b.(type) {
		case *Insert:
			// When insert positions are equal, a' shifts forward.
			if bi.Pos <= ai.Pos {
				return &Insert{ai.Pos + len(bi.Value), ai.Value}, b, nil
			}
			return a, &Insert{bi.Pos + len(ai.Value), bi.Value}, nil
		case *Delete:
			ap, bp = transformInsertDelete(ai, bi)
			return ap, bp, nil
		}
	case *Delete:
		switch bi := b.(type) {
		case *Insert:
			ins, del := transformInsertDelete(bi, ai)
			return del, ins, nil
		case *Delete:
			ap, bp = transformDeleteDelete(ai, bi)
			return ap, bp, nil
		}
	}
	return nil, nil, errors.Wrapf(ot.ErrTransform, "unsupported op pair %T, %T", a, b)
}

// TransformPatch is Transform for patches.
func TransformPatch(a, b Patch) (ap, bp Patch, err error) {
	aNew, bNew := make(Patch, len(a)), make(Patch, len(b))
	copy(aNew, a)
	for i, bOp := range b {
		for j, aOp := range aNew {
			if aNew[j], bOp, err = Transform(aOp, bOp); err != nil {
				return nil, nil, err
			}
		}
		bNew[i] = bOp
	}
	return aNew, bNew, nil
}

// Compact concatenates later onto earlier, folding an insert into the
// preceding insert when it lands inside or at the end of it. Deletions are
// never folded: the insert-inside-delete rule of Transform would make a
// folded delete swallow concurrent inserts that the unfolded pair keeps.
func Compact(earlier, later Patch) Patch {
	out := make(Patch, 0, len(earlier)+len(later))
	out = append(out, earlier...)
	for _, op := range later {
		if ins, ok := op.(*Insert); ok && len(out) > 0 {
			if prev, ok := out[len(out)-1].(*Insert); ok &&
				ins.Pos >= prev.Pos && ins.Pos <= prev.Pos+len(prev.Value) {
				at := ins.Pos - prev.Pos
				out[len(out)-1] = &Insert{prev.Pos, prev.Value[:at] + ins.Value + prev.Value[at:]}
				continue
			}
		}
		out = append(out, op)
	}
	return out
}
