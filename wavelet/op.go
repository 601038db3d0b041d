// Package wavelet is the concrete edit model synchronised by the client
// engine: a wavelet holds named text documents and a participant set, and
// every edit carries the context of who made it and how far it moves the
// version.
package wavelet

import (
	"fmt"
	"strings"

	"github.com/kevinxiao27/wavesync/internal/types"
	"github.com/kevinxiao27/wavesync/textop"
)

// Context is attached to every op.
type Context struct {
	Author           types.Author `json:"author"`
	VersionIncrement int64        `json:"inc"`
	// Signed is the hashed version reached after this op, when known.
	Signed *types.HashedVersion `json:"signed,omitempty"`
}

// Kind tags the payload of an op.
type Kind string

const (
	NoOp              Kind = "noop"
	DocEdit           Kind = "doc"
	AddParticipant    Kind = "add"
	RemoveParticipant Kind = "remove"
	VersionUpdate     Kind = "version"
)

// Op is an atomic wavelet edit. Ops are values and are never modified after
// construction.
type Op struct {
	Context     Context      `json:"ctx"`
	Kind        Kind         `json:"kind"`
	DocID       string       `json:"doc,omitempty"`
	Patch       textop.Patch `json:"patch,omitempty"`
	Participant types.Author `json:"participant,omitempty"`
}

// Ctx returns a one-step context for author.
func Ctx(author types.Author) Context {
	return Context{Author: author, VersionIncrement: 1}
}

func NewDocOp(ctx Context, docID string, ops ...textop.Op) Op {
	return Op{Context: ctx, Kind: DocEdit, DocID: docID, Patch: textop.Patch(ops)}
}

func NewNoOp(ctx Context) Op {
	return Op{Context: ctx, Kind: NoOp}
}

func NewAddParticipant(ctx Context, p types.Author) Op {
	return Op{Context: ctx, Kind: AddParticipant, Participant: p}
}

func NewRemoveParticipant(ctx Context, p types.Author) Op {
	return Op{Context: ctx, Kind: RemoveParticipant, Participant: p}
}

// NewVersionUpdate returns an op that changes nothing but the version.
func NewVersionUpdate(author types.Author, increment int64, signed *types.HashedVersion) Op {
	return Op{
		Context: Context{Author: author, VersionIncrement: increment, Signed: signed},
		Kind:    VersionUpdate,
	}
}

// Author satisfies cc.Edit.
func (op Op) Author() types.Author {
	return op.Context.Author
}

// withPatch keeps op's context and target but swaps the patch.
func (op Op) withPatch(p textop.Patch) Op {
	op.Patch = p
	return op
}

// nullified keeps op's context, so the version still advances.
func (op Op) nullified() Op {
	return Op{Context: op.Context, Kind: NoOp}
}

func (op Op) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s", op.Kind, op.Context.Author)
	switch op.Kind {
	case DocEdit:
		fmt.Fprintf(&b, " %s %v", op.DocID, op.Patch.Encode())
	case AddParticipant, RemoveParticipant:
		fmt.Fprintf(&b, " %s", op.Participant)
	}
	if op.Context.Signed != nil {
		fmt.Fprintf(&b, " @%s", op.Context.Signed)
	}
	b.WriteString(")")
	return b.String()
}
