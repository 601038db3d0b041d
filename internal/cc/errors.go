package cc

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrQueueEmpty     = errors.New("queue is empty")
	ErrNotInitialised = errors.New("concurrency control is not initialised")
	ErrClosed         = errors.New("concurrency control is closed")
	// ErrUnsentEdits is returned by Close when queued edits were dropped.
	ErrUnsentEdits = errors.New("closed with unsent edits, data has been lost")
)

// Kind classifies protocol failures.
type Kind int

const (
	// KindChannel means the client and server share no history.
	KindChannel Kind = iota + 1
	// KindTransform covers acknowledgement mismatches, out of order server
	// deltas and transform failures.
	KindTransform
	// KindOperation means an edit cannot be applied.
	KindOperation
)

func (k Kind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindTransform:
		return "transform"
	case KindOperation:
		return "operation"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a failure that must be handled outside the control. None is
// recoverable in place: the caller reconnects or resyncs.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func channelError(format string, args ...any) error {
	return &Error{Kind: KindChannel, Err: errors.Errorf(format, args...)}
}

func protocolError(format string, args ...any) error {
	return &Error{Kind: KindTransform, Err: errors.Errorf(format, args...)}
}

// transformError keeps err matchable with errors.Is.
func transformError(err error, msg string) error {
	return &Error{Kind: KindTransform, Err: errors.Wrap(err, msg)}
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsChannel(err error) bool   { return kindOf(err) == KindChannel }
func IsTransform(err error) bool { return kindOf(err) == KindTransform }
func IsOperation(err error) bool { return kindOf(err) == KindOperation }

// OperationError marks err as an edit that could not be applied. Callers
// applying received edits use it so every failure reaching the transport
// carries a Kind.
func OperationError(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOperation, Err: err}
}
