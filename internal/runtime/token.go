package runtime

import (
	"errors"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/restbridge/internal/runtime/errors"
)

// CommitToken acknowledges the source offset of one message. Commit succeeds
// at most once; later calls return ErrAlreadyCommitted.
type CommitToken interface {
	Commit() error
}

var errNacked = errors.New("restbridge: message was already nacked")

type messageToken struct {
	msg  *message.Message
	used atomic.Bool
}

// NewCommitToken returns a token that acks msg. Watermill transports commit
// the offset when the message is acked.
func NewCommitToken(msg *message.Message) CommitToken {
	return &messageToken{msg: msg}
}

func (t *messageToken) Commit() error {
	if t.msg == nil {
		return errspkg.ErrNilMessage
	}
	if !t.used.CompareAndSwap(false, true) {
		return errspkg.ErrAlreadyCommitted
	}
	if !t.msg.Ack() {
		return errNacked
	}
	return nil
}

type funcToken struct {
	fn   func() error
	used atomic.Bool
}

// CommitFunc adapts fn into a CommitToken with the same at-most-once guarantee.
func CommitFunc(fn func() error) CommitToken {
	return &funcToken{fn: fn}
}

func (t *funcToken) Commit() error {
	if !t.used.CompareAndSwap(false, true) {
		return errspkg.ErrAlreadyCommitted
	}
	if t.fn == nil {
		return nil
	}
	return t.fn()
}
