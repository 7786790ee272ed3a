package convcache

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed is matched by every *FetchError.
	ErrFetchFailed = errors.New("history fetch failed")

	// ErrSendFailed is matched by every *SendError.
	ErrSendFailed = errors.New("message send failed")

	// ErrForeignMessage is returned when a message does not involve the local user.
	ErrForeignMessage = errors.New("message does not involve the local user")

	// ErrEmptyPeer is returned when an operation is given an empty peer id.
	ErrEmptyPeer = errors.New("empty peer id")

	// ErrUnsupported is returned when the transport lacks an optional capability.
	ErrUnsupported = errors.New("operation not supported by transport")
)

// FetchError reports a failed history fetch for one peer.
// The entry has already been rolled back to NeverFetched when it is returned.
type FetchError struct {
	Peer string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: peer=%s: %v", ErrFetchFailed.Error(), e.Peer, e.Err)
}

func (e *FetchError) Unwrap() []error { return []error{ErrFetchFailed, e.Err} }

// SendError reports a failed send. No message was appended.
type SendError struct {
	Peer string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: peer=%s: %v", ErrSendFailed.Error(), e.Peer, e.Err)
}

func (e *SendError) Unwrap() []error { return []error{ErrSendFailed, e.Err} }
