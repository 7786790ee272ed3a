package dmclient

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for calls on a closed or broken connection.
	ErrClosed = errors.New("dmclient: connection closed")
	// ErrWrongUser is returned when a call names a self other than the bound user.
	ErrWrongUser = errors.New("dmclient: transport is bound to another user")
	// ErrUnexpectedReply is returned when the reply type does not match the request.
	ErrUnexpectedReply = errors.New("dmclient: unexpected reply")
)

// RemoteError is an error envelope returned by the server.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("dm server: %s: %s", e.Code, e.Message)
}
