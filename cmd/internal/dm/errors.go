package dm

import "errors"

var (
	// ErrInvalidInput reports a request missing a required id.
	ErrInvalidInput = errors.New("dm: invalid input")
	// ErrSelfConversation reports a message addressed to its own sender.
	ErrSelfConversation = errors.New("dm: sender and recipient are the same user")
	// ErrProfileNotFound is returned by ProfileStore for unknown users.
	ErrProfileNotFound = errors.New("dm: profile not found")
	// ErrTextTooLong reports message text over the gateway limit.
	ErrTextTooLong = errors.New("dm: message text too long")
	// ErrEmptyText reports blank message text.
	ErrEmptyText = errors.New("dm: empty message text")

	errNilStore = errors.New("dm: nil store")
)
