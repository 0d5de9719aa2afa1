package messaging

import "errors"

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("messaging: broker closed")
	// ErrNotConnected is returned when the transport has no live connection.
	ErrNotConnected = errors.New("messaging: not connected")
)
