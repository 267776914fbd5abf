package rcon

import "errors"

var (
	// ErrIO wraps transport failures: refused, reset, broken pipe, deadlines.
	ErrIO = errors.New("rcon: i/o error")
	// ErrAuth means the server rejected the password. Reconnect to try again.
	ErrAuth = errors.New("rcon: authentication failed")
	// ErrNotAuthenticated is returned by Execute before a successful Authenticate.
	ErrNotAuthenticated = errors.New("rcon: not authenticated")
	// ErrClosed is returned for any operation on a closed client.
	ErrClosed = errors.New("rcon: client closed")
	// ErrProtocol covers malformed, oversized or uncorrelated frames.
	ErrProtocol = errors.New("rcon: protocol error")
)
