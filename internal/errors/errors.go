package errors

import (
	"errors"
	"fmt"
)

var (
	ErrUnreachable        = errors.New("daemon unreachable")
	ErrProtocol           = errors.New("malformed daemon response")
	ErrProcessSpawnFailed = errors.New("failed to start daemon process")
	ErrStartupTimeout     = errors.New("daemon did not become reachable in time")
	ErrInvalidSource      = errors.New("invalid download source")
	ErrDownloadNotFound   = errors.New("download not found")
	ErrDisconnected       = errors.New("daemon connection lost")
	ErrShuttingDown       = errors.New("shutting down")
)

// RemoteError is a fault reported by the daemon itself.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// IsRemote reports whether err carries a daemon fault.
func IsRemote(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}

// Unreachable wraps a connection level failure.
func Unreachable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Protocol wraps a decoding or envelope failure.
func Protocol(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}
