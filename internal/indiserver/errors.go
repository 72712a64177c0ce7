package indiserver

import "errors"

var (
	// ErrAlreadyRunning is returned by Start while a server is supervised.
	ErrAlreadyRunning = errors.New("indiserver: already running")

	// ErrStartFailed indicates the binary could not be launched or exited
	// before its port became ready.
	ErrStartFailed = errors.New("indiserver: start failed")

	// ErrNotReady indicates the port did not accept connections in time.
	ErrNotReady = errors.New("indiserver: port not ready")

	// ErrNotRunning is returned by HealthCheck when no server process is up.
	ErrNotRunning = errors.New("indiserver: not running")

	// ErrUnreachable indicates the process is up but its port refused a dial.
	ErrUnreachable = errors.New("indiserver: port unreachable")
)
