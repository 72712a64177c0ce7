package indi

import (
	"time"
)

// Default connection settings.
const (
	DefaultPort             = 7624
	DefaultConnectTimeout   = 10 * time.Second
	DefaultReadTimeout      = time.Second
	DefaultBLOBTimeout      = 60 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultIdlePollInterval = 100 * time.Millisecond
	DefaultReadBufferSize   = 4096
	DefaultMaxBLOBSize      = 512 << 20
	DefaultImagesDir        = "images"
	DefaultAfterConnect     = time.Second
	DefaultBetweenCommands  = 200 * time.Millisecond
)

// BLOBFraming selects how BLOB payloads arrive on the wire.
type BLOBFraming string

const (
	// FramingRaw expects the payload as exactly size raw bytes immediately
	// after the setBLOBVector document.
	FramingRaw BLOBFraming = "raw"

	// FramingInline expects the standard INDI base64 payload inside oneBLOB.
	FramingInline BLOBFraming = "inline"
)

// Config holds client settings.
type Config struct {
	// Port is used when the host passed to Connect carries no port.
	Port int

	ConnectTimeout time.Duration

	// ReadTimeout is the short deadline used while waiting for documents.
	// It bounds how quickly the reader notices a disconnect.
	ReadTimeout time.Duration

	// BLOBTimeout is the relaxed per-read deadline while receiving a payload.
	BLOBTimeout time.Duration

	WriteTimeout time.Duration

	// IdlePollInterval is how often the reader checks for a new connection.
	IdlePollInterval time.Duration

	ReadBufferSize int

	// ImagesDir is the root for saved BLOBs.
	ImagesDir string

	BLOBFraming BLOBFraming

	// MaxBLOBSize caps the declared size of a received BLOB in bytes.
	// Larger vectors are dropped before any payload is buffered.
	MaxBLOBSize int

	// AutoGetProperties sends getProperties right after connecting.
	AutoGetProperties bool

	Pacing Pacing
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() Config {
	return Config{
		Port:             DefaultPort,
		ConnectTimeout:   DefaultConnectTimeout,
		ReadTimeout:      DefaultReadTimeout,
		BLOBTimeout:      DefaultBLOBTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		IdlePollInterval: DefaultIdlePollInterval,
		ReadBufferSize:   DefaultReadBufferSize,
		ImagesDir:        DefaultImagesDir,
		BLOBFraming:      FramingRaw,
		MaxBLOBSize:      DefaultMaxBLOBSize,
		Pacing: Pacing{
			AfterConnect:    DefaultAfterConnect,
			BetweenCommands: DefaultBetweenCommands,
		},
	}
}

// withDefaults fills zero fields. Pacing is left alone so tests can run
// without delays.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.BLOBTimeout <= 0 {
		c.BLOBTimeout = d.BLOBTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.IdlePollInterval <= 0 {
		c.IdlePollInterval = d.IdlePollInterval
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.ImagesDir == "" {
		c.ImagesDir = d.ImagesDir
	}
	if c.BLOBFraming == "" {
		c.BLOBFraming = d.BLOBFraming
	}
	if c.MaxBLOBSize <= 0 {
		c.MaxBLOBSize = d.MaxBLOBSize
	}
	return c
}

// Logger defines the logging interface used by the client.
// This allows injection of any logger that implements these methods.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Instrumentation receives counters from the client. The metrics package
// provides a Prometheus implementation.
type Instrumentation interface {
	DocumentDecoded(tag string)
	ParseFailed()
	BLOBCompleted(bytes int)
	BLOBAborted()
	CommandSent()
	ConnectionChanged(connected bool)
}

type noopInstrumentation struct{}

func (noopInstrumentation) DocumentDecoded(string) {}
func (noopInstrumentation) ParseFailed()           {}
func (noopInstrumentation) BLOBCompleted(int)      {}
func (noopInstrumentation) BLOBAborted()           {}
func (noopInstrumentation) CommandSent()           {}
func (noopInstrumentation) ConnectionChanged(bool) {}
