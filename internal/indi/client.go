package indi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Client maintains at most one connection to an INDI server, mirrors its
// property state into a Store, and sends commands.
//
// A single goroutine started with Run owns every read. Connect and Disconnect
// may be called from any goroutine; they hand the connection to the reader by
// assigning it under mu. The reader only applies documents while the
// connection it is reading is still the active one, so a late document from a
// replaced connection never touches the Store.
//
// Thread Safety: All exported methods are safe for concurrent use.
type Client struct {
	cfg   Config
	store *Store

	// mu guards the fields below and is held (read) while a document from the
	// active connection is applied to the Store.
	mu         sync.RWMutex
	conn       net.Conn
	host       string
	connecting bool
	lastSaved  string
	subfolder  string
	jobID      string

	// writeMu serialises writes so commands never interleave on the wire.
	writeMu sync.Mutex

	hookMu   sync.RWMutex
	logger   Logger
	notifier Notifier
	instr    Instrumentation

	running atomic.Bool
	stats   clientStats
	now     func() time.Time
}

// clientStats holds counters updated by the reader and writers.
type clientStats struct {
	documentsRx  atomic.Uint64
	parseErrors  atomic.Uint64
	blobsSaved   atomic.Uint64
	blobsAborted atomic.Uint64
	commandsTx   atomic.Uint64
	lastActivity atomic.Int64
}

// Stats is a point-in-time copy of client counters.
type Stats struct {
	Connected    bool      `json:"connected"`
	DocumentsRx  uint64    `json:"documents_rx"`
	ParseErrors  uint64    `json:"parse_errors"`
	BLOBsSaved   uint64    `json:"blobs_saved"`
	BLOBsAborted uint64    `json:"blobs_aborted"`
	CommandsTx   uint64    `json:"commands_tx"`
	LastActivity time.Time `json:"last_activity,omitzero"`
}

// ClientSnapshot is a consistent view of the client state.
type ClientSnapshot struct {
	Devices   Devices `json:"devices"`
	Connected bool    `json:"connected"`
	Host      string  `json:"host,omitempty"`

	// LastSavedArtifact is the relative path of the most recently saved BLOB,
	// or nil if none has been saved since the last imaging job started.
	LastSavedArtifact *string `json:"last_saved_artifact"`
}

// NewClient creates a disconnected client. Zero fields in cfg take defaults.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:      cfg.withDefaults(),
		store:    NewStore(),
		logger:   noopLogger{},
		notifier: noopNotifier{},
		instr:    noopInstrumentation{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.hookMu.Lock()
	c.logger = logger
	c.hookMu.Unlock()
}

// SetNotifier sets the receiver for engine events.
func (c *Client) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	c.hookMu.Lock()
	c.notifier = n
	c.hookMu.Unlock()
}

// SetInstrumentation sets the metrics sink.
func (c *Client) SetInstrumentation(in Instrumentation) {
	if in == nil {
		in = noopInstrumentation{}
	}
	c.hookMu.Lock()
	c.instr = in
	c.hookMu.Unlock()
}

func (c *Client) log() Logger {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.logger
}

func (c *Client) metrics() Instrumentation {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.instr
}

func (c *Client) notify(ev Event) {
	c.hookMu.RLock()
	n := c.notifier
	c.hookMu.RUnlock()
	n.Notify(ev)
}

// Store returns the property store. Callers must treat it as read-only.
func (c *Client) Store() *Store {
	return c.store
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Connect opens a connection to the INDI server at host.
//
// Only one connection may exist at a time: the check and the claim happen in
// one critical section, so two concurrent calls cannot both proceed. The dial
// itself runs outside the lock.
//
// Parameters:
//   - ctx: Bounds the dial
//   - host: Hostname or IP, optionally with ":port" (the configured port is used otherwise)
//
// Returns:
//   - error: ErrAlreadyConnected, or ErrConnectionFailed wrapping the dial error
func (c *Client) Connect(ctx context.Context, host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrConnectionFailed)
	}

	c.mu.Lock()
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.connecting = true
	c.mu.Unlock()

	addr := c.address(host)
	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)

	c.mu.Lock()
	c.connecting = false
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, addr, err)
	}
	c.conn = conn
	c.host = host
	c.mu.Unlock()

	c.touch()
	c.log().Info("connected to INDI server", "address", addr)
	c.metrics().ConnectionChanged(true)
	c.notify(Event{Kind: EventConnected, Timestamp: c.now(), Host: host})

	if c.cfg.AutoGetProperties {
		if err := c.SendRaw(ctx, GetPropertiesCommand()); err != nil {
			c.log().Warn("getProperties failed", "error", err)
		}
	}
	return nil
}

// address appends the configured port unless host already has one.
func (c *Client) address(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(c.cfg.Port))
}

// Disconnect closes the active connection and clears the Store.
// It is a no-op when not connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn, host := c.conn, c.host
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	c.host = ""
	c.store.Clear()
	c.mu.Unlock()

	if err := conn.Close(); err != nil {
		c.log().Debug("close after disconnect", "error", err)
	}

	c.log().Info("disconnected from INDI server", "host", host)
	c.metrics().ConnectionChanged(false)
	c.notify(Event{Kind: EventDisconnected, Timestamp: c.now(), Host: host})
	return nil
}

// IsConnected reports whether a connection is active.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// SendRaw writes command to the server verbatim.
//
// Returns:
//   - error: ErrNotConnected, ErrEmptyCommand, or ErrSendFailed wrapping the write error
func (c *Client) SendRaw(ctx context.Context, command string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}
	if strings.TrimSpace(command) == "" {
		return ErrEmptyCommand
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := c.now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if _, err := io.WriteString(conn, command); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	c.stats.commandsTx.Add(1)
	c.metrics().CommandSent()
	c.log().Debug("command sent", "bytes", len(command))
	return nil
}

// Snapshot returns the devices, connection flag and last saved artifact,
// all read under one lock.
func (c *Client) Snapshot() ClientSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := ClientSnapshot{
		Devices:   c.store.Snapshot(),
		Connected: c.conn != nil,
		Host:      c.host,
	}
	if c.lastSaved != "" {
		last := c.lastSaved
		snap.LastSavedArtifact = &last
	}
	return snap
}

// LastSavedArtifact returns the relative path of the last saved BLOB, or ""
// if none has been saved since the last imaging job started.
func (c *Client) LastSavedArtifact() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSaved
}

// Stats returns a copy of the client counters.
func (c *Client) Stats() Stats {
	s := Stats{
		Connected:    c.IsConnected(),
		DocumentsRx:  c.stats.documentsRx.Load(),
		ParseErrors:  c.stats.parseErrors.Load(),
		BLOBsSaved:   c.stats.blobsSaved.Load(),
		BLOBsAborted: c.stats.blobsAborted.Load(),
		CommandsTx:   c.stats.commandsTx.Load(),
	}
	if ns := c.stats.lastActivity.Load(); ns > 0 {
		s.LastActivity = time.Unix(0, ns)
	}
	return s
}

func (c *Client) touch() {
	c.stats.lastActivity.Store(c.now().UnixNano())
}

// StartImagingJob configures the device and starts one exposure.
//
// It clears the last saved artifact, records the output subfolder and a new
// job ID (attached to the resulting blob_saved event), then sends the
// sequence built by BuildExposureSequence with the configured pacing. The
// request returns once the exposure command is sent; the BLOB arrives later
// through the reader.
//
// Returns:
//   - string: The job ID
//   - error: ErrInvalidRequest, ErrNotConnected, or the failing step's error
func (c *Client) StartImagingJob(ctx context.Context, req ImagingRequest) (string, error) {
	if strings.TrimSpace(req.Device) == "" {
		return "", fmt.Errorf("%w: device is required", ErrInvalidRequest)
	}
	if req.Exposure < 0 {
		return "", fmt.Errorf("%w: exposure must not be negative", ErrInvalidRequest)
	}

	jobID := uuid.NewString()

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return "", ErrNotConnected
	}
	c.lastSaved = ""
	c.subfolder = req.Subfolder
	c.jobID = jobID
	c.mu.Unlock()

	cmds := BuildExposureSequence(c.store, req)
	c.log().Info("starting imaging job",
		"job_id", jobID,
		"device", req.Device,
		"exposure", req.Exposure,
		"frame_type", req.FrameType,
		"steps", len(cmds),
	)

	if err := RunSequence(ctx, c, cmds, c.cfg.Pacing); err != nil {
		c.log().Warn("imaging job aborted", "job_id", jobID, "error", err)
		return jobID, err
	}
	return jobID, nil
}

// Run is the reader loop. It polls for a connection while idle and reads
// from it while one is active, returning only when ctx is cancelled.
// Calling Run a second time while the first is running returns immediately.
func (c *Client) Run(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		c.log().Warn("reader already running")
		return
	}
	defer c.running.Store(false)

	for {
		if ctx.Err() != nil {
			return
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			if sleepContext(ctx, c.cfg.IdlePollInterval) != nil {
				return
			}
			continue
		}

		c.readConnection(ctx, conn)
	}
}

// isActive reports whether conn is still the connection in use.
func (c *Client) isActive(conn net.Conn) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn == conn
}

// readConnection reads documents from conn until it fails, is replaced, or
// ctx is cancelled, then cleans it up.
func (c *Client) readConnection(ctx context.Context, conn net.Conn) {
	defer c.cleanup(conn)

	framer := &Framer{}
	buf := make([]byte, c.cfg.ReadBufferSize)

	for {
		if ctx.Err() != nil || !c.isActive(conn) {
			return
		}

		if err := conn.SetReadDeadline(c.now().Add(c.cfg.ReadTimeout)); err != nil {
			c.log().Debug("set read deadline", "error", err)
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			c.touch()
			framer.Feed(buf[:n])
			if !c.drain(conn, framer) {
				return
			}
		}

		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, io.EOF) {
				c.log().Info("INDI server closed the connection")
			} else if c.isActive(conn) {
				c.log().Warn("INDI read failed", "error", err)
			}
			return
		}
	}
}

// drain handles every complete document in the framer.
// It returns false once conn is no longer the active connection.
func (c *Client) drain(conn net.Conn, framer *Framer) bool {
	for {
		doc, ok := framer.Next()
		if !ok {
			return true
		}
		if !c.handleDocument(conn, framer, doc) {
			return false
		}
	}
}

// handleDocument parses one document and applies it.
// It returns false if conn was replaced while applying.
func (c *Client) handleDocument(conn net.Conn, framer *Framer, doc []byte) bool {
	el, err := ParseElement(doc)
	if err != nil {
		c.stats.parseErrors.Add(1)
		c.metrics().ParseFailed()
		c.log().Warn("dropping malformed document", "error", err)
		return true
	}

	c.stats.documentsRx.Add(1)
	c.metrics().DocumentDecoded(el.Tag)

	switch el.Tag {
	case tagMessage:
		c.notify(Event{
			Kind:      EventMessage,
			Timestamp: c.now(),
			Device:    el.Device(),
			Message:   el.Attr("message"),
		})
		return true
	case tagSetBLOB:
		if !c.applyActive(conn, stripBLOBPayload(el)) {
			return false
		}
		c.receiveBLOB(conn, framer, el)
		return true
	}

	return c.applyActive(conn, el)
}

// applyActive applies el to the Store if conn is still active.
func (c *Client) applyActive(conn net.Conn, el *Element) bool {
	c.mu.RLock()
	if c.conn != conn {
		c.mu.RUnlock()
		return false
	}
	ev, applied := c.store.Apply(el)
	c.mu.RUnlock()

	if applied {
		if ev.Message != "" {
			c.log().Info("device message", "device", ev.Device, "message", ev.Message)
		}
		c.notify(ev)
	}
	return true
}

// cleanup closes conn. If conn is still the active connection it also clears
// the Store and emits disconnected; otherwise Disconnect (or a newer
// connection) has already taken over and shared state is left alone.
func (c *Client) cleanup(conn net.Conn) {
	_ = conn.Close()

	c.mu.Lock()
	active := c.conn == conn
	host := c.host
	if active {
		c.conn = nil
		c.host = ""
		c.store.Clear()
	}
	c.mu.Unlock()

	if !active {
		return
	}

	c.log().Info("connection lost", "host", host)
	c.metrics().ConnectionChanged(false)
	c.notify(Event{Kind: EventDisconnected, Timestamp: c.now(), Host: host})
}

// isTimeout reports whether err is a deadline expiry.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
