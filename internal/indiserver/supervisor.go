package indiserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Status is the supervised process state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultBinary          = "indiserver"
	DefaultPort            = 7624
	DefaultRestartDelay    = 5 * time.Second
	DefaultGracefulTimeout = 5 * time.Second
	DefaultReadyTimeout    = 10 * time.Second

	readyPollInterval = 100 * time.Millisecond
	dialTimeout       = 2 * time.Second

	// maxLineLength flushes output that never ends in a newline.
	maxLineLength = 4096
)

// Config describes how indiserver is launched.
type Config struct {
	Binary string
	Port   int

	// Drivers are passed as trailing arguments, one driver per argument.
	Drivers []string

	// ExtraArgs are inserted before -p.
	ExtraArgs []string

	// Verbose adds -v.
	Verbose bool

	// Env is appended to the parent environment.
	Env []string

	RestartDelay time.Duration

	// MaxRestarts caps restarts after unexpected exits. 0 means unlimited.
	MaxRestarts int

	GracefulTimeout time.Duration
	ReadyTimeout    time.Duration
}

// Args returns the command line passed to the binary.
func (c Config) Args() []string {
	args := make([]string, 0, len(c.ExtraArgs)+len(c.Drivers)+3)
	args = append(args, c.ExtraArgs...)
	args = append(args, "-p", strconv.Itoa(c.Port))
	if c.Verbose {
		args = append(args, "-v")
	}
	return append(args, c.Drivers...)
}

// Logger defines the logging interface for the supervisor.
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

// Supervisor owns one indiserver process and restarts it on failure.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	restarts  int
	lastErr   error
	startedAt time.Time
	stopping  bool
	stopCh    chan struct{}
	done      chan struct{}
}

// New creates a supervisor. Nothing is launched until Start.
func New(cfg Config) *Supervisor {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = DefaultGracefulTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}

	return &Supervisor{
		cfg:    cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger. Call before Start.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Addr is the loopback address the server listens on.
func (s *Supervisor) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Port))
}

// Start launches indiserver and blocks until its port accepts connections.
//
// Parameters:
//   - ctx: Cancelling it stops the server and ends supervision
//
// Returns:
//   - error: ErrAlreadyRunning, ErrStartFailed, or ErrNotReady
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusStarting {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.status = StatusStarting
	s.stopping = false
	s.restarts = 0
	s.lastErr = nil
	stopCh := make(chan struct{})
	done := make(chan struct{})
	s.stopCh, s.done = stopCh, done
	s.mu.Unlock()

	cmd, err := s.launch()
	if err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastErr = err
		s.mu.Unlock()
		close(done)
		return fmt.Errorf("%w: %w", ErrStartFailed, err)
	}

	go s.supervise(ctx, cmd, stopCh, done)

	if err := s.waitReady(ctx); err != nil {
		s.Stop() //nolint:errcheck // startup already failed
		return err
	}

	s.logger.Info("indiserver ready", "addr", s.Addr(), "drivers", s.cfg.Drivers)
	return nil
}

// launch starts one process in its own process group.
func (s *Supervisor) launch() (*exec.Cmd, error) {
	args := s.cfg.Args()
	s.logger.Info("starting indiserver", "binary", s.cfg.Binary, "args", args)

	cmd := exec.Command(s.cfg.Binary, args...) //nolint:gosec // binary and drivers come from operator config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.cfg.Env != nil {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	cmd.Stdout = &lineLogger{logger: s.logger, stream: "stdout"}
	cmd.Stderr = &lineLogger{logger: s.logger, stream: "stderr"}
	// Drivers inherit the pipes; don't let a stuck child hold Wait forever.
	cmd.WaitDelay = s.cfg.GracefulTimeout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launching %s: %w", s.cfg.Binary, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("indiserver started", "pid", cmd.Process.Pid)
	return cmd, nil
}

// supervise waits on the process and restarts it until stopped, cancelled,
// or out of restart attempts.
func (s *Supervisor) supervise(ctx context.Context, cmd *exec.Cmd, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		exitErr, stopped := s.wait(ctx, stopCh, cmd)

		s.mu.Lock()
		if stopped || s.stopping {
			s.status = StatusStopped
			s.mu.Unlock()
			s.logger.Info("indiserver stopped")
			return
		}
		if exitErr == nil {
			exitErr = errors.New("exited with status 0")
		}
		s.status = StatusFailed
		s.lastErr = exitErr
		s.mu.Unlock()

		s.logger.Warn("indiserver exited unexpectedly", "error", exitErr)

		next, ok := s.restart(ctx, stopCh)
		if !ok {
			return
		}
		cmd = next
	}
}

// wait blocks until the process exits or shutdown is requested, in which
// case the process group is terminated and stopped is true.
func (s *Supervisor) wait(ctx context.Context, stopCh <-chan struct{}, cmd *exec.Cmd) (exitErr error, stopped bool) {
	exitCh := make(chan error, 1)
	go func() { exitCh <- cmd.Wait() }()

	select {
	case err := <-exitCh:
		return err, false
	case <-ctx.Done():
	case <-stopCh:
	}

	s.terminate(cmd, exitCh)
	return nil, true
}

// restart relaunches after the restart delay. It returns false when the
// supervisor should give up.
func (s *Supervisor) restart(ctx context.Context, stopCh <-chan struct{}) (*exec.Cmd, bool) {
	for {
		s.mu.Lock()
		if s.cfg.MaxRestarts > 0 && s.restarts >= s.cfg.MaxRestarts {
			s.mu.Unlock()
			s.logger.Error("indiserver restart limit reached", "restarts", s.cfg.MaxRestarts)
			return nil, false
		}
		s.restarts++
		attempt := s.restarts
		s.status = StatusStarting
		s.mu.Unlock()

		s.logger.Info("restarting indiserver", "attempt", attempt, "delay", s.cfg.RestartDelay)

		select {
		case <-ctx.Done():
			s.setStatus(StatusStopped)
			return nil, false
		case <-stopCh:
			s.setStatus(StatusStopped)
			return nil, false
		case <-time.After(s.cfg.RestartDelay):
		}

		cmd, err := s.launch()
		if err == nil {
			return cmd, true
		}

		s.logger.Error("indiserver restart failed", "attempt", attempt, "error", err)
		s.mu.Lock()
		s.status = StatusFailed
		s.lastErr = err
		s.mu.Unlock()
	}
}

// terminate sends SIGTERM to the process group, then SIGKILL after the
// graceful timeout. exitCh receives cmd.Wait's result.
func (s *Supervisor) terminate(cmd *exec.Cmd, exitCh <-chan error) {
	pid := cmd.Process.Pid
	s.logger.Info("stopping indiserver", "pid", pid)

	signalGroup(pid, syscall.SIGTERM, s.logger)
	select {
	case <-exitCh:
		return
	case <-time.After(s.cfg.GracefulTimeout):
		s.logger.Warn("indiserver ignored SIGTERM, killing", "timeout", s.cfg.GracefulTimeout)
	}

	signalGroup(pid, syscall.SIGKILL, s.logger)
	<-exitCh
}

func signalGroup(pid int, sig syscall.Signal, logger Logger) {
	// Negative pid addresses the group created by Setpgid.
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		logger.Warn("signalling indiserver process group failed", "signal", sig.String(), "error", err)
	}
}

// Stop terminates the server and waits for supervision to end.
// It is safe to call more than once.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	done := s.done
	if done == nil {
		s.mu.Unlock()
		return nil
	}
	if !s.stopping {
		s.stopping = true
		close(s.stopCh)
	}
	s.mu.Unlock()

	<-done
	return nil
}

// waitReady polls the port until it accepts, the process gives up, or the
// ready timeout passes.
func (s *Supervisor) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		if s.dial(ctx) == nil {
			return nil
		}

		if s.givenUp() {
			return fmt.Errorf("%w: %w", ErrStartFailed, s.exitCause(ctx))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after %s: %w", ErrNotReady, s.cfg.ReadyTimeout, s.exitCause(ctx))
		case <-ticker.C:
		}
	}
}

// exitCause is the last process error, else the context error.
func (s *Supervisor) exitCause(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastErr != nil {
		return s.lastErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.New("supervision ended")
}

// givenUp reports whether supervision has ended.
func (s *Supervisor) givenUp() bool {
	s.mu.RLock()
	done := s.done
	s.mu.RUnlock()
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func (s *Supervisor) dial(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.Addr())
	if err != nil {
		return err
	}
	return conn.Close()
}

// HealthCheck verifies the process is running and its port accepts.
func (s *Supervisor) HealthCheck(ctx context.Context) error {
	if s.Status() != StatusRunning {
		return ErrNotRunning
	}
	if err := s.dial(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return nil
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Status returns the current process state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Stats is a point-in-time view of the supervised process.
type Stats struct {
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current process statistics.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Status: s.status, Restarts: s.restarts}
	if s.status == StatusRunning && s.cmd != nil && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
		st.Uptime = time.Since(s.startedAt)
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// lineLogger logs process output one line at a time.
type lineLogger struct {
	logger Logger
	stream string
	buf    []byte
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineLength {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

func (w *lineLogger) emit(line []byte) {
	text := strings.TrimRight(string(line), "\r")
	if text == "" {
		return
	}
	w.logger.Debug("indiserver output", "stream", w.stream, "line", text)
}
