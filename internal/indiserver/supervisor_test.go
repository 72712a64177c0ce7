package indiserver

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "INDISERVER_TEST_HELPER"

// TestHelperProcess stands in for indiserver when re-executed by the tests.
// It listens on the -p port and behaves according to the helper mode.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnv)
	if mode == "" {
		return
	}

	if mode == "crash" {
		os.Exit(3)
	}

	port := ""
	for i, arg := range os.Args {
		if arg == "-p" && i+1 < len(os.Args) {
			port = os.Args[i+1]
		}
	}
	if mode == "stubborn" {
		signal.Ignore(syscall.SIGTERM)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:"+port)
	if err != nil {
		fmt.Fprintln(os.Stderr, "listen:", err)
		os.Exit(2)
	}
	fmt.Println("listening on", ln.Addr())

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	if mode == "flaky" {
		time.Sleep(300 * time.Millisecond)
		os.Exit(1)
	}
	select {}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func helperConfig(t *testing.T, mode string) Config {
	t.Helper()
	return Config{
		Binary:          os.Args[0],
		Port:            freePort(t),
		ExtraArgs:       []string{"-test.run=^TestHelperProcess$", "--"},
		Drivers:         []string{"indi_simulator_ccd"},
		Env:             []string{helperEnv + "=" + mode},
		RestartDelay:    20 * time.Millisecond,
		GracefulTimeout: 2 * time.Second,
		ReadyTimeout:    5 * time.Second,
	}
}

func TestConfigArgs(t *testing.T) {
	cfg := Config{
		Port:      7624,
		ExtraArgs: []string{"-m", "100"},
		Verbose:   true,
		Drivers:   []string{"indi_simulator_ccd", "indi_simulator_telescope"},
	}

	assert.Equal(t,
		[]string{"-m", "100", "-p", "7624", "-v", "indi_simulator_ccd", "indi_simulator_telescope"},
		cfg.Args())
}

func TestNew_Defaults(t *testing.T) {
	s := New(Config{})

	assert.Equal(t, DefaultBinary, s.cfg.Binary)
	assert.Equal(t, "127.0.0.1:7624", s.Addr())
	assert.Equal(t, StatusStopped, s.Status())
	assert.NoError(t, s.Stop())
	assert.ErrorIs(t, s.HealthCheck(context.Background()), ErrNotRunning)
}

func TestSupervisor_StartStop(t *testing.T) {
	s := New(helperConfig(t, "serve"))

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })

	assert.Equal(t, StatusRunning, s.Status())
	assert.NoError(t, s.HealthCheck(context.Background()))

	stats := s.Stats()
	assert.Positive(t, stats.PID)
	assert.Zero(t, stats.Restarts)

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	require.NoError(t, s.Stop())
	assert.Equal(t, StatusStopped, s.Status())
	assert.ErrorIs(t, s.HealthCheck(context.Background()), ErrNotRunning)
	assert.NoError(t, s.Stop())
}

func TestSupervisor_MissingBinary(t *testing.T) {
	s := New(Config{Binary: "/nonexistent/indiserver", Port: freePort(t)})

	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrStartFailed)
	assert.Equal(t, StatusFailed, s.Status())
	assert.NotEmpty(t, s.Stats().LastError)
	assert.NoError(t, s.Stop())
}

func TestSupervisor_ExitsBeforeReady(t *testing.T) {
	cfg := helperConfig(t, "crash")
	cfg.MaxRestarts = 1
	s := New(cfg)

	err := s.Start(context.Background())
	require.ErrorIs(t, err, ErrStartFailed)
	assert.Equal(t, 1, s.Stats().Restarts)
	assert.Equal(t, StatusFailed, s.Status())
}

func TestSupervisor_RestartsAfterCrash(t *testing.T) {
	s := New(helperConfig(t, "flaky"))

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })

	require.Eventually(t, func() bool {
		return s.Stats().Restarts >= 1 && s.Status() == StatusRunning
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.Equal(t, StatusStopped, s.Status())
}

func TestSupervisor_KillsAfterGracefulTimeout(t *testing.T) {
	cfg := helperConfig(t, "stubborn")
	cfg.GracefulTimeout = 200 * time.Millisecond
	s := New(cfg)

	require.NoError(t, s.Start(context.Background()))

	start := time.Now()
	require.NoError(t, s.Stop())
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, StatusStopped, s.Status())
}

func TestSupervisor_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(helperConfig(t, "serve"))

	require.NoError(t, s.Start(ctx))
	cancel()

	require.Eventually(t, func() bool {
		return s.Status() == StatusStopped
	}, 5*time.Second, 20*time.Millisecond)
	assert.NoError(t, s.Stop())
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Debug(_ string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == "line" {
			l.lines = append(l.lines, args[i+1].(string))
		}
	}
}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Warn(string, ...any)  {}
func (l *recordingLogger) Error(string, ...any) {}

func TestLineLogger(t *testing.T) {
	rec := &recordingLogger{}
	w := &lineLogger{logger: rec, stream: "stderr"}

	for _, chunk := range []string{"2026-03-01T21:00:00: startup\n", "Driver indi_sim", "ulator_ccd: snooping\r\n", "\n"} {
		n, err := w.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	assert.Equal(t, []string{
		"2026-03-01T21:00:00: startup",
		"Driver indi_simulator_ccd: snooping",
	}, rec.lines)
}
