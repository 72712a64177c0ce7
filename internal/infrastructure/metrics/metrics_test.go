package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/indi-panel/internal/indi"
)

var _ indi.Instrumentation = (*Engine)(nil)

func TestEngineCounters(t *testing.T) {
	e := NewEngine()
	reg := prometheus.NewRegistry()
	if err := e.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	e.DocumentDecoded("defNumberVector")
	e.DocumentDecoded("defNumberVector")
	e.DocumentDecoded("setBLOBVector")
	e.ParseFailed()
	e.BLOBCompleted(2048)
	e.BLOBCompleted(1024)
	e.BLOBAborted()
	e.CommandSent()
	e.ConnectionChanged(true)

	if got := testutil.ToFloat64(e.DocumentsDecoded.WithLabelValues("defNumberVector")); got != 2 {
		t.Errorf("documents{defNumberVector} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(e.BLOBsCompleted); got != 2 {
		t.Errorf("blobs completed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(e.BLOBBytes); got != 3072 {
		t.Errorf("blob bytes = %v, want 3072", got)
	}
	if got := testutil.ToFloat64(e.Connected); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}

	e.ConnectionChanged(false)
	if got := testutil.ToFloat64(e.Connected); got != 0 {
		t.Errorf("connected after disconnect = %v, want 0", got)
	}

	expected := `
# HELP indipanel_indi_parse_errors_total Total number of malformed documents skipped
# TYPE indipanel_indi_parse_errors_total counter
indipanel_indi_parse_errors_total 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "indipanel_indi_parse_errors_total"); err != nil {
		t.Error(err)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := NewEngine().Register(reg); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := NewEngine().Register(reg); err == nil {
		t.Error("second Register() should fail with duplicate collectors")
	}
}
