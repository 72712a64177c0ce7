package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/indi-panel/internal/infrastructure/config"
	"github.com/nerrad567/indi-panel/internal/infrastructure/influxdb"
)

// testConfig matches a local development InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "indipanel-dev-token",
		Org:           "indipanel",
		Bucket:        "indi",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test unless RUN_INTEGRATION is set and a server answers.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("RUN_INTEGRATION not set")
	}
	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Skip("InfluxDB not available, skipping integration test")
	}
	client.Close()
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestNumberPoints(t *testing.T) {
	ts := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	points := influxdb.NumberPoints("CCD Simulator", "CCD_TEMPERATURE", map[string]float64{
		"CCD_TEMPERATURE_VALUE": -10.5,
		"CCD_TEMPERATURE_RAMP":  2,
	}, ts)

	if len(points) != 2 {
		t.Fatalf("len(points) = %d, want 2", len(points))
	}

	lines := make([]string, 0, len(points))
	for _, p := range points {
		lines = append(lines, write.PointToLineProtocol(p, time.Second))
	}
	sort.Strings(lines)

	want := []string{
		`indi_number,device=CCD\ Simulator,element=CCD_TEMPERATURE_RAMP,property=CCD_TEMPERATURE value=2 1772398800` + "\n",
		`indi_number,device=CCD\ Simulator,element=CCD_TEMPERATURE_VALUE,property=CCD_TEMPERATURE value=-10.5 1772398800` + "\n",
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestNumberPoints_Empty(t *testing.T) {
	if got := influxdb.NumberPoints("d", "p", nil, time.Now()); len(got) != 0 {
		t.Errorf("NumberPoints(nil) = %d points, want 0", len(got))
	}
}

func TestWriteNumberVector_NotConnected(t *testing.T) {
	var client *influxdb.Client
	// Must not panic on a nil client.
	client.WriteNumberVector("d", "p", map[string]float64{"e": 1}, time.Now())
	if client.IsConnected() {
		t.Error("IsConnected() = true for nil client")
	}
}

func TestConnectWriteAndHealth(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	writeErr := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case writeErr <- err:
		default:
		}
	})

	client.WriteNumberVector("CCD Simulator", "CCD_EXPOSURE",
		map[string]float64{"CCD_EXPOSURE_VALUE": 1.5}, time.Now())
	client.Flush()

	select {
	case err := <-writeErr:
		t.Fatalf("async write error: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
