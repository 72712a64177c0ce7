package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/indi-panel/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "indipanel-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Service", Topics{}.Service(), "indipanel/service"},
		{"Status", Topics{}.Status(), "indipanel/status"},
		{"Command", Topics{}.Command(), "indipanel/command"},
		{"AllEvents", Topics{}.AllEvents(), "indipanel/event/#"},
		{"Event", Topics{}.Event("property_updated", "CCD Simulator"), "indipanel/event/property_updated/CCD_Simulator"},
		{"Event without device", Topics{}.Event("connected", ""), "indipanel/event/connected/_"},
		{"Event with wildcard chars", Topics{}.Event("message", "cam/+#1"), "indipanel/event/message/cam___1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "panel"
	cfg.Auth.Password = "secret"
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "indipanel-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "panel" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set with TLS enabled")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "indipanel-test")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatal("expected a retained will")
	}
	if opts.WillTopic != (Topics{}).Service() {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var status serviceStatus
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if status.Status != "offline" || status.Reason != "unexpected_disconnect" {
		t.Errorf("will payload = %+v", status)
	}
}

func TestServicePayloads(t *testing.T) {
	if !strings.Contains(buildOnlinePayload("x"), `"status":"online"`) {
		t.Error("online payload missing status")
	}
	if !strings.Contains(buildOfflinePayload("x"), `"reason":"graceful_shutdown"`) {
		t.Error("offline payload missing reason")
	}
}

func TestValidatePublish(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"ok", "indipanel/status", []byte("{}"), 1, nil},
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"bad qos", "t", nil, 3, ErrInvalidQoS},
		{"too large", "t", make([]byte, maxPayloadSize+1), 0, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePublish(tt.topic, tt.payload, tt.qos)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validatePublish() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnconnectedClient(t *testing.T) {
	c := &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}

	if c.IsConnected() {
		t.Error("IsConnected() = true for a client that never connected")
	}
	if err := c.Publish("indipanel/status", []byte("{}"), 1, true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe(Topics{}.Command(), 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
