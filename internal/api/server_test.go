package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/indi-panel/internal/audit"
	"github.com/nerrad567/indi-panel/internal/auth"
	"github.com/nerrad567/indi-panel/internal/indi"
	"github.com/nerrad567/indi-panel/internal/infrastructure/config"
	"github.com/nerrad567/indi-panel/internal/infrastructure/database"
	"github.com/nerrad567/indi-panel/internal/infrastructure/logging"
	"github.com/nerrad567/indi-panel/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeEngine records calls and returns canned errors.
type fakeEngine struct {
	mu         sync.Mutex
	connected  bool
	host       string
	commands   []string
	jobs       []indi.ImagingRequest
	connectErr error
	sendErr    error
	jobErr     error
}

func (f *fakeEngine) Connect(_ context.Context, host string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.connected {
		return indi.ErrAlreadyConnected
	}
	f.connected, f.host = true, host
	return nil
}

func (f *fakeEngine) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected, f.host = false, ""
	return nil
}

func (f *fakeEngine) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeEngine) SendRaw(_ context.Context, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return indi.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.commands = append(f.commands, command)
	return nil
}

func (f *fakeEngine) StartImagingJob(_ context.Context, req indi.ImagingRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return "", indi.ErrNotConnected
	}
	if f.jobErr != nil {
		return "", f.jobErr
	}
	f.jobs = append(f.jobs, req)
	return "job-0001", nil
}

func (f *fakeEngine) Snapshot() indi.ClientSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return indi.ClientSnapshot{
		Devices: indi.Devices{
			"CCD Simulator": {
				"CCD_EXPOSURE": {Device: "CCD Simulator", Name: "CCD_EXPOSURE", Kind: indi.KindNumber, State: "Idle"},
			},
		},
		Connected: f.connected,
		Host:      f.host,
	}
}

func (f *fakeEngine) Stats() indi.Stats {
	return indi.Stats{Connected: f.IsConnected(), DocumentsRx: 3}
}

type failingChecker struct{}

func (failingChecker) HealthCheck(context.Context) error { return errors.New("broker unreachable") }

// testServer creates a Server around a fake engine. secret enables auth.
func testServer(t *testing.T, secret string) (*Server, *fakeEngine) {
	t.Helper()

	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
	engine := &fakeEngine{}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: secret, AccessTokenTTL: 15},
		},
		Logger:      log,
		Engine:      engine,
		DefaultHost: "localhost",
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv.hub = NewHub(srv.wsCfg, log)
	go srv.hub.Run(ctx)

	return srv, engine
}

func doRequest(t *testing.T, srv *Server, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) Error {
	t.Helper()
	var e Error
	if err := json.NewDecoder(rec.Body).Decode(&e); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return e
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Engine: &fakeEngine{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without engine should fail")
	}
}

func TestConnect(t *testing.T) {
	srv, engine := testServer(t, "")

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/indi/connect", `{"host":"observatory.local"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", rec.Code, rec.Body)
	}
	if engine.host != "observatory.local" {
		t.Errorf("engine host = %q", engine.host)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/indi/connect", `{"host":"other"}`, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("second connect status = %d, want 409", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != ErrCodeConflict {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeConflict)
	}
}

func TestConnect_DefaultHostAndValidation(t *testing.T) {
	srv, engine := testServer(t, "")

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/indi/connect", `{"host":"  "}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if engine.host != "localhost" {
		t.Errorf("engine host = %q, want default localhost", engine.host)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/indi/connect", `{not json`, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d, want 400", rec.Code)
	}
}

func TestConnect_TransportFailure(t *testing.T) {
	srv, engine := testServer(t, "")
	engine.connectErr = fmt.Errorf("%w: nowhere:7624: %w", indi.ErrConnectionFailed, errors.New("connection refused"))

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/indi/connect", `{"host":"nowhere"}`, "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	e := decodeError(t, rec)
	if e.Code != ErrCodeTransport || !strings.Contains(e.Message, "connection refused") {
		t.Errorf("error = %+v, want transport error carrying the cause", e)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	srv, _ := testServer(t, "")
	for range 2 {
		rec := doRequest(t, srv, http.MethodPost, "/api/v1/indi/disconnect", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	}
}

func TestCommand(t *testing.T) {
	srv, engine := testServer(t, "")

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/indi/command", `{"command":"<getProperties version=\"1.7\"/>"}`, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("not connected status = %d, want 503", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != ErrCodeNotConnected {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotConnected)
	}

	engine.connected = true
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/indi/command", `{"command":"<getProperties version=\"1.7\"/>"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(engine.commands) != 1 || engine.commands[0] != `<getProperties version="1.7"/>` {
		t.Errorf("commands = %q", engine.commands)
	}

	engine.sendErr = fmt.Errorf("%w: broken pipe", indi.ErrSendFailed)
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/indi/command", `{"command":"x"}`, "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("send failure status = %d, want 502", rec.Code)
	}
}

func TestExposure(t *testing.T) {
	srv, engine := testServer(t, "")
	engine.connected = true

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/indi/exposure",
		`{"ccd":"CCD Simulator","exposure":2.5,"frame_type":"dark","subfolder":"../night 1","iso":800}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body = %s", rec.Code, rec.Body)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["job_id"] != "job-0001" {
		t.Errorf("job_id = %v", body["job_id"])
	}

	if len(engine.jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(engine.jobs))
	}
	job := engine.jobs[0]
	if job.Device != "CCD Simulator" || job.Exposure != 2.5 || job.FrameType != "dark" {
		t.Errorf("job = %+v", job)
	}
	if job.Subfolder != "night1" {
		t.Errorf("Subfolder = %q, want sanitized night1", job.Subfolder)
	}
	if job.ISO == nil || *job.ISO != 800 {
		t.Errorf("ISO = %v, want 800", job.ISO)
	}
}

func TestExposure_Validation(t *testing.T) {
	srv, engine := testServer(t, "")
	engine.connected = true

	tests := []struct {
		name string
		body string
	}{
		{"missing ccd", `{"exposure":1}`},
		{"negative exposure", `{"ccd":"CCD Simulator","exposure":-1}`},
		{"unusable subfolder", `{"ccd":"CCD Simulator","exposure":1,"subfolder":"/.."}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, http.MethodPost, "/api/v1/indi/exposure", tt.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
	if len(engine.jobs) != 0 {
		t.Errorf("jobs started = %d, want 0", len(engine.jobs))
	}
}

func TestSanitizeSubfolder(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"", "", true},
		{"night1", "night1", true},
		{"M31 2026-03-01", "M312026-03-01", true},
		{"../../etc", "etc", true},
		{`C:\captures\flats`, "flats", true},
		{"..", "", false},
		{"***", "", false},
		{"v1.2_final", "v1.2_final", true},
	}
	for _, tt := range tests {
		got, ok := sanitizeSubfolder(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("sanitizeSubfolder(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSnapshot(t *testing.T) {
	srv, engine := testServer(t, "")
	engine.connected, engine.host = true, "localhost:7624"

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/indi/snapshot", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var snap struct {
		Devices           map[string]map[string]map[string]any `json:"devices"`
		IsConnected       bool                                  `json:"is_connected"`
		LastSavedArtifact *string                               `json:"last_saved_artifact"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.IsConnected {
		t.Error("is_connected = false")
	}
	if snap.LastSavedArtifact != nil {
		t.Errorf("last_saved_artifact = %q, want null", *snap.LastSavedArtifact)
	}
	if got := snap.Devices["CCD Simulator"]["CCD_EXPOSURE"]["state"]; got != "Idle" {
		t.Errorf("CCD_EXPOSURE state = %v", got)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, "")

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	srv.health = map[string]HealthChecker{"mqtt": failingChecker{}}
	rec = doRequest(t, srv, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded status = %d, want 503", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", body["status"])
	}
}

func TestOptionalRoutesWithoutRepositories(t *testing.T) {
	srv, _ := testServer(t, "")
	for _, path := range []string{"/api/v1/captures", "/api/v1/audit"} {
		rec := doRequest(t, srv, http.MethodGet, path, "", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, rec.Code)
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	srv, _ := testServer(t, "")
	srv.metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "indipanel_indi_connected 0\n") //nolint:errcheck // test handler
	})

	rec := doRequest(t, srv, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "indipanel_indi_connected") {
		t.Errorf("metrics = %d %q", rec.Code, rec.Body)
	}
}

func TestAuth(t *testing.T) {
	srv, engine := testServer(t, testSecret)

	viewer, err := auth.GenerateAccessToken("wall-display", auth.RoleViewer, testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	operator, err := auth.GenerateAccessToken("observer", auth.RoleOperator, testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/indi/snapshot", "", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/v1/indi/snapshot", "", "garbage", http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/api/v1/indi/snapshot", "", viewer, http.StatusOK},
		{"viewer cannot connect", http.MethodPost, "/api/v1/indi/connect", `{"host":"x"}`, viewer, http.StatusForbidden},
		{"operator connects", http.MethodPost, "/api/v1/indi/connect", `{"host":"x"}`, operator, http.StatusOK},
		{"health is public", http.MethodGet, "/api/v1/health", "", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, srv, tt.method, tt.path, tt.body, tt.token)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if engine.host != "x" {
		t.Errorf("operator connect did not reach engine")
	}
}

func TestAuditTrail(t *testing.T) {
	srv, engine := testServer(t, "")

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "api.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := db.Migrate(context.Background(), migrations.FS, "."); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	srv.auditRepo = audit.NewSQLiteRepository(db.DB)
	srv.auditCh = make(chan *audit.Entry, auditChanSize)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.drainAuditLog(ctx)
		close(done)
	}()

	doRequest(t, srv, http.MethodPost, "/api/v1/indi/connect", `{"host":"observatory"}`, "")
	engine.connected = false
	doRequest(t, srv, http.MethodPost, "/api/v1/indi/command", `{"command":"<x/>"}`, "")

	cancel()
	<-done

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/audit?limit=10", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result audit.ListResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Total != 2 {
		t.Fatalf("total = %d, want 2", result.Total)
	}

	byAction := map[string]audit.Entry{}
	for _, e := range result.Entries {
		byAction[e.Action] = e
	}
	if e := byAction[audit.ActionConnect]; e.Outcome != audit.OutcomeSuccess || e.Host != "observatory" {
		t.Errorf("connect entry = %+v", e)
	}
	if e := byAction[audit.ActionCommand]; e.Outcome != audit.OutcomeFailure || e.Details["error"] == nil {
		t.Errorf("command entry = %+v", e)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	srv, _ := testServer(t, "")
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts.URL+"/api/v1/ws")

	sub, _ := json.Marshal(WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"property_updated"}}}) //nolint:errcheck // static payload
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeResponse || msg.ID != "1" {
		t.Fatalf("subscribe response = %+v", msg)
	}

	srv.hub.Broadcast("blob_saved", indi.Event{Kind: indi.EventBLOBSaved})
	srv.hub.Broadcast("property_updated", indi.Event{Kind: indi.EventPropertyUpdated, Device: "CCD Simulator"})

	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != "property_updated" {
		t.Errorf("event = %+v, want only the subscribed channel", msg)
	}
}

func TestWebSocketControlMessages(t *testing.T) {
	srv, _ := testServer(t, "")
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	conn := dialWS(t, ts.URL+"/api/v1/ws")

	tests := []struct {
		name     string
		frame    string
		wantType string
		wantID   string
	}{
		{name: "ping", frame: `{"type":"ping","id":"p1"}`, wantType: WSTypePong, wantID: "p1"},
		{name: "unsubscribe", frame: `{"type":"unsubscribe","id":"u1","payload":{"channels":["*"]}}`, wantType: WSTypeResponse, wantID: "u1"},
		{name: "subscribe without payload", frame: `{"type":"subscribe","id":"s1"}`, wantType: WSTypeError, wantID: "s1"},
		{name: "unknown type", frame: `{"type":"reboot","id":"x1"}`, wantType: WSTypeError, wantID: "x1"},
		{name: "not json", frame: `{type`, wantType: WSTypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
				t.Fatalf("write: %v", err)
			}
			msg := readWS(t, conn)
			if msg.Type != tt.wantType || msg.ID != tt.wantID {
				t.Errorf("reply = %+v, want type %q id %q", msg, tt.wantType, tt.wantID)
			}
			if msg.Timestamp == "" {
				t.Error("reply has no timestamp")
			}
		})
	}
}

func TestWebSocketConfiguredPath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		mounted  string
		notFound string
	}{
		{name: "default", path: "", mounted: "/api/v1/ws", notFound: "/api/v1/stream"},
		{name: "custom", path: "/stream", mounted: "/api/v1/stream", notFound: "/api/v1/ws"},
		{name: "no leading slash", path: "live", mounted: "/api/v1/live", notFound: "/api/v1/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, testSecret)
			srv.wsCfg.Path = tt.path
			ts := httptest.NewServer(srv.buildRouter())
			t.Cleanup(ts.Close)

			for path, want := range map[string]int{
				tt.mounted:  http.StatusUnauthorized,
				tt.notFound: http.StatusNotFound,
			} {
				resp, err := http.Get(ts.URL + path)
				if err != nil {
					t.Fatal(err)
				}
				resp.Body.Close()
				if resp.StatusCode != want {
					t.Errorf("GET %s = %d, want %d", path, resp.StatusCode, want)
				}
			}
		})
	}
}

func TestWebSocketTicket(t *testing.T) {
	srv, _ := testServer(t, testSecret)
	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v1/ws")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("ws without ticket = %d, want 401", resp.StatusCode)
	}

	token, err := auth.GenerateAccessToken("wall-display", auth.RoleViewer, testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/auth/ws-ticket", bytes.NewReader(nil)) //nolint:errcheck // static request
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var ticket struct {
		Ticket string `json:"ticket"`
	}
	err = json.NewDecoder(resp.Body).Decode(&ticket)
	resp.Body.Close()
	if err != nil || ticket.Ticket == "" {
		t.Fatalf("ticket response err=%v ticket=%q", err, ticket.Ticket)
	}

	conn := dialWS(t, ts.URL+"/api/v1/ws?ticket="+ticket.Ticket)
	conn.Close()

	// Tickets are single-use.
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket.Ticket
	_, resp, err = websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("reusing a ticket should fail")
	}
	if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("reused ticket status = %d, want 401", resp.StatusCode)
	}
}

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("websocket read: %v", err)
	}
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("websocket decode: %v", err)
	}
	return msg
}
