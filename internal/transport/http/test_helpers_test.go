package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/sanctuary/internal/auth"
	"github.com/vovakirdan/sanctuary/internal/callengine"
	"github.com/vovakirdan/sanctuary/internal/config"
	"github.com/vovakirdan/sanctuary/internal/proto"
	"github.com/vovakirdan/sanctuary/internal/relay"
	"github.com/vovakirdan/sanctuary/internal/store/sqlite"
)

type testRelay struct {
	ts    *httptest.Server
	auth  *auth.Service
	hub   *relay.Hub
	store *sqlite.SQLiteStore
	clock *clock.Mock
}

// startTestRelay runs a relay on an in-memory store. tweak may adjust the config.
func startTestRelay(t *testing.T, engine callengine.Engine, tweak func(*config.RelayConfig)) *testRelay {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	clk := clock.NewMock()
	clk.Set(time.Now().UTC())

	cfg := config.Default().Relay
	cfg.CommandsPerMinute = 0
	if tweak != nil {
		tweak(&cfg)
	}

	disabledLogger := zerolog.Nop()
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
	}, clk)

	// Tests jump the mock clock by hours; a short sweep interval would fire once per tick.
	hub := relay.NewHub(st, relay.WithClock(clk), relay.WithLogger(&disabledLogger), relay.WithSweepInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(hub, authService, st, engine, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testRelay{ts: ts, auth: authService, hub: hub, store: st, clock: clk}
}

// do sends a JSON request through the relay handler.
func (r *testRelay) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	r.ts.Config.Handler.ServeHTTP(resp, req)
	return resp
}

func (r *testRelay) create(t *testing.T, mode string) proto.CreateSanctuaryResponse {
	t.Helper()

	resp := r.do(t, http.MethodPost, "/api/sanctuaries", "", proto.CreateSanctuaryRequest{Topic: "grief", Mode: mode, DurationMinutes: 60})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var created proto.CreateSanctuaryResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return created
}

func (r *testRelay) wsURL() string {
	return strings.Replace(r.ts.URL, "http", "ws", 1) + "/ws"
}

// dial connects and sends hello without reading the answer.
func (r *testRelay) dial(t *testing.T, ctx context.Context, hello proto.HelloData) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, r.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	payload, _ := json.Marshal(hello)
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeHello, Data: payload}); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	return conn
}

// join dials, sends hello and consumes the welcome.
func (r *testRelay) join(t *testing.T, ctx context.Context, hello proto.HelloData) (*websocket.Conn, proto.WelcomeData) {
	t.Helper()

	conn := r.dial(t, ctx, hello)
	frame := readFrame(t, ctx, conn)
	if frame.Type != proto.OutboundTypeWelcome {
		t.Fatalf("expected welcome, got %+v", frame)
	}
	var welcome proto.WelcomeData
	if err := json.Unmarshal(frame.Data, &welcome); err != nil {
		t.Fatalf("decode welcome: %v", err)
	}
	return conn, welcome
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	inbound := proto.Inbound{Type: typ}
	if data != nil {
		payload, _ := json.Marshal(data)
		inbound.Data = payload
	}
	if err := wsjson.Write(ctx, conn, inbound); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.Frame {
	t.Helper()

	var frame proto.Frame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// readEvent skips frames until the named event arrives.
func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) proto.Frame {
	t.Helper()

	for {
		frame := readFrame(t, ctx, conn)
		if frame.Type == proto.OutboundTypeEvent && frame.Event == event {
			return frame
		}
	}
}

// readError skips frames until an error frame arrives.
func readError(t *testing.T, ctx context.Context, conn *websocket.Conn) *proto.Error {
	t.Helper()

	for {
		frame := readFrame(t, ctx, conn)
		if frame.Type == proto.OutboundTypeError {
			return frame.Error
		}
	}
}

// readClose reads until the relay closes the connection and returns the close status.
func readClose(t *testing.T, ctx context.Context, conn *websocket.Conn) websocket.StatusCode {
	t.Helper()

	for {
		var frame proto.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return websocket.CloseStatus(err)
		}
	}
}
