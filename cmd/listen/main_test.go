package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/lexiqai/listen-stream/internal/audio"
	"github.com/lexiqai/listen-stream/internal/config"
	"github.com/lexiqai/listen-stream/internal/listen"
)

func testConfig(base string) *config.Config {
	return &config.Config{
		DeepgramBaseURL:      base,
		DeepgramModel:        "nova-2",
		DeepgramLanguage:     "en",
		KeepAliveInterval:    10 * time.Second,
		ResultBufferCapacity: 1,
		FrameSize:            1024,
		RetryMaxAttempts:     3,
		RetryInitialBackoff:  1,
	}
}

// parseFlags returns a command with the stream flags parsed from args
func parseFlags(t *testing.T, args ...string) (*cobra.Command, *streamFlags) {
	t.Helper()
	flags := &streamFlags{}
	cmd := &cobra.Command{Use: "test"}
	flags.register(cmd.Flags())
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	return cmd, flags
}

func TestBuildParameters_OnlyChangedFlags(t *testing.T) {
	cmd, flags := parseFlags(t, "--interim-results=false", "--endpointing", "300", "--sample-rate", "16000")

	params, err := buildParameters(cmd, testConfig("http://localhost:8080"), flags)
	if err != nil {
		t.Fatalf("buildParameters() error = %v", err)
	}

	want := "model=nova-2&language=en&sample_rate=16000&endpointing=300&interim_results=false"
	if got := params.RawQuery(); got != want {
		t.Errorf("Expected query %q, got %q", want, got)
	}
	if params.KeepAlive() {
		t.Error("Expected keep-alive off")
	}
	if params.HasCredential() {
		t.Error("Expected no credential")
	}
}

func TestBuildParameters_ConfigFallback(t *testing.T) {
	cfg := testConfig("https://api.example.com")
	cfg.DeepgramAPIKey = "secret"
	cfg.StreamEncoding = "linear16"
	cfg.StreamSampleRate = 8000
	cfg.StreamChannels = 2
	cfg.StreamKeepAlive = true

	cmd, flags := parseFlags(t, "--model", "nova-2-phonecall", "--punctuate")
	params, err := buildParameters(cmd, cfg, flags)
	if err != nil {
		t.Fatalf("buildParameters() error = %v", err)
	}

	want := "model=nova-2-phonecall&language=en&punctuate=true&encoding=linear16&sample_rate=8000&channels=2"
	if got := params.RawQuery(); got != want {
		t.Errorf("Expected query %q, got %q", want, got)
	}
	if !params.KeepAlive() {
		t.Error("Expected keep-alive from config")
	}
	if !strings.HasPrefix(params.String(), "wss://api.example.com/v1/listen?") {
		t.Errorf("Unexpected URL %s", params.String())
	}

	cmd, flags = parseFlags(t, "--keep-alive=false", "--encoding", "mulaw")
	params, err = buildParameters(cmd, cfg, flags)
	if err != nil {
		t.Fatalf("buildParameters() error = %v", err)
	}
	if params.KeepAlive() {
		t.Error("Expected --keep-alive=false to override config")
	}
	if !strings.Contains(params.RawQuery(), "encoding=mulaw") {
		t.Errorf("Expected flag encoding to win, got %q", params.RawQuery())
	}
}

func TestBuildParameters_InvalidEndpointing(t *testing.T) {
	cmd, flags := parseFlags(t, "--endpointing", "soon")
	if _, err := buildParameters(cmd, testConfig("http://localhost"), flags); !listen.IsKind(err, listen.KindConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestIsRetryableHandshake(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unauthorized", &listen.Error{Kind: listen.KindHandshake, Err: errors.New("bad handshake"), StatusCode: 401}, false},
		{"throttled", &listen.Error{Kind: listen.KindHandshake, Err: errors.New("bad handshake"), StatusCode: 429}, true},
		{"unavailable", &listen.Error{Kind: listen.KindHandshake, Err: errors.New("bad handshake"), StatusCode: 503}, true},
		{"refused", &listen.Error{Kind: listen.KindHandshake, Err: errors.New("dial tcp: connection refused")}, true},
		{"bad host", &listen.Error{Kind: listen.KindHandshake, Err: errors.New("no such host")}, false},
		{"not a handshake", &listen.Error{Kind: listen.KindIO, Err: errors.New("connection refused")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableHandshake(tt.err); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFrameConverter(t *testing.T) {
	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw[0:], math.Float32bits(0))
	binary.LittleEndian.PutUint32(raw[4:], math.Float32bits(1))

	conv := frameConverter{format: audio.FormatF32LE}
	frame, level, err := conv.convert(raw)
	if err != nil {
		t.Fatalf("convert() error = %v", err)
	}
	if len(frame) != 4 {
		t.Errorf("Expected 4 bytes of linear16, got %d", len(frame))
	}
	if level <= 0 {
		t.Errorf("Expected positive level, got %f", level)
	}

	conv.mulaw = true
	frame, _, err = conv.convert(raw)
	if err != nil {
		t.Fatalf("convert() error = %v", err)
	}
	if len(frame) != 2 || frame[0] != 0xFF {
		t.Errorf("Expected 2 mu-law bytes starting with silence, got %v", frame)
	}

	conv = frameConverter{format: audio.FormatS16LE, inputRate: 16000, rate: 8000}
	frame, _, err = conv.convert(make([]byte, 400))
	if err != nil {
		t.Fatalf("convert() error = %v", err)
	}
	if len(frame) != 200 {
		t.Errorf("Expected resampled frame of 200 bytes, got %d", len(frame))
	}
}

func TestRelayStdin(t *testing.T) {
	source := listen.NewLiveSource()
	input := bytes.NewReader([]byte{1, 0, 2, 0, 3, 0, 4, 0, 5, 0, 6})
	go relayStdin(context.Background(), input, 4, frameConverter{format: audio.FormatS16LE}, source)

	var sizes []int
	for {
		frame, err := source.Next(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		sizes = append(sizes, len(frame))
	}

	// The trailing odd byte is not a whole sample
	want := []int{4, 4, 2}
	if len(sizes) != len(want) {
		t.Fatalf("Expected frame sizes %v, got %v", want, sizes)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("Frame %d: expected %d bytes, got %d", i, want[i], sizes[i])
		}
	}
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("device gone")
}

func TestRelayStdin_ReadError(t *testing.T) {
	source := listen.NewLiveSource()
	go relayStdin(context.Background(), failingReader{}, 4, frameConverter{format: audio.FormatS16LE}, source)

	if _, err := source.Next(context.Background()); !listen.IsKind(err, listen.KindIO) {
		t.Errorf("Expected io error, got %v", err)
	}
}

func newTranscriptionServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage && len(data) == 0 {
				break
			}
		}

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata","request_id":"req-42"}`))
		conn.WriteMessage(websocket.TextMessage, []byte("garbage"))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"start":0.5,"duration":1.25,"channel":{"alternatives":[{"transcript":"hello there","confidence":0.9}]}}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunSession_PrintsJSONLines(t *testing.T) {
	var requests atomic.Int32
	srv := newTranscriptionServer(t, &requests)
	cfg := testConfig(srv.URL)

	params, err := listen.NewParameters(cfg.DeepgramBaseURL, "", nil)
	if err != nil {
		t.Fatalf("NewParameters() error = %v", err)
	}
	source, err := listen.NewReaderSource(bytes.NewReader(make([]byte, 3000)), cfg.FrameSize, 0)
	if err != nil {
		t.Fatalf("NewReaderSource() error = %v", err)
	}

	var out bytes.Buffer
	if err := runSession(context.Background(), cfg, params, source, &out); err != nil {
		t.Fatalf("runSession() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 JSON lines, got %d: %q", len(lines), out.String())
	}

	var meta, result outputLine
	if err := json.Unmarshal([]byte(lines[0]), &meta); err != nil {
		t.Fatalf("Invalid JSON line %q: %v", lines[0], err)
	}
	if meta.Type != listen.TypeMetadata || meta.RequestID != "req-42" {
		t.Errorf("Unexpected metadata line %+v", meta)
	}
	if err := json.Unmarshal([]byte(lines[1]), &result); err != nil {
		t.Fatalf("Invalid JSON line %q: %v", lines[1], err)
	}
	if result.Transcript != "hello there" || !result.IsFinal || result.Start != 0.5 || result.Duration != 1.25 {
		t.Errorf("Unexpected result line %+v", result)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("Expected 1 handshake, got %d", got)
	}
}

func TestRunSession_HandshakeRetry(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantRequests int32
	}{
		{"unauthorized is final", http.StatusUnauthorized, 1},
		{"unavailable is retried", http.StatusServiceUnavailable, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				http.Error(w, http.StatusText(tt.status), tt.status)
			}))
			defer srv.Close()

			cfg := testConfig(srv.URL)
			params, err := listen.NewParameters(cfg.DeepgramBaseURL, "key", nil)
			if err != nil {
				t.Fatalf("NewParameters() error = %v", err)
			}

			err = runSession(context.Background(), cfg, params, listen.NewLiveSource(), io.Discard)
			if !listen.IsKind(err, listen.KindHandshake) {
				t.Errorf("Expected handshake error, got %v", err)
			}
			if got := listen.HandshakeStatus(err); got != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, got)
			}
			if got := requests.Load(); got != tt.wantRequests {
				t.Errorf("Expected %d handshakes, got %d", tt.wantRequests, got)
			}
		})
	}
}

func TestSessionReadiness(t *testing.T) {
	var current atomic.Pointer[listen.Session]
	ready, detail, err := sessionReadiness(&current)(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ready || detail != "connecting" {
		t.Errorf("Expected not ready while connecting, got %v %q", ready, detail)
	}
}

func TestMetricsMux(t *testing.T) {
	mux := newMetricsMux(func(ctx context.Context) (bool, string, error) {
		return true, "open", nil
	})

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, rec.Code)
		}
	}
}

func TestMetricsServer_StartStop(t *testing.T) {
	server := startMetricsServer("127.0.0.1:0", func(ctx context.Context) (bool, string, error) {
		return true, "open", nil
	})
	time.Sleep(20 * time.Millisecond)
	stopMetricsServer(server)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		t.Errorf("Expected server to be shut down, got %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.TrimSpace(out.String()) != version {
		t.Errorf("Expected %q, got %q", version, out.String())
	}
}
