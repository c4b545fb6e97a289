package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/scribe/internal/config"
	"github.com/ent0n29/scribe/internal/coordinator"
	"github.com/ent0n29/scribe/internal/observability"
	"github.com/ent0n29/scribe/internal/provider"
	"github.com/ent0n29/scribe/internal/recording"
	"github.com/ent0n29/scribe/internal/session"
)

var metricsSeq atomic.Int64

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("test_httpapi_%s_%d", time.Now().Format("150405"), metricsSeq.Add(1)))
}

type testServer struct {
	ts    *httptest.Server
	store recording.Store
	coord *coordinator.Coordinator
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	store := recording.NewInMemoryStore()
	metrics := newTestMetrics()
	coord, err := coordinator.New(coordinator.Options{
		Metrics:     metrics,
		Registry:    session.NewRegistry(time.Minute, 0),
		Store:       store,
		Transcriber: provider.NewMockTranscriber(),
		Summarizer:  provider.NewMockSummarizer(),
	})
	if err != nil {
		t.Fatalf("coordinator.New() error = %v", err)
	}
	srv := New(cfg, store, coord, metrics, nil, ReadyInfo{StoreMode: recording.ModeMemory, Transcriber: "mock", Summarizer: "mock"})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = coord.Shutdown(ctx)
	})
	return &testServer{ts: ts, store: store, coord: coord}
}

func (s *testServer) do(t *testing.T, method, path, user string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, s.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t, config.Config{})

	res := s.do(t, http.MethodGet, "/healthz", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	res = s.do(t, http.MethodGet, "/readyz", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var ready map[string]any
	decodeBody(t, res, &ready)
	if ready["store_mode"] != recording.ModeMemory || ready["transcriber"] != "mock" {
		t.Fatalf("unexpected readyz body: %+v", ready)
	}

	res = s.do(t, http.MethodGet, "/v1/perf/pipeline", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("perf status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestRecordingCRUD(t *testing.T) {
	s := newTestServer(t, config.Config{})

	res := s.do(t, http.MethodPost, "/recordings", "user-1", map[string]string{"title": "  Standup  "})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created createRecordingResponse
	decodeBody(t, res, &created)
	if created.ID == "" || created.Title != "Standup" || created.Status != recording.StatusRecording {
		t.Fatalf("unexpected create response: %+v", created)
	}

	res = s.do(t, http.MethodPut, "/recordings/"+created.ID, "user-1", map[string]string{"title": "Weekly sync"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	res = s.do(t, http.MethodGet, "/recordings/"+created.ID, "user-1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var got recording.Recording
	decodeBody(t, res, &got)
	if got.Title != "Weekly sync" || got.UserID != "user-1" {
		t.Fatalf("unexpected recording: %+v", got)
	}

	res = s.do(t, http.MethodGet, "/recordings", "user-1", nil)
	var list struct {
		Recordings []recording.Recording `json:"recordings"`
	}
	decodeBody(t, res, &list)
	if len(list.Recordings) != 1 {
		t.Fatalf("list len = %d, want 1", len(list.Recordings))
	}

	res = s.do(t, http.MethodDelete, "/recordings/"+created.ID, "user-1", nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
	res = s.do(t, http.MethodGet, "/recordings/"+created.ID, "user-1", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestRecordingOfAnotherUserIsNotFound(t *testing.T) {
	s := newTestServer(t, config.Config{})
	rec, err := s.store.Create(context.Background(), "owner", "private")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		res := s.do(t, method, "/recordings/"+rec.ID, "intruder", nil)
		if res.StatusCode != http.StatusNotFound {
			t.Fatalf("%s status = %d, want %d", method, res.StatusCode, http.StatusNotFound)
		}
	}
	res := s.do(t, http.MethodPut, "/recordings/"+rec.ID, "intruder", map[string]string{"title": "mine"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("put status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	res = s.do(t, http.MethodGet, "/recordings", "intruder", nil)
	var list struct {
		Recordings []recording.Recording `json:"recordings"`
	}
	decodeBody(t, res, &list)
	if len(list.Recordings) != 0 {
		t.Fatalf("intruder sees %d recordings, want 0", len(list.Recordings))
	}
}

func TestUpdateRequiresTitle(t *testing.T) {
	s := newTestServer(t, config.Config{})
	rec, _ := s.store.Create(context.Background(), anonymousUser, "x")
	res := s.do(t, http.MethodPut, "/recordings/"+rec.ID, "", map[string]string{})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dialWS(t *testing.T, s *testServer, query string, header http.Header) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	conn, res, err := websocket.DefaultDialer.Dial(u, header)
	if err != nil {
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		t.Fatalf("Dial() error = %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f wireFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return f
}

func expectFrame(t *testing.T, conn *websocket.Conn, event string, out any) {
	t.Helper()
	f := readFrame(t, conn)
	if f.Event != event {
		t.Fatalf("event = %q, want %q (data %s)", f.Event, event, f.Data)
	}
	if out != nil {
		if err := json.Unmarshal(f.Data, out); err != nil {
			t.Fatalf("decode %s data: %v", event, err)
		}
	}
}

func sendJSON(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		t.Fatalf("WriteJSON(%s) error = %v", event, err)
	}
}

func TestWebSocketRecordingRoundTrip(t *testing.T) {
	s := newTestServer(t, config.Config{})
	rec, err := s.store.Create(context.Background(), "user-1", "demo")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	conn := dialWS(t, s, "", http.Header{userHeader: []string{"user-1"}})

	for i := 0; i < 2; i++ {
		sendJSON(t, conn, "audio-chunk", map[string]any{
			"recordingId": rec.ID,
			"chunk":       []byte("audio-bytes"),
			"isFinal":     false,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"mimeType":    "audio/webm",
		})
		var ack struct {
			RecordingID string `json:"recordingId"`
			Success     bool   `json:"success"`
		}
		expectFrame(t, conn, "audio-chunk-received", &ack)
		if !ack.Success || ack.RecordingID != rec.ID {
			t.Fatalf("unexpected ack: %+v", ack)
		}
	}

	sendJSON(t, conn, "complete-recording", map[string]string{"recordingId": rec.ID})
	var status struct {
		Status string `json:"status"`
	}
	expectFrame(t, conn, "recording-status", &status)
	if status.Status != string(recording.StatusProcessing) {
		t.Fatalf("status = %q, want PROCESSING", status.Status)
	}
	expectFrame(t, conn, "transcription-update", nil)
	var done struct {
		Transcript string `json:"transcript"`
		Summary    string `json:"summary"`
	}
	expectFrame(t, conn, "recording-completed", &done)
	wantTranscript := "Mock transcript of 22 bytes of audio/webm."
	if done.Transcript != wantTranscript || done.Summary != "Summary: "+wantTranscript {
		t.Fatalf("unexpected completion: %+v", done)
	}

	res := s.do(t, http.MethodGet, "/recordings/"+rec.ID, "user-1", nil)
	var stored recording.Recording
	decodeBody(t, res, &stored)
	if stored.Status != recording.StatusCompleted || stored.Transcript == nil || *stored.Transcript != wantTranscript {
		t.Fatalf("unexpected stored recording: %+v", stored)
	}
}

func TestWebSocketCompleteThenCloseStillCompletes(t *testing.T) {
	s := newTestServer(t, config.Config{})
	for i := 0; i < 10; i++ {
		rec, err := s.store.Create(context.Background(), "user-1", "closing tab")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		conn := dialWS(t, s, "", http.Header{userHeader: []string{"user-1"}})
		sendJSON(t, conn, "audio-chunk", map[string]any{
			"recordingId": rec.ID,
			"chunk":       []byte("audio-bytes"),
			"isFinal":     true,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		})
		sendJSON(t, conn, "complete-recording", map[string]string{"recordingId": rec.ID})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()

		deadline := time.Now().Add(3 * time.Second)
		for {
			got, err := s.store.Get(context.Background(), rec.ID)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Status == recording.StatusCompleted {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("attempt %d: status = %s, want COMPLETED", i, got.Status)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestWebSocketBinaryFramesUseBoundRecording(t *testing.T) {
	s := newTestServer(t, config.Config{})
	conn := dialWS(t, s, "recordingId=rec-bin&mimeType=audio/ogg", nil)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	var ack struct {
		RecordingID string `json:"recordingId"`
		Success     bool   `json:"success"`
	}
	expectFrame(t, conn, "audio-chunk-received", &ack)
	if !ack.Success || ack.RecordingID != "rec-bin" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestWebSocketInvalidMessages(t *testing.T) {
	s := newTestServer(t, config.Config{})
	conn := dialWS(t, s, "", nil)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	var errEv struct {
		RecordingID string `json:"recordingId"`
		Error       string `json:"error"`
	}
	expectFrame(t, conn, "recording-error", &errEv)
	if errEv.Error != msgInvalidFrame {
		t.Fatalf("error = %q, want %q", errEv.Error, msgInvalidFrame)
	}

	sendJSON(t, conn, "rewind-recording", map[string]string{"recordingId": "rec-9"})
	expectFrame(t, conn, "recording-error", &errEv)
	if errEv.RecordingID != "rec-9" || errEv.Error != msgInvalidFrame {
		t.Fatalf("unexpected error event: %+v", errEv)
	}

	// Binary frames need a recording bound on the handshake.
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1}); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	expectFrame(t, conn, "recording-error", &errEv)
}

func TestWebSocketRejectsCrossOrigin(t *testing.T) {
	s := newTestServer(t, config.Config{})
	u := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws"
	_, res, err := websocket.DefaultDialer.Dial(u, http.Header{"Origin": []string{"https://evil.example"}})
	if err == nil {
		t.Fatal("Dial() succeeded, want handshake rejection")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("handshake response = %+v, want 403", res)
	}

	open := newTestServer(t, config.Config{AllowAnyOrigin: true})
	dialWS(t, open, "", http.Header{"Origin": []string{"https://evil.example"}})
}

func TestUserIDFrom(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		want   string
	}{
		{name: "header wins", header: "u-h", query: "u-q", want: "u-h"},
		{name: "query fallback", query: "u-q", want: "u-q"},
		{name: "anonymous", want: anonymousUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws?user_id="+tt.query, nil)
			if tt.header != "" {
				r.Header.Set(userHeader, tt.header)
			}
			if got := userIDFrom(r); got != tt.want {
				t.Fatalf("userIDFrom() = %q, want %q", got, tt.want)
			}
		})
	}
}
