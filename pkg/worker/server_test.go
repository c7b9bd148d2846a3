package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/isopen-io/meeshy-sub000/pkg/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// testRig is a running server with one push and one subscribe connection.
type testRig struct {
	srv   *Server
	push  *websocket.Conn
	sub   *websocket.Conn
	codec wire.Codec
}

func newTestRig(t *testing.T, srv *Server) *testRig {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(func() { srv.Close() })

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	push, _, err := websocket.DefaultDialer.Dial(wsURL+"/push", nil)
	if err != nil {
		t.Fatalf("dial push: %v", err)
	}
	t.Cleanup(func() { push.Close() })
	sub, _, err := websocket.DefaultDialer.Dial(wsURL+"/subscribe", nil)
	if err != nil {
		t.Fatalf("dial subscribe: %v", err)
	}
	t.Cleanup(func() { sub.Close() })

	// The subscriber set is mutated by the server goroutine; give the
	// upgrade a moment to land before pushing tasks at it.
	time.Sleep(50 * time.Millisecond)
	return &testRig{srv: srv, push: push, sub: sub}
}

func (r *testRig) send(t *testing.T, env *wire.Envelope) {
	t.Helper()
	data, err := r.codec.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := r.push.WriteMessage(websocket.BinaryMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (r *testRig) recv(t *testing.T) *wire.Envelope {
	t.Helper()
	r.sub.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := r.sub.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	env, err := r.codec.Decode(data)
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return env
}

func TestPingAnsweredWithPong(t *testing.T) {
	srv := NewServer(Config{Logger: discardLogger()})
	rig := newTestRig(t, srv)

	env, err := wire.NewEnvelope(wire.TaskPing, "t1", wire.PingRequest{SentAt: 1234})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	rig.send(t, env)

	got := rig.recv(t)
	if wire.ParseResultType(string(got.Type)) != wire.ResultPong {
		t.Fatalf("type = %q, want pong", got.Type)
	}
	var pong wire.Pong
	if err := got.DecodePayload(&pong); err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if pong.TaskID != "t1" || pong.SentAt != 1234 {
		t.Fatalf("pong = %+v", pong)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	srv := NewServer(Config{Logger: discardLogger()})
	srv.Handle(wire.TaskTranslation, func(ctx context.Context, env *wire.Envelope, pub Publisher) error {
		out, err := wire.NewEnvelope(wire.TaskType(wire.ResultTranslationCompleted.String()), env.TaskID, wire.TranslationResult{
			TaskID:         env.TaskID,
			TargetLanguage: "fr",
			TranslatedText: "bonjour",
		})
		if err != nil {
			return err
		}
		return pub.Publish(ctx, out)
	})
	rig := newTestRig(t, srv)

	env, _ := wire.NewEnvelope(wire.TaskTranslation, "t2", wire.TranslationRequest{
		MessageID: "m1", Text: "hello", TargetLanguages: []string{"fr"},
	})
	rig.send(t, env)

	got := rig.recv(t)
	if wire.ParseResultType(string(got.Type)) != wire.ResultTranslationCompleted {
		t.Fatalf("type = %q", got.Type)
	}
	var res wire.TranslationResult
	if err := got.DecodePayload(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.TranslatedText != "bonjour" || res.TaskID != "t2" {
		t.Fatalf("result = %+v", res)
	}

	stats := srv.Stats()
	if stats.Processed[wire.TaskTranslation] != 1 {
		t.Fatalf("processed = %v", stats.Processed)
	}
}

func TestMissingHandlerPublishesError(t *testing.T) {
	srv := NewServer(Config{Logger: discardLogger()})
	rig := newTestRig(t, srv)

	env, _ := wire.NewEnvelope(wire.TaskVoiceAPI, "t3", wire.VoiceAPIRequest{Text: "hi"})
	rig.send(t, env)

	got := rig.recv(t)
	if wire.ParseResultType(string(got.Type)) != wire.ResultVoiceAPIError {
		t.Fatalf("type = %q, want voice_api_error", got.Type)
	}
	var res wire.ResultError
	if err := got.DecodePayload(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ErrorCode != wire.ErrCodeProcessingFailed {
		t.Fatalf("code = %q", res.ErrorCode)
	}
	if srv.Stats().Failed[wire.TaskVoiceAPI] != 1 {
		t.Fatalf("failed = %v", srv.Stats().Failed)
	}
}

func TestUnavailableBackendIsTransient(t *testing.T) {
	srv := NewServer(Config{Logger: discardLogger()})
	srv.Handle(wire.TaskAudioProcess, func(ctx context.Context, env *wire.Envelope, pub Publisher) error {
		return fmt.Errorf("%w: no synthesis backend", ErrUnavailable)
	})
	rig := newTestRig(t, srv)

	env, _ := wire.NewEnvelope(wire.TaskAudioProcess, "t4", wire.AudioProcessRequest{
		AttachmentID: "a1", TargetLanguages: []string{"fr"},
	})
	rig.send(t, env)

	got := rig.recv(t)
	if wire.ParseResultType(string(got.Type)) != wire.ResultAudioProcessError {
		t.Fatalf("type = %q", got.Type)
	}
	var res wire.ResultError
	if err := got.DecodePayload(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ErrorCode != wire.ErrCodePipelineUnavailable || !res.Transient {
		t.Fatalf("result = %+v, want transient pipeline_unavailable", res)
	}
}

func TestIntakeAfterCloseRejectsTask(t *testing.T) {
	srv := NewServer(Config{Logger: discardLogger()})
	srv.Handle(wire.TaskTranslation, func(ctx context.Context, env *wire.Envelope, pub Publisher) error {
		return nil
	})
	rig := newTestRig(t, srv)

	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A push reader can still be mid-message when Close lands; its intake
	// must reject the task instead of touching the closed queue.
	env, _ := wire.NewEnvelope(wire.TaskTranslation, "t7", wire.TranslationRequest{Text: "x", TargetLanguages: []string{"fr"}})
	srv.intake(env)

	got := rig.recv(t)
	if wire.ParseResultType(string(got.Type)) != wire.ResultTranslationError {
		t.Fatalf("type = %q", got.Type)
	}
	var res wire.ResultError
	if err := got.DecodePayload(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.ErrorCode != wire.ErrCodePipelineUnavailable || !res.Transient {
		t.Fatalf("result = %+v, want transient pipeline_unavailable", res)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	srv := NewServer(Config{Logger: discardLogger()})
	srv.Handle(wire.TaskTranslation, func(ctx context.Context, env *wire.Envelope, pub Publisher) error {
		panic("boom")
	})
	rig := newTestRig(t, srv)

	env, _ := wire.NewEnvelope(wire.TaskTranslation, "t5", wire.TranslationRequest{Text: "x", TargetLanguages: []string{"fr"}})
	rig.send(t, env)

	got := rig.recv(t)
	if wire.ParseResultType(string(got.Type)) != wire.ResultTranslationError {
		t.Fatalf("type = %q", got.Type)
	}
	// The server must keep serving after the panic.
	ping, _ := wire.NewEnvelope(wire.TaskPing, "t6", wire.PingRequest{})
	rig.send(t, ping)
	if wire.ParseResultType(string(rig.recv(t).Type)) != wire.ResultPong {
		t.Fatal("server dead after panic")
	}
}
