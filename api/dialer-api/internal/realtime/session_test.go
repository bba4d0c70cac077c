// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_type "github.com/voxbridgeai/api/dialer-api/internal/type"
	"github.com/voxbridgeai/pkg/commons"
)

// newFakeRealtime spins up a websocket endpoint driven by the given
// script and returns its ws:// URL.
func newFakeRealtime(t *testing.T, script func(conn *websocket.Conn, r *http.Request)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		script(conn, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDial_SendsAuthHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	url := newFakeRealtime(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header.Clone()
		conn.ReadMessage() // hold the connection open until client closes
	})

	sess, err := Dial(context.Background(), url, "sk-test", commons.NewNopLogger())
	require.NoError(t, err)
	defer sess.Close()

	got := <-headers
	assert.Equal(t, "Bearer sk-test", got.Get("Authorization"))
	assert.Equal(t, "realtime=v1", got.Get("OpenAI-Beta"))
}

func TestSession_UpdateSessionWire(t *testing.T) {
	received := make(chan []byte, 1)
	url := newFakeRealtime(t, func(conn *websocket.Conn, r *http.Request) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- msg
		conn.ReadMessage()
	})

	sess, err := Dial(context.Background(), url, "sk-test", commons.NewNopLogger())
	require.NoError(t, err)
	defer sess.Close()

	require.NoError(t, sess.UpdateSession(SessionConfig{
		Modalities:        []string{"audio", "text"},
		Instructions:      "You are a helpful phone agent.",
		Voice:             "shimmer",
		InputAudioFormat:  "g711_alaw",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &Transcription{Model: "whisper-1"},
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.3,
			PrefixPaddingMs:   500,
			SilenceDurationMs: 500,
			CreateResponse:    true,
			InterruptResponse: true,
		},
		Temperature: 0.6,
	}))

	var wire sessionUpdateEvent
	select {
	case msg := <-received:
		require.NoError(t, json.Unmarshal(msg, &wire))
	case <-time.After(2 * time.Second):
		t.Fatal("session.update never arrived")
	}

	assert.Equal(t, "session.update", wire.Type)
	assert.Equal(t, []string{"audio", "text"}, wire.Session.Modalities)
	assert.Equal(t, "shimmer", wire.Session.Voice)
	assert.Equal(t, "g711_alaw", wire.Session.InputAudioFormat)
	assert.Equal(t, "pcm16", wire.Session.OutputAudioFormat)
	require.NotNil(t, wire.Session.TurnDetection)
	assert.Equal(t, "server_vad", wire.Session.TurnDetection.Type)
	assert.True(t, wire.Session.TurnDetection.CreateResponse)
	assert.True(t, wire.Session.TurnDetection.InterruptResponse)
	require.NotNil(t, wire.Session.InputAudioTranscription)
	assert.Equal(t, "whisper-1", wire.Session.InputAudioTranscription.Model)
	assert.InDelta(t, 0.6, wire.Session.Temperature, 1e-9)
}

func TestSession_AppendAudioEncodesBase64(t *testing.T) {
	received := make(chan []byte, 1)
	url := newFakeRealtime(t, func(conn *websocket.Conn, r *http.Request) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- msg
		conn.ReadMessage()
	})

	sess, err := Dial(context.Background(), url, "sk-test", commons.NewNopLogger())
	require.NoError(t, err)
	defer sess.Close()

	payload := []byte{0x01, 0x02, 0x03, 0xFF}
	require.NoError(t, sess.AppendAudio(payload))

	var wire audioAppendEvent
	select {
	case msg := <-received:
		require.NoError(t, json.Unmarshal(msg, &wire))
	case <-time.After(2 * time.Second):
		t.Fatal("append never arrived")
	}
	assert.Equal(t, "input_audio_buffer.append", wire.Type)
	decoded, err := base64.StdEncoding.DecodeString(wire.Audio)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestSession_ReceivesEventsInOrder(t *testing.T) {
	url := newFakeRealtime(t, func(conn *websocket.Conn, r *http.Request) {
		events := []string{
			`{"type":"response.audio.delta","delta":"AQID"}`,
			`{"type":"input_audio_buffer.speech_started"}`,
			`{"type":"response.audio_transcript.delta","delta":"hel"}`,
			`{"type":"response.done"}`,
		}
		for _, ev := range events {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(ev)); err != nil {
				return
			}
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})

	sess, err := Dial(context.Background(), url, "sk-test", commons.NewNopLogger())
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(context.Background()) }()

	var got []ServerEvent
	for ev := range sess.Events() {
		got = append(got, ev)
	}

	require.Len(t, got, 4)
	assert.Equal(t, EventAudioDelta, got[0].Type)
	assert.Equal(t, "AQID", got[0].Delta)
	assert.Equal(t, EventSpeechStarted, got[1].Type)
	assert.Equal(t, EventTranscriptDelta, got[2].Type)
	assert.Equal(t, "hel", got[2].Delta)
	assert.Equal(t, EventResponseDone, got[3].Type)

	select {
	case err := <-runErr:
		assert.NoError(t, err, "normal close must end the pump cleanly")
	case <-time.After(2 * time.Second):
		t.Fatal("run never returned")
	}
}

func TestSession_ReceiveTimeout(t *testing.T) {
	url := newFakeRealtime(t, func(conn *websocket.Conn, r *http.Request) {
		conn.ReadMessage() // stay silent until the client gives up
	})

	sess, err := Dial(context.Background(), url, "sk-test", commons.NewNopLogger(),
		WithReceiveTimeout(100*time.Millisecond))
	require.NoError(t, err)

	err = sess.Run(context.Background())
	assert.ErrorIs(t, err, internal_type.ErrTimeout)
}

func TestSession_SkipsUnparseableEvents(t *testing.T) {
	url := newFakeRealtime(t, func(conn *websocket.Conn, r *http.Request) {
		conn.WriteMessage(websocket.TextMessage, []byte("not json at all"))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"no_type":"here"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.done"}`))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})

	sess, err := Dial(context.Background(), url, "sk-test", commons.NewNopLogger())
	require.NoError(t, err)

	go sess.Run(context.Background())

	var got []ServerEvent
	for ev := range sess.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 1)
	assert.Equal(t, EventResponseDone, got[0].Type)
}

func TestSession_ErrorEventCarriesDetail(t *testing.T) {
	url := newFakeRealtime(t, func(conn *websocket.Conn, r *http.Request) {
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"bad_audio","message":"unsupported format"}}`))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})

	sess, err := Dial(context.Background(), url, "sk-test", commons.NewNopLogger())
	require.NoError(t, err)
	go sess.Run(context.Background())

	ev, ok := <-sess.Events()
	require.True(t, ok)
	require.Equal(t, EventError, ev.Type)
	require.NotNil(t, ev.Error)
	assert.Contains(t, ev.Error.Describe(), "unsupported format")
	assert.Contains(t, ev.Error.Describe(), "bad_audio")
}

func TestSession_ContextCancelStopsRun(t *testing.T) {
	url := newFakeRealtime(t, func(conn *websocket.Conn, r *http.Request) {
		conn.ReadMessage()
	})

	sess, err := Dial(context.Background(), url, "sk-test", commons.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}
