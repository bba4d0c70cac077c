// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_realtime

// =============================================================================
// Wire Events
// =============================================================================

// Outbound event types (client -> model).
const (
	eventSessionUpdate = "session.update"
	eventAudioAppend   = "input_audio_buffer.append"
)

// Inbound event types (model -> client).
const (
	EventAudioDelta           = "response.audio.delta"                             // Delta: base64 audio
	EventSpeechStarted        = "input_audio_buffer.speech_started"                // barge-in signal
	EventSpeechStopped        = "input_audio_buffer.speech_stopped"                // log only
	EventTranscriptDelta      = "response.audio_transcript.delta"                  // Delta: agent text
	EventTranscriptDone       = "response.audio_transcript.done"                   // Transcript: final agent text
	EventInputTranscriptDelta = "conversation.item.input_audio_transcription.delta"     // Delta: user text
	EventInputTranscriptDone  = "conversation.item.input_audio_transcription.completed" // Transcript: final user text
	EventResponseDone         = "response.done"
	EventError                = "error"
)

// TurnDetection configures the model-side voice activity detector.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

// Transcription selects the model used for input speech-to-text.
type Transcription struct {
	Model string `json:"model"`
}

// SessionConfig is the payload of session.update, sent once after dial.
type SessionConfig struct {
	Modalities              []string       `json:"modalities"`
	Instructions            string         `json:"instructions,omitempty"`
	Voice                   string         `json:"voice,omitempty"`
	InputAudioFormat        string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	Temperature             float64        `json:"temperature,omitempty"`
}

type sessionUpdateEvent struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

type audioAppendEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// ServerError is the body of an inbound error event.
type ServerError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ServerEvent is the decoded inbound envelope. The realtime protocol is
// flat enough that one struct covers every event this service consumes;
// fields irrelevant to a given type stay zero.
type ServerEvent struct {
	Type       string       `json:"type"`
	EventID    string       `json:"event_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	ItemID     string       `json:"item_id,omitempty"`
	ResponseID string       `json:"response_id,omitempty"`
	Error      *ServerError `json:"error,omitempty"`
}
